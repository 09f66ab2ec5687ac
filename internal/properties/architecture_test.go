package properties

import (
	"testing"

	"labcore/testutil"
)

func TestNoConcreteBackends(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.AnyOf(testutil.InfraImportForbidden, testutil.DriverImportForbidden),
		"value resolution is storage agnostic")
}
