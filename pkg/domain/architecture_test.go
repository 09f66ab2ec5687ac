package domain

import (
	"testing"

	"labcore/testutil"
)

// TestDomainDoesNotImportInternal keeps the domain layer free of internal
// implementation packages and storage drivers; stores, catalog and registrar
// depend on domain, never the reverse.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.AnyOf(testutil.InternalImportForbidden, testutil.DriverImportForbidden),
		"domain must stay backend agnostic")
}
