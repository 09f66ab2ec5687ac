package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPredicates(t *testing.T) {
	cases := []struct {
		pred ImportPredicate
		in   string
		want bool
	}{
		{InternalImportForbidden, "labcore/internal/catalog", true},
		{InternalImportForbidden, "labcore/pkg/domain", false},
		{InfraImportForbidden, "labcore/internal/infra/persistence/memory", true},
		{InfraImportForbidden, "labcore/internal/indexing", false},
		{DriverImportForbidden, "database/sql", true},
		{DriverImportForbidden, "database/sql/driver", true},
		{DriverImportForbidden, "github.com/aws/aws-sdk-go-v2/service/s3", true},
		{DriverImportForbidden, "github.com/jackc/pgx/v5/stdlib", true},
		{DriverImportForbidden, "github.com/google/uuid", false},
		{AnyOf(InfraImportForbidden, DriverImportForbidden), "modernc.org/sqlite", true},
		{AnyOf(), "modernc.org/sqlite", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Fatalf("predicate(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	src := "package x\n\nimport (\n\t\"database/sql\"\n\t\"fmt\"\n)\n\nvar _ = fmt.Sprint\nvar _ *sql.DB\n"
	if err := os.WriteFile(filepath.Join(dir, "x.go"), []byte(src), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	testSrc := "package x\n\nimport _ \"modernc.org/sqlite\"\n"
	if err := os.WriteFile(filepath.Join(dir, "x_test.go"), []byte(testSrc), 0o600); err != nil {
		t.Fatalf("write test: %v", err)
	}
	viols, err := directImportViolations(dir, DriverImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "database/sql (in x.go)" {
		t.Fatalf("violations: %v", viols)
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), DriverImportForbidden); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestAssertNoDirectImportsPassesCleanDir(t *testing.T) {
	AssertNoDirectImports(t, t.TempDir(), InternalImportForbidden, "empty dir")
}
