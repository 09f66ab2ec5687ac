package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"labcore/pkg/domain"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c := New(WithIDGenerator(sequentialIDs()))
	if _, err := c.DefineVocabulary(domain.Vocabulary{Code: "COLOR", Terms: []domain.VocabularyTerm{{Code: "red"}, {Code: "BLUE"}}}); err != nil {
		t.Fatalf("define vocabulary: %v", err)
	}
	if _, err := c.DefineEntityType(domain.KindSample, "CELL", ""); err != nil {
		t.Fatalf("define entity type: %v", err)
	}
	if _, err := c.DefineEntityType(domain.KindMaterial, "GENE", ""); err != nil {
		t.Fatalf("define material type: %v", err)
	}
	return c
}

func TestDefineVocabularyAssignsTermIdentity(t *testing.T) {
	c := newTestCatalog(t)
	v, err := c.LookupVocabulary("color")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(v.Terms) != 2 || v.Terms[0].Code != "RED" || v.Terms[0].Ordinal != 1 || v.Terms[1].Ordinal != 2 {
		t.Fatalf("unexpected terms: %+v", v.Terms)
	}
	if v.Terms[0].ID == "" || v.Terms[0].ID == v.Terms[1].ID {
		t.Fatalf("term ids not assigned: %+v", v.Terms)
	}
	if _, err := c.AddVocabularyTerm("COLOR", domain.VocabularyTerm{Code: "RED"}); !errors.Is(err, domain.ErrInvalidDefinition) {
		t.Fatalf("expected duplicate term rejection, got %v", err)
	}
	term, err := c.AddVocabularyTerm("COLOR", domain.VocabularyTerm{Code: "GREEN"})
	if err != nil || term.Ordinal != 3 {
		t.Fatalf("add term: %+v %v", term, err)
	}
	if _, err := c.AddVocabularyTerm("SHAPE", domain.VocabularyTerm{Code: "ROUND"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := c.DefineVocabulary(domain.Vocabulary{Code: "COLOR"}); !errors.Is(err, domain.ErrInvalidDefinition) {
		t.Fatalf("expected duplicate vocabulary rejection, got %v", err)
	}
}

func TestDefinePropertyTypeRules(t *testing.T) {
	cases := []struct {
		name string
		def  domain.PropertyType
		ok   bool
	}{
		{"varchar", domain.PropertyType{Code: "NAME", DataType: domain.DataTypeVarchar}, true},
		{"vocabulary", domain.PropertyType{Code: "COLOR", DataType: domain.DataTypeControlledVocabulary, VocabularyCode: "COLOR"}, true},
		{"material any type", domain.PropertyType{Code: "ANY_MATERIAL", DataType: domain.DataTypeMaterial}, true},
		{"material bound", domain.PropertyType{Code: "GENE_REF", DataType: domain.DataTypeMaterial, MaterialTypeCode: "GENE"}, true},
		{"xml with schema", domain.PropertyType{Code: "DOC", DataType: domain.DataTypeXML, XMLSchema: "<xs:schema/>"}, true},
		{"both bindings", domain.PropertyType{Code: "BAD1", DataType: domain.DataTypeControlledVocabulary, VocabularyCode: "COLOR", MaterialTypeCode: "GENE"}, false},
		{"vocabulary missing", domain.PropertyType{Code: "BAD2", DataType: domain.DataTypeControlledVocabulary}, false},
		{"vocabulary unknown", domain.PropertyType{Code: "BAD3", DataType: domain.DataTypeControlledVocabulary, VocabularyCode: "SHAPE"}, false},
		{"vocabulary on varchar", domain.PropertyType{Code: "BAD4", DataType: domain.DataTypeVarchar, VocabularyCode: "COLOR"}, false},
		{"material type on integer", domain.PropertyType{Code: "BAD5", DataType: domain.DataTypeInteger, MaterialTypeCode: "GENE"}, false},
		{"material type unknown", domain.PropertyType{Code: "BAD6", DataType: domain.DataTypeMaterial, MaterialTypeCode: "VIRUS"}, false},
		{"malformed code", domain.PropertyType{Code: "bad code", DataType: domain.DataTypeVarchar}, false},
		{"unknown data type", domain.PropertyType{Code: "BAD7", DataType: "BLOB"}, false},
		{"schema on varchar", domain.PropertyType{Code: "BAD8", DataType: domain.DataTypeVarchar, XMLSchema: "<x/>"}, false},
	}
	c := newTestCatalog(t)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.DefinePropertyType(tc.def)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, domain.ErrInvalidDefinition) {
				t.Fatalf("expected InvalidDefinition, got %v", err)
			}
		})
	}
	if _, err := c.DefinePropertyType(domain.PropertyType{Code: "NAME", DataType: domain.DataTypeVarchar}); !errors.Is(err, domain.ErrInvalidDefinition) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestPropertyTypeNamespaces(t *testing.T) {
	c := newTestCatalog(t)
	if _, err := c.DefinePropertyType(domain.PropertyType{Code: "NAME", DataType: domain.DataTypeVarchar}); err != nil {
		t.Fatalf("define user: %v", err)
	}
	internal, err := c.DefinePropertyType(domain.PropertyType{Code: "$NAME", DataType: domain.DataTypeVarchar})
	if err != nil {
		t.Fatalf("define internal: %v", err)
	}
	if !internal.InternalNamespace || internal.Code != "NAME" {
		t.Fatalf("namespace not folded: %+v", internal)
	}
	got, err := c.LookupPropertyType("$name")
	if err != nil || !got.InternalNamespace {
		t.Fatalf("lookup internal: %+v %v", got, err)
	}
	got, err = c.LookupPropertyType("NAME")
	if err != nil || got.InternalNamespace {
		t.Fatalf("lookup user: %+v %v", got, err)
	}
	if _, err := c.LookupPropertyType("MISSING"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

type fixedUsage map[string]int

func (u fixedUsage) CountPropertyValues(_ context.Context, a domain.Assignment) (int, error) {
	return u[a.ID], nil
}

type failingUsage struct{}

func (failingUsage) CountPropertyValues(context.Context, domain.Assignment) (int, error) {
	return 0, errors.New("store offline")
}

func TestAssignmentLifecycle(t *testing.T) {
	c := newTestCatalog(t)
	for _, code := range []string{"NAME", "SIZE", "NOTES"} {
		if _, err := c.DefinePropertyType(domain.PropertyType{Code: code, DataType: domain.DataTypeVarchar}); err != nil {
			t.Fatalf("define %s: %v", code, err)
		}
	}
	name, err := c.Assign(AssignRequest{Kind: domain.KindSample, EntityType: "CELL", PropertyType: "NAME", Mandatory: true})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	for _, code := range []string{"SIZE", "NOTES"} {
		if _, err := c.Assign(AssignRequest{Kind: domain.KindSample, EntityType: "cell", PropertyType: code}); err != nil {
			t.Fatalf("assign %s: %v", code, err)
		}
	}
	if _, err := c.Assign(AssignRequest{Kind: domain.KindSample, EntityType: "CELL", PropertyType: "NAME"}); !errors.Is(err, domain.ErrDuplicateAssignment) {
		t.Fatalf("expected DuplicateAssignment, got %v", err)
	}
	if _, err := c.Assign(AssignRequest{Kind: domain.KindExperiment, EntityType: "CELL", PropertyType: "NAME"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound for entity type of another kind, got %v", err)
	}
	if _, err := c.Assign(AssignRequest{Kind: domain.KindSample, EntityType: "CELL", PropertyType: "WEIGHT"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound for property type, got %v", err)
	}

	got := c.AssignmentsFor(domain.KindSample, "CELL")
	if order := fmt.Sprint(codesOf(got)); order != "[NAME SIZE NOTES]" {
		t.Fatalf("registration order lost: %s", order)
	}

	ctx := context.Background()
	if err := c.Unassign(ctx, domain.KindSample, "CELL", "NAME", fixedUsage{name.ID: 2}); !errors.Is(err, domain.ErrInUse) {
		t.Fatalf("expected InUse, got %v", err)
	}
	if err := c.Unassign(ctx, domain.KindSample, "CELL", "NAME", failingUsage{}); err == nil || errors.Is(err, domain.ErrInUse) {
		t.Fatalf("expected counter failure, got %v", err)
	}
	if err := c.Unassign(ctx, domain.KindSample, "CELL", "SIZE", fixedUsage{}); err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if err := c.Unassign(ctx, domain.KindSample, "CELL", "SIZE", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound on second unassign, got %v", err)
	}
	if _, err := c.Assign(AssignRequest{Kind: domain.KindSample, EntityType: "CELL", PropertyType: "SIZE"}); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	got = c.AssignmentsFor(domain.KindSample, "CELL")
	if order := fmt.Sprint(codesOf(got)); order != "[NAME NOTES SIZE]" {
		t.Fatalf("unexpected order after reassign: %s", order)
	}
	if got[2].Ordinal <= got[1].Ordinal {
		t.Fatalf("ordinals must stay increasing: %+v", got)
	}
}

func TestSnapshotsAreImmutable(t *testing.T) {
	c := newTestCatalog(t)
	before := c.Snapshot()
	if _, err := c.DefinePropertyType(domain.PropertyType{Code: "NAME", DataType: domain.DataTypeVarchar}); err != nil {
		t.Fatalf("define: %v", err)
	}
	after := c.Snapshot()
	if after.Version() != before.Version()+1 {
		t.Fatalf("version did not advance: %d -> %d", before.Version(), after.Version())
	}
	if _, ok := before.PropertyType("NAME"); ok {
		t.Fatalf("older snapshot must not observe later definitions")
	}
	if _, ok := after.PropertyType("NAME"); !ok {
		t.Fatalf("new snapshot misses definition")
	}
	v, _ := after.Vocabulary("COLOR")
	v.Terms[0].Code = "MUTATED"
	if again, _ := after.Vocabulary("COLOR"); again.Terms[0].Code != "RED" {
		t.Fatalf("vocabulary leaked internal state")
	}

	failed := c.Snapshot().Version()
	if _, err := c.DefinePropertyType(domain.PropertyType{Code: "NAME", DataType: domain.DataTypeVarchar}); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if c.Snapshot().Version() != failed {
		t.Fatalf("failed mutation must not publish a snapshot")
	}
}

func TestDefineEntityTypeRejectsUntypedKinds(t *testing.T) {
	c := New()
	if _, err := c.DefineEntityType(domain.KindSpace, "LAB", ""); !errors.Is(err, domain.ErrInvalidDefinition) {
		t.Fatalf("expected InvalidDefinition, got %v", err)
	}
	if _, err := c.DefineEntityType(domain.KindDataSet, "RAW DATA", ""); !errors.Is(err, domain.ErrInvalidDefinition) {
		t.Fatalf("expected malformed code error, got %v", err)
	}
	if _, err := c.DefineEntityType(domain.KindDataSet, "raw_data", ""); err != nil {
		t.Fatalf("define: %v", err)
	}
	if types := c.Snapshot().EntityTypes(domain.KindDataSet); len(types) != 1 || types[0].Code != "RAW_DATA" {
		t.Fatalf("unexpected types: %+v", types)
	}
}

func codesOf(assignments []domain.Assignment) []string {
	out := make([]string, len(assignments))
	for i, a := range assignments {
		out[i] = a.QualifiedPropertyCode()
	}
	return out
}
