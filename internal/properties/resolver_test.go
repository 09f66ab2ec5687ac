package properties

import (
	"errors"
	"strings"
	"testing"

	"labcore/internal/catalog"
	"labcore/pkg/domain"
)

type materialSet []domain.Material

func (m materialSet) FindMaterial(ref domain.MaterialRef) (domain.Material, bool) {
	for _, mat := range m {
		if mat.Code == ref.Code && mat.TypeCode == ref.TypeCode {
			return mat, true
		}
	}
	return domain.Material{}, false
}

func (m materialSet) FindMaterialsByCode(code string) []domain.Material {
	var out []domain.Material
	for _, mat := range m {
		if mat.Code == code {
			out = append(out, mat)
		}
	}
	return out
}

func newCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	md, err := catalog.DecodeMasterData(strings.NewReader(`
vocabularies:
  - code: COLOR
    terms: [{code: RED}, {code: BLUE}]
entity_types:
  - kind: MATERIAL
    code: GENE
  - kind: MATERIAL
    code: VIRUS
  - kind: SAMPLE
    code: CELL
    assignments:
      - {property_type: NAME, mandatory: true}
      - {property_type: COLOR}
      - {property_type: COUNT}
      - {property_type: TARGET}
      - {property_type: ANY_MATERIAL}
      - {property_type: NOTES}
property_types:
  - {code: NAME, data_type: VARCHAR}
  - {code: COLOR, data_type: CONTROLLEDVOCABULARY, vocabulary: COLOR}
  - {code: COUNT, data_type: INTEGER}
  - {code: TARGET, data_type: MATERIAL, material_type: GENE}
  - {code: ANY_MATERIAL, data_type: MATERIAL}
  - {code: NOTES, data_type: MULTILINE_VARCHAR}
`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	c := catalog.New()
	if err := c.Apply(md); err != nil {
		t.Fatalf("apply: %v", err)
	}
	return c
}

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	materials := materialSet{
		{Base: domain.Base{Code: "GFP"}, TypeCode: "GENE"},
		{Base: domain.Base{Code: "HIV"}, TypeCode: "VIRUS"},
		{Base: domain.Base{Code: "DUP"}, TypeCode: "GENE"},
		{Base: domain.Base{Code: "DUP"}, TypeCode: "VIRUS"},
	}
	return NewResolver(newCatalog(t).Snapshot(), materials)
}

func assignment(t *testing.T, r *Resolver, code string) domain.Assignment {
	t.Helper()
	for _, a := range r.Snapshot().AssignmentsFor(domain.KindSample, "CELL") {
		if a.QualifiedPropertyCode() == code {
			return a
		}
	}
	t.Fatalf("assignment %s missing", code)
	return domain.Assignment{}
}

func TestResolveVocabularyTerm(t *testing.T) {
	r := newResolver(t)
	a := assignment(t, r, "COLOR")

	p, err := r.Resolve(a, domain.PropertyInput{Code: "COLOR", Value: "red"})
	if err != nil {
		t.Fatalf("resolve by value: %v", err)
	}
	term, ok := p.Value.Term()
	if !ok || term.Code != "RED" || term.VocabularyCode != "COLOR" || term.TermID == "" {
		t.Fatalf("unexpected term: %+v", p.Value)
	}
	if _, plain := p.Value.Plain(); plain {
		t.Fatalf("plain slot must stay empty")
	}

	byID, err := r.Resolve(a, domain.PropertyInput{Code: "COLOR", TermID: term.TermID})
	if err != nil || !byID.Value.Equal(p.Value) {
		t.Fatalf("resolve by id: %+v %v", byID, err)
	}

	_, err = r.Resolve(a, domain.PropertyInput{Code: "COLOR", Value: "GREEN"})
	if !errors.Is(err, domain.ErrUnknownTerm) {
		t.Fatalf("expected UnknownTerm, got %v", err)
	}
	var de *domain.Error
	if !errors.As(err, &de) || de.Field != "COLOR" {
		t.Fatalf("field not reported: %+v", de)
	}
	if _, err := r.Resolve(a, domain.PropertyInput{Code: "COLOR", Value: "BLUE", TermID: term.TermID}); !errors.Is(err, domain.ErrUnknownTerm) {
		t.Fatalf("expected mismatch rejection, got %v", err)
	}
}

func TestResolveMaterial(t *testing.T) {
	r := newResolver(t)
	bound := assignment(t, r, "TARGET")
	anyType := assignment(t, r, "ANY_MATERIAL")

	cases := []struct {
		name string
		a    domain.Assignment
		raw  string
		want string
		ok   bool
	}{
		{"bound qualified", bound, "GFP (GENE)", "GFP (GENE)", true},
		{"bound bare", bound, "gfp", "GFP (GENE)", true},
		{"bound wrong type", bound, "HIV (VIRUS)", "", false},
		{"bound missing", bound, "LUC", "", false},
		{"any qualified", anyType, "HIV (VIRUS)", "HIV (VIRUS)", true},
		{"any bare unique", anyType, "HIV", "HIV (VIRUS)", true},
		{"any bare ambiguous", anyType, "DUP", "", false},
		{"malformed", anyType, "GFP (", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := r.Resolve(tc.a, domain.PropertyInput{Value: tc.raw})
			if !tc.ok {
				if !errors.Is(err, domain.ErrUnknownMaterial) {
					t.Fatalf("expected UnknownMaterial, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if p.UntypedValue() != tc.want || p.Value.Kind() != domain.ValueMaterial {
				t.Fatalf("got %q (%s)", p.UntypedValue(), p.Value.Kind())
			}
		})
	}
}

func TestResolvePlainLength(t *testing.T) {
	r := newResolver(t)
	name := assignment(t, r, "NAME")
	notes := assignment(t, r, "NOTES")

	exact := strings.Repeat("é", MaxValueLength)
	p, err := r.Resolve(name, domain.PropertyInput{Value: exact})
	if err != nil || p.UntypedValue() != exact {
		t.Fatalf("value at limit must be stored verbatim: %v", err)
	}
	if _, err := r.Resolve(name, domain.PropertyInput{Value: exact + "x"}); !errors.Is(err, domain.ErrValueTooLong) {
		t.Fatalf("expected ValueTooLong, got %v", err)
	}
	long := strings.Repeat("line\n", 1000)
	if p, err := r.Resolve(notes, domain.PropertyInput{Value: long}); err != nil || p.UntypedValue() != long {
		t.Fatalf("multiline values are unbounded: %v", err)
	}
}

func TestCheckPlainLexicalForms(t *testing.T) {
	cases := []struct {
		dt    domain.DataType
		value string
		ok    bool
	}{
		{domain.DataTypeInteger, "42", true},
		{domain.DataTypeInteger, "-2147483648", true},
		{domain.DataTypeInteger, "2147483648", false},
		{domain.DataTypeInteger, "4.2", false},
		{domain.DataTypeReal, "4.2e3", true},
		{domain.DataTypeReal, "NaN", false},
		{domain.DataTypeReal, "Inf", false},
		{domain.DataTypeReal, "abc", false},
		{domain.DataTypeBoolean, "TRUE", true},
		{domain.DataTypeBoolean, "false", true},
		{domain.DataTypeBoolean, "yes", false},
		{domain.DataTypeTimestamp, "2024-03-01 10:30:00 +0100", true},
		{domain.DataTypeTimestamp, "2024-03-01 10:30:00", true},
		{domain.DataTypeTimestamp, "2024-03-01 10:30", true},
		{domain.DataTypeTimestamp, "2024-03-01", true},
		{domain.DataTypeTimestamp, "2024-03-01T10:30:00Z", true},
		{domain.DataTypeTimestamp, "01/03/2024", false},
		{domain.DataTypeHyperlink, "https://example.org/a", true},
		{domain.DataTypeHyperlink, "example.org", false},
		{domain.DataTypeXML, "<a><b/></a>", true},
		{domain.DataTypeXML, "<a><b></a>", false},
		{domain.DataTypeXML, "<a/><b/>", false},
		{domain.DataTypeXML, "plain text", false},
		{domain.DataTypeVarchar, "anything at all", true},
	}
	for _, tc := range cases {
		err := checkPlain(tc.dt, tc.value)
		if tc.ok && err != nil {
			t.Fatalf("%s %q: unexpected error %v", tc.dt, tc.value, err)
		}
		if !tc.ok && !errors.Is(err, domain.ErrTypeMismatch) {
			t.Fatalf("%s %q: expected TypeMismatch, got %v", tc.dt, tc.value, err)
		}
	}
}

func TestResolveSetMandatoryAndUnknown(t *testing.T) {
	r := newResolver(t)

	_, err := r.ResolveSet(domain.KindSample, "CELL", []domain.PropertyInput{{Code: "COLOR", Value: "RED"}}, nil)
	if !errors.Is(err, domain.ErrMissingMandatoryProperty) {
		t.Fatalf("expected MissingMandatoryProperty, got %v", err)
	}
	var de *domain.Error
	if !errors.As(err, &de) || de.Field != "NAME" {
		t.Fatalf("mandatory field not named: %+v", de)
	}

	_, err = r.ResolveSet(domain.KindSample, "CELL", []domain.PropertyInput{{Code: "NAME", Value: ""}}, nil)
	if !errors.Is(err, domain.ErrMissingMandatoryProperty) {
		t.Fatalf("empty value counts as absent, got %v", err)
	}

	_, err = r.ResolveSet(domain.KindSample, "CELL", []domain.PropertyInput{{Code: "NAME", Value: "x"}, {Code: "WEIGHT", Value: "1"}}, nil)
	if !errors.Is(err, domain.ErrUnknownReference) {
		t.Fatalf("expected UnknownReference, got %v", err)
	}

	if _, err := r.ResolveSet(domain.KindSample, "TISSUE", nil, nil); !errors.Is(err, domain.ErrUnknownReference) {
		t.Fatalf("expected UnknownReference for entity type, got %v", err)
	}
}

func TestResolveSetOrdersAndMerges(t *testing.T) {
	r := newResolver(t)
	props, err := r.ResolveSet(domain.KindSample, "cell", []domain.PropertyInput{
		{Code: "count", Value: "7"},
		{Code: "NAME", Value: "first"},
		{Code: "COLOR", Value: "blue"},
	}, nil)
	if err != nil {
		t.Fatalf("resolve set: %v", err)
	}
	if len(props) != 3 || props[0].PropertyTypeCode != "NAME" || props[1].PropertyTypeCode != "COLOR" || props[2].PropertyTypeCode != "COUNT" {
		t.Fatalf("assignment order not applied: %+v", props)
	}
	for _, p := range props {
		if p.AssignmentID == "" {
			t.Fatalf("assignment id missing: %+v", p)
		}
	}

	updated, err := r.ResolveSet(domain.KindSample, "CELL", []domain.PropertyInput{
		{Code: "NAME", Value: "second"},
		{Code: "COUNT", Value: ""},
	}, props)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated) != 2 || updated[0].UntypedValue() != "second" || updated[1].UntypedValue() != "BLUE" {
		t.Fatalf("merge result: %+v", updated)
	}
	if props[0].UntypedValue() != "first" {
		t.Fatalf("existing properties must not be mutated")
	}

	if _, err := r.ResolveSet(domain.KindSample, "CELL", []domain.PropertyInput{{Code: "NAME", Value: ""}}, props); !errors.Is(err, domain.ErrMissingMandatoryProperty) {
		t.Fatalf("clearing a mandatory value must fail, got %v", err)
	}
}
