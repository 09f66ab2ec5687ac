package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValueKind tags the populated slot of a PropertyValue.
type ValueKind string

// Property value kinds.
const (
	ValueNone     ValueKind = ""
	ValuePlain    ValueKind = "plain"
	ValueTerm     ValueKind = "term"
	ValueMaterial ValueKind = "material"
)

// VocabularyTermRef points at a term inside a vocabulary.
type VocabularyTermRef struct {
	VocabularyCode string `json:"vocabulary"`
	TermID         string `json:"term_id,omitempty"`
	Code           string `json:"code"`
}

// MaterialRef identifies a material by code within its type.
type MaterialRef struct {
	Code     string `json:"code"`
	TypeCode string `json:"type"`
}

// String renders "CODE (TYPE)".
func (m MaterialRef) String() string {
	if m.TypeCode == "" {
		return m.Code
	}
	return fmt.Sprintf("%s (%s)", m.Code, m.TypeCode)
}

// ParseMaterialRef parses "CODE (TYPE)" or a bare "CODE".
func ParseMaterialRef(value string) (MaterialRef, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return MaterialRef{}, false
	}
	open := strings.Index(value, "(")
	if open < 0 {
		if strings.Contains(value, ")") {
			return MaterialRef{}, false
		}
		return MaterialRef{Code: NormalizeCode(value)}, true
	}
	if !strings.HasSuffix(value, ")") {
		return MaterialRef{}, false
	}
	code := NormalizeCode(value[:open])
	typeCode := NormalizeCode(value[open+1 : len(value)-1])
	if code == "" || typeCode == "" {
		return MaterialRef{}, false
	}
	return MaterialRef{Code: code, TypeCode: typeCode}, true
}

// PropertyValue holds exactly one of a plain string, a vocabulary term
// reference or a material reference. The zero value holds nothing.
type PropertyValue struct {
	kind     ValueKind
	plain    string
	term     VocabularyTermRef
	material MaterialRef
}

// PlainValue stores s verbatim.
func PlainValue(s string) PropertyValue { return PropertyValue{kind: ValuePlain, plain: s} }

// TermValue stores a vocabulary term reference.
func TermValue(ref VocabularyTermRef) PropertyValue {
	return PropertyValue{kind: ValueTerm, term: ref}
}

// MaterialValue stores a material reference.
func MaterialValue(ref MaterialRef) PropertyValue {
	return PropertyValue{kind: ValueMaterial, material: ref}
}

// NewUntypedValue builds a value from the untyped pair used by callers that
// only know a string and an optional term. A term requires a non-nil value
// equal to the term code; the plain slot is never populated alongside it.
func NewUntypedValue(value *string, term *VocabularyTermRef) (PropertyValue, error) {
	if term != nil {
		if value == nil {
			return PropertyValue{}, fmt.Errorf("vocabulary term %s supplied without a value", term.Code)
		}
		if NormalizeCode(*value) != term.Code {
			return PropertyValue{}, fmt.Errorf("value %q does not match vocabulary term %s", *value, term.Code)
		}
		return TermValue(*term), nil
	}
	if value == nil {
		return PropertyValue{}, nil
	}
	return PlainValue(*value), nil
}

// Kind returns the populated slot.
func (v PropertyValue) Kind() ValueKind { return v.kind }

// IsZero reports whether no slot is populated.
func (v PropertyValue) IsZero() bool { return v.kind == ValueNone }

// Plain returns the plain string when that slot is populated.
func (v PropertyValue) Plain() (string, bool) { return v.plain, v.kind == ValuePlain }

// Term returns the term reference when that slot is populated.
func (v PropertyValue) Term() (VocabularyTermRef, bool) { return v.term, v.kind == ValueTerm }

// Material returns the material reference when that slot is populated.
func (v PropertyValue) Material() (MaterialRef, bool) { return v.material, v.kind == ValueMaterial }

// UntypedValue returns the plain string, the term code or the material identifier.
func (v PropertyValue) UntypedValue() string {
	switch v.kind {
	case ValuePlain:
		return v.plain
	case ValueTerm:
		return v.term.Code
	case ValueMaterial:
		return v.material.String()
	default:
		return ""
	}
}

// Equal compares kind and populated slot.
func (v PropertyValue) Equal(other PropertyValue) bool {
	return v == other
}

func (v PropertyValue) String() string { return v.UntypedValue() }

type propertyValueJSON struct {
	Kind     ValueKind          `json:"kind"`
	Plain    *string            `json:"plain,omitempty"`
	Term     *VocabularyTermRef `json:"term,omitempty"`
	Material *MaterialRef       `json:"material,omitempty"`
}

// MarshalJSON encodes the populated slot only.
func (v PropertyValue) MarshalJSON() ([]byte, error) {
	out := propertyValueJSON{Kind: v.kind}
	switch v.kind {
	case ValuePlain:
		out.Plain = &v.plain
	case ValueTerm:
		out.Term = &v.term
	case ValueMaterial:
		out.Material = &v.material
	}
	return json.Marshal(out)
}

// UnmarshalJSON rejects payloads that populate more than one slot.
func (v *PropertyValue) UnmarshalJSON(data []byte) error {
	var in propertyValueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	populated := 0
	for _, set := range []bool{in.Plain != nil, in.Term != nil, in.Material != nil} {
		if set {
			populated++
		}
	}
	if populated > 1 {
		return fmt.Errorf("property value populates %d slots", populated)
	}
	switch in.Kind {
	case ValueNone:
		*v = PropertyValue{}
	case ValuePlain:
		if in.Plain == nil {
			return fmt.Errorf("plain property value missing")
		}
		*v = PlainValue(*in.Plain)
	case ValueTerm:
		if in.Term == nil {
			return fmt.Errorf("term property value missing")
		}
		*v = TermValue(*in.Term)
	case ValueMaterial:
		if in.Material == nil {
			return fmt.Errorf("material property value missing")
		}
		*v = MaterialValue(*in.Material)
	default:
		return fmt.Errorf("unknown property value kind %q", in.Kind)
	}
	return nil
}

// EntityProperty attaches a value to an entity through an assignment.
type EntityProperty struct {
	AssignmentID     string        `json:"assignment_id"`
	PropertyTypeCode string        `json:"property_type_code"`
	Value            PropertyValue `json:"value"`
}

// UntypedValue returns the value rendered as a string.
func (p EntityProperty) UntypedValue() string { return p.Value.UntypedValue() }

// SetUntypedValue replaces the value from an untyped pair; see NewUntypedValue.
func (p *EntityProperty) SetUntypedValue(value *string, term *VocabularyTermRef) error {
	v, err := NewUntypedValue(value, term)
	if err != nil {
		return err
	}
	p.Value = v
	return nil
}

// FindProperty returns the property with the given qualified code.
func FindProperty(props []EntityProperty, code string) (EntityProperty, bool) {
	for _, p := range props {
		if p.PropertyTypeCode == code {
			return p, true
		}
	}
	return EntityProperty{}, false
}
