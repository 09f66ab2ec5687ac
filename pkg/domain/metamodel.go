package domain

import "fmt"

// DataType is the primitive type underlying a property type.
type DataType string

// Supported property data types.
const (
	DataTypeVarchar              DataType = "VARCHAR"
	DataTypeInteger              DataType = "INTEGER"
	DataTypeReal                 DataType = "REAL"
	DataTypeBoolean              DataType = "BOOLEAN"
	DataTypeTimestamp            DataType = "TIMESTAMP"
	DataTypeControlledVocabulary DataType = "CONTROLLEDVOCABULARY"
	DataTypeMaterial             DataType = "MATERIAL"
	DataTypeHyperlink            DataType = "HYPERLINK"
	DataTypeMultilineVarchar     DataType = "MULTILINE_VARCHAR"
	DataTypeXML                  DataType = "XML"
)

// DataTypes lists every supported data type in declaration order.
func DataTypes() []DataType {
	return []DataType{
		DataTypeVarchar, DataTypeInteger, DataTypeReal, DataTypeBoolean, DataTypeTimestamp,
		DataTypeControlledVocabulary, DataTypeMaterial, DataTypeHyperlink,
		DataTypeMultilineVarchar, DataTypeXML,
	}
}

// Valid reports whether d is a supported data type.
func (d DataType) Valid() bool {
	for _, known := range DataTypes() {
		if d == known {
			return true
		}
	}
	return false
}

// PropertyType is a global property definition. Identity is (Code, InternalNamespace).
type PropertyType struct {
	ID                string   `json:"id" yaml:"-"`
	Code              string   `json:"code" yaml:"code"`
	InternalNamespace bool     `json:"internal_namespace" yaml:"internal_namespace"`
	DataType          DataType `json:"data_type" yaml:"data_type"`
	VocabularyCode    string   `json:"vocabulary_code,omitempty" yaml:"vocabulary,omitempty"`
	MaterialTypeCode  string   `json:"material_type_code,omitempty" yaml:"material_type,omitempty"`
	Label             string   `json:"label,omitempty" yaml:"label,omitempty"`
	Description       string   `json:"description,omitempty" yaml:"description,omitempty"`
	XMLSchema         string   `json:"xml_schema,omitempty" yaml:"xml_schema,omitempty"`
	Transformation    string   `json:"transformation,omitempty" yaml:"transformation,omitempty"`
}

// QualifiedCode returns the code with the internal namespace prefix applied.
func (p PropertyType) QualifiedCode() string { return JoinNamespace(p.Code, p.InternalNamespace) }

// SameAs compares business identity.
func (p PropertyType) SameAs(other PropertyType) bool {
	return p.Code == other.Code && p.InternalNamespace == other.InternalNamespace
}

// VocabularyTerm is one legal value of a controlled vocabulary.
type VocabularyTerm struct {
	ID          string `json:"id" yaml:"-"`
	Code        string `json:"code" yaml:"code"`
	Label       string `json:"label,omitempty" yaml:"label,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Ordinal     int    `json:"ordinal" yaml:"-"`
}

// Vocabulary owns a closed set of terms.
type Vocabulary struct {
	Code              string           `json:"code" yaml:"code"`
	Description       string           `json:"description,omitempty" yaml:"description,omitempty"`
	InternalNamespace bool             `json:"internal_namespace" yaml:"internal_namespace"`
	ManagedInternally bool             `json:"managed_internally" yaml:"managed_internally"`
	Terms             []VocabularyTerm `json:"terms" yaml:"terms"`
}

// QualifiedCode returns the code with the internal namespace prefix applied.
func (v Vocabulary) QualifiedCode() string { return JoinNamespace(v.Code, v.InternalNamespace) }

// FindTerm resolves a term by ID or by code.
func (v Vocabulary) FindTerm(identifier string) (VocabularyTerm, bool) {
	code := NormalizeCode(identifier)
	for _, term := range v.Terms {
		if term.ID == identifier || term.Code == code {
			return term, true
		}
	}
	return VocabularyTerm{}, false
}

// Clone deep-copies the vocabulary.
func (v Vocabulary) Clone() Vocabulary {
	cp := v
	cp.Terms = append([]VocabularyTerm(nil), v.Terms...)
	return cp
}

// EntityType is a user-defined subtype within an entity kind.
type EntityType struct {
	Kind        EntityKind `json:"kind" yaml:"kind"`
	Code        string     `json:"code" yaml:"code"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
}

// Key returns the kind-qualified key of the entity type.
func (t EntityType) Key() string { return EntityTypeKey(t.Kind, t.Code) }

// EntityTypeKey renders "KIND:CODE".
func EntityTypeKey(kind EntityKind, code string) string {
	return fmt.Sprintf("%s:%s", kind, code)
}

// Assignment binds a property type to an entity type.
type Assignment struct {
	ID                string     `json:"id"`
	EntityKind        EntityKind `json:"entity_kind"`
	EntityTypeCode    string     `json:"entity_type_code"`
	PropertyTypeCode  string     `json:"property_type_code"`
	InternalNamespace bool       `json:"internal_namespace"`
	Mandatory         bool       `json:"mandatory"`
	ManagedInternally bool       `json:"managed_internally"`
	Ordinal           int        `json:"ordinal"`
	Section           string     `json:"section,omitempty"`
}

// QualifiedPropertyCode returns the assigned property type code with namespace prefix.
func (a Assignment) QualifiedPropertyCode() string {
	return JoinNamespace(a.PropertyTypeCode, a.InternalNamespace)
}

// SameAs compares business identity: the (entity type, property type) pair within a kind.
func (a Assignment) SameAs(other Assignment) bool {
	return a.EntityKind == other.EntityKind &&
		a.EntityTypeCode == other.EntityTypeCode &&
		a.PropertyTypeCode == other.PropertyTypeCode &&
		a.InternalNamespace == other.InternalNamespace
}
