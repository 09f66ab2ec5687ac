// Package properties turns caller-supplied raw property values into typed
// domain.PropertyValue instances, validated against one catalog snapshot.
package properties

import (
	"errors"

	"labcore/internal/catalog"
	"labcore/pkg/domain"
)

// MaterialLookup finds materials already stored or registered earlier in the
// same batch.
type MaterialLookup interface {
	FindMaterial(ref domain.MaterialRef) (domain.Material, bool)
	FindMaterialsByCode(code string) []domain.Material
}

// Resolver validates property values against a fixed catalog snapshot.
type Resolver struct {
	snapshot  *catalog.Snapshot
	materials MaterialLookup
}

// NewResolver binds a resolver to a catalog snapshot and a material source.
func NewResolver(snapshot *catalog.Snapshot, materials MaterialLookup) *Resolver {
	return &Resolver{snapshot: snapshot, materials: materials}
}

// Snapshot returns the catalog snapshot the resolver validates against.
func (r *Resolver) Snapshot() *catalog.Snapshot { return r.snapshot }

// Resolve validates one raw input for an assignment. Errors name the
// qualified property code as their field.
func (r *Resolver) Resolve(a domain.Assignment, in domain.PropertyInput) (domain.EntityProperty, error) {
	code := a.QualifiedPropertyCode()
	pt, ok := r.snapshot.PropertyType(code)
	if !ok {
		return domain.EntityProperty{}, domain.NewError(domain.KindNotFound, "property type %s", code).WithField(code)
	}
	var value domain.PropertyValue
	var err error
	switch pt.DataType {
	case domain.DataTypeControlledVocabulary:
		value, err = r.resolveTerm(pt, in)
	case domain.DataTypeMaterial:
		value, err = r.resolveMaterial(pt, in.Value)
	default:
		if err = checkPlain(pt.DataType, in.Value); err == nil {
			value = domain.PlainValue(in.Value)
		}
	}
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return domain.EntityProperty{}, de.WithField(code)
		}
		return domain.EntityProperty{}, err
	}
	return domain.EntityProperty{AssignmentID: a.ID, PropertyTypeCode: code, Value: value}, nil
}

func (r *Resolver) resolveTerm(pt domain.PropertyType, in domain.PropertyInput) (domain.PropertyValue, error) {
	vocab, ok := r.snapshot.Vocabulary(pt.VocabularyCode)
	if !ok {
		return domain.PropertyValue{}, domain.NewError(domain.KindUnknownTerm, "vocabulary %s is not defined", pt.VocabularyCode)
	}
	identifier := in.TermID
	if identifier == "" {
		identifier = in.Value
	}
	term, ok := vocab.FindTerm(identifier)
	if !ok {
		return domain.PropertyValue{}, domain.NewError(domain.KindUnknownTerm, "%q is not a term of %s", identifier, vocab.QualifiedCode())
	}
	if in.TermID != "" && in.Value != "" && domain.NormalizeCode(in.Value) != term.Code {
		return domain.PropertyValue{}, domain.NewError(domain.KindUnknownTerm,
			"value %q does not match term %s of %s", in.Value, term.Code, vocab.QualifiedCode())
	}
	return domain.TermValue(domain.VocabularyTermRef{
		VocabularyCode: vocab.QualifiedCode(),
		TermID:         term.ID,
		Code:           term.Code,
	}), nil
}

func (r *Resolver) resolveMaterial(pt domain.PropertyType, raw string) (domain.PropertyValue, error) {
	ref, ok := domain.ParseMaterialRef(raw)
	if !ok {
		return domain.PropertyValue{}, domain.NewError(domain.KindUnknownMaterial, "%q is not a material identifier", raw)
	}
	bound := pt.MaterialTypeCode
	if bound != "" {
		if ref.TypeCode == "" {
			ref.TypeCode = bound
		}
		if ref.TypeCode != bound {
			return domain.PropertyValue{}, domain.NewError(domain.KindUnknownMaterial, "%s is not of material type %s", ref, bound)
		}
	}
	if r.materials == nil {
		return domain.PropertyValue{}, domain.NewError(domain.KindUnknownMaterial, "material %s not found", ref)
	}
	if ref.TypeCode != "" {
		m, found := r.materials.FindMaterial(ref)
		if !found {
			return domain.PropertyValue{}, domain.NewError(domain.KindUnknownMaterial, "material %s not found", ref)
		}
		return domain.MaterialValue(domain.MaterialRef{Code: m.Code, TypeCode: m.TypeCode}), nil
	}
	matches := r.materials.FindMaterialsByCode(ref.Code)
	switch len(matches) {
	case 1:
		return domain.MaterialValue(domain.MaterialRef{Code: matches[0].Code, TypeCode: matches[0].TypeCode}), nil
	case 0:
		return domain.PropertyValue{}, domain.NewError(domain.KindUnknownMaterial, "material %s not found", ref.Code)
	default:
		return domain.PropertyValue{}, domain.NewError(domain.KindUnknownMaterial,
			"material code %s is ambiguous across %d types; use CODE (TYPE)", ref.Code, len(matches))
	}
}

// ResolveSet validates the complete property set of one entity. Inputs merge
// over existing properties; an empty input removes the value. The result is
// ordered by assignment order, and the first mandatory assignment left
// without a value fails with MissingMandatoryProperty.
func (r *Resolver) ResolveSet(kind domain.EntityKind, entityType string, inputs []domain.PropertyInput, existing []domain.EntityProperty) ([]domain.EntityProperty, error) {
	if _, ok := r.snapshot.EntityType(kind, entityType); !ok {
		return nil, domain.NewError(domain.KindUnknownReference, "%s type %s is not defined",
			kind, domain.NormalizeCode(entityType)).WithField("type")
	}
	assignments := r.snapshot.AssignmentsFor(kind, entityType)
	byCode := make(map[string]domain.Assignment, len(assignments))
	for _, a := range assignments {
		byCode[a.QualifiedPropertyCode()] = a
	}

	values := make(map[string]domain.EntityProperty, len(existing)+len(inputs))
	for _, p := range existing {
		values[p.PropertyTypeCode] = p
	}
	for _, in := range inputs {
		code := domain.QualifyCode(in.Code)
		a, ok := byCode[code]
		if !ok {
			return nil, domain.NewError(domain.KindUnknownReference, "property type %s is not assigned to %s",
				code, domain.EntityTypeKey(kind, domain.NormalizeCode(entityType))).WithField(code)
		}
		if in.Value == "" && in.TermID == "" {
			delete(values, code)
			continue
		}
		p, err := r.Resolve(a, in)
		if err != nil {
			return nil, err
		}
		values[code] = p
	}

	out := make([]domain.EntityProperty, 0, len(values))
	for _, a := range assignments {
		code := a.QualifiedPropertyCode()
		p, ok := values[code]
		if !ok {
			if a.Mandatory {
				return nil, domain.NewError(domain.KindMissingMandatoryProperty, "no value for mandatory property %s", code).WithField(code)
			}
			continue
		}
		p.AssignmentID = a.ID
		out = append(out, p)
		delete(values, code)
	}
	// Values whose assignment was removed since they were stored are kept as they were.
	for _, p := range existing {
		if left, ok := values[p.PropertyTypeCode]; ok {
			out = append(out, left)
		}
	}
	return out, nil
}
