package catalog

import (
	"sort"

	"labcore/pkg/domain"
)

// Snapshot is an immutable, versioned view of the catalog. The resolver and
// registrar validate a whole batch against one snapshot.
type Snapshot struct {
	version       uint64
	vocabularies  map[string]domain.Vocabulary
	propertyTypes map[string]domain.PropertyType
	entityTypes   map[string]domain.EntityType
	// assignments keeps registration order.
	assignments []domain.Assignment
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		vocabularies:  make(map[string]domain.Vocabulary),
		propertyTypes: make(map[string]domain.PropertyType),
		entityTypes:   make(map[string]domain.EntityType),
	}
}

// clone copies the maps; values are replaced, never mutated in place, so a
// shallow map copy is sufficient except for vocabulary term slices.
func (s *Snapshot) clone() *Snapshot {
	cp := &Snapshot{
		version:       s.version,
		vocabularies:  make(map[string]domain.Vocabulary, len(s.vocabularies)),
		propertyTypes: make(map[string]domain.PropertyType, len(s.propertyTypes)),
		entityTypes:   make(map[string]domain.EntityType, len(s.entityTypes)),
		assignments:   append([]domain.Assignment(nil), s.assignments...),
	}
	for k, v := range s.vocabularies {
		cp.vocabularies[k] = v.Clone()
	}
	for k, v := range s.propertyTypes {
		cp.propertyTypes[k] = v
	}
	for k, v := range s.entityTypes {
		cp.entityTypes[k] = v
	}
	return cp
}

// Version increases with every catalog mutation.
func (s *Snapshot) Version() uint64 { return s.version }

// Vocabulary looks up a vocabulary by code; a "$" prefix addresses the internal namespace.
func (s *Snapshot) Vocabulary(code string) (domain.Vocabulary, bool) {
	v, ok := s.vocabularies[qualify(code)]
	if !ok {
		return domain.Vocabulary{}, false
	}
	return v.Clone(), true
}

// PropertyType looks up a property type by code; a "$" prefix addresses the internal namespace.
func (s *Snapshot) PropertyType(code string) (domain.PropertyType, bool) {
	pt, ok := s.propertyTypes[qualify(code)]
	return pt, ok
}

// EntityType looks up an entity type within a kind.
func (s *Snapshot) EntityType(kind domain.EntityKind, code string) (domain.EntityType, bool) {
	et, ok := s.entityTypes[domain.EntityTypeKey(kind, domain.NormalizeCode(code))]
	return et, ok
}

// AssignmentsFor returns the assignments of an entity type in registration order.
func (s *Snapshot) AssignmentsFor(kind domain.EntityKind, entityType string) []domain.Assignment {
	code := domain.NormalizeCode(entityType)
	var out []domain.Assignment
	for _, a := range s.assignments {
		if a.EntityKind == kind && a.EntityTypeCode == code {
			out = append(out, a)
		}
	}
	return out
}

// Vocabularies lists every vocabulary ordered by qualified code.
func (s *Snapshot) Vocabularies() []domain.Vocabulary {
	out := make([]domain.Vocabulary, 0, len(s.vocabularies))
	for _, key := range sortedKeys(s.vocabularies) {
		out = append(out, s.vocabularies[key].Clone())
	}
	return out
}

// PropertyTypes lists every property type ordered by qualified code.
func (s *Snapshot) PropertyTypes() []domain.PropertyType {
	out := make([]domain.PropertyType, 0, len(s.propertyTypes))
	for _, key := range sortedKeys(s.propertyTypes) {
		out = append(out, s.propertyTypes[key])
	}
	return out
}

// EntityTypes lists the entity types of a kind ordered by code.
func (s *Snapshot) EntityTypes(kind domain.EntityKind) []domain.EntityType {
	var out []domain.EntityType
	for _, key := range sortedKeys(s.entityTypes) {
		if et := s.entityTypes[key]; et.Kind == kind {
			out = append(out, et)
		}
	}
	return out
}

func (s *Snapshot) findAssignment(kind domain.EntityKind, entityType string, pt domain.PropertyType) (int, bool) {
	for i, a := range s.assignments {
		if a.EntityKind == kind && a.EntityTypeCode == entityType &&
			a.PropertyTypeCode == pt.Code && a.InternalNamespace == pt.InternalNamespace {
			return i, true
		}
	}
	return -1, false
}

func qualify(code string) string { return domain.QualifyCode(code) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
