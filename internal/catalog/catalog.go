// Package catalog owns the metamodel: controlled vocabularies, property
// types, entity types and the assignments binding property types to entity
// types. Mutations publish a new immutable Snapshot; readers keep whichever
// snapshot they started with.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"labcore/internal/observability"
	"labcore/pkg/domain"
)

// Catalog is the mutable front of the metamodel. It is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	current *Snapshot
	logger  observability.Logger
	newID   func() string
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger used for definition events.
func WithLogger(logger observability.Logger) Option {
	return func(c *Catalog) { c.logger = observability.OrNoop(logger) }
}

// WithIDGenerator overrides the generator used for term, property type and assignment IDs.
func WithIDGenerator(fn func() string) Option {
	return func(c *Catalog) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// New returns an empty catalog at version 0.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		current: emptySnapshot(),
		logger:  observability.NoopLogger(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the current immutable view.
func (c *Catalog) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Version returns the current snapshot version.
func (c *Catalog) Version() uint64 { return c.Snapshot().Version() }

// mutate applies fn to a copy of the current snapshot and publishes it only
// when fn succeeds.
func (c *Catalog) mutate(fn func(next *Snapshot) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.current.clone()
	if err := fn(next); err != nil {
		return err
	}
	next.version++
	c.current = next
	return nil
}

// DefineVocabulary registers a vocabulary together with its initial terms.
func (c *Catalog) DefineVocabulary(v domain.Vocabulary) (domain.Vocabulary, error) {
	var out domain.Vocabulary
	err := c.mutate(func(next *Snapshot) error {
		var err error
		out, err = c.defineVocabulary(next, v)
		return err
	})
	if err != nil {
		return domain.Vocabulary{}, err
	}
	c.logger.Info("vocabulary defined", "code", out.QualifiedCode(), "terms", len(out.Terms))
	return out.Clone(), nil
}

func (c *Catalog) defineVocabulary(next *Snapshot, v domain.Vocabulary) (domain.Vocabulary, error) {
	code, internal := splitCode(v.Code, v.InternalNamespace)
	if !domain.ValidCode(code) {
		return domain.Vocabulary{}, domain.NewError(domain.KindInvalidDefinition, "vocabulary code %q is malformed", v.Code)
	}
	key := domain.JoinNamespace(code, internal)
	if _, exists := next.vocabularies[key]; exists {
		return domain.Vocabulary{}, domain.NewError(domain.KindInvalidDefinition, "vocabulary %s already defined", key)
	}
	out := domain.Vocabulary{
		Code:              code,
		Description:       v.Description,
		InternalNamespace: internal,
		ManagedInternally: v.ManagedInternally,
	}
	for _, term := range v.Terms {
		if _, err := c.appendTerm(&out, term); err != nil {
			return domain.Vocabulary{}, err
		}
	}
	next.vocabularies[key] = out
	return out, nil
}

// AddVocabularyTerm appends a term to an existing vocabulary.
func (c *Catalog) AddVocabularyTerm(vocabulary string, term domain.VocabularyTerm) (domain.VocabularyTerm, error) {
	var out domain.VocabularyTerm
	err := c.mutate(func(next *Snapshot) error {
		key := qualify(vocabulary)
		v, ok := next.vocabularies[key]
		if !ok {
			return domain.NewError(domain.KindNotFound, "vocabulary %s", key)
		}
		var err error
		out, err = c.appendTerm(&v, term)
		if err != nil {
			return err
		}
		next.vocabularies[key] = v
		return nil
	})
	if err != nil {
		return domain.VocabularyTerm{}, err
	}
	c.logger.Debug("vocabulary term added", "vocabulary", qualify(vocabulary), "term", out.Code)
	return out, nil
}

func (c *Catalog) appendTerm(v *domain.Vocabulary, term domain.VocabularyTerm) (domain.VocabularyTerm, error) {
	term.Code = domain.NormalizeCode(term.Code)
	if !domain.ValidCode(term.Code) {
		return domain.VocabularyTerm{}, domain.NewError(domain.KindInvalidDefinition, "term code %q of vocabulary %s is malformed", term.Code, v.QualifiedCode())
	}
	for _, existing := range v.Terms {
		if existing.Code == term.Code {
			return domain.VocabularyTerm{}, domain.NewError(domain.KindInvalidDefinition, "term %s already exists in vocabulary %s", term.Code, v.QualifiedCode())
		}
	}
	if term.ID == "" {
		term.ID = c.newID()
	}
	term.Ordinal = len(v.Terms) + 1
	v.Terms = append(v.Terms, term)
	return term, nil
}

// LookupVocabulary returns a vocabulary or a NotFound error.
func (c *Catalog) LookupVocabulary(code string) (domain.Vocabulary, error) {
	v, ok := c.Snapshot().Vocabulary(code)
	if !ok {
		return domain.Vocabulary{}, domain.NewError(domain.KindNotFound, "vocabulary %s", qualify(code))
	}
	return v, nil
}

// DefinePropertyType registers a global property type. Vocabulary and
// material type bindings are exclusive and must match the data type.
func (c *Catalog) DefinePropertyType(def domain.PropertyType) (domain.PropertyType, error) {
	var out domain.PropertyType
	err := c.mutate(func(next *Snapshot) error {
		var err error
		out, err = c.definePropertyType(next, def)
		return err
	})
	if err != nil {
		return domain.PropertyType{}, err
	}
	c.logger.Info("property type defined", "code", out.QualifiedCode(), "data_type", out.DataType)
	return out, nil
}

func (c *Catalog) definePropertyType(next *Snapshot, def domain.PropertyType) (domain.PropertyType, error) {
	invalid := func(format string, args ...any) error {
		return domain.NewError(domain.KindInvalidDefinition, format, args...).WithField(def.Code)
	}
	code, internal := splitCode(def.Code, def.InternalNamespace)
	if !domain.ValidCode(code) {
		return domain.PropertyType{}, invalid("property type code %q is malformed", def.Code)
	}
	def.Code, def.InternalNamespace = code, internal
	def.DataType = domain.DataType(domain.NormalizeCode(string(def.DataType)))
	if !def.DataType.Valid() {
		return domain.PropertyType{}, invalid("unknown data type %q", def.DataType)
	}
	if def.VocabularyCode != "" && def.MaterialTypeCode != "" {
		return domain.PropertyType{}, invalid("vocabulary and material type bindings are exclusive")
	}
	switch def.DataType {
	case domain.DataTypeControlledVocabulary:
		if def.VocabularyCode == "" {
			return domain.PropertyType{}, invalid("%s requires a vocabulary", def.DataType)
		}
		def.VocabularyCode = qualify(def.VocabularyCode)
		if _, ok := next.vocabularies[def.VocabularyCode]; !ok {
			return domain.PropertyType{}, invalid("vocabulary %s is not defined", def.VocabularyCode)
		}
	case domain.DataTypeMaterial:
		if def.MaterialTypeCode != "" {
			def.MaterialTypeCode = domain.NormalizeCode(def.MaterialTypeCode)
			if _, ok := next.entityTypes[domain.EntityTypeKey(domain.KindMaterial, def.MaterialTypeCode)]; !ok {
				return domain.PropertyType{}, invalid("material type %s is not defined", def.MaterialTypeCode)
			}
		}
	default:
		if def.VocabularyCode != "" {
			return domain.PropertyType{}, invalid("vocabulary binding requires %s", domain.DataTypeControlledVocabulary)
		}
		if def.MaterialTypeCode != "" {
			return domain.PropertyType{}, invalid("material type binding requires %s", domain.DataTypeMaterial)
		}
	}
	if def.DataType != domain.DataTypeXML && (def.XMLSchema != "" || def.Transformation != "") {
		return domain.PropertyType{}, invalid("xml schema and transformation require %s", domain.DataTypeXML)
	}
	key := def.QualifiedCode()
	if _, exists := next.propertyTypes[key]; exists {
		return domain.PropertyType{}, invalid("property type %s already defined", key)
	}
	if def.ID == "" {
		def.ID = c.newID()
	}
	next.propertyTypes[key] = def
	return def, nil
}

// LookupPropertyType returns a property type or a NotFound error. A "$"
// prefix addresses the internal namespace.
func (c *Catalog) LookupPropertyType(code string) (domain.PropertyType, error) {
	pt, ok := c.Snapshot().PropertyType(code)
	if !ok {
		return domain.PropertyType{}, domain.NewError(domain.KindNotFound, "property type %s", qualify(code))
	}
	return pt, nil
}

// DefineEntityType registers an experiment, sample, material or data set type.
func (c *Catalog) DefineEntityType(kind domain.EntityKind, code, description string) (domain.EntityType, error) {
	var out domain.EntityType
	err := c.mutate(func(next *Snapshot) error {
		var err error
		out, err = defineEntityType(next, kind, code, description)
		return err
	})
	if err != nil {
		return domain.EntityType{}, err
	}
	c.logger.Info("entity type defined", "kind", out.Kind, "code", out.Code)
	return out, nil
}

func defineEntityType(next *Snapshot, kind domain.EntityKind, code, description string) (domain.EntityType, error) {
	if !kind.Typed() {
		return domain.EntityType{}, domain.NewError(domain.KindInvalidDefinition, "entity kind %q does not carry types", kind)
	}
	et := domain.EntityType{Kind: kind, Code: domain.NormalizeCode(code), Description: description}
	if !domain.ValidCode(et.Code) {
		return domain.EntityType{}, domain.NewError(domain.KindInvalidDefinition, "entity type code %q is malformed", code)
	}
	if _, exists := next.entityTypes[et.Key()]; exists {
		return domain.EntityType{}, domain.NewError(domain.KindInvalidDefinition, "entity type %s already defined", et.Key())
	}
	next.entityTypes[et.Key()] = et
	return et, nil
}

// AssignRequest names the pair to bind and its flags.
type AssignRequest struct {
	Kind              domain.EntityKind
	EntityType        string
	PropertyType      string
	Mandatory         bool
	ManagedInternally bool
	Section           string
}

// Assign binds a property type to an entity type. Assigning the same pair
// twice fails with DuplicateAssignment.
func (c *Catalog) Assign(req AssignRequest) (domain.Assignment, error) {
	var out domain.Assignment
	err := c.mutate(func(next *Snapshot) error {
		var err error
		out, err = c.assign(next, req)
		return err
	})
	if err != nil {
		return domain.Assignment{}, err
	}
	c.logger.Info("property type assigned",
		"kind", out.EntityKind, "entity_type", out.EntityTypeCode,
		"property_type", out.QualifiedPropertyCode(), "mandatory", out.Mandatory)
	return out, nil
}

func (c *Catalog) assign(next *Snapshot, req AssignRequest) (domain.Assignment, error) {
	entityType := domain.NormalizeCode(req.EntityType)
	if _, ok := next.entityTypes[domain.EntityTypeKey(req.Kind, entityType)]; !ok {
		return domain.Assignment{}, domain.NewError(domain.KindNotFound, "entity type %s", domain.EntityTypeKey(req.Kind, entityType))
	}
	pt, ok := next.propertyTypes[qualify(req.PropertyType)]
	if !ok {
		return domain.Assignment{}, domain.NewError(domain.KindNotFound, "property type %s", qualify(req.PropertyType))
	}
	if _, exists := next.findAssignment(req.Kind, entityType, pt); exists {
		return domain.Assignment{}, domain.NewError(domain.KindDuplicateAssignment,
			"%s already assigned to %s", pt.QualifiedCode(), domain.EntityTypeKey(req.Kind, entityType))
	}
	a := domain.Assignment{
		ID:                c.newID(),
		EntityKind:        req.Kind,
		EntityTypeCode:    entityType,
		PropertyTypeCode:  pt.Code,
		InternalNamespace: pt.InternalNamespace,
		Mandatory:         req.Mandatory,
		ManagedInternally: req.ManagedInternally,
		Ordinal:           nextOrdinal(next.AssignmentsFor(req.Kind, entityType)),
		Section:           req.Section,
	}
	next.assignments = append(next.assignments, a)
	return a, nil
}

func nextOrdinal(existing []domain.Assignment) int {
	highest := 0
	for _, a := range existing {
		if a.Ordinal > highest {
			highest = a.Ordinal
		}
	}
	return highest + 1
}

// UsageCounter reports how many stored property values belong to an assignment.
type UsageCounter interface {
	CountPropertyValues(ctx context.Context, a domain.Assignment) (int, error)
}

// Unassign removes an assignment. It fails with InUse while any property
// value references it. A nil usage counter skips the check.
func (c *Catalog) Unassign(ctx context.Context, kind domain.EntityKind, entityType, propertyType string, usage UsageCounter) error {
	var removed domain.Assignment
	err := c.mutate(func(next *Snapshot) error {
		code := domain.NormalizeCode(entityType)
		pt, ok := next.propertyTypes[qualify(propertyType)]
		if !ok {
			return domain.NewError(domain.KindNotFound, "property type %s", qualify(propertyType))
		}
		idx, ok := next.findAssignment(kind, code, pt)
		if !ok {
			return domain.NewError(domain.KindNotFound, "assignment of %s to %s", pt.QualifiedCode(), domain.EntityTypeKey(kind, code))
		}
		removed = next.assignments[idx]
		if usage != nil {
			n, err := usage.CountPropertyValues(ctx, removed)
			if err != nil {
				return fmt.Errorf("count property values: %w", err)
			}
			if n > 0 {
				return domain.NewError(domain.KindInUse, "%d property values reference %s on %s",
					n, pt.QualifiedCode(), domain.EntityTypeKey(kind, code))
			}
		}
		next.assignments = append(next.assignments[:idx:idx], next.assignments[idx+1:]...)
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Info("property type unassigned",
		"kind", kind, "entity_type", removed.EntityTypeCode, "property_type", removed.QualifiedPropertyCode())
	return nil
}

// AssignmentsFor returns the current assignments of an entity type in registration order.
func (c *Catalog) AssignmentsFor(kind domain.EntityKind, entityType string) []domain.Assignment {
	return c.Snapshot().AssignmentsFor(kind, entityType)
}

// splitCode normalizes a code and folds a "$" prefix into the namespace flag.
func splitCode(code string, internal bool) (string, bool) {
	bare, prefixed := domain.SplitNamespace(strings.TrimSpace(code))
	return domain.NormalizeCode(bare), internal || prefixed
}
