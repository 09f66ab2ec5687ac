package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"labcore/pkg/domain"
)

// MasterData is the YAML document describing a complete metamodel.
type MasterData struct {
	Vocabularies  []domain.Vocabulary   `yaml:"vocabularies"`
	EntityTypes   []EntityTypeSpec      `yaml:"entity_types"`
	PropertyTypes []domain.PropertyType `yaml:"property_types"`
}

// EntityTypeSpec declares an entity type with its assignments.
type EntityTypeSpec struct {
	Kind        domain.EntityKind `yaml:"kind"`
	Code        string            `yaml:"code"`
	Description string            `yaml:"description,omitempty"`
	Assignments []AssignmentSpec  `yaml:"assignments,omitempty"`
}

// AssignmentSpec declares one property type assignment.
type AssignmentSpec struct {
	PropertyType      string `yaml:"property_type"`
	Mandatory         bool   `yaml:"mandatory,omitempty"`
	ManagedInternally bool   `yaml:"managed_internally,omitempty"`
	Section           string `yaml:"section,omitempty"`
}

// DecodeMasterData parses a master-data document. Unknown keys are rejected.
func DecodeMasterData(r io.Reader) (MasterData, error) {
	var md MasterData
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&md); err != nil {
		if errors.Is(err, io.EOF) {
			return MasterData{}, nil
		}
		return MasterData{}, fmt.Errorf("decode master data: %w", err)
	}
	return md, nil
}

// LoadMasterDataFile reads and parses a master-data file.
func LoadMasterDataFile(path string) (MasterData, error) {
	f, err := os.Open(path)
	if err != nil {
		return MasterData{}, fmt.Errorf("open master data: %w", err)
	}
	defer func() { _ = f.Close() }()
	return DecodeMasterData(f)
}

// Apply defines everything in md as one catalog mutation: vocabularies,
// entity types, property types, then assignments. Every failing definition
// is reported; when any fails, nothing is published.
func (c *Catalog) Apply(md MasterData) error {
	var applied int
	err := c.mutate(func(next *Snapshot) error {
		var errs error
		for _, v := range md.Vocabularies {
			if _, err := c.defineVocabulary(next, v); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("vocabulary %s: %w", v.Code, err))
				continue
			}
			applied++
		}
		for _, et := range md.EntityTypes {
			if _, err := defineEntityType(next, et.Kind, et.Code, et.Description); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("entity type %s:%s: %w", et.Kind, et.Code, err))
				continue
			}
			applied++
		}
		for _, pt := range md.PropertyTypes {
			if _, err := c.definePropertyType(next, pt); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("property type %s: %w", pt.Code, err))
				continue
			}
			applied++
		}
		for _, et := range md.EntityTypes {
			for _, a := range et.Assignments {
				req := AssignRequest{
					Kind:              et.Kind,
					EntityType:        et.Code,
					PropertyType:      a.PropertyType,
					Mandatory:         a.Mandatory,
					ManagedInternally: a.ManagedInternally,
					Section:           a.Section,
				}
				if _, err := c.assign(next, req); err != nil {
					errs = multierr.Append(errs, fmt.Errorf("assignment %s to %s:%s: %w", a.PropertyType, et.Kind, et.Code, err))
					continue
				}
				applied++
			}
		}
		return errs
	})
	if err != nil {
		c.logger.Warn("master data rejected", "errors", len(multierr.Errors(err)))
		return err
	}
	c.logger.Info("master data applied", "definitions", applied, "version", c.Version())
	return nil
}

// ValidateMasterData applies md to a scratch catalog and returns every problem found.
func ValidateMasterData(md MasterData) error {
	return New().Apply(md)
}
