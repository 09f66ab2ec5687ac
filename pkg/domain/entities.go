// Package domain defines the persistent entities, the typed-attribute
// metamodel, the atomic batch payload and the storage boundary used by
// labcore.
package domain

import (
	"time"
)

// EntityKind identifies the category of a stored record.
type EntityKind string

// Entity kinds. Only experiments, samples, materials and data sets carry
// typed properties; spaces and projects are plain containers.
const (
	KindSpace      EntityKind = "SPACE"
	KindProject    EntityKind = "PROJECT"
	KindExperiment EntityKind = "EXPERIMENT"
	KindSample     EntityKind = "SAMPLE"
	KindMaterial   EntityKind = "MATERIAL"
	KindDataSet    EntityKind = "DATA_SET"
)

// Typed reports whether entities of the kind carry an entity type and properties.
func (k EntityKind) Typed() bool {
	switch k {
	case KindExperiment, KindSample, KindMaterial, KindDataSet:
		return true
	default:
		return false
	}
}

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	return k == KindSpace || k == KindProject || k.Typed()
}

// Base contains the fields shared by all stored entities.
type Base struct {
	ID            string    `json:"id"`
	Code          string    `json:"code"`
	RegistratorID string    `json:"registrator_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Space is the top-level container for projects and samples.
type Space struct {
	Base
	Description string `json:"description,omitempty"`
}

// Identifier returns the space identifier, e.g. "/S1".
func (s Space) Identifier() string { return SpaceIdentifier(s.Code) }

// SameAs compares business identity.
func (s Space) SameAs(other Space) bool { return s.Code == other.Code }

// Project groups experiments inside a space.
type Project struct {
	Base
	SpaceID     string `json:"space_id"`
	SpaceCode   string `json:"space_code"`
	Description string `json:"description,omitempty"`
}

// Identifier returns "/SPACE/PROJECT".
func (p Project) Identifier() string { return ProjectIdentifier(p.SpaceCode, p.Code) }

// SameAs compares business identity.
func (p Project) SameAs(other Project) bool { return p.Identifier() == other.Identifier() }

// Experiment is a typed entity that belongs to a project.
type Experiment struct {
	Base
	TypeCode          string           `json:"type_code"`
	ProjectID         string           `json:"project_id"`
	ProjectIdentifier string           `json:"project_identifier"`
	Properties        []EntityProperty `json:"properties,omitempty"`
}

// Identifier returns "/SPACE/PROJECT/EXPERIMENT".
func (e Experiment) Identifier() string { return e.ProjectIdentifier + "/" + e.Code }

// SameAs compares business identity.
func (e Experiment) SameAs(other Experiment) bool { return e.Identifier() == other.Identifier() }

// Sample is a typed entity optionally owned by a space. Samples without a
// space are shared.
type Sample struct {
	Base
	TypeCode     string           `json:"type_code"`
	SpaceID      string           `json:"space_id,omitempty"`
	SpaceCode    string           `json:"space_code,omitempty"`
	ExperimentID string           `json:"experiment_id,omitempty"`
	ParentIDs    []string         `json:"parent_ids,omitempty"`
	Properties   []EntityProperty `json:"properties,omitempty"`
	Version      int64            `json:"version"`
}

// Identifier returns "/SPACE/CODE" or "/CODE" for shared samples.
func (s Sample) Identifier() string { return SampleIdentifier(s.SpaceCode, s.Code) }

// Shared reports whether the sample has no owning space.
func (s Sample) Shared() bool { return s.SpaceCode == "" }

// SameAs compares business identity.
func (s Sample) SameAs(other Sample) bool { return s.Identifier() == other.Identifier() }

// Material is a typed entity identified by code within its material type.
type Material struct {
	Base
	TypeCode   string           `json:"type_code"`
	Properties []EntityProperty `json:"properties,omitempty"`
}

// Identifier returns "CODE (TYPE)".
func (m Material) Identifier() string {
	return MaterialRef{Code: m.Code, TypeCode: m.TypeCode}.String()
}

// SameAs compares business identity.
func (m Material) SameAs(other Material) bool { return m.Identifier() == other.Identifier() }

// DataSet is a typed entity attached to an experiment and/or a sample.
type DataSet struct {
	Base
	TypeCode     string           `json:"type_code"`
	ExperimentID string           `json:"experiment_id,omitempty"`
	SampleID     string           `json:"sample_id,omitempty"`
	ParentIDs    []string         `json:"parent_ids,omitempty"`
	Properties   []EntityProperty `json:"properties,omitempty"`
	Version      int64            `json:"version"`
}

// Identifier returns the globally unique data set code.
func (d DataSet) Identifier() string { return d.Code }

// SameAs compares business identity.
func (d DataSet) SameAs(other DataSet) bool { return d.Code == other.Code }

// EntityRef is a kind-qualified pointer to a stored entity.
type EntityRef struct {
	Kind       EntityKind `json:"kind"`
	ID         string     `json:"id"`
	Identifier string     `json:"identifier"`
}

// Action indicates the type of modification performed.
type Action string

// Change actions recorded for committed batches.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Change describes a mutation applied to an entity during a batch commit.
type Change struct {
	Entity EntityRef `json:"entity"`
	Action Action    `json:"action"`
}

// CloneProperties returns a copy of the property slice.
func CloneProperties(props []EntityProperty) []EntityProperty {
	if props == nil {
		return nil
	}
	return append([]EntityProperty(nil), props...)
}

// CloneSample deep-copies a sample.
func CloneSample(s Sample) Sample {
	cp := s
	cp.ParentIDs = append([]string(nil), s.ParentIDs...)
	cp.Properties = CloneProperties(s.Properties)
	return cp
}

// CloneDataSet deep-copies a data set.
func CloneDataSet(d DataSet) DataSet {
	cp := d
	cp.ParentIDs = append([]string(nil), d.ParentIDs...)
	cp.Properties = CloneProperties(d.Properties)
	return cp
}

// CloneExperiment deep-copies an experiment.
func CloneExperiment(e Experiment) Experiment {
	cp := e
	cp.Properties = CloneProperties(e.Properties)
	return cp
}

// CloneMaterial deep-copies a material.
func CloneMaterial(m Material) Material {
	cp := m
	cp.Properties = CloneProperties(m.Properties)
	return cp
}
