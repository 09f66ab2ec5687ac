package domain

import (
	"sort"

	"github.com/google/uuid"
)

// RegistrationID is the client-supplied idempotency key of a batch.
type RegistrationID string

// NewRegistrationID returns a fresh random registration id.
func NewRegistrationID() RegistrationID { return RegistrationID(uuid.NewString()) }

// PropertyInput is a caller-supplied raw property value.
type PropertyInput struct {
	Code   string `json:"code" yaml:"code"`
	Value  string `json:"value" yaml:"value"`
	TermID string `json:"term_id,omitempty" yaml:"term_id,omitempty"`
}

// NewSpace registers a space.
type NewSpace struct {
	Code        string `json:"code" yaml:"code"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// NewProject registers a project inside a space.
type NewProject struct {
	Space       string `json:"space" yaml:"space"`
	Code        string `json:"code" yaml:"code"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// NewExperiment registers an experiment under a project identifier ("/SPACE/PROJECT").
type NewExperiment struct {
	Project    string          `json:"project" yaml:"project"`
	Code       string          `json:"code" yaml:"code"`
	Type       string          `json:"type" yaml:"type"`
	Properties []PropertyInput `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// NewSample registers a sample. An empty Space registers a shared sample.
type NewSample struct {
	Space      string          `json:"space,omitempty" yaml:"space,omitempty"`
	Code       string          `json:"code" yaml:"code"`
	Type       string          `json:"type" yaml:"type"`
	Experiment string          `json:"experiment,omitempty" yaml:"experiment,omitempty"`
	Parents    []string        `json:"parents,omitempty" yaml:"parents,omitempty"`
	Properties []PropertyInput `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// SampleUpdate changes the properties (and optionally the experiment) of an
// existing sample. ExpectedVersion 0 skips the optimistic version check.
type SampleUpdate struct {
	Sample          string          `json:"sample" yaml:"sample"`
	Experiment      string          `json:"experiment,omitempty" yaml:"experiment,omitempty"`
	Properties      []PropertyInput `json:"properties,omitempty" yaml:"properties,omitempty"`
	ExpectedVersion int64           `json:"expected_version,omitempty" yaml:"expected_version,omitempty"`
}

// NewMaterial registers a material; its type is the key it is grouped under.
type NewMaterial struct {
	Code       string          `json:"code" yaml:"code"`
	Properties []PropertyInput `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// NewDataSet registers a data set attached to an experiment and/or sample.
type NewDataSet struct {
	Code       string          `json:"code" yaml:"code"`
	Type       string          `json:"type" yaml:"type"`
	Experiment string          `json:"experiment,omitempty" yaml:"experiment,omitempty"`
	Sample     string          `json:"sample,omitempty" yaml:"sample,omitempty"`
	Parents    []string        `json:"parents,omitempty" yaml:"parents,omitempty"`
	Properties []PropertyInput `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// DataSetUpdate changes the properties and attachments of an existing data set.
type DataSetUpdate struct {
	Code            string          `json:"code" yaml:"code"`
	Experiment      string          `json:"experiment,omitempty" yaml:"experiment,omitempty"`
	Sample          string          `json:"sample,omitempty" yaml:"sample,omitempty"`
	Properties      []PropertyInput `json:"properties,omitempty" yaml:"properties,omitempty"`
	ExpectedVersion int64           `json:"expected_version,omitempty" yaml:"expected_version,omitempty"`
}

// OperationDetailsInput is the mutable builder for AtomicEntityOperationDetails.
type OperationDetailsInput struct {
	RegistrationID RegistrationID           `json:"registration_id,omitempty" yaml:"registration_id,omitempty"`
	UserID         string                   `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Spaces         []NewSpace               `json:"spaces,omitempty" yaml:"spaces,omitempty"`
	Projects       []NewProject             `json:"projects,omitempty" yaml:"projects,omitempty"`
	Experiments    []NewExperiment          `json:"experiments,omitempty" yaml:"experiments,omitempty"`
	Samples        []NewSample              `json:"samples,omitempty" yaml:"samples,omitempty"`
	SampleUpdates  []SampleUpdate           `json:"sample_updates,omitempty" yaml:"sample_updates,omitempty"`
	Materials      map[string][]NewMaterial `json:"materials,omitempty" yaml:"materials,omitempty"`
	DataSets       []NewDataSet             `json:"data_sets,omitempty" yaml:"data_sets,omitempty"`
	DataSetUpdates []DataSetUpdate          `json:"data_set_updates,omitempty" yaml:"data_set_updates,omitempty"`
}

// AtomicEntityOperationDetails is an immutable batch payload. All slices are
// copied on construction and on every accessor.
type AtomicEntityOperationDetails struct {
	registrationID RegistrationID
	userID         string
	spaces         []NewSpace
	projects       []NewProject
	experiments    []NewExperiment
	samples        []NewSample
	sampleUpdates  []SampleUpdate
	materials      map[string][]NewMaterial
	dataSets       []NewDataSet
	dataSetUpdates []DataSetUpdate
}

// NewAtomicEntityOperationDetails snapshots the input into an immutable payload.
func NewAtomicEntityOperationDetails(in OperationDetailsInput) AtomicEntityOperationDetails {
	return AtomicEntityOperationDetails{
		registrationID: in.RegistrationID,
		userID:         in.UserID,
		spaces:         append([]NewSpace(nil), in.Spaces...),
		projects:       append([]NewProject(nil), in.Projects...),
		experiments:    cloneExperiments(in.Experiments),
		samples:        cloneSamples(in.Samples),
		sampleUpdates:  cloneSampleUpdates(in.SampleUpdates),
		materials:      cloneMaterials(in.Materials),
		dataSets:       cloneDataSets(in.DataSets),
		dataSetUpdates: cloneDataSetUpdates(in.DataSetUpdates),
	}
}

// RegistrationID returns the idempotency key; empty when none was supplied.
func (d AtomicEntityOperationDetails) RegistrationID() RegistrationID { return d.registrationID }

// UserID returns the acting user id, empty when none was supplied.
func (d AtomicEntityOperationDetails) UserID() string { return d.userID }

// Spaces returns the space registrations.
func (d AtomicEntityOperationDetails) Spaces() []NewSpace {
	return append([]NewSpace(nil), d.spaces...)
}

// Projects returns the project registrations.
func (d AtomicEntityOperationDetails) Projects() []NewProject {
	return append([]NewProject(nil), d.projects...)
}

// Experiments returns the experiment registrations.
func (d AtomicEntityOperationDetails) Experiments() []NewExperiment {
	return cloneExperiments(d.experiments)
}

// Samples returns the sample registrations.
func (d AtomicEntityOperationDetails) Samples() []NewSample { return cloneSamples(d.samples) }

// SampleUpdates returns the sample updates.
func (d AtomicEntityOperationDetails) SampleUpdates() []SampleUpdate {
	return cloneSampleUpdates(d.sampleUpdates)
}

// Materials returns the material registrations keyed by material type code.
func (d AtomicEntityOperationDetails) Materials() map[string][]NewMaterial {
	return cloneMaterials(d.materials)
}

// MaterialTypeCodes returns the material type keys in processing order.
func (d AtomicEntityOperationDetails) MaterialTypeCodes() []string {
	codes := make([]string, 0, len(d.materials))
	for code := range d.materials {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// DataSets returns the data set registrations.
func (d AtomicEntityOperationDetails) DataSets() []NewDataSet { return cloneDataSets(d.dataSets) }

// DataSetUpdates returns the data set updates.
func (d AtomicEntityOperationDetails) DataSetUpdates() []DataSetUpdate {
	return cloneDataSetUpdates(d.dataSetUpdates)
}

// Empty reports whether the batch carries no operations.
func (d AtomicEntityOperationDetails) Empty() bool {
	materials := 0
	for _, list := range d.materials {
		materials += len(list)
	}
	return len(d.spaces)+len(d.projects)+len(d.experiments)+len(d.samples)+
		len(d.sampleUpdates)+materials+len(d.dataSets)+len(d.dataSetUpdates) == 0
}

// AtomicEntityOperationResult reports per-kind counts of a committed batch.
// Counts default to zero for kinds the batch did not touch.
type AtomicEntityOperationResult struct {
	SpacesCreated      int64 `json:"spaces_created"`
	ProjectsCreated    int64 `json:"projects_created"`
	ExperimentsCreated int64 `json:"experiments_created"`
	SamplesCreated     int64 `json:"samples_created"`
	SamplesUpdated     int64 `json:"samples_updated"`
	MaterialsCreated   int64 `json:"materials_created"`
	DataSetsCreated    int64 `json:"data_sets_created"`
	DataSetsUpdated    int64 `json:"data_sets_updated"`
}

// Total sums all counts.
func (r AtomicEntityOperationResult) Total() int64 {
	return r.SpacesCreated + r.ProjectsCreated + r.ExperimentsCreated + r.SamplesCreated +
		r.SamplesUpdated + r.MaterialsCreated + r.DataSetsCreated + r.DataSetsUpdated
}

// EntityOperationsState answers whether a registration id has been applied.
type EntityOperationsState string

// Registration states.
const (
	OperationsNone       EntityOperationsState = "NO_OPERATION"
	OperationsInProgress EntityOperationsState = "IN_PROGRESS"
	OperationsSucceeded  EntityOperationsState = "OPERATION_SUCCEEDED"
)

func cloneInputs(in []PropertyInput) []PropertyInput {
	if in == nil {
		return nil
	}
	return append([]PropertyInput(nil), in...)
}

func cloneExperiments(in []NewExperiment) []NewExperiment {
	out := make([]NewExperiment, len(in))
	for i, e := range in {
		e.Properties = cloneInputs(e.Properties)
		out[i] = e
	}
	return out
}

func cloneSamples(in []NewSample) []NewSample {
	out := make([]NewSample, len(in))
	for i, s := range in {
		s.Parents = append([]string(nil), s.Parents...)
		s.Properties = cloneInputs(s.Properties)
		out[i] = s
	}
	return out
}

func cloneSampleUpdates(in []SampleUpdate) []SampleUpdate {
	out := make([]SampleUpdate, len(in))
	for i, u := range in {
		u.Properties = cloneInputs(u.Properties)
		out[i] = u
	}
	return out
}

func cloneMaterials(in map[string][]NewMaterial) map[string][]NewMaterial {
	out := make(map[string][]NewMaterial, len(in))
	for typeCode, list := range in {
		cp := make([]NewMaterial, len(list))
		for i, m := range list {
			m.Properties = cloneInputs(m.Properties)
			cp[i] = m
		}
		out[typeCode] = cp
	}
	return out
}

func cloneDataSets(in []NewDataSet) []NewDataSet {
	out := make([]NewDataSet, len(in))
	for i, d := range in {
		d.Parents = append([]string(nil), d.Parents...)
		d.Properties = cloneInputs(d.Properties)
		out[i] = d
	}
	return out
}

func cloneDataSetUpdates(in []DataSetUpdate) []DataSetUpdate {
	out := make([]DataSetUpdate, len(in))
	for i, u := range in {
		u.Properties = cloneInputs(u.Properties)
		out[i] = u
	}
	return out
}
