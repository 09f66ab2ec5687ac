package domain

import (
	"context"
	"time"
)

// StateView provides read-only access to one consistent storage snapshot.
type StateView interface {
	// Version increases with every committed batch.
	Version() uint64
	FindSpace(code string) (Space, bool)
	FindProject(identifier string) (Project, bool)
	FindExperiment(identifier string) (Experiment, bool)
	FindSample(identifier string) (Sample, bool)
	FindMaterial(ref MaterialRef) (Material, bool)
	// FindMaterialsByCode returns materials of any type carrying code.
	FindMaterialsByCode(code string) []Material
	FindDataSet(code string) (DataSet, bool)
	ListSpaces() []Space
	ListProjects() []Project
	ListExperiments() []Experiment
	ListSamples() []Sample
	ListMaterials() []Material
	ListDataSets() []DataSet
	LoadEntity(kind EntityKind, identifier string) (EntityRef, bool)
	// CountPropertyValues reports how many stored property values belong to an
	// assignment, matched by entity kind, entity type and qualified property
	// code rather than by assignment ID.
	CountPropertyValues(a Assignment) int
	FindOperation(id RegistrationID) (OperationLogEntry, bool)
}

// Batch is the validated mutation set of one atomic operation. Updates carry
// the entity state as validated, including the Version read at validation
// time; the store rejects the batch when the stored version moved on.
type Batch struct {
	RegistrationID RegistrationID
	UserID         string
	BaseVersion    uint64
	Spaces         []Space
	Projects       []Project
	Experiments    []Experiment
	Materials      []Material
	Samples        []Sample
	SampleUpdates  []Sample
	DataSets       []DataSet
	DataSetUpdates []DataSet
	Result         AtomicEntityOperationResult
}

// CommitOutcome reports what a SaveBatch call did.
type CommitOutcome struct {
	Result AtomicEntityOperationResult
	// Replayed is set when the registration id was already logged and nothing was applied.
	Replayed    bool
	Version     uint64
	Changes     []Change
	CommittedAt time.Time
}

// OperationLogEntry records a committed batch that carried a registration id.
type OperationLogEntry struct {
	RegistrationID RegistrationID              `json:"registration_id"`
	UserID         string                      `json:"user_id,omitempty"`
	Result         AtomicEntityOperationResult `json:"result"`
	CommittedAt    time.Time                   `json:"committed_at"`
}

// PersistentStore is the storage boundary of the registrar.
type PersistentStore interface {
	View(ctx context.Context, fn func(StateView) error) error
	// SaveBatch applies the batch atomically or not at all.
	SaveBatch(ctx context.Context, batch Batch) (CommitOutcome, error)
	FindPriorResult(ctx context.Context, id RegistrationID) (AtomicEntityOperationResult, bool, error)
	LoadEntity(ctx context.Context, kind EntityKind, identifier string) (EntityRef, bool, error)
}
