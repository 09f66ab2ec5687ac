package memory

import (
	"time"

	"labcore/pkg/domain"
)

// Snapshot bucket names.
const (
	bucketSpaces      = "spaces"
	bucketProjects    = "projects"
	bucketExperiments = "experiments"
	bucketSamples     = "samples"
	bucketMaterials   = "materials"
	bucketDataSets    = "data_sets"
	bucketOperations  = "operations"
)

// Buckets lists every snapshot bucket in persistence order.
func Buckets() []string {
	return []string{bucketSpaces, bucketProjects, bucketExperiments, bucketMaterials, bucketSamples, bucketDataSets, bucketOperations}
}

// transaction applies one batch to a private clone of the state.
type transaction struct {
	state   *state
	now     time.Time
	newID   func() string
	userID  string
	changes []domain.Change
	touched map[string]bool
}

func (tx *transaction) touch(bucket string) {
	if tx.touched == nil {
		tx.touched = make(map[string]bool)
	}
	tx.touched[bucket] = true
}

func (tx *transaction) touchedBuckets() []string {
	var out []string
	for _, b := range Buckets() {
		if tx.touched[b] {
			out = append(out, b)
		}
	}
	return out
}

func (tx *transaction) recordChange(kind domain.EntityKind, id, identifier string, action domain.Action) {
	tx.changes = append(tx.changes, domain.Change{
		Entity: domain.EntityRef{Kind: kind, ID: id, Identifier: identifier},
		Action: action,
	})
}

func conflict(kind domain.EntityKind, format string, args ...any) error {
	e := domain.NewError(domain.KindCommitConflict, format, args...)
	e.Entity = kind
	return e
}

func (tx *transaction) stamp(base *domain.Base) {
	if base.ID == "" {
		base.ID = tx.newID()
	}
	if base.RegistratorID == "" {
		base.RegistratorID = tx.userID
	}
	base.CreatedAt = tx.now
	base.UpdatedAt = tx.now
}

// claim indexes a new identifier, failing when a concurrent commit took it.
func (tx *transaction) claim(kind domain.EntityKind, identifier, id string) error {
	if _, taken := tx.state.lookup(kind, identifier); taken {
		return conflict(kind, "%s was registered concurrently", identifier)
	}
	tx.state.index(kind, identifier, id)
	return nil
}

// apply follows registration order: spaces, projects, experiments,
// materials, samples, sample updates, data sets, data set updates.
func (tx *transaction) apply(b domain.Batch) error {
	for _, v := range b.Spaces {
		tx.stamp(&v.Base)
		if err := tx.claim(domain.KindSpace, v.Identifier(), v.ID); err != nil {
			return err
		}
		tx.state.spaces[v.ID] = v
		tx.touch(bucketSpaces)
		tx.recordChange(domain.KindSpace, v.ID, v.Identifier(), domain.ActionCreate)
	}
	for _, v := range b.Projects {
		tx.stamp(&v.Base)
		if err := tx.claim(domain.KindProject, v.Identifier(), v.ID); err != nil {
			return err
		}
		tx.state.projects[v.ID] = v
		tx.touch(bucketProjects)
		tx.recordChange(domain.KindProject, v.ID, v.Identifier(), domain.ActionCreate)
	}
	for _, v := range b.Experiments {
		v = domain.CloneExperiment(v)
		tx.stamp(&v.Base)
		if err := tx.claim(domain.KindExperiment, v.Identifier(), v.ID); err != nil {
			return err
		}
		tx.state.experiments[v.ID] = v
		tx.touch(bucketExperiments)
		tx.recordChange(domain.KindExperiment, v.ID, v.Identifier(), domain.ActionCreate)
	}
	for _, v := range b.Materials {
		v = domain.CloneMaterial(v)
		tx.stamp(&v.Base)
		if err := tx.claim(domain.KindMaterial, v.Identifier(), v.ID); err != nil {
			return err
		}
		tx.state.materials[v.ID] = v
		tx.touch(bucketMaterials)
		tx.recordChange(domain.KindMaterial, v.ID, v.Identifier(), domain.ActionCreate)
	}
	for _, v := range b.Samples {
		v = domain.CloneSample(v)
		tx.stamp(&v.Base)
		v.Version = 1
		if err := tx.claim(domain.KindSample, v.Identifier(), v.ID); err != nil {
			return err
		}
		tx.state.samples[v.ID] = v
		tx.touch(bucketSamples)
		tx.recordChange(domain.KindSample, v.ID, v.Identifier(), domain.ActionCreate)
	}
	for _, v := range b.SampleUpdates {
		stored, ok := tx.state.samples[v.ID]
		if !ok {
			return conflict(domain.KindSample, "%s no longer exists", v.Identifier())
		}
		if stored.Version != v.Version {
			return conflict(domain.KindSample, "%s changed since validation (version %d, now %d)", v.Identifier(), v.Version, stored.Version)
		}
		v = domain.CloneSample(v)
		v.Base = stored.Base
		v.UpdatedAt = tx.now
		v.Version = stored.Version + 1
		tx.state.samples[v.ID] = v
		tx.touch(bucketSamples)
		tx.recordChange(domain.KindSample, v.ID, v.Identifier(), domain.ActionUpdate)
	}
	for _, v := range b.DataSets {
		v = domain.CloneDataSet(v)
		tx.stamp(&v.Base)
		v.Version = 1
		if err := tx.claim(domain.KindDataSet, v.Identifier(), v.ID); err != nil {
			return err
		}
		tx.state.dataSets[v.ID] = v
		tx.touch(bucketDataSets)
		tx.recordChange(domain.KindDataSet, v.ID, v.Identifier(), domain.ActionCreate)
	}
	for _, v := range b.DataSetUpdates {
		stored, ok := tx.state.dataSets[v.ID]
		if !ok {
			return conflict(domain.KindDataSet, "%s no longer exists", v.Identifier())
		}
		if stored.Version != v.Version {
			return conflict(domain.KindDataSet, "%s changed since validation (version %d, now %d)", v.Identifier(), v.Version, stored.Version)
		}
		v = domain.CloneDataSet(v)
		v.Base = stored.Base
		v.UpdatedAt = tx.now
		v.Version = stored.Version + 1
		tx.state.dataSets[v.ID] = v
		tx.touch(bucketDataSets)
		tx.recordChange(domain.KindDataSet, v.ID, v.Identifier(), domain.ActionUpdate)
	}
	return nil
}
