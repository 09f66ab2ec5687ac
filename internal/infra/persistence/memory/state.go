package memory

import (
	"sort"
	"strings"

	"labcore/pkg/domain"
)

// state is never mutated once published; commits clone it, apply the batch
// and swap the pointer.
type state struct {
	version     uint64
	spaces      map[string]domain.Space
	projects    map[string]domain.Project
	experiments map[string]domain.Experiment
	samples     map[string]domain.Sample
	materials   map[string]domain.Material
	dataSets    map[string]domain.DataSet
	operations  map[domain.RegistrationID]domain.OperationLogEntry

	// identifier -> ID indexes, rebuilt from the maps above on import.
	byIdentifier map[domain.EntityKind]map[string]string
}

func newState() *state {
	return &state{
		spaces:       make(map[string]domain.Space),
		projects:     make(map[string]domain.Project),
		experiments:  make(map[string]domain.Experiment),
		samples:      make(map[string]domain.Sample),
		materials:    make(map[string]domain.Material),
		dataSets:     make(map[string]domain.DataSet),
		operations:   make(map[domain.RegistrationID]domain.OperationLogEntry),
		byIdentifier: newIndexes(),
	}
}

func newIndexes() map[domain.EntityKind]map[string]string {
	return map[domain.EntityKind]map[string]string{
		domain.KindSpace:      {},
		domain.KindProject:    {},
		domain.KindExperiment: {},
		domain.KindSample:     {},
		domain.KindMaterial:   {},
		domain.KindDataSet:    {},
	}
}

// clone copies the maps. Entity values are replaced on update rather than
// edited, so slices inside them can be shared between versions.
func (s *state) clone() *state {
	cp := &state{
		version:      s.version,
		spaces:       copyMap(s.spaces),
		projects:     copyMap(s.projects),
		experiments:  copyMap(s.experiments),
		samples:      copyMap(s.samples),
		materials:    copyMap(s.materials),
		dataSets:     copyMap(s.dataSets),
		operations:   copyMap(s.operations),
		byIdentifier: make(map[domain.EntityKind]map[string]string, len(s.byIdentifier)),
	}
	for kind, idx := range s.byIdentifier {
		cp.byIdentifier[kind] = copyMap(idx)
	}
	return cp
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *state) index(kind domain.EntityKind, identifier, id string) {
	s.byIdentifier[kind][identifier] = id
}

func (s *state) lookup(kind domain.EntityKind, identifier string) (string, bool) {
	id, ok := s.byIdentifier[kind][identifier]
	return id, ok
}

func (s *state) reindex() {
	s.byIdentifier = newIndexes()
	for id, v := range s.spaces {
		s.index(domain.KindSpace, v.Identifier(), id)
	}
	for id, v := range s.projects {
		s.index(domain.KindProject, v.Identifier(), id)
	}
	for id, v := range s.experiments {
		s.index(domain.KindExperiment, v.Identifier(), id)
	}
	for id, v := range s.samples {
		s.index(domain.KindSample, v.Identifier(), id)
	}
	for id, v := range s.materials {
		s.index(domain.KindMaterial, v.Identifier(), id)
	}
	for id, v := range s.dataSets {
		s.index(domain.KindDataSet, v.Identifier(), id)
	}
}

// normalizeIdentifier upper-cases identifiers the way codes are stored.
func normalizeIdentifier(kind domain.EntityKind, identifier string) string {
	identifier = strings.TrimSpace(identifier)
	switch kind {
	case domain.KindMaterial:
		if ref, ok := domain.ParseMaterialRef(identifier); ok {
			return ref.String()
		}
		return identifier
	case domain.KindDataSet:
		return domain.NormalizeCode(identifier)
	default:
		return strings.ToUpper(identifier)
	}
}

func sortedValues[V any](m map[string]V, key func(V) string) []V {
	out := make([]V, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}

// Snapshot is the serialisable form of the store state, one bucket per map.
type Snapshot struct {
	Version     uint64                                             `json:"version"`
	Spaces      map[string]domain.Space                            `json:"spaces"`
	Projects    map[string]domain.Project                          `json:"projects"`
	Experiments map[string]domain.Experiment                       `json:"experiments"`
	Samples     map[string]domain.Sample                           `json:"samples"`
	Materials   map[string]domain.Material                         `json:"materials"`
	DataSets    map[string]domain.DataSet                          `json:"data_sets"`
	Operations  map[domain.RegistrationID]domain.OperationLogEntry `json:"operations"`
}

func snapshotFromState(s *state) Snapshot {
	return Snapshot{
		Version:     s.version,
		Spaces:      copyMap(s.spaces),
		Projects:    copyMap(s.projects),
		Experiments: copyMap(s.experiments),
		Samples:     copyMap(s.samples),
		Materials:   copyMap(s.materials),
		DataSets:    copyMap(s.dataSets),
		Operations:  copyMap(s.operations),
	}
}

func stateFromSnapshot(snap Snapshot) *state {
	s := newState()
	s.version = snap.Version
	for id, v := range snap.Spaces {
		s.spaces[id] = v
	}
	for id, v := range snap.Projects {
		s.projects[id] = v
	}
	for id, v := range snap.Experiments {
		s.experiments[id] = domain.CloneExperiment(v)
	}
	for id, v := range snap.Samples {
		s.samples[id] = domain.CloneSample(v)
	}
	for id, v := range snap.Materials {
		s.materials[id] = domain.CloneMaterial(v)
	}
	for id, v := range snap.DataSets {
		s.dataSets[id] = domain.CloneDataSet(v)
	}
	for id, v := range snap.Operations {
		s.operations[id] = v
	}
	s.reindex()
	return s
}

// BucketTarget returns a pointer to the map backing a bucket, for JSON
// encoding and decoding, or nil for an unknown bucket.
func (s *Snapshot) BucketTarget(bucket string) any {
	switch bucket {
	case bucketSpaces:
		return &s.Spaces
	case bucketProjects:
		return &s.Projects
	case bucketExperiments:
		return &s.Experiments
	case bucketSamples:
		return &s.Samples
	case bucketMaterials:
		return &s.Materials
	case bucketDataSets:
		return &s.DataSets
	case bucketOperations:
		return &s.Operations
	default:
		return nil
	}
}

// OperationsBucket names the bucket holding the operation log.
const OperationsBucket = bucketOperations
