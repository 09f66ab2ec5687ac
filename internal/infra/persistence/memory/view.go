package memory

import (
	"strings"

	"labcore/pkg/domain"
)

// spaceKey accepts a bare space code or its "/CODE" identifier.
func spaceKey(code string) string {
	return domain.SpaceIdentifier(strings.TrimPrefix(domain.NormalizeCode(code), "/"))
}

type stateView struct {
	state *state
}

func (v stateView) Version() uint64 { return v.state.version }

func (v stateView) FindSpace(code string) (domain.Space, bool) {
	id, ok := v.state.lookup(domain.KindSpace, spaceKey(code))
	if !ok {
		return domain.Space{}, false
	}
	return v.state.spaces[id], true
}

func (v stateView) FindProject(identifier string) (domain.Project, bool) {
	id, ok := v.state.lookup(domain.KindProject, normalizeIdentifier(domain.KindProject, identifier))
	if !ok {
		return domain.Project{}, false
	}
	return v.state.projects[id], true
}

func (v stateView) FindExperiment(identifier string) (domain.Experiment, bool) {
	id, ok := v.state.lookup(domain.KindExperiment, normalizeIdentifier(domain.KindExperiment, identifier))
	if !ok {
		return domain.Experiment{}, false
	}
	return domain.CloneExperiment(v.state.experiments[id]), true
}

func (v stateView) FindSample(identifier string) (domain.Sample, bool) {
	id, ok := v.state.lookup(domain.KindSample, normalizeIdentifier(domain.KindSample, identifier))
	if !ok {
		return domain.Sample{}, false
	}
	return domain.CloneSample(v.state.samples[id]), true
}

func (v stateView) FindMaterial(ref domain.MaterialRef) (domain.Material, bool) {
	id, ok := v.state.lookup(domain.KindMaterial, ref.String())
	if !ok {
		return domain.Material{}, false
	}
	return domain.CloneMaterial(v.state.materials[id]), true
}

func (v stateView) FindMaterialsByCode(code string) []domain.Material {
	code = domain.NormalizeCode(code)
	var out []domain.Material
	for _, m := range v.ListMaterials() {
		if m.Code == code {
			out = append(out, m)
		}
	}
	return out
}

func (v stateView) FindDataSet(code string) (domain.DataSet, bool) {
	id, ok := v.state.lookup(domain.KindDataSet, domain.NormalizeCode(code))
	if !ok {
		return domain.DataSet{}, false
	}
	return domain.CloneDataSet(v.state.dataSets[id]), true
}

func (v stateView) ListSpaces() []domain.Space {
	return sortedValues(v.state.spaces, domain.Space.Identifier)
}

func (v stateView) ListProjects() []domain.Project {
	return sortedValues(v.state.projects, domain.Project.Identifier)
}

func (v stateView) ListExperiments() []domain.Experiment {
	out := sortedValues(v.state.experiments, domain.Experiment.Identifier)
	for i := range out {
		out[i] = domain.CloneExperiment(out[i])
	}
	return out
}

func (v stateView) ListSamples() []domain.Sample {
	out := sortedValues(v.state.samples, domain.Sample.Identifier)
	for i := range out {
		out[i] = domain.CloneSample(out[i])
	}
	return out
}

func (v stateView) ListMaterials() []domain.Material {
	out := sortedValues(v.state.materials, domain.Material.Identifier)
	for i := range out {
		out[i] = domain.CloneMaterial(out[i])
	}
	return out
}

func (v stateView) ListDataSets() []domain.DataSet {
	out := sortedValues(v.state.dataSets, domain.DataSet.Identifier)
	for i := range out {
		out[i] = domain.CloneDataSet(out[i])
	}
	return out
}

func (v stateView) LoadEntity(kind domain.EntityKind, identifier string) (domain.EntityRef, bool) {
	key := normalizeIdentifier(kind, identifier)
	if kind == domain.KindSpace {
		key = spaceKey(identifier)
	}
	id, ok := v.state.lookup(kind, key)
	if !ok {
		return domain.EntityRef{}, false
	}
	return domain.EntityRef{Kind: kind, ID: id, Identifier: key}, true
}

func (v stateView) CountPropertyValues(a domain.Assignment) int {
	code := a.QualifiedPropertyCode()
	n := 0
	count := func(typeCode string, props []domain.EntityProperty) {
		if typeCode != a.EntityTypeCode {
			return
		}
		for _, p := range props {
			if p.PropertyTypeCode == code {
				n++
			}
		}
	}
	switch a.EntityKind {
	case domain.KindExperiment:
		for _, e := range v.state.experiments {
			count(e.TypeCode, e.Properties)
		}
	case domain.KindSample:
		for _, s := range v.state.samples {
			count(s.TypeCode, s.Properties)
		}
	case domain.KindMaterial:
		for _, m := range v.state.materials {
			count(m.TypeCode, m.Properties)
		}
	case domain.KindDataSet:
		for _, d := range v.state.dataSets {
			count(d.TypeCode, d.Properties)
		}
	}
	return n
}

func (v stateView) FindOperation(id domain.RegistrationID) (domain.OperationLogEntry, bool) {
	entry, ok := v.state.operations[id]
	return entry, ok
}
