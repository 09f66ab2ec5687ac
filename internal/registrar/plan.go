package registrar

import (
	"errors"
	"strings"

	"labcore/internal/catalog"
	"labcore/internal/properties"
	"labcore/pkg/domain"
)

// planner validates one batch against a single storage view and catalog
// snapshot and turns it into a domain.Batch. Entities accepted so far are
// indexed so later entries can reference them.
type planner struct {
	view     domain.StateView
	resolver *properties.Resolver
	newID    func() string
	batch    domain.Batch

	spaces        map[string]domain.Space
	projects      map[string]domain.Project
	experiments   map[string]domain.Experiment
	materials     map[string]domain.Material
	samples       map[string]domain.Sample
	dataSets      map[string]domain.DataSet
	sampleUpdates map[string]int
	setUpdates    map[string]int
}

func newPlanner(view domain.StateView, snapshot *catalog.Snapshot, newID func() string) *planner {
	p := &planner{
		view:          view,
		newID:         newID,
		spaces:        make(map[string]domain.Space),
		projects:      make(map[string]domain.Project),
		experiments:   make(map[string]domain.Experiment),
		materials:     make(map[string]domain.Material),
		samples:       make(map[string]domain.Sample),
		dataSets:      make(map[string]domain.DataSet),
		sampleUpdates: make(map[string]int),
		setUpdates:    make(map[string]int),
	}
	p.resolver = properties.NewResolver(snapshot, p)
	return p
}

// at positions err on a batch entity; non-domain errors pass through.
func at(err error, kind domain.EntityKind, pos int) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.At(kind, pos)
	}
	return err
}

func fail(kind domain.ErrorKind, entity domain.EntityKind, pos int, field, format string, args ...any) error {
	return domain.NewError(kind, format, args...).At(entity, pos).WithField(field)
}

func staleVersion(entity domain.EntityKind, pos int, format string, args ...any) error {
	e := domain.NewError(domain.KindCommitConflict, format, args...).At(entity, pos).WithField("expected_version")
	e.Err = domain.ErrStaleExpectedVersion
	return e
}

func checkCode(raw string, entity domain.EntityKind, pos int) (string, error) {
	code := domain.NormalizeCode(raw)
	if !domain.ValidCode(code) {
		return "", fail(domain.KindInvalidCodeFormat, entity, pos, "code", "%q does not match [A-Z0-9_-]+", raw)
	}
	return code, nil
}

func (p *planner) build(details domain.AtomicEntityOperationDetails) (domain.Batch, error) {
	p.batch = domain.Batch{
		RegistrationID: details.RegistrationID(),
		UserID:         details.UserID(),
		BaseVersion:    p.view.Version(),
	}
	steps := []func(domain.AtomicEntityOperationDetails) error{
		p.planSpaces,
		p.planProjects,
		p.planExperiments,
		p.planMaterials,
		p.planSamples,
		p.planSampleUpdates,
		p.planDataSets,
		p.planDataSetUpdates,
	}
	for _, step := range steps {
		if err := step(details); err != nil {
			return domain.Batch{}, err
		}
	}
	return p.batch, nil
}

func (p *planner) planSpaces(details domain.AtomicEntityOperationDetails) error {
	for i, in := range details.Spaces() {
		code, err := checkCode(in.Code, domain.KindSpace, i)
		if err != nil {
			return err
		}
		if _, ok := p.findSpace(code); ok {
			return fail(domain.KindDuplicateCode, domain.KindSpace, i, "code", "space %s already exists", code)
		}
		s := domain.Space{Base: domain.Base{ID: p.newID(), Code: code}, Description: in.Description}
		p.spaces[code] = s
		p.batch.Spaces = append(p.batch.Spaces, s)
		p.batch.Result.SpacesCreated++
	}
	return nil
}

func (p *planner) planProjects(details domain.AtomicEntityOperationDetails) error {
	for i, in := range details.Projects() {
		space, ok := p.findSpace(in.Space)
		if !ok {
			return fail(domain.KindUnknownReference, domain.KindProject, i, "space", "space %q does not exist", in.Space)
		}
		code, err := checkCode(in.Code, domain.KindProject, i)
		if err != nil {
			return err
		}
		identifier := domain.ProjectIdentifier(space.Code, code)
		if _, ok := p.findProject(identifier); ok {
			return fail(domain.KindDuplicateCode, domain.KindProject, i, "code", "project %s already exists", identifier)
		}
		pr := domain.Project{
			Base:        domain.Base{ID: p.newID(), Code: code},
			SpaceID:     space.ID,
			SpaceCode:   space.Code,
			Description: in.Description,
		}
		p.projects[identifier] = pr
		p.batch.Projects = append(p.batch.Projects, pr)
		p.batch.Result.ProjectsCreated++
	}
	return nil
}

func (p *planner) planExperiments(details domain.AtomicEntityOperationDetails) error {
	for i, in := range details.Experiments() {
		project, ok := p.findProject(in.Project)
		if !ok {
			return fail(domain.KindUnknownReference, domain.KindExperiment, i, "project", "project %q does not exist", in.Project)
		}
		code, err := checkCode(in.Code, domain.KindExperiment, i)
		if err != nil {
			return err
		}
		identifier := domain.ExperimentIdentifier(project.SpaceCode, project.Code, code)
		if _, ok := p.findExperiment(identifier); ok {
			return fail(domain.KindDuplicateCode, domain.KindExperiment, i, "code", "experiment %s already exists", identifier)
		}
		props, err := p.resolver.ResolveSet(domain.KindExperiment, in.Type, in.Properties, nil)
		if err != nil {
			return at(err, domain.KindExperiment, i)
		}
		e := domain.Experiment{
			Base:              domain.Base{ID: p.newID(), Code: code},
			TypeCode:          domain.NormalizeCode(in.Type),
			ProjectID:         project.ID,
			ProjectIdentifier: project.Identifier(),
			Properties:        props,
		}
		p.experiments[identifier] = e
		p.batch.Experiments = append(p.batch.Experiments, e)
		p.batch.Result.ExperimentsCreated++
	}
	return nil
}

func (p *planner) planMaterials(details domain.AtomicEntityOperationDetails) error {
	materials := details.Materials()
	for _, typeCode := range details.MaterialTypeCodes() {
		for i, in := range materials[typeCode] {
			if err := p.planMaterial(domain.NormalizeCode(typeCode), i, in); err != nil {
				var de *domain.Error
				if errors.As(err, &de) {
					de = de.At(domain.KindMaterial, i)
					de.MaterialType = domain.NormalizeCode(typeCode)
					return de
				}
				return err
			}
		}
	}
	return nil
}

func (p *planner) planMaterial(typeCode string, pos int, in domain.NewMaterial) error {
	code, err := checkCode(in.Code, domain.KindMaterial, pos)
	if err != nil {
		return err
	}
	ref := domain.MaterialRef{Code: code, TypeCode: typeCode}
	if _, ok := p.FindMaterial(ref); ok {
		return domain.NewError(domain.KindDuplicateCode, "material %s already exists", ref).WithField("code")
	}
	props, err := p.resolver.ResolveSet(domain.KindMaterial, typeCode, in.Properties, nil)
	if err != nil {
		return err
	}
	m := domain.Material{Base: domain.Base{ID: p.newID(), Code: code}, TypeCode: typeCode, Properties: props}
	p.materials[ref.String()] = m
	p.batch.Materials = append(p.batch.Materials, m)
	p.batch.Result.MaterialsCreated++
	return nil
}

func (p *planner) planSamples(details domain.AtomicEntityOperationDetails) error {
	for i, in := range details.Samples() {
		var space domain.Space
		if strings.TrimSpace(in.Space) != "" {
			var ok bool
			if space, ok = p.findSpace(in.Space); !ok {
				return fail(domain.KindUnknownReference, domain.KindSample, i, "space", "space %q does not exist", in.Space)
			}
		}
		code, err := checkCode(in.Code, domain.KindSample, i)
		if err != nil {
			return err
		}
		identifier := domain.SampleIdentifier(space.Code, code)
		if _, ok := p.findSample(identifier); ok {
			return fail(domain.KindDuplicateCode, domain.KindSample, i, "code", "sample %s already exists", identifier)
		}
		s := domain.Sample{
			Base:      domain.Base{ID: p.newID(), Code: code},
			TypeCode:  domain.NormalizeCode(in.Type),
			SpaceID:   space.ID,
			SpaceCode: space.Code,
		}
		if in.Experiment != "" {
			e, ok := p.findExperiment(in.Experiment)
			if !ok {
				return fail(domain.KindUnknownReference, domain.KindSample, i, "experiment", "experiment %q does not exist", in.Experiment)
			}
			s.ExperimentID = e.ID
		}
		for _, parent := range in.Parents {
			ps, ok := p.findSample(parent)
			if !ok {
				return fail(domain.KindUnknownReference, domain.KindSample, i, "parents", "parent sample %q does not exist", parent)
			}
			s.ParentIDs = append(s.ParentIDs, ps.ID)
		}
		if s.Properties, err = p.resolver.ResolveSet(domain.KindSample, in.Type, in.Properties, nil); err != nil {
			return at(err, domain.KindSample, i)
		}
		p.samples[identifier] = s
		p.batch.Samples = append(p.batch.Samples, s)
		p.batch.Result.SamplesCreated++
	}
	return nil
}

// planSampleUpdates targets stored samples only. Repeated updates of one
// sample merge into a single pending update.
func (p *planner) planSampleUpdates(details domain.AtomicEntityOperationDetails) error {
	for i, in := range details.SampleUpdates() {
		stored, ok := p.view.FindSample(canonicalSample(in.Sample))
		if !ok {
			return fail(domain.KindUnknownReference, domain.KindSample, i, "sample", "sample %q does not exist", in.Sample)
		}
		if in.ExpectedVersion != 0 && in.ExpectedVersion != stored.Version {
			return staleVersion(domain.KindSample, i,
				"sample %s is at version %d, not %d", stored.Identifier(), stored.Version, in.ExpectedVersion)
		}
		pending, seen := p.sampleUpdates[stored.ID]
		current := stored
		if seen {
			current = p.batch.SampleUpdates[pending]
		}
		next := domain.CloneSample(current)
		if in.Experiment != "" {
			e, ok := p.findExperiment(in.Experiment)
			if !ok {
				return fail(domain.KindUnknownReference, domain.KindSample, i, "experiment", "experiment %q does not exist", in.Experiment)
			}
			next.ExperimentID = e.ID
		}
		props, err := p.resolver.ResolveSet(domain.KindSample, stored.TypeCode, in.Properties, current.Properties)
		if err != nil {
			return at(err, domain.KindSample, i)
		}
		next.Properties = props
		if seen {
			p.batch.SampleUpdates[pending] = next
			continue
		}
		p.sampleUpdates[stored.ID] = len(p.batch.SampleUpdates)
		p.batch.SampleUpdates = append(p.batch.SampleUpdates, next)
		p.batch.Result.SamplesUpdated++
	}
	return nil
}

func (p *planner) planDataSets(details domain.AtomicEntityOperationDetails) error {
	for i, in := range details.DataSets() {
		code, err := checkCode(in.Code, domain.KindDataSet, i)
		if err != nil {
			return err
		}
		if _, ok := p.findDataSet(code); ok {
			return fail(domain.KindDuplicateCode, domain.KindDataSet, i, "code", "data set %s already exists", code)
		}
		if in.Experiment == "" && in.Sample == "" {
			return fail(domain.KindUnknownReference, domain.KindDataSet, i, "experiment", "data set %s needs an experiment or a sample", code)
		}
		d := domain.DataSet{
			Base:     domain.Base{ID: p.newID(), Code: code},
			TypeCode: domain.NormalizeCode(in.Type),
		}
		if err := p.attach(&d, in.Experiment, in.Sample, domain.KindDataSet, i); err != nil {
			return err
		}
		for _, parent := range in.Parents {
			pd, ok := p.findDataSet(parent)
			if !ok {
				return fail(domain.KindUnknownReference, domain.KindDataSet, i, "parents", "parent data set %q does not exist", parent)
			}
			d.ParentIDs = append(d.ParentIDs, pd.ID)
		}
		if d.Properties, err = p.resolver.ResolveSet(domain.KindDataSet, in.Type, in.Properties, nil); err != nil {
			return at(err, domain.KindDataSet, i)
		}
		p.dataSets[code] = d
		p.batch.DataSets = append(p.batch.DataSets, d)
		p.batch.Result.DataSetsCreated++
	}
	return nil
}

func (p *planner) planDataSetUpdates(details domain.AtomicEntityOperationDetails) error {
	for i, in := range details.DataSetUpdates() {
		stored, ok := p.view.FindDataSet(in.Code)
		if !ok {
			return fail(domain.KindUnknownReference, domain.KindDataSet, i, "code", "data set %q does not exist", in.Code)
		}
		if in.ExpectedVersion != 0 && in.ExpectedVersion != stored.Version {
			return staleVersion(domain.KindDataSet, i,
				"data set %s is at version %d, not %d", stored.Code, stored.Version, in.ExpectedVersion)
		}
		pending, seen := p.setUpdates[stored.ID]
		current := stored
		if seen {
			current = p.batch.DataSetUpdates[pending]
		}
		next := domain.CloneDataSet(current)
		if err := p.attach(&next, in.Experiment, in.Sample, domain.KindDataSet, i); err != nil {
			return err
		}
		props, err := p.resolver.ResolveSet(domain.KindDataSet, stored.TypeCode, in.Properties, current.Properties)
		if err != nil {
			return at(err, domain.KindDataSet, i)
		}
		next.Properties = props
		if seen {
			p.batch.DataSetUpdates[pending] = next
			continue
		}
		p.setUpdates[stored.ID] = len(p.batch.DataSetUpdates)
		p.batch.DataSetUpdates = append(p.batch.DataSetUpdates, next)
		p.batch.Result.DataSetsUpdated++
	}
	return nil
}

func (p *planner) attach(d *domain.DataSet, experiment, sample string, kind domain.EntityKind, pos int) error {
	if experiment != "" {
		e, ok := p.findExperiment(experiment)
		if !ok {
			return fail(domain.KindUnknownReference, kind, pos, "experiment", "experiment %q does not exist", experiment)
		}
		d.ExperimentID = e.ID
	}
	if sample != "" {
		s, ok := p.findSample(sample)
		if !ok {
			return fail(domain.KindUnknownReference, kind, pos, "sample", "sample %q does not exist", sample)
		}
		d.SampleID = s.ID
	}
	return nil
}

func canonicalSample(identifier string) string {
	space, code, ok := domain.ParseSampleIdentifier(identifier)
	if !ok {
		return strings.ToUpper(strings.TrimSpace(identifier))
	}
	return domain.SampleIdentifier(space, code)
}

func (p *planner) findSpace(code string) (domain.Space, bool) {
	code = strings.TrimPrefix(domain.NormalizeCode(code), "/")
	if s, ok := p.spaces[code]; ok {
		return s, true
	}
	return p.view.FindSpace(code)
}

func (p *planner) findProject(identifier string) (domain.Project, bool) {
	space, code, ok := domain.ParseProjectIdentifier(identifier)
	if !ok {
		return domain.Project{}, false
	}
	identifier = domain.ProjectIdentifier(space, code)
	if pr, ok := p.projects[identifier]; ok {
		return pr, true
	}
	return p.view.FindProject(identifier)
}

func (p *planner) findExperiment(identifier string) (domain.Experiment, bool) {
	space, project, code, ok := domain.ParseExperimentIdentifier(identifier)
	if !ok {
		return domain.Experiment{}, false
	}
	identifier = domain.ExperimentIdentifier(space, project, code)
	if e, ok := p.experiments[identifier]; ok {
		return e, true
	}
	return p.view.FindExperiment(identifier)
}

func (p *planner) findSample(identifier string) (domain.Sample, bool) {
	identifier = canonicalSample(identifier)
	if s, ok := p.samples[identifier]; ok {
		return s, true
	}
	return p.view.FindSample(identifier)
}

func (p *planner) findDataSet(code string) (domain.DataSet, bool) {
	code = domain.NormalizeCode(code)
	if d, ok := p.dataSets[code]; ok {
		return d, true
	}
	return p.view.FindDataSet(code)
}

// FindMaterial implements properties.MaterialLookup over storage plus the batch.
func (p *planner) FindMaterial(ref domain.MaterialRef) (domain.Material, bool) {
	if m, ok := p.materials[ref.String()]; ok {
		return m, true
	}
	return p.view.FindMaterial(ref)
}

// FindMaterialsByCode implements properties.MaterialLookup over storage plus the batch.
func (p *planner) FindMaterialsByCode(code string) []domain.Material {
	code = domain.NormalizeCode(code)
	out := p.view.FindMaterialsByCode(code)
	for _, m := range p.batch.Materials {
		if m.Code == code {
			out = append(out, m)
		}
	}
	return out
}
