// Package core wires the catalog, registrar, persistent store and index
// dispatcher into the caller-facing Service.
package core

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"labcore/internal/catalog"
	"labcore/internal/indexing"
	"labcore/internal/observability"
	"labcore/internal/registrar"
	"labcore/pkg/domain"
)

// Option configures a Service.
type Option func(*serviceOptions)

type serviceOptions struct {
	logger    observability.Logger
	metrics   observability.MetricsRecorder
	tracer    observability.Tracer
	sinks     []indexing.Sink
	queueSize int
	observers []registrar.Observer
}

// WithLogger sets the logger shared by the registrar and dispatcher.
func WithLogger(logger observability.Logger) Option {
	return func(o *serviceOptions) { o.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics observability.MetricsRecorder) Option {
	return func(o *serviceOptions) { o.metrics = metrics }
}

// WithTracer sets the tracer used for registrar spans.
func WithTracer(tracer observability.Tracer) Option {
	return func(o *serviceOptions) { o.tracer = tracer }
}

// WithIndexSinks adds sinks that receive committed changes asynchronously.
func WithIndexSinks(sinks ...indexing.Sink) Option {
	return func(o *serviceOptions) { o.sinks = append(o.sinks, sinks...) }
}

// WithIndexQueueSize bounds the number of undelivered change batches.
func WithIndexQueueSize(n int) Option {
	return func(o *serviceOptions) { o.queueSize = n }
}

// WithObserver subscribes to registration state transitions.
func WithObserver(obs registrar.Observer) Option {
	return func(o *serviceOptions) { o.observers = append(o.observers, obs) }
}

// Service exposes batch registration and catalog administration.
type Service struct {
	catalog    *catalog.Catalog
	store      domain.PersistentStore
	registrar  *registrar.Registrar
	dispatcher *indexing.Dispatcher
	outbox     *indexing.BlobOutbox
	logger     observability.Logger
}

// NewService constructs a service over a catalog and store. When sinks are
// configured the index dispatcher is started immediately; Close stops it.
func NewService(cat *catalog.Catalog, store domain.PersistentStore, opts ...Option) *Service {
	o := serviceOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Service{catalog: cat, store: store, logger: observability.OrNoop(o.logger)}

	regOpts := []registrar.Option{
		registrar.WithLogger(o.logger),
		registrar.WithMetrics(o.metrics),
		registrar.WithTracer(o.tracer),
	}
	for _, obs := range o.observers {
		regOpts = append(regOpts, registrar.WithObserver(obs))
	}
	if len(o.sinks) > 0 {
		s.dispatcher = indexing.NewDispatcher(o.sinks,
			indexing.WithQueueSize(o.queueSize),
			indexing.WithLogger(o.logger),
			indexing.WithMetrics(o.metrics),
		)
		s.dispatcher.Start()
		regOpts = append(regOpts, registrar.WithNotifier(s.dispatcher))
		for _, sink := range o.sinks {
			if ob, ok := sink.(*indexing.BlobOutbox); ok && s.outbox == nil {
				s.outbox = ob
			}
		}
	}
	s.registrar = registrar.New(cat, store, regOpts...)
	return s
}

// Catalog returns the metamodel catalog.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Outbox returns the blob outbox sink, or nil when none is configured.
func (s *Service) Outbox() *indexing.BlobOutbox { return s.outbox }

// PerformAtomicOperations validates and commits a batch atomically.
func (s *Service) PerformAtomicOperations(ctx context.Context, details domain.AtomicEntityOperationDetails) (domain.AtomicEntityOperationResult, error) {
	return s.registrar.Perform(ctx, details)
}

// DidEntityOperationsSucceed reports the state of a registration id.
func (s *Service) DidEntityOperationsSucceed(ctx context.Context, id domain.RegistrationID) (domain.EntityOperationsState, error) {
	return s.registrar.OperationsState(ctx, id)
}

// LoadEntity resolves a business identifier to a stored entity reference.
func (s *Service) LoadEntity(ctx context.Context, kind domain.EntityKind, identifier string) (domain.EntityRef, bool, error) {
	return s.store.LoadEntity(ctx, kind, identifier)
}

// DefineVocabulary registers a controlled vocabulary.
func (s *Service) DefineVocabulary(v domain.Vocabulary) (domain.Vocabulary, error) {
	return s.catalog.DefineVocabulary(v)
}

// AddVocabularyTerm appends a term to an existing vocabulary.
func (s *Service) AddVocabularyTerm(vocabulary string, term domain.VocabularyTerm) (domain.VocabularyTerm, error) {
	return s.catalog.AddVocabularyTerm(vocabulary, term)
}

// DefinePropertyType registers a property type.
func (s *Service) DefinePropertyType(def domain.PropertyType) (domain.PropertyType, error) {
	return s.catalog.DefinePropertyType(def)
}

// DefineEntityType registers an entity type of a typed kind.
func (s *Service) DefineEntityType(kind domain.EntityKind, code, description string) (domain.EntityType, error) {
	return s.catalog.DefineEntityType(kind, code, description)
}

// Assign binds a property type to an entity type.
func (s *Service) Assign(req catalog.AssignRequest) (domain.Assignment, error) {
	return s.catalog.Assign(req)
}

// Unassign removes an assignment unless stored property values still use it.
func (s *Service) Unassign(ctx context.Context, kind domain.EntityKind, entityType, propertyType string) error {
	return s.catalog.Unassign(ctx, kind, entityType, propertyType, storeUsage{store: s.store})
}

// ApplyMasterData loads a master-data document into the catalog.
func (s *Service) ApplyMasterData(md catalog.MasterData) error {
	return s.catalog.Apply(md)
}

// Close drains the index dispatcher and releases the store.
func (s *Service) Close(ctx context.Context) error {
	var err error
	if s.dispatcher != nil {
		if stopErr := s.dispatcher.Stop(ctx); stopErr != nil {
			err = multierr.Append(err, fmt.Errorf("stop index dispatcher: %w", stopErr))
		}
		if dropped := s.dispatcher.Dropped(); dropped > 0 {
			s.logger.Warn("index changes dropped during run", "envelopes", dropped)
		}
	}
	if closeErr := closeStore(s.store); closeErr != nil {
		err = multierr.Append(err, fmt.Errorf("close store: %w", closeErr))
	}
	return err
}

// storeUsage counts property values against the latest committed state.
type storeUsage struct {
	store domain.PersistentStore
}

func (u storeUsage) CountPropertyValues(ctx context.Context, a domain.Assignment) (int, error) {
	var n int
	err := u.store.View(ctx, func(v domain.StateView) error {
		n = v.CountPropertyValues(a)
		return nil
	})
	return n, err
}
