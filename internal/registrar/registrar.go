// Package registrar validates and commits atomic multi-entity batches.
package registrar

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"labcore/internal/catalog"
	"labcore/internal/observability"
	"labcore/pkg/domain"
)

// Notifier receives the changes of every committed batch. Implementations
// must return without waiting for delivery.
type Notifier interface {
	Notify(ctx context.Context, changes []domain.Change)
}

// Option configures a Registrar.
type Option func(*Registrar)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(r *Registrar) { r.logger = observability.OrNoop(logger) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics observability.MetricsRecorder) Option {
	return func(r *Registrar) { r.metrics = observability.OrNoopMetrics(metrics) }
}

// WithTracer sets the tracer.
func WithTracer(tracer observability.Tracer) Option {
	return func(r *Registrar) { r.tracer = observability.OrNoopTracer(tracer) }
}

// WithNotifier sets the change notifier.
func WithNotifier(n Notifier) Option {
	return func(r *Registrar) { r.notifier = n }
}

// WithObserver subscribes to state transitions of every execution.
func WithObserver(obs Observer) Option {
	return func(r *Registrar) {
		if obs != nil {
			r.observers = append(r.observers, obs)
		}
	}
}

// WithIDGenerator overrides the entity ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registrar) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// Registrar runs batches through validation and commit.
type Registrar struct {
	catalog   *catalog.Catalog
	store     domain.PersistentStore
	notifier  Notifier
	logger    observability.Logger
	metrics   observability.MetricsRecorder
	tracer    observability.Tracer
	observers []Observer
	newID     func() string

	group   singleflight.Group
	mu      sync.Mutex
	pending map[domain.RegistrationID]*execution
}

// New constructs a registrar over a catalog and a store.
func New(cat *catalog.Catalog, store domain.PersistentStore, opts ...Option) *Registrar {
	r := &Registrar{
		catalog: cat,
		store:   store,
		logger:  observability.NoopLogger(),
		metrics: observability.NoopMetrics(),
		tracer:  observability.OrNoopTracer(nil),
		newID:   uuid.NewString,
		pending: make(map[domain.RegistrationID]*execution),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

const operationPerform = "perform_atomic_operations"

// Perform validates and commits a batch. A registration id already in the
// operation log returns the logged result without side effects; concurrent
// calls with the same id share one execution.
func (r *Registrar) Perform(ctx context.Context, details domain.AtomicEntityOperationDetails) (res domain.AtomicEntityOperationResult, err error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "registrar.Perform")
	defer func() {
		span.End(err)
		r.metrics.Observe(ctx, operationPerform, err == nil, time.Since(start))
	}()

	id := details.RegistrationID()
	if id == "" {
		return r.run(ctx, details)
	}
	v, err, shared := r.group.Do(string(id), func() (any, error) {
		return r.run(ctx, details)
	})
	if shared {
		r.logger.Debug("registration collapsed", "registration_id", id)
	}
	if err != nil {
		return domain.AtomicEntityOperationResult{}, err
	}
	return v.(domain.AtomicEntityOperationResult), nil
}

func (r *Registrar) run(ctx context.Context, details domain.AtomicEntityOperationDetails) (domain.AtomicEntityOperationResult, error) {
	id := details.RegistrationID()
	exec := r.begin(id)
	defer r.finish(exec)

	if err := exec.advance(StateValidating, nil); err != nil {
		return domain.AtomicEntityOperationResult{}, err
	}
	if id != "" {
		prior, ok, err := r.store.FindPriorResult(ctx, id)
		if err != nil {
			return r.reject(exec, err)
		}
		if ok {
			_ = exec.advance(StateCommitting, nil)
			_ = exec.advance(StateCommitted, nil)
			r.logger.Info("registration replayed", "registration_id", id)
			return prior, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return r.reject(exec, err)
	}

	snapshot := r.catalog.Snapshot()
	var batch domain.Batch
	err := r.store.View(ctx, func(view domain.StateView) error {
		var err error
		batch, err = newPlanner(view, snapshot, r.newID).build(details)
		return err
	})
	if err != nil {
		return r.reject(exec, err)
	}

	if err := exec.advance(StateCommitting, nil); err != nil {
		return domain.AtomicEntityOperationResult{}, err
	}
	outcome, err := r.store.SaveBatch(ctx, batch)
	if err != nil {
		_ = exec.advance(StateRolledBack, err)
		r.logger.Warn("registration rolled back", "registration_id", id, "error", err)
		return domain.AtomicEntityOperationResult{}, err
	}
	_ = exec.advance(StateCommitted, nil)
	r.logger.Info("registration committed",
		"registration_id", id,
		"version", outcome.Version,
		"catalog_version", snapshot.Version(),
		"entities", outcome.Result.Total(),
		"replayed", outcome.Replayed,
	)
	if !outcome.Replayed && r.notifier != nil && len(outcome.Changes) > 0 {
		r.notifier.Notify(ctx, outcome.Changes)
	}
	return outcome.Result, nil
}

func (r *Registrar) reject(exec *execution, err error) (domain.AtomicEntityOperationResult, error) {
	_ = exec.advance(StateRejected, err)
	r.logger.Warn("registration rejected", "registration_id", exec.id, "error", err)
	return domain.AtomicEntityOperationResult{}, err
}

func (r *Registrar) begin(id domain.RegistrationID) *execution {
	exec := newExecution(id, r.observers)
	if id != "" {
		r.mu.Lock()
		r.pending[id] = exec
		r.mu.Unlock()
	}
	return exec
}

func (r *Registrar) finish(exec *execution) {
	if exec.id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[exec.id] == exec {
		delete(r.pending, exec.id)
	}
}

// OperationsState reports whether a registration id is unknown, executing
// or committed.
func (r *Registrar) OperationsState(ctx context.Context, id domain.RegistrationID) (domain.EntityOperationsState, error) {
	if id == "" {
		return domain.OperationsNone, nil
	}
	r.mu.Lock()
	exec, running := r.pending[id]
	r.mu.Unlock()
	if running && !exec.current().Terminal() {
		return domain.OperationsInProgress, nil
	}
	_, ok, err := r.store.FindPriorResult(ctx, id)
	if err != nil {
		return domain.OperationsNone, err
	}
	if ok {
		return domain.OperationsSucceeded, nil
	}
	return domain.OperationsNone, nil
}
