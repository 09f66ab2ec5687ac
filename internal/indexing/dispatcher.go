// Package indexing hands committed entity changes to the search indexer.
// The registrar enqueues and returns; a single worker delivers each batch
// of changes to every configured sink.
package indexing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"labcore/internal/observability"
	"labcore/pkg/domain"
)

// DefaultQueueSize bounds the number of undelivered envelopes.
const DefaultQueueSize = 256

// Envelope is one committed batch worth of changes.
type Envelope struct {
	ID        string          `json:"id"`
	Changes   []domain.Change `json:"changes"`
	CreatedAt time.Time       `json:"created_at"`
}

// Sink receives envelopes on the dispatcher goroutine.
type Sink interface {
	Deliver(ctx context.Context, env Envelope) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, env Envelope) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, env Envelope) error { return f(ctx, env) }

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Envelope, n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(d *Dispatcher) { d.logger = observability.OrNoop(logger) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics observability.MetricsRecorder) Option {
	return func(d *Dispatcher) { d.metrics = observability.OrNoopMetrics(metrics) }
}

// WithClock overrides the envelope timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// Dispatcher delivers envelopes asynchronously. Notify never blocks: when the
// queue is full the envelope is dropped and counted.
type Dispatcher struct {
	sinks   []Sink
	logger  observability.Logger
	metrics observability.MetricsRecorder
	now     func() time.Time

	queue   chan Envelope
	dropped atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewDispatcher constructs a dispatcher over sinks. Call Start to begin delivery.
func NewDispatcher(sinks []Sink, opts ...Option) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sinks:   append([]Sink(nil), sinks...),
		logger:  observability.NoopLogger(),
		metrics: observability.NoopMetrics(),
		now:     func() time.Time { return time.Now().UTC() },
		queue:   make(chan Envelope, DefaultQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the worker goroutine. Repeated calls are no-ops.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.loop()
	})
}

// Stop halts the worker after it drains the queue, or returns ctx's error
// if that takes too long.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(d.cancel)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify enqueues changes without waiting for delivery.
func (d *Dispatcher) Notify(ctx context.Context, changes []domain.Change) {
	if len(changes) == 0 {
		return
	}
	env := Envelope{
		ID:        uuid.NewString(),
		Changes:   append([]domain.Change(nil), changes...),
		CreatedAt: d.now(),
	}
	select {
	case d.queue <- env:
	default:
		d.dropped.Add(1)
		d.metrics.Observe(ctx, "index_enqueue", false, 0)
		d.logger.Warn("index queue full, dropping changes", "envelope", env.ID, "changes", len(env.Changes))
	}
}

// Dropped returns the number of envelopes discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			d.drain()
			return
		case env := <-d.queue:
			d.deliver(env)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case env := <-d.queue:
			d.deliver(env)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(env Envelope) {
	start := time.Now()
	// Sinks are independent: one failing must not cancel the others.
	var g errgroup.Group
	for _, sink := range d.sinks {
		g.Go(func() error {
			if err := sink.Deliver(context.Background(), env); err != nil {
				return fmt.Errorf("deliver %s: %w", env.ID, err)
			}
			return nil
		})
	}
	err := g.Wait()
	d.metrics.Observe(context.Background(), "index_deliver", err == nil, time.Since(start))
	if err != nil {
		d.logger.Error("index delivery failed", "envelope", env.ID, "error", err)
		return
	}
	d.logger.Debug("index delivery complete", "envelope", env.ID, "changes", len(env.Changes))
}
