package indexing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"labcore/internal/blob"
	blobfs "labcore/internal/infra/blob/fs"
	blobmem "labcore/internal/infra/blob/memory"
	blobs3 "labcore/internal/infra/blob/s3"
	"labcore/internal/observability"
	"labcore/pkg/domain"
)

type collectingSink struct {
	mu   sync.Mutex
	envs []Envelope
}

func (s *collectingSink) Deliver(_ context.Context, env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
	return nil
}

func (s *collectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

func change(id string) domain.Change {
	return domain.Change{
		Entity: domain.EntityRef{Kind: domain.KindSample, ID: id, Identifier: "/LAB/" + id},
		Action: domain.ActionCreate,
	}
}

func stop(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestDispatcherFansOutToEverySink(t *testing.T) {
	a, b := &collectingSink{}, &collectingSink{}
	d := NewDispatcher([]Sink{a, b})
	d.Start()
	d.Start()
	changes := []domain.Change{change("S1"), change("S2")}
	d.Notify(context.Background(), changes)
	d.Notify(context.Background(), []domain.Change{change("S3")})
	d.Notify(context.Background(), nil)
	changes[0].Entity.ID = "mutated"
	stop(t, d)

	if a.count() != 2 || b.count() != 2 {
		t.Fatalf("deliveries: %d %d", a.count(), b.count())
	}
	if a.envs[0].Changes[0].Entity.ID != "S1" || a.envs[0].ID == "" {
		t.Fatalf("envelope not copied: %+v", a.envs[0])
	}
	if d.Dropped() != 0 {
		t.Fatalf("unexpected drops: %d", d.Dropped())
	}
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := &collectingSink{}
	d := NewDispatcher([]Sink{sink}, WithQueueSize(1), WithLogger(observability.NewZapLogger(zap.New(core))))

	d.Notify(context.Background(), []domain.Change{change("S1")})
	d.Notify(context.Background(), []domain.Change{change("S2")})
	if d.Dropped() != 1 {
		t.Fatalf("dropped: %d", d.Dropped())
	}
	if logs.FilterMessage("index queue full, dropping changes").Len() != 1 {
		t.Fatalf("drop not logged: %+v", logs.All())
	}
	d.Start()
	stop(t, d)
	if sink.count() != 1 {
		t.Fatalf("queued envelope not delivered on stop: %d", sink.count())
	}
}

func TestDispatcherLogsSinkFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ok := &collectingSink{}
	failing := SinkFunc(func(context.Context, Envelope) error { return errors.New("index offline") })
	d := NewDispatcher([]Sink{ok, failing}, WithLogger(observability.NewZapLogger(zap.New(core))))
	d.Start()
	d.Notify(context.Background(), []domain.Change{change("S1")})
	stop(t, d)

	if ok.count() != 1 {
		t.Fatalf("healthy sink starved: %d", ok.count())
	}
	entries := logs.FilterMessage("index delivery failed").All()
	if len(entries) != 1 {
		t.Fatalf("failure not logged: %+v", logs.All())
	}
}

func TestDispatcherFailingSinkDoesNotCancelOthers(t *testing.T) {
	failed := make(chan struct{})
	failing := SinkFunc(func(context.Context, Envelope) error {
		defer close(failed)
		return errors.New("index offline")
	})
	slow := &collectingSink{}
	waiting := SinkFunc(func(ctx context.Context, env Envelope) error {
		<-failed
		// Give a cancellation, if any, time to land before delivering.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
		return slow.Deliver(ctx, env)
	})
	d := NewDispatcher([]Sink{failing, waiting})
	d.Start()
	d.Notify(context.Background(), []domain.Change{change("S1")})
	stop(t, d)

	if slow.count() != 1 {
		t.Fatalf("slow sink canceled by a sibling failure: %d", slow.count())
	}
}

func outboxBackends(t *testing.T) map[string]blob.Store {
	fsStore, err := blobfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}
	return map[string]blob.Store{
		"memory": blobmem.New(),
		"fs":     fsStore,
		"s3":     blobs3.NewFake(),
	}
}

func TestBlobOutboxLifecycle(t *testing.T) {
	for name, store := range outboxBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			outbox := NewBlobOutbox(store, "outbox")
			base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
			second := Envelope{ID: "b", Changes: []domain.Change{change("S2")}, CreatedAt: base.Add(time.Second)}
			first := Envelope{ID: "a", Changes: []domain.Change{change("S1")}, CreatedAt: base}

			for _, env := range []Envelope{second, first, first} {
				if err := outbox.Deliver(ctx, env); err != nil {
					t.Fatalf("deliver %s: %v", env.ID, err)
				}
			}
			pending, err := outbox.Pending(ctx)
			if err != nil {
				t.Fatalf("pending: %v", err)
			}
			if len(pending) != 2 || pending[0].Envelope.ID != "a" || pending[1].Envelope.ID != "b" {
				t.Fatalf("pending order: %+v", pending)
			}
			got := pending[0].Envelope.Changes[0]
			if got.Entity.Identifier != "/LAB/S1" || got.Action != domain.ActionCreate {
				t.Fatalf("round trip: %+v", got)
			}

			if ok, err := outbox.Ack(ctx, pending[0].Key); err != nil || !ok {
				t.Fatalf("ack: %v %v", ok, err)
			}
			if ok, _ := outbox.Ack(ctx, pending[0].Key); ok {
				t.Fatalf("double ack reported true")
			}
			if _, err := outbox.Ack(ctx, "elsewhere/x.json"); err == nil {
				t.Fatalf("ack outside prefix accepted")
			}
			pending, _ = outbox.Pending(ctx)
			if len(pending) != 1 || pending[0].Envelope.ID != "b" {
				t.Fatalf("pending after ack: %+v", pending)
			}
		})
	}
}

func TestDispatcherFeedsOutbox(t *testing.T) {
	store := blobmem.New()
	outbox := NewBlobOutbox(store, "")
	d := NewDispatcher([]Sink{outbox})
	d.Start()
	d.Notify(context.Background(), []domain.Change{change("S1"), change("S2")})
	stop(t, d)

	pending, err := outbox.Pending(context.Background())
	if err != nil || len(pending) != 1 || len(pending[0].Envelope.Changes) != 2 {
		t.Fatalf("outbox: %+v %v", pending, err)
	}
	if pending[0].Key != outbox.Key(pending[0].Envelope) {
		t.Fatalf("key mismatch: %s", pending[0].Key)
	}
}
