// Package memory provides the in-memory implementation of the labcore storage
// boundary. The SQLite and Postgres stores embed it and add durability
// through a commit hook.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"labcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

// Commit is handed to the commit hook before a new state becomes visible.
type Commit struct {
	Batch    domain.Batch
	Outcome  domain.CommitOutcome
	Snapshot Snapshot
	// Buckets names the snapshot buckets the batch touched.
	Buckets []string
}

// CommitHook makes a commit durable. A returned error aborts the commit and
// leaves the visible state untouched.
type CommitHook func(ctx context.Context, commit Commit) error

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithIDGenerator overrides the generator used for entities that arrive without an ID.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithCommitHook installs a durability hook.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.hook = hook }
}

// Store is an in-memory, snapshot-isolated store. Readers never block writers
// for longer than a pointer read.
type Store struct {
	mu    sync.RWMutex
	state *state
	nowFn func() time.Time
	newID func() string
	hook  CommitHook
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state: newState(),
		nowFn: func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCommitHook replaces the durability hook; used by embedding stores once
// their connection is ready.
func (s *Store) SetCommitHook(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	return snapshotFromState(s.current())
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	next := stateFromSnapshot(snapshot)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = next
}

// Refresh replaces the state with the snapshot returned by load. No batch
// commits while load runs.
func (s *Store) Refresh(ctx context.Context, load func(context.Context) (Snapshot, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, err := load(ctx)
	if err != nil {
		return err
	}
	s.state = stateFromSnapshot(snapshot)
	return nil
}

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time { return s.nowFn }

func (s *Store) current() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// View executes fn against the state as of the call. The view stays
// consistent for the whole call even if batches commit meanwhile.
func (s *Store) View(ctx context.Context, fn func(domain.StateView) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(stateView{state: s.current()})
}

// FindPriorResult returns the logged result of a registration id.
func (s *Store) FindPriorResult(_ context.Context, id domain.RegistrationID) (domain.AtomicEntityOperationResult, bool, error) {
	if id == "" {
		return domain.AtomicEntityOperationResult{}, false, nil
	}
	entry, ok := s.current().operations[id]
	return entry.Result, ok, nil
}

// LoadEntity resolves a business identifier to a reference.
func (s *Store) LoadEntity(_ context.Context, kind domain.EntityKind, identifier string) (domain.EntityRef, bool, error) {
	ref, ok := stateView{state: s.current()}.LoadEntity(kind, identifier)
	return ref, ok, nil
}

// SaveBatch applies a validated batch atomically. A registration id that is
// already logged returns the logged result with Replayed set. Codes taken or
// versions advanced since validation fail with CommitConflict.
func (s *Store) SaveBatch(ctx context.Context, batch domain.Batch) (domain.CommitOutcome, error) {
	if err := ctx.Err(); err != nil {
		return domain.CommitOutcome{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state
	if batch.RegistrationID != "" {
		if entry, ok := cur.operations[batch.RegistrationID]; ok {
			return domain.CommitOutcome{
				Result:      entry.Result,
				Replayed:    true,
				Version:     cur.version,
				CommittedAt: entry.CommittedAt,
			}, nil
		}
	}

	now := s.nowFn()
	tx := &transaction{state: cur.clone(), now: now, newID: s.newID, userID: batch.UserID}
	if err := tx.apply(batch); err != nil {
		return domain.CommitOutcome{}, err
	}
	tx.state.version++
	if batch.RegistrationID != "" {
		tx.state.operations[batch.RegistrationID] = domain.OperationLogEntry{
			RegistrationID: batch.RegistrationID,
			UserID:         batch.UserID,
			Result:         batch.Result,
			CommittedAt:    now,
		}
		tx.touch(bucketOperations)
	}
	outcome := domain.CommitOutcome{
		Result:      batch.Result,
		Version:     tx.state.version,
		Changes:     tx.changes,
		CommittedAt: now,
	}
	if s.hook != nil {
		commit := Commit{Batch: batch, Outcome: outcome, Snapshot: snapshotFromState(tx.state), Buckets: tx.touchedBuckets()}
		if err := s.hook(ctx, commit); err != nil {
			return domain.CommitOutcome{}, fmt.Errorf("persist batch: %w", err)
		}
	}
	s.state = tx.state
	return outcome, nil
}
