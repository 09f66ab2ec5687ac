// Package postgres provides a Postgres-backed store that mirrors the
// in-memory semantics and writes every committed batch to Postgres before it
// becomes visible.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/sqlstate"
	"labcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/labcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation for reads.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN),
// ensures the schema exists and hydrates the in-memory state.
func NewStore(ctx context.Context, dsn string, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := sqlstate.EnsureSchema(ctx, db, sqlstate.Postgres); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := sqlstate.Load(ctx, db, sqlstate.Postgres)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db}
	s.Store = memory.NewStore(append(opts, memory.WithCommitHook(s.persist))...)
	s.ImportState(snapshot)
	return s, nil
}

func (s *Store) persist(ctx context.Context, commit memory.Commit) error {
	return sqlstate.Persist(ctx, s.db, sqlstate.Postgres, commit)
}

// SaveBatch commits the batch, reloading from the database when another
// process committed first.
func (s *Store) SaveBatch(ctx context.Context, batch domain.Batch) (domain.CommitOutcome, error) {
	return sqlstate.SaveBatch(ctx, s.db, sqlstate.Postgres, s.Store, batch)
}

// FindPriorResult consults the operation log table when the id is not known
// locally, so batches committed by another process are still replayed.
func (s *Store) FindPriorResult(ctx context.Context, id domain.RegistrationID) (domain.AtomicEntityOperationResult, bool, error) {
	if res, ok, err := s.Store.FindPriorResult(ctx, id); err != nil || ok || id == "" {
		return res, ok, err
	}
	entry, ok, err := sqlstate.FindOperation(ctx, s.db, sqlstate.Postgres, id)
	if err != nil || !ok {
		return domain.AtomicEntityOperationResult{}, false, err
	}
	return entry.Result, true, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
