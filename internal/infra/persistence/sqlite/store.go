// Package sqlite provides a SQLite-backed store. State lives in memory and
// every committed batch is written to SQLite before it becomes visible.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/sqlstate"
	"labcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "labcore.db"

// Writers from other handles wait for the lock instead of failing, and every
// transaction takes the write lock up front.
const dsnParams = "?_pragma=busy_timeout(5000)&_txlock=immediate"

// Store persists the in-memory state to SQLite.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database at path and hydrates the store from it.
func NewStore(path string, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers.
	db.SetMaxOpenConns(1)
	ctx := context.Background()
	if err := sqlstate.EnsureSchema(ctx, db, sqlstate.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := sqlstate.Load(ctx, db, sqlstate.SQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, path: path}
	s.Store = memory.NewStore(append(opts, memory.WithCommitHook(s.persist))...)
	s.ImportState(snapshot)
	return s, nil
}

func (s *Store) persist(ctx context.Context, commit memory.Commit) error {
	return sqlstate.Persist(ctx, s.db, sqlstate.SQLite, commit)
}

// SaveBatch commits the batch, reloading from the database when another
// handle committed first.
func (s *Store) SaveBatch(ctx context.Context, batch domain.Batch) (domain.CommitOutcome, error) {
	return sqlstate.SaveBatch(ctx, s.db, sqlstate.SQLite, s.Store, batch)
}

// FindPriorResult consults the operation log table when the id is not known
// locally, so batches committed through another handle are still replayed.
func (s *Store) FindPriorResult(ctx context.Context, id domain.RegistrationID) (domain.AtomicEntityOperationResult, bool, error) {
	if res, ok, err := s.Store.FindPriorResult(ctx, id); err != nil || ok || id == "" {
		return res, ok, err
	}
	entry, ok, err := sqlstate.FindOperation(ctx, s.db, sqlstate.SQLite, id)
	if err != nil || !ok {
		return domain.AtomicEntityOperationResult{}, false, err
	}
	return entry.Result, true, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
