// Package sqlstate persists memory store snapshots to SQL databases: one JSON
// payload per bucket in a state table, plus an operation log table keyed by
// registration id.
package sqlstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/multierr"

	"labcore/internal/infra/persistence/memory"
	"labcore/pkg/domain"
)

const (
	stateTable     = "state"
	operationTable = "operation_log"
	versionBucket  = "version"
)

// Dialect captures the differences between the supported databases.
type Dialect struct {
	Name        string
	Placeholder sq.PlaceholderFormat
	PayloadType string
}

// Supported dialects.
var (
	SQLite   = Dialect{Name: "sqlite", Placeholder: sq.Question, PayloadType: "BLOB"}
	Postgres = Dialect{Name: "postgres", Placeholder: sq.Dollar, PayloadType: "JSONB"}
)

func (d Dialect) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(d.Placeholder)
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EnsureSchema creates the state and operation log tables when missing.
func EnsureSchema(ctx context.Context, db Execer, d Dialect) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		bucket TEXT PRIMARY KEY,
		payload %s NOT NULL
	)`, stateTable, d.PayloadType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		registration_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		result %s NOT NULL,
		committed_at TEXT NOT NULL
	)`, operationTable, d.PayloadType),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure %s schema: %w", d.Name, err)
		}
	}
	return nil
}

// Load reads the persisted snapshot, including the operation log.
func Load(ctx context.Context, db *sql.DB, d Dialect) (memory.Snapshot, error) {
	var snapshot memory.Snapshot
	query, args, err := d.builder().Select("bucket", "payload").From(stateTable).ToSql()
	if err != nil {
		return snapshot, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return snapshot, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return snapshot, fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		if bucket == versionBucket {
			v, err := strconv.ParseUint(string(payload), 10, 64)
			if err != nil {
				return snapshot, fmt.Errorf("decode version: %w", err)
			}
			snapshot.Version = v
			continue
		}
		target := snapshot.BucketTarget(bucket)
		if target == nil {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return snapshot, fmt.Errorf("decode %s: %w", bucket, err)
		}
	}
	if err := rows.Err(); err != nil {
		return snapshot, fmt.Errorf("iterate state: %w", err)
	}

	entries, err := loadOperations(ctx, db, d)
	if err != nil {
		return snapshot, err
	}
	snapshot.Operations = entries
	return snapshot, nil
}

func loadOperations(ctx context.Context, db *sql.DB, d Dialect) (map[domain.RegistrationID]domain.OperationLogEntry, error) {
	query, args, err := d.builder().
		Select("registration_id", "user_id", "result", "committed_at").
		From(operationTable).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select operation log: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[domain.RegistrationID]domain.OperationLogEntry)
	for rows.Next() {
		entry, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out[entry.RegistrationID] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operation log: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOperation(row scanner) (domain.OperationLogEntry, error) {
	var (
		id, user, committed string
		result              []byte
	)
	if err := row.Scan(&id, &user, &result, &committed); err != nil {
		return domain.OperationLogEntry{}, err
	}
	entry := domain.OperationLogEntry{RegistrationID: domain.RegistrationID(id), UserID: user}
	if err := json.Unmarshal(result, &entry.Result); err != nil {
		return domain.OperationLogEntry{}, fmt.Errorf("decode result of %s: %w", id, err)
	}
	at, err := time.Parse(time.RFC3339Nano, committed)
	if err != nil {
		return domain.OperationLogEntry{}, fmt.Errorf("decode commit time of %s: %w", id, err)
	}
	entry.CommittedAt = at
	return entry, nil
}

// FindOperation reads one operation log entry straight from the database.
func FindOperation(ctx context.Context, db *sql.DB, d Dialect, id domain.RegistrationID) (domain.OperationLogEntry, bool, error) {
	query, args, err := d.builder().
		Select("registration_id", "user_id", "result", "committed_at").
		From(operationTable).
		Where(sq.Eq{"registration_id": string(id)}).ToSql()
	if err != nil {
		return domain.OperationLogEntry{}, false, err
	}
	entry, err := scanOperation(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.OperationLogEntry{}, false, nil
	}
	if err != nil {
		return domain.OperationLogEntry{}, false, fmt.Errorf("select operation %s: %w", id, err)
	}
	return entry, true, nil
}

// ErrStale reports that another handle committed to the database after this
// handle's state was loaded.
var ErrStale = errors.New("stored version moved")

// Persist writes the buckets a commit touched, the new version and the
// operation log entry in one database transaction. The version row is
// swapped first and only when it still holds the version the commit was
// built on; otherwise nothing is written and a CommitConflict wrapping
// ErrStale is returned.
func Persist(ctx context.Context, db *sql.DB, d Dialect, commit memory.Commit) (retErr error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	snapshot := commit.Snapshot
	if err := swapVersion(ctx, tx, d, snapshot.Version-1, snapshot.Version); err != nil {
		return err
	}
	for _, bucket := range commit.Buckets {
		if bucket == memory.OperationsBucket {
			continue
		}
		data, err := json.Marshal(snapshot.BucketTarget(bucket))
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if err := upsertBucket(ctx, tx, d, bucket, data); err != nil {
			return err
		}
	}
	if id := commit.Batch.RegistrationID; id != "" {
		result, err := json.Marshal(commit.Outcome.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		query, args, err := d.builder().Insert(operationTable).
			Columns("registration_id", "user_id", "result", "committed_at").
			Values(string(id), commit.Batch.UserID, result, commit.Outcome.CommittedAt.UTC().Format(time.RFC3339Nano)).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert operation %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func encodeVersion(v uint64) []byte {
	return []byte(strconv.FormatUint(v, 10))
}

// swapVersion moves the version row from base to next. A database that has
// never been written holds no version row, which stands for version 0.
func swapVersion(ctx context.Context, tx Execer, d Dialect, base, next uint64) error {
	var (
		query string
		args  []any
		err   error
	)
	if base == 0 {
		query, args, err = d.builder().Insert(stateTable).
			Columns("bucket", "payload").
			Values(versionBucket, encodeVersion(next)).
			Suffix("ON CONFLICT(bucket) DO NOTHING").
			ToSql()
	} else {
		query, args, err = d.builder().Update(stateTable).
			Set("payload", encodeVersion(next)).
			Where(sq.Eq{"bucket": versionBucket, "payload": encodeVersion(base)}).
			ToSql()
	}
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("swap version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("swap version: %w", err)
	}
	if n != 1 {
		return &domain.Error{
			Kind:     domain.KindCommitConflict,
			Position: -1,
			Message:  fmt.Sprintf("database moved past version %d", base),
			Err:      ErrStale,
		}
	}
	return nil
}

// SaveBatch commits through store and, when another handle got to the
// database first, reloads store from the database. A registration id that the
// other handle already logged is then answered as a replay; anything else is
// returned as the CommitConflict so the caller validates again.
func SaveBatch(ctx context.Context, db *sql.DB, d Dialect, store *memory.Store, batch domain.Batch) (domain.CommitOutcome, error) {
	outcome, err := store.SaveBatch(ctx, batch)
	if !errors.Is(err, ErrStale) {
		return outcome, err
	}
	if reloadErr := store.Refresh(ctx, func(ctx context.Context) (memory.Snapshot, error) {
		return Load(ctx, db, d)
	}); reloadErr != nil {
		return domain.CommitOutcome{}, multierr.Append(err, fmt.Errorf("reload state: %w", reloadErr))
	}
	if _, logged, _ := store.FindPriorResult(ctx, batch.RegistrationID); logged {
		return store.SaveBatch(ctx, batch)
	}
	return domain.CommitOutcome{}, err
}

func upsertBucket(ctx context.Context, tx Execer, d Dialect, bucket string, data []byte) error {
	query, args, err := d.builder().Insert(stateTable).
		Columns("bucket", "payload").
		Values(bucket, data).
		Suffix("ON CONFLICT(bucket) DO UPDATE SET payload = excluded.payload").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %s: %w", bucket, err)
	}
	return nil
}
