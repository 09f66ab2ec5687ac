package core

import (
	"context"
	"fmt"
	"io"

	"labcore/internal/config"
	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/postgres"
	"labcore/internal/infra/persistence/sqlite"
	"labcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore selects a backend from the storage settings. An empty
// driver defaults to sqlite. Stores holding a database handle implement
// io.Closer.
func OpenPersistentStore(ctx context.Context, cfg config.Storage, opts ...memory.Option) (domain.PersistentStore, error) {
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(opts...), nil
	case StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath, opts...)
	case StoragePostgres:
		ps, err := postgres.NewStore(ctx, cfg.PostgresDSN, opts...)
		if err != nil {
			return nil, err
		}
		return ps, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

func closeStore(store domain.PersistentStore) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
