package core

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"labcore/internal/blob"
	"labcore/internal/config"
	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/postgres"
	"labcore/internal/infra/persistence/sqlite"
	"labcore/pkg/domain"
)

func TestOpenPersistentStoreDrivers(t *testing.T) {
	ctx := context.Background()

	store, err := OpenPersistentStore(ctx, config.Storage{Driver: "memory"})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("memory driver returned %T", store)
	}

	path := filepath.Join(t.TempDir(), "db", "labcore.db")
	store, err = OpenPersistentStore(ctx, config.Storage{SQLitePath: path})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if s, ok := store.(*sqlite.Store); !ok || s.Path() != path {
		t.Fatalf("default driver returned %T", store)
	}
	if err := closeStore(store); err != nil {
		t.Fatalf("close sqlite: %v", err)
	}

	if _, err := OpenPersistentStore(ctx, config.Storage{Driver: "mongo"}); err == nil || !strings.Contains(err.Error(), "unknown storage driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestOpenPersistentStorePostgresOpenFailure(t *testing.T) {
	boom := errors.New("dial refused")
	restore := postgres.OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, boom })
	defer restore()
	_, err := OpenPersistentStore(context.Background(), config.Storage{Driver: "postgres", PostgresDSN: "postgres://x"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected open failure, got %v", err)
	}
}

func TestOpenBlobStoreDrivers(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "blobs")
	cases := map[string]struct {
		cfg  config.Blob
		want blob.Driver
	}{
		"memory":  {config.Blob{Driver: "memory"}, blob.DriverMemory},
		"default": {config.Blob{FSRoot: root}, blob.DriverFilesystem},
		"s3": {config.Blob{Driver: "s3", S3: config.S3{
			Bucket: "outbox", Region: "eu-west-1", Endpoint: "http://localhost:9000",
			PathStyle: true, AccessKeyID: "minio", SecretAccessKey: "minio123",
		}}, blob.DriverS3},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			store, err := OpenBlobStore(ctx, tc.cfg)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if store.Driver() != tc.want {
				t.Fatalf("driver: %s", store.Driver())
			}
		})
	}
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("fs root not created: %v", err)
	}
	if _, err := OpenBlobStore(ctx, config.Blob{Driver: "s3"}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := OpenBlobStore(ctx, config.Blob{Driver: "gcs"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

const bootstrapMasterData = `
property_types:
  - code: NAME
    data_type: VARCHAR
entity_types:
  - kind: SAMPLE
    code: CELL
    assignments:
      - property_type: NAME
        mandatory: true
`

func TestOpenAssemblesRuntime(t *testing.T) {
	dir := t.TempDir()
	mdFile := filepath.Join(dir, "masterdata.yaml")
	if err := os.WriteFile(mdFile, []byte(bootstrapMasterData), 0o600); err != nil {
		t.Fatalf("write master data: %v", err)
	}
	cfg := config.Config{
		Storage:        config.Storage{Driver: "memory"},
		Blob:           config.Blob{Driver: "fs", FSRoot: filepath.Join(dir, "blobs")},
		Index:          config.Index{QueueSize: 4, OutboxPrefix: "outbox/"},
		Log:            config.Log{Level: "error"},
		Metrics:        config.Metrics{Namespace: "labcore_test"},
		MasterDataFile: mdFile,
	}
	ctx := context.Background()
	rt, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = rt.PerformAtomicOperations(ctx, domain.NewAtomicEntityOperationDetails(domain.OperationDetailsInput{
		RegistrationID: "boot-1",
		Samples: []domain.NewSample{{
			Code: "SHARED1", Type: "CELL",
			Properties: []domain.PropertyInput{{Code: "NAME", Value: "stock"}},
		}},
	}))
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if err := rt.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	families, err := rt.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "labcore_test_operations_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("registrar metrics not registered")
	}
	pending, err := rt.Outbox().Pending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("outbox: %+v %v", pending, err)
	}
	if !strings.HasPrefix(pending[0].Key, "outbox/") {
		t.Fatalf("outbox key: %s", pending[0].Key)
	}
}

func TestOpenRejectsBadMasterData(t *testing.T) {
	cfg := config.Config{
		Storage:        config.Storage{Driver: "memory"},
		Blob:           config.Blob{Driver: "memory"},
		Index:          config.Index{QueueSize: 1, OutboxPrefix: "x/"},
		Log:            config.Log{Level: "info"},
		Metrics:        config.Metrics{Namespace: "labcore_bad"},
		MasterDataFile: filepath.Join(t.TempDir(), "absent.yaml"),
	}
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatalf("expected master data error")
	}
}
