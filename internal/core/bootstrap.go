package core

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"labcore/internal/catalog"
	"labcore/internal/config"
	"labcore/internal/indexing"
	"labcore/internal/observability"
)

// Runtime is a Service assembled from configuration together with the
// process-level resources it owns.
type Runtime struct {
	*Service
	Logger   *observability.ZapLogger
	Registry *prometheus.Registry
}

// Open builds the logger, metrics registry, store, blob outbox and catalog
// described by cfg and returns a running service. Extra options are applied
// after the configured ones.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Runtime, error) {
	logger, err := observability.NewProductionLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	registry := prometheus.NewRegistry()
	metrics, err := observability.NewPrometheusRecorder(registry, cfg.Metrics.Namespace)
	if err != nil {
		return nil, err
	}

	cat := catalog.New(catalog.WithLogger(logger))
	if cfg.MasterDataFile != "" {
		md, err := catalog.LoadMasterDataFile(cfg.MasterDataFile)
		if err != nil {
			return nil, err
		}
		if err := cat.Apply(md); err != nil {
			return nil, fmt.Errorf("apply master data %s: %w", cfg.MasterDataFile, err)
		}
	}

	store, err := OpenPersistentStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	blobs, err := OpenBlobStore(ctx, cfg.Blob)
	if err != nil {
		_ = closeStore(store)
		return nil, fmt.Errorf("open %s blob store: %w", cfg.Blob.Driver, err)
	}

	base := []Option{
		WithLogger(logger),
		WithMetrics(metrics),
		WithTracer(observability.NewOTelTracer(otel.GetTracerProvider())),
		WithIndexSinks(indexing.NewBlobOutbox(blobs, cfg.Index.OutboxPrefix)),
		WithIndexQueueSize(cfg.Index.QueueSize),
	}
	svc := NewService(cat, store, append(base, opts...)...)
	logger.Info("labcore service ready",
		"storage", cfg.Storage.Driver,
		"blob", blobs.Driver(),
		"outbox_prefix", cfg.Index.OutboxPrefix,
	)
	return &Runtime{Service: svc, Logger: logger, Registry: registry}, nil
}

// Close stops the service and flushes the logger.
func (r *Runtime) Close(ctx context.Context) error {
	err := r.Service.Close(ctx)
	_ = r.Logger.Sync()
	return err
}
