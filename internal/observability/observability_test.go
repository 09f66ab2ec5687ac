package observability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerWritesStructuredFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))
	logger.Info("batch committed", "registration_id", "r1", "entities", 3)
	logger.With("component", "registrar").Warn("queue full")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["registration_id"] != "r1" || fields["entities"] != int64(3) {
		t.Fatalf("unexpected fields: %+v", fields)
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["component"] != "registrar" {
		t.Fatalf("unexpected warn entry: %+v", entries[1])
	}
}

func TestNewProductionLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewProductionLogger("loud", false); err == nil {
		t.Fatalf("expected level parse error")
	}
	logger, err := NewProductionLogger("warn", true)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	logger.Debug("dropped")
}

func TestOrNoopDefaults(t *testing.T) {
	OrNoop(nil).Error("ignored")
	OrNoopMetrics(nil).Observe(context.Background(), "x", true, time.Millisecond)
	_, span := OrNoopTracer(nil).Start(context.Background(), "x")
	span.End(nil)
}

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusRecorder(reg, "labcore")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()
	rec.Observe(ctx, "register", true, 5*time.Millisecond)
	rec.Observe(ctx, "register", false, 7*time.Millisecond)
	rec.Observe(ctx, "register", true, time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond)

	expected := `
# HELP labcore_operations_total Number of labcore operations by outcome.
# TYPE labcore_operations_total counter
labcore_operations_total{operation="register",status="error"} 1
labcore_operations_total{operation="register",status="success"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "labcore_operations_total"); err != nil {
		t.Fatalf("metrics mismatch: %v", err)
	}
	if _, err := NewPrometheusRecorder(reg, "labcore"); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestOTelTracerRecordsErrors(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := NewOTelTracer(provider)

	_, span := tracer.Start(context.Background(), "registrar.perform")
	span.End(errors.New("boom"))
	_, ok := tracer.Start(context.Background(), "registrar.replay")
	ok.End(nil)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "registrar.perform" || spans[0].Status().Code != codes.Error {
		t.Fatalf("unexpected failed span: %s %+v", spans[0].Name(), spans[0].Status())
	}
	if len(spans[0].Events()) == 0 {
		t.Fatalf("expected recorded error event")
	}
	if spans[1].Status().Code != codes.Ok {
		t.Fatalf("expected ok status, got %+v", spans[1].Status())
	}
}
