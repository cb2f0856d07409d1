// ABOUTME: Tests for OpenTelemetry tracer setup and span helpers
// ABOUTME: Uses an in-memory span recorder to verify recorded errors

package observability_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hikmaai-io/hikmaai-codescan/internal/observability"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	t.Parallel()

	tp, err := observability.NewTracerProvider(context.Background(), observability.TracingConfig{})
	if err != nil {
		t.Fatalf("NewTracerProvider() error = %v", err)
	}
	if tp.IsEnabled() {
		t.Error("disabled provider reports enabled")
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	ctx, span := provider.Tracer("test").Start(context.Background(), "provider.malshare")
	if observability.ExtractTraceID(ctx) == "" || observability.ExtractSpanID(ctx) == "" {
		t.Error("trace and span ids should be extractable from a recording span")
	}
	observability.EndSpan(span, errors.New("GET ?api_key=k3y: timeout"))

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", ended[0].Status().Code)
	}
	if desc := ended[0].Status().Description; desc != "GET ?api_key=[REDACTED] timeout" {
		t.Errorf("status description = %q", desc)
	}
}

func TestExtractIDs_NoSpan(t *testing.T) {
	t.Parallel()

	if id := observability.ExtractTraceID(context.Background()); id != "" {
		t.Errorf("ExtractTraceID() = %q, want empty", id)
	}
	if id := observability.ExtractSpanID(context.Background()); id != "" {
		t.Errorf("ExtractSpanID() = %q, want empty", id)
	}
}
