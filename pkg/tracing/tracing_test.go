package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "overlaycast" {
		t.Errorf("expected service name 'overlaycast', got '%s'", cfg.ServiceName)
	}
	if cfg.Enabled {
		t.Error("tracing should be disabled by default")
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(DefaultConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown of disabled provider should be a no-op, got %v", err)
	}
}

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func TestTraceOverlayGeneration_RecordsAttributes(t *testing.T) {
	recorder := withRecorder(t)

	_, span := TraceOverlayGeneration(context.Background(), "card", 1280, 720)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "overlay.generate.card" {
		t.Errorf("unexpected span name %q", spans[0].Name())
	}

	attrs := map[string]int64{}
	for _, kv := range spans[0].Attributes() {
		if kv.Key == WidthKey || kv.Key == HeightKey {
			attrs[string(kv.Key)] = kv.Value.AsInt64()
		}
	}
	if attrs[string(WidthKey)] != 1280 || attrs[string(HeightKey)] != 720 {
		t.Errorf("unexpected raster attributes: %v", attrs)
	}
}

func TestRecordError_SetsStatus(t *testing.T) {
	recorder := withRecorder(t)

	ctx, span := TraceSession(context.Background(), "join", "Room1")
	RecordError(ctx, errors.New("join refused"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status().Code)
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected the error to be recorded as a span event")
	}
}

func TestTraceHelpers_ReturnSpans(t *testing.T) {
	ctx := context.Background()

	_, span := TraceHTTPRequest(ctx, "POST", "/api/v1/overlay/text")
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	span.End()

	_, span = TraceControlMessage(ctx, "update_watermark_image", "127.0.0.1")
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	span.End()
}
