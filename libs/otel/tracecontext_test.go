package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestTraceContextRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	tc := TraceContextFrom(ctx)
	if tc.Traceparent == "" {
		t.Fatal("expected traceparent to be populated")
	}

	restored := trace.SpanContextFromContext(TraceContext{Traceparent: tc.Traceparent}.Attach(context.Background()))
	if restored.TraceID() != traceID {
		t.Fatalf("expected trace id %s, got %s", traceID, restored.TraceID())
	}
}

func TestContextWithEmptyTraceContext(t *testing.T) {
	ctx := context.Background()
	if got := (TraceContext{}).Attach(ctx); got != ctx {
		t.Fatal("expected original context when no trace context is stored")
	}
}

func TestConfigFromEnvDisabled(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("OTEL_SAMPLING_RATIO", "2")
	cfg := ConfigFromEnv("booking-service")
	if cfg.Enabled {
		t.Fatal("expected tracing disabled")
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("expected invalid ratio to fall back to 1, got %v", cfg.SampleRatio)
	}
}

func TestConfigFromEnvReadsExporterSettings(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")
	t.Setenv("DEPLOYMENT_ENVIRONMENT", "staging")
	cfg := ConfigFromEnv("notification-service")
	if !cfg.Enabled {
		t.Fatal("expected tracing enabled by default")
	}
	if cfg.OTLPEndpoint != "collector:4317" || cfg.Insecure {
		t.Fatalf("unexpected exporter settings: %+v", cfg)
	}
	if cfg.SampleRatio != 0.25 {
		t.Fatalf("expected ratio 0.25, got %v", cfg.SampleRatio)
	}
	if cfg.Environment != "staging" || cfg.ServiceName != "notification-service" {
		t.Fatalf("unexpected resource settings: %+v", cfg)
	}
}

func TestConfigFromEnvUnparseableFallsBack(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "0")
	t.Setenv("OTEL_SAMPLING_RATIO", "lots")
	cfg := ConfigFromEnv("booking-service")
	if cfg.Enabled {
		t.Fatal("expected tracing disabled")
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("expected default ratio, got %v", cfg.SampleRatio)
	}
	if cfg.OTLPEndpoint != "otel-collector:4317" {
		t.Fatalf("expected default endpoint, got %s", cfg.OTLPEndpoint)
	}
}
