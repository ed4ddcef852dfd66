package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ExportConfig selects where spans go.
type ExportConfig struct {
	// Endpoint is an OTLP/HTTP collector URL such as
	// http://otel-collector:4318. Empty disables export.
	Endpoint    string
	ServiceName string
	Environment string
	// SampleRatio is the fraction of root traces kept, in [0, 1].
	SampleRatio float64
}

// Setup installs a batching OTLP exporter as the global TracerProvider and
// returns its shutdown func, which flushes pending spans. Without an
// endpoint it changes nothing and shutdown is a no-op.
func Setup(ctx context.Context, cfg ExportConfig) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	tp := newProvider(cfg, sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func newProvider(cfg ExportConfig, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	name := cfg.ServiceName
	if name == "" {
		name = "tempo"
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", name),
		attribute.String("deployment.environment", cfg.Environment),
	)
	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	opts = append(opts,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	return sdktrace.NewTracerProvider(opts...)
}
