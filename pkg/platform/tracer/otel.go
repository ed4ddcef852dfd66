package tracer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "tempo/apps"

// OTelTracer emits spans through an OpenTelemetry TracerProvider.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTel traces through tp. A nil tp means the global provider, which Setup
// replaces when an exporter is configured.
func NewOTel(tp trace.TracerProvider) *OTelTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &OTelTracer{tracer: tp.Tracer(instrumentationName)}
}

func (t *OTelTracer) Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(keyValues(attrs)...),
	)
	return ctx, otelSpan{span}
}

type otelSpan struct {
	trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.Span.RecordError(err)
		s.Span.SetStatus(codes.Error, err.Error())
	} else {
		s.Span.SetStatus(codes.Ok, "")
	}
	s.Span.End()
}

func (s otelSpan) SetAttributes(attrs ...Attribute) {
	s.Span.SetAttributes(keyValues(attrs)...)
}

func (s otelSpan) AddEvent(name string, attrs ...Attribute) {
	s.Span.AddEvent(name, trace.WithAttributes(keyValues(attrs)...))
}

// keyValues converts attributes; values of other types are rendered with %v
// rather than dropped.
func keyValues(attrs []Attribute) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	kvs := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		key := attribute.Key(a.Key)
		switch v := a.Value.(type) {
		case string:
			kvs[i] = key.String(v)
		case bool:
			kvs[i] = key.Bool(v)
		case int:
			kvs[i] = key.Int(v)
		case int64:
			kvs[i] = key.Int64(v)
		case float64:
			kvs[i] = key.Float64(v)
		case []string:
			kvs[i] = key.StringSlice(v)
		case fmt.Stringer:
			kvs[i] = key.String(v.String())
		default:
			kvs[i] = key.String(fmt.Sprint(v))
		}
	}
	return kvs
}

var (
	_ Tracer = (*OTelTracer)(nil)
	_ Span   = otelSpan{}
)
