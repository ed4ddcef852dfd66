// Package tracer is a small tracing abstraction so gateway code can emit spans
// without importing OpenTelemetry everywhere. NoopTracer serves tests and
// OTelTracer serves production.
package tracer

import (
	"context"
	"time"
)

// Span is an active trace span. End must be called exactly once.
type Span interface {
	// End completes the span and marks it failed when err is non-nil.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute { return Attribute{Key: key, Value: value} }

func Bool(key string, value bool) Attribute { return Attribute{Key: key, Value: value} }

func Int64(key string, value int64) Attribute { return Attribute{Key: key, Value: value} }

// Duration records value in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// Attribute keys used by the apps gateway.
const (
	AttrAppName    = "app.name"
	AttrCompanyID  = "app.company_id"
	AttrInstanceID = "app.instance_id"
	AttrOperation  = "app.operation"
	AttrTimedOut   = "app.handler.timed_out"
	AttrPanicked   = "app.handler.panicked"
)

// Event names used by the apps gateway.
const (
	EventCircuitOpened = "circuit.opened"
	EventCircuitClosed = "circuit.closed"
)
