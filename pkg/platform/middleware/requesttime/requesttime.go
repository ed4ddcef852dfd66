// Package requesttime pins one "now" per HTTP request so every timestamp a
// request writes (instance UpdatedAt, pending authorization expiry, lifecycle
// events) agrees.
package requesttime

import (
	"context"
	"net/http"
	"time"
)

type nowKey struct{}

// Clock is the time source a middleware reads once per request.
type Clock func() time.Time

// Middleware pins the wall clock.
var Middleware = WithClock(time.Now)

// WithClock pins clock's value for each request. Times are UTC and truncated
// to microseconds, the precision Postgres keeps, so a stored timestamp reads
// back equal to the one the request used.
func WithClock(clock Clock) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithTime(r.Context(), clock())))
		})
	}
}

// Now returns the pinned time, or the current time outside a request
// (the reaper, the CLI).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(nowKey{}).(time.Time); ok {
		return t
	}
	return normalize(time.Now())
}

// WithTime pins t in ctx, replacing any earlier value.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, nowKey{}, normalize(t))
}

func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
