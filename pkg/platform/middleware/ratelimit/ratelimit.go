// Package ratelimit provides keyed token-bucket throttling for unauthenticated
// inbound traffic such as provider webhooks.
package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	dErrors "tempo/pkg/domain-errors"
	"tempo/pkg/platform/httputil"
	request "tempo/pkg/platform/middleware/request"
	"tempo/pkg/platform/privacy"
)

// KeyFunc derives the throttling key of a request.
type KeyFunc func(r *http.Request) string

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	rate     rate.Limit
	burst    int
	keyFn    KeyFunc
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a limiter allowing perSecond sustained requests per key with the
// given burst.
func New(perSecond float64, burst int, keyFn KeyFunc, logger *slog.Logger) *Limiter {
	if keyFn == nil {
		keyFn = func(r *http.Request) string { return r.RemoteAddr }
	}
	return &Limiter{
		limiters: make(map[string]*entry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		keyFn:    keyFn,
		logger:   logger,
		now:      time.Now,
	}
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = l.now()
	return e.limiter
}

// Allow reports whether a request for key may proceed.
func (l *Limiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Handler rejects requests over the limit with 429 and a Retry-After hint so
// providers back off and redeliver.
func (l *Limiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.keyFn(r)
		if !l.Allow(key) {
			ctx := r.Context()
			l.logger.WarnContext(ctx, "rate limit exceeded",
				"key", key,
				"path", r.URL.Path,
				"client_ip", privacy.ClientIP(r.RemoteAddr),
				"request_id", request.GetRequestID(ctx),
			)
			w.Header().Set("Retry-After", strconv.Itoa(1))
			httputil.WriteError(w, dErrors.New(dErrors.CodeRateLimited, "too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Sweep drops limiters idle for longer than idle and returns how many were removed.
func (l *Limiter) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	removed := 0
	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
			removed++
		}
	}
	return removed
}
