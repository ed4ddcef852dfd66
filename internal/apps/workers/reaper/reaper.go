// Package reaper periodically removes expired pending OAuth authorizations
// and idle webhook rate limiter entries.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	appmetrics "tempo/internal/apps/metrics"
)

// PendingStore exposes cleanup for expired pending authorizations.
type PendingStore interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Sweeper drops per-key state unused for longer than idle.
type Sweeper interface {
	Sweep(idle time.Duration) int
}

// Result summarizes one reaper run.
type Result struct {
	DeletedPending int
	SweptLimiters  int
}

// Reaper runs cleanup on a fixed interval.
type Reaper struct {
	pending   PendingStore
	sweeper   Sweeper
	sweepIdle time.Duration
	interval  time.Duration
	logger    *slog.Logger
	metrics   *appmetrics.Metrics
	now       func() time.Time
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithInterval overrides the run interval when greater than zero.
func WithInterval(interval time.Duration) Option {
	return func(r *Reaper) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reaper) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithMetrics(m *appmetrics.Metrics) Option {
	return func(r *Reaper) {
		r.metrics = m
	}
}

// WithSweeper also sweeps s on every run, dropping entries idle for idle.
func WithSweeper(s Sweeper, idle time.Duration) Option {
	return func(r *Reaper) {
		r.sweeper = s
		r.sweepIdle = idle
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

// New constructs a Reaper. pending is required.
func New(pending PendingStore, opts ...Option) (*Reaper, error) {
	if pending == nil {
		return nil, fmt.Errorf("pending store is required")
	}
	r := &Reaper{
		pending:   pending,
		interval:  time.Minute,
		sweepIdle: 10 * time.Minute,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Start runs the reaper until ctx is cancelled.
func (r *Reaper) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.ErrorContext(ctx, "apps reaper failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunOnce performs a single cleanup pass.
func (r *Reaper) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	var errs []error

	deleted, err := r.pending.DeleteExpired(ctx, r.now())
	if err != nil {
		errs = append(errs, fmt.Errorf("delete expired pending authorizations: %w", err))
	} else {
		res.DeletedPending = deleted
		r.metrics.AddPendingReaped(deleted)
	}

	if r.sweeper != nil {
		res.SweptLimiters = r.sweeper.Sweep(r.sweepIdle)
	}

	if res.DeletedPending > 0 || res.SweptLimiters > 0 {
		r.logger.DebugContext(ctx, "apps reaper run",
			"deleted_pending", res.DeletedPending,
			"swept_limiters", res.SweptLimiters,
		)
	}
	return res, errors.Join(errs...)
}
