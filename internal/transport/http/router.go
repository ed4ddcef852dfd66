package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tempo/internal/platform/health"
	"tempo/pkg/platform/middleware/ratelimit"
	request "tempo/pkg/platform/middleware/request"
	"tempo/pkg/platform/middleware/requesttime"
	"tempo/pkg/platform/middleware/tenant"
)

// AppsHandler is the connected apps HTTP surface.
type AppsHandler interface {
	// Register mounts the company-scoped /api/apps routes.
	Register(r chi.Router)
	// RegisterWebhooks mounts the provider-facing webhook routes.
	RegisterWebhooks(r chi.Router)
	// RegisterRedirects mounts the OAuth redirect the user's browser lands on.
	RegisterRedirects(r chi.Router)
}

// RouterConfig collects what NewRouter wires together.
type RouterConfig struct {
	Apps           AppsHandler
	Health         *health.Handler
	WebhookLimiter *ratelimit.Limiter
	Metrics        *request.Metrics
	Gatherer       prometheus.Gatherer
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// NewRouter wires all public endpoints with middleware.
// The company header is only required on /api routes; provider callbacks
// identify the company through the path or the payload.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(logger))
	r.Use(requesttime.Middleware)
	r.Use(request.Instrument(cfg.Metrics))

	if cfg.Health != nil {
		cfg.Health.Register(r)
	}
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(request.BodyLimit(cfg.MaxBodyBytes))
		r.Use(request.Timeout(cfg.RequestTimeout))

		r.Group(func(r chi.Router) {
			r.Use(tenant.RequireCompany(logger))
			cfg.Apps.Register(r)
		})

		r.Group(func(r chi.Router) {
			if cfg.WebhookLimiter != nil {
				r.Use(cfg.WebhookLimiter.Handler)
			}
			cfg.Apps.RegisterWebhooks(r)
		})

		// Redirects are one per user login and answer with an HTML page, so
		// they stay outside the webhook budget.
		cfg.Apps.RegisterRedirects(r)
	})

	return r
}

// WebhookKey throttles instance webhooks per company and kind-level
// webhooks per app. Route params are resolved because the limiter runs as
// inline route middleware.
func WebhookKey(r *http.Request) string {
	if companyID := chi.URLParam(r, "companyId"); companyID != "" {
		return "company:" + companyID
	}
	if appName := chi.URLParam(r, "appName"); appName != "" {
		return "app:" + appName
	}
	return "remote:" + r.RemoteAddr
}
