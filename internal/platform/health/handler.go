// Package health serves the liveness, readiness and status probes. Readiness
// covers the backing services; app providers never make the gateway unready
// and only show up as degradations on /health.
package health

import (
	"context"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"tempo/pkg/platform/httputil"
)

// Version is set at build time via ldflags.
var Version = "dev"

const defaultCheckTimeout = 2 * time.Second

// CheckFunc checks the health of a dependency.
// It returns nil if healthy, or an error describing the issue.
type CheckFunc func(ctx context.Context) error

// DegradationFunc lists what is currently impaired, such as apps whose
// handlers keep failing. Empty means nothing.
type DegradationFunc func() []string

// Handler provides health check endpoints.
type Handler struct {
	startTime    time.Time
	environment  string
	checkTimeout time.Duration

	mu           sync.RWMutex
	checks       map[string]CheckFunc
	degradations map[string]DegradationFunc
}

// New creates a new health handler.
func New(environment string) *Handler {
	return &Handler{
		startTime:    time.Now(),
		environment:  environment,
		checkTimeout: defaultCheckTimeout,
		checks:       make(map[string]CheckFunc),
		degradations: make(map[string]DegradationFunc),
	}
}

// RegisterCheck adds a named health check for the readiness probe.
func (h *Handler) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// RegisterDegradation adds a named signal reported by /health.
func (h *Handler) RegisterDegradation(name string, fn DegradationFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.degradations[name] = fn
}

// Register mounts health check routes on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

// LivenessResponse is the response for the liveness probe.
type LivenessResponse struct {
	Status string `json:"status"`
}

// HandleLiveness always returns 200 OK while the process serves requests.
func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LivenessResponse{
		Status: "alive",
	})
}

// ReadinessResponse is the response for the readiness probe.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleReadiness runs every registered check concurrently and returns 503 if
// any fails or exceeds the check timeout.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	maps.Copy(checks, h.checks)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(checks))
		healthy = true
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		g.Go(func() error {
			err := check(gctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[name] = "down: " + err.Error()
				healthy = false
				return nil
			}
			results[name] = "up"
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // checks report through results

	response := ReadinessResponse{Status: "ready", Checks: results}
	if !healthy {
		response.Status = "not_ready"
		httputil.WriteJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, response)
}

// StatusResponse is the body of /health.
type StatusResponse struct {
	Status        string              `json:"status"`
	Version       string              `json:"version"`
	Environment   string              `json:"environment"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Timestamp     string              `json:"timestamp"`
	Degraded      map[string][]string `json:"degraded,omitempty"`
}

// HandleStatus reports version and uptime. It answers 200 even when
// degraded: a failing provider is not a reason to restart the gateway.
func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status:        "healthy",
		Version:       Version,
		Environment:   h.environment,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	h.mu.RLock()
	for name, fn := range h.degradations {
		if items := fn(); len(items) > 0 {
			if resp.Degraded == nil {
				resp.Degraded = make(map[string][]string)
			}
			resp.Degraded[name] = items
		}
	}
	h.mu.RUnlock()
	if resp.Degraded != nil {
		resp.Status = "degraded"
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
