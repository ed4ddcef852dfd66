// Package service is the connected apps gateway: it resolves the handler for
// an installed app, invokes one of its capabilities under a timeout and
// persists whatever change the handler reports.
package service

//go:generate mockgen -source=contracts.go -destination=mocks/mocks.go -package=mocks InstanceStore,PendingStore,StateSigner,Publisher

import (
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"tempo/internal/apps/catalog"
	appmetrics "tempo/internal/apps/metrics"
	"tempo/internal/apps/resolver"
	"tempo/pkg/platform/circuit"
	"tempo/pkg/platform/sync"
	"tempo/pkg/platform/tracer"
)

const (
	defaultHandlerTimeout    = 10 * time.Second
	defaultDeleteHookTimeout = 5 * time.Second
)

// Config holds the gateway's tunables.
type Config struct {
	// HandlerTimeout bounds every handler invocation.
	HandlerTimeout time.Duration
	// DeleteHookTimeout bounds the best-effort teardown on delete.
	DeleteHookTimeout time.Duration
	// PublicBaseURL is the externally reachable origin used to build OAuth
	// redirect URIs.
	PublicBaseURL string
}

// Service dispatches calls to app handlers and owns instance mutations.
type Service struct {
	instances InstanceStore
	pending   PendingStore
	registry  *catalog.Registry
	resolver  *resolver.Resolver
	signer    StateSigner
	cfg       Config

	locks     *sync.ShardedMutex
	circuits  *circuit.Tracker
	logger    *slog.Logger
	metrics   *appmetrics.Metrics
	tracer    tracer.Tracer
	publisher Publisher
}

// New wires a Service. Zero timeouts take their defaults.
func New(
	instances InstanceStore,
	pending PendingStore,
	registry *catalog.Registry,
	res *resolver.Resolver,
	signer StateSigner,
	cfg Config,
	opts ...Option,
) (*Service, error) {
	if instances == nil || pending == nil || registry == nil || res == nil || signer == nil {
		return nil, errors.New("apps service: stores, registry, resolver and signer are required")
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaultHandlerTimeout
	}
	if cfg.DeleteHookTimeout <= 0 {
		cfg.DeleteHookTimeout = defaultDeleteHookTimeout
	}
	if cfg.PublicBaseURL != "" {
		if _, err := url.Parse(cfg.PublicBaseURL); err != nil {
			return nil, errors.New("apps service: invalid public base url")
		}
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	s := &Service{
		instances: instances,
		pending:   pending,
		registry:  registry,
		resolver:  res,
		signer:    signer,
		cfg:       cfg,
		locks:     sync.NewShardedMutex(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = tracer.NewNoop()
	}
	if s.circuits == nil {
		s.circuits = circuit.NewTracker()
	}
	return s, nil
}

// RedirectURI is the OAuth callback URL registered with providers for appName.
func (s *Service) RedirectURI(appName string) string {
	return s.cfg.PublicBaseURL + "/oauth/apps/" + url.PathEscape(appName) + "/redirect"
}

// FailingApps lists apps whose handlers have failed repeatedly and not yet
// recovered.
func (s *Service) FailingApps() []string {
	return s.circuits.OpenApps()
}
