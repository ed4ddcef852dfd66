package service

import (
	"log/slog"

	appmetrics "tempo/internal/apps/metrics"
	"tempo/pkg/platform/circuit"
	"tempo/pkg/platform/tracer"
)

// Option configures a Service.
type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *appmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithCircuits replaces the per-app failure tracker.
func WithCircuits(c *circuit.Tracker) Option {
	return func(s *Service) {
		s.circuits = c
	}
}
