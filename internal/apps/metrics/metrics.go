package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for handler invocations.
const (
	OutcomeOK       = "ok"
	OutcomeDeclared = "declared_error"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomePanic    = "panic"
	OutcomeCanceled = "canceled"
)

type Metrics struct {
	HandlerCalls         *prometheus.CounterVec
	HandlerDuration      *prometheus.HistogramVec
	CircuitOpen          *prometheus.GaugeVec
	InstanceTransitions  *prometheus.CounterVec
	ConcurrentConflicts  prometheus.Counter
	PendingIssued        prometheus.Counter
	PendingRejected      *prometheus.CounterVec
	PendingReaped        prometheus.Counter
	DeleteHookFailures   *prometheus.CounterVec
	EventPublishFailures prometheus.Counter
}

// New registers the gateway metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HandlerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tempo_apps_handler_calls_total",
			Help: "Handler invocations by app, operation and outcome",
		}, []string{"app", "operation", "outcome"}),
		HandlerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tempo_apps_handler_duration_seconds",
			Help:    "Duration of handler invocations",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"app", "operation"}),
		CircuitOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tempo_apps_handler_circuit_open",
			Help: "1 while an app handler has failed repeatedly, 0 otherwise",
		}, []string{"app"}),
		InstanceTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tempo_apps_instance_transitions_total",
			Help: "Instance status changes by app and target status",
		}, []string{"app", "status"}),
		ConcurrentConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "tempo_apps_concurrent_modifications_total",
			Help: "Instance writes that lost a compare-and-swap twice",
		}),
		PendingIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "tempo_apps_pending_authorizations_issued_total",
			Help: "OAuth login URLs issued",
		}),
		PendingRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tempo_apps_pending_authorizations_rejected_total",
			Help: "OAuth redirects rejected by reason",
		}, []string{"reason"}),
		PendingReaped: f.NewCounter(prometheus.CounterOpts{
			Name: "tempo_apps_pending_authorizations_reaped_total",
			Help: "Expired pending authorizations removed by the reaper",
		}),
		DeleteHookFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tempo_apps_delete_hook_failures_total",
			Help: "Teardown hooks that failed or timed out",
		}, []string{"app"}),
		EventPublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "tempo_apps_event_publish_failures_total",
			Help: "Lifecycle events that could not be published",
		}),
	}
}

func (m *Metrics) ObserveHandler(app, operation, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.HandlerCalls.WithLabelValues(app, operation, outcome).Inc()
	m.HandlerDuration.WithLabelValues(app, operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) SetCircuitOpen(app string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitOpen.WithLabelValues(app).Set(v)
}

func (m *Metrics) IncrementTransition(app, status string) {
	if m == nil {
		return
	}
	m.InstanceTransitions.WithLabelValues(app, status).Inc()
}

func (m *Metrics) IncrementConflict() {
	if m == nil {
		return
	}
	m.ConcurrentConflicts.Inc()
}

func (m *Metrics) IncrementPendingIssued() {
	if m == nil {
		return
	}
	m.PendingIssued.Inc()
}

func (m *Metrics) IncrementPendingRejected(reason string) {
	if m == nil {
		return
	}
	m.PendingRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddPendingReaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PendingReaped.Add(float64(n))
}

func (m *Metrics) IncrementDeleteHookFailure(app string) {
	if m == nil {
		return
	}
	m.DeleteHookFailures.WithLabelValues(app).Inc()
}

func (m *Metrics) IncrementEventPublishFailure() {
	if m == nil {
		return
	}
	m.EventPublishFailures.Inc()
}
