package request

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentLabelsByRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	r := chi.NewRouter()
	r.Use(Instrument(m))
	r.Get("/api/apps/{appId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/apps/"+id, nil))
	}

	assert.Equal(t, 1, testutil.CollectAndCount(m.latency))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))

	families, err := reg.Gather()
	require.NoError(t, err)
	var labels []string
	for _, f := range families {
		if f.GetName() != "tempo_http_request_duration_seconds" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
		}
	}
	joined := strings.Join(labels, ",")
	assert.Contains(t, joined, "route=/api/apps/{appId}")
	assert.Contains(t, joined, "code=404")
}

func TestInstrumentNilMetricsIsPassThrough(t *testing.T) {
	called := false
	h := Instrument(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
