package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, ReadinessResponse) {
	t.Helper()
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestReadiness(t *testing.T) {
	t.Run("all checks up", func(t *testing.T) {
		h := New("test")
		h.RegisterCheck("database", func(context.Context) error { return nil })
		h.RegisterCheck("redis", func(context.Context) error { return nil })

		rec, body := serve(t, h, "/health/ready")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ready", body.Status)
		assert.Equal(t, map[string]string{"database": "up", "redis": "up"}, body.Checks)
	})

	t.Run("one failing check makes the service not ready", func(t *testing.T) {
		h := New("test")
		h.RegisterCheck("database", func(context.Context) error { return nil })
		h.RegisterCheck("redis", func(context.Context) error { return errors.New("connection refused") })

		rec, body := serve(t, h, "/health/ready")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "not_ready", body.Status)
		assert.Equal(t, "down: connection refused", body.Checks["redis"])
		assert.Equal(t, "up", body.Checks["database"])
	})

	t.Run("slow check is bounded by the timeout", func(t *testing.T) {
		h := New("test")
		h.checkTimeout = 20 * time.Millisecond
		h.RegisterCheck("database", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

		rec, body := serve(t, h, "/health/ready")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, body.Checks["database"], "deadline exceeded")
	})
}

func TestLiveness(t *testing.T) {
	h := New("test")
	h.RegisterCheck("database", func(context.Context) error { return errors.New("down") })

	rec, body := serve(t, h, "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", body.Status)
}

func TestStatusReportsDegradations(t *testing.T) {
	h := New("test")
	open := []string{}
	h.RegisterDegradation("app_handlers", func() []string { return open })

	r := chi.NewRouter()
	h.Register(r)
	status := func() StatusResponse {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var body StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body
	}

	body := status()
	assert.Equal(t, "healthy", body.Status)
	assert.Empty(t, body.Degraded)

	open = []string{"zoom"}
	body = status()
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, map[string][]string{"app_handlers": {"zoom"}}, body.Degraded)
	assert.Equal(t, "test", body.Environment)
}
