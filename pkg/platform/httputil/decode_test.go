package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "tempo/pkg/domain-errors"
)

type preparedRequest struct {
	Action     string
	normalized bool
}

func (r *preparedRequest) Normalize() {
	r.Action = strings.TrimSpace(r.Action)
	r.normalized = true
}

func (r *preparedRequest) Validate() error {
	if r.Action == "" {
		return errors.New("action is required")
	}
	return nil
}

func TestPrepareRequest(t *testing.T) {
	t.Run("normalizes before validating", func(t *testing.T) {
		req := &preparedRequest{Action: "  sync "}
		require.NoError(t, PrepareRequest(req))
		assert.True(t, req.normalized)
		assert.Equal(t, "sync", req.Action)
	})

	t.Run("plain validation errors become validation_error", func(t *testing.T) {
		err := PrepareRequest(&preparedRequest{Action: "   "})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		assert.EqualError(t, err, "action is required")
	})

	t.Run("other types pass through", func(t *testing.T) {
		assert.NoError(t, PrepareRequest(&struct{}{}))
	})
}

func TestReadRawJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		errCode dErrors.Code
	}{
		{name: "object", body: `{"action":"sync"}`, want: `{"action":"sync"}`},
		{name: "empty is an empty object", body: "  \n", want: `{}`},
		{name: "malformed", body: `{nope`, errCode: dErrors.CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			raw, err := ReadRawJSON(req)
			if tt.errCode != "" {
				assert.True(t, dErrors.HasCode(err, tt.errCode))
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestReadBodyTooLarge(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
	req.Body = http.MaxBytesReader(rec, req.Body, 8)

	_, err := ReadBody(req)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	assert.Contains(t, err.Error(), "too large")
}
