package request

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBodyLimit(t *testing.T) {
	type result struct {
		code    int
		read    int
		readErr error
		reached bool
	}
	serve := func(limit int64, req *http.Request) result {
		var res result
		handler := BodyLimit(limit)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res.reached = true
			data, err := io.ReadAll(r.Body)
			res.read, res.readErr = len(data), err
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		res.code = rec.Code
		return res
	}
	post := func(body string) *http.Request {
		return httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	}

	t.Run("exact limit passes", func(t *testing.T) {
		res := serve(100, post(strings.Repeat("x", 100)))
		require.NoError(t, res.readErr)
		assert.Equal(t, 100, res.read)
	})

	t.Run("declared length over limit is refused", func(t *testing.T) {
		res := serve(10, post(strings.Repeat("x", 100)))
		assert.False(t, res.reached)
		assert.Equal(t, http.StatusRequestEntityTooLarge, res.code)
	})

	t.Run("chunked body fails on read", func(t *testing.T) {
		req := post(strings.Repeat("x", 100))
		req.ContentLength = -1
		res := serve(10, req)
		assert.True(t, res.reached)
		var maxErr *http.MaxBytesError
		assert.True(t, errors.As(res.readErr, &maxErr))
	})

	t.Run("disabled", func(t *testing.T) {
		res := serve(0, post(strings.Repeat("x", 4096)))
		require.NoError(t, res.readErr)
		assert.Equal(t, 4096, res.read)
	})
}
