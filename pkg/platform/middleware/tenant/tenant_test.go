package tenant

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "tempo/pkg/domain"
)

func TestRequireCompany(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var got id.CompanyID
	handler := RequireCompany(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetCompanyID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/apps", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), `"success":false`)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/apps", nil)
		req.Header.Set(HeaderCompanyID, "acme")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid header", func(t *testing.T) {
		companyID := uuid.New()
		req := httptest.NewRequest(http.MethodGet, "/api/apps", nil)
		req.Header.Set(HeaderCompanyID, companyID.String())
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, companyID.String(), got.String())
	})
}
