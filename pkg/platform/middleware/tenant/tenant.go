// Package tenant resolves the company (tenant) of an inbound API request.
package tenant

import (
	"context"
	"log/slog"
	"net/http"

	id "tempo/pkg/domain"
	dErrors "tempo/pkg/domain-errors"
	"tempo/pkg/platform/httputil"
	request "tempo/pkg/platform/middleware/request"
)

// HeaderCompanyID is set by the edge after it resolves the tenant from the
// request host. Its value is trusted and never re-derived here.
const HeaderCompanyID = "X-Company-ID"

type companyIDKey struct{}

// WithCompanyID stores the company id in ctx.
func WithCompanyID(ctx context.Context, companyID id.CompanyID) context.Context {
	return context.WithValue(ctx, companyIDKey{}, companyID)
}

// GetCompanyID returns the company id resolved by RequireCompany.
func GetCompanyID(ctx context.Context) (id.CompanyID, bool) {
	companyID, ok := ctx.Value(companyIDKey{}).(id.CompanyID)
	return companyID, ok && !companyID.IsNil()
}

// RequireCompany rejects requests without a valid company header.
func RequireCompany(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			companyID, err := id.ParseCompanyID(r.Header.Get(HeaderCompanyID))
			if err != nil {
				logger.WarnContext(ctx, "missing or invalid company context",
					"request_id", request.GetRequestID(ctx),
					"error", err,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "company context required"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCompanyID(ctx, companyID)))
		})
	}
}
