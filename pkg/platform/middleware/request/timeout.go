package request

import (
	"context"
	"net/http"
	"time"
)

// Timeout puts a deadline on the request context. Unlike http.TimeoutHandler
// it does not buffer the response, so app call passthroughs can stream.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if timeout <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
