package middleware

import (
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"enterprise-crm-backend/pkg/logger"
)

// Logger logs one structured line per request. Claim and invitation accept
// paths carry bearer tokens in the URL, so those are redacted before logging.
func Logger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Infow("request",
				"method", r.Method,
				"path", redactTokens(r.URL.Path),
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		})
	}
}

// redactTokens strips the trailing token segment from token-bearing paths and
// removes the query string entirely (claim links carry tokens as params).
func redactTokens(path string) string {
	for _, prefix := range []string{"/api/team/invitations/accept/", "/api/claims/accept/"} {
		if strings.HasPrefix(path, prefix) {
			return prefix + "[REDACTED]"
		}
	}
	return path
}
