package middleware

import (
	"net/http"
	"runtime/debug"

	"enterprise-crm-backend/pkg/logger"
	"enterprise-crm-backend/pkg/utils"
)

// Recoverer turns panics into 500 responses instead of dropping the
// connection, logging the stack for diagnosis.
func Recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Errorw("panic recovered",
						"panic", rec,
						"method", r.Method,
						"path", redactTokens(r.URL.Path),
						"stack", string(debug.Stack()),
					)
					utils.WriteInternalServerErrorResponse(w, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
