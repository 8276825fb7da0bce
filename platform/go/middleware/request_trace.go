package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformlogging "github.com/vendora-io/vendora-platform/platform/go/logging"
	"github.com/vendora-io/vendora-platform/platform/go/requesttrace"
)

// RequestTrace populates the context with request-scoped AuditInfo so services and repositories can stamp audit fields.
// Authentication happens at an outer layer; requests arriving without an identity are recorded as anonymous.
func RequestTrace(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID, _ := r.Context().Value(middleware.RequestIDKey).(string)

			audit := requesttrace.FromContextOrAnonymous(r.Context())
			if audit.RequestID == "" {
				audit.RequestID = requestID
			}

			ctx := requesttrace.IntoContext(r.Context(), audit)
			if base != nil {
				logger := base
				if requestID != "" {
					logger = logger.With(zap.String("request_id", requestID))
				}
				ctx = platformlogging.WithLogger(ctx, logger)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
