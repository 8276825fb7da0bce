package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vendora-io/vendora-platform/platform/go/requesttrace"
)

func TestRequestTraceStampsAnonymousAudit(t *testing.T) {
	var captured requesttrace.AuditInfo

	handler := RequestTrace(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = requesttrace.FromContextOrAnonymous(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), chimiddleware.RequestIDKey, "req-123")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req.WithContext(ctx))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, requesttrace.ActorKindAnonymous, captured.ActorKind)
	require.Equal(t, "req-123", captured.RequestID)
}

func TestRequestTracePreservesExistingAudit(t *testing.T) {
	var captured requesttrace.AuditInfo

	handler := RequestTrace(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = requesttrace.FromContextOrAnonymous(r.Context())
	}))

	audit := requesttrace.System("")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := requesttrace.IntoContext(req.Context(), audit)
	ctx = context.WithValue(ctx, chimiddleware.RequestIDKey, "req-456")

	handler.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	require.Equal(t, requesttrace.ActorKindSystem, captured.ActorKind)
	require.Equal(t, "req-456", captured.RequestID)
}
