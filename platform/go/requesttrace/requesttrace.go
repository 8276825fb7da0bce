package requesttrace

import (
	"context"
	"errors"
)

type contextKey string

const (
	ctxAuditInfo contextKey = "VENDORA_REQUEST_TRACE"
)

// ActorKind represents who initiated a request.
type ActorKind string

const (
	ActorKindUser      ActorKind = "user"
	ActorKindAnonymous ActorKind = "anonymous"
	ActorKindSystem    ActorKind = "system"
)

// AuditInfo captures request-scoped metadata needed for traceability and auditing.
// UserID is optional; set only when ActorKind is user.
// StoreID may be nil for master-level requests; RequestID is optional but encouraged.
type AuditInfo struct {
	ActorKind ActorKind
	UserID    *string
	StoreID   *string
	RequestID string
}

// IntoContext stores the AuditInfo in the provided context.
func IntoContext(ctx context.Context, audit AuditInfo) context.Context {
	return context.WithValue(ctx, ctxAuditInfo, audit)
}

// FromContext extracts the AuditInfo from context, returning false when not present.
func FromContext(ctx context.Context) (AuditInfo, bool) {
	if ctx == nil {
		return AuditInfo{}, false
	}
	v := ctx.Value(ctxAuditInfo)
	if v == nil {
		return AuditInfo{}, false
	}

	audit, ok := v.(AuditInfo)
	return audit, ok
}

// FromContextOrAnonymous returns the AuditInfo stored on the context, or an anonymous record when absent.
func FromContextOrAnonymous(ctx context.Context) AuditInfo {
	if audit, ok := FromContext(ctx); ok {
		return audit
	}
	return Anonymous("")
}

// FromUser builds an AuditInfo for an authenticated request.
// Returns an error when userID is empty; storeID is optional.
func FromUser(userID string, storeID *string, requestID string) (AuditInfo, error) {
	if userID == "" {
		return AuditInfo{}, errors.New("user id is required to build audit info")
	}

	return AuditInfo{
		ActorKind: ActorKindUser,
		UserID:    &userID,
		StoreID:   storeID,
		RequestID: requestID,
	}, nil
}

// Anonymous builds an AuditInfo for unauthenticated requests (e.g., signup) where no user ID exists yet.
func Anonymous(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindAnonymous, RequestID: requestID}
}

// System builds an AuditInfo for background/system operations.
func System(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindSystem, RequestID: requestID}
}
