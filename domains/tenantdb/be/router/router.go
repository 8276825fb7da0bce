package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vendora-io/vendora-platform/domains/tenantdb/be/credentials"
)

// Errors returned by the router.
var (
	// ErrNotProvisioned means the store has no saved credentials yet. This is
	// "store needs setup", not a transient failure; retrying without saving
	// credentials first will not help.
	ErrNotProvisioned = errors.New("store has no tenant database credentials")
	// ErrConnectionFailed means credentials exist but a client could not be
	// constructed (malformed URL, unreachable host). Retryable; never cached.
	ErrConnectionFailed = errors.New("tenant database connection failed")
)

// CredentialSource is the lookup the router performs on a cache miss.
// Implemented by the credential store.
type CredentialSource interface {
	FindByStore(ctx context.Context, storeID uuid.UUID) (*credentials.TenantCredential, error)
}

// Config controls router behavior.
type Config struct {
	// EntryTTL bounds how long a resolved client is served without a fresh
	// credential lookup; zero keeps entries until explicit invalidation.
	EntryTTL time.Duration
}

type cacheEntry struct {
	client     Client
	resolvedAt time.Time
}

// Router maps a store identifier to a live tenant database client. Lookups
// are cached per process; concurrent misses for the same store coalesce into
// a single construction attempt so the credential store and the tenant
// database see one connection storm participant, not N.
type Router struct {
	creds   CredentialSource
	factory ClientFactory
	ttl     time.Duration
	logger  *zap.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[uuid.UUID]cacheEntry
}

// New constructs a Router with required dependencies.
func New(creds CredentialSource, factory ClientFactory, cfg Config, logger *zap.Logger) *Router {
	if creds == nil {
		panic("router requires a credential source")
	}
	if factory == nil {
		panic("router requires a client factory")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		creds:   creds,
		factory: factory,
		ttl:     cfg.EntryTTL,
		logger:  logger,
		entries: make(map[uuid.UUID]cacheEntry),
	}
}

// GetConnection resolves a store identifier to a ready client. Cache hits
// return without I/O. Misses fetch and decrypt credentials, construct a
// client and cache it; construction failures are returned as
// ErrConnectionFailed and never poison the cache.
func (r *Router) GetConnection(ctx context.Context, storeID uuid.UUID) (Client, error) {
	if client, ok := r.cached(storeID); ok {
		cacheHits.Inc()
		return client, nil
	}
	cacheMisses.Inc()

	result, err, _ := r.group.Do(storeID.String(), func() (any, error) {
		// A concurrent caller may have populated the entry while this one
		// was queued on the flight group.
		if client, ok := r.cached(storeID); ok {
			return client, nil
		}
		return r.resolve(ctx, storeID)
	})
	if err != nil {
		return nil, err
	}
	return result.(Client), nil
}

func (r *Router) resolve(ctx context.Context, storeID uuid.UUID) (Client, error) {
	cred, err := r.creds.FindByStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("lookup credentials: %w", err)
	}
	if cred == nil {
		return nil, ErrNotProvisioned
	}

	client, err := r.factory.Connect(ctx, *cred)
	if err != nil {
		constructionFailures.Inc()
		r.logger.Warn("tenant client construction failed",
			zap.String("store_id", storeID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	r.mu.Lock()
	r.entries[storeID] = cacheEntry{client: client, resolvedAt: time.Now()}
	r.mu.Unlock()

	r.logger.Debug("tenant client resolved", zap.String("store_id", storeID.String()))
	return client, nil
}

func (r *Router) cached(storeID uuid.UUID) (Client, bool) {
	r.mu.RLock()
	entry, ok := r.entries[storeID]
	r.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if r.ttl > 0 && time.Since(entry.resolvedAt) > r.ttl {
		r.Invalidate(storeID)
		return nil, false
	}
	return entry.client, true
}

// Invalidate evicts the cache entry for a store if present; safe to call when
// no entry exists. The evicted client is not closed: in-flight requests may
// still hold a reference, and its idle connections are reclaimed by the pool.
func (r *Router) Invalidate(storeID uuid.UUID) {
	r.mu.Lock()
	delete(r.entries, storeID)
	r.mu.Unlock()
}

// InvalidateAll clears the entire cache; used for store-wide rotation such as
// an encryption key change.
func (r *Router) InvalidateAll() {
	r.mu.Lock()
	r.entries = make(map[uuid.UUID]cacheEntry)
	r.mu.Unlock()
}
