package provisioning

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vendora-io/vendora-platform/platform/go/kvstore"
)

// ErrPendingNotFound means the handshake state is missing or expired; the
// owner must restart the connect flow.
var ErrPendingNotFound = errors.New("pending connect state not found or expired")

// PendingConnect is the short-lived handshake state written when the owner is
// redirected to the authorization gateway and consumed exactly once by the
// callback. It never carries secrets; only which store is mid-connect.
type PendingConnect struct {
	StoreID    uuid.UUID `json:"store_id"`
	ProjectRef string    `json:"project_ref,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

const pendingKeyPrefix = "tenantdb:pending:"

// PendingStore stashes handshake state in the shared KV store, keyed by an
// unguessable state nonce that doubles as the OAuth state parameter.
type PendingStore struct {
	kv  kvstore.Store
	ttl time.Duration
}

// NewPendingStore constructs a PendingStore; ttl bounds how long an abandoned
// handshake lingers.
func NewPendingStore(kv kvstore.Store, ttl time.Duration) *PendingStore {
	if kv == nil {
		panic("pending store requires a kv store")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &PendingStore{kv: kv, ttl: ttl}
}

// Stash writes handshake state and returns the state nonce for the redirect.
func (p *PendingStore) Stash(ctx context.Context, pending PendingConnect) (string, error) {
	nonce, err := newNonce()
	if err != nil {
		return "", err
	}
	pending.CreatedAt = time.Now().UTC()

	payload, err := json.Marshal(pending)
	if err != nil {
		return "", fmt.Errorf("marshal pending connect: %w", err)
	}
	if err := p.kv.Set(ctx, pendingKeyPrefix+nonce, payload, p.ttl); err != nil {
		return "", fmt.Errorf("stash pending connect: %w", err)
	}
	return nonce, nil
}

// Take consumes handshake state by nonce. Single use: a second Take with the
// same nonce returns ErrPendingNotFound.
func (p *PendingStore) Take(ctx context.Context, nonce string) (PendingConnect, error) {
	key := pendingKeyPrefix + nonce

	payload, err := p.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return PendingConnect{}, ErrPendingNotFound
		}
		return PendingConnect{}, fmt.Errorf("fetch pending connect: %w", err)
	}
	if err := p.kv.Delete(ctx, key); err != nil {
		return PendingConnect{}, fmt.Errorf("consume pending connect: %w", err)
	}

	var pending PendingConnect
	if err := json.Unmarshal(payload, &pending); err != nil {
		return PendingConnect{}, fmt.Errorf("unmarshal pending connect: %w", err)
	}
	return pending, nil
}

func newNonce() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
