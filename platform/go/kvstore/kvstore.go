// Package kvstore provides a small key-value store with per-entry TTLs.
// Core logic that needs short-lived shared state (pending database handshakes,
// resolved-tenant hints) talks to this interface and does not care whether the
// backing store is in-process memory or a shared Redis.
package kvstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a key is absent or its TTL has elapsed.
var ErrNotFound = errors.New("kvstore: key not found")

type Store interface {
	// Set writes value under key, replacing any previous entry. A zero ttl
	// means the entry never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes the key; absent keys are not an error.
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process Store safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryEntry
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]memoryEntry)}
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	cp := make([]byte, len(value))
	copy(cp, value)

	m.mu.Lock()
	m.items[key] = memoryEntry{value: cp, expiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(m.items, key)
		return nil, ErrNotFound
	}

	cp := make([]byte, len(entry.value))
	copy(cp, entry.value)
	return cp, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

var _ Store = (*Memory)(nil)
