package credentials

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository for tests and early
// development. The mutex makes the host check atomic with the write, matching
// the advisory-lock semantics of the Postgres implementation.
type MemoryRepository struct {
	mu      sync.Mutex
	byStore map[uuid.UUID]Record
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byStore: make(map[uuid.UUID]Record)}
}

func (r *MemoryRepository) UpsertExclusive(ctx context.Context, rec Record) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.Host != "" {
		for storeID, existing := range r.byStore {
			if storeID != rec.StoreID && existing.IsActive && existing.Host == rec.Host {
				return Record{}, ErrDatabaseInUse
			}
		}
	}

	now := time.Now().UTC()
	if existing, ok := r.byStore[rec.StoreID]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	r.byStore[rec.StoreID] = rec
	return rec, nil
}

func (r *MemoryRepository) FindByStore(ctx context.Context, storeID uuid.UUID) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byStore[storeID]
	if !ok {
		return Record{}, errNotFound
	}
	return rec, nil
}

func (r *MemoryRepository) DeleteByStore(ctx context.Context, storeID uuid.UUID) error {
	r.mu.Lock()
	delete(r.byStore, storeID)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) HostInUse(ctx context.Context, host string, excludingStoreID uuid.UUID) (bool, error) {
	if host == "" {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for storeID, rec := range r.byStore {
		if storeID != excludingStoreID && rec.IsActive && rec.Host == host {
			return true, nil
		}
	}
	return false, nil
}

// Ensure interface compliance.
var _ Repository = (*MemoryRepository)(nil)
