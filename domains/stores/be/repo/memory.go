package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vendora-io/vendora-platform/domains/stores/be/service"
)

// MemoryRepository is a simple in-memory implementation suitable for tests
// and early development.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]service.Store
	bySlug  map[string]uuid.UUID
	deleted map[uuid.UUID]bool
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[uuid.UUID]service.Store),
		bySlug:  make(map[string]uuid.UUID),
		deleted: make(map[uuid.UUID]bool),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, s service.Store) (service.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Slugs are unique among live stores only; a soft-deleted store frees
	// its slug, matching the partial unique index in the master schema.
	if existing, exists := r.bySlug[s.Slug]; exists && !r.deleted[existing] {
		return service.Store{}, service.ErrConflictSlug
	}

	r.byID[s.ID] = s
	r.bySlug[s.Slug] = s.ID
	return s, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (service.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(id)
}

func (r *MemoryRepository) getLocked(id uuid.UUID) (service.Store, error) {
	s, ok := r.byID[id]
	if !ok || r.deleted[id] {
		return service.Store{}, service.ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepository) GetBySlug(ctx context.Context, slug string) (service.Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySlug[slug]
	if !ok {
		return service.Store{}, service.ErrNotFound
	}
	return r.getLocked(id)
}

func (r *MemoryRepository) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]service.Store, 0, len(r.byID))
	for id, s := range r.byID {
		if r.deleted[id] {
			continue
		}
		if opts.Status != nil && s.Status != *opts.Status {
			continue
		}
		items = append(items, s)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })

	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}

	paged := items[start:end]
	totalPages := (len(items) + pageSize - 1) / pageSize

	return service.ListResult{
		Stores:     paged,
		Page:       page,
		PageSize:   pageSize,
		TotalItems: len(items),
		TotalPages: totalPages,
	}, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status service.Status, isActive bool) (service.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.getLocked(id)
	if err != nil {
		return service.Store{}, err
	}

	s.Status = status
	s.IsActive = isActive
	s.UpdatedAt = time.Now().UTC()
	r.byID[id] = s
	return s, nil
}

func (r *MemoryRepository) SetPublished(ctx context.Context, id uuid.UUID, published bool) (service.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.getLocked(id)
	if err != nil {
		return service.Store{}, err
	}

	s.IsPublished = published
	s.UpdatedAt = time.Now().UTC()
	r.byID[id] = s
	return s, nil
}

func (r *MemoryRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.getLocked(id); err != nil {
		return err
	}
	r.deleted[id] = true
	return nil
}

func (r *MemoryRepository) HardDelete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return service.ErrNotFound
	}
	delete(r.byID, id)
	delete(r.bySlug, s.Slug)
	delete(r.deleted, id)
	return nil
}

// Ensure interface compliance.
var _ service.Repository = (*MemoryRepository)(nil)
