package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Errors returned by the service layer.
var (
	ErrNotFound          = errors.New("store not found")
	ErrConflictSlug      = errors.New("store slug already exists")
	ErrInvalidSlug       = errors.New("store slug must be lowercase letters, digits and hyphens")
	ErrInvalidTransition = errors.New("illegal store status transition")
)

// Status is the provisioning lifecycle state of a store.
type Status string

const (
	// StatusPendingDatabase means the store exists in the master database but
	// has no usable tenant database yet.
	StatusPendingDatabase Status = "pending_database"
	// StatusProvisioning means a connect/reprovision run is in flight.
	StatusProvisioning Status = "provisioning"
	// StatusActive means the tenant database is migrated, seeded and reachable.
	StatusActive Status = "active"
	// StatusSuspended is terminal, reached by explicit owner action.
	StatusSuspended Status = "suspended"
)

// StatusFromString converts a stored string; defaults to pending on unknown.
func StatusFromString(s string) Status {
	switch Status(s) {
	case StatusPendingDatabase, StatusProvisioning, StatusActive, StatusSuspended:
		return Status(s)
	default:
		return StatusPendingDatabase
	}
}

// legalTransitions is the store lifecycle state machine. The recovery edges
// back to pending_database let a broken tenant database be demoted without
// losing the store's master-level identity.
var legalTransitions = map[Status][]Status{
	StatusPendingDatabase: {StatusProvisioning},
	StatusProvisioning:    {StatusActive, StatusPendingDatabase},
	StatusActive:          {StatusPendingDatabase, StatusSuspended},
}

func canTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Store is the tenant identity record living in the master database.
type Store struct {
	ID          uuid.UUID
	Slug        string
	Name        string
	Status      Status
	IsActive    bool
	OwnerUserID uuid.UUID
	IsPublished bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateInput represents the request to create a store.
type CreateInput struct {
	Slug        string
	Name        string
	OwnerUserID uuid.UUID
}

// ListOptions captures filters and pagination.
type ListOptions struct {
	Page     int
	PageSize int
	Status   *Status
}

// ListResult wraps paginated stores.
type ListResult struct {
	Stores     []Store
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// Repository abstracts master-database persistence for stores.
type Repository interface {
	Create(ctx context.Context, s Store) (Store, error)
	Get(ctx context.Context, id uuid.UUID) (Store, error)
	GetBySlug(ctx context.Context, slug string) (Store, error)
	List(ctx context.Context, opts ListOptions) (ListResult, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, isActive bool) (Store, error)
	SetPublished(ctx context.Context, id uuid.UUID, published bool) (Store, error)
	SoftDelete(ctx context.Context, id uuid.UUID) error
	HardDelete(ctx context.Context, id uuid.UUID) error
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Service provides store registry operations.
type Service struct {
	repo Repository
}

// New constructs a Service with required dependencies.
func New(repo Repository) *Service {
	if repo == nil {
		panic("stores repo is required")
	}
	return &Service{repo: repo}
}

// Create registers a new store in pending_database status. The tenant
// database is connected later by the provisioning pipeline.
func (s *Service) Create(ctx context.Context, input CreateInput) (Store, error) {
	slug := strings.TrimSpace(strings.ToLower(input.Slug))
	if !slugPattern.MatchString(slug) {
		return Store{}, ErrInvalidSlug
	}
	if input.OwnerUserID == uuid.Nil {
		return Store{}, errors.New("owner user id is required")
	}

	now := time.Now().UTC()
	store := Store{
		ID:          uuid.New(),
		Slug:        slug,
		Name:        input.Name,
		Status:      StatusPendingDatabase,
		IsActive:    false,
		OwnerUserID: input.OwnerUserID,
		IsPublished: false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return s.repo.Create(ctx, store)
}

// Get returns a store by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Store, error) {
	return s.repo.Get(ctx, id)
}

// GetBySlug returns a store by its URL slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (Store, error) {
	return s.repo.GetBySlug(ctx, slug)
}

// List stores with optional status filter.
func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	return s.repo.List(ctx, opts)
}

// SetStatus transitions the store along a legal lifecycle edge. The active
// flag is derived from the target status so the pair can never diverge.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, to Status) (Store, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Store{}, err
	}
	if current.Status == to {
		return current, nil
	}
	if !canTransition(current.Status, to) {
		return Store{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}
	return s.repo.UpdateStatus(ctx, id, to, to == StatusActive)
}

// SetPublished flips storefront visibility; only active stores may publish.
func (s *Service) SetPublished(ctx context.Context, id uuid.UUID, published bool) (Store, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Store{}, err
	}
	if published && current.Status != StatusActive {
		return Store{}, fmt.Errorf("%w: only active stores can be published", ErrInvalidTransition)
	}
	return s.repo.SetPublished(ctx, id, published)
}

// Suspend soft-deletes an active store by explicit owner action.
func (s *Service) Suspend(ctx context.Context, id uuid.UUID) error {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !canTransition(current.Status, StatusSuspended) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, StatusSuspended)
	}
	if _, err := s.repo.UpdateStatus(ctx, id, StatusSuspended, false); err != nil {
		return err
	}
	return s.repo.SoftDelete(ctx, id)
}

// HardDelete removes the store row entirely. Credential rows cascade at the
// persistence layer; callers are responsible for evicting router cache state.
func (s *Service) HardDelete(ctx context.Context, id uuid.UUID) error {
	return s.repo.HardDelete(ctx, id)
}
