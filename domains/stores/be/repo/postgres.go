package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vendora-io/vendora-platform/domains/stores/be/service"
	"github.com/vendora-io/vendora-platform/platform/go/persistence"
)

// PostgresRepository implements the store repository on top of the master
// database registry.
type PostgresRepository struct {
	registry *persistence.StoreRegistry
}

// NewPostgresRepository constructs a repository backed by StoreRegistry.
func NewPostgresRepository(registry *persistence.StoreRegistry) *PostgresRepository {
	if registry == nil {
		panic("store registry is required")
	}
	return &PostgresRepository{registry: registry}
}

func (r *PostgresRepository) Create(ctx context.Context, s service.Store) (service.Store, error) {
	out, err := r.registry.Create(ctx, toRecord(s))
	if err != nil {
		return service.Store{}, mapConflict(err)
	}
	return toServiceStore(out), nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Store, error) {
	rec, err := r.registry.Get(ctx, id)
	if err != nil {
		return service.Store{}, mapNotFound(err)
	}
	return toServiceStore(rec), nil
}

func (r *PostgresRepository) GetBySlug(ctx context.Context, slug string) (service.Store, error) {
	rec, err := r.registry.GetBySlug(ctx, slug)
	if err != nil {
		return service.Store{}, mapNotFound(err)
	}
	return toServiceStore(rec), nil
}

func (r *PostgresRepository) List(ctx context.Context, opts service.ListOptions) (service.ListResult, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	size := opts.PageSize
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	var statusStr *string
	if opts.Status != nil {
		s := string(*opts.Status)
		statusStr = &s
	}

	rows, total, err := r.registry.List(ctx, statusStr, size, offset)
	if err != nil {
		return service.ListResult{}, err
	}

	stores := make([]service.Store, 0, len(rows))
	for _, rec := range rows {
		stores = append(stores, toServiceStore(rec))
	}

	totalPages := (total + size - 1) / size
	return service.ListResult{Stores: stores, Page: page, PageSize: size, TotalItems: total, TotalPages: totalPages}, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status service.Status, isActive bool) (service.Store, error) {
	rec, err := r.registry.UpdateStatus(ctx, id, string(status), isActive)
	if err != nil {
		return service.Store{}, mapNotFound(err)
	}
	return toServiceStore(rec), nil
}

func (r *PostgresRepository) SetPublished(ctx context.Context, id uuid.UUID, published bool) (service.Store, error) {
	rec, err := r.registry.SetPublished(ctx, id, published)
	if err != nil {
		return service.Store{}, mapNotFound(err)
	}
	return toServiceStore(rec), nil
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return mapNotFound(r.registry.SoftDelete(ctx, id))
}

func (r *PostgresRepository) HardDelete(ctx context.Context, id uuid.UUID) error {
	return mapNotFound(r.registry.HardDelete(ctx, id))
}

func toRecord(s service.Store) persistence.StoreRecord {
	return persistence.StoreRecord{
		StoreID:     s.ID,
		Slug:        s.Slug,
		Name:        s.Name,
		Status:      string(s.Status),
		IsActive:    s.IsActive,
		OwnerUserID: s.OwnerUserID,
		IsPublished: s.IsPublished,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func toServiceStore(rec persistence.StoreRecord) service.Store {
	return service.Store{
		ID:          rec.StoreID,
		Slug:        rec.Slug,
		Name:        rec.Name,
		Status:      service.StatusFromString(rec.Status),
		IsActive:    rec.IsActive,
		OwnerUserID: rec.OwnerUserID,
		IsPublished: rec.IsPublished,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return service.ErrNotFound
	}
	return err
}

func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" && strings.EqualFold(pgErr.ConstraintName, "stores_slug_unique_live") {
			return service.ErrConflictSlug
		}
	}
	return err
}

// Ensure interface compliance.
var _ service.Repository = (*PostgresRepository)(nil)
