package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StoresTable is the master table holding store identity records.
const StoresTable = "stores"

// ErrNotFound is returned when a requested master record does not exist.
var ErrNotFound = errors.New("record not found")

// StoreRecord is one row of the stores table.
type StoreRecord struct {
	StoreID     uuid.UUID  `db:"store_id"`
	Slug        string     `db:"slug"`
	Name        string     `db:"name"`
	Status      string     `db:"status"`
	IsActive    bool       `db:"is_active"`
	OwnerUserID uuid.UUID  `db:"owner_user_id"`
	IsPublished bool       `db:"is_published"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	DeletedAt   *time.Time `db:"deleted_at"`
}

// StoreRegistry provides access to the stores table.
type StoreRegistry struct {
	pool *pgxpool.Pool
}

// NewStoreRegistry creates a registry; assumes migrations already created the table.
func NewStoreRegistry(pool *pgxpool.Pool) (*StoreRegistry, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &StoreRegistry{pool: pool}, nil
}

const storeColumns = `store_id, slug, name, status, is_active, owner_user_id, is_published, created_at, updated_at, deleted_at`

// Create inserts a new store row.
func (s *StoreRegistry) Create(ctx context.Context, rec StoreRecord) (StoreRecord, error) {
	if rec.StoreID == uuid.Nil {
		return StoreRecord{}, errors.New("store id is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (%s)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULL)
        RETURNING %s
    `, StoresTable, storeColumns, storeColumns)

	row := s.pool.QueryRow(ctx, query,
		rec.StoreID, rec.Slug, rec.Name, rec.Status, rec.IsActive,
		rec.OwnerUserID, rec.IsPublished, rec.CreatedAt, rec.UpdatedAt,
	)
	return scanStoreRecord(row)
}

// Get fetches a non-deleted store by id.
func (s *StoreRegistry) Get(ctx context.Context, id uuid.UUID) (StoreRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE store_id = $1 AND deleted_at IS NULL`, storeColumns, StoresTable)
	return scanStoreRecord(s.pool.QueryRow(ctx, query, id))
}

// GetBySlug fetches a non-deleted store by slug.
func (s *StoreRegistry) GetBySlug(ctx context.Context, slug string) (StoreRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE slug = $1 AND deleted_at IS NULL`, storeColumns, StoresTable)
	return scanStoreRecord(s.pool.QueryRow(ctx, query, slug))
}

// List returns paginated non-deleted stores with an optional status filter.
func (s *StoreRegistry) List(ctx context.Context, status *string, limit, offset int) ([]StoreRecord, int, error) {
	where := "WHERE deleted_at IS NULL"
	args := []any{}
	if status != nil {
		where += " AND status = $1"
		args = append(args, *status)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", StoresTable, where)
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s %s
        ORDER BY created_at DESC
        LIMIT %d OFFSET %d`, storeColumns, StoresTable, where, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []StoreRecord
	for rows.Next() {
		rec, err := scanStoreRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// UpdateStatus transitions a store's lifecycle status and active flag in one
// statement, so readers never observe the pair out of sync.
func (s *StoreRegistry) UpdateStatus(ctx context.Context, id uuid.UUID, status string, isActive bool) (StoreRecord, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET status = $2, is_active = $3, updated_at = $4
        WHERE store_id = $1 AND deleted_at IS NULL
        RETURNING %s
    `, StoresTable, storeColumns)
	return scanStoreRecord(s.pool.QueryRow(ctx, query, id, status, isActive, time.Now().UTC()))
}

// SetPublished flips the storefront visibility flag.
func (s *StoreRegistry) SetPublished(ctx context.Context, id uuid.UUID, published bool) (StoreRecord, error) {
	query := fmt.Sprintf(`
        UPDATE %s SET is_published = $2, updated_at = $3
        WHERE store_id = $1 AND deleted_at IS NULL
        RETURNING %s
    `, StoresTable, storeColumns)
	return scanStoreRecord(s.pool.QueryRow(ctx, query, id, published, time.Now().UTC()))
}

// SoftDelete marks the store deleted while keeping its row for history.
func (s *StoreRegistry) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`
        UPDATE %s SET deleted_at = $2, is_active = FALSE, is_published = FALSE, updated_at = $2
        WHERE store_id = $1 AND deleted_at IS NULL
    `, StoresTable)
	tag, err := s.pool.Exec(ctx, query, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HardDelete removes the store row; the store_databases row cascades at the
// schema level.
func (s *StoreRegistry) HardDelete(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE store_id = $1`, StoresTable)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanStoreRecord(row pgx.Row) (StoreRecord, error) {
	var rec StoreRecord
	if err := row.Scan(&rec.StoreID, &rec.Slug, &rec.Name, &rec.Status, &rec.IsActive,
		&rec.OwnerUserID, &rec.IsPublished, &rec.CreatedAt, &rec.UpdatedAt, &rec.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StoreRecord{}, ErrNotFound
		}
		return StoreRecord{}, err
	}
	return rec, nil
}
