package credentials

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/vendora-io/vendora-platform/platform/go/persistence"
)

// PostgresRepository implements Repository on top of the master database
// store_databases table.
type PostgresRepository struct {
	store *persistence.CredentialStore
}

// NewPostgresRepository constructs a repository backed by the master
// credential table.
func NewPostgresRepository(store *persistence.CredentialStore) *PostgresRepository {
	if store == nil {
		panic("credential store is required")
	}
	return &PostgresRepository{store: store}
}

func (r *PostgresRepository) UpsertExclusive(ctx context.Context, rec Record) (Record, error) {
	out, err := r.store.UpsertExclusive(ctx, toPersistence(rec))
	if err != nil {
		if errors.Is(err, persistence.ErrHostInUse) {
			return Record{}, ErrDatabaseInUse
		}
		return Record{}, err
	}
	return fromPersistence(out), nil
}

func (r *PostgresRepository) FindByStore(ctx context.Context, storeID uuid.UUID) (Record, error) {
	out, err := r.store.FindByStore(ctx, storeID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Record{}, errNotFound
		}
		return Record{}, err
	}
	return fromPersistence(out), nil
}

func (r *PostgresRepository) DeleteByStore(ctx context.Context, storeID uuid.UUID) error {
	return r.store.DeleteByStore(ctx, storeID)
}

func (r *PostgresRepository) HostInUse(ctx context.Context, host string, excludingStoreID uuid.UUID) (bool, error) {
	return r.store.HostInUse(ctx, host, excludingStoreID)
}

func toPersistence(rec Record) persistence.CredentialRecord {
	return persistence.CredentialRecord{
		StoreID:       rec.StoreID,
		Kind:          rec.Kind,
		ProjectURLEnc: rec.ProjectURLEnc,
		ServiceKeyEnc: rec.ServiceKeyEnc,
		AnonKeyEnc:    rec.AnonKeyEnc,
		ConnStringEnc: rec.ConnStringEnc,
		Host:          rec.Host,
		IsActive:      rec.IsActive,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func fromPersistence(rec persistence.CredentialRecord) Record {
	return Record{
		StoreID:       rec.StoreID,
		Kind:          rec.Kind,
		ProjectURLEnc: rec.ProjectURLEnc,
		ServiceKeyEnc: rec.ServiceKeyEnc,
		AnonKeyEnc:    rec.AnonKeyEnc,
		ConnStringEnc: rec.ConnStringEnc,
		Host:          rec.Host,
		IsActive:      rec.IsActive,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

// Ensure interface compliance.
var _ Repository = (*PostgresRepository)(nil)
