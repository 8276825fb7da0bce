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

// StoreDatabasesTable is the master table holding per-store tenant database
// credentials. Secret columns are encrypted before they reach this layer;
// host and kind stay plaintext so they remain indexable.
const StoreDatabasesTable = "store_databases"

// ErrHostInUse is returned when another active credential row already claims
// the same physical database host.
var ErrHostInUse = errors.New("database host already registered to another store")

// CredentialRecord is one row of the store_databases table. The *Enc fields
// hold ciphertext produced by the secrets cipher.
type CredentialRecord struct {
	StoreID       uuid.UUID `db:"store_id"`
	Kind          string    `db:"kind"`
	ProjectURLEnc string    `db:"project_url"`
	ServiceKeyEnc string    `db:"service_key"`
	AnonKeyEnc    string    `db:"anon_key"`
	ConnStringEnc string    `db:"conn_string"`
	Host          string    `db:"host"`
	IsActive      bool      `db:"is_active"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// CredentialStore provides access to the store_databases table.
type CredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore creates a store; assumes migrations already created the table.
func NewCredentialStore(pool *pgxpool.Pool) (*CredentialStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &CredentialStore{pool: pool}, nil
}

const credentialColumns = `store_id, kind, project_url, service_key, anon_key, conn_string, host, is_active, created_at, updated_at`

// UpsertExclusive writes the credential row while holding a transaction-scoped
// advisory lock on the host, making the duplicate-host check atomic with the
// write. Two stores racing to register the same host serialize here; the
// loser gets ErrHostInUse. Rows with an empty host (pending handshakes that
// have no real project yet) skip the uniqueness check entirely.
func (s *CredentialStore) UpsertExclusive(ctx context.Context, rec CredentialRecord) (CredentialRecord, error) {
	if rec.StoreID == uuid.Nil {
		return CredentialRecord{}, errors.New("store id is required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return CredentialRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if rec.Host != "" {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.Host); err != nil {
			return CredentialRecord{}, fmt.Errorf("lock host: %w", err)
		}

		var inUse bool
		query := fmt.Sprintf(`
            SELECT EXISTS (
                SELECT 1 FROM %s
                WHERE host = $1 AND is_active = TRUE AND store_id <> $2
            )`, StoreDatabasesTable)
		if err := tx.QueryRow(ctx, query, rec.Host, rec.StoreID).Scan(&inUse); err != nil {
			return CredentialRecord{}, fmt.Errorf("check host in use: %w", err)
		}
		if inUse {
			return CredentialRecord{}, ErrHostInUse
		}
	}

	upsert := fmt.Sprintf(`
        INSERT INTO %s (%s)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
        ON CONFLICT (store_id) DO UPDATE SET
            kind = EXCLUDED.kind,
            project_url = EXCLUDED.project_url,
            service_key = EXCLUDED.service_key,
            anon_key = EXCLUDED.anon_key,
            conn_string = EXCLUDED.conn_string,
            host = EXCLUDED.host,
            is_active = EXCLUDED.is_active,
            updated_at = EXCLUDED.updated_at
        RETURNING %s
    `, StoreDatabasesTable, credentialColumns, credentialColumns)

	row := tx.QueryRow(ctx, upsert,
		rec.StoreID, rec.Kind, rec.ProjectURLEnc, rec.ServiceKeyEnc,
		rec.AnonKeyEnc, rec.ConnStringEnc, rec.Host, rec.IsActive, time.Now().UTC(),
	)
	out, err := scanCredentialRecord(row)
	if err != nil {
		return CredentialRecord{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return CredentialRecord{}, fmt.Errorf("commit credential upsert: %w", err)
	}
	return out, nil
}

// FindByStore fetches the credential row for a store.
func (s *CredentialStore) FindByStore(ctx context.Context, storeID uuid.UUID) (CredentialRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE store_id = $1`, credentialColumns, StoreDatabasesTable)
	return scanCredentialRecord(s.pool.QueryRow(ctx, query, storeID))
}

// DeleteByStore removes the credential row; idempotent.
func (s *CredentialStore) DeleteByStore(ctx context.Context, storeID uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE store_id = $1`, StoreDatabasesTable)
	_, err := s.pool.Exec(ctx, query, storeID)
	return err
}

// HostInUse reports whether another store's active credential row already
// references host. Empty hosts are never considered in use.
func (s *CredentialStore) HostInUse(ctx context.Context, host string, excludingStoreID uuid.UUID) (bool, error) {
	if host == "" {
		return false, nil
	}

	var inUse bool
	query := fmt.Sprintf(`
        SELECT EXISTS (
            SELECT 1 FROM %s
            WHERE host = $1 AND is_active = TRUE AND store_id <> $2
        )`, StoreDatabasesTable)
	if err := s.pool.QueryRow(ctx, query, host, excludingStoreID).Scan(&inUse); err != nil {
		return false, err
	}
	return inUse, nil
}

func scanCredentialRecord(row pgx.Row) (CredentialRecord, error) {
	var rec CredentialRecord
	if err := row.Scan(&rec.StoreID, &rec.Kind, &rec.ProjectURLEnc, &rec.ServiceKeyEnc,
		&rec.AnonKeyEnc, &rec.ConnStringEnc, &rec.Host, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CredentialRecord{}, ErrNotFound
		}
		return CredentialRecord{}, err
	}
	return rec, nil
}
