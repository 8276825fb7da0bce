package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vendora-io/vendora-platform/platform/go/secrets"
)

// Errors returned by the credential store.
var (
	// ErrDatabaseInUse signals a violation of the tenant-isolation invariant:
	// no physical database host may back more than one store at a time.
	ErrDatabaseInUse = errors.New("tenant database already in use by another store")

	errNotFound = errors.New("credential row not found")
)

// Record is the at-rest shape of a credential row: host and kind plaintext,
// everything else ciphertext. Repositories move Records; only the Store sees
// plaintext params.
type Record struct {
	StoreID       uuid.UUID
	Kind          string
	ProjectURLEnc string
	ServiceKeyEnc string
	AnonKeyEnc    string
	ConnStringEnc string
	Host          string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TenantCredential is the decrypted domain view of a credential row.
type TenantCredential struct {
	StoreID   uuid.UUID
	Kind      Kind
	Params    ConnectionParams
	Host      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository abstracts master-database persistence for credential rows.
// UpsertExclusive must make the duplicate-host check atomic with the write
// and return ErrDatabaseInUse on violation.
type Repository interface {
	UpsertExclusive(ctx context.Context, rec Record) (Record, error)
	FindByStore(ctx context.Context, storeID uuid.UUID) (Record, error)
	DeleteByStore(ctx context.Context, storeID uuid.UUID) error
	HostInUse(ctx context.Context, host string, excludingStoreID uuid.UUID) (bool, error)
}

// Store is the credential store: durable, encrypted storage and retrieval of
// per-tenant connection parameters plus duplicate-host detection. It does not
// touch the connection router's cache; callers invalidate explicitly after a
// save.
type Store struct {
	repo   Repository
	cipher *secrets.Cipher
	logger *zap.Logger
}

// NewStore constructs a credential Store with required dependencies.
func NewStore(repo Repository, cipher *secrets.Cipher, logger *zap.Logger) *Store {
	if repo == nil {
		panic("credentials repo is required")
	}
	if cipher == nil {
		panic("credentials cipher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{repo: repo, cipher: cipher, logger: logger}
}

// Save validates, encrypts and upserts the credential row for a store. The
// duplicate-host invariant is enforced atomically with the write; a violation
// surfaces as ErrDatabaseInUse.
func (s *Store) Save(ctx context.Context, storeID uuid.UUID, kind Kind, params ConnectionParams) (TenantCredential, error) {
	if storeID == uuid.Nil {
		return TenantCredential{}, errors.New("store id is required")
	}
	if err := ValidateParams(kind, params); err != nil {
		return TenantCredential{}, err
	}

	host, err := DeriveHost(kind, params)
	if err != nil {
		return TenantCredential{}, err
	}

	rec, err := s.encrypt(storeID, kind, params, host)
	if err != nil {
		return TenantCredential{}, err
	}

	out, err := s.repo.UpsertExclusive(ctx, rec)
	if err != nil {
		return TenantCredential{}, err
	}

	s.logger.Info("saved tenant credentials",
		zap.String("store_id", storeID.String()),
		zap.String("kind", string(kind)),
		zap.String("host", host),
	)

	return s.decrypt(out)
}

// FindByStore fetches and decrypts the credential row. A nil result with a
// nil error means the store has no credentials yet ("store not yet
// connected"), which is expected, not exceptional.
func (s *Store) FindByStore(ctx context.Context, storeID uuid.UUID) (*TenantCredential, error) {
	rec, err := s.repo.FindByStore(ctx, storeID)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}

	cred, err := s.decrypt(rec)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// CheckHostInUse reports whether another store's active credential row
// already claims host. Empty hosts (pending placeholders) are never in use.
func (s *Store) CheckHostInUse(ctx context.Context, host string, excludingStoreID uuid.UUID) (bool, error) {
	return s.repo.HostInUse(ctx, host, excludingStoreID)
}

// Delete removes the credential row; idempotent.
func (s *Store) Delete(ctx context.Context, storeID uuid.UUID) error {
	return s.repo.DeleteByStore(ctx, storeID)
}

func (s *Store) encrypt(storeID uuid.UUID, kind Kind, params ConnectionParams, host string) (Record, error) {
	projectURL, err := s.cipher.EncryptString(params.ProjectURL)
	if err != nil {
		return Record{}, fmt.Errorf("encrypt project url: %w", err)
	}
	serviceKey, err := s.cipher.EncryptString(params.ServiceKey)
	if err != nil {
		return Record{}, fmt.Errorf("encrypt service key: %w", err)
	}
	anonKey, err := s.cipher.EncryptString(params.AnonKey)
	if err != nil {
		return Record{}, fmt.Errorf("encrypt anon key: %w", err)
	}
	connString, err := s.cipher.EncryptString(params.ConnString)
	if err != nil {
		return Record{}, fmt.Errorf("encrypt conn string: %w", err)
	}

	return Record{
		StoreID:       storeID,
		Kind:          string(kind),
		ProjectURLEnc: projectURL,
		ServiceKeyEnc: serviceKey,
		AnonKeyEnc:    anonKey,
		ConnStringEnc: connString,
		Host:          host,
		IsActive:      true,
	}, nil
}

func (s *Store) decrypt(rec Record) (TenantCredential, error) {
	projectURL, err := s.cipher.DecryptString(rec.ProjectURLEnc)
	if err != nil {
		return TenantCredential{}, fmt.Errorf("decrypt project url: %w", err)
	}
	serviceKey, err := s.cipher.DecryptString(rec.ServiceKeyEnc)
	if err != nil {
		return TenantCredential{}, fmt.Errorf("decrypt service key: %w", err)
	}
	anonKey, err := s.cipher.DecryptString(rec.AnonKeyEnc)
	if err != nil {
		return TenantCredential{}, fmt.Errorf("decrypt anon key: %w", err)
	}
	connString, err := s.cipher.DecryptString(rec.ConnStringEnc)
	if err != nil {
		return TenantCredential{}, fmt.Errorf("decrypt conn string: %w", err)
	}

	return TenantCredential{
		StoreID: rec.StoreID,
		Kind:    Kind(rec.Kind),
		Params: ConnectionParams{
			ProjectURL: projectURL,
			ServiceKey: serviceKey,
			AnonKey:    anonKey,
			ConnString: connString,
		},
		Host:      rec.Host,
		Active:    rec.IsActive,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}
