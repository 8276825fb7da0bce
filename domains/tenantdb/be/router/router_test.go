package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/vendora-io/vendora-platform/domains/tenantdb/be/credentials"
)

type stubClient struct {
	id int
}

func (c *stubClient) Ping(context.Context) error                 { return nil }
func (c *stubClient) Exec(context.Context, string, ...any) error { return nil }
func (c *stubClient) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}
func (c *stubClient) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}
func (c *stubClient) Close() {}

type stubCredentialSource struct {
	mu      sync.Mutex
	lookups int32
	cred    *credentials.TenantCredential
	err     error
}

func (s *stubCredentialSource) FindByStore(context.Context, uuid.UUID) (*credentials.TenantCredential, error) {
	atomic.AddInt32(&s.lookups, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred, s.err
}

type stubFactory struct {
	connects int32
	err      error
}

func (f *stubFactory) Connect(context.Context, credentials.TenantCredential) (Client, error) {
	n := atomic.AddInt32(&f.connects, 1)
	if f.err != nil {
		return nil, f.err
	}
	return &stubClient{id: int(n)}, nil
}

func testCredential(storeID uuid.UUID) *credentials.TenantCredential {
	return &credentials.TenantCredential{
		StoreID: storeID,
		Kind:    credentials.KindPostgres,
		Params:  credentials.ConnectionParams{ConnString: "postgres://u:p@db.example.com:5432/app"},
		Host:    "db.example.com",
		Active:  true,
	}
}

func TestGetConnectionCoalescesConcurrentMisses(t *testing.T) {
	storeID := uuid.New()
	source := &stubCredentialSource{cred: testCredential(storeID)}
	factory := &stubFactory{}
	r := New(source, factory, Config{}, nil)

	const callers = 32
	clients := make([]Client, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			client, err := r.GetConnection(context.Background(), storeID)
			require.NoError(t, err)
			clients[i] = client
		}(i)
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&factory.connects),
		"concurrent misses must construct exactly one client")
	for _, client := range clients {
		require.Same(t, clients[0], client)
	}
}

func TestGetConnectionCacheHitSkipsLookup(t *testing.T) {
	storeID := uuid.New()
	source := &stubCredentialSource{cred: testCredential(storeID)}
	r := New(source, &stubFactory{}, Config{}, nil)

	first, err := r.GetConnection(context.Background(), storeID)
	require.NoError(t, err)
	second, err := r.GetConnection(context.Background(), storeID)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Equal(t, int32(1), atomic.LoadInt32(&source.lookups))
}

func TestGetConnectionNotProvisioned(t *testing.T) {
	source := &stubCredentialSource{cred: nil}
	r := New(source, &stubFactory{}, Config{}, nil)

	_, err := r.GetConnection(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotProvisioned)
}

func TestGetConnectionFailureNotCached(t *testing.T) {
	storeID := uuid.New()
	source := &stubCredentialSource{cred: testCredential(storeID)}
	factory := &stubFactory{err: errors.New("dial tcp: connection refused")}
	r := New(source, factory, Config{}, nil)

	_, err := r.GetConnection(context.Background(), storeID)
	require.ErrorIs(t, err, ErrConnectionFailed)

	// Next attempt retries construction instead of replaying the failure.
	factory.err = nil
	client, err := r.GetConnection(context.Background(), storeID)
	require.NoError(t, err)
	require.NotNil(t, client)
	require.Equal(t, int32(2), atomic.LoadInt32(&factory.connects))
}

func TestInvalidateForcesFreshLookup(t *testing.T) {
	storeID := uuid.New()
	source := &stubCredentialSource{cred: testCredential(storeID)}
	r := New(source, &stubFactory{}, Config{}, nil)

	_, err := r.GetConnection(context.Background(), storeID)
	require.NoError(t, err)

	r.Invalidate(storeID)

	_, err = r.GetConnection(context.Background(), storeID)
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&source.lookups))
}

func TestInvalidateUnknownStoreIsSafe(t *testing.T) {
	r := New(&stubCredentialSource{}, &stubFactory{}, Config{}, nil)
	r.Invalidate(uuid.New())
	r.InvalidateAll()
}

func TestEntryTTLExpiresCacheEntries(t *testing.T) {
	storeID := uuid.New()
	source := &stubCredentialSource{cred: testCredential(storeID)}
	r := New(source, &stubFactory{}, Config{EntryTTL: 10 * time.Millisecond}, nil)

	_, err := r.GetConnection(context.Background(), storeID)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = r.GetConnection(context.Background(), storeID)
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&source.lookups))
}
