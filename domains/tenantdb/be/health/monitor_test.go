package health

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	storerepo "github.com/vendora-io/vendora-platform/domains/stores/be/repo"
	storesvc "github.com/vendora-io/vendora-platform/domains/stores/be/service"
	"github.com/vendora-io/vendora-platform/domains/tenantdb/be/router"
	"github.com/vendora-io/vendora-platform/platform/go/events"
)

type probeClient struct {
	execErr   error
	execPanic bool
}

func (c *probeClient) Ping(context.Context) error { return nil }

func (c *probeClient) Exec(context.Context, string, ...any) error {
	if c.execPanic {
		panic("driver blew up")
	}
	return c.execErr
}

func (c *probeClient) QueryRow(context.Context, string, ...any) pgx.Row { return nil }
func (c *probeClient) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}
func (c *probeClient) Close() {}

type stubConns struct {
	client      router.Client
	err         error
	invalidated []uuid.UUID
}

func (s *stubConns) GetConnection(context.Context, uuid.UUID) (router.Client, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.client, nil
}

func (s *stubConns) Invalidate(storeID uuid.UUID) {
	s.invalidated = append(s.invalidated, storeID)
}

type stubCreds struct {
	deleted []uuid.UUID
}

func (s *stubCreds) Delete(_ context.Context, storeID uuid.UUID) error {
	s.deleted = append(s.deleted, storeID)
	return nil
}

type fixture struct {
	monitor   *Monitor
	stores    *storesvc.Service
	conns     *stubConns
	creds     *stubCreds
	publisher *events.Memory
}

func newFixture(t *testing.T, conns *stubConns) *fixture {
	t.Helper()
	f := &fixture{
		stores:    storesvc.New(storerepo.NewMemoryRepository()),
		conns:     conns,
		creds:     &stubCreds{},
		publisher: events.NewMemory(),
	}
	f.monitor = New(f.conns, f.stores, f.creds, f.publisher, Config{}, nil)
	return f
}

func (f *fixture) activeStore(t *testing.T) storesvc.Store {
	t.Helper()
	store, err := f.stores.Create(context.Background(), storesvc.CreateInput{
		Slug:        "acme-" + uuid.NewString()[:8],
		Name:        "Acme",
		OwnerUserID: uuid.New(),
	})
	require.NoError(t, err)
	_, err = f.stores.SetStatus(context.Background(), store.ID, storesvc.StatusProvisioning)
	require.NoError(t, err)
	store, err = f.stores.SetStatus(context.Background(), store.ID, storesvc.StatusActive)
	require.NoError(t, err)
	return store
}

func TestCheckHealthHealthy(t *testing.T) {
	f := newFixture(t, &stubConns{client: &probeClient{}})
	store := f.activeStore(t)

	report, err := f.monitor.CheckHealth(context.Background(), store.ID)
	require.NoError(t, err)
	require.Equal(t, StateHealthy, report.State)
	require.False(t, report.Demoted)

	got, err := f.stores.Get(context.Background(), store.ID)
	require.NoError(t, err)
	require.Equal(t, storesvc.StatusActive, got.Status)
	require.Empty(t, f.creds.deleted)
}

func TestCheckHealthEmptySchemaDemotes(t *testing.T) {
	client := &probeClient{execErr: &pgconn.PgError{Code: "42P01", Message: `relation "users" does not exist`}}
	f := newFixture(t, &stubConns{client: client})
	store := f.activeStore(t)

	report, err := f.monitor.CheckHealth(context.Background(), store.ID)
	require.NoError(t, err)
	require.Equal(t, StateEmpty, report.State)
	require.True(t, report.Demoted)

	// Demotion is destructive of the credential row, never of the store row.
	got, err := f.stores.Get(context.Background(), store.ID)
	require.NoError(t, err)
	require.Equal(t, storesvc.StatusPendingDatabase, got.Status)
	require.False(t, got.IsActive)

	require.Equal(t, []uuid.UUID{store.ID}, f.creds.deleted)
	require.Contains(t, f.conns.invalidated, store.ID)

	published := f.publisher.Events()
	require.Len(t, published, 1)
	require.Equal(t, events.TypeStoreDemoted, published[0].Type)
}

func TestCheckHealthUnreachableDemotes(t *testing.T) {
	conns := &stubConns{err: router.ErrConnectionFailed}
	f := newFixture(t, conns)
	store := f.activeStore(t)

	report, err := f.monitor.CheckHealth(context.Background(), store.ID)
	require.NoError(t, err)
	require.Equal(t, StateUnreachable, report.State)
	require.True(t, report.Demoted)

	got, err := f.stores.Get(context.Background(), store.ID)
	require.NoError(t, err)
	require.Equal(t, storesvc.StatusPendingDatabase, got.Status)
}

func TestCheckHealthTimeoutIsUnreachable(t *testing.T) {
	client := &probeClient{execErr: context.DeadlineExceeded}
	f := newFixture(t, &stubConns{client: client})
	store := f.activeStore(t)

	report, err := f.monitor.CheckHealth(context.Background(), store.ID)
	require.NoError(t, err)
	require.Equal(t, StateUnreachable, report.State)
	require.True(t, report.Demoted)
}

func TestCheckHealthPanicIsUnreachable(t *testing.T) {
	client := &probeClient{execPanic: true}
	f := newFixture(t, &stubConns{client: client})
	store := f.activeStore(t)

	report, err := f.monitor.CheckHealth(context.Background(), store.ID)
	require.NoError(t, err)
	require.Equal(t, StateUnreachable, report.State)
	require.True(t, report.Demoted)
	require.Contains(t, report.Detail, "panicked")
}

func TestCheckHealthNotProvisionedPassesThrough(t *testing.T) {
	f := newFixture(t, &stubConns{err: router.ErrNotProvisioned})
	store := f.activeStore(t)

	_, err := f.monitor.CheckHealth(context.Background(), store.ID)
	require.ErrorIs(t, err, router.ErrNotProvisioned)

	// No demotion happened; the store simply has nothing to probe.
	got, err := f.stores.Get(context.Background(), store.ID)
	require.NoError(t, err)
	require.Equal(t, storesvc.StatusActive, got.Status)
	require.Empty(t, f.creds.deleted)
}

func TestCheckHealthUnknownStore(t *testing.T) {
	f := newFixture(t, &stubConns{client: &probeClient{}})

	_, err := f.monitor.CheckHealth(context.Background(), uuid.New())
	require.ErrorIs(t, err, storesvc.ErrNotFound)
}

func TestCheckHealthHealsStuckProvisioning(t *testing.T) {
	// A store abandoned mid-provisioning by a crash demotes cleanly on the
	// next check instead of needing manual surgery.
	client := &probeClient{execErr: errors.New("connection reset by peer")}
	f := newFixture(t, &stubConns{client: client})

	store, err := f.stores.Create(context.Background(), storesvc.CreateInput{
		Slug:        "stuck-" + uuid.NewString()[:8],
		Name:        "Stuck",
		OwnerUserID: uuid.New(),
	})
	require.NoError(t, err)
	_, err = f.stores.SetStatus(context.Background(), store.ID, storesvc.StatusProvisioning)
	require.NoError(t, err)

	report, err := f.monitor.CheckHealth(context.Background(), store.ID)
	require.NoError(t, err)
	require.True(t, report.Demoted)

	got, err := f.stores.Get(context.Background(), store.ID)
	require.NoError(t, err)
	require.Equal(t, storesvc.StatusPendingDatabase, got.Status)
}

func TestClassify(t *testing.T) {
	require.Equal(t, StateEmpty, classify(&pgconn.PgError{Code: "42P01"}))
	require.Equal(t, StateEmpty, classify(&pgconn.PgError{Code: "3F000"}))
	require.Equal(t, StateEmpty, classify(errors.New(`could not find the table in the schema cache`)))
	require.Equal(t, StateUnreachable, classify(&pgconn.PgError{Code: "28P01"}))
	require.Equal(t, StateUnreachable, classify(errors.New("dial tcp: i/o timeout")))
	require.Equal(t, StateUnreachable, classify(context.DeadlineExceeded))
}
