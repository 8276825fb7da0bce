package service_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vendora-io/vendora-platform/domains/stores/be/repo"
	"github.com/vendora-io/vendora-platform/domains/stores/be/service"
)

func newService() *service.Service {
	return service.New(repo.NewMemoryRepository())
}

func createStore(t *testing.T, svc *service.Service, slug string) service.Store {
	t.Helper()
	store, err := svc.Create(context.Background(), service.CreateInput{
		Slug:        slug,
		Name:        "Test Store",
		OwnerUserID: uuid.New(),
	})
	require.NoError(t, err)
	return store
}

func TestCreateStartsPending(t *testing.T) {
	svc := newService()
	store := createStore(t, svc, "acme")

	require.Equal(t, service.StatusPendingDatabase, store.Status)
	require.False(t, store.IsActive)
	require.False(t, store.IsPublished)
}

func TestCreateNormalizesSlug(t *testing.T) {
	svc := newService()
	store := createStore(t, svc, "  ACME-Shop  ")
	require.Equal(t, "acme-shop", store.Slug)

	found, err := svc.GetBySlug(context.Background(), "acme-shop")
	require.NoError(t, err)
	require.Equal(t, store.ID, found.ID)
}

func TestCreateRejectsBadSlugs(t *testing.T) {
	svc := newService()
	for _, slug := range []string{"", "-leading", "trailing-", "two--hyphens", "with space", "ünïcode"} {
		_, err := svc.Create(context.Background(), service.CreateInput{
			Slug:        slug,
			Name:        "Bad",
			OwnerUserID: uuid.New(),
		})
		require.ErrorIs(t, err, service.ErrInvalidSlug, "slug %q", slug)
	}
}

func TestCreateDuplicateSlug(t *testing.T) {
	svc := newService()
	createStore(t, svc, "acme")

	_, err := svc.Create(context.Background(), service.CreateInput{
		Slug:        "acme",
		Name:        "Copycat",
		OwnerUserID: uuid.New(),
	})
	require.ErrorIs(t, err, service.ErrConflictSlug)
}

func TestStatusTransitions(t *testing.T) {
	svc := newService()
	store := createStore(t, svc, "acme")
	ctx := context.Background()

	// pending -> active is not a legal edge; provisioning sits between.
	_, err := svc.SetStatus(ctx, store.ID, service.StatusActive)
	require.ErrorIs(t, err, service.ErrInvalidTransition)

	got, err := svc.SetStatus(ctx, store.ID, service.StatusProvisioning)
	require.NoError(t, err)
	require.Equal(t, service.StatusProvisioning, got.Status)
	require.False(t, got.IsActive)

	got, err = svc.SetStatus(ctx, store.ID, service.StatusActive)
	require.NoError(t, err)
	require.Equal(t, service.StatusActive, got.Status)
	require.True(t, got.IsActive)

	// Demotion clears the active flag with the status, atomically.
	got, err = svc.SetStatus(ctx, store.ID, service.StatusPendingDatabase)
	require.NoError(t, err)
	require.Equal(t, service.StatusPendingDatabase, got.Status)
	require.False(t, got.IsActive)

	// Suspension is only reachable from active.
	_, err = svc.SetStatus(ctx, store.ID, service.StatusSuspended)
	require.ErrorIs(t, err, service.ErrInvalidTransition)
}

func TestSetStatusSameStatusIsNoop(t *testing.T) {
	svc := newService()
	store := createStore(t, svc, "acme")

	got, err := svc.SetStatus(context.Background(), store.ID, service.StatusPendingDatabase)
	require.NoError(t, err)
	require.Equal(t, store.ID, got.ID)
}

func TestPublishRequiresActive(t *testing.T) {
	svc := newService()
	store := createStore(t, svc, "acme")
	ctx := context.Background()

	_, err := svc.SetPublished(ctx, store.ID, true)
	require.ErrorIs(t, err, service.ErrInvalidTransition)

	_, err = svc.SetStatus(ctx, store.ID, service.StatusProvisioning)
	require.NoError(t, err)
	_, err = svc.SetStatus(ctx, store.ID, service.StatusActive)
	require.NoError(t, err)

	got, err := svc.SetPublished(ctx, store.ID, true)
	require.NoError(t, err)
	require.True(t, got.IsPublished)

	// Unpublishing is always allowed.
	got, err = svc.SetPublished(ctx, store.ID, false)
	require.NoError(t, err)
	require.False(t, got.IsPublished)
}

func TestSuspendSoftDeletes(t *testing.T) {
	svc := newService()
	store := createStore(t, svc, "acme")
	ctx := context.Background()

	_, err := svc.SetStatus(ctx, store.ID, service.StatusProvisioning)
	require.NoError(t, err)
	_, err = svc.SetStatus(ctx, store.ID, service.StatusActive)
	require.NoError(t, err)

	require.NoError(t, svc.Suspend(ctx, store.ID))

	_, err = svc.Get(ctx, store.ID)
	require.ErrorIs(t, err, service.ErrNotFound)

	// The slug frees up for reuse once the old store is gone.
	fresh := createStore(t, svc, "acme")
	require.NotEqual(t, store.ID, fresh.ID)
}

func TestListFiltersByStatus(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	a := createStore(t, svc, "store-a")
	createStore(t, svc, "store-b")

	_, err := svc.SetStatus(ctx, a.ID, service.StatusProvisioning)
	require.NoError(t, err)
	_, err = svc.SetStatus(ctx, a.ID, service.StatusActive)
	require.NoError(t, err)

	active := service.StatusActive
	result, err := svc.List(ctx, service.ListOptions{Page: 1, PageSize: 10, Status: &active})
	require.NoError(t, err)
	require.Equal(t, 1, result.TotalItems)
	require.Len(t, result.Stores, 1)
	require.Equal(t, a.ID, result.Stores[0].ID)

	result, err = svc.List(ctx, service.ListOptions{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, 2, result.TotalItems)
}

func TestHardDelete(t *testing.T) {
	svc := newService()
	store := createStore(t, svc, "acme")

	require.NoError(t, svc.HardDelete(context.Background(), store.ID))

	_, err := svc.Get(context.Background(), store.ID)
	require.ErrorIs(t, err, service.ErrNotFound)
}
