package credentials

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vendora-io/vendora-platform/platform/go/secrets"
)

func testCipher(t *testing.T) *secrets.Cipher {
	t.Helper()
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	cipher, err := secrets.NewCipher(key)
	require.NoError(t, err)
	return cipher
}

func testStore(t *testing.T) (*Store, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	return NewStore(repo, testCipher(t), nil), repo
}

func TestSaveAndFindRoundTrip(t *testing.T) {
	store, repo := testStore(t)
	storeID := uuid.New()
	params := ConnectionParams{
		ProjectURL: "https://abc123.supabase.co",
		ServiceKey: "service-key",
		AnonKey:    "anon-key",
	}

	saved, err := store.Save(context.Background(), storeID, KindSupabase, params)
	require.NoError(t, err)
	require.Equal(t, "abc123.supabase.co", saved.Host)
	require.True(t, saved.Active)

	found, err := store.FindByStore(context.Background(), storeID)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, params, found.Params)
	require.Equal(t, KindSupabase, found.Kind)

	// Secrets must be ciphertext at rest.
	rec, err := repo.FindByStore(context.Background(), storeID)
	require.NoError(t, err)
	require.NotEqual(t, params.ServiceKey, rec.ServiceKeyEnc)
	require.NotContains(t, rec.ServiceKeyEnc, "service-key")
}

func TestFindByStoreAbsentIsNilNotError(t *testing.T) {
	store, _ := testStore(t)

	found, err := store.FindByStore(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestSaveRejectsDuplicateHost(t *testing.T) {
	store, _ := testStore(t)
	params := ConnectionParams{ProjectURL: "https://shared.supabase.co", ServiceKey: "sk"}

	_, err := store.Save(context.Background(), uuid.New(), KindSupabase, params)
	require.NoError(t, err)

	_, err = store.Save(context.Background(), uuid.New(), KindSupabase, params)
	require.ErrorIs(t, err, ErrDatabaseInUse)
}

func TestSaveSameStoreMayKeepItsHost(t *testing.T) {
	store, _ := testStore(t)
	storeID := uuid.New()
	params := ConnectionParams{ProjectURL: "https://mine.supabase.co", ServiceKey: "sk"}

	_, err := store.Save(context.Background(), storeID, KindSupabase, params)
	require.NoError(t, err)

	// Rotating credentials on the same host is not a duplicate.
	params.ServiceKey = "rotated"
	saved, err := store.Save(context.Background(), storeID, KindSupabase, params)
	require.NoError(t, err)
	require.Equal(t, "mine.supabase.co", saved.Host)
}

func TestPendingPlaceholderExemptFromHostCheck(t *testing.T) {
	store, _ := testStore(t)

	_, err := store.Save(context.Background(), uuid.New(), KindPending, ConnectionParams{})
	require.NoError(t, err)
	_, err = store.Save(context.Background(), uuid.New(), KindPending, ConnectionParams{})
	require.NoError(t, err)

	inUse, err := store.CheckHostInUse(context.Background(), "", uuid.Nil)
	require.NoError(t, err)
	require.False(t, inUse)
}

func TestCheckHostInUse(t *testing.T) {
	store, _ := testStore(t)
	owner := uuid.New()
	params := ConnectionParams{ProjectURL: "https://claimed.supabase.co", ServiceKey: "sk"}

	_, err := store.Save(context.Background(), owner, KindSupabase, params)
	require.NoError(t, err)

	inUse, err := store.CheckHostInUse(context.Background(), "claimed.supabase.co", uuid.New())
	require.NoError(t, err)
	require.True(t, inUse)

	// The owning store is excluded from its own check.
	inUse, err = store.CheckHostInUse(context.Background(), "claimed.supabase.co", owner)
	require.NoError(t, err)
	require.False(t, inUse)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, _ := testStore(t)
	storeID := uuid.New()

	_, err := store.Save(context.Background(), storeID, KindPostgres, ConnectionParams{
		ConnString: "postgres://u:p@db.example.com:5432/app",
	})
	require.NoError(t, err)

	require.NoError(t, store.Delete(context.Background(), storeID))
	require.NoError(t, store.Delete(context.Background(), storeID))

	found, err := store.FindByStore(context.Background(), storeID)
	require.NoError(t, err)
	require.Nil(t, found)
}
