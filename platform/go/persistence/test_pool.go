package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// mustTestPool returns a pool against a migrated master database. It prefers
// TEST_DATABASE_URL when set, otherwise starts a throwaway Postgres
// container. Integration tests using it are skipped in short mode.
func mustTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping persistence integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("vendora"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
		)
		if err != nil {
			t.Skipf("no TEST_DATABASE_URL and container start failed: %v", err)
		}
		t.Cleanup(func() {
			_ = pgContainer.Terminate(context.Background())
		})

		connString, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	require.NoError(t, MigrateMaster(connString))

	pool, err := NewPool(ctx, PoolConfig{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(func() { ClosePool(pool) })

	return pool
}
