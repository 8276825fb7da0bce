package persistence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	sqlassets "github.com/vendora-io/vendora-platform/database"
)

// MigrateMaster applies the embedded master schema migrations (stores,
// store_databases) to the database addressed by connString. Re-running with
// no pending migrations is a no-op.
func MigrateMaster(connString string) error {
	source, err := iofs.New(sqlassets.MasterMigrations, "migrations/master")
	if err != nil {
		return fmt.Errorf("load master migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, pgxURL(connString))
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	defer m.Close() // nolint:errcheck

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply master migrations: %w", err)
	}

	return nil
}

// pgxURL rewrites a postgres:// URL to the scheme registered by the
// golang-migrate pgx/v5 driver.
func pgxURL(connString string) string {
	switch {
	case strings.HasPrefix(connString, "postgres://"):
		return "pgx5://" + strings.TrimPrefix(connString, "postgres://")
	case strings.HasPrefix(connString, "postgresql://"):
		return "pgx5://" + strings.TrimPrefix(connString, "postgresql://")
	default:
		return connString
	}
}
