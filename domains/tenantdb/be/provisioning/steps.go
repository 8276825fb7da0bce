package provisioning

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	sqlassets "github.com/vendora-io/vendora-platform/database"
)

// Executor runs one SQL statement against the tenant database. Satisfied by
// the router's pgx client for direct connections and by the management
// executor for the delegated path.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) error
}

// Seed carries the per-store values the seed steps need.
type Seed struct {
	AdminUserID uuid.UUID
	AdminEmail  string
	AdminName   string
	ThemeID     uuid.UUID
}

// Step is one named, idempotent unit of tenant database setup. Idempotency is
// the contract that makes reprovisioning safe: every step must tolerate its
// own prior effects.
type Step struct {
	Name string
	Run  func(ctx context.Context, ex Executor, seed Seed) error
}

// StepResult records the outcome of one step within a run.
type StepResult struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// DefaultSteps returns the ordered tenant setup sequence: core schema first,
// then the admin user, default settings and default theme.
func DefaultSteps() []Step {
	return []Step{
		{
			Name: "core_schema",
			Run: func(ctx context.Context, ex Executor, _ Seed) error {
				return ex.Exec(ctx, sqlassets.TenantCoreSQL)
			},
		},
		{
			Name: "seed_admin_user",
			Run: func(ctx context.Context, ex Executor, seed Seed) error {
				if seed.AdminEmail == "" {
					return nil
				}
				id := seed.AdminUserID
				if id == uuid.Nil {
					id = uuid.New()
				}
				name := seed.AdminName
				if name == "" {
					name = seed.AdminEmail
				}
				return ex.Exec(ctx, sqlassets.TenantSeedAdminUserSQL, id, seed.AdminEmail, name)
			},
		},
		{
			Name: "seed_settings",
			Run: func(ctx context.Context, ex Executor, _ Seed) error {
				return ex.Exec(ctx, sqlassets.TenantSeedSettingsSQL)
			},
		},
		{
			Name: "seed_theme",
			Run: func(ctx context.Context, ex Executor, seed Seed) error {
				id := seed.ThemeID
				if id == uuid.Nil {
					id = uuid.New()
				}
				return ex.Exec(ctx, sqlassets.TenantSeedThemeSQL, id)
			},
		},
	}
}

// runSteps executes steps in order, stopping at the first failure. The
// returned results always include every attempted step.
func runSteps(ctx context.Context, ex Executor, seed Seed, steps []Step) ([]StepResult, error) {
	results := make([]StepResult, 0, len(steps))
	for _, step := range steps {
		start := time.Now()
		err := step.Run(ctx, ex, seed)
		result := StepResult{Name: step.Name, Duration: time.Since(start)}
		if err != nil {
			result.Err = err.Error()
			results = append(results, result)
			return results, fmt.Errorf("step %q: %w", step.Name, err)
		}
		results = append(results, result)
	}
	return results, nil
}
