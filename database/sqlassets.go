package sqlassets

import "embed"

// MasterMigrations holds the golang-migrate migration set for the master
// database (stores, store_databases).
//
//go:embed migrations/master/*.sql
var MasterMigrations embed.FS

// Tenant schema and seed statements applied by the provisioning pipeline.
// All statements are idempotent so reprovisioning can re-run them safely.

//go:embed schema/tenant/001_core.sql
var TenantCoreSQL string

//go:embed schema/tenant/002_seed_admin_user.sql
var TenantSeedAdminUserSQL string

//go:embed schema/tenant/003_seed_settings.sql
var TenantSeedSettingsSQL string

//go:embed schema/tenant/004_seed_theme.sql
var TenantSeedThemeSQL string
