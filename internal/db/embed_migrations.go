package db

import "embed"

// MigrationFS embeds SQL migration files from internal/db/migrations.
// Used by the migrate runner (cmd/migrate and MIGRATE_ON_START).
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
