package database

import (
	"context"
	_ "embed"

	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed migrations/000001_init.up.sql
var initMigrationUp string

//go:embed migrations/000001_init.down.sql
var initMigrationDown string

// Execer is satisfied by pgx.Conn, pgx.Tx and pgxpool.Pool.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// MigrateUp applies the schema directly, bypassing migration version
// bookkeeping. Used by tests that need a schema on a fresh container.
func MigrateUp(ctx context.Context, db Execer) error {
	_, err := db.Exec(ctx, initMigrationUp)
	return err
}

// MigrateDown reverses MigrateUp.
func MigrateDown(ctx context.Context, db Execer) error {
	_, err := db.Exec(ctx, initMigrationDown)
	return err
}
