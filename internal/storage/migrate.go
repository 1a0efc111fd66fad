package storage

import (
	"context"
	"database/sql"
	"embed"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// withMigrator opens a temporary database/sql connection (required by goose)
// configured for the embedded migrations, and closes it once fn returns.
func withMigrator(dsn string, fn func(db *sql.DB) error) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return errors.Wrap(err, "failed to open database for migrations")
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Wrap(err, "failed to set goose dialect")
	}
	return fn(db)
}

// RunMigrations applies all pending database migrations.
func RunMigrations(ctx context.Context, dsn string) error {
	return withMigrator(dsn, func(db *sql.DB) error {
		return errors.Wrap(goose.UpContext(ctx, db, "migrations"), "failed to run migrations")
	})
}

// MigrateDown rolls back the last applied migration.
func MigrateDown(ctx context.Context, dsn string) error {
	return withMigrator(dsn, func(db *sql.DB) error {
		return errors.Wrap(goose.DownContext(ctx, db, "migrations"), "failed to rollback migration")
	})
}

// MigrateStatus prints the status of all migrations.
func MigrateStatus(ctx context.Context, dsn string) error {
	return withMigrator(dsn, func(db *sql.DB) error {
		return errors.Wrap(goose.StatusContext(ctx, db, "migrations"), "failed to get migration status")
	})
}
