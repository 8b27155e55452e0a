package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// runMigrations applies every pending goose migration embedded under
// migrations/. Grounded on the teacher's internal/sync/migrations.go, which
// uses the identical fs.Sub + goose.NewProvider + provider.Up shape — only
// the embedded schema differs.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: sub fs for migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: applying migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("migration applied", slog.String("source", r.Source.Path), slog.Duration("duration", r.Duration))
	}

	return nil
}
