// Package store implements the Local Store: the sole-writer SQLite cache
// that is the source of truth for this process's own view of every
// configured forest. Grounded on the teacher's internal/sync/baseline.go —
// same sole-writer connection pattern and same pragma set, retargeted from
// file-tree rows to directory user/group rows. Every read goes to the
// database; there is no in-memory row cache.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// dsnPragmas mirrors the teacher's BaselineManager DSN: WAL for concurrent
// readers during a writer transaction, synchronous=FULL so a crash never
// loses a committed "update AD forests" transaction, foreign_keys=ON so
// forest deletion cascades to its users/groups/memberships (sync-context
// rows have no FK and are deleted explicitly),
// busy_timeout so a reader never returns SQLITE_BUSY under the sole writer.
const dsnPragmas = "_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"

// Store is the Local Store. It owns the single writable connection to the
// SQLite cache database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating and migrating if necessary) the cache database at
// path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?%s", path, dsnPragmas)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}

	// Sole-writer pattern: SQLite serializes writers anyway, but a pool of
	// size 1 makes that serialization happen in Go's sql package instead of
	// surfacing as SQLITE_BUSY errors under WAL + busy_timeout edge cases.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on any error (including
// a panic recovered and re-raised) and committing otherwise. Every
// multi-row mutation that drives a single sync decision goes through this,
// per spec §4.B's "one transaction labelled 'update AD forests'" rule —
// label is carried as the log field "tx", not as a literal SQL comment.
func (s *Store) withTx(ctx context.Context, label string, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx %q: %w", label, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("store: rollback failed", slog.String("tx", label), slog.String("error", rbErr.Error()))
		}

		return fmt.Errorf("store: tx %q: %w", label, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tx %q: %w", label, err)
	}

	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
