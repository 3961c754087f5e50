// Package sqlite keeps the commit journal in a single SQLite file next to
// the collections.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/sonroyaalmerol/gitdav/internal/storage"
)

//go:embed migrations/*.sql
var schema embed.FS

// pragmas run on the single connection before anything else. With
// synchronous=NORMAL a power loss can drop the newest entries.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

type Store struct {
	db     *sql.DB
	opts   storage.JournalOptions
	logger zerolog.Logger
}

// Open creates the journal file and its directory when missing.
func Open(path string, opts storage.JournalOptions, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; WAL still lets the history command read concurrently
	db.SetMaxOpenConns(1)

	s := &Store{db: db, opts: opts, logger: logger.With().Str("journal", path).Logger()}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	src, err := iofs.New(schema, "migrations")
	if err != nil {
		return err
	}
	defer src.Close()
	drv, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("journal migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("journal migrate: %w", err)
	}
	// m.Close would close s.db through the driver
	return storage.MigrateSchema(m, "sqlite", s.logger)
}

func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("closing journal")
	}
}

// Record appends e and, when a retention cap is set, drops the oldest
// entries of the same collection beyond it.
func (s *Store) Record(ctx context.Context, e storage.Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO journal (collection, file, action, user_name, user_agent, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Collection, e.File, e.Action, e.User, e.UserAgent, e.CreatedAt.UnixNano()); err != nil {
		return err
	}
	if s.opts.Retain > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM journal
			WHERE collection = ?1 AND id NOT IN (
				SELECT id FROM journal WHERE collection = ?1 ORDER BY id DESC LIMIT ?2
			)`, e.Collection, s.opts.Retain); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// List returns the newest entries first. An empty collection lists every
// collection; limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, collection string, limit int) ([]storage.Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection, file, action, user_name, user_agent, created_at
		FROM journal
		WHERE ?1 = '' OR collection = ?1
		ORDER BY id DESC
		LIMIT ?2`, collection, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Entry
	for rows.Next() {
		var (
			e       storage.Entry
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Collection, &e.File, &e.Action, &e.User, &e.UserAgent, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, created)
		out = append(out, e)
	}
	return out, rows.Err()
}
