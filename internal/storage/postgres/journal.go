// Package postgres keeps the commit journal in PostgreSQL, for deployments
// where several gitdav instances share one storage folder.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/gitdav/internal/storage"
)

//go:embed migrations/*.sql
var schema embed.FS

const (
	maxConns    = 4
	openTimeout = 10 * time.Second
)

type Store struct {
	pool   *pgxpool.Pool
	opts   storage.JournalOptions
	logger zerolog.Logger
}

// Open migrates the schema and connects a pool of at most maxConns.
func Open(dsn string, opts storage.JournalOptions, logger zerolog.Logger) (*Store, error) {
	logger = logger.With().Str("journal", "postgres").Logger()
	if err := migrateSchema(dsn, logger); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal dsn: %w", err)
	}
	cfg.MaxConns = maxConns
	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if cfg.ConnConfig.RuntimeParams["application_name"] == "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = "gitdav"
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal ping: %w", err)
	}
	return &Store{pool: pool, opts: opts, logger: logger}, nil
}

func migrateSchema(dsn string, logger zerolog.Logger) error {
	src, err := iofs.New(schema, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("journal migrate: %w", err)
	}
	defer m.Close()
	return storage.MigrateSchema(m, "postgres", logger)
}

func (s *Store) Close() { s.pool.Close() }

// Record appends e and, when a retention cap is set, drops the oldest
// entries of the same collection beyond it.
func (s *Store) Record(ctx context.Context, e storage.Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`insert into journal (collection, file, action, user_name, user_agent, created_at) values ($1, $2, $3, $4, $5, $6)`,
			e.Collection, e.File, e.Action, e.User, e.UserAgent, e.CreatedAt); err != nil {
			return err
		}
		if s.opts.Retain <= 0 {
			return nil
		}
		_, err := tx.Exec(ctx, `
			delete from journal
			where collection = $1 and id not in (
				select id from journal where collection = $1 order by id desc limit $2
			)`, e.Collection, s.opts.Retain)
		return err
	})
}

// List returns the newest entries first. An empty collection lists every
// collection; limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, collection string, limit int) ([]storage.Entry, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
		select id, collection, file, action, user_name, user_agent, created_at
		from journal
		where $1::text = '' or collection = $1
		order by id desc
		limit $2`, collection, lim)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Entry, error) {
		var e storage.Entry
		err := row.Scan(&e.ID, &e.Collection, &e.File, &e.Action, &e.User, &e.UserAgent, &e.CreatedAt)
		return e, err
	})
}
