// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses, so pgxmock can stand in.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store implements SourceStore, OutcomeLog, PolicyStore and JobSink on one pool.
type Store struct {
	pool pool
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// limitArg maps a non-positive limit to SQL NULL, which Postgres treats as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id                   TEXT PRIMARY KEY,
	url                  TEXT NOT NULL UNIQUE,
	kind                 TEXT NOT NULL CHECK (kind IN ('html', 'feed', 'api')),
	org_name             TEXT NOT NULL DEFAULT '',
	org_category         TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'paused', 'deleted')),
	crawl_frequency_days DOUBLE PRECISION NOT NULL CHECK (crawl_frequency_days >= 0.5),
	next_run_at          TIMESTAMPTZ,
	last_crawled_at      TIMESTAMPTZ,
	last_status          TEXT,
	last_message         TEXT NOT NULL DEFAULT '',
	consecutive_failures INTEGER NOT NULL DEFAULT 0 CHECK (consecutive_failures >= 0),
	consecutive_nochange INTEGER NOT NULL DEFAULT 0 CHECK (consecutive_nochange >= 0),
	parser_hint          TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS sources_due_idx ON sources (next_run_at NULLS FIRST) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS crawl_outcomes (
	id           TEXT PRIMARY KEY,
	source_id    TEXT NOT NULL REFERENCES sources (id),
	found        INTEGER NOT NULL,
	inserted     INTEGER NOT NULL,
	updated      INTEGER NOT NULL,
	skipped      INTEGER NOT NULL,
	status       TEXT NOT NULL CHECK (status IN ('success', 'no_change', 'error')),
	message      TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	config_error BOOLEAN NOT NULL DEFAULT false,
	duration_ms  BIGINT NOT NULL,
	ran_at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS crawl_outcomes_source_idx ON crawl_outcomes (source_id, ran_at DESC);

CREATE TABLE IF NOT EXISTS domain_policies (
	host                    TEXT PRIMARY KEY,
	max_concurrency         INTEGER NOT NULL DEFAULT 0,
	min_request_interval_ms INTEGER NOT NULL DEFAULT 0,
	max_pages               INTEGER NOT NULL DEFAULT 0,
	max_kb_per_page         INTEGER NOT NULL DEFAULT 0,
	allow_js                BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS jobs (
	fingerprint   TEXT PRIMARY KEY,
	source_id     TEXT NOT NULL,
	external_id   TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL,
	organization  TEXT NOT NULL DEFAULT '',
	location_raw  TEXT NOT NULL DEFAULT '',
	country       TEXT NOT NULL DEFAULT '',
	region        TEXT NOT NULL DEFAULT '',
	level         TEXT NOT NULL DEFAULT '',
	tags          TEXT[] NOT NULL DEFAULT '{}',
	apply_url     TEXT NOT NULL,
	snippet       TEXT NOT NULL DEFAULT '',
	deadline      DATE,
	content_hash  TEXT NOT NULL,
	first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
