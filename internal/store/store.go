// Package store is the single owner of persisted central state. The default
// deployment is a single SQLite file opened in WAL mode; pointing the DSN at
// postgres:// switches to a shared Postgres store for multi-instance HA.
// All queries go through sqlx and are rebound to the active dialect.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"       // postgres driver
	_ "modernc.org/sqlite"      // pure-Go sqlite driver
)

// ErrNotFound is returned for any single-row lookup miss.
var ErrNotFound = errors.New("store: not found")

// ErrConflict signals an optimistic-concurrency conflict; callers retry.
var ErrConflict = errors.New("store: conflict")

// Store wraps the relational state store.
type Store struct {
	db      *sqlx.DB
	dialect string // "sqlite" or "postgres"
	path    string // file path when sqlite, for the snapshotter
}

// Open connects, configures journaling and applies the schema.
func Open(dsn string) (*Store, error) {
	s := &Store{}
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err := sqlx.Connect("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		db.SetMaxOpenConns(16)
		s.db, s.dialect = db, "postgres"
	default:
		db, err := sqlx.Connect("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		// WAL keeps readers live during writes; NORMAL sync is the
		// durability point the design accepts for cache-adjacent state.
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA synchronous=NORMAL",
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := db.Exec(pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("configure sqlite: %w", err)
			}
		}
		// A single writer connection sidesteps SQLITE_BUSY under load.
		db.SetMaxOpenConns(1)
		s.db, s.dialect, s.path = db, "sqlite", dsn
	}

	if err := s.migrate(); err != nil {
		s.db.Close()
		return nil, err
	}
	slog.Info("[Store] Opened", "dialect", s.dialect)
	return s, nil
}

// Path returns the backing file path, empty for Postgres.
func (s *Store) Path() string { return s.path }

// Dialect returns "sqlite" or "postgres".
func (s *Store) Dialect() string { return s.dialect }

func (s *Store) Close() error { return s.db.Close() }

// Ping backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) migrate() error {
	ddl := schema
	if s.dialect == "postgres" {
		ddl = strings.NewReplacer(
			"BLOB", "BYTEA",
			"INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY",
		).Replace(ddl)
	}
	for _, stmt := range strings.Split(ddl, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w (statement: %.60s)", err, stmt)
		}
	}
	return nil
}

// q rebinds a ?-placeholder query to the active dialect.
func (s *Store) q(query string) string { return s.db.Rebind(query) }

func (s *Store) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := s.db.GetContext(ctx, dest, s.q(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *Store) sel(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return s.db.SelectContext(ctx, dest, s.q(query), args...)
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.q(query), args...)
}

// now is the single clock for persisted timestamps.
func now() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }
