// Package agent is the DC-resident half of the control plane: decision
// service, local caches, central client, policy stream subscriber, gossip
// peer and the host IPC endpoint.
package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// LocalStore is the agent's crash-durable cache backing. Single process,
// single writer, WAL journaling so restarts do not lose recent decisions.
type LocalStore struct {
	db *sqlx.DB
}

const localSchema = `
CREATE TABLE IF NOT EXISTS cached_policies (
	policy_id     TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	json          TEXT NOT NULL,
	failover_mode TEXT NOT NULL DEFAULT '',
	priority      INTEGER NOT NULL DEFAULT 0,
	enabled       INTEGER NOT NULL DEFAULT 1,
	updated_at    TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS cached_sessions (
	session_id      TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	user_name       TEXT NOT NULL,
	source_ip       TEXT NOT NULL DEFAULT '',
	expires_at      TIMESTAMP NOT NULL,
	verified_method TEXT NOT NULL DEFAULT '',
	revoked         INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS cache_metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

func OpenLocalStore(path string) (*LocalStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range strings.Split(localSchema, ";\n") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("local store migrate: %w", err)
		}
	}
	return &LocalStore{db: db}, nil
}

func (l *LocalStore) Close() error { return l.db.Close() }

// CachedPolicy is a policy row as the agent persists it.
type CachedPolicy struct {
	PolicyID     string    `db:"policy_id"`
	Name         string    `db:"name"`
	JSON         string    `db:"json"`
	FailoverMode string    `db:"failover_mode"`
	Priority     int       `db:"priority"`
	Enabled      bool      `db:"enabled"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// CachedSession is a session row as the agent persists it.
type CachedSession struct {
	SessionID      string    `db:"session_id"`
	UserID         string    `db:"user_id"`
	UserName       string    `db:"user_name"`
	SourceIP       string    `db:"source_ip"`
	ExpiresAt      time.Time `db:"expires_at"`
	VerifiedMethod string    `db:"verified_method"`
	Revoked        bool      `db:"revoked"`
}

func (l *LocalStore) UpsertPolicy(ctx context.Context, p *CachedPolicy) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO cached_policies (policy_id, name, json, failover_mode, priority, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(policy_id) DO UPDATE SET
			name = excluded.name, json = excluded.json,
			failover_mode = excluded.failover_mode, priority = excluded.priority,
			enabled = excluded.enabled, updated_at = excluded.updated_at`,
		p.PolicyID, p.Name, p.JSON, p.FailoverMode, p.Priority, p.Enabled, p.UpdatedAt.UTC())
	return err
}

func (l *LocalStore) DeletePolicy(ctx context.Context, policyID string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM cached_policies WHERE policy_id = ?`, policyID)
	return err
}

func (l *LocalStore) LoadPolicies(ctx context.Context) ([]CachedPolicy, error) {
	var list []CachedPolicy
	err := l.db.SelectContext(ctx, &list,
		`SELECT * FROM cached_policies WHERE enabled = 1 ORDER BY priority, policy_id`)
	return list, err
}

func (l *LocalStore) UpsertSession(ctx context.Context, s *CachedSession) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO cached_sessions (session_id, user_id, user_name, source_ip, expires_at, verified_method, revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			user_id = excluded.user_id, user_name = excluded.user_name,
			source_ip = excluded.source_ip, expires_at = excluded.expires_at,
			verified_method = excluded.verified_method, revoked = excluded.revoked`,
		s.SessionID, s.UserID, s.UserName, s.SourceIP, s.ExpiresAt.UTC(), s.VerifiedMethod, s.Revoked)
	return err
}

// LoadSessions returns only rows still worth caching.
func (l *LocalStore) LoadSessions(ctx context.Context) ([]CachedSession, error) {
	var list []CachedSession
	err := l.db.SelectContext(ctx, &list,
		`SELECT * FROM cached_sessions WHERE revoked = 0 AND expires_at > ?`, time.Now().UTC())
	return list, err
}

// CleanupSessions deletes rows past expiry. Revoked rows survive until
// then as tombstones.
func (l *LocalStore) CleanupSessions(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM cached_sessions WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Metadata get/set back the last_sync watermark and the agent identity.
func (l *LocalStore) GetMetadata(ctx context.Context, key string) (string, error) {
	var v string
	err := l.db.GetContext(ctx, &v, `SELECT value FROM cache_metadata WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (l *LocalStore) SetMetadata(ctx context.Context, key, value string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO cache_metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
