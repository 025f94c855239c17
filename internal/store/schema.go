package store

// schema is written in the SQLite dialect; Open rewrites the handful of
// type spellings Postgres disagrees on.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id                  TEXT PRIMARY KEY,
    directory_object_id TEXT NOT NULL DEFAULT '',
    sam                 TEXT NOT NULL,
    upn                 TEXT NOT NULL DEFAULT '',
    display             TEXT NOT NULL DEFAULT '',
    email               TEXT NOT NULL DEFAULT '',
    phone               TEXT NOT NULL DEFAULT '',
    dn                  TEXT NOT NULL DEFAULT '',
    enabled             BOOLEAN NOT NULL DEFAULT 1,
    mfa_enabled         BOOLEAN NOT NULL DEFAULT 0,
    last_sync           TIMESTAMP,
    last_auth           TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_sam ON users(sam);

CREATE TABLE IF NOT EXISTS group_memberships (
    user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    group_sid  TEXT NOT NULL,
    group_name TEXT NOT NULL DEFAULT '',
    group_dn   TEXT NOT NULL DEFAULT '',
    synced_at  TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, group_sid)
);

CREATE TABLE IF NOT EXISTS enrollments (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    method            TEXT NOT NULL,
    status            TEXT NOT NULL,
    encrypted_secret  BLOB NOT NULL,
    secret_nonce      BLOB NOT NULL,
    device_identifier TEXT NOT NULL DEFAULT '',
    friendly_name     TEXT NOT NULL DEFAULT '',
    created           TIMESTAMP NOT NULL,
    activated         TIMESTAMP,
    last_used         TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_enrollments_user ON enrollments(user_id, method);

CREATE TABLE IF NOT EXISTS policies (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    enabled       BOOLEAN NOT NULL DEFAULT 1,
    priority      INTEGER NOT NULL DEFAULT 100,
    failover_mode TEXT NOT NULL DEFAULT 'fail_close',
    updated       TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS rule_groups (
    id        TEXT PRIMARY KEY,
    policy_id TEXT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
    grp_order INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_rule_groups_policy ON rule_groups(policy_id);

CREATE TABLE IF NOT EXISTS rules (
    id        TEXT PRIMARY KEY,
    group_id  TEXT NOT NULL REFERENCES rule_groups(id) ON DELETE CASCADE,
    rule_type TEXT NOT NULL,
    operator  TEXT NOT NULL,
    value     TEXT NOT NULL,
    negate    BOOLEAN NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_rules_group ON rules(group_id);

CREATE TABLE IF NOT EXISTS actions (
    id              TEXT PRIMARY KEY,
    policy_id       TEXT NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
    action_type     TEXT NOT NULL,
    required_method TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_actions_policy ON actions(policy_id);

CREATE TABLE IF NOT EXISTS challenges (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    enrollment_id TEXT NOT NULL,
    method        TEXT NOT NULL,
    status        TEXT NOT NULL,
    source_ip     TEXT NOT NULL DEFAULT '',
    target        TEXT NOT NULL DEFAULT '',
    attempts      INTEGER NOT NULL DEFAULT 0,
    max_attempts  INTEGER NOT NULL DEFAULT 3,
    method_state  BLOB,
    created       TIMESTAMP NOT NULL,
    expires       TIMESTAMP NOT NULL,
    responded     TIMESTAMP,
    version       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_challenges_user ON challenges(user_id, status);

CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    user_name       TEXT NOT NULL DEFAULT '',
    token_hash      BLOB NOT NULL,
    source_ip       TEXT NOT NULL DEFAULT '',
    target_resource TEXT NOT NULL DEFAULT '',
    verified_method TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    created         TIMESTAMP NOT NULL,
    expires         TIMESTAMP NOT NULL,
    dc_hint         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, status);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires);

CREATE TABLE IF NOT EXISTS agents (
    id              TEXT PRIMARY KEY,
    type            TEXT NOT NULL,
    hostname        TEXT NOT NULL,
    ip              TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    cert_thumbprint TEXT NOT NULL DEFAULT '',
    version         TEXT NOT NULL DEFAULT '',
    registered      TIMESTAMP NOT NULL,
    last_heartbeat  TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_hostname ON agents(hostname, type);

CREATE TABLE IF NOT EXISTS leader_lease (
    key       TEXT PRIMARY KEY,
    holder_id TEXT NOT NULL,
    acquired  TIMESTAMP NOT NULL,
    expires   TIMESTAMP NOT NULL,
    renewed   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    ts         TIMESTAMP NOT NULL,
    event_type TEXT NOT NULL,
    user_id    TEXT NOT NULL DEFAULT '',
    user_name  TEXT NOT NULL DEFAULT '',
    source_ip  TEXT NOT NULL DEFAULT '',
    target     TEXT NOT NULL DEFAULT '',
    success    BOOLEAN NOT NULL DEFAULT 0,
    details    TEXT NOT NULL DEFAULT '',
    agent_id   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts);
CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id);

CREATE TABLE IF NOT EXISTS restore_tokens (
    token    TEXT PRIMARY KEY,
    filename TEXT NOT NULL,
    expires  TIMESTAMP NOT NULL
);
`
