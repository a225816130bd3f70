package sqlite

// SchemaVersion is recorded in the metadata table after the schema is applied.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS roles (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT '',
    description  TEXT NOT NULL DEFAULT '',
    priority     INTEGER NOT NULL DEFAULT 99,
    active       INTEGER NOT NULL DEFAULT 1,
    system       INTEGER NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS permissions (
    id           TEXT PRIMARY KEY,
    name         TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL DEFAULT '',
    description  TEXT NOT NULL DEFAULT '',
    module       TEXT NOT NULL DEFAULT '',
    resource     TEXT NOT NULL DEFAULT '',
    action       TEXT NOT NULL DEFAULT '',
    system       INTEGER NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS role_permissions (
    role_id       TEXT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
    permission_id TEXT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
    PRIMARY KEY (role_id, permission_id)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS identities (
    id               TEXT PRIMARY KEY,
    username         TEXT NOT NULL UNIQUE,
    email            TEXT NOT NULL DEFAULT '',
    password_hash    TEXT NOT NULL,
    status           TEXT NOT NULL DEFAULT 'active',
    failed_attempts  INTEGER NOT NULL DEFAULT 0,
    locked_until     INTEGER,
    role_id          TEXT REFERENCES roles(id),
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL,
    last_login_at    INTEGER,
    last_activity_at INTEGER,
    last_ip          TEXT NOT NULL DEFAULT '',
    last_user_agent  TEXT NOT NULL DEFAULT '',
    version          INTEGER NOT NULL DEFAULT 1
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_identities_email ON identities(lower(email)) WHERE email <> '';
CREATE INDEX IF NOT EXISTS idx_identities_role ON identities(role_id);
`
