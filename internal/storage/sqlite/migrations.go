package sqlite

// schema contains the database schema DDL.
const schema = `
-- Devices
CREATE TABLE IF NOT EXISTS devices (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    topic_prefix TEXT NOT NULL UNIQUE,
    principal_username TEXT NOT NULL UNIQUE,
    principal_secret TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_devices_owner ON devices(owner_id);

-- Outbound message log; sent_at is unix milliseconds so range deletes compare numerically
CREATE TABLE IF NOT EXISTS outbound_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id TEXT NOT NULL,
    topic TEXT NOT NULL,
    kind TEXT NOT NULL,
    payload BLOB NOT NULL,
    sent_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outbound_owner_time ON outbound_messages(owner_id, sent_at);
CREATE INDEX IF NOT EXISTS idx_outbound_time ON outbound_messages(sent_at);
`
