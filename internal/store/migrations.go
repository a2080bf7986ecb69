package store

import "database/sql"

// Migration mirrors the teacher's versioned-migration shape: each version
// is a forward-only SQL statement applied exactly once, tracked in
// schema_version so Open can create missing collections and indices on
// upgrade without touching existing data (spec.md §4.2).
type Migration struct {
	Version     int
	Description string
	Up          string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "base collections: meta, state_chain, sync_log, messages, identity, caps, tvm_balance",
		Up:          migrationV1Up,
	},
	{
		Version:     2,
		Description: "capsules collection and its secondary indices",
		Up:          migrationV2Up,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS state_chain (
    seq         INTEGER PRIMARY KEY,
    type        TEXT NOT NULL,
    timestamp_ms INTEGER NOT NULL,
    nonce       TEXT NOT NULL UNIQUE,
    prev_hash   TEXT NOT NULL,
    block_hash  TEXT NOT NULL,
    json        BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_state_chain_type ON state_chain(type);
CREATE INDEX IF NOT EXISTS idx_state_chain_timestamp ON state_chain(timestamp_ms);

CREATE TABLE IF NOT EXISTS sync_log (
    nonce TEXT PRIMARY KEY,
    ts    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_log_ts ON sync_log(ts);

CREATE TABLE IF NOT EXISTS messages (
    id             TEXT PRIMARY KEY,
    seq            INTEGER NOT NULL,
    timestamp_ms   INTEGER NOT NULL,
    type           TEXT NOT NULL,
    peer           TEXT,
    direction      TEXT,
    tag            TEXT,
    text           TEXT,
    author         TEXT,
    decision       TEXT,
    outcome        TEXT,
    has_scores     INTEGER NOT NULL DEFAULT 0,
    rich_score     REAL,
    business_score REAL
);
CREATE INDEX IF NOT EXISTS idx_messages_seq ON messages(seq);
CREATE INDEX IF NOT EXISTS idx_messages_peer ON messages(peer);
CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_messages_tag ON messages(tag);

CREATE TABLE IF NOT EXISTS identity (
    key  TEXT PRIMARY KEY,
    json BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS caps (
    period   TEXT NOT NULL,
    hid      TEXT NOT NULL,
    counter  INTEGER NOT NULL DEFAULT 0,
    reset_at INTEGER,
    PRIMARY KEY (period, hid)
);

CREATE TABLE IF NOT EXISTS tvm_balance (
    hid     TEXT PRIMARY KEY,
    balance REAL NOT NULL DEFAULT 0
);
`

const migrationV2Up = `
CREATE TABLE IF NOT EXISTS capsules (
    id             TEXT PRIMARY KEY,
    session_id     TEXT NOT NULL,
    owner_hid      TEXT NOT NULL,
    rich_score     REAL NOT NULL,
    business_score REAL NOT NULL,
    ecf_score      REAL NOT NULL,
    motivator      TEXT,
    category       TEXT,
    content_hash   TEXT NOT NULL,
    status         TEXT NOT NULL,
    created_at_ms  INTEGER NOT NULL,
    mint_seq       INTEGER
);
CREATE INDEX IF NOT EXISTS idx_capsules_session ON capsules(session_id);
CREATE INDEX IF NOT EXISTS idx_capsules_status ON capsules(status);
CREATE INDEX IF NOT EXISTS idx_capsules_created ON capsules(created_at_ms);
`

// migrate applies every migration whose version is greater than the
// schema's current version, tracked in the meta table under
// "schema_version".
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value BLOB NOT NULL)`); err != nil {
		return err
	}

	current := 0
	row := db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`)
	var raw []byte
	if err := row.Scan(&raw); err == nil {
		current = int(raw[0])
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if _, err := db.Exec(m.Up); err != nil {
			return err
		}
		if _, err := db.Exec(
			`INSERT INTO meta (key, value) VALUES ('schema_version', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			[]byte{byte(m.Version)},
		); err != nil {
			return err
		}
	}

	return nil
}
