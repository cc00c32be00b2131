package capture

// Versioned schema for the on-device database. Four record tables, each
// carrying sync_status, plus the shared creation-sequence counter that
// orders uploads across tables.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS seq_counter (v INTEGER NOT NULL);
INSERT INTO seq_counter (v) SELECT 0 WHERE NOT EXISTS (SELECT 1 FROM seq_counter);

CREATE TABLE IF NOT EXISTS order_snapshots (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    kind TEXT NOT NULL,
    building_id TEXT NOT NULL,
    template_id TEXT NOT NULL,
    technician_id TEXT NOT NULL,
    scheduled_at TIMESTAMP NOT NULL,
    minutes_left INTEGER NOT NULL DEFAULT 0,
    lat REAL,
    lng REAL,
    updated_at TIMESTAMP NOT NULL,
    sync_status TEXT NOT NULL DEFAULT 'pending',
    created_seq INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    ot_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    ts TIMESTAMP NOT NULL,
    lat REAL,
    lng REAL,
    accuracy_m REAL NOT NULL DEFAULT 0,
    sync_status TEXT NOT NULL DEFAULT 'pending',
    created_seq INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS checklist_responses (
    id TEXT PRIMARY KEY,
    ot_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    value TEXT NOT NULL,
    note TEXT,
    photo_ref TEXT,
    sync_status TEXT NOT NULL DEFAULT 'pending',
    created_seq INTEGER NOT NULL,
    UNIQUE (ot_id, item_id)
);

CREATE TABLE IF NOT EXISTS signatures (
    id TEXT PRIMARY KEY,
    ot_id TEXT NOT NULL,
    signer_name TEXT NOT NULL,
    image_ref TEXT NOT NULL,
    ts TIMESTAMP NOT NULL,
    superseded INTEGER NOT NULL DEFAULT 0,
    sync_status TEXT NOT NULL DEFAULT 'pending',
    created_seq INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_sync ON events (sync_status, created_seq);
CREATE INDEX IF NOT EXISTS idx_responses_sync ON checklist_responses (sync_status, created_seq);
CREATE INDEX IF NOT EXISTS idx_signatures_sync ON signatures (sync_status, created_seq);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
