package db

import (
	"fmt"

	"github.com/marcus/riff/internal/models"
)

// SchemaVersion is the current database schema version
const SchemaVersion = 3

// recordTables maps each record type to its local collection table.
var recordTables = map[models.RecordType]string{
	models.TypePracticeSession: "practice_entries",
	models.TypeGoal:            "goals",
	models.TypeRepertoire:      "repertoire",
	models.TypeSettings:        "settings",
}

func tableFor(t models.RecordType) (string, error) {
	name, ok := recordTables[t]
	if !ok {
		return "", fmt.Errorf("unknown record type %q", t)
	}
	return name, nil
}

func recordTableDDL(name string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    payload TEXT,
    created_at INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL DEFAULT 0,
    deleted INTEGER NOT NULL DEFAULT 0,
    dirty INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_dirty ON %[1]s(dirty) WHERE dirty = 1;
`, name)
}

var schema = recordTableDDL("practice_entries") +
	recordTableDDL("goals") +
	recordTableDDL("repertoire") +
	recordTableDDL("settings") + `
-- Writes that could not be applied remotely yet
CREATE TABLE IF NOT EXISTS write_queue (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    record_type TEXT NOT NULL,
    operation TEXT NOT NULL,
    target_id TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL,
    enqueued_at INTEGER NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_write_queue_target ON write_queue(record_type, target_id);

-- One row: the signed-in user's sync watermark and preferences
CREATE TABLE IF NOT EXISTS sync_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    user_id TEXT NOT NULL,
    last_sync_at INTEGER NOT NULL DEFAULT 0,
    conflict_strategy TEXT NOT NULL DEFAULT 'latest',
    cursors TEXT NOT NULL DEFAULT '{}',
    sync_disabled INTEGER NOT NULL DEFAULT 0,
    auth_required INTEGER NOT NULL DEFAULT 0
);

-- Unresolved conflicts held back by the manual strategy
CREATE TABLE IF NOT EXISTS sync_conflicts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    record_type TEXT NOT NULL,
    record_id TEXT NOT NULL,
    local_data TEXT NOT NULL,
    remote_data TEXT NOT NULL,
    detected_at INTEGER NOT NULL,
    UNIQUE(record_type, record_id)
);

CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Migration defines a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all database migrations in order
var Migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL:         schema,
	},
	{
		Version:     2,
		Description: "Track auth failures in sync_state",
		SQL:         `ALTER TABLE sync_state ADD COLUMN auth_required INTEGER NOT NULL DEFAULT 0;`,
	},
	{
		Version:     3,
		Description: "Record last drain error per queue entry",
		SQL:         `ALTER TABLE write_queue ADD COLUMN last_error TEXT NOT NULL DEFAULT '';`,
	},
}
