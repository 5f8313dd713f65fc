package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS notification_state (
    day TEXT PRIMARY KEY,
    stage TEXT NOT NULL DEFAULT 'none' CHECK(stage IN ('none', 'first', 'bonus')),
    last_notified_at TEXT,
    male INTEGER NOT NULL DEFAULT 0,
    female INTEGER NOT NULL DEFAULT 0,
    single_female INTEGER NOT NULL DEFAULT 0,
    total INTEGER NOT NULL DEFAULT 0,
    ratio REAL NOT NULL DEFAULT 0,
    required_single INTEGER NOT NULL DEFAULT 0,
    meets INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL DEFAULT 1,
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS daily_stats (
    day TEXT PRIMARY KEY,
    male INTEGER NOT NULL,
    female INTEGER NOT NULL,
    single_female INTEGER NOT NULL,
    total INTEGER NOT NULL,
    ratio REAL NOT NULL,
    meets INTEGER NOT NULL DEFAULT 0,
    considered INTEGER NOT NULL DEFAULT 0,
    required_single INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS masked_history (
    day TEXT PRIMARY KEY,
    mask_level INTEGER NOT NULL,
    single_female TEXT NOT NULL,
    female TEXT NOT NULL,
    total TEXT NOT NULL,
    ratio TEXT NOT NULL,
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS summaries (
    period_key TEXT PRIMARY KEY,
    period_name TEXT NOT NULL,
    period_start TEXT NOT NULL,
    period_end TEXT NOT NULL,
    status TEXT NOT NULL,
    mask_level INTEGER NOT NULL,
    day_count INTEGER NOT NULL DEFAULT 0,
    masked_json TEXT NOT NULL,
    body_markdown TEXT NOT NULL,
    generated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_reports (
    run_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    status TEXT NOT NULL,
    entry_count INTEGER NOT NULL DEFAULT 0,
    notification_count INTEGER NOT NULL DEFAULT 0,
    detail TEXT
);

CREATE INDEX IF NOT EXISTS idx_run_reports_started ON run_reports(started_at);
CREATE INDEX IF NOT EXISTS idx_summaries_start ON summaries(period_start);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "fetch metadata for conditional requests",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS fetch_meta (
    url TEXT PRIMARY KEY,
    etag TEXT,
    last_modified TEXT,
    updated_at TEXT DEFAULT (datetime('now'))
);
`)
			return err
		},
	},
	{
		Version:     3,
		Description: "announced counts on notification state",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
ALTER TABLE notification_state ADD COLUMN notified_male INTEGER NOT NULL DEFAULT 0;
ALTER TABLE notification_state ADD COLUMN notified_female INTEGER NOT NULL DEFAULT 0;
ALTER TABLE notification_state ADD COLUMN notified_single_female INTEGER NOT NULL DEFAULT 0;
ALTER TABLE notification_state ADD COLUMN notified_total INTEGER NOT NULL DEFAULT 0;
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
