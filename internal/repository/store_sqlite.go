package repository

import (
	"database/sql"
	"fmt"
	"log"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// OpenSQLite opens the stylist database with WAL mode and creates the schema.
// SQLite only supports a single writer, so the pool is capped at one
// connection; combined with conditional UPDATE statements this makes ledger
// mutations linearizable per key.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("[SQLite] Initialized with database: %s", dbPath)
	return db, nil
}

func createTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS quota_counters (
		user_id TEXT NOT NULL,
		metric_key TEXT NOT NULL,
		period_key TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		reserved INTEGER NOT NULL DEFAULT 0,
		period_start DATETIME NOT NULL,
		period_end DATETIME NOT NULL,
		PRIMARY KEY (user_id, metric_key, period_key)
	);

	CREATE TABLE IF NOT EXISTS chat_threads (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_threads_user ON chat_threads(user_id);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		image_url TEXT NOT NULL DEFAULT '',
		pending INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_thread ON chat_messages(thread_id, created_at);

	CREATE TABLE IF NOT EXISTS inference_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		status TEXT NOT NULL,
		error_code TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER NOT NULL DEFAULT 0,
		safety_flags TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_user ON inference_events(user_id, created_at);

	CREATE TABLE IF NOT EXISTS wardrobe_items (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		times_worn INTEGER NOT NULL DEFAULT 0,
		last_worn_at DATETIME,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_items_user ON wardrobe_items(user_id, last_worn_at);

	CREATE TABLE IF NOT EXISTS outfits (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		item_ids TEXT NOT NULL DEFAULT '[]',
		occasion TEXT NOT NULL DEFAULT '',
		worn_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_outfits_user ON outfits(user_id, worn_at);

	CREATE TABLE IF NOT EXISTS calendar_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		starts_at DATETIME NOT NULL,
		weather TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_calendar_user ON calendar_entries(user_id, starts_at);

	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		destination TEXT NOT NULL,
		starts_at DATETIME NOT NULL,
		ends_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trips_user ON trips(user_id, starts_at);

	CREATE TABLE IF NOT EXISTS plan_subscriptions (
		user_id TEXT PRIMARY KEY,
		plan_code TEXT NOT NULL,
		period_start DATETIME NOT NULL,
		period_end DATETIME NOT NULL,
		monthly_text INTEGER,
		monthly_vision INTEGER,
		burst_text INTEGER,
		burst_vision INTEGER
	);
	`
	_, err := db.Exec(query)
	return err
}
