package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Open connects to Postgres and verifies the connection.
func Open(url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS aggregated_events (
	id                BIGSERIAL PRIMARY KEY,
	bucket_key        TEXT NOT NULL,
	event_type        TEXT NOT NULL,
	item_id           TEXT NOT NULL,
	item_name         TEXT NOT NULL,
	item_type         TEXT NOT NULL,
	aggregated_count  INTEGER NOT NULL DEFAULT 1,
	status            TEXT NOT NULL DEFAULT 'open',
	payload           JSONB NOT NULL DEFAULT '{}',
	window_started_at TIMESTAMPTZ NOT NULL,
	window_expires_at TIMESTAMPTZ NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (bucket_key, window_started_at)
);
CREATE INDEX IF NOT EXISTS idx_aggregated_events_created ON aggregated_events (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_aggregated_events_bucket ON aggregated_events (bucket_key, window_expires_at);

CREATE TABLE IF NOT EXISTS delete_plans (
	plan_id         UUID PRIMARY KEY,
	source          TEXT NOT NULL,
	dry_run         BOOLEAN NOT NULL DEFAULT TRUE,
	executed        BOOLEAN NOT NULL DEFAULT FALSE,
	status          TEXT NOT NULL DEFAULT 'planned',
	request_payload JSONB NOT NULL DEFAULT '{}',
	plan_items      JSONB NOT NULL DEFAULT '[]',
	result          JSONB,
	executed_by     TEXT,
	executed_at     TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS emby_media_items (
	emby_id     TEXT PRIMARY KEY,
	library_id  TEXT NOT NULL DEFAULT '',
	name        TEXT NOT NULL DEFAULT '',
	item_type   TEXT NOT NULL DEFAULT '',
	path        TEXT NOT NULL DEFAULT '',
	pickcode    TEXT NOT NULL DEFAULT '',
	is_strm     BOOLEAN NOT NULL DEFAULT FALSE,
	sync_status TEXT NOT NULL DEFAULT 'synced',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the schema. Statements are idempotent, so running it on
// every startup is safe.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}
