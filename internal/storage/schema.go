package storage

import (
	"context"
	"fmt"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS models (
		id                    TEXT PRIMARY KEY,
		name                  TEXT NOT NULL,
		description           TEXT NOT NULL DEFAULT '',
		context_length        INTEGER NOT NULL DEFAULT 0,
		max_completion_tokens INTEGER NOT NULL DEFAULT 0,
		modality              TEXT NOT NULL DEFAULT 'text->text',
		input_modalities      TEXT NOT NULL DEFAULT '[]',
		output_modalities     TEXT NOT NULL DEFAULT '[]',
		tokenizer             TEXT NOT NULL DEFAULT '',
		supported_parameters  TEXT NOT NULL DEFAULT '[]',
		pricing_prompt        NUMERIC(30,15) NOT NULL DEFAULT 0,
		pricing_completion    NUMERIC(30,15) NOT NULL DEFAULT 0,
		pricing_request       NUMERIC(30,15) NOT NULL DEFAULT 0,
		pricing_image         NUMERIC(30,15) NOT NULL DEFAULT 0,
		is_active             BOOLEAN NOT NULL DEFAULT TRUE,
		last_synced_at        TIMESTAMPTZ NOT NULL,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_models_active_synced ON models (is_active, last_synced_at DESC)`,
	`CREATE TABLE IF NOT EXISTS usage_records (
		id                UUID PRIMARY KEY,
		plugin_id         TEXT NOT NULL,
		tenant_id         TEXT,
		user_id           TEXT,
		model_id          TEXT NOT NULL,
		prompt_tokens     INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens      INTEGER NOT NULL DEFAULT 0,
		prompt_cost       NUMERIC(30,15) NOT NULL DEFAULT 0,
		completion_cost   NUMERIC(30,15) NOT NULL DEFAULT 0,
		total_cost        NUMERIC(30,15) NOT NULL DEFAULT 0,
		duration_ms       BIGINT NOT NULL DEFAULT 0,
		status            TEXT NOT NULL,
		error_message     TEXT,
		metadata          JSONB,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_plugin_created ON usage_records (plugin_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_user_created ON usage_records (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_tenant_created ON usage_records (tenant_id, created_at)`,
}

// SQLite keeps decimals as TEXT so no precision is lost to REAL affinity.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS models (
		id                    TEXT PRIMARY KEY,
		name                  TEXT NOT NULL,
		description           TEXT NOT NULL DEFAULT '',
		context_length        INTEGER NOT NULL DEFAULT 0,
		max_completion_tokens INTEGER NOT NULL DEFAULT 0,
		modality              TEXT NOT NULL DEFAULT 'text->text',
		input_modalities      TEXT NOT NULL DEFAULT '[]',
		output_modalities     TEXT NOT NULL DEFAULT '[]',
		tokenizer             TEXT NOT NULL DEFAULT '',
		supported_parameters  TEXT NOT NULL DEFAULT '[]',
		pricing_prompt        TEXT NOT NULL DEFAULT '0',
		pricing_completion    TEXT NOT NULL DEFAULT '0',
		pricing_request       TEXT NOT NULL DEFAULT '0',
		pricing_image         TEXT NOT NULL DEFAULT '0',
		is_active             BOOLEAN NOT NULL DEFAULT 1,
		last_synced_at        TIMESTAMP NOT NULL,
		created_at            TIMESTAMP NOT NULL,
		updated_at            TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_models_active_synced ON models (is_active, last_synced_at DESC)`,
	`CREATE TABLE IF NOT EXISTS usage_records (
		id                TEXT PRIMARY KEY,
		plugin_id         TEXT NOT NULL,
		tenant_id         TEXT,
		user_id           TEXT,
		model_id          TEXT NOT NULL,
		prompt_tokens     INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		total_tokens      INTEGER NOT NULL DEFAULT 0,
		prompt_cost       TEXT NOT NULL DEFAULT '0',
		completion_cost   TEXT NOT NULL DEFAULT '0',
		total_cost        TEXT NOT NULL DEFAULT '0',
		duration_ms       INTEGER NOT NULL DEFAULT 0,
		status            TEXT NOT NULL,
		error_message     TEXT,
		metadata          TEXT,
		created_at        TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_plugin_created ON usage_records (plugin_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_user_created ON usage_records (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_tenant_created ON usage_records (tenant_id, created_at)`,
}

// EnsureSchema creates the models and usage_records tables if missing.
// Safe to run on every start.
func (db *DB) EnsureSchema(ctx context.Context) error {
	var statements []string
	switch db.driver {
	case DriverPostgres:
		statements = postgresSchema
	case DriverSQLite:
		statements = sqliteSchema
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDriver, db.driver)
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
