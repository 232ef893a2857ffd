package planq

import (
	"context"
	"database/sql"
	"fmt"
)

// RunSQLiteMigrations creates the SQLite schema. SQLite has no schemas, so
// tables live at the top level; otherwise the layout mirrors PostgreSQL.
func RunSQLiteMigrations(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS execution_plans (
			id               TEXT PRIMARY KEY,
			label            TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL DEFAULT 'pending',
			caller_plan_id   TEXT,
			caller_action_id INTEGER,
			error            TEXT,
			started_at       TIMESTAMP,
			finished_at      TIMESTAMP,
			created_at       TIMESTAMP NOT NULL,
			updated_at       TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_plans_status ON execution_plans (status)`,
		`CREATE TABLE IF NOT EXISTS plan_steps (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			plan_id     TEXT NOT NULL REFERENCES execution_plans (id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			action      TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending',
			input       BLOB,
			output      BLOB,
			error       TEXT,
			attempt     INTEGER NOT NULL DEFAULT 0,
			queued_at   TIMESTAMP,
			finished_at TIMESTAMP,
			created_at  TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plan_steps_plan_id ON plan_steps (plan_id)`,
		`CREATE TABLE IF NOT EXISTS plan_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			plan_id    TEXT NOT NULL REFERENCES execution_plans (id) ON DELETE CASCADE,
			step_id    INTEGER,
			event_type TEXT NOT NULL,
			payload    BLOB,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plan_events_plan_id ON plan_events (plan_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute sqlite migration: %w", err)
		}
	}

	return nil
}
