package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion is the schema version this build expects. A fresh
// database is created at this version directly; an existing one below it
// is migrated forward one version at a time.
const CurrentSchemaVersion = 1

// initializeSchemaWithMigrations brings db's schema up to
// CurrentSchemaVersion, creating it from scratch if empty.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if currentVersion == 0 {
		return createSchema(db)
	}

	if currentVersion == CurrentSchemaVersion {
		return nil
	}

	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

// runMigrations applies every migration after fromVersion up to and
// including toVersion, recording the new version after each one succeeds.
func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

// runMigration applies one version's migration. There are none yet —
// CurrentSchemaVersion is 1 and createSchema always creates at that
// version directly — but the dispatch stays in place so the next schema
// change has somewhere to go.
func runMigration(_ *sql.DB, version int) error {
	switch version {
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// createSchema creates every table at CurrentSchemaVersion in one
// transaction-free batch. Used only against an empty database.
func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			short_name TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'ideation' CHECK (status IN
				('ideation','planning','approved','coding','testing','paused','completed','failed','cancelled')),
			workspace_path TEXT NOT NULL,
			remote_repo_url TEXT,
			bootstrap_ok INTEGER NOT NULL DEFAULT 0,
			bootstrap_result TEXT,
			pre_pause_status TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			approved_at DATETIME,
			completed_at DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS ideas (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			text TEXT NOT NULL,
			order_idx INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		// At most one plan per project may have is_active = 1; enforced in
		// application code (CreatePlan deactivates the prior one in the
		// same transaction) rather than a partial unique index, since
		// the mainline driver here (modernc.org/sqlite) does not support
		// partial indexes with the boolean-as-integer form used below.
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			version INTEGER NOT NULL,
			summary TEXT NOT NULL,
			milestones_json TEXT NOT NULL DEFAULT '[]',
			is_active INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			UNIQUE (project_id, version)
		)`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
			milestone TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN
				('pending','in_progress','completed','failed','skipped')),
			assigned_role TEXT NOT NULL,
			result_summary TEXT,
			order_idx INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME,
			completed_at DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS agent_records (
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'idle' CHECK (status IN ('idle','running')),
			runs_started INTEGER NOT NULL DEFAULT 0,
			runs_succeeded INTEGER NOT NULL DEFAULT 0,
			runs_failed INTEGER NOT NULL DEFAULT 0,
			last_active_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (project_id, role)
		)`,

		`CREATE TABLE IF NOT EXISTS agent_runs (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			agent_role TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running' CHECK (status IN ('running','succeeded','failed')),
			title TEXT,
			summary TEXT,
			error TEXT,
			started_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			heartbeat_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			finished_at DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS project_events (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS provider_usage (
			provider TEXT NOT NULL,
			date TEXT NOT NULL,
			requests_used INTEGER NOT NULL DEFAULT 0,
			tokens_used INTEGER NOT NULL DEFAULT 0,
			errors INTEGER NOT NULL DEFAULT 0,
			last_request_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (provider, date)
		)`,

		`CREATE TABLE IF NOT EXISTS idempotency_records (
			task_id TEXT NOT NULL,
			key TEXT NOT NULL,
			response_json TEXT NOT NULL,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (task_id, key)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_ideas_project ON ideas(project_id, order_idx)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_project ON plans(project_id, version)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_plan ON tasks(plan_id, milestone, order_idx)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_runs_task ON agent_runs(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_project_events_project ON project_events(project_id, created_at)`,
	}

	for _, stmt := range tables {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w\nstatement: %s", err, stmt)
		}
	}

	return setSchemaVersion(db, CurrentSchemaVersion)
}

func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
	if err != nil {
		return fmt.Errorf("database exec error: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the schema version currently recorded in db, or
// 0 if the database is empty.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}
