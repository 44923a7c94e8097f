package statestore

import (
	"database/sql"
	"fmt"
)

// migration is one idempotent schema step. apply must be safe to invoke
// against a database already at or above its own version (checked by the
// caller via the schema_version table, never by the migration itself
// re-checking column existence) — each statement uses
// CREATE TABLE/INDEX/TRIGGER IF NOT EXISTS so re-application is a no-op.
type migration struct {
	version     int
	description string
	apply       func(*sql.Tx) error
}

var migrations = []migration{
	{
		version:     1,
		description: "initial schema: epics, stories, workflow_runs, ceremonies, threads, messages",
		apply:       applyInitialSchema,
	},
}

func applyInitialSchema(tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS epics (
			epic_num INTEGER PRIMARY KEY,
			title TEXT NOT NULL,
			feature TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'planned',
			total_points INTEGER NOT NULL DEFAULT 0,
			completed_points INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS stories (
			epic_num INTEGER NOT NULL,
			story_num INTEGER NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			owner TEXT,
			points INTEGER NOT NULL DEFAULT 0,
			priority INTEGER NOT NULL DEFAULT 0,
			rework_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (epic_num, story_num),
			FOREIGN KEY (epic_num) REFERENCES epics(epic_num)
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			workflow_id TEXT PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			epic_num INTEGER,
			story_num INTEGER,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			output TEXT NOT NULL DEFAULT '{}',
			error_message TEXT,
			FOREIGN KEY (epic_num) REFERENCES epics(epic_num)
		)`,
		`CREATE TABLE IF NOT EXISTS ceremonies (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			epic_num INTEGER NOT NULL,
			story_num INTEGER,
			transcript_path TEXT NOT NULL,
			participants TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL,
			FOREIGN KEY (epic_num) REFERENCES epics(epic_num)
		)`,
		`CREATE TABLE IF NOT EXISTS ceremony_action_items (
			ceremony_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			content TEXT NOT NULL,
			PRIMARY KEY (ceremony_id, seq),
			FOREIGN KEY (ceremony_id) REFERENCES ceremonies(id)
		)`,
		`CREATE TABLE IF NOT EXISTS ceremony_learnings (
			ceremony_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			content TEXT NOT NULL,
			PRIMARY KEY (ceremony_id, seq),
			FOREIGN KEY (ceremony_id) REFERENCES ceremonies(id)
		)`,
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			parent_message_id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			conversation_type TEXT NOT NULL,
			reply_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			conversation_type TEXT NOT NULL,
			content TEXT NOT NULL,
			role TEXT NOT NULL,
			agent_id TEXT,
			thread_id TEXT,
			reply_to_message_id TEXT,
			thread_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (thread_id) REFERENCES threads(id)
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			path TEXT NOT NULL,
			workflow_name TEXT NOT NULL,
			epic_num INTEGER,
			story_num INTEGER,
			agent TEXT,
			phase INTEGER,
			artifact_type TEXT NOT NULL,
			registered_at DATETIME NOT NULL,
			PRIMARY KEY (path, workflow_name, registered_at)
		)`,
		`CREATE TABLE IF NOT EXISTS ceremony_executions (
			ceremony_type TEXT NOT NULL,
			epic_num INTEGER NOT NULL,
			success INTEGER NOT NULL,
			executed_at DATETIME NOT NULL,
			PRIMARY KEY (ceremony_type, epic_num, executed_at)
		)`,
		// Trigger-equivalents for the thread/message counter invariants: a
		// message inserted with a thread_id bumps that thread's reply_count;
		// any change to a thread's reply_count bumps its parent message's
		// thread_count. SQLite supports triggers natively, so these are real
		// triggers rather than application-level hooks.
		`CREATE TRIGGER IF NOT EXISTS trg_message_insert_bumps_thread
		 AFTER INSERT ON messages
		 WHEN NEW.thread_id IS NOT NULL
		 BEGIN
			UPDATE threads SET reply_count = reply_count + 1, updated_at = NEW.created_at
			WHERE id = NEW.thread_id;
		 END`,
		`CREATE TRIGGER IF NOT EXISTS trg_thread_reply_count_bumps_parent
		 AFTER UPDATE OF reply_count ON threads
		 BEGIN
			UPDATE messages SET thread_count = NEW.reply_count
			WHERE id = (SELECT parent_message_id FROM threads WHERE id = NEW.id);
		 END`,
		`CREATE INDEX IF NOT EXISTS idx_stories_status ON stories(status)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_epic ON workflow_runs(epic_num)`,
		`CREATE INDEX IF NOT EXISTS idx_ceremonies_epic ON ceremonies(epic_num, type)`,
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// Migrate applies every migration whose version exceeds the database's
// current schema_version, in order. Each migration's apply is itself
// idempotent (IF NOT EXISTS everywhere), so re-running Migrate against an
// up-to-date database is a safe no-op.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL,
		description TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current := 0
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_version (version, applied_at, description) VALUES (?, CURRENT_TIMESTAMP, ?)`,
			m.version, m.description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
