package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist. Times are
// stored as Unix nanoseconds.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		pipeline TEXT NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		finished_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS results (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		task_key TEXT NOT NULL,
		label TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (run_id, task_key),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_results_task_key ON results(task_key, seq);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
