package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BeginRun records a new running run and returns its ID.
func (s *SQLiteStore) BeginRun(ctx context.Context, pipeline, description string) (string, error) {
	id := uuid.NewString()
	err := s.writes.do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO runs (id, pipeline, description, status, started_at)
			VALUES (?, ?, ?, ?, ?)
		`, id, pipeline, description, string(RunRunning), s.now().UnixNano())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to begin run: %w", err)
	}
	s.logger.Debug().Str("run", id).Str("pipeline", pipeline).Msg("run recorded")
	return id, nil
}

// FinishRun marks a run succeeded, or failed with runErr's message.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, runErr error) error {
	status, errorStr := RunSucceeded, ""
	if runErr != nil {
		status, errorStr = RunFailed, runErr.Error()
	}

	var affected int64
	err := s.writes.do(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE runs
			SET status = ?, error = ?, finished_at = ?
			WHERE id = ? AND finished_at IS NULL
		`, string(status), errorStr, s.now().UnixNano(), runID)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run not found or already finished: %s", runID)
	}
	return nil
}

// ListRuns returns runs, newest first, with their result counts.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `
		SELECT r.id, r.pipeline, r.description, r.status, r.error, r.started_at, r.finished_at,
			(SELECT COUNT(*) FROM results WHERE results.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at DESC, r.rowid DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			rec      RunRecord
			status   string
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.Pipeline, &rec.Description, &status, &rec.Error, &started, &finished, &rec.Results); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.Status = RunStatus(status)
		rec.StartedAt = time.Unix(0, started)
		if finished.Valid {
			rec.FinishedAt = time.Unix(0, finished.Int64)
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}
