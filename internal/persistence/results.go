package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/taskgraph/internal/ops"
	"github.com/aristath/taskgraph/internal/scheduler"
)

// SaveResult stores a yielded target value, encoded with ops.EncodeValue.
func (s *SQLiteStore) SaveResult(ctx context.Context, runID string, key scheduler.Key, label string, value any) error {
	data, err := ops.EncodeValue(value)
	if err != nil {
		return fmt.Errorf("failed to encode result %s: %w", label, err)
	}

	err = s.writes.do(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO results (run_id, task_key, label, value, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(run_id, task_key) DO UPDATE SET
				label = excluded.label,
				value = excluded.value,
				created_at = excluded.created_at
		`, runID, string(key), label, string(data), s.now().UnixNano())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save result %s: %w", label, err)
	}
	return nil
}

// LatestResults returns the newest stored value for every task key, taken
// from runs that have finished. Results of a run still in progress are
// never served.
func (s *SQLiteStore) LatestResults(ctx context.Context) (map[scheduler.Key]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT res.task_key, res.run_id, res.label, res.value, res.created_at
		FROM results res
		JOIN (
			SELECT r.task_key, MAX(r.seq) AS seq
			FROM results r
			JOIN runs ON runs.id = r.run_id
			WHERE runs.finished_at IS NOT NULL
			GROUP BY r.task_key
		) latest ON latest.seq = res.seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	out := make(map[scheduler.Key]Result)
	for rows.Next() {
		var (
			res     Result
			key     string
			data    string
			created int64
		)
		if err := rows.Scan(&key, &res.RunID, &res.Label, &data, &created); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		res.Value, err = ops.DecodeValue([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("result %s from run %s: %w", res.Label, res.RunID, err)
		}
		res.Key = scheduler.Key(key)
		res.CreatedAt = time.Unix(0, created)
		out[res.Key] = res
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return out, nil
}

// CachedValues binds the latest stored results to tasks, for use with
// scheduler.WithCachedValues. Tasks without a stored result are skipped.
func CachedValues(latest map[scheduler.Key]Result, tasks []scheduler.Task) (*scheduler.ValueMap, error) {
	cached := scheduler.NewValueMap()
	for _, t := range tasks {
		key, err := scheduler.KeyOf(t)
		if err != nil {
			return nil, err
		}
		res, ok := latest[key]
		if !ok {
			continue
		}
		if err := cached.Put(t, res.Value); err != nil {
			return nil, err
		}
	}
	return cached, nil
}
