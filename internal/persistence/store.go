package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/aristath/taskgraph/internal/scheduler"
)

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunRecord describes one recorded run.
type RunRecord struct {
	ID          string
	Pipeline    string
	Description string
	Status      RunStatus
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while running
	Results     int
}

// Result is a stored target value.
type Result struct {
	RunID     string
	Key       scheduler.Key
	Label     string
	Value     any
	CreatedAt time.Time
}

// Store records runs and the target values they yielded.
type Store interface {
	// BeginRun records a new running run and returns its ID.
	BeginRun(ctx context.Context, pipeline, description string) (string, error)
	// SaveResult stores a yielded target value. Saving the same key twice
	// within a run replaces the earlier value.
	SaveResult(ctx context.Context, runID string, key scheduler.Key, label string, value any) error
	// FinishRun marks a run finished, failed when runErr is non-nil.
	FinishRun(ctx context.Context, runID string, runErr error) error

	// ListRuns returns the most recent runs first. limit <= 0 means all.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	// LatestResults returns the newest value per task key across finished
	// runs.
	LatestResults(ctx context.Context) (map[scheduler.Key]Result, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	writes *writeGuard
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the store's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *SQLiteStore) { s.logger = l }
}

// WithRetry overrides the write retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(s *SQLiteStore) { s.writes.retry = cfg }
}

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr, opts)
}

// NewMemoryStore creates an in-memory SQLite store for testing. Every store
// gets its own named database, shared between its connections only.
func NewMemoryStore(ctx context.Context, opts ...Option) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	return open(ctx, connStr, opts)
}

func open(ctx context.Context, connStr string, opts []Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys via PRAGMA (required for modernc.org/sqlite)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// One connection keeps the PRAGMA in effect and serialises writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{
		db:     db,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	store.writes = newWriteGuard(DefaultRetryConfig(), func(from, to string) {
		store.logger.Warn().Str("from", from).Str("to", to).Msg("result store breaker changed state")
	})
	for _, opt := range opts {
		opt(store)
	}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
