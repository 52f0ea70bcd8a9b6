package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aristath/taskgraph/internal/device"
	"github.com/aristath/taskgraph/internal/ops"
	"github.com/aristath/taskgraph/internal/scheduler"
)

// testStore creates an in-memory store with a deterministic clock and
// registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return store
}

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval:     time.Millisecond,
		MaxInterval:         2 * time.Millisecond,
		MaxElapsedTime:      time.Second,
		Multiplier:          2,
		RandomizationFactor: 0,
	}
}

func TestRunLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	ok, err := store.BeginRun(ctx, "merge.yaml", "Merging")
	if err != nil {
		t.Fatalf("BeginRun() error = %v", err)
	}
	bad, _ := store.BeginRun(ctx, "merge.yaml", "Merging")
	open, _ := store.BeginRun(ctx, "other.yaml", "Other")

	if err := store.SaveResult(ctx, ok, "k1", "a", 1.5); err != nil {
		t.Fatalf("SaveResult() error = %v", err)
	}
	if err := store.FinishRun(ctx, ok, nil); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}
	if err := store.FinishRun(ctx, bad, errors.New("task b failed")); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}

	// Newest first.
	if runs[0].ID != open || runs[1].ID != bad || runs[2].ID != ok {
		t.Errorf("unexpected order: %s %s %s", runs[0].ID, runs[1].ID, runs[2].ID)
	}
	if runs[0].Status != RunRunning || !runs[0].FinishedAt.IsZero() {
		t.Errorf("open run = %+v", runs[0])
	}
	if runs[1].Status != RunFailed || runs[1].Error != "task b failed" {
		t.Errorf("failed run = %+v", runs[1])
	}
	if runs[2].Status != RunSucceeded || runs[2].Results != 1 || runs[2].FinishedAt.Before(runs[2].StartedAt) {
		t.Errorf("succeeded run = %+v", runs[2])
	}

	limited, _ := store.ListRuns(ctx, 1)
	if len(limited) != 1 || limited[0].ID != open {
		t.Errorf("ListRuns(1) = %+v", limited)
	}
}

func TestFinishRunTwice(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	id, _ := store.BeginRun(ctx, "p", "d")
	if err := store.FinishRun(ctx, id, nil); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}
	err := store.FinishRun(ctx, id, nil)
	if err == nil || !strings.Contains(err.Error(), "already finished") {
		t.Errorf("second FinishRun() error = %v", err)
	}
	if err := store.FinishRun(ctx, "missing", nil); err == nil {
		t.Error("expected error for unknown run")
	}
}

func TestLatestResults(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	buf := device.NewBuffer([]float64{1, 2}, device.CPUDevice)

	first, _ := store.BeginRun(ctx, "p", "d")
	_ = store.SaveResult(ctx, first, "k1", "a", 1.0)
	_ = store.SaveResult(ctx, first, "k2", "b", buf)
	_ = store.FinishRun(ctx, first, nil)

	second, _ := store.BeginRun(ctx, "p", "d")
	_ = store.SaveResult(ctx, second, "k1", "a", 2.0)
	_ = store.FinishRun(ctx, second, errors.New("later step failed"))

	// Still running, so never served.
	third, _ := store.BeginRun(ctx, "p", "d")
	_ = store.SaveResult(ctx, third, "k1", "a", 3.0)
	_ = store.SaveResult(ctx, third, "k3", "c", 4.0)

	latest, err := store.LatestResults(ctx)
	if err != nil {
		t.Fatalf("LatestResults() error = %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("got %d results, want 2: %v", len(latest), latest)
	}
	if r := latest["k1"]; r.Value != 2.0 || r.RunID != second || r.Label != "a" {
		t.Errorf("k1 = %+v", r)
	}
	if r := latest["k2"]; !reflect.DeepEqual(r.Value, buf) || r.RunID != first {
		t.Errorf("k2 = %+v", r)
	}
}

func TestSaveResultReplacesWithinRun(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	id, _ := store.BeginRun(ctx, "p", "d")
	_ = store.SaveResult(ctx, id, "k", "a", 1.0)
	if err := store.SaveResult(ctx, id, "k", "a", 5.0); err != nil {
		t.Fatalf("SaveResult() error = %v", err)
	}
	_ = store.FinishRun(ctx, id, nil)

	latest, _ := store.LatestResults(ctx)
	if latest["k"].Value != 5.0 {
		t.Errorf("value = %v, want 5", latest["k"].Value)
	}
	runs, _ := store.ListRuns(ctx, 0)
	if runs[0].Results != 1 {
		t.Errorf("results = %d, want 1", runs[0].Results)
	}
}

func TestSaveResultErrors(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	id, _ := store.BeginRun(ctx, "p", "d")
	if err := store.SaveResult(ctx, id, "k", "a", "not numeric"); err == nil {
		t.Error("expected encode error")
	}
	if err := store.SaveResult(ctx, "no-such-run", "k", "a", 1.0); err == nil {
		t.Error("expected foreign key error")
	}
}

func TestCachedValues(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)

	a, _ := ops.NewConst("a", 1, scheduler.Hints{})
	b, _ := ops.NewScale("b", a, 2, scheduler.Hints{})
	c, _ := ops.NewScale("c", b, 3, scheduler.Hints{})
	keyB, _ := scheduler.KeyOf(b)

	id, _ := store.BeginRun(ctx, "p", "d")
	_ = store.SaveResult(ctx, id, keyB, "b", 2.0)
	_ = store.FinishRun(ctx, id, nil)

	latest, _ := store.LatestResults(ctx)
	cached, err := CachedValues(latest, []scheduler.Task{a, b, c})
	if err != nil {
		t.Fatalf("CachedValues() error = %v", err)
	}
	if cached.Len() != 1 || !cached.Has(b) {
		t.Fatalf("cached = %v", cached.Tasks())
	}

	exec, err := scheduler.NewExecutor([]scheduler.Task{c}, scheduler.WithCachedValues(cached))
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	if n := len(exec.Schedule()); n != 1 {
		t.Errorf("schedule has %d tasks, want only c", n)
	}
	r := exec.Run(ctx)
	if !r.Next() || r.Value() != 6.0 {
		t.Errorf("c = %v, err %v", r.Value(), r.Err())
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "results.db")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	id, _ := store.BeginRun(ctx, "p", "d")
	_ = store.SaveResult(ctx, id, "k", "a", 7.0)
	_ = store.FinishRun(ctx, id, nil)
	store.Close()

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()
	latest, err := reopened.LatestResults(ctx)
	if err != nil {
		t.Fatalf("LatestResults() error = %v", err)
	}
	if latest["k"].Value != 7.0 {
		t.Errorf("value = %v, want 7", latest["k"].Value)
	}
}

func TestWriteGuardRetriesBusy(t *testing.T) {
	g := newWriteGuard(fastRetry(), func(string, string) {})

	calls := 0
	err := g.do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("err = %v after %d calls, want success on the third", err, calls)
	}
}

func TestWriteGuardDoesNotRetryHardErrors(t *testing.T) {
	g := newWriteGuard(fastRetry(), func(string, string) {})
	hard := errors.New("constraint failed")

	calls := 0
	err := g.do(context.Background(), func() error {
		calls++
		return hard
	})
	if !errors.Is(err, hard) || calls != 1 {
		t.Errorf("err = %v after %d calls", err, calls)
	}
}

func TestWriteGuardOpensAfterFailures(t *testing.T) {
	var transitions []string
	g := newWriteGuard(fastRetry(), func(from, to string) {
		transitions = append(transitions, from+"->"+to)
	})

	hard := errors.New("disk I/O error")
	for i := 0; i < 3; i++ {
		_ = g.do(context.Background(), func() error { return hard })
	}

	called := false
	err := g.do(context.Background(), func() error { called = true; return nil })
	if !errors.Is(err, ErrStoreUnavailable) || called {
		t.Errorf("err = %v, called = %v; want breaker open", err, called)
	}
	if !reflect.DeepEqual(transitions, []string{"closed->open"}) {
		t.Errorf("transitions = %v", transitions)
	}
}

func TestWriteGuardIgnoresCancellation(t *testing.T) {
	g := newWriteGuard(fastRetry(), func(string, string) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		if err := g.do(ctx, func() error { return nil }); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	}
	if err := g.do(context.Background(), func() error { return nil }); err != nil {
		t.Errorf("cancellations must not open the breaker: %v", err)
	}
}
