package scheduler

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/aristath/taskgraph/internal/device"
	"github.com/aristath/taskgraph/internal/events"
)

// Stats summarises a run so far.
type Stats struct {
	Executed     int
	Yielded      int
	Evicted      int
	PeakResident int
	Elapsed      time.Duration
}

// Run is a single pass over an Executor's schedule, pulled one target at a
// time:
//
//	r := exec.Run(ctx)
//	for r.Next() {
//		use(r.Task(), r.Value())
//	}
//	if err := r.Err(); err != nil { ... }
//
// Each call to Next executes, stores and evicts as many steps as needed to
// produce the next target. Abandoning a Run stops all further work. A Run is
// not safe for concurrent use.
type Run struct {
	exec *Executor
	ctx  context.Context

	values  map[Key]any
	evictAt [][]Key // step index -> keys whose last use is that step

	pos     int // next step to execute
	pending int // step whose eviction waits for the next pull, or -1

	task  Task
	value any

	err      error
	done     bool
	started  time.Time
	finished time.Time
	stats    Stats
}

func newRun(ctx context.Context, e *Executor) *Run {
	r := &Run{
		exec:    e,
		ctx:     ctx,
		values:  make(map[Key]any, e.cached.Len()),
		evictAt: make([][]Key, len(e.schedule)),
		pending: -1,
	}

	// Walk the schedule backwards so the first consumer seen for a value is
	// its last one in forward order. A value nobody consumes is dropped
	// right after it is produced.
	lastUse := make(map[Key]int, len(e.schedule))
	for idx := len(e.schedule) - 1; idx >= 0; idx-- {
		n := e.schedule[idx]
		for _, dep := range n.Deps() {
			if _, ok := lastUse[dep]; !ok {
				lastUse[dep] = idx
			}
		}
		if _, ok := lastUse[n.Key]; !ok {
			lastUse[n.Key] = idx
		}
	}
	for key, idx := range lastUse {
		r.evictAt[idx] = append(r.evictAt[idx], key)
	}
	for _, keys := range r.evictAt {
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	}

	// Cached values live for the whole run unless a scheduled task consumes
	// them, in which case they go with their last consumer.
	if e.cached != nil {
		for key, entry := range e.cached.entries {
			r.values[key] = entry.value
		}
	}
	r.stats.PeakResident = len(r.values)
	return r
}

// Next advances to the next target value. It returns false once the
// schedule is exhausted or a step failed; check Err afterwards.
func (r *Run) Next() bool {
	for {
		target, more := r.advance()
		if !more {
			r.task, r.value = nil, nil
			return false
		}
		if target {
			return true
		}
	}
}

// Task returns the target produced by the last successful Next.
func (r *Run) Task() Task { return r.task }

// Value returns the value produced by the last successful Next.
func (r *Run) Value() any { return r.value }

// Err returns the error that ended the run, if any.
func (r *Run) Err() error { return r.err }

// Stats returns counters for the run so far.
func (r *Run) Stats() Stats {
	s := r.stats
	switch {
	case !r.finished.IsZero():
		s.Elapsed = r.finished.Sub(r.started)
	case !r.started.IsZero():
		s.Elapsed = time.Since(r.started)
	}
	return s
}

// Resident returns how many values the run currently holds.
func (r *Run) Resident() int { return len(r.values) }

// Holds reports whether the run currently stores a value for t.
func (r *Run) Holds(t Task) bool {
	key, err := KeyOf(t)
	if err != nil {
		return false
	}
	_, ok := r.values[key]
	return ok
}

// All adapts the run to a range-over-func sequence of (target, value) pairs.
// Breaking out of the loop abandons the run. Check Err once the loop ends.
func (r *Run) All() iter.Seq2[Task, any] {
	return func(yield func(Task, any) bool) {
		for r.Next() {
			if !yield(r.task, r.value) {
				return
			}
		}
	}
}

func (r *Run) drain() {
	for {
		if _, more := r.advance(); !more {
			return
		}
	}
}

// advance executes exactly one step. target reports whether the step
// produced a requested value; more is false once nothing is left to do.
func (r *Run) advance() (target, more bool) {
	if r.done {
		return false, false
	}
	if r.started.IsZero() {
		r.started = time.Now()
		r.exec.logger.Debug().
			Str("run", r.exec.description).
			Int("steps", len(r.exec.schedule)).
			Msg("run started")
	}

	if r.pending >= 0 {
		r.evict(r.pending)
		r.pending = -1
	}

	if r.pos >= len(r.exec.schedule) {
		r.finish()
		return false, false
	}

	idx := r.pos
	r.pos++
	n := r.exec.schedule[idx]

	if err := r.step(idx, n); err != nil {
		r.fail(idx, n, err)
		return false, false
	}

	if _, ok := r.exec.targetKeys[n.Key]; ok {
		r.task, r.value = n.Task, r.values[n.Key]
		r.stats.Yielded++
		r.pending = idx
		return true, true
	}
	r.evict(idx)
	return false, true
}

func (r *Run) step(idx int, n *Node) error {
	e := r.exec
	label := Label(n.Task)
	start := time.Now()

	e.bus.Publish(events.TaskStartedEvent{Key: string(n.Key), Label: label, Index: idx, Timestamp: start})
	e.logger.Trace().Int("step", idx).Str("task", label).Msg("executing")

	accelerated := n.Task.UsesAccelerator()
	args := make(map[string]any, len(n.Args))
	for _, name := range n.argNames() {
		dep := n.Args[name]
		v, ok := r.values[dep]
		if !ok {
			return &MissingValueError{Task: label, Argument: name, Dependency: dep}
		}
		if accelerated {
			moved, err := device.Move(v, e.compute, e.moveOptions...)
			if err != nil {
				return fmt.Errorf("moving argument %q of task %s to %s: %w", name, label, e.compute, err)
			}
			v = moved
		}
		args[name] = v
	}

	res, err := n.Task.Execute(r.ctx, args)
	if err != nil {
		return &TaskExecutionError{Task: label, Key: n.Key, Index: idx, Err: err}
	}

	res, err = device.Move(res, e.retention, e.moveOptions...)
	if err != nil {
		return fmt.Errorf("moving result of task %s to %s: %w", label, e.retention, err)
	}

	r.values[n.Key] = res
	r.stats.Executed++
	if len(r.values) > r.stats.PeakResident {
		r.stats.PeakResident = len(r.values)
	}

	_, isTarget := e.targetKeys[n.Key]
	e.bus.Publish(events.TaskCompletedEvent{
		Key:       string(n.Key),
		Label:     label,
		Index:     idx,
		Target:    isTarget,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	})
	e.bus.Publish(events.RunProgressEvent{
		Description: e.description,
		Total:       len(e.schedule),
		Completed:   idx + 1,
		Resident:    len(r.values),
		Timestamp:   time.Now(),
	})
	return nil
}

func (r *Run) evict(idx int) {
	for _, key := range r.evictAt[idx] {
		if _, ok := r.values[key]; !ok {
			continue
		}
		delete(r.values, key)
		r.stats.Evicted++
		r.exec.bus.Publish(events.ValueEvictedEvent{Key: string(key), Index: idx, Timestamp: time.Now()})
	}
}

func (r *Run) fail(idx int, n *Node, err error) {
	e := r.exec
	r.err = err
	e.bus.Publish(events.TaskFailedEvent{
		Key:       string(n.Key),
		Label:     Label(n.Task),
		Index:     idx,
		Err:       err,
		Timestamp: time.Now(),
	})
	e.logger.Error().Err(err).Int("step", idx).Str("task", Label(n.Task)).Msg("run aborted")
	r.release(idx)
}

func (r *Run) finish() {
	e := r.exec
	e.logger.Debug().
		Str("run", e.description).
		Int("executed", r.stats.Executed).
		Int("yielded", r.stats.Yielded).
		Int("evicted", r.stats.Evicted).
		Int("peak_resident", r.stats.PeakResident).
		Dur("elapsed", time.Since(r.started)).
		Msg("run finished")
	r.release(len(e.schedule))
}

func (r *Run) release(completed int) {
	r.done = true
	r.finished = time.Now()
	r.exec.bus.Publish(events.RunProgressEvent{
		Description: r.exec.description,
		Total:       len(r.exec.schedule),
		Completed:   completed,
		Resident:    len(r.values),
		Done:        true,
		Timestamp:   time.Now(),
	})
	r.values = nil
}
