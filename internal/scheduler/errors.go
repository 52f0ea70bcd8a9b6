package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrGraphCycle   = errors.New("graph contains a cycle")
	ErrMissingValue = errors.New("missing value")
)

// GraphCycleError is returned when no topological order exists.
type GraphCycleError struct {
	// Cycle is one witness cycle, as task labels in dependency order: each
	// task depends on the one after it, and the last repeats the first.
	Cycle []string
	// Unplaced counts every task that could not be scheduled.
	Unplaced int
}

func (e *GraphCycleError) Error() string {
	msg := ErrGraphCycle.Error()
	if len(e.Cycle) > 0 {
		msg += ": " + strings.Join(e.Cycle, " -> ")
	}
	if e.Unplaced > 0 {
		msg += fmt.Sprintf(" (%d tasks cannot be scheduled)", e.Unplaced)
	}
	return msg
}

func (e *GraphCycleError) Is(target error) bool { return target == ErrGraphCycle }

// MissingValueError means a dependency's value was not in the store when a
// task was about to run. It indicates a bug in collection or scheduling.
type MissingValueError struct {
	Task       string
	Argument   string
	Dependency Key
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("%s: argument %q of task %s (dependency %s)", ErrMissingValue, e.Argument, e.Task, e.Dependency)
}

func (e *MissingValueError) Is(target error) bool { return target == ErrMissingValue }

// TaskExecutionError carries the error returned by a task's Execute. The
// original error is reachable through errors.Is and errors.As.
type TaskExecutionError struct {
	Task  string
	Key   Key
	Index int
	Err   error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s (step %d): %v", e.Task, e.Index, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }
