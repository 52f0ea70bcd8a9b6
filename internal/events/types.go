package events

import (
	"time"
)

// Event is the base interface for all engine events.
type Event interface {
	Topic() string
	EventType() string
	TaskKey() string
}

// Topic constants
const (
	TopicTask  = "task"
	TopicValue = "value"
	TopicRun   = "run"
)

// Event type constants
const (
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeValueEvicted  = "value.evicted"
	EventTypeRunProgress   = "run.progress"
)

// TaskStartedEvent is published right before a scheduled task executes.
type TaskStartedEvent struct {
	Key       string
	Label     string
	Index     int // position in the schedule
	Timestamp time.Time
}

func (e TaskStartedEvent) Topic() string     { return TopicTask }
func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskKey() string   { return e.Key }

// TaskCompletedEvent is published once a task's result has been stored.
type TaskCompletedEvent struct {
	Key       string
	Label     string
	Index     int
	Target    bool // result is yielded to the caller
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) Topic() string     { return TopicTask }
func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskKey() string   { return e.Key }

// TaskFailedEvent is published when a step aborts the run.
type TaskFailedEvent struct {
	Key       string
	Label     string
	Index     int
	Err       error
	Timestamp time.Time
}

func (e TaskFailedEvent) Topic() string     { return TopicTask }
func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskKey() string   { return e.Key }

// ValueEvictedEvent is published when a stored value is dropped after its
// last consumer ran.
type ValueEvictedEvent struct {
	Key       string
	Index     int // schedule position after which the value was dropped
	Timestamp time.Time
}

func (e ValueEvictedEvent) Topic() string     { return TopicValue }
func (e ValueEvictedEvent) EventType() string { return EventTypeValueEvicted }
func (e ValueEvictedEvent) TaskKey() string   { return e.Key }

// RunProgressEvent is published after every executed step.
type RunProgressEvent struct {
	Description string
	Total       int
	Completed   int
	Resident    int // values currently held in the store
	Done        bool
	Timestamp   time.Time
}

func (e RunProgressEvent) Topic() string     { return TopicRun }
func (e RunProgressEvent) EventType() string { return EventTypeRunProgress }
func (e RunProgressEvent) TaskKey() string   { return "" }
