package scheduler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/taskgraph/internal/device"
	"github.com/aristath/taskgraph/internal/events"
)

const defaultDescription = "Executing graph"

// Executor schedules a set of target tasks and their dependencies, runs them,
// moves values between the compute and retention devices, and drops
// intermediate values once nothing downstream needs them.
//
// The schedule is computed once, in NewExecutor. An Executor may be run any
// number of times; each Run owns its own value store.
type Executor struct {
	targets    []Task
	targetKeys map[Key]struct{}
	deps       DependencyMap
	schedule   []*Node

	cached      *ValueMap
	compute     device.Device
	retention   device.Device
	moveOptions []device.MoveOption

	logger      zerolog.Logger
	bus         *events.EventBus
	description string
}

// Option configures an Executor.
type Option func(*Executor)

// WithComputeDevice sets the device inputs of accelerated tasks are moved to.
func WithComputeDevice(d device.Device) Option {
	return func(e *Executor) { e.compute = d }
}

// WithRetentionDevice sets the device every result is moved to for storage.
func WithRetentionDevice(d device.Device) Option {
	return func(e *Executor) { e.retention = d }
}

// WithCachedValues supplies pre-computed values. Their tasks are never
// executed and their own dependencies are never visited.
func WithCachedValues(values *ValueMap) Option {
	return func(e *Executor) { e.cached = values }
}

// WithNonBlocking overrides the per-device transfer default.
func WithNonBlocking(nonBlocking bool) Option {
	return func(e *Executor) {
		e.moveOptions = append(e.moveOptions, device.NonBlocking(nonBlocking))
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithEventBus publishes task, value and progress events to bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(e *Executor) { e.bus = bus }
}

// WithDescription names runs in progress events and logs.
func WithDescription(desc string) Option {
	return func(e *Executor) {
		if desc != "" {
			e.description = desc
		}
	}
}

// NewExecutor collects the dependencies of targets and computes the
// schedule. A cyclic graph fails here, before anything runs.
func NewExecutor(targets []Task, opts ...Option) (*Executor, error) {
	e := &Executor{
		compute:     device.CPUDevice,
		retention:   device.CPUDevice,
		logger:      zerolog.Nop(),
		description: defaultDescription,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.logger.Debug().Int("targets", len(targets)).Msg("building schedule")

	deps, err := CollectDependencies(targets, e.cached)
	if err != nil {
		return nil, fmt.Errorf("collecting dependencies: %w", err)
	}
	schedule, err := buildSchedule(deps, targets, e.cached)
	if err != nil {
		return nil, fmt.Errorf("building schedule: %w", err)
	}

	e.targets = append([]Task(nil), targets...)
	e.targetKeys = make(map[Key]struct{}, len(targets))
	for _, t := range targets {
		// Keys were already derived successfully during collection.
		key, _ := KeyOf(t)
		e.targetKeys[key] = struct{}{}
	}
	e.deps = deps
	e.schedule = schedule

	e.logger.Debug().
		Int("tasks", len(deps)).
		Int("scheduled", len(schedule)).
		Int("cached", e.cached.Len()).
		Msg("schedule built")

	return e, nil
}

// Schedule returns the execution order.
func (e *Executor) Schedule() []Task {
	tasks := make([]Task, len(e.schedule))
	for i, n := range e.schedule {
		tasks[i] = n.Task
	}
	return tasks
}

// Dependencies returns the collected dependency map. Callers must not
// modify it.
func (e *Executor) Dependencies() DependencyMap {
	return e.deps
}

// Targets returns the requested targets in request order.
func (e *Executor) Targets() []Task {
	return append([]Task(nil), e.targets...)
}

// IsTarget reports whether t was requested.
func (e *Executor) IsTarget(t Task) bool {
	key, err := KeyOf(t)
	if err != nil {
		return false
	}
	_, ok := e.targetKeys[key]
	return ok
}

// Run starts a run. Nothing executes until the first call to Next.
func (e *Executor) Run(ctx context.Context) *Run {
	return newRun(ctx, e)
}

// Execute runs the whole schedule and discards every value. It is for
// callers that only want the tasks' side effects.
func (e *Executor) Execute(ctx context.Context) error {
	r := newRun(ctx, e)
	r.drain()
	return r.Err()
}
