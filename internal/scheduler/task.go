package scheduler

import (
	"context"
	"fmt"
)

// Task is a unit of work in the graph.
//
// Arguments names the tasks whose values Execute receives, under the same
// names. It must be pure and return the same mapping on every call. Execute
// may allocate resources but must not mutate its inputs.
//
// Two tasks with identical configuration must produce the same Key (see
// KeyOf) so identical requests collapse into one graph node.
type Task interface {
	Arguments() map[string]Task
	Execute(ctx context.Context, args map[string]any) (any, error)

	// Scheduling hints. They only affect ordering and are never validated.
	Priority() int         // higher runs earlier among ready tasks
	GroupLabel() string    // tasks sharing a label are clustered
	UsesAccelerator() bool // inputs are moved to the compute device first
	MainThreadOnly() bool  // reserved; the runtime does not consult it
}

// Hints supplies the scheduling-hint methods of Task from plain fields.
// Embedding a zero Hints gives the defaults.
type Hints struct {
	Rank        int    `yaml:"priority,omitempty"`
	Group       string `yaml:"group,omitempty"`
	Accelerated bool   `yaml:"accelerator,omitempty"`
	PinMain     bool   `yaml:"main_thread,omitempty"`
}

func (h Hints) Priority() int         { return h.Rank }
func (h Hints) GroupLabel() string    { return h.Group }
func (h Hints) UsesAccelerator() bool { return h.Accelerated }
func (h Hints) MainThreadOnly() bool  { return h.PinMain }

// Key is the structural identity of a task.
type Key string

// Keyer lets a task supply its own identity instead of having its
// configuration hashed. The returned string must be derived from every field
// that affects the task's result.
type Keyer interface {
	TaskKey() string
}

// KeyOf returns the structural identity of t. Keys are namespaced by the
// task's dynamic type. Tasks that do not implement Keyer are hashed with
// hashstructure over their exported fields; nested tasks contribute their own
// key, not their contents. Unexported, func and chan fields must be tagged
// `hash:"ignore"`, otherwise KeyOf fails rather than letting two differently
// configured tasks collapse. A task whose configuration refers back to
// itself yields a *GraphCycleError.
func KeyOf(t Task) (Key, error) {
	return newKeyer().key(t)
}

// Label returns a human-readable name for t: its String method if it has
// one, its key otherwise.
func Label(t Task) string {
	if s, ok := t.(fmt.Stringer); ok {
		return s.String()
	}
	k, err := KeyOf(t)
	if err != nil {
		return fmt.Sprintf("%T", t)
	}
	return string(k)
}

// Arg fetches a resolved argument with a type assertion.
func Arg[T any](args map[string]any, name string) (T, error) {
	var zero T

	v, ok := args[name]
	if !ok {
		return zero, fmt.Errorf("argument %q not provided", name)
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("argument %q has type %T, want %T", name, v, zero)
	}
	return typed, nil
}
