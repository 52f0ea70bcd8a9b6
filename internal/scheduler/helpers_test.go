package scheduler

import (
	"context"
	"sync"
)

// execLog records the order tasks executed in.
type execLog struct {
	mu    sync.Mutex
	order []string
}

func (l *execLog) record(name string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, name)
}

func (l *execLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

func (l *execLog) count(name string) int {
	n := 0
	for _, got := range l.names() {
		if got == name {
			n++
		}
	}
	return n
}

// testTask is a configurable task. Only Hints, Name and Inputs take part in
// its identity.
type testTask struct {
	Hints
	Name   string
	Inputs map[string]Task

	run func(args map[string]any) (any, error) `hash:"ignore"`
	log *execLog                               `hash:"ignore"`
}

func (t testTask) Arguments() map[string]Task { return t.Inputs }

func (t testTask) Execute(ctx context.Context, args map[string]any) (any, error) {
	t.log.record(t.Name)
	if t.run != nil {
		return t.run(args)
	}
	return t.Name, nil
}

func (t testTask) String() string { return t.Name }

func leaf(name string, log *execLog) testTask {
	return testTask{Name: name, log: log}
}

func dependent(name string, log *execLog, inputs ...testTask) testTask {
	t := testTask{Name: name, log: log, Inputs: make(map[string]Task, len(inputs))}
	for _, in := range inputs {
		t.Inputs[in.Name] = in
	}
	return t
}

func labels(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = Label(t)
	}
	return out
}

func indexOf(tasks []Task, name string) int {
	for i, t := range tasks {
		if Label(t) == name {
			return i
		}
	}
	return -1
}

// cyclicTask can reference itself through a pointer, which a value-typed
// task cannot. Its identity is its name.
type cyclicTask struct {
	Hints
	name string
	deps []*cyclicTask
}

func (t *cyclicTask) Arguments() map[string]Task {
	args := make(map[string]Task, len(t.deps))
	for _, d := range t.deps {
		args[d.name] = d
	}
	return args
}

func (t *cyclicTask) Execute(context.Context, map[string]any) (any, error) {
	return t.name, nil
}

func (t *cyclicTask) TaskKey() string { return t.name }
func (t *cyclicTask) String() string  { return t.name }

// nodeTask is a pointer task without a Keyer, so its identity comes from
// hashing Name and Deps.
type nodeTask struct {
	Hints
	Name string
	Deps map[string]Task
}

func (t *nodeTask) Arguments() map[string]Task { return t.Deps }

func (t *nodeTask) Execute(context.Context, map[string]any) (any, error) {
	return t.Name, nil
}

func (t *nodeTask) String() string { return t.Name }

// offsetTask keeps its configuration in an unexported field.
type offsetTask struct {
	Hints
	offset int
}

func (t offsetTask) Arguments() map[string]Task { return nil }

func (t offsetTask) Execute(context.Context, map[string]any) (any, error) {
	return t.offset, nil
}

// hookTask carries a func field with no hash tag.
type hookTask struct {
	Hints
	Name string
	Hook func()
}

func (t hookTask) Arguments() map[string]Task { return nil }

func (t hookTask) Execute(context.Context, map[string]any) (any, error) {
	return t.Name, nil
}
