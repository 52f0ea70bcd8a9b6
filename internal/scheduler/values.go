package scheduler

import (
	"sort"
)

type valueEntry struct {
	task  Task
	value any
}

// ValueMap maps tasks to values by structural identity. A nil *ValueMap is
// an empty, read-only map.
//
// Callers use it to hand pre-computed values to an Executor. The executor
// only reads it, so it must stay unmodified until the run is over.
type ValueMap struct {
	entries map[Key]valueEntry
}

// NewValueMap returns an empty map.
func NewValueMap() *ValueMap {
	return &ValueMap{entries: make(map[Key]valueEntry)}
}

// Put records value for task, replacing any previous value for an
// identically configured task.
func (m *ValueMap) Put(task Task, value any) error {
	key, err := KeyOf(task)
	if err != nil {
		return err
	}
	if m.entries == nil {
		m.entries = make(map[Key]valueEntry)
	}
	m.entries[key] = valueEntry{task: task, value: value}
	return nil
}

// Get returns the value recorded for task.
func (m *ValueMap) Get(task Task) (any, bool) {
	key, err := KeyOf(task)
	if err != nil {
		return nil, false
	}
	return m.lookup(key)
}

// Has reports whether a value is recorded for task.
func (m *ValueMap) Has(task Task) bool {
	_, ok := m.Get(task)
	return ok
}

// Len returns the number of recorded values.
func (m *ValueMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Tasks returns the recorded tasks ordered by key.
func (m *ValueMap) Tasks() []Task {
	if m == nil {
		return nil
	}
	keys := m.keys()
	tasks := make([]Task, 0, len(keys))
	for _, k := range keys {
		tasks = append(tasks, m.entries[k].task)
	}
	return tasks
}

func (m *ValueMap) lookup(key Key) (any, bool) {
	if m == nil {
		return nil, false
	}
	e, ok := m.entries[key]
	return e.value, ok
}

func (m *ValueMap) hasKey(key Key) bool {
	_, ok := m.lookup(key)
	return ok
}

func (m *ValueMap) keys() []Key {
	keys := make([]Key, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
