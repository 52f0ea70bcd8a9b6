package scheduler

import (
	"fmt"
	"sort"
)

// Node is one task in a DependencyMap.
type Node struct {
	Key  Key
	Task Task
	// Args maps argument names to dependency keys. It is empty for leaves
	// and for tasks whose value was supplied up front.
	Args map[string]Key
}

// Deps returns the node's immediate dependencies, sorted and deduplicated.
func (n *Node) Deps() []Key {
	if len(n.Args) == 0 {
		return nil
	}
	seen := make(map[Key]struct{}, len(n.Args))
	deps := make([]Key, 0, len(n.Args))
	for _, k := range n.Args {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		deps = append(deps, k)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
	return deps
}

func (n *Node) argNames() []string {
	names := make([]string, 0, len(n.Args))
	for name := range n.Args {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DependencyMap holds every task reachable from a set of targets, keyed by
// identity, together with its immediate dependencies.
type DependencyMap map[Key]*Node

// Keys returns the map's keys in sorted order.
func (m DependencyMap) Keys() []Key {
	keys := make([]Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

type pending struct {
	key  Key
	task Task
}

// CollectDependencies walks the graph from targets and records every
// reachable task. Tasks with a value in cached are treated as satisfied
// leaves: their own arguments are never inspected.
//
// The walk uses an explicit stack so deep graphs do not grow the goroutine
// stack. Visiting order is irrelevant; only the resulting map matters.
func CollectDependencies(targets []Task, cached *ValueMap) (DependencyMap, error) {
	deps := make(DependencyMap)
	kr := newKeyer()

	stack := make([]pending, 0, len(targets))
	for i, t := range targets {
		key, err := kr.key(t)
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", i, err)
		}
		stack = append(stack, pending{key: key, task: t})
	}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := deps[cur.key]; seen {
			continue
		}
		node := &Node{Key: cur.key, Task: cur.task}
		deps[cur.key] = node

		if cached.hasKey(cur.key) {
			continue
		}

		args := cur.task.Arguments()
		if len(args) == 0 {
			continue
		}
		node.Args = make(map[string]Key, len(args))
		for name, dep := range args {
			if dep == nil {
				return nil, fmt.Errorf("task %s: argument %q is nil", Label(cur.task), name)
			}
			depKey, err := kr.key(dep)
			if err != nil {
				return nil, fmt.Errorf("task %s: argument %q: %w", Label(cur.task), name, err)
			}
			node.Args[name] = depKey
			stack = append(stack, pending{key: depKey, task: dep})
		}
	}

	return deps, nil
}
