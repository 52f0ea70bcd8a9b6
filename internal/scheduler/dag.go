package scheduler

import (
	"container/heap"
	"fmt"
	"sort"
)

// root is the index of the synthetic node with an edge to every target. It
// keeps targets that nothing depends on in the order and is never emitted.
const root = 0

// graph is the dependency relation with edges running from each dependency
// to its dependents. Node i>0 is nodes[i-1]; indices follow key order.
type graph struct {
	nodes    []*Node
	index    map[Key]int
	outgoing [][]int
	incoming [][]int
	indeg    []int
}

func newGraph(deps DependencyMap, targets []Task) (*graph, error) {
	keys := deps.Keys()
	g := &graph{
		nodes:    make([]*Node, len(keys)),
		index:    make(map[Key]int, len(keys)+1),
		outgoing: make([][]int, len(keys)+1),
		incoming: make([][]int, len(keys)+1),
		indeg:    make([]int, len(keys)+1),
	}
	for i, k := range keys {
		g.nodes[i] = deps[k]
		g.index[k] = i + 1
	}

	seen := make(map[[2]int]struct{})
	addEdge := func(from, to int) {
		e := [2]int{from, to}
		if _, dup := seen[e]; dup {
			return
		}
		seen[e] = struct{}{}
		g.outgoing[from] = append(g.outgoing[from], to)
		g.incoming[to] = append(g.incoming[to], from)
		g.indeg[to]++
	}

	for i, n := range g.nodes {
		for _, dep := range n.Deps() {
			from, ok := g.index[dep]
			if !ok {
				return nil, fmt.Errorf("task %s depends on unknown task %s", Label(n.Task), dep)
			}
			addEdge(from, i+1)
		}
	}

	for _, t := range targets {
		key, err := KeyOf(t)
		if err != nil {
			return nil, err
		}
		to, ok := g.index[key]
		if !ok {
			return nil, fmt.Errorf("target %s is missing from the dependency map", Label(t))
		}
		addEdge(root, to)
	}

	for i := range g.incoming {
		sort.Ints(g.incoming[i])
	}
	return g, nil
}

func (g *graph) node(i int) *Node { return g.nodes[i-1] }

// readyQueue orders ready nodes by (group label, -priority). Ties fall back
// to key order, which is the node index.
type readyQueue struct {
	g     *graph
	items []int
}

func (q *readyQueue) Len() int { return len(q.items) }

func (q *readyQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a == root || b == root {
		return a == root
	}
	ta, tb := q.g.node(a).Task, q.g.node(b).Task
	if la, lb := ta.GroupLabel(), tb.GroupLabel(); la != lb {
		return la < lb
	}
	if pa, pb := ta.Priority(), tb.Priority(); pa != pb {
		return pa > pb
	}
	return a < b
}

func (q *readyQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *readyQueue) Push(x any)   { q.items = append(q.items, x.(int)) }
func (q *readyQueue) Pop() any {
	old := q.items
	n := len(old)
	x := old[n-1]
	q.items = old[:n-1]
	return x
}

// order is a lexicographic topological sort: at every step the smallest
// ready node is placed next.
func (g *graph) order() ([]int, error) {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &readyQueue{g: g}
	for i := range indeg {
		if indeg[i] == 0 {
			ready.items = append(ready.items, i)
		}
	}
	heap.Init(ready)

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}

	if len(out) < len(indeg) {
		return nil, g.cycleError(indeg)
	}
	return out, nil
}

// cycleError walks backwards through unplaced nodes. Each of them still has
// an unplaced dependency, so the walk must revisit a node; the revisited
// stretch is a cycle.
func (g *graph) cycleError(indeg []int) error {
	unplaced := 0
	start := -1
	for i, d := range indeg {
		if d > 0 {
			unplaced++
			if start == -1 {
				start = i
			}
		}
	}

	pos := make(map[int]int)
	var walk []int
	cur := start
	for cur != -1 {
		if at, ok := pos[cur]; ok {
			walk = append(walk[at:], cur)
			break
		}
		pos[cur] = len(walk)
		walk = append(walk, cur)

		next := -1
		for _, p := range g.incoming[cur] {
			if indeg[p] > 0 {
				next = p
				break
			}
		}
		cur = next
	}

	cycle := make([]string, 0, len(walk))
	for _, i := range walk {
		if i == root {
			continue
		}
		cycle = append(cycle, Label(g.node(i).Task))
	}
	return &GraphCycleError{Cycle: cycle, Unplaced: unplaced}
}

func buildSchedule(deps DependencyMap, targets []Task, cached *ValueMap) ([]*Node, error) {
	g, err := newGraph(deps, targets)
	if err != nil {
		return nil, err
	}
	order, err := g.order()
	if err != nil {
		return nil, err
	}

	schedule := make([]*Node, 0, len(order))
	for _, i := range order {
		if i == root {
			continue
		}
		n := g.node(i)
		if cached.hasKey(n.Key) {
			continue
		}
		schedule = append(schedule, n)
	}
	return schedule, nil
}

// BuildSchedule returns a deterministic execution order for deps in which
// every task follows its dependencies. Every target appears unless it has a
// cached value; cached tasks are never scheduled.
//
// Among tasks whose dependencies are already placed, the one with the
// smallest (group label, -priority) goes next, so higher priorities run
// first and tasks sharing a label cluster together.
func BuildSchedule(deps DependencyMap, targets []Task, cached *ValueMap) ([]Task, error) {
	nodes, err := buildSchedule(deps, targets, cached)
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, len(nodes))
	for i, n := range nodes {
		tasks[i] = n.Task
	}
	return tasks, nil
}
