// Package scheduler executes graphs of tasks.
//
// A caller hands NewExecutor the target tasks it wants values for. The
// executor collects every task they transitively depend on, orders them with
// a deterministic topological sort, and Run then executes that order one task
// at a time: each task's arguments are resolved from values computed earlier,
// results are moved to the retention device, requested targets are handed
// back, and intermediate values are dropped once their last consumer ran.
package scheduler
