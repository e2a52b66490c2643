// Package scheduler drives a master/worker execution loop over an abstract
// task graph: it dispatches ready tasks to workers in priority order,
// commits their results, and discovers newly unlocked work until the graph
// is fully computed.
package scheduler

// Priority is the scheduling weight of a task: the length of the longest
// dependency chain from its node to any terminal node. Higher values are
// dispatched first so the critical path keeps moving.
type Priority int

// PrioritizedTask is a ready task tagged with its scheduling weight and the
// node index it computes. Ties on Priority are broken by ascending Key so
// dispatch order is deterministic.
type PrioritizedTask[T any] struct {
	Priority Priority
	Key      int
	Task     T
}

// TaskGraph is the contract between the engine and the structure it
// executes. Implementations own all node state; the engine only ever sees
// opaque tasks and results.
//
// Init and CommitResult must return every task exactly once across the
// whole run: the engine treats a repeated node as a broken invariant.
type TaskGraph[T, R any] interface {
	// Init validates the graph and returns the initial ready set: every
	// task whose predecessors are all already computed.
	Init() []PrioritizedTask[T]

	// CommitResult applies one worker result and returns the tasks it
	// unlocked. Results may arrive in any order relative to dispatch.
	CommitResult(res R) []PrioritizedTask[T]

	// IsFinished reports whether every node has been computed.
	IsFinished() bool
}
