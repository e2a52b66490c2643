package dag

import (
	"fmt"

	"github.com/Tuditi/pbsgraph/models"
	"github.com/Tuditi/pbsgraph/scheduler"
)

// The Graph implements scheduler.TaskGraph for multi-sum-and-bootstrap
// tasks. All methods here panic on state inconsistencies: a wrong state at
// a transition site means the caller handed us a malformed graph or the
// engine broke a scheduling invariant, neither of which is recoverable.

var _ scheduler.TaskGraph[models.MultiSumTask, models.Result] = (*Graph)(nil)

// detectCycle runs Kahn's algorithm over the whole arena and returns the
// index of a node stuck on a cycle, or -1.
func (g *Graph) detectCycle() int {
	indegree := make([]int, len(g.nodes))
	for i := range g.nodes {
		indegree[i] = len(g.nodes[i].preds)
	}

	queue := make([]int, 0, len(g.nodes))
	for i, d := range indegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}

	seen := 0
	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		seen++
		for _, s := range g.nodes[i].succs {
			indegree[s]--
			if indegree[s] == 0 {
				queue = append(queue, s)
			}
		}
	}

	if seen == len(g.nodes) {
		return -1
	}
	for i, d := range indegree {
		if d > 0 {
			return i
		}
	}
	return -1
}

// AssertWellFormed panics unless the graph is acyclic, every source node is
// computed, and every derived node is still pending. Called once before a
// run starts, when no node can legitimately be queued yet.
func (g *Graph) AssertWellFormed() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	g.assertWellFormed()
}

func (g *Graph) assertWellFormed() {
	if i := g.detectCycle(); i >= 0 {
		panic(fmt.Sprintf("dag: cycle detected involving node %d", i))
	}
	for i := range g.nodes {
		if len(g.nodes[i].preds) == 0 {
			if _, ok := g.nodes[i].state.(stateComputed); !ok {
				panic(fmt.Sprintf("dag: source node %d: expected state computed, got %s", i, stateName(g.nodes[i].state)))
			}
		} else {
			if _, ok := g.nodes[i].state.(statePending); !ok {
				panic(fmt.Sprintf("dag: derived node %d: expected state pending, got %s", i, stateName(g.nodes[i].state)))
			}
		}
	}
}

// AssertFinishable is the weaker pre-run check: acyclic, and every source
// node computed. Derived nodes may be in any state, so a partially executed
// graph still passes.
func (g *Graph) AssertFinishable() {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if i := g.detectCycle(); i >= 0 {
		panic(fmt.Sprintf("dag: cycle detected involving node %d", i))
	}
	for i := range g.nodes {
		if len(g.nodes[i].preds) != 0 {
			continue
		}
		if _, ok := g.nodes[i].state.(stateComputed); !ok {
			panic(fmt.Sprintf("dag: source node %d: expected state computed, got %s", i, stateName(g.nodes[i].state)))
		}
	}
}

// PredecessorList snapshots a node's incoming (weight, ciphertext) pairs in
// edge order. Panics if any predecessor is not computed: callers must only
// ask for nodes whose readiness has already been established, so a miss
// here is a scheduling bug, never partial data.
func (g *Graph) PredecessorList(index int) []models.WeightedCiphertext {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.predecessorList(index)
}

func (g *Graph) predecessorList(index int) []models.WeightedCiphertext {
	preds := g.nodes[index].preds
	out := make([]models.WeightedCiphertext, 0, len(preds))
	for _, e := range preds {
		c, ok := g.nodes[e.from].state.(stateComputed)
		if !ok {
			panic(fmt.Sprintf("dag: predecessor %d of node %d: expected state computed, got %s",
				e.from, index, stateName(g.nodes[e.from].state)))
		}
		out = append(out, models.WeightedCiphertext{Weight: e.weight, Ct: c.ct})
	}
	return out
}

// buildTask snapshots a ready pending node into a task and marks it queued
// in the same critical section, so the node is never dispatched twice.
// Caller holds the write lock.
func (g *Graph) buildTask(index int) scheduler.PrioritizedTask[models.MultiSumTask] {
	p, ok := g.nodes[index].state.(statePending)
	if !ok {
		panic(fmt.Sprintf("dag: building task for node %d: expected state pending, got %s",
			index, stateName(g.nodes[index].state)))
	}

	inputs := g.predecessorList(index)
	g.nodes[index].state = stateQueued{}

	return scheduler.PrioritizedTask[models.MultiSumTask]{
		Priority: g.nodes[index].priority,
		Key:      index,
		Task: models.MultiSumTask{
			Index:  index,
			Inputs: inputs,
			Lut:    p.lut,
		},
	}
}

func (g *Graph) allPredsComputed(index int) bool {
	for _, e := range g.nodes[index].preds {
		if _, ok := g.nodes[e.from].state.(stateComputed); !ok {
			return false
		}
	}
	return true
}

// Init validates the graph and queues every pending node whose
// predecessors are all computed.
func (g *Graph) Init() []scheduler.PrioritizedTask[models.MultiSumTask] {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.assertWellFormed()

	var tasks []scheduler.PrioritizedTask[models.MultiSumTask]
	for i := range g.nodes {
		if _, ok := g.nodes[i].state.(statePending); !ok {
			continue
		}
		if g.allPredsComputed(i) {
			tasks = append(tasks, g.buildTask(i))
		}
	}
	return tasks
}

// CommitResult stores a worker's ciphertext into its node and returns tasks
// for every successor that just became ready. Results may arrive in any
// order; per node, commit happens exactly once or the run aborts.
func (g *Graph) CommitResult(res models.Result) []scheduler.PrioritizedTask[models.MultiSumTask] {
	g.mu.Lock()
	defer g.mu.Unlock()

	if res.Index < 0 || res.Index >= len(g.nodes) {
		panic(fmt.Sprintf("dag: commit for node %d: index out of range", res.Index))
	}
	if _, ok := g.nodes[res.Index].state.(stateQueued); !ok {
		panic(fmt.Sprintf("dag: commit for node %d: expected state queued, got %s",
			res.Index, stateName(g.nodes[res.Index].state)))
	}

	g.nodes[res.Index].state = stateComputed{ct: res.Ct}
	g.notComputed--

	var tasks []scheduler.PrioritizedTask[models.MultiSumTask]
	visited := make(map[int]bool, len(g.nodes[res.Index].succs))
	for _, s := range g.nodes[res.Index].succs {
		if visited[s] {
			// Parallel edges from the same predecessor.
			continue
		}
		visited[s] = true

		if _, ok := g.nodes[s].state.(statePending); !ok {
			panic(fmt.Sprintf("dag: successor %d of node %d: expected state pending, got %s",
				s, res.Index, stateName(g.nodes[s].state)))
		}
		if g.allPredsComputed(s) {
			tasks = append(tasks, g.buildTask(s))
		}
	}
	return tasks
}

// IsFinished reports whether every node is computed.
func (g *Graph) IsFinished() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.notComputed == 0
}
