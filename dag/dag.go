// Package dag owns the ciphertext computation graph: an arena of nodes
// referenced by integer index, each holding one of three lifecycle states,
// plus the edge weights feeding every node's multi-sum. The graph is built
// once, executed once, and never grows.
package dag

import (
	"fmt"
	"sync"

	"github.com/Tuditi/pbsgraph/models"
	"github.com/Tuditi/pbsgraph/scheduler"
)

// nodeState is a closed sum over the three node lifecycles. A node only
// ever moves forward: pending -> queued -> computed.
type nodeState interface {
	isNodeState()
}

type stateComputed struct{ ct models.Ciphertext }
type stateQueued struct{}
type statePending struct{ lut models.Lut }

func (stateComputed) isNodeState() {}
func (stateQueued) isNodeState()   {}
func (statePending) isNodeState()  {}

func stateName(s nodeState) string {
	switch s.(type) {
	case stateComputed:
		return "computed"
	case stateQueued:
		return "queued"
	case statePending:
		return "pending"
	default:
		return fmt.Sprintf("%T", s)
	}
}

// edge is one incoming dependency: the source node index and the scalar
// weight applied to its ciphertext in the destination's multi-sum.
type edge struct {
	from   int
	weight uint64
}

type node struct {
	state    nodeState
	priority scheduler.Priority
	preds    []edge
	succs    []int
}

// Graph is a directed acyclic multigraph of ciphertext computations. It is
// mutated only by the engine's master loop; the lock exists so the status
// API can snapshot progress while a run is live.
type Graph struct {
	mu          sync.RWMutex
	nodes       []node
	notComputed int
}

// Ref names a predecessor when wiring an operation node: the source node
// index and the multi-sum weight on that edge.
type Ref struct {
	Index  int
	Weight uint64
}

// Weighted is shorthand for building a Ref.
func Weighted(index int, weight uint64) Ref {
	return Ref{Index: index, Weight: weight}
}

// Builder accumulates nodes and edges, then freezes them into a Graph.
// The edge set is fixed once Build is called.
type Builder struct {
	nodes []node
}

// NewBuilder returns an empty graph builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Input adds an already-computed source node holding ct and returns its
// index.
func (b *Builder) Input(ct models.Ciphertext) int {
	b.nodes = append(b.nodes, node{state: stateComputed{ct: ct}})
	return len(b.nodes) - 1
}

// Op adds a derived node: the weighted sum of inputs, bootstrapped through
// lut. Returns the new node's index. Referencing an unknown node panics,
// since the builder is driven by trusted circuit-construction code.
func (b *Builder) Op(lut models.Lut, inputs ...Ref) int {
	index := len(b.nodes)
	b.nodes = append(b.nodes, node{state: statePending{lut: lut}})
	for _, in := range inputs {
		if in.Index < 0 || in.Index >= index {
			panic(fmt.Sprintf("dag: node %d references unknown predecessor %d", index, in.Index))
		}
		b.nodes[index].preds = append(b.nodes[index].preds, edge{from: in.Index, weight: in.Weight})
		b.nodes[in.Index].succs = append(b.nodes[in.Index].succs, index)
	}
	return index
}

// Build freezes the builder into an executable Graph, computing every
// node's priority by backward propagation from the sinks.
func (b *Builder) Build() *Graph {
	g := &Graph{nodes: b.nodes}
	b.nodes = nil

	for i := range g.nodes {
		if _, ok := g.nodes[i].state.(stateComputed); !ok {
			g.notComputed++
		}
	}
	computePriorities(g.nodes)
	return g
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// NotComputed returns how many nodes still await their ciphertext.
func (g *Graph) NotComputed() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.notComputed
}

// Ciphertext returns the computed value of a node, or an error if the node
// is out of range or not yet computed. This is the caller-facing read used
// to extract outputs from a finished graph.
func (g *Graph) Ciphertext(index int) (models.Ciphertext, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if index < 0 || index >= len(g.nodes) {
		return nil, fmt.Errorf("node %d out of range", index)
	}
	c, ok := g.nodes[index].state.(stateComputed)
	if !ok {
		return nil, fmt.Errorf("node %d not computed (state %s)", index, stateName(g.nodes[index].state))
	}
	return c.ct, nil
}

// NodeStatus describes one node for the status API.
type NodeStatus struct {
	Index    int    `json:"index"`
	State    string `json:"state"`
	Priority int    `json:"priority"`
}

// Snapshot returns the state of every node.
func (g *Graph) Snapshot() []NodeStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]NodeStatus, len(g.nodes))
	for i := range g.nodes {
		out[i] = NodeStatus{Index: i, State: stateName(g.nodes[i].state), Priority: int(g.nodes[i].priority)}
	}
	return out
}

// StateCounts tallies nodes per lifecycle state.
func (g *Graph) StateCounts() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	counts := make(map[string]int, 3)
	for i := range g.nodes {
		counts[stateName(g.nodes[i].state)]++
	}
	return counts
}
