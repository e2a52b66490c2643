package dag

import "github.com/Tuditi/pbsgraph/scheduler"

// computePriorities assigns every node its longest-path distance to a sink:
// sinks get 0, every other node gets one plus the maximum over its
// successors. The walk runs backward from the sinks with an explicit stack
// (deep graphs would blow the call stack otherwise); a node resolves only
// once all of its successors have, which also makes the walk terminate
// naturally on already-resolved nodes.
func computePriorities(nodes []node) {
	resolved := make([]bool, len(nodes))
	stack := make([]int, 0, len(nodes))

	for i := range nodes {
		if len(nodes[i].succs) == 0 {
			stack = append(stack, i)
		}
	}

	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if resolved[i] {
			continue
		}

		max := scheduler.Priority(-1)
		ready := true
		for _, s := range nodes[i].succs {
			if !resolved[s] {
				// Revisited later, when the last successor resolves and
				// pushes this node again.
				ready = false
				break
			}
			if nodes[s].priority > max {
				max = nodes[s].priority
			}
		}
		if !ready {
			continue
		}

		nodes[i].priority = max + 1
		resolved[i] = true
		for _, e := range nodes[i].preds {
			stack = append(stack, e.from)
		}
	}
}
