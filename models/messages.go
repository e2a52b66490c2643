package models

// MultiSumTask is one unit of schedulable work: compute the weighted
// multi-sum of a node's predecessors, then bootstrap the sum through the
// selected lookup table. Built when a node becomes ready, destroyed once
// its result is committed.
type MultiSumTask struct {
	Index  int
	Inputs []WeightedCiphertext
	Lut    Lut
}

// CombinedTask is the intermediate form of a task whose multi-sum phase has
// already run: one combined ciphertext awaiting its bootstrap.
type CombinedTask struct {
	Index int
	Ct    Ciphertext
	Lut   Lut
}

// Result carries a node's final ciphertext back to the master for commit.
type Result struct {
	Index int
	Ct    Ciphertext
}

// TaskEnvelope is what actually travels from master to worker. Exactly one
// of MultiSum or Combined is set: when the master pre-combines, workers
// receive only the Combined form and run the bootstrap phase alone.
type TaskEnvelope struct {
	MultiSum *MultiSumTask
	Combined *CombinedTask
}

// Index returns the graph node the envelope belongs to.
func (e TaskEnvelope) Index() int {
	if e.Combined != nil {
		return e.Combined.Index
	}
	return e.MultiSum.Index
}
