package fhe

import (
	"fmt"

	"github.com/Tuditi/pbsgraph/models"
)

// Runner binds an evaluator to the two-phase task pipeline. The same type
// serves both roles: the master calls Prepare on every ready task before
// sending it, workers call Execute on every envelope they receive.
//
// When precombine is set the master runs the multi-sum locally and ships
// only the combined ciphertext, trading master CPU for smaller messages and
// fuller worker utilisation on the expensive bootstrap. Otherwise workers
// run both phases.
type Runner struct {
	eval       Evaluator
	precombine bool
}

// NewRunner builds a task runner over eval.
func NewRunner(eval Evaluator, precombine bool) *Runner {
	return &Runner{eval: eval, precombine: precombine}
}

// Prepare turns a ready task into its outbound envelope, running the
// multi-sum phase master-side when precombine mode is on.
func (r *Runner) Prepare(task models.MultiSumTask) (models.TaskEnvelope, error) {
	if !r.precombine {
		t := task
		return models.TaskEnvelope{MultiSum: &t}, nil
	}

	ct, err := r.eval.Combine(task.Inputs)
	if err != nil {
		return models.TaskEnvelope{}, fmt.Errorf("combining inputs of node %d: %w", task.Index, err)
	}
	return models.TaskEnvelope{Combined: &models.CombinedTask{
		Index: task.Index,
		Ct:    ct,
		Lut:   task.Lut,
	}}, nil
}

// Execute runs the phases the envelope still needs and returns the node's
// final ciphertext.
func (r *Runner) Execute(env models.TaskEnvelope) (models.Result, error) {
	var combined models.CombinedTask
	switch {
	case env.Combined != nil:
		combined = *env.Combined
	case env.MultiSum != nil:
		ct, err := r.eval.Combine(env.MultiSum.Inputs)
		if err != nil {
			return models.Result{}, fmt.Errorf("combining inputs of node %d: %w", env.MultiSum.Index, err)
		}
		combined = models.CombinedTask{Index: env.MultiSum.Index, Ct: ct, Lut: env.MultiSum.Lut}
	default:
		return models.Result{}, fmt.Errorf("empty task envelope")
	}

	out, err := r.eval.Bootstrap(combined.Ct, combined.Lut)
	if err != nil {
		return models.Result{}, fmt.Errorf("bootstrapping node %d through %s: %w", combined.Index, combined.Lut, err)
	}
	return models.Result{Index: combined.Index, Ct: out}, nil
}

// DecodeCiphertext exposes the evaluator's decoder, letting transports
// rebuild inbound ciphertexts without knowing the scheme.
func (r *Runner) DecodeCiphertext(data []byte) (models.Ciphertext, error) {
	return r.eval.DecodeCiphertext(data)
}
