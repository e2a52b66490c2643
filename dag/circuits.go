package dag

import (
	"fmt"

	"github.com/Tuditi/pbsgraph/models"
)

// CarryAddGraph builds the block-wise homomorphic addition circuit the demo
// binary runs: per-block generate/propagate flags, a prefix chain resolving
// carries from the least significant block up, and a final message extract
// per block. lhs and rhs are little-endian block arrays of equal length,
// already encrypted; zero is an encryption of 0 seeding the bottom of the
// carry chain, so a propagated flag with nothing below it resolves to no
// carry; messageModulus is the packing factor for the bivariate prefix
// table.
//
// Returns the graph and the indexes of the output nodes, one per block.
func CarryAddGraph(lhs, rhs []models.Ciphertext, zero models.Ciphertext, messageModulus uint64) (*Graph, []int, error) {
	if len(lhs) != len(rhs) {
		return nil, nil, fmt.Errorf("operand block counts differ: %d vs %d", len(lhs), len(rhs))
	}
	if len(lhs) == 0 {
		return nil, nil, fmt.Errorf("empty operands")
	}

	b := NewBuilder()

	left := make([]int, len(lhs))
	right := make([]int, len(rhs))
	for i := range lhs {
		left[i] = b.Input(lhs[i])
		right[i] = b.Input(rhs[i])
	}

	// Per-block carry flags: none, generated, or propagated.
	flags := make([]int, len(lhs))
	for i := range lhs {
		flags[i] = b.Op(models.LutDoesBlockGenerateOrPropagate,
			Weighted(left[i], 1), Weighted(right[i], 1))
	}

	// Prefix chain: resolve each block's flag against the resolved carry of
	// everything below it. The bivariate table reads its packed input as
	// current*m + previous.
	base := b.Input(zero)
	resolved := make([]int, len(lhs))
	prev := base
	for i := 0; i < len(lhs); i++ {
		resolved[i] = b.Op(models.LutPrefixSumCarryPropagation,
			Weighted(flags[i], messageModulus), Weighted(prev, 1))
		prev = resolved[i]
	}

	// Carry-in bit per block above the first.
	carries := make([]int, len(lhs))
	for i := 1; i < len(lhs); i++ {
		carries[i] = b.Op(models.LutDoesBlockGenerateCarry,
			Weighted(resolved[i-1], messageModulus))
	}

	outputs := make([]int, len(lhs))
	outputs[0] = b.Op(models.LutExtractMessage,
		Weighted(left[0], 1), Weighted(right[0], 1))
	for i := 1; i < len(lhs); i++ {
		outputs[i] = b.Op(models.LutExtractMessage,
			Weighted(left[i], 1), Weighted(right[i], 1), Weighted(carries[i], 1))
	}

	return b.Build(), outputs, nil
}
