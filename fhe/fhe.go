// Package fhe holds the domain side of the task pipeline: the weighted
// multi-sum and programmable-bootstrap transforms applied to each graph
// node. The scheduler treats all of this as opaque; the cryptography itself
// lives behind the Evaluator capability, with a lattice-backed
// implementation for real runs and a cleartext one for tests and debugging.
package fhe

import "github.com/Tuditi/pbsgraph/models"

// Evaluator is the homomorphic capability consumed by task execution. The
// two operations mirror the cost split of the pipeline: Combine is cheap,
// Bootstrap is not.
type Evaluator interface {
	// Combine folds the weighted inputs into a single ciphertext,
	// accumulating from the first element. Panics if inputs is empty: an
	// empty predecessor list means the graph handed us a derived node
	// with no edges, which is a construction bug.
	Combine(inputs []models.WeightedCiphertext) (models.Ciphertext, error)

	// Bootstrap refreshes ct while applying the selected lookup table.
	Bootstrap(ct models.Ciphertext, lut models.Lut) (models.Ciphertext, error)

	// DecodeCiphertext rebuilds one of this scheme's ciphertexts from its
	// serialized form.
	DecodeCiphertext(data []byte) (models.Ciphertext, error)
}

// KeyMaterial is the shared evaluation-key bundle broadcast once to every
// worker before any task is sent.
type KeyMaterial interface {
	MarshalBinary() ([]byte, error)
}
