package models

// Ciphertext is an opaque encrypted value. The scheduling core never looks
// inside one; it only moves them between graph nodes and workers. Concrete
// types come from the fhe package (lattice-backed or cleartext).
type Ciphertext interface {
	MarshalBinary() ([]byte, error)
}

// CiphertextDecoder rebuilds a Ciphertext from its serialized form. Each
// evaluator supplies its own decoder, since the wire bytes are scheme
// specific.
type CiphertextDecoder func(data []byte) (Ciphertext, error)

// WeightedCiphertext pairs a ciphertext with the scalar multiplier applied
// to it when building a node's multi-sum.
type WeightedCiphertext struct {
	Weight uint64
	Ct     Ciphertext
}
