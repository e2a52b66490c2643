package fhe

import (
	"encoding/binary"
	"fmt"

	"github.com/Tuditi/pbsgraph/models"
)

// ClearCiphertext is the "ciphertext" of the cleartext evaluator: a plain
// residue. It keeps the whole pipeline runnable without key material, which
// is what the tests and the debugging scheme use.
type ClearCiphertext struct {
	Value uint64
}

func (c *ClearCiphertext) MarshalBinary() ([]byte, error) {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, c.Value)
	return out, nil
}

// CleartextEvaluator evaluates the multi-sum and lookup tables directly on
// plaintext residues modulo the carry-extended block space (2 * m * m for
// message modulus m, matching the headroom a shortint block has before it
// must be bootstrapped).
type CleartextEvaluator struct {
	MessageModulus uint64
}

// NewCleartextEvaluator returns a cleartext evaluator for the given message
// modulus.
func NewCleartextEvaluator(messageModulus uint64) *CleartextEvaluator {
	return &CleartextEvaluator{MessageModulus: messageModulus}
}

// NewCleartextEvaluatorFromKey rebuilds the evaluator from broadcast key
// material produced by CleartextKey.
func NewCleartextEvaluatorFromKey(key []byte) (*CleartextEvaluator, error) {
	if len(key) != 8 {
		return nil, fmt.Errorf("cleartext key material: expected 8 bytes, got %d", len(key))
	}
	m := binary.BigEndian.Uint64(key)
	if m < 2 {
		return nil, fmt.Errorf("cleartext key material: message modulus %d too small", m)
	}
	return NewCleartextEvaluator(m), nil
}

// CleartextKey is the degenerate key bundle of the cleartext scheme: just
// the message modulus. It exists so the broadcast-once protocol runs
// identically under both schemes.
type CleartextKey struct {
	MessageModulus uint64
}

func (k CleartextKey) MarshalBinary() ([]byte, error) {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, k.MessageModulus)
	return out, nil
}

func (e *CleartextEvaluator) blockSpace() uint64 {
	return 2 * e.MessageModulus * e.MessageModulus
}

func (e *CleartextEvaluator) clear(ct models.Ciphertext) (*ClearCiphertext, error) {
	c, ok := ct.(*ClearCiphertext)
	if !ok {
		return nil, fmt.Errorf("ciphertext is %T, not a cleartext value", ct)
	}
	return c, nil
}

// Combine accumulates the weighted residues, starting from the first
// element like the homomorphic version does.
func (e *CleartextEvaluator) Combine(inputs []models.WeightedCiphertext) (models.Ciphertext, error) {
	if len(inputs) == 0 {
		panic("fhe: combine called with no inputs")
	}

	first, err := e.clear(inputs[0].Ct)
	if err != nil {
		return nil, err
	}
	acc := first.Value * inputs[0].Weight
	for _, in := range inputs[1:] {
		c, err := e.clear(in.Ct)
		if err != nil {
			return nil, err
		}
		acc += c.Value * in.Weight
	}
	return &ClearCiphertext{Value: acc % e.blockSpace()}, nil
}

// Bootstrap applies the selected table to the residue.
func (e *CleartextEvaluator) Bootstrap(ct models.Ciphertext, lut models.Lut) (models.Ciphertext, error) {
	if !lut.Valid() {
		return nil, fmt.Errorf("unknown lookup table selector %s", lut)
	}
	c, err := e.clear(ct)
	if err != nil {
		return nil, err
	}
	f := tableFunc(lut, e.MessageModulus)
	return &ClearCiphertext{Value: f(c.Value)}, nil
}

// DecodeCiphertext rebuilds a residue from its 8-byte encoding.
func (e *CleartextEvaluator) DecodeCiphertext(data []byte) (models.Ciphertext, error) {
	if len(data) != 8 {
		return nil, fmt.Errorf("cleartext ciphertext: expected 8 bytes, got %d", len(data))
	}
	return &ClearCiphertext{Value: binary.BigEndian.Uint64(data)}, nil
}
