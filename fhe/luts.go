package fhe

import (
	"fmt"

	"github.com/Tuditi/pbsgraph/models"
)

// Carry flags produced by the generate/propagate tables, shared with the
// prefix-sum table that resolves them block by block.
const (
	carryNone       uint64 = 0
	carryGenerated  uint64 = 1
	carryPropagated uint64 = 2
)

// tableFunc returns the cleartext function behind a lookup-table selector,
// for blocks with the given message modulus. Bivariate tables receive their
// two arguments packed as hi*m + lo, the same packing the circuit builder
// uses on edge weights.
func tableFunc(lut models.Lut, m uint64) func(uint64) uint64 {
	switch lut {
	case models.LutExtractMessage:
		return func(x uint64) uint64 { return x % m }
	case models.LutExtractCarry:
		return func(x uint64) uint64 { return x / m }
	case models.LutBivarMulLow:
		return func(x uint64) uint64 { return ((x / m) * (x % m)) % m }
	case models.LutBivarMulHigh:
		return func(x uint64) uint64 { return ((x / m) * (x % m)) / m }
	case models.LutPrefixSumCarryPropagation:
		return func(x uint64) uint64 {
			cur, prev := x/m, x%m
			if cur == carryPropagated {
				return prev
			}
			return cur
		}
	case models.LutDoesBlockGenerateCarry:
		return func(x uint64) uint64 {
			if x >= m {
				return carryGenerated
			}
			return carryNone
		}
	case models.LutDoesBlockGenerateOrPropagate:
		return func(x uint64) uint64 {
			if x >= m {
				return carryGenerated
			}
			if x == m-1 {
				return carryPropagated
			}
			return carryNone
		}
	default:
		panic(fmt.Sprintf("fhe: no table for selector %s", lut))
	}
}
