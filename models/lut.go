package models

import "fmt"

// Lut selects one of the precomputed lookup tables applied during a
// programmable bootstrap. The set is fixed at startup; tasks reference
// tables by selector so only this small enum travels on the wire.
type Lut uint8

const (
	LutExtractMessage Lut = iota
	LutExtractCarry
	LutBivarMulLow
	LutBivarMulHigh
	LutPrefixSumCarryPropagation
	LutDoesBlockGenerateCarry
	LutDoesBlockGenerateOrPropagate

	lutCount
)

var lutNames = [...]string{
	"extract-message",
	"extract-carry",
	"bivar-mul-low",
	"bivar-mul-high",
	"prefix-sum-carry-propagation",
	"does-block-generate-carry",
	"does-block-generate-or-propagate",
}

// Valid reports whether the selector names a known table.
func (l Lut) Valid() bool {
	return l < lutCount
}

func (l Lut) String() string {
	if !l.Valid() {
		return fmt.Sprintf("lut(%d)", uint8(l))
	}
	return lutNames[l]
}

// Luts returns every defined selector, in order.
func Luts() []Lut {
	all := make([]Lut, lutCount)
	for i := range all {
		all[i] = Lut(i)
	}
	return all
}
