package fhe

import (
	"fmt"
	"math"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/hebin"
	"github.com/tuneinsight/lattigo/v5/ring"

	"github.com/Tuditi/pbsgraph/models"
)

// LatticeCiphertext wraps an RLWE ciphertext so it satisfies the opaque
// models.Ciphertext contract.
type LatticeCiphertext struct {
	*rlwe.Ciphertext
}

// LatticeEvaluator implements the Evaluator capability over Lattigo's
// blind-rotation evaluator: Combine is a scalar multiply-accumulate on the
// ciphertext polynomials, Bootstrap is a programmable bootstrap through one
// of the precomputed test polynomials.
type LatticeEvaluator struct {
	paramsLWE rlwe.Parameters
	paramsBR  rlwe.Parameters
	msgMod    uint64
	eval      *hebin.Evaluator
	brk       hebin.BlindRotationEvaluationKeySet
	ksk       *rlwe.EvaluationKey
	kswitch   *rlwe.Evaluator
	tables    map[models.Lut]ring.Poly
}

// NewLatticeEvaluator wires an evaluator from decoded key material,
// building the full table set once. Every process, master and worker,
// derives the same tables from the same broadcast bundle.
func NewLatticeEvaluator(key *LatticeKey) *LatticeEvaluator {
	e := &LatticeEvaluator{
		paramsLWE: key.ParamsLWE,
		paramsBR:  key.ParamsBR,
		msgMod:    key.MessageModulus,
		eval:      hebin.NewEvaluator(key.ParamsBR, key.ParamsLWE),
		brk:       key.BRK,
		ksk:       key.KSK,
		kswitch:   rlwe.NewEvaluator(key.ParamsBR, nil),
		tables:    make(map[models.Lut]ring.Poly, len(models.Luts())),
	}

	// Inputs occupy the carry-extended block space [0, 2m^2), encoded over
	// the first half of the torus; the test polynomial sees the phase
	// normalized to [-1, 1), valid blocks landing in [0, 1).
	space := int64(2 * e.msgMod * e.msgMod)
	scale := rlwe.NewScale(float64(e.paramsBR.Q()[0]) / float64(2*space))
	for _, lut := range models.Luts() {
		f := tableFunc(lut, e.msgMod)
		e.tables[lut] = hebin.InitTestPolynomial(func(x float64) float64 {
			v := int64(math.Round(x * float64(space)))
			v = ((v % space) + space) % space
			return float64(f(uint64(v)))
		}, scale, e.paramsBR.RingQ(), -1, 1)
	}
	return e
}

func (e *LatticeEvaluator) lattice(ct models.Ciphertext) (*LatticeCiphertext, error) {
	c, ok := ct.(*LatticeCiphertext)
	if !ok {
		return nil, fmt.Errorf("ciphertext is %T, not a lattice ciphertext", ct)
	}
	return c, nil
}

// Combine computes the weighted multi-sum by scaling the first ciphertext
// and folding the rest in with multiply-accumulate on each polynomial.
func (e *LatticeEvaluator) Combine(inputs []models.WeightedCiphertext) (models.Ciphertext, error) {
	if len(inputs) == 0 {
		panic("fhe: combine called with no inputs")
	}

	first, err := e.lattice(inputs[0].Ct)
	if err != nil {
		return nil, err
	}

	acc := first.CopyNew()
	ringQ := e.paramsLWE.RingQ().AtLevel(acc.Level())
	for i := range acc.Value {
		ringQ.MulScalar(acc.Value[i], inputs[0].Weight, acc.Value[i])
	}
	for _, in := range inputs[1:] {
		ct, err := e.lattice(in.Ct)
		if err != nil {
			return nil, err
		}
		for i := range acc.Value {
			ringQ.MulScalarThenAdd(ct.Value[i], in.Weight, acc.Value[i])
		}
	}
	return &LatticeCiphertext{acc}, nil
}

// Bootstrap evaluates the selected test polynomial on ct via blind
// rotation, refreshing its noise in the process.
func (e *LatticeEvaluator) Bootstrap(ct models.Ciphertext, lut models.Lut) (models.Ciphertext, error) {
	table, ok := e.tables[lut]
	if !ok {
		return nil, fmt.Errorf("unknown lookup table selector %s", lut)
	}
	c, err := e.lattice(ct)
	if err != nil {
		return nil, err
	}

	res, err := e.eval.Evaluate(c.Ciphertext, map[int]*ring.Poly{0: &table}, e.brk)
	if err != nil {
		return nil, fmt.Errorf("blind rotation: %w", err)
	}
	rotated, ok := res[0]
	if !ok {
		return nil, fmt.Errorf("blind rotation returned no slot 0 output")
	}

	// The rotated ciphertext lives in the larger ring under the
	// blind-rotation secret; switch it back so it feeds multi-sums and
	// decryption like any fresh ciphertext.
	out := rlwe.NewCiphertext(e.paramsLWE, 1, rotated.Level())
	if err := e.kswitch.ApplyEvaluationKey(rotated, e.ksk, out); err != nil {
		return nil, fmt.Errorf("switching to the base ring: %w", err)
	}
	return &LatticeCiphertext{out}, nil
}

// DecodeCiphertext rebuilds an RLWE ciphertext from its serialized form.
func (e *LatticeEvaluator) DecodeCiphertext(data []byte) (models.Ciphertext, error) {
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decoding rlwe ciphertext: %w", err)
	}
	return &LatticeCiphertext{ct}, nil
}
