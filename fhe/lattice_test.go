package fhe

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tuditi/pbsgraph/models"
)

func demoKeyPair(t *testing.T) *LatticeKeyPair {
	t.Helper()
	paramsLWE, paramsBR, err := DemoParameters()
	require.NoError(t, err)
	kp, err := GenLatticeKeyPair(paramsLWE, paramsBR, 4)
	require.NoError(t, err)
	return kp
}

// rebuiltEvaluator round-trips the bundle through its broadcast encoding
// before wiring the evaluator, the same path a worker takes.
func rebuiltEvaluator(t *testing.T, kp *LatticeKeyPair) *LatticeEvaluator {
	t.Helper()
	blob, err := kp.Key.MarshalBinary()
	require.NoError(t, err)
	key, err := UnmarshalLatticeKey(blob)
	require.NoError(t, err)
	require.Equal(t, kp.Key.MessageModulus, key.MessageModulus)
	return NewLatticeEvaluator(key)
}

func TestLatticeBootstrapExtractsMessage(t *testing.T) {
	kp := demoKeyPair(t)
	eval := rebuiltEvaluator(t, kp)

	for v := uint64(0); v < 8; v++ {
		ct, err := kp.Encrypt(v)
		require.NoError(t, err)
		boot, err := eval.Bootstrap(ct, models.LutExtractMessage)
		require.NoError(t, err)
		got, err := kp.Decrypt(boot)
		require.NoError(t, err)
		require.Equal(t, v%4, got, "input %d", v)
	}
}

func TestLatticeCombineThenBootstrap(t *testing.T) {
	kp := demoKeyPair(t)
	eval := rebuiltEvaluator(t, kp)

	a, err := kp.Encrypt(3)
	require.NoError(t, err)
	b, err := kp.Encrypt(2)
	require.NoError(t, err)

	// 2*3 + 1*2 = 8: carry 2, message 0.
	combined, err := eval.Combine([]models.WeightedCiphertext{
		{Weight: 2, Ct: a},
		{Weight: 1, Ct: b},
	})
	require.NoError(t, err)

	sum, err := kp.Decrypt(combined)
	require.NoError(t, err)
	require.Equal(t, uint64(8), sum)

	msg, err := eval.Bootstrap(combined, models.LutExtractMessage)
	require.NoError(t, err)
	got, err := kp.Decrypt(msg)
	require.NoError(t, err)
	require.Equal(t, uint64(0), got)

	carry, err := eval.Bootstrap(combined, models.LutExtractCarry)
	require.NoError(t, err)
	got, err = kp.Decrypt(carry)
	require.NoError(t, err)
	require.Equal(t, uint64(2), got)
}

func TestLatticeBootstrapFeedsCombine(t *testing.T) {
	kp := demoKeyPair(t)
	eval := rebuiltEvaluator(t, kp)

	ct, err := kp.Encrypt(7)
	require.NoError(t, err)
	boot, err := eval.Bootstrap(ct, models.LutExtractMessage)
	require.NoError(t, err)

	// A refreshed ciphertext must combine like a fresh one.
	combined, err := eval.Combine([]models.WeightedCiphertext{
		{Weight: 1, Ct: boot},
		{Weight: 1, Ct: boot},
	})
	require.NoError(t, err)
	got, err := kp.Decrypt(combined)
	require.NoError(t, err)
	require.Equal(t, uint64(6), got)
}

func TestLatticeKeyRejectsTruncation(t *testing.T) {
	kp := demoKeyPair(t)
	blob, err := kp.Key.MarshalBinary()
	require.NoError(t, err)

	_, err = UnmarshalLatticeKey(blob[:len(blob)/2])
	require.Error(t, err)
}
