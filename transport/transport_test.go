package transport

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Tuditi/pbsgraph/dag"
	"github.com/Tuditi/pbsgraph/fhe"
	"github.com/Tuditi/pbsgraph/models"
	"github.com/Tuditi/pbsgraph/scheduler"
)

func clear(v uint64) models.Ciphertext { return &fhe.ClearCiphertext{Value: v} }

func value(t *testing.T, ct models.Ciphertext) uint64 {
	t.Helper()
	c, ok := ct.(*fhe.ClearCiphertext)
	require.True(t, ok, "ciphertext is %T", ct)
	return c.Value
}

func cleartextFactory(key []byte) (Handler, error) {
	eval, err := fhe.NewCleartextEvaluatorFromKey(key)
	if err != nil {
		return nil, err
	}
	return fhe.NewRunner(eval, false), nil
}

func keyBlob(t *testing.T, messageModulus uint64) []byte {
	t.Helper()
	blob, err := fhe.CleartextKey{MessageModulus: messageModulus}.MarshalBinary()
	require.NoError(t, err)
	return blob
}

func blocksOf(v, m uint64, count int) []uint64 {
	out := make([]uint64, count)
	for i := 0; i < count; i++ {
		out[i] = v % m
		v /= m
	}
	return out
}

func TestTaskWireRoundTripMultiSum(t *testing.T) {
	eval := fhe.NewCleartextEvaluator(4)
	env := models.TaskEnvelope{MultiSum: &models.MultiSumTask{
		Index: 12,
		Lut:   models.LutPrefixSumCarryPropagation,
		Inputs: []models.WeightedCiphertext{
			{Weight: 4, Ct: clear(1)},
			{Weight: 1, Ct: clear(2)},
		},
	}}

	wt, err := encodeTask(env)
	require.NoError(t, err)
	require.Equal(t, kindTask, wt.Kind)

	back, err := decodeTask(wt, eval.DecodeCiphertext)
	require.NoError(t, err)
	require.Nil(t, back.Combined)
	require.NotNil(t, back.MultiSum)
	require.Equal(t, 12, back.MultiSum.Index)
	require.Equal(t, models.LutPrefixSumCarryPropagation, back.MultiSum.Lut)
	require.Len(t, back.MultiSum.Inputs, 2)
	require.Equal(t, uint64(4), back.MultiSum.Inputs[0].Weight)
	require.Equal(t, uint64(1), value(t, back.MultiSum.Inputs[0].Ct))
	require.Equal(t, uint64(2), value(t, back.MultiSum.Inputs[1].Ct))
}

func TestTaskWireRoundTripCombined(t *testing.T) {
	eval := fhe.NewCleartextEvaluator(4)
	env := models.TaskEnvelope{Combined: &models.CombinedTask{
		Index: 3,
		Ct:    clear(11),
		Lut:   models.LutExtractMessage,
	}}

	wt, err := encodeTask(env)
	require.NoError(t, err)

	back, err := decodeTask(wt, eval.DecodeCiphertext)
	require.NoError(t, err)
	require.Nil(t, back.MultiSum)
	require.NotNil(t, back.Combined)
	require.Equal(t, 3, back.Combined.Index)
	require.Equal(t, uint64(11), value(t, back.Combined.Ct))
}

func TestTaskWireRejectsEmptyEnvelope(t *testing.T) {
	_, err := encodeTask(models.TaskEnvelope{})
	require.Error(t, err)
}

func TestDecodeTaskRejectsBadSelector(t *testing.T) {
	eval := fhe.NewCleartextEvaluator(4)
	_, err := decodeTask(wireTask{Kind: kindTask, Index: 1, Lut: 99}, eval.DecodeCiphertext)
	require.ErrorContains(t, err, "unknown lookup table selector")
}

func TestDecodeTaskRejectsWeightMismatch(t *testing.T) {
	eval := fhe.NewCleartextEvaluator(4)
	wt := wireTask{
		Kind:    kindTask,
		Index:   1,
		Lut:     uint8(models.LutExtractMessage),
		Weights: []uint64{1, 2},
		Inputs:  [][]byte{{0, 0, 0, 0, 0, 0, 0, 5}},
	}
	_, err := decodeTask(wt, eval.DecodeCiphertext)
	require.ErrorContains(t, err, "2 weights for 1 inputs")
}

func TestResultWireRoundTrip(t *testing.T) {
	eval := fhe.NewCleartextEvaluator(4)
	wr, err := encodeResult(models.Result{Index: 7, Ct: clear(3)})
	require.NoError(t, err)

	back, err := decodeResult(wr, eval.DecodeCiphertext)
	require.NoError(t, err)
	require.Equal(t, 7, back.Index)
	require.Equal(t, uint64(3), value(t, back.Ct))
}

func TestKeyBlobRoundTrip(t *testing.T) {
	blob := []byte("not a real key bundle, but framed like one")
	var buf bytes.Buffer
	require.NoError(t, writeKeyBlob(&buf, blob))

	got, err := readKeyBlob(&buf)
	require.NoError(t, err)
	require.Equal(t, blob, got)
}

func TestKeyBlobDigestMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeKeyBlob(&buf, []byte("key material")))

	raw := buf.Bytes()
	raw[9] ^= 0xff // flip a byte inside the blob, past the length prefix

	_, err := readKeyBlob(bytes.NewReader(raw))
	require.ErrorContains(t, err, "digest mismatch")
}

func TestKeyBlobTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeKeyBlob(&buf, []byte("key material")))

	raw := buf.Bytes()
	_, err := readKeyBlob(bytes.NewReader(raw[:len(raw)-5]))
	require.Error(t, err)
}

func TestChannelPoolRunsIndependentNodes(t *testing.T) {
	values := []uint64{5, 6, 7, 9, 13}

	b := dag.NewBuilder()
	outputs := make([]int, len(values))
	for i, v := range values {
		in := b.Input(clear(v))
		outputs[i] = b.Op(models.LutExtractMessage, dag.Weighted(in, 1))
	}
	g := b.Build()

	pool := NewChannelPool(2, cleartextFactory, zap.NewNop())
	require.NoError(t, pool.BroadcastKey(keyBlob(t, 4)))

	prepare := fhe.NewRunner(fhe.NewCleartextEvaluator(4), false)
	engine := scheduler.New[models.MultiSumTask, models.TaskEnvelope, models.Result](pool, prepare.Prepare, zap.NewNop())

	_, err := engine.Run(context.Background(), "independent", g)
	require.NoError(t, err)
	require.True(t, g.IsFinished())

	status := engine.Status()
	require.Equal(t, len(values), status.Dispatched)
	require.Equal(t, len(values), status.Committed)
	require.Equal(t, 0, status.InFlight)

	for i, v := range values {
		ct, err := g.Ciphertext(outputs[i])
		require.NoError(t, err)
		require.Equal(t, v%4, value(t, ct))
	}
}

func TestChannelPoolCarryAdd(t *testing.T) {
	const m, blocks = uint64(4), 4
	lhsVal, rhsVal := uint64(173), uint64(90)

	toCts := func(v uint64) []models.Ciphertext {
		cts := make([]models.Ciphertext, blocks)
		for i, b := range blocksOf(v, m, blocks) {
			cts[i] = clear(b)
		}
		return cts
	}

	g, outputs, err := dag.CarryAddGraph(toCts(lhsVal), toCts(rhsVal), clear(0), m)
	require.NoError(t, err)

	pool := NewChannelPool(3, cleartextFactory, zap.NewNop())
	require.NoError(t, pool.BroadcastKey(keyBlob(t, m)))

	prepare := fhe.NewRunner(fhe.NewCleartextEvaluator(m), true)
	engine := scheduler.New[models.MultiSumTask, models.TaskEnvelope, models.Result](pool, prepare.Prepare, zap.NewNop())

	_, err = engine.Run(context.Background(), "carry-add", g)
	require.NoError(t, err)

	want := blocksOf(lhsVal+rhsVal, m, blocks)
	for i, idx := range outputs {
		ct, err := g.Ciphertext(idx)
		require.NoError(t, err)
		require.Equal(t, want[i], value(t, ct), "output block %d", i)
	}
}

func TestChannelPoolShutdownBeforeBroadcast(t *testing.T) {
	pool := NewChannelPool(2, cleartextFactory, zap.NewNop())
	require.NoError(t, pool.Shutdown())
	require.NoError(t, pool.Shutdown())
}

type failingHandler struct{}

func (failingHandler) Execute(env models.TaskEnvelope) (models.Result, error) {
	return models.Result{}, fmt.Errorf("boom")
}

func (failingHandler) DecodeCiphertext(data []byte) (models.Ciphertext, error) {
	return nil, fmt.Errorf("boom")
}

func TestChannelPoolWorkerErrorSurfacesOnShutdown(t *testing.T) {
	pool := NewChannelPool(1, func([]byte) (Handler, error) {
		return failingHandler{}, nil
	}, zap.NewNop())
	require.NoError(t, pool.BroadcastKey([]byte("k")))

	env := models.TaskEnvelope{Combined: &models.CombinedTask{Index: 0, Ct: clear(1), Lut: models.LutExtractMessage}}
	require.NoError(t, pool.Send(0, env))

	err := pool.Shutdown()
	require.ErrorContains(t, err, "boom")
}

func TestTCPPoolEndToEnd(t *testing.T) {
	const addr = "127.0.0.1:29471"
	const m, blocks, workers = uint64(4), 4, 2
	lhsVal, rhsVal := uint64(173), uint64(90)

	workerErrs := make(chan error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			for attempt := 0; attempt < 200; attempt++ {
				err = RunWorker(addr, cleartextFactory, zap.NewNop())
				if err == nil || !strings.Contains(err.Error(), "connecting to master") {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			if err != nil {
				workerErrs <- err
			}
		}()
	}

	eval := fhe.NewCleartextEvaluator(m)
	pool, err := ListenForWorkers(addr, workers, eval.DecodeCiphertext, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, workers, pool.Size())
	require.NoError(t, pool.BroadcastKey(keyBlob(t, m)))

	toCts := func(v uint64) []models.Ciphertext {
		cts := make([]models.Ciphertext, blocks)
		for i, b := range blocksOf(v, m, blocks) {
			cts[i] = clear(b)
		}
		return cts
	}
	g, outputs, err := dag.CarryAddGraph(toCts(lhsVal), toCts(rhsVal), clear(0), m)
	require.NoError(t, err)

	prepare := fhe.NewRunner(eval, false)
	engine := scheduler.New[models.MultiSumTask, models.TaskEnvelope, models.Result](pool, prepare.Prepare, zap.NewNop())

	_, err = engine.Run(context.Background(), "tcp-carry-add", g)
	require.NoError(t, err)

	wg.Wait()
	close(workerErrs)
	for err := range workerErrs {
		t.Fatalf("worker failed: %v", err)
	}

	want := blocksOf(lhsVal+rhsVal, m, blocks)
	for i, idx := range outputs {
		ct, err := g.Ciphertext(idx)
		require.NoError(t, err)
		require.Equal(t, want[i], value(t, ct), "output block %d", i)
	}
}
