package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/Tuditi/pbsgraph/models"
)

// Message kinds on the master-to-worker stream. Results flow the other way
// and need no kind byte.
const (
	kindTask     uint8 = 1
	kindShutdown uint8 = 2
)

// Sanity cap on the broadcast blob: blind-rotation key sets are large but
// bounded; anything past this is a corrupt length prefix.
const maxKeyBlobSize = 1 << 32

// wireTask is the msgpack form of a task envelope. Exactly one of Inputs
// (with Weights, same length and order) or Combined is populated.
type wireTask struct {
	Kind     uint8    `msgpack:"k"`
	Index    int      `msgpack:"i"`
	Lut      uint8    `msgpack:"l"`
	Weights  []uint64 `msgpack:"w"`
	Inputs   [][]byte `msgpack:"in"`
	Combined []byte   `msgpack:"ct"`
}

// wireResult is the msgpack form of a committed node result.
type wireResult struct {
	Index int    `msgpack:"i"`
	Ct    []byte `msgpack:"ct"`
}

func encodeTask(env models.TaskEnvelope) (wireTask, error) {
	switch {
	case env.Combined != nil:
		data, err := env.Combined.Ct.MarshalBinary()
		if err != nil {
			return wireTask{}, fmt.Errorf("marshaling combined ciphertext of node %d: %w", env.Combined.Index, err)
		}
		return wireTask{
			Kind:     kindTask,
			Index:    env.Combined.Index,
			Lut:      uint8(env.Combined.Lut),
			Combined: data,
		}, nil
	case env.MultiSum != nil:
		wt := wireTask{
			Kind:    kindTask,
			Index:   env.MultiSum.Index,
			Lut:     uint8(env.MultiSum.Lut),
			Weights: make([]uint64, 0, len(env.MultiSum.Inputs)),
			Inputs:  make([][]byte, 0, len(env.MultiSum.Inputs)),
		}
		for i, in := range env.MultiSum.Inputs {
			data, err := in.Ct.MarshalBinary()
			if err != nil {
				return wireTask{}, fmt.Errorf("marshaling input %d of node %d: %w", i, env.MultiSum.Index, err)
			}
			wt.Weights = append(wt.Weights, in.Weight)
			wt.Inputs = append(wt.Inputs, data)
		}
		return wt, nil
	default:
		return wireTask{}, fmt.Errorf("empty task envelope")
	}
}

func decodeTask(wt wireTask, decode models.CiphertextDecoder) (models.TaskEnvelope, error) {
	lut := models.Lut(wt.Lut)
	if !lut.Valid() {
		return models.TaskEnvelope{}, fmt.Errorf("task for node %d: unknown lookup table selector %d", wt.Index, wt.Lut)
	}

	if wt.Combined != nil {
		ct, err := decode(wt.Combined)
		if err != nil {
			return models.TaskEnvelope{}, fmt.Errorf("decoding combined ciphertext of node %d: %w", wt.Index, err)
		}
		return models.TaskEnvelope{Combined: &models.CombinedTask{Index: wt.Index, Ct: ct, Lut: lut}}, nil
	}

	if len(wt.Weights) != len(wt.Inputs) {
		return models.TaskEnvelope{}, fmt.Errorf("task for node %d: %d weights for %d inputs", wt.Index, len(wt.Weights), len(wt.Inputs))
	}
	task := &models.MultiSumTask{
		Index:  wt.Index,
		Lut:    lut,
		Inputs: make([]models.WeightedCiphertext, 0, len(wt.Inputs)),
	}
	for i, data := range wt.Inputs {
		ct, err := decode(data)
		if err != nil {
			return models.TaskEnvelope{}, fmt.Errorf("decoding input %d of node %d: %w", i, wt.Index, err)
		}
		task.Inputs = append(task.Inputs, models.WeightedCiphertext{Weight: wt.Weights[i], Ct: ct})
	}
	return models.TaskEnvelope{MultiSum: task}, nil
}

func encodeResult(res models.Result) (wireResult, error) {
	data, err := res.Ct.MarshalBinary()
	if err != nil {
		return wireResult{}, fmt.Errorf("marshaling result of node %d: %w", res.Index, err)
	}
	return wireResult{Index: res.Index, Ct: data}, nil
}

func decodeResult(wr wireResult, decode models.CiphertextDecoder) (models.Result, error) {
	ct, err := decode(wr.Ct)
	if err != nil {
		return models.Result{}, fmt.Errorf("decoding result of node %d: %w", wr.Index, err)
	}
	return models.Result{Index: wr.Index, Ct: ct}, nil
}

// writeKeyBlob frames the key broadcast: length prefix, bytes, then a
// blake3 digest so a torn or reordered stream fails loudly at the worker
// instead of surfacing as garbage key material later.
func writeKeyBlob(w io.Writer, blob []byte) error {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(blob)))
	if _, err := w.Write(n[:]); err != nil {
		return err
	}
	if _, err := w.Write(blob); err != nil {
		return err
	}
	sum := blake3.Sum256(blob)
	_, err := w.Write(sum[:])
	return err
}

func readKeyBlob(r io.Reader) ([]byte, error) {
	var n [8]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, fmt.Errorf("reading key length: %w", err)
	}
	size := binary.BigEndian.Uint64(n[:])
	if size > maxKeyBlobSize {
		return nil, fmt.Errorf("key blob length %d exceeds limit", size)
	}

	blob := make([]byte, size)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, fmt.Errorf("reading key blob: %w", err)
	}

	var sum [32]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return nil, fmt.Errorf("reading key digest: %w", err)
	}
	if got := blake3.Sum256(blob); !bytes.Equal(got[:], sum[:]) {
		return nil, fmt.Errorf("key blob digest mismatch")
	}
	return blob, nil
}
