package fhe

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tuneinsight/lattigo/v5/core/rgsw"
	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/hebin"

	"github.com/Tuditi/pbsgraph/models"
)

// LatticeKey is the shared evaluation bundle broadcast once to every
// worker: both parameter sets, the message modulus, the blind-rotation
// keys, and the key that switches blind-rotation outputs back to the
// LWE-side secret. It is immutable after generation, so workers share it
// without further synchronization.
type LatticeKey struct {
	ParamsLWE      rlwe.Parameters
	ParamsBR       rlwe.Parameters
	MessageModulus uint64
	BRK            hebin.BlindRotationEvaluationKeySet
	KSK            *rlwe.EvaluationKey
}

// LatticeKeyPair couples the broadcastable bundle with the secret key kept
// by the party that owns the data. Only the demo binary holds both sides.
type LatticeKeyPair struct {
	SK  *rlwe.SecretKey
	Key *LatticeKey
}

// DemoParameters returns the small single-modulus parameter sets the demo
// binary runs with. They are sized for fast local runs, not for security.
func DemoParameters() (paramsLWE, paramsBR rlwe.Parameters, err error) {
	paramsLWE, err = rlwe.NewParametersFromLiteral(rlwe.ParametersLiteral{
		LogN:    9,
		Q:       []uint64{0x7fff801},
		NTTFlag: true,
	})
	if err != nil {
		return
	}
	paramsBR, err = rlwe.NewParametersFromLiteral(rlwe.ParametersLiteral{
		LogN:    10,
		Q:       []uint64{0x7fff801},
		NTTFlag: true,
	})
	return
}

// GenLatticeKeyPair generates a fresh secret key and its evaluation bundle.
func GenLatticeKeyPair(paramsLWE, paramsBR rlwe.Parameters, messageModulus uint64) (*LatticeKeyPair, error) {
	if messageModulus < 2 {
		return nil, fmt.Errorf("message modulus %d too small", messageModulus)
	}

	skLWE := rlwe.NewKeyGenerator(paramsLWE).GenSecretKeyNew()
	kgenBR := rlwe.NewKeyGenerator(paramsBR)
	skBR := kgenBR.GenSecretKeyNew()

	brk := hebin.GenEvaluationKeyNew(paramsBR, skBR, paramsLWE, skLWE, rlwe.EvaluationKeyParameters{})

	// Blind rotation leaves the ciphertext in the larger ring under skBR;
	// this key switches it back to the LWE ring under skLWE so outputs
	// decrypt and combine like fresh encryptions.
	ksk := kgenBR.GenEvaluationKeyNew(skBR, skLWE, rlwe.EvaluationKeyParameters{})

	return &LatticeKeyPair{
		SK: skLWE,
		Key: &LatticeKey{
			ParamsLWE:      paramsLWE,
			ParamsBR:       paramsBR,
			MessageModulus: messageModulus,
			BRK:            brk,
			KSK:            ksk,
		},
	}, nil
}

// delta spreads the block space [0, 2m^2) over the first half of the
// torus, keeping the negacyclic second half free.
func (kp *LatticeKeyPair) delta() uint64 {
	m := kp.Key.MessageModulus
	return kp.Key.ParamsLWE.Q()[0] / (4 * m * m)
}

// Encrypt encodes v into the lowest coefficient and encrypts it under the
// LWE-side secret key.
func (kp *LatticeKeyPair) Encrypt(v uint64) (models.Ciphertext, error) {
	params := kp.Key.ParamsLWE
	pt := rlwe.NewPlaintext(params, params.MaxLevel())
	pt.Value.Coeffs[0][0] = v * kp.delta()
	if pt.IsNTT {
		params.RingQ().NTT(pt.Value, pt.Value)
	}

	ct, err := rlwe.NewEncryptor(params, kp.SK).EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("encrypting input: %w", err)
	}
	return &LatticeCiphertext{ct}, nil
}

// Decrypt recovers the encoded value from a computed node's ciphertext.
func (kp *LatticeKeyPair) Decrypt(ct models.Ciphertext) (uint64, error) {
	c, ok := ct.(*LatticeCiphertext)
	if !ok {
		return 0, fmt.Errorf("ciphertext is %T, not a lattice ciphertext", ct)
	}

	params := kp.Key.ParamsLWE
	pt := rlwe.NewDecryptor(params, kp.SK).DecryptNew(c.Ciphertext)
	if pt.IsNTT {
		params.RingQ().INTT(pt.Value, pt.Value)
	}

	delta := kp.delta()
	m := kp.Key.MessageModulus
	return ((pt.Value.Coeffs[0][0] + delta/2) / delta) % (2 * m * m), nil
}

// Serialization layout: message modulus, the two length-prefixed parameter
// encodings, the ring-switching key, the per-index blind-rotation keys,
// then the optional automorphism key set. Workers rebuild an equivalent
// bundle from the same bytes, which is the whole wire contract of the
// one-shot broadcast.

func writeChunk(buf *bytes.Buffer, data []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(data)))
	buf.Write(n[:])
	buf.Write(data)
}

func readChunk(buf *bytes.Reader) ([]byte, error) {
	var n [8]byte
	if _, err := io.ReadFull(buf, n[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint64(n[:])
	if size > uint64(buf.Len()) {
		return nil, fmt.Errorf("chunk of %d bytes exceeds remaining %d", size, buf.Len())
	}
	out := make([]byte, size)
	if _, err := io.ReadFull(buf, out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarshalBinary serializes the bundle for the broadcast.
func (k *LatticeKey) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)

	var m [8]byte
	binary.BigEndian.PutUint64(m[:], k.MessageModulus)
	buf.Write(m[:])

	pLWE, err := k.ParamsLWE.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshaling LWE parameters: %w", err)
	}
	writeChunk(buf, pLWE)

	pBR, err := k.ParamsBR.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshaling blind-rotation parameters: %w", err)
	}
	writeChunk(buf, pBR)

	ksk, err := k.KSK.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshaling ring-switching key: %w", err)
	}
	writeChunk(buf, ksk)

	n := k.ParamsLWE.N()
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(n))
	buf.Write(count[:])
	for i := 0; i < n; i++ {
		brk, err := k.BRK.GetBlindRotationKey(i)
		if err != nil {
			return nil, fmt.Errorf("blind-rotation key %d: %w", i, err)
		}
		data, err := brk.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshaling blind-rotation key %d: %w", i, err)
		}
		writeChunk(buf, data)
	}

	evk, err := k.BRK.GetEvaluationKeySet()
	if err != nil || evk == nil {
		buf.WriteByte(0)
		return buf.Bytes(), nil
	}
	marshaler, ok := evk.(encoding.BinaryMarshaler)
	if !ok {
		buf.WriteByte(0)
		return buf.Bytes(), nil
	}
	buf.WriteByte(1)
	data, err := marshaler.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshaling automorphism keys: %w", err)
	}
	writeChunk(buf, data)
	return buf.Bytes(), nil
}

// memBRKs is the worker-side reconstruction of the blind-rotation key set.
type memBRKs struct {
	keys []*rgsw.Ciphertext
	evk  *rlwe.MemEvaluationKeySet
}

var _ hebin.BlindRotationEvaluationKeySet = (*memBRKs)(nil)

func (m *memBRKs) GetBlindRotationKey(i int) (*rgsw.Ciphertext, error) {
	if i < 0 || i >= len(m.keys) {
		return nil, fmt.Errorf("no blind-rotation key for index %d", i)
	}
	return m.keys[i], nil
}

func (m *memBRKs) GetEvaluationKeySet() (rlwe.EvaluationKeySet, error) {
	if m.evk == nil {
		return nil, nil
	}
	return m.evk, nil
}

// UnmarshalLatticeKey rebuilds a broadcast bundle.
func UnmarshalLatticeKey(data []byte) (*LatticeKey, error) {
	buf := bytes.NewReader(data)

	var m [8]byte
	if _, err := io.ReadFull(buf, m[:]); err != nil {
		return nil, fmt.Errorf("reading message modulus: %w", err)
	}
	key := &LatticeKey{MessageModulus: binary.BigEndian.Uint64(m[:])}

	pLWE, err := readChunk(buf)
	if err != nil {
		return nil, fmt.Errorf("reading LWE parameters: %w", err)
	}
	if err := key.ParamsLWE.UnmarshalBinary(pLWE); err != nil {
		return nil, fmt.Errorf("decoding LWE parameters: %w", err)
	}

	pBR, err := readChunk(buf)
	if err != nil {
		return nil, fmt.Errorf("reading blind-rotation parameters: %w", err)
	}
	if err := key.ParamsBR.UnmarshalBinary(pBR); err != nil {
		return nil, fmt.Errorf("decoding blind-rotation parameters: %w", err)
	}

	ksk, err := readChunk(buf)
	if err != nil {
		return nil, fmt.Errorf("reading ring-switching key: %w", err)
	}
	key.KSK = new(rlwe.EvaluationKey)
	if err := key.KSK.UnmarshalBinary(ksk); err != nil {
		return nil, fmt.Errorf("decoding ring-switching key: %w", err)
	}

	var count [8]byte
	if _, err := io.ReadFull(buf, count[:]); err != nil {
		return nil, fmt.Errorf("reading key count: %w", err)
	}
	n := binary.BigEndian.Uint64(count[:])

	brks := &memBRKs{keys: make([]*rgsw.Ciphertext, n)}
	for i := uint64(0); i < n; i++ {
		chunk, err := readChunk(buf)
		if err != nil {
			return nil, fmt.Errorf("reading blind-rotation key %d: %w", i, err)
		}
		brks.keys[i] = new(rgsw.Ciphertext)
		if err := brks.keys[i].UnmarshalBinary(chunk); err != nil {
			return nil, fmt.Errorf("decoding blind-rotation key %d: %w", i, err)
		}
	}

	hasEvk, err := buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading automorphism key flag: %w", err)
	}
	if hasEvk == 1 {
		chunk, err := readChunk(buf)
		if err != nil {
			return nil, fmt.Errorf("reading automorphism keys: %w", err)
		}
		brks.evk = new(rlwe.MemEvaluationKeySet)
		if err := brks.evk.UnmarshalBinary(chunk); err != nil {
			return nil, fmt.Errorf("decoding automorphism keys: %w", err)
		}
	}

	key.BRK = brks
	return key, nil
}
