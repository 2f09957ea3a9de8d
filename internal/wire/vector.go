package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Vector payloads are raw big-endian float64 words, no framing of their
// own. The frame header's PayloadLen determines the element count.

func EncodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.BigEndian.PutUint64(buf[8*i:], math.Float64bits(f))
	}
	return buf
}

func DecodeVector(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("wire: vector payload length %d not a multiple of 8", len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.BigEndian.Uint64(b[8*i:]))
	}
	return v, nil
}

// DecodeVectorInto decodes into an existing slice and rejects length
// mismatches, which on a data frame mean the two ends of a boundary pair
// disagree on shape.
func DecodeVectorInto(dst []float64, b []byte) error {
	if len(b) != 8*len(dst) {
		return fmt.Errorf("wire: vector payload is %d elements, buffer holds %d", len(b)/8, len(dst))
	}
	for i := range dst {
		dst[i] = math.Float64frombits(binary.BigEndian.Uint64(b[8*i:]))
	}
	return nil
}
