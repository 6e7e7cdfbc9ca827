package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeEmbedding packs a float32 vector into the little-endian BLOB format
// stored in vector_index.embedding and chunks fed to vec_cosine_distance.
func EncodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeEmbedding unpacks a BLOB produced by EncodeEmbedding back into a
// float32 vector.
func DecodeEmbedding(b []byte) ([]float32, error) {
	return decodeFloat32s(b)
}

func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("store: embedding blob length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}
