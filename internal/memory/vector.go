package memory

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Embeddings are persisted as little-endian blobs:
// a 4-byte dimension header followed by dim float32 values.
const vectorHeaderLen = 4

// EncodeVector serializes an embedding for blob storage.
func EncodeVector(vector []float32) ([]byte, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("encode vector: empty vector")
	}

	blob := make([]byte, vectorHeaderLen+4*len(vector))
	binary.LittleEndian.PutUint32(blob, uint32(len(vector)))
	for i, v := range vector {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("encode vector: non-finite value at index %d", i)
		}
		binary.LittleEndian.PutUint32(blob[vectorHeaderLen+4*i:], math.Float32bits(v))
	}
	return blob, nil
}

// DecodeVector parses a blob produced by EncodeVector.
func DecodeVector(blob []byte) ([]float32, error) {
	if len(blob) < vectorHeaderLen {
		return nil, fmt.Errorf("decode vector: blob too short: %d bytes", len(blob))
	}
	dim := int(binary.LittleEndian.Uint32(blob))
	if dim <= 0 || len(blob) != vectorHeaderLen+4*dim {
		return nil, fmt.Errorf("decode vector: dimension %d does not match %d payload bytes", dim, len(blob)-vectorHeaderLen)
	}

	vector := make([]float32, dim)
	for i := range vector {
		v := math.Float32frombits(binary.LittleEndian.Uint32(blob[vectorHeaderLen+4*i:]))
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("decode vector: non-finite value at index %d", i)
		}
		vector[i] = v
	}
	return vector, nil
}

// CosineSimilarity returns the cosine of the angle between a and b,
// clamped to [-1, 1]. Mismatched dimensions or a zero-magnitude vector
// score 0 rather than erroring, so callers can treat the result as a
// plain similarity.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if score > 1 {
		return 1
	}
	if score < -1 {
		return -1
	}
	return score
}
