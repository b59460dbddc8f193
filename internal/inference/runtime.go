package inference

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/crypto/sha3"
)

// Embedding is a face feature vector produced by the embedding model.
type Embedding []float32

// Digest returns a stable hex digest of the embedding, folded into the
// on-chain verification hash.
func (e Embedding) Digest() string {
	h := sha3.New256()
	buf := make([]byte, 4)
	for _, v := range e {
		bits := math.Float32bits(v)
		buf[0] = byte(bits)
		buf[1] = byte(bits >> 8)
		buf[2] = byte(bits >> 16)
		buf[3] = byte(bits >> 24)
		h.Write(buf)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// CosineSimilarity computes the cosine similarity between two embeddings.
func CosineSimilarity(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Detection is the outcome of running the face detector over one frame.
type Detection struct {
	// FaceCount is the number of faces found in the frame.
	FaceCount int
}

// Runtime loads the detection and embedding models exactly once and
// runs per-frame inference. Every numeric buffer created during a call
// is disposed before the call returns; the Tracker accounts for them.
type Runtime interface {
	// Warmup loads both models. Idempotent.
	Warmup(ctx context.Context) error
	// Detect runs the face detector over an encoded frame.
	Detect(ctx context.Context, frame []byte) (*Detection, error)
	// Extract runs the full pipeline: detect, crop the largest face,
	// normalize, and embed.
	Extract(ctx context.Context, frame []byte) (Embedding, error)
	// Tracker exposes the buffer accounting for this runtime.
	Tracker() *Tracker
	// Close releases the loaded models.
	Close() error
}
