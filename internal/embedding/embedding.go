// Package embedding provides vector embedding generation for the semantic
// cache and the semantic retrieval expert.
//
// Defines a Provider interface, an Ollama implementation and a deterministic
// hash-based fallback. The interface allows swapping providers without
// changing consumers.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Provider generates vector embeddings from text.
type Provider interface {
	// Embed generates a single embedding vector from text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int
}

// HashProvider derives deterministic unit vectors from a content hash.
// It has no semantic power and exists so the system runs (and tests run)
// without an embedding backend: identical texts map to identical vectors,
// distinct texts to near-orthogonal ones.
type HashProvider struct {
	dims int
}

// NewHashProvider creates a deterministic fallback provider.
func NewHashProvider(dims int) *HashProvider {
	if dims <= 0 {
		dims = 768
	}
	return &HashProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *HashProvider) Dimensions() int {
	return p.dims
}

// Embed returns a unit vector seeded by sha256 of the text.
func (p *HashProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dims)
	seed := sha256.Sum256([]byte(text))

	var norm float64
	block := seed
	for i := 0; i < p.dims; i++ {
		if i%8 == 0 && i > 0 {
			block = sha256.Sum256(block[:])
		}
		bits := binary.BigEndian.Uint32(block[(i%8)*4 : (i%8)*4+4])
		// Map to [-1, 1).
		v := float64(bits)/float64(math.MaxUint32)*2 - 1
		vec[i] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// EmbedBatch returns one deterministic vector per text.
func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}
