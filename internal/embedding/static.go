package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

// StaticProvider generates deterministic embeddings from a text hash. It is
// for tests and development: identical texts map to identical vectors and
// different texts almost never collide, but the vectors carry no semantic
// meaning. Never use it where similarity quality matters.
type StaticProvider struct {
	dimension int
}

// NewStaticProvider creates a deterministic hash-based provider.
func NewStaticProvider(dimension int) (*StaticProvider, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return &StaticProvider{dimension: dimension}, nil
}

// Embed returns a unit-length vector derived from the text's FNV hash.
func (p *StaticProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, p.dimension)
	var norm float64
	for i := range vec {
		// xorshift keeps the stream deterministic per seed.
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v := float64(int64(seed)) / float64(math.MaxInt64)
		vec[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

// Dimension returns the configured vector length.
func (p *StaticProvider) Dimension() int {
	return p.dimension
}
