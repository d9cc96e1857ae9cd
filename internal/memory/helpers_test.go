package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// stubEmbedder returns canned vectors by exact text match. Unknown text is
// an error so tests notice unexpected embedding calls.
type stubEmbedder struct {
	vectors map[string][]float32
	dim     int
}

func newStubEmbedder(dim int) *stubEmbedder {
	return &stubEmbedder{vectors: make(map[string][]float32), dim: dim}
}

func (e *stubEmbedder) add(text string, vec []float32) {
	e.vectors[text] = vec
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, ok := e.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no stub vector for %q", text)
	}
	return vec, nil
}

func (e *stubEmbedder) Dimension() int {
	return e.dim
}

// failingEmbedder always errors.
type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedder offline")
}

func (failingEmbedder) Dimension() int { return 3 }

// newTestMemory builds a valid active warm memory for tests.
func newTestMemory(scope Scope, content string, vec []float32) *Memory {
	now := time.Now()
	return &Memory{
		ID:             uuid.New().String(),
		Content:        content,
		Type:           TypeFact,
		Tier:           TierWarm,
		Status:         StatusActive,
		Scope:          scope,
		Embedding:      vec,
		Importance:     0.5,
		CreatedAt:      now,
		LastAccessedAt: now,
		Version:        1,
	}
}

// mustPut stores a memory or panics; for test setup only.
func mustPut(store Storage, m *Memory) {
	if err := store.Put(context.Background(), m); err != nil {
		panic(err)
	}
}
