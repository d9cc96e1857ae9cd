package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDeduplicator(store Storage, embedder Embedder) *Deduplicator {
	return NewDeduplicator(store, embedder, DefaultConfig(), zap.NewNop())
}

// TestDeduplicator_AcceptIntoEmptyScope tests that the first candidate in a
// scope is always new.
func TestDeduplicator_AcceptIntoEmptyScope(t *testing.T) {
	store := NewInMemoryStorage()
	dedup := newTestDeduplicator(store, newStubEmbedder(3))

	cand := &Candidate{
		Content:    "deploys run from main",
		Type:       TypeFact,
		Scope:      ScopeTeam,
		Confidence: 0.8,
		Embedding:  []float32{1, 0, 0},
	}
	res, err := dedup.Check(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, DecisionAcceptNew, res.Decision)
	assert.Nil(t, res.Existing)
}

// TestDeduplicator_MergeAboveHighThreshold tests the high-confidence
// duplicate path.
func TestDeduplicator_MergeAboveHighThreshold(t *testing.T) {
	store := NewInMemoryStorage()
	existing := newTestMemory(ScopeTeam, "deploys run from main", []float32{1, 0, 0})
	mustPut(store, existing)

	dedup := newTestDeduplicator(store, newStubEmbedder(3))
	cand := &Candidate{
		Content:    "deployments go out from the main branch",
		Type:       TypeFact,
		Scope:      ScopeTeam,
		Confidence: 0.8,
		Embedding:  []float32{1, 0, 0},
	}
	res, err := dedup.Check(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, DecisionMerge, res.Decision)
	require.NotNil(t, res.Existing)
	assert.Equal(t, existing.ID, res.Existing.ID)
	assert.InDelta(t, 1.0, res.Similarity, 0.001)
}

// TestDeduplicator_AcceptBelowLowThreshold tests clearly novel candidates.
func TestDeduplicator_AcceptBelowLowThreshold(t *testing.T) {
	store := NewInMemoryStorage()
	mustPut(store, newTestMemory(ScopeTeam, "deploys run from main", []float32{1, 0, 0}))

	dedup := newTestDeduplicator(store, newStubEmbedder(3))
	cand := &Candidate{
		Content:    "the office coffee machine is broken",
		Type:       TypeFact,
		Scope:      ScopeTeam,
		Confidence: 0.8,
		Embedding:  []float32{0, 1, 0},
	}
	res, err := dedup.Check(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, DecisionAcceptNew, res.Decision)
}

// TestDeduplicator_AmbiguousBandLexicalDuplicate tests that a lexical match
// in the ambiguous similarity band is rejected as a duplicate.
func TestDeduplicator_AmbiguousBandLexicalDuplicate(t *testing.T) {
	store := NewInMemoryStorage()
	existing := newTestMemory(ScopeTeam, "The API rate limit is 100.", []float32{1, 0, 0})
	mustPut(store, existing)

	dedup := newTestDeduplicator(store, newStubEmbedder(3))
	// Cosine 0.8 sits between the 0.75 and 0.92 thresholds.
	cand := &Candidate{
		Content:    "the  api rate limit is 100",
		Type:       TypeFact,
		Scope:      ScopeTeam,
		Confidence: 0.8,
		Embedding:  []float32{0.8, 0.6, 0},
	}
	res, err := dedup.Check(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, DecisionDuplicate, res.Decision)
	require.NotNil(t, res.Existing)
	assert.Equal(t, existing.ID, res.Existing.ID)
}

// TestDeduplicator_AmbiguousBandDistinctContent tests that the ambiguous
// band accepts when the texts differ lexically.
func TestDeduplicator_AmbiguousBandDistinctContent(t *testing.T) {
	store := NewInMemoryStorage()
	mustPut(store, newTestMemory(ScopeTeam, "the api rate limit is 100", []float32{1, 0, 0}))

	dedup := newTestDeduplicator(store, newStubEmbedder(3))
	cand := &Candidate{
		Content:    "the api rate limit was raised to 200",
		Type:       TypeFact,
		Scope:      ScopeTeam,
		Confidence: 0.8,
		Embedding:  []float32{0.8, 0.6, 0},
	}
	res, err := dedup.Check(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, DecisionAcceptNew, res.Decision)
}

// TestDeduplicator_TypeIsolation tests that candidates only compare against
// memories of the same type.
func TestDeduplicator_TypeIsolation(t *testing.T) {
	store := NewInMemoryStorage()
	existing := newTestMemory(ScopeTeam, "tabs over spaces", []float32{1, 0, 0})
	existing.Type = TypePreference
	mustPut(store, existing)

	dedup := newTestDeduplicator(store, newStubEmbedder(3))
	cand := &Candidate{
		Content:    "tabs over spaces",
		Type:       TypeFact,
		Scope:      ScopeTeam,
		Confidence: 0.8,
		Embedding:  []float32{1, 0, 0},
	}
	res, err := dedup.Check(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, DecisionAcceptNew, res.Decision)
}

// TestDeduplicator_EmbedsOnce tests that the computed vector is written
// back to the candidate for downstream reuse.
func TestDeduplicator_EmbedsOnce(t *testing.T) {
	store := NewInMemoryStorage()
	embedder := newStubEmbedder(3)
	embedder.add("new fact", []float32{0, 0, 1})

	dedup := newTestDeduplicator(store, embedder)
	cand := &Candidate{Content: "new fact", Type: TypeFact, Scope: ScopePrivate, Confidence: 0.5}

	_, err := dedup.Check(context.Background(), cand)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1}, cand.Embedding)
}

// TestDeduplicator_EmbedderFailure tests that embedding failures surface as
// dependency errors, never silent drops.
func TestDeduplicator_EmbedderFailure(t *testing.T) {
	dedup := newTestDeduplicator(NewInMemoryStorage(), failingEmbedder{})
	cand := &Candidate{Content: "fact", Type: TypeFact, Scope: ScopePrivate, Confidence: 0.5}

	_, err := dedup.Check(context.Background(), cand)
	assert.ErrorIs(t, err, ErrDependencyUnavailable)
}

// TestDeduplicator_InvalidCandidate tests input validation.
func TestDeduplicator_InvalidCandidate(t *testing.T) {
	dedup := newTestDeduplicator(NewInMemoryStorage(), newStubEmbedder(3))

	_, err := dedup.Check(context.Background(), &Candidate{Type: TypeFact, Scope: ScopePrivate})
	assert.ErrorIs(t, err, ErrInvalidCandidate)
}

// TestNormalizeContent tests the lexical comparison normalization.
func TestNormalizeContent(t *testing.T) {
	assert.Equal(t, "the api limit is 100", normalizeContent("  The  API limit is 100. "))
	assert.Equal(t, "done", normalizeContent("DONE!?"))
	assert.Equal(t, normalizeContent("a b"), normalizeContent("A\t b."))
}
