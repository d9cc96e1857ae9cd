package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCorrector(store Storage, embedder Embedder) (*Corrector, *Cache) {
	cfg := DefaultConfig()
	cache := NewCache(cfg.CacheCapacity)
	return NewCorrector(store, embedder, cache, newIDLocks(), cfg, zap.NewNop()), cache
}

// TestCorrector_ConfirmingReinforcesActive tests that confirming evidence
// boosts importance without a status transition.
func TestCorrector_ConfirmingReinforcesActive(t *testing.T) {
	store := NewInMemoryStorage()
	m := newTestMemory(ScopePrivate, "fact", nil)
	m.Importance = 0.5
	mustPut(store, m)

	c, _ := newTestCorrector(store, newStubEmbedder(3))
	res, err := c.Apply(context.Background(), m.ID, Evidence{Type: EvidenceConfirming})
	require.NoError(t, err)
	assert.False(t, res.Transitioned)
	assert.Equal(t, StatusActive, res.Current)

	stored, err := store.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, stored.Importance, 0.001)
	assert.Equal(t, StatusActive, stored.Status)
}

// TestCorrector_ContradictingFlagsActive tests that a single contradiction
// flags for review rather than deleting.
func TestCorrector_ContradictingFlagsActive(t *testing.T) {
	store := NewInMemoryStorage()
	m := newTestMemory(ScopePrivate, "fact", nil)
	mustPut(store, m)

	c, cache := newTestCorrector(store, newStubEmbedder(3))
	cache.Put(m)

	res, err := c.Apply(context.Background(), m.ID, Evidence{Type: EvidenceContradicting})
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.Equal(t, StatusActive, res.Previous)
	assert.Equal(t, StatusPendingReview, res.Current)

	// A non-active memory must leave the cache.
	assert.False(t, cache.Contains(m.ID))
}

// TestCorrector_PendingReviewResolution tests both resolutions of the
// pending state.
func TestCorrector_PendingReviewResolution(t *testing.T) {
	ctx := context.Background()

	// Confirming restores active.
	store := NewInMemoryStorage()
	m := newTestMemory(ScopePrivate, "fact", nil)
	m.Status = StatusPendingReview
	mustPut(store, m)

	c, _ := newTestCorrector(store, newStubEmbedder(3))
	res, err := c.Apply(ctx, m.ID, Evidence{Type: EvidenceConfirming})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, res.Current)

	// A second contradiction resolves to deleted.
	store2 := NewInMemoryStorage()
	m2 := newTestMemory(ScopePrivate, "fact", nil)
	m2.Status = StatusPendingReview
	mustPut(store2, m2)

	c2, _ := newTestCorrector(store2, newStubEmbedder(3))
	res, err = c2.Apply(ctx, m2.ID, Evidence{Type: EvidenceContradicting})
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, res.Current)
}

// TestCorrector_SupersedingCreatesReplacement tests the supersede flow:
// replacement created, both records linked, old record retired.
func TestCorrector_SupersedingCreatesReplacement(t *testing.T) {
	store := NewInMemoryStorage()
	m := newTestMemory(ScopeTeam, "the rate limit is 100", nil)
	m.Tags = []string{"api"}
	mustPut(store, m)

	embedder := newStubEmbedder(3)
	embedder.add("the rate limit is 200", []float32{0, 1, 0})

	c, _ := newTestCorrector(store, embedder)
	res, err := c.Apply(context.Background(), m.ID, Evidence{
		Type:    EvidenceSuperseding,
		Content: "the rate limit is 200",
	})
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.Equal(t, StatusSuperseded, res.Current)
	require.NotEmpty(t, res.NewMemoryID)

	old, err := store.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuperseded, old.Status)
	assert.Equal(t, res.NewMemoryID, old.Links.SupersededBy)
	// Historical content is never edited in place.
	assert.Equal(t, "the rate limit is 100", old.Content)

	repl, err := store.Get(context.Background(), res.NewMemoryID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, repl.Status)
	assert.Equal(t, "the rate limit is 200", repl.Content)
	assert.Equal(t, m.ID, repl.Links.Supersedes)
	assert.Equal(t, m.Scope, repl.Scope)
	assert.Equal(t, m.Tags, repl.Tags)
	assert.Equal(t, []float32{0, 1, 0}, repl.Embedding)
}

// TestCorrector_SupersedingFromPendingCorrects tests that superseding a
// pending memory retires it as corrected.
func TestCorrector_SupersedingFromPendingCorrects(t *testing.T) {
	store := NewInMemoryStorage()
	m := newTestMemory(ScopePrivate, "old fact", nil)
	m.Status = StatusPendingReview
	mustPut(store, m)

	embedder := newStubEmbedder(3)
	embedder.add("new fact", []float32{0, 1, 0})

	c, _ := newTestCorrector(store, embedder)
	res, err := c.Apply(context.Background(), m.ID, Evidence{Type: EvidenceSuperseding, Content: "new fact"})
	require.NoError(t, err)
	assert.Equal(t, StatusCorrected, res.Current)

	old, err := store.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCorrected, old.Status)
}

// TestCorrector_SupersedingRequiresContent tests the missing-content guard.
func TestCorrector_SupersedingRequiresContent(t *testing.T) {
	store := NewInMemoryStorage()
	m := newTestMemory(ScopePrivate, "fact", nil)
	mustPut(store, m)

	c, _ := newTestCorrector(store, newStubEmbedder(3))
	_, err := c.Apply(context.Background(), m.ID, Evidence{Type: EvidenceSuperseding})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

// TestCorrector_IrrelevantIsNoOp tests that irrelevant evidence never
// mutates, whatever the current status.
func TestCorrector_IrrelevantIsNoOp(t *testing.T) {
	store := NewInMemoryStorage()
	m := newTestMemory(ScopePrivate, "fact", nil)
	m.Status = StatusDeleted
	mustPut(store, m)

	c, _ := newTestCorrector(store, newStubEmbedder(3))
	res, err := c.Apply(context.Background(), m.ID, Evidence{Type: EvidenceIrrelevant})
	require.NoError(t, err)
	assert.False(t, res.Transitioned)
	assert.Equal(t, StatusDeleted, res.Current)
}

// TestCorrector_TerminalStatusRejected tests that evidence against a
// terminal memory is an explicit error.
func TestCorrector_TerminalStatusRejected(t *testing.T) {
	for _, status := range []Status{StatusCorrected, StatusSuperseded, StatusDeleted} {
		store := NewInMemoryStorage()
		m := newTestMemory(ScopePrivate, "fact", nil)
		m.Status = status
		mustPut(store, m)

		c, _ := newTestCorrector(store, newStubEmbedder(3))
		_, err := c.Apply(context.Background(), m.ID, Evidence{Type: EvidenceConfirming})
		assert.ErrorIs(t, err, ErrInvalidTransition, "status %s", status)
	}
}

// TestCorrector_UnknownMemory tests ErrNotFound passthrough.
func TestCorrector_UnknownMemory(t *testing.T) {
	c, _ := newTestCorrector(NewInMemoryStorage(), newStubEmbedder(3))
	_, err := c.Apply(context.Background(), "missing", Evidence{Type: EvidenceConfirming})
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestCorrector_UnknownEvidenceType tests evidence validation.
func TestCorrector_UnknownEvidenceType(t *testing.T) {
	c, _ := newTestCorrector(NewInMemoryStorage(), newStubEmbedder(3))
	_, err := c.Apply(context.Background(), "any", Evidence{Type: "speculative"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

// TestCorrector_AppliesToLatestVersion tests that corrections always load
// the freshest record, so concurrent access bookkeeping is never clobbered.
func TestCorrector_AppliesToLatestVersion(t *testing.T) {
	store := NewInMemoryStorage()
	m := newTestMemory(ScopePrivate, "fact", nil)
	mustPut(store, m)

	racer := m.Clone()
	racer.Touch(racer.LastAccessedAt)
	racer.Version = 2
	require.NoError(t, store.Put(context.Background(), racer))

	c, _ := newTestCorrector(store, newStubEmbedder(3))
	res, err := c.Apply(context.Background(), m.ID, Evidence{Type: EvidenceContradicting})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingReview, res.Current)

	stored, err := store.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stored.Version)
}
