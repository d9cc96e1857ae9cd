package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTierBelow tests stepwise demotion order.
func TestTierBelow(t *testing.T) {
	assert.Equal(t, TierWarm, TierHot.Below())
	assert.Equal(t, TierCold, TierWarm.Below())
	assert.Equal(t, TierArchived, TierCold.Below())
	assert.Equal(t, TierArchived, TierArchived.Below())
}

// TestStatusTerminal tests which statuses accept no further evidence.
func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusActive.Terminal())
	assert.False(t, StatusPendingReview.Terminal())
	assert.True(t, StatusCorrected.Terminal())
	assert.True(t, StatusSuperseded.Terminal())
	assert.True(t, StatusDeleted.Terminal())
}

// TestScopeVisibleFrom tests the widening visibility chain.
func TestScopeVisibleFrom(t *testing.T) {
	assert.Equal(t, []Scope{ScopePrivate, ScopeTeam, ScopeGlobal}, ScopePrivate.VisibleFrom())
	assert.Equal(t, []Scope{ScopeTeam, ScopeGlobal}, ScopeTeam.VisibleFrom())
	assert.Equal(t, []Scope{ScopeGlobal}, ScopeGlobal.VisibleFrom())
}

// TestScopeWider tests strict scope ordering.
func TestScopeWider(t *testing.T) {
	assert.True(t, ScopeGlobal.Wider(ScopeTeam))
	assert.True(t, ScopeTeam.Wider(ScopePrivate))
	assert.False(t, ScopeTeam.Wider(ScopeTeam))
	assert.False(t, ScopePrivate.Wider(ScopeGlobal))
}

// TestMemoryValidate tests field validation against the closed enums.
func TestMemoryValidate(t *testing.T) {
	m := newTestMemory(ScopePrivate, "the build uses make", nil)
	require.NoError(t, m.Validate())

	bad := m.Clone()
	bad.Content = ""
	assert.ErrorIs(t, bad.Validate(), ErrEmptyContent)

	bad = m.Clone()
	bad.Type = "opinion"
	assert.Error(t, bad.Validate())

	bad = m.Clone()
	bad.Importance = 1.5
	assert.Error(t, bad.Validate())
}

// TestMemoryClone tests that clones share no mutable state.
func TestMemoryClone(t *testing.T) {
	m := newTestMemory(ScopePrivate, "fact", []float32{1, 2, 3})
	m.Tags = []string{"build"}
	m.Links.Related = []string{"other"}

	c := m.Clone()
	c.Tags[0] = "changed"
	c.Embedding[0] = 9
	c.Links.Related[0] = "changed"

	assert.Equal(t, "build", m.Tags[0])
	assert.Equal(t, float32(1), m.Embedding[0])
	assert.Equal(t, "other", m.Links.Related[0])
}

// TestCandidateValidate tests candidate field validation.
func TestCandidateValidate(t *testing.T) {
	c := &Candidate{Content: "x", Type: TypeFact, Scope: ScopeTeam, Confidence: 0.8}
	require.NoError(t, c.Validate())

	c.Confidence = 1.2
	assert.Error(t, c.Validate())

	c.Confidence = 0.8
	c.Content = ""
	assert.ErrorIs(t, c.Validate(), ErrEmptyContent)
}

// TestTokenBudgetValidate tests that zero is valid and negative is not.
func TestTokenBudgetValidate(t *testing.T) {
	assert.NoError(t, TokenBudget{MaxTokens: 0}.Validate())
	assert.NoError(t, TokenBudget{MaxTokens: 100, HotReserve: 0.25}.Validate())
	assert.ErrorIs(t, TokenBudget{MaxTokens: -1}.Validate(), ErrBudgetExceeded)
	assert.Error(t, TokenBudget{MaxTokens: 10, HotReserve: 1.5}.Validate())
}

// TestEstimateTokens tests the four-characters-per-token heuristic.
func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}

// TestEntryFilterMatches tests directory filtering, including the archived
// exclusion default.
func TestEntryFilterMatches(t *testing.T) {
	e := DirectoryEntry{
		MemoryID: "m1",
		Type:     TypeFact,
		Tags:     []string{"build", "ci"},
		Tier:     TierWarm,
		Scope:    ScopeTeam,
		Status:   StatusActive,
	}

	assert.True(t, EntryFilter{}.Matches(e))
	assert.True(t, EntryFilter{Types: []Type{TypeFact}}.Matches(e))
	assert.False(t, EntryFilter{Types: []Type{TypeEpisodic}}.Matches(e))
	assert.True(t, EntryFilter{Tags: []string{"ci", "deploy"}}.Matches(e))
	assert.False(t, EntryFilter{Tags: []string{"deploy"}}.Matches(e))
	assert.False(t, EntryFilter{Statuses: []Status{StatusPendingReview}}.Matches(e))

	e.Tier = TierArchived
	assert.False(t, EntryFilter{}.Matches(e))
	assert.True(t, EntryFilter{IncludeArchived: true}.Matches(e))
}

// TestConfigValidate tests the engine config guardrails.
func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.DuplicateLow = cfg.DuplicateHigh
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Tiers.Warm = cfg.Tiers.Hot
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Weights = Weights{}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.CacheCapacity = 0
	assert.Error(t, cfg.Validate())
}
