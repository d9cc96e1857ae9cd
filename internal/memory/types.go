package memory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors for memory engine operations.
var (
	// ErrNotFound is returned when a memory id is unknown.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidTransition is returned for corrections or merges against a
	// memory in a terminal or inconsistent state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrBudgetExceeded is returned when a retrieval budget is negative.
	// A zero budget yields an empty result, not an error.
	ErrBudgetExceeded = errors.New("retrieval budget must not be negative")

	// ErrDependencyUnavailable wraps storage or embedding failures.
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	// ErrConflict indicates a concurrent mutation lost a version race.
	// The manager retries conflicted writes a bounded number of times
	// before surfacing this to the caller.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrIndexInconsistency indicates the directory index pointed at a
	// memory whose stored state disagrees with the index row.
	ErrIndexInconsistency = errors.New("directory index inconsistency")

	ErrInvalidMemory    = errors.New("invalid memory")
	ErrInvalidCandidate = errors.New("invalid candidate")
	ErrEmptyContent     = errors.New("memory content cannot be empty")
)

// Type classifies what kind of knowledge a memory holds.
type Type string

const (
	TypeFact        Type = "fact"
	TypePreference  Type = "preference"
	TypeInstruction Type = "instruction"
	TypeEpisodic    Type = "episodic"
)

// Valid reports whether t is a known memory type.
func (t Type) Valid() bool {
	switch t {
	case TypeFact, TypePreference, TypeInstruction, TypeEpisodic:
		return true
	}
	return false
}

// Tier is the retrieval/cache priority class of a memory.
//
// Tiers order hot > warm > cold > archived. Archived memories stay in the
// durable store but are excluded from default retrieval scans; tiering never
// deletes anything.
type Tier string

const (
	TierHot      Tier = "hot"
	TierWarm     Tier = "warm"
	TierCold     Tier = "cold"
	TierArchived Tier = "archived"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierHot, TierWarm, TierCold, TierArchived:
		return true
	}
	return false
}

// Below returns the next tier down, or archived if already at the bottom.
// Demotion is always stepwise: a single sweep never skips a tier.
func (t Tier) Below() Tier {
	switch t {
	case TierHot:
		return TierWarm
	case TierWarm:
		return TierCold
	default:
		return TierArchived
	}
}

// Status is the lifecycle state of a memory.
type Status string

const (
	StatusActive        Status = "active"
	StatusPendingReview Status = "pending_review"
	StatusCorrected     Status = "corrected"
	StatusSuperseded    Status = "superseded"
	StatusDeleted       Status = "deleted"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPendingReview, StatusCorrected, StatusSuperseded, StatusDeleted:
		return true
	}
	return false
}

// Terminal reports whether no further evidence may transition s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCorrected, StatusSuperseded, StatusDeleted:
		return true
	}
	return false
}

// Scope is the isolation/visibility boundary for a memory.
//
// Scopes form a widening chain: private < team < global. A query issued in
// scope S reads memories in S and in every wider scope.
type Scope string

const (
	ScopePrivate Scope = "private"
	ScopeTeam    Scope = "team"
	ScopeGlobal  Scope = "global"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopePrivate, ScopeTeam, ScopeGlobal:
		return true
	}
	return false
}

// width returns the scope's position in the widening chain.
func (s Scope) width() int {
	switch s {
	case ScopePrivate:
		return 0
	case ScopeTeam:
		return 1
	case ScopeGlobal:
		return 2
	}
	return -1
}

// Wider reports whether s is strictly wider than other.
func (s Scope) Wider(other Scope) bool {
	return s.width() > other.width()
}

// VisibleFrom returns the scopes readable from query scope s, narrowest first.
func (s Scope) VisibleFrom() []Scope {
	switch s {
	case ScopePrivate:
		return []Scope{ScopePrivate, ScopeTeam, ScopeGlobal}
	case ScopeTeam:
		return []Scope{ScopeTeam, ScopeGlobal}
	case ScopeGlobal:
		return []Scope{ScopeGlobal}
	}
	return nil
}

// AllScopes lists every scope, narrowest first.
func AllScopes() []Scope {
	return []Scope{ScopePrivate, ScopeTeam, ScopeGlobal}
}

// Claim is the optional structured form of a memory's content.
type Claim struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Links relates a memory to others in its lineage.
type Links struct {
	// Supersedes is the id of the memory this one replaced.
	Supersedes string `json:"supersedes,omitempty"`

	// SupersededBy is the id of the memory that replaced this one.
	SupersededBy string `json:"superseded_by,omitempty"`

	// Origin is the id of the narrower-scope memory this one was promoted
	// from, if it entered its scope via sharing.
	Origin string `json:"origin,omitempty"`

	// Related holds any other associated memory ids.
	Related []string `json:"related,omitempty"`
}

// Memory is the durable unit of knowledge.
//
// Content is immutable once created; corrections produce status transitions
// and replacement records, never in-place edits of historical content.
type Memory struct {
	// ID is the unique memory identifier (UUID), immutable.
	ID string `json:"id"`

	// Content is the text payload.
	Content string `json:"content"`

	// Claim is the optional structured key/value form of the content.
	Claim *Claim `json:"claim,omitempty"`

	Type   Type   `json:"type"`
	Tier   Tier   `json:"tier"`
	Status Status `json:"status"`
	Scope  Scope  `json:"scope"`

	// Tags label the memory for directory pre-filtering.
	Tags []string `json:"tags,omitempty"`

	// Embedding is computed once at acceptance and cached with the record.
	Embedding []float32 `json:"embedding,omitempty"`

	// Importance is an explicit weight in [0,1], set at acceptance and
	// adjustable by correction.
	Importance float64 `json:"importance"`

	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int       `json:"access_count"`

	// ScoreSnapshot is the last computed score, cached for tiering
	// decisions. Never a source of truth.
	ScoreSnapshot *Score    `json:"score_snapshot,omitempty"`
	ScoredAt      time.Time `json:"scored_at,omitempty"`

	Links Links `json:"links,omitempty"`

	// Version increments on every mutation. Storage implementations use it
	// for compare-and-swap writes so racing mutations surface as ErrConflict
	// instead of lost updates.
	Version int64 `json:"version"`
}

// Validate checks the memory's fields against the closed enums.
func (m *Memory) Validate() error {
	if m.ID == "" {
		return errors.New("memory ID cannot be empty")
	}
	if m.Content == "" {
		return ErrEmptyContent
	}
	if !m.Type.Valid() {
		return errors.New("unknown memory type")
	}
	if !m.Tier.Valid() {
		return errors.New("unknown tier")
	}
	if !m.Status.Valid() {
		return errors.New("unknown status")
	}
	if !m.Scope.Valid() {
		return errors.New("unknown scope")
	}
	if m.Importance < 0 || m.Importance > 1 {
		return errors.New("importance must be between 0.0 and 1.0")
	}
	if m.AccessCount < 0 {
		return errors.New("access count cannot be negative")
	}
	return nil
}

// Clone returns a deep copy of the memory.
func (m *Memory) Clone() *Memory {
	c := *m
	if m.Claim != nil {
		claim := *m.Claim
		c.Claim = &claim
	}
	if m.Tags != nil {
		c.Tags = append([]string(nil), m.Tags...)
	}
	if m.Embedding != nil {
		c.Embedding = append([]float32(nil), m.Embedding...)
	}
	if m.ScoreSnapshot != nil {
		snap := *m.ScoreSnapshot
		c.ScoreSnapshot = &snap
	}
	if m.Links.Related != nil {
		c.Links.Related = append([]string(nil), m.Links.Related...)
	}
	return &c
}

// Touch records an access.
func (m *Memory) Touch(now time.Time) {
	m.AccessCount++
	m.LastAccessedAt = now
}

// Entry returns the directory index row for this memory. The row is written
// in lockstep with the memory it indexes and never owns memory content.
func (m *Memory) Entry() DirectoryEntry {
	return DirectoryEntry{
		MemoryID:  m.ID,
		Type:      m.Type,
		Tags:      append([]string(nil), m.Tags...),
		Tier:      m.Tier,
		Scope:     m.Scope,
		Status:    m.Status,
		Embedding: m.Embedding,
		Version:   m.Version,
	}
}

// Candidate is an ephemeral memory proposal. It is never persisted
// standalone: the dedup pipeline either discards it, merges it into an
// existing memory, or materializes it into a new Memory.
type Candidate struct {
	Content    string    `json:"content"`
	Claim      *Claim    `json:"claim,omitempty"`
	Type       Type      `json:"type"`
	Scope      Scope     `json:"scope"`
	Tags       []string  `json:"tags,omitempty"`
	Confidence float64   `json:"confidence"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// Validate checks the candidate's fields.
func (c *Candidate) Validate() error {
	if c.Content == "" {
		return ErrEmptyContent
	}
	if !c.Type.Valid() {
		return errors.New("unknown candidate type")
	}
	if !c.Scope.Valid() {
		return errors.New("unknown candidate scope")
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return errors.New("confidence must be between 0.0 and 1.0")
	}
	return nil
}

// materialize builds a new Memory from an accepted candidate.
func (c *Candidate) materialize(now time.Time) *Memory {
	return &Memory{
		ID:             uuid.New().String(),
		Content:        c.Content,
		Claim:          c.Claim,
		Type:           c.Type,
		Tier:           TierWarm,
		Status:         StatusActive,
		Scope:          c.Scope,
		Tags:           append([]string(nil), c.Tags...),
		Embedding:      c.Embedding,
		Importance:     c.Confidence,
		CreatedAt:      now,
		LastAccessedAt: now,
		Version:        1,
	}
}

// DirectoryEntry is a lightweight index row used for fast candidate
// narrowing before exact scoring. One entry exists per memory; it is
// created, updated, and deleted in lockstep with the memory it indexes.
type DirectoryEntry struct {
	MemoryID  string    `json:"memory_id"`
	Type      Type      `json:"type"`
	Tags      []string  `json:"tags,omitempty"`
	Tier      Tier      `json:"tier"`
	Scope     Scope     `json:"scope"`
	Status    Status    `json:"status"`
	Embedding []float32 `json:"embedding,omitempty"`
	Version   int64     `json:"version"`
}

// Score is the composite relevance/importance value for a memory in a query
// context. Pure, derived data: only ever cached, never a source of truth.
type Score struct {
	Recency    float64 `json:"recency"`
	Frequency  float64 `json:"frequency"`
	Relevance  float64 `json:"relevance"`
	Importance float64 `json:"importance"`
	Aggregate  float64 `json:"aggregate"`
}

// TokenBudget bounds the total token count of a retrieval response.
type TokenBudget struct {
	// MaxTokens is the hard ceiling for the response.
	MaxTokens int `json:"max_tokens"`

	// HotReserve is the fraction of MaxTokens filled from hot-tier
	// candidates before the remaining budget is opened to all tiers.
	// Zero disables the reservation.
	HotReserve float64 `json:"hot_reserve"`
}

// Validate checks the budget. A zero MaxTokens is valid and yields an empty
// retrieval result; a negative one is a caller-input error.
func (b TokenBudget) Validate() error {
	if b.MaxTokens < 0 {
		return ErrBudgetExceeded
	}
	if b.HotReserve < 0 || b.HotReserve > 1 {
		return errors.New("hot reserve must be between 0.0 and 1.0")
	}
	return nil
}

// EstimateTokens approximates the token count of text. A four-characters-
// per-token heuristic keeps budget math independent of any tokenizer.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// EvidenceType classifies new information applied against an existing memory.
type EvidenceType string

const (
	EvidenceConfirming    EvidenceType = "confirming"
	EvidenceContradicting EvidenceType = "contradicting"
	EvidenceSuperseding   EvidenceType = "superseding"
	EvidenceIrrelevant    EvidenceType = "irrelevant"
)

// Valid reports whether e is a known evidence type.
func (e EvidenceType) Valid() bool {
	switch e {
	case EvidenceConfirming, EvidenceContradicting, EvidenceSuperseding, EvidenceIrrelevant:
		return true
	}
	return false
}

// Evidence carries the payload applied by a correction.
type Evidence struct {
	Type EvidenceType `json:"type"`

	// Content is the replacement content for superseding evidence.
	Content string `json:"content,omitempty"`

	// Claim is the replacement structured claim, if any.
	Claim *Claim `json:"claim,omitempty"`
}

// EvidenceResult is the corrector's verdict and the transition it triggered.
type EvidenceResult struct {
	MemoryID string       `json:"memory_id"`
	Evidence EvidenceType `json:"evidence"`
	Previous Status       `json:"previous"`
	Current  Status       `json:"current"`

	// Transitioned is false for no-op verdicts (confirming reinforcement,
	// irrelevant evidence).
	Transitioned bool `json:"transitioned"`

	// NewMemoryID is set when superseding evidence created a replacement.
	NewMemoryID string `json:"new_memory_id,omitempty"`
}

// QueryContext describes what the consuming agent is asking about.
type QueryContext struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
	Types     []Type    `json:"types,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
}
