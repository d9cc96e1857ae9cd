package memory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// dedupNeighbors is how many nearest neighbors the deduplicator inspects.
const dedupNeighbors = 5

// DedupDecision is the deduplicator's verdict on a candidate.
type DedupDecision string

const (
	// DecisionAcceptNew admits the candidate as a new memory.
	DecisionAcceptNew DedupDecision = "accept_new"

	// DecisionMerge folds the candidate into an existing memory, boosting
	// its access count and importance; existing content is untouched.
	DecisionMerge DedupDecision = "merge"

	// DecisionDuplicate rejects the candidate as an exact restatement of
	// an existing memory.
	DecisionDuplicate DedupDecision = "duplicate"
)

// CheckResult carries the dedup verdict plus the matched memory, if any.
type CheckResult struct {
	Decision   DedupDecision
	Existing   *Memory
	Similarity float64
}

// Deduplicator finds near-duplicate existing memories for a candidate via
// the directory index and embedding similarity.
type Deduplicator struct {
	store    Storage
	embedder Embedder
	cfg      Config
	logger   *zap.Logger
}

// NewDeduplicator creates a deduplicator.
func NewDeduplicator(store Storage, embedder Embedder, cfg Config, logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{store: store, embedder: embedder, cfg: cfg, logger: logger}
}

// Check classifies the candidate against existing active memories of the
// same type in its scope.
//
// The candidate is embedded at most once: if it already carries an
// embedding the deduplicator reuses it, and on success it writes the
// computed vector back so the rest of the ingest pipeline never recomputes.
//
// Above the high similarity threshold the top match is a high-confidence
// duplicate and the verdict is merge. Below the low threshold the candidate
// is new. In the ambiguous band the deduplicator falls back to a normalized
// lexical comparison before accepting as new, which avoids false negatives
// when embeddings are coarse.
func (d *Deduplicator) Check(ctx context.Context, cand *Candidate) (*CheckResult, error) {
	if err := cand.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	}

	if len(cand.Embedding) == 0 {
		vec, err := d.embedder.Embed(ctx, cand.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: embedding candidate: %v", ErrDependencyUnavailable, err)
		}
		cand.Embedding = vec
	}

	filter := EntryFilter{
		Types:    []Type{cand.Type},
		Statuses: []Status{StatusActive},
	}
	neighbors, err := d.store.Nearest(ctx, cand.Scope, cand.Embedding, dedupNeighbors, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: querying directory index: %v", ErrDependencyUnavailable, err)
	}
	if len(neighbors) == 0 {
		return &CheckResult{Decision: DecisionAcceptNew}, nil
	}

	top := neighbors[0]
	switch {
	case top.Similarity >= d.cfg.DuplicateHigh:
		existing, err := d.loadActive(ctx, top.Entry)
		if err != nil {
			return nil, err
		}
		d.logger.Debug("candidate merged into existing memory",
			zap.String("existing_id", existing.ID),
			zap.Float64("similarity", top.Similarity))
		return &CheckResult{Decision: DecisionMerge, Existing: existing, Similarity: top.Similarity}, nil

	case top.Similarity < d.cfg.DuplicateLow:
		return &CheckResult{Decision: DecisionAcceptNew, Similarity: top.Similarity}, nil
	}

	// Ambiguous band: the embedding alone cannot settle it.
	want := normalizeContent(cand.Content)
	for _, n := range neighbors {
		if n.Similarity < d.cfg.DuplicateLow {
			break
		}
		existing, err := d.loadActive(ctx, n.Entry)
		if err != nil {
			return nil, err
		}
		if normalizeContent(existing.Content) == want {
			d.logger.Debug("candidate rejected as lexical duplicate",
				zap.String("existing_id", existing.ID),
				zap.Float64("similarity", n.Similarity))
			return &CheckResult{Decision: DecisionDuplicate, Existing: existing, Similarity: n.Similarity}, nil
		}
	}
	return &CheckResult{Decision: DecisionAcceptNew, Similarity: top.Similarity}, nil
}

// loadActive loads a matched memory and verifies it is still active. A
// non-active match means the directory row disagrees with the store, which
// is an index inconsistency rather than a silent accept.
func (d *Deduplicator) loadActive(ctx context.Context, e DirectoryEntry) (*Memory, error) {
	m, err := d.store.Get(ctx, e.MemoryID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading dedup match %s: %v", ErrDependencyUnavailable, e.MemoryID, err)
	}
	if m.Status != StatusActive {
		return nil, fmt.Errorf("%w: dedup match %s indexed active but stored %s",
			ErrIndexInconsistency, m.ID, m.Status)
	}
	return m, nil
}

// normalizeContent lowercases, collapses whitespace, and strips trailing
// sentence punctuation for near-exact lexical comparison.
func normalizeContent(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".!?")
}
