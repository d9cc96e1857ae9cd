package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Retriever answers queries: it narrows candidates through the directory
// index, scores them, and assembles a result under a token budget. Results
// reflect a point-in-time snapshot and are not restartable.
type Retriever struct {
	store    Storage
	embedder Embedder
	cache    *Cache
	scorer   *Scorer
	cfg      Config
	logger   *zap.Logger
}

// NewRetriever creates a retriever.
func NewRetriever(store Storage, embedder Embedder, cache *Cache, scorer *Scorer, cfg Config, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: store, embedder: embedder, cache: cache, scorer: scorer, cfg: cfg, logger: logger}
}

// scored pairs a loaded memory with its computed score for sorting.
type scored struct {
	memory *Memory
	score  Score
	tokens int
}

// Retrieve returns active memories visible in scope, ordered by descending
// score, greedily admitted while the cumulative token estimate stays within
// budget. When the budget reserves a hot-tier share, hot candidates fill
// that share first before the rest of the budget opens to all tiers.
//
// A zero budget yields an empty result; a negative one is a caller error.
// No eligible candidates is an empty result, never an error.
//
// Side effect: every memory actually returned has its access count and
// last-access time bumped; candidates that were only scored are untouched.
func (r *Retriever) Retrieve(ctx context.Context, qc QueryContext, scope Scope, budget TokenBudget) ([]*Memory, error) {
	start := time.Now()
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	if budget.MaxTokens == 0 {
		return nil, nil
	}
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidCandidate, scope)
	}

	// Embed the query once. A failed query embedding degrades relevance to
	// zero rather than failing the whole retrieval.
	if len(qc.Embedding) == 0 && qc.Text != "" {
		vec, err := r.embedder.Embed(ctx, qc.Text)
		if err != nil {
			r.logger.Warn("query embedding failed, scoring without relevance", zap.Error(err))
		} else {
			qc.Embedding = vec
		}
	}

	candidates, err := r.gather(ctx, qc, scope)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	now := time.Now()
	items := make([]scored, 0, len(candidates))
	for _, m := range candidates {
		items = append(items, scored{
			memory: m,
			score:  r.scorer.Score(m, qc, now),
			tokens: EstimateTokens(m.Content),
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].score.Aggregate != items[j].score.Aggregate {
			return items[i].score.Aggregate > items[j].score.Aggregate
		}
		if !items[i].memory.LastAccessedAt.Equal(items[j].memory.LastAccessedAt) {
			return items[i].memory.LastAccessedAt.After(items[j].memory.LastAccessedAt)
		}
		return items[i].memory.ID < items[j].memory.ID
	})

	result := r.admit(items, budget)
	r.recordAccess(ctx, result, now)

	queryDuration.Observe(time.Since(start).Seconds())
	queryResults.Observe(float64(len(result)))
	r.logger.Debug("retrieval completed",
		zap.String("scope", string(scope)),
		zap.Int("candidates", len(candidates)),
		zap.Int("returned", len(result)),
		zap.Int("budget_tokens", budget.MaxTokens))
	return result, nil
}

// gather loads the active memories visible from scope, cache first.
func (r *Retriever) gather(ctx context.Context, qc QueryContext, scope Scope) ([]*Memory, error) {
	filter := EntryFilter{
		Types:    qc.Types,
		Tags:     qc.Tags,
		Statuses: []Status{StatusActive},
	}

	var memories []*Memory
	for _, s := range scope.VisibleFrom() {
		entries, err := r.store.ScanByScope(ctx, s, filter)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning scope %s: %v", ErrDependencyUnavailable, s, err)
		}
		for _, e := range entries {
			m := r.cache.Get(e.MemoryID)
			if m == nil {
				m, err = r.store.Get(ctx, e.MemoryID)
				if err != nil {
					// The entry may have been deleted between scan and
					// load; a snapshot one mutation stale is acceptable.
					r.logger.Debug("skipping candidate lost between scan and load",
						zap.String("id", e.MemoryID), zap.Error(err))
					continue
				}
				if m.Tier == TierHot {
					r.cache.Put(m)
				}
			}
			if m.Status != StatusActive || m.Tier == TierArchived {
				continue
			}
			memories = append(memories, m)
		}
	}
	return memories, nil
}

// admit greedily fills the budget from the score-ordered items. With a
// hot-tier reservation, hot candidates are admitted against the reserved
// share first, then a second pass opens the remaining budget to all tiers.
func (r *Retriever) admit(items []scored, budget TokenBudget) []*Memory {
	hotReserve := int(float64(budget.MaxTokens) * budget.HotReserve)
	used := 0
	admitted := make(map[string]bool, len(items))
	var result []*Memory

	if hotReserve > 0 {
		hotUsed := 0
		for _, it := range items {
			if it.memory.Tier != TierHot {
				continue
			}
			if hotUsed+it.tokens > hotReserve {
				continue
			}
			hotUsed += it.tokens
			used += it.tokens
			admitted[it.memory.ID] = true
			result = append(result, it.memory)
		}
	}

	for _, it := range items {
		if admitted[it.memory.ID] {
			continue
		}
		if used+it.tokens > budget.MaxTokens {
			continue
		}
		used += it.tokens
		admitted[it.memory.ID] = true
		result = append(result, it.memory)
	}

	// Reservation admission can interleave tiers out of score order;
	// restore the global ordering for the caller.
	order := make(map[string]int, len(items))
	for i, it := range items {
		order[it.memory.ID] = i
	}
	sort.Slice(result, func(i, j int) bool { return order[result[i].ID] < order[result[j].ID] })
	return result
}

// recordAccess bumps lifecycle counters for returned memories. Writes are
// best-effort compare-and-swaps without per-id locks: the query path never
// blocks on a mutation, and a lost race only costs one access count.
func (r *Retriever) recordAccess(ctx context.Context, returned []*Memory, now time.Time) {
	for _, m := range returned {
		m.Touch(now)
		m.Version++
		if err := r.store.Put(ctx, m); err != nil {
			r.logger.Debug("access bookkeeping lost a race",
				zap.String("id", m.ID), zap.Error(err))
			continue
		}
		if m.Tier == TierHot {
			r.cache.Put(m)
		} else {
			r.cache.Invalidate(m.ID)
		}
	}
}
