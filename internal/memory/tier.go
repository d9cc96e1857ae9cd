package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// TierAdjuster reclassifies memories across tiers based on score and access
// pattern. Sweeps are idempotent: running twice with no intervening access
// moves nothing on the second pass, because the first pass refreshes every
// due score snapshot.
//
// Demotion is stepwise (hot → warm → cold → archived, one tier per sweep).
// Archived memories stay in the durable store but leave default retrieval
// scans; tiering never deletes anything.
type TierAdjuster struct {
	store  Storage
	cache  *Cache
	scorer *Scorer
	locks  *idLocks
	cfg    Config
	logger *zap.Logger
}

// NewTierAdjuster creates a tier adjuster sharing the manager's locks.
func NewTierAdjuster(store Storage, cache *Cache, scorer *Scorer, locks *idLocks, cfg Config, logger *zap.Logger) *TierAdjuster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TierAdjuster{store: store, cache: cache, scorer: scorer, locks: locks, cfg: cfg, logger: logger}
}

// Adjust sweeps one scope and returns how many memories changed tier.
func (t *TierAdjuster) Adjust(ctx context.Context, scope Scope) (int, error) {
	entries, err := t.store.ScanByScope(ctx, scope, EntryFilter{Statuses: []Status{StatusActive}})
	if err != nil {
		return 0, fmt.Errorf("%w: scanning scope %s: %v", ErrDependencyUnavailable, scope, err)
	}

	now := time.Now()
	moved := 0
	movedIDs := make(map[string]bool)
	var survivors []*Memory

	for _, e := range entries {
		m, err := t.store.Get(ctx, e.MemoryID)
		if err != nil {
			t.logger.Debug("skipping entry lost during sweep", zap.String("id", e.MemoryID), zap.Error(err))
			continue
		}

		if !t.due(m, now) {
			survivors = append(survivors, m)
			continue
		}

		snap := t.scorer.Standing(m, now)
		m.ScoreSnapshot = &snap
		m.ScoredAt = now

		from := m.Tier
		switch {
		case snap.Aggregate >= t.cfg.Tiers.Promote && m.Tier != TierHot && !t.cache.Contains(m.ID):
			m.Tier = TierHot
		case snap.Aggregate < t.floor(m.Tier):
			m.Tier = m.Tier.Below()
		}

		if err := t.persist(ctx, m); err != nil {
			t.logger.Warn("tier sweep failed to persist", zap.String("id", m.ID), zap.Error(err))
			continue
		}
		if m.Tier != from {
			moved++
			movedIDs[m.ID] = true
			t.recordMove(m.Tier)
		}
		survivors = append(survivors, m)
	}

	moved += t.relieve(ctx, survivors, movedIDs)

	t.logger.Debug("tier sweep completed",
		zap.String("scope", string(scope)),
		zap.Int("scanned", len(entries)),
		zap.Int("reclassified", moved))
	return moved, nil
}

// due reports whether a memory's snapshot is stale enough for review.
func (t *TierAdjuster) due(m *Memory, now time.Time) bool {
	last := m.ScoredAt
	if m.LastAccessedAt.After(last) {
		last = m.LastAccessedAt
	}
	if last.IsZero() {
		return true
	}
	return now.Sub(last) > t.cfg.ReviewWindow
}

// floor returns the aggregate-score floor for remaining in a tier.
func (t *TierAdjuster) floor(tier Tier) float64 {
	switch tier {
	case TierHot:
		return t.cfg.Tiers.Hot
	case TierWarm:
		return t.cfg.Tiers.Warm
	case TierCold:
		return t.cfg.Tiers.Cold
	}
	return 0 // archived has no floor
}

// relieve demotes the lowest-scoring hot/warm memories one step when their
// population exceeds the cache capacity, regardless of how close their
// scores sit to the thresholds. Memories already moved this sweep are
// exempt so no memory drops more than one tier per invocation.
func (t *TierAdjuster) relieve(ctx context.Context, memories []*Memory, movedIDs map[string]bool) int {
	var cached []*Memory
	for _, m := range memories {
		if m.Tier == TierHot || m.Tier == TierWarm {
			cached = append(cached, m)
		}
	}
	excess := len(cached) - t.cfg.CacheCapacity
	if excess <= 0 {
		return 0
	}

	sort.Slice(cached, func(i, j int) bool {
		return snapshotAggregate(cached[i]) < snapshotAggregate(cached[j])
	})

	moved := 0
	for _, m := range cached {
		if moved >= excess {
			break
		}
		if movedIDs[m.ID] {
			continue
		}
		from := m.Tier
		m.Tier = m.Tier.Below()
		if err := t.persist(ctx, m); err != nil {
			t.logger.Warn("capacity demotion failed to persist", zap.String("id", m.ID), zap.Error(err))
			m.Tier = from
			continue
		}
		t.recordMove(m.Tier)
		moved++
	}
	return moved
}

func snapshotAggregate(m *Memory) float64 {
	if m.ScoreSnapshot == nil {
		return 0
	}
	return m.ScoreSnapshot.Aggregate
}

// persist writes the memory under its id lock with bounded conflict retry,
// then keeps the cache coherent with the new tier.
func (t *TierAdjuster) persist(ctx context.Context, m *Memory) error {
	unlock := t.locks.lock(m.ID)
	defer unlock()

	for attempt := 0; ; attempt++ {
		m.Version++
		err := t.store.Put(ctx, m)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrConflict) || attempt >= t.cfg.ConflictRetries {
			return err
		}
		conflictRetries.Inc()
		// Reload counters that raced, keep our tier decision.
		fresh, getErr := t.store.Get(ctx, m.ID)
		if getErr != nil {
			return getErr
		}
		m.AccessCount = fresh.AccessCount
		m.LastAccessedAt = fresh.LastAccessedAt
		m.Version = fresh.Version
	}

	switch {
	case m.Tier == TierArchived:
		t.cache.Invalidate(m.ID)
	case m.Tier == TierHot || t.cache.Contains(m.ID):
		t.cache.Put(m)
	}
	return nil
}

func (t *TierAdjuster) recordMove(to Tier) {
	if to == TierHot {
		tierMoves.WithLabelValues("promote").Inc()
		return
	}
	tierMoves.WithLabelValues("demote").Inc()
}
