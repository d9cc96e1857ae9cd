package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// IngestOutcome describes what the ingest pipeline did with a candidate.
type IngestOutcome string

const (
	// IngestCreated means the candidate became a new memory.
	IngestCreated IngestOutcome = "created"

	// IngestMerged means the candidate folded into an existing memory.
	IngestMerged IngestOutcome = "merged"

	// IngestDiscarded means the candidate was an exact duplicate.
	IngestDiscarded IngestOutcome = "discarded"
)

// IngestResult reports an ingest decision and the memory it affected.
type IngestResult struct {
	Outcome IngestOutcome `json:"outcome"`

	// MemoryID is the created memory on create, or the existing memory on
	// merge and discard.
	MemoryID string `json:"memory_id"`

	// Similarity is the top dedup similarity, when a neighbor existed.
	Similarity float64 `json:"similarity,omitempty"`
}

// Manager is the single entry point for the memory engine. It owns the
// ingest, retrieval, correction, sharing, and tiering pipelines and the
// write-through cache they coordinate through.
type Manager struct {
	store    Storage
	embedder Embedder
	cache    *Cache
	scorer   *Scorer
	locks    *idLocks

	dedup     *Deduplicator
	retriever *Retriever
	corrector *Corrector
	adjuster  *TierAdjuster
	sharer    *Sharer

	cfg    Config
	logger *zap.Logger
}

// NewManager wires the memory engine together. The store and embedder are
// required; config falls back to defaults when zero.
func NewManager(store Storage, embedder Embedder, cfg Config, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("storage cannot be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cache := NewCache(cfg.CacheCapacity)
	scorer := NewScorer(cfg)
	locks := newIDLocks()

	m := &Manager{
		store:    store,
		embedder: embedder,
		cache:    cache,
		scorer:   scorer,
		locks:    locks,
		cfg:      cfg,
		logger:   logger,
	}
	m.dedup = NewDeduplicator(store, embedder, cfg, logger)
	m.retriever = NewRetriever(store, embedder, cache, scorer, cfg, logger)
	m.corrector = NewCorrector(store, embedder, cache, locks, cfg, logger)
	m.adjuster = NewTierAdjuster(store, cache, scorer, locks, cfg, logger)
	m.sharer = NewSharer(store, m.dedup, cache, locks, cfg, logger)
	return m, nil
}

// Ingest runs a candidate through dedup and either creates a new memory,
// merges into an existing one, or discards an exact duplicate. Merging
// reinforces the existing memory's access count and importance; its
// content is never touched.
func (m *Manager) Ingest(ctx context.Context, cand *Candidate) (*IngestResult, error) {
	check, err := m.dedup.Check(ctx, cand)
	if err != nil {
		ingestTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	switch check.Decision {
	case DecisionAcceptNew:
		mem := cand.materialize(time.Now())
		if err := m.store.Put(ctx, mem); err != nil {
			ingestTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: storing new memory: %v", ErrDependencyUnavailable, err)
		}
		ingestTotal.WithLabelValues(string(IngestCreated)).Inc()
		m.logger.Info("memory created",
			zap.String("id", mem.ID),
			zap.String("type", string(mem.Type)),
			zap.String("scope", string(mem.Scope)))
		return &IngestResult{Outcome: IngestCreated, MemoryID: mem.ID, Similarity: check.Similarity}, nil

	case DecisionMerge:
		if err := m.merge(ctx, check.Existing.ID); err != nil {
			ingestTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		ingestTotal.WithLabelValues(string(IngestMerged)).Inc()
		return &IngestResult{Outcome: IngestMerged, MemoryID: check.Existing.ID, Similarity: check.Similarity}, nil

	case DecisionDuplicate:
		ingestTotal.WithLabelValues(string(IngestDiscarded)).Inc()
		m.logger.Debug("duplicate candidate discarded",
			zap.String("existing_id", check.Existing.ID),
			zap.Float64("similarity", check.Similarity))
		return &IngestResult{Outcome: IngestDiscarded, MemoryID: check.Existing.ID, Similarity: check.Similarity}, nil
	}

	return nil, fmt.Errorf("unknown dedup decision %q", check.Decision)
}

// merge reinforces an existing memory under its id lock, retrying lost
// version races a bounded number of times.
func (m *Manager) merge(ctx context.Context, id string) error {
	unlock := m.locks.lock(id)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt <= m.cfg.ConflictRetries; attempt++ {
		if attempt > 0 {
			conflictRetries.Inc()
		}
		existing, err := m.store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("%w: reloading merge target %s: %v", ErrDependencyUnavailable, id, err)
		}
		if existing.Status != StatusActive {
			return fmt.Errorf("%w: merge target %s is %s", ErrInvalidTransition, id, existing.Status)
		}

		existing.Touch(time.Now())
		existing.Importance = clamp01(existing.Importance + m.cfg.ImportanceBoost)
		existing.Version++

		err = m.store.Put(ctx, existing)
		if err == nil {
			if existing.Tier == TierHot || m.cache.Contains(existing.ID) {
				m.cache.Put(existing)
			}
			m.logger.Debug("candidate merged into existing memory", zap.String("id", id))
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
		}
		lastErr = err
	}
	return lastErr
}

// Query retrieves active memories visible in scope, score-ordered under the
// token budget. A zero-value budget selects the configured default; an
// explicit MaxTokens of zero with a reserve set still means "admit nothing".
func (m *Manager) Query(ctx context.Context, qc QueryContext, scope Scope, budget TokenBudget) ([]*Memory, error) {
	if budget == (TokenBudget{}) {
		budget = m.cfg.DefaultBudget
	}
	return m.retriever.Retrieve(ctx, qc, scope, budget)
}

// Correct applies evidence against the memory with the given id.
func (m *Manager) Correct(ctx context.Context, id string, ev Evidence) (*EvidenceResult, error) {
	return m.corrector.Apply(ctx, id, ev)
}

// Share promotes the memory with the given id into a strictly wider scope.
func (m *Manager) Share(ctx context.Context, id string, target Scope) (*ShareResult, error) {
	return m.sharer.Promote(ctx, id, target)
}

// Sweep reclassifies tiers for one scope and returns how many memories
// moved. The background sweeper calls this on a schedule; it is also safe
// to invoke directly.
func (m *Manager) Sweep(ctx context.Context, scope Scope) (int, error) {
	return m.adjuster.Adjust(ctx, scope)
}

// Get loads a memory by id, cache first.
func (m *Manager) Get(ctx context.Context, id string) (*Memory, error) {
	if cached := m.cache.Get(id); cached != nil {
		return cached, nil
	}
	mem, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if mem.Tier == TierHot {
		m.cache.Put(mem)
	}
	return mem, nil
}

// TierAdjuster exposes the adjuster for sweeper construction.
func (m *Manager) TierAdjuster() *TierAdjuster {
	return m.adjuster
}

// CacheLen reports how many memories a scope currently holds in cache.
func (m *Manager) CacheLen(scope Scope) int {
	return m.cache.Len(scope)
}
