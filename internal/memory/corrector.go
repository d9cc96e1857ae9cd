package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Corrector applies new evidence against an existing memory and updates its
// status according to the lifecycle state machine:
//
//	active --confirming-->     active (importance reinforced, no transition)
//	active --contradicting-->  pending_review
//	active --superseding-->    superseded (replacement created and linked)
//	pending_review --confirming-->    active
//	pending_review --contradicting--> deleted
//	pending_review --superseding-->   corrected (replacement created and linked)
//
// Irrelevant evidence is always a no-op. Evidence against a memory in a
// terminal state (corrected, superseded, deleted) is rejected, never
// silently applied.
type Corrector struct {
	store    Storage
	embedder Embedder
	cache    *Cache
	locks    *idLocks
	cfg      Config
	logger   *zap.Logger
}

// NewCorrector creates a corrector sharing the manager's per-id locks.
func NewCorrector(store Storage, embedder Embedder, cache *Cache, locks *idLocks, cfg Config, logger *zap.Logger) *Corrector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Corrector{store: store, embedder: embedder, cache: cache, locks: locks, cfg: cfg, logger: logger}
}

// Apply applies evidence to the memory with the given id. The mutation is
// serialized per memory id; version races against lock-free access
// bookkeeping are retried a bounded number of times before surfacing
// ErrConflict.
func (c *Corrector) Apply(ctx context.Context, id string, ev Evidence) (*EvidenceResult, error) {
	if !ev.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown evidence type %q", ErrInvalidTransition, ev.Type)
	}

	unlock := c.locks.lock(id)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.ConflictRetries; attempt++ {
		if attempt > 0 {
			conflictRetries.Inc()
		}
		res, err := c.applyOnce(ctx, id, ev)
		if err == nil {
			correctionTotal.WithLabelValues(string(ev.Type), fmt.Sprintf("%t", res.Transitioned)).Inc()
			return res, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Corrector) applyOnce(ctx context.Context, id string, ev Evidence) (*EvidenceResult, error) {
	m, err := c.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: loading memory %s: %v", ErrDependencyUnavailable, id, err)
	}

	result := &EvidenceResult{
		MemoryID: id,
		Evidence: ev.Type,
		Previous: m.Status,
		Current:  m.Status,
	}

	if ev.Type == EvidenceIrrelevant {
		return result, nil
	}

	if m.Status.Terminal() {
		return nil, fmt.Errorf("%w: memory %s is %s", ErrInvalidTransition, id, m.Status)
	}

	switch m.Status {
	case StatusActive:
		switch ev.Type {
		case EvidenceConfirming:
			m.Importance = clamp01(m.Importance + c.cfg.ImportanceBoost)
			if err := c.persist(ctx, m); err != nil {
				return nil, err
			}
			return result, nil

		case EvidenceContradicting:
			// A single contradiction flags, it never deletes.
			return c.transition(ctx, m, StatusPendingReview, result)

		case EvidenceSuperseding:
			return c.supersede(ctx, m, ev, StatusSuperseded, result)
		}

	case StatusPendingReview:
		switch ev.Type {
		case EvidenceConfirming:
			return c.transition(ctx, m, StatusActive, result)

		case EvidenceContradicting:
			// Second contradiction without reconciling confirmation is
			// treated as resolved-false.
			return c.transition(ctx, m, StatusDeleted, result)

		case EvidenceSuperseding:
			return c.supersede(ctx, m, ev, StatusCorrected, result)
		}
	}

	return nil, fmt.Errorf("%w: %s evidence on %s memory %s", ErrInvalidTransition, ev.Type, m.Status, id)
}

// transition moves m to the target status and persists it.
func (c *Corrector) transition(ctx context.Context, m *Memory, to Status, result *EvidenceResult) (*EvidenceResult, error) {
	m.Status = to
	if err := c.persist(ctx, m); err != nil {
		return nil, err
	}
	result.Current = to
	result.Transitioned = true
	c.logger.Info("memory status transitioned",
		zap.String("id", m.ID),
		zap.String("from", string(result.Previous)),
		zap.String("to", string(to)))
	return result, nil
}

// supersede creates the replacement memory, links both records, and swaps
// which memory is active for the claim. The replacement is written first;
// if retiring the old record then fails, the replacement is rolled back so
// no partial effect persists.
func (c *Corrector) supersede(ctx context.Context, old *Memory, ev Evidence, oldStatus Status, result *EvidenceResult) (*EvidenceResult, error) {
	if ev.Content == "" {
		return nil, fmt.Errorf("%w: superseding evidence requires replacement content", ErrInvalidTransition)
	}

	vec, err := c.embedder.Embed(ctx, ev.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding replacement: %v", ErrDependencyUnavailable, err)
	}

	now := time.Now()
	replacement := &Memory{
		ID:             uuid.New().String(),
		Content:        ev.Content,
		Claim:          ev.Claim,
		Type:           old.Type,
		Tier:           old.Tier,
		Status:         StatusActive,
		Scope:          old.Scope,
		Tags:           append([]string(nil), old.Tags...),
		Embedding:      vec,
		Importance:     old.Importance,
		CreatedAt:      now,
		LastAccessedAt: now,
		Links:          Links{Supersedes: old.ID},
		Version:        1,
	}
	if err := c.store.Put(ctx, replacement); err != nil {
		return nil, fmt.Errorf("%w: storing replacement: %v", ErrDependencyUnavailable, err)
	}

	old.Status = oldStatus
	old.Links.SupersededBy = replacement.ID
	if err := c.persist(ctx, old); err != nil {
		if delErr := c.store.Delete(ctx, replacement.ID); delErr != nil {
			c.logger.Error("failed to roll back replacement after supersede failure",
				zap.String("replacement_id", replacement.ID), zap.Error(delErr))
		}
		return nil, err
	}
	c.cache.Put(replacement)

	result.Current = oldStatus
	result.Transitioned = true
	result.NewMemoryID = replacement.ID
	c.logger.Info("memory superseded",
		zap.String("id", old.ID),
		zap.String("replacement_id", replacement.ID),
		zap.String("retired_as", string(oldStatus)))
	return result, nil
}

// persist bumps the version, writes through the store, and keeps the cache
// coherent. Non-active memories are invalidated rather than cached.
func (c *Corrector) persist(ctx context.Context, m *Memory) error {
	m.Version++
	if err := c.store.Put(ctx, m); err != nil {
		if errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
	}
	if m.Status == StatusActive {
		c.cache.Put(m)
	} else {
		c.cache.Invalidate(m.ID)
	}
	return nil
}
