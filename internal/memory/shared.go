package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ShareOutcome describes what a scope promotion did.
type ShareOutcome string

const (
	// SharePromoted means a new copy now exists in the wider scope.
	SharePromoted ShareOutcome = "promoted"

	// ShareReinforced means the wider scope already held an equivalent
	// memory, which was reinforced instead of duplicated.
	ShareReinforced ShareOutcome = "reinforced"
)

// ShareResult reports the outcome of a scope promotion.
type ShareResult struct {
	Outcome ShareOutcome `json:"outcome"`

	// MemoryID is the wider-scope memory now carrying the knowledge:
	// the new copy when promoted, the pre-existing match when reinforced.
	MemoryID string `json:"memory_id"`

	// OriginID is the narrower-scope source memory, which stays in place.
	OriginID string `json:"origin_id"`
}

// Sharer promotes memories from a narrow scope into a wider one.
//
// Promotion copies: the source memory stays where it is, and a new record
// is created in the target scope with an origin link back to the source.
// Scope on an existing memory is otherwise immutable, so promotion is the
// only way knowledge crosses a scope boundary.
type Sharer struct {
	store  Storage
	dedup  *Deduplicator
	cache  *Cache
	locks  *idLocks
	cfg    Config
	logger *zap.Logger
}

// NewSharer creates a sharer using the manager's deduplicator and locks.
func NewSharer(store Storage, dedup *Deduplicator, cache *Cache, locks *idLocks, cfg Config, logger *zap.Logger) *Sharer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sharer{store: store, dedup: dedup, cache: cache, locks: locks, cfg: cfg, logger: logger}
}

// Promote copies the memory with the given id into the target scope.
//
// The target must be strictly wider than the source's scope; narrowing or
// same-scope promotion is rejected. Only active memories promote. The copy
// runs through dedup against the target scope first: if an equivalent
// memory already lives there, that memory is reinforced and no copy is
// created.
func (s *Sharer) Promote(ctx context.Context, id string, target Scope) (*ShareResult, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown target scope %q", ErrInvalidTransition, target)
	}

	src, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: loading memory %s: %v", ErrDependencyUnavailable, id, err)
	}
	if !target.Wider(src.Scope) {
		return nil, fmt.Errorf("%w: cannot promote from %s to %s", ErrInvalidTransition, src.Scope, target)
	}
	if src.Status != StatusActive {
		return nil, fmt.Errorf("%w: cannot promote %s memory %s", ErrInvalidTransition, src.Status, id)
	}

	// Reuse the source's embedding so the copy shares its similarity
	// identity with the original.
	cand := &Candidate{
		Content:    src.Content,
		Claim:      src.Claim,
		Type:       src.Type,
		Scope:      target,
		Tags:       append([]string(nil), src.Tags...),
		Confidence: src.Importance,
		Embedding:  append([]float32(nil), src.Embedding...),
	}

	check, err := s.dedup.Check(ctx, cand)
	if err != nil {
		return nil, err
	}

	if check.Decision != DecisionAcceptNew {
		res, err := s.reinforce(ctx, check.Existing.ID, src.ID)
		if err != nil {
			return nil, err
		}
		shareTotal.WithLabelValues(string(ShareReinforced)).Inc()
		return res, nil
	}

	now := time.Now()
	promoted := &Memory{
		ID:             uuid.New().String(),
		Content:        src.Content,
		Claim:          cand.Claim,
		Type:           src.Type,
		Tier:           src.Tier,
		Status:         StatusActive,
		Scope:          target,
		Tags:           cand.Tags,
		Embedding:      cand.Embedding,
		Importance:     src.Importance,
		CreatedAt:      now,
		LastAccessedAt: now,
		Links:          Links{Origin: src.ID},
		Version:        1,
	}
	if err := s.store.Put(ctx, promoted); err != nil {
		return nil, fmt.Errorf("%w: storing promoted copy: %v", ErrDependencyUnavailable, err)
	}
	if promoted.Tier == TierHot {
		s.cache.Put(promoted)
	}

	shareTotal.WithLabelValues(string(SharePromoted)).Inc()
	s.logger.Info("memory promoted to wider scope",
		zap.String("origin_id", src.ID),
		zap.String("copy_id", promoted.ID),
		zap.String("from", string(src.Scope)),
		zap.String("to", string(target)))
	return &ShareResult{Outcome: SharePromoted, MemoryID: promoted.ID, OriginID: src.ID}, nil
}

// reinforce boosts the already-present wider-scope memory and records the
// source in its related links, retrying lost version races.
func (s *Sharer) reinforce(ctx context.Context, existingID, originID string) (*ShareResult, error) {
	unlock := s.locks.lock(existingID)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt <= s.cfg.ConflictRetries; attempt++ {
		if attempt > 0 {
			conflictRetries.Inc()
		}
		existing, err := s.store.Get(ctx, existingID)
		if err != nil {
			return nil, fmt.Errorf("%w: loading existing memory %s: %v", ErrDependencyUnavailable, existingID, err)
		}

		existing.Importance = clamp01(existing.Importance + s.cfg.ImportanceBoost)
		if !containsString(existing.Links.Related, originID) {
			existing.Links.Related = append(existing.Links.Related, originID)
		}
		existing.Version++

		err = s.store.Put(ctx, existing)
		if err == nil {
			if existing.Tier == TierHot || s.cache.Contains(existing.ID) {
				s.cache.Put(existing)
			}
			s.logger.Info("promotion reinforced existing wider-scope memory",
				zap.String("origin_id", originID),
				zap.String("existing_id", existingID))
			return &ShareResult{Outcome: ShareReinforced, MemoryID: existingID, OriginID: originID}, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
		}
		lastErr = err
	}
	return nil, lastErr
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
