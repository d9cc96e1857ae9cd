package memory

import (
	"math"
	"time"
)

// Scorer computes composite relevance/importance scores. Scoring is a pure
// function of the memory, the query context, and the clock; the same inputs
// always yield the same score.
type Scorer struct {
	weights    Weights
	halfLife   time.Duration
	saturation float64
}

// NewScorer creates a scorer from the engine config.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{
		weights:    cfg.Weights,
		halfLife:   cfg.RecencyHalfLife,
		saturation: cfg.FrequencySaturation,
	}
}

// Score computes the composite score of m for the query context at time now.
//
// Components are normalized to [0,1]:
//   - recency decays exponentially with time since last access, halving
//     every configured half-life; it never goes negative
//   - frequency grows with access count but saturates, so repeated trivial
//     access cannot dominate
//   - relevance is cosine similarity between the query and memory
//     embeddings, shifted into [0,1]; a missing embedding on either side
//     yields zero relevance, not an error
//   - importance is the explicit weight carried on the memory
func (s *Scorer) Score(m *Memory, qc QueryContext, now time.Time) Score {
	sc := Score{
		Recency:    s.recency(m, now),
		Frequency:  s.frequency(m),
		Relevance:  relevance(qc.Embedding, m.Embedding),
		Importance: clamp01(m.Importance),
	}
	total := s.weights.sum()
	sc.Aggregate = (s.weights.Recency*sc.Recency +
		s.weights.Frequency*sc.Frequency +
		s.weights.Relevance*sc.Relevance +
		s.weights.Importance*sc.Importance) / total
	return sc
}

// Standing computes the query-independent score of m at time now. Tier
// sweeps carry no query, so the relevance component would read zero and
// dilute the aggregate by its full weight; Standing renormalizes over the
// remaining components instead, keeping tier thresholds comparable whether
// or not a query is present. When only the relevance weight is positive
// the aggregate is zero.
func (s *Scorer) Standing(m *Memory, now time.Time) Score {
	sc := Score{
		Recency:    s.recency(m, now),
		Frequency:  s.frequency(m),
		Importance: clamp01(m.Importance),
	}
	total := s.weights.Recency + s.weights.Frequency + s.weights.Importance
	if total <= 0 {
		return sc
	}
	sc.Aggregate = (s.weights.Recency*sc.Recency +
		s.weights.Frequency*sc.Frequency +
		s.weights.Importance*sc.Importance) / total
	return sc
}

func (s *Scorer) recency(m *Memory, now time.Time) float64 {
	last := m.LastAccessedAt
	if last.IsZero() {
		last = m.CreatedAt
	}
	age := now.Sub(last)
	if age <= 0 {
		return 1
	}
	return math.Exp2(-age.Hours() / s.halfLife.Hours())
}

func (s *Scorer) frequency(m *Memory) float64 {
	n := float64(m.AccessCount)
	if n <= 0 {
		return 0
	}
	return n / (n + s.saturation)
}

// relevance maps cosine similarity from [-1,1] into [0,1]. Either embedding
// missing means the pair cannot be compared and scores zero.
func relevance(query, mem []float32) float64 {
	if len(query) == 0 || len(mem) == 0 || len(query) != len(mem) {
		return 0
	}
	return (CosineSimilarity(query, mem) + 1) / 2
}

// CosineSimilarity computes the cosine of the angle between two equal-length
// vectors. Returns 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
