package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemoryStorage is a Storage implementation backed by process memory.
// It is the reference implementation for the compare-and-swap contract and
// backs the engine's tests; embedders that need a durable store should use
// the chromem-backed implementation instead.
type InMemoryStorage struct {
	mu       sync.RWMutex
	memories map[string]*Memory
	entries  map[Scope]map[string]DirectoryEntry
}

// NewInMemoryStorage creates an empty in-memory store.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		memories: make(map[string]*Memory),
		entries:  make(map[Scope]map[string]DirectoryEntry),
	}
}

// Get returns a copy of the stored memory.
func (s *InMemoryStorage) Get(ctx context.Context, id string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memories[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

// Put writes the memory and its directory entry atomically, enforcing the
// version compare-and-swap.
func (s *InMemoryStorage) Put(ctx context.Context, m *Memory) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMemory, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.memories[m.ID]; ok {
		if m.Version != existing.Version+1 {
			return fmt.Errorf("%w: memory %s at version %d, put carries %d",
				ErrConflict, m.ID, existing.Version, m.Version)
		}
		// Scope is immutable; a scope change would orphan the old entry.
		if existing.Scope != m.Scope {
			return fmt.Errorf("%w: memory scope cannot change", ErrInvalidMemory)
		}
	} else if m.Version != 1 {
		return fmt.Errorf("%w: new memory %s must carry version 1", ErrConflict, m.ID)
	}

	s.memories[m.ID] = m.Clone()
	if s.entries[m.Scope] == nil {
		s.entries[m.Scope] = make(map[string]DirectoryEntry)
	}
	s.entries[m.Scope][m.ID] = m.Entry()
	return nil
}

// Delete removes the memory and its directory entry.
func (s *InMemoryStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memories[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.memories, id)
	delete(s.entries[m.Scope], id)
	return nil
}

// ScanByScope returns the directory entries of one scope matching the filter.
func (s *InMemoryStorage) ScanByScope(ctx context.Context, scope Scope, filter EntryFilter) ([]DirectoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []DirectoryEntry
	for _, e := range s.entries[scope] {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	// Stable order keeps scans deterministic for callers that iterate.
	sort.Slice(out, func(i, j int) bool { return out[i].MemoryID < out[j].MemoryID })
	return out, nil
}

// Nearest brute-forces cosine similarity over the scope's entries. Exact
// search is fine at in-process scale; external stores delegate to their
// vector index.
func (s *InMemoryStorage) Nearest(ctx context.Context, scope Scope, probe []float32, k int, filter EntryFilter) ([]Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var ns []Neighbor
	for _, e := range s.entries[scope] {
		if !filter.Matches(e) || len(e.Embedding) == 0 {
			continue
		}
		ns = append(ns, Neighbor{Entry: e, Similarity: CosineSimilarity(probe, e.Embedding)})
	}
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Similarity != ns[j].Similarity {
			return ns[i].Similarity > ns[j].Similarity
		}
		return ns[i].Entry.MemoryID < ns[j].Entry.MemoryID
	})
	if len(ns) > k {
		ns = ns[:k]
	}
	return ns, nil
}

var _ Storage = (*InMemoryStorage)(nil)
