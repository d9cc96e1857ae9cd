// Package store provides the durable chromem-go backed storage for the
// memory engine.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// Config holds configuration for the chromem-backed store.
type Config struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/recalld/store"
	Path string

	// Compress enables gzip compression for stored vector data.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/recalld/store"
	}
}

// ChromemStore implements memory.Storage on chromem-go.
//
// chromem-go is an embeddable vector database with zero third-party
// dependencies: pure Go, no external service, automatic persistence to
// disk. It serves as the similarity index, one collection per scope.
//
// chromem has no efficient get-by-id or full scan, so the store keeps the
// authoritative memory records and directory entries in memory, snapshotted
// to a JSON sidecar file after every mutation. On open, the sidecar is the
// source of truth and the collections are reconciled against it.
type ChromemStore struct {
	db     *chromem.DB
	path   string
	logger *zap.Logger

	mu       sync.RWMutex
	memories map[string]*memory.Memory
	entries  map[memory.Scope]map[string]memory.DirectoryEntry

	collections map[memory.Scope]*chromem.Collection
}

// snapshot is the on-disk shape of the directory sidecar.
type snapshot struct {
	Memories []*memory.Memory `json:"memories"`
}

const sidecarName = "directory.json"

// NewChromemStore opens or creates a persistent store at config.Path.
func NewChromemStore(config Config, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(filepath.Join(path, "vectors"), config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	s := &ChromemStore{
		db:          db,
		path:        path,
		logger:      logger,
		memories:    make(map[string]*memory.Memory),
		entries:     make(map[memory.Scope]map[string]memory.DirectoryEntry),
		collections: make(map[memory.Scope]*chromem.Collection),
	}
	for _, scope := range memory.AllScopes() {
		col, err := db.GetOrCreateCollection(collectionName(scope), nil, rejectServerSideEmbedding)
		if err != nil {
			return nil, fmt.Errorf("opening collection for scope %s: %w", scope, err)
		}
		s.collections[scope] = col
		s.entries[scope] = make(map[string]memory.DirectoryEntry)
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	logger.Info("chromem store opened",
		zap.String("path", path),
		zap.Bool("compress", config.Compress),
		zap.Int("memories", len(s.memories)))
	return s, nil
}

// rejectServerSideEmbedding is the collection embedding func. Embeddings are
// always computed upstream and attached to documents explicitly; chromem
// must never fall back to its default remote embedder.
func rejectServerSideEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embeddings must be supplied by the caller")
}

func collectionName(scope memory.Scope) string {
	return "memories_" + string(scope)
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// load restores the directory sidecar and reconciles the collections so the
// vector index never disagrees with the authoritative records.
func (s *ChromemStore) load() error {
	data, err := os.ReadFile(filepath.Join(s.path, sidecarName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading directory sidecar: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parsing directory sidecar: %w", err)
	}

	ctx := context.Background()
	for _, m := range snap.Memories {
		s.memories[m.ID] = m
		s.entries[m.Scope][m.ID] = m.Entry()
		if err := s.indexDocument(ctx, m); err != nil {
			return fmt.Errorf("reindexing memory %s: %w", m.ID, err)
		}
	}
	return nil
}

// Get returns a deep copy of the memory with the given id.
func (s *ChromemStore) Get(ctx context.Context, id string) (*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.memories[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	return m.Clone(), nil
}

// Put atomically writes a memory and its directory entry, enforcing
// compare-and-swap on Memory.Version.
func (s *ChromemStore) Put(ctx context.Context, m *memory.Memory) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", memory.ErrInvalidMemory, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.memories[m.ID]
	switch {
	case ok && m.Version != existing.Version+1:
		return fmt.Errorf("%w: memory %s at version %d, put carries %d",
			memory.ErrConflict, m.ID, existing.Version, m.Version)
	case ok && m.Scope != existing.Scope:
		return fmt.Errorf("%w: scope is immutable, promote instead", memory.ErrInvalidMemory)
	case !ok && m.Version != 1:
		return fmt.Errorf("%w: new memory %s must carry version 1, got %d",
			memory.ErrConflict, m.ID, m.Version)
	}

	stored := m.Clone()
	if err := s.indexDocument(ctx, stored); err != nil {
		if existing != nil {
			s.restoreIndex(ctx, existing)
		}
		return fmt.Errorf("indexing memory %s: %w", m.ID, err)
	}

	s.memories[m.ID] = stored
	s.entries[m.Scope][m.ID] = stored.Entry()
	if err := s.persist(); err != nil {
		// A failed put must not leave a record that Get or ScanByScope
		// can observe.
		if existing != nil {
			s.memories[m.ID] = existing
			s.entries[m.Scope][m.ID] = existing.Entry()
			s.restoreIndex(ctx, existing)
		} else {
			delete(s.memories, m.ID)
			delete(s.entries[m.Scope], m.ID)
			if derr := s.collections[m.Scope].Delete(ctx, nil, nil, m.ID); derr != nil {
				s.logger.Warn("failed to unwind index document", zap.String("id", m.ID), zap.Error(derr))
			}
		}
		return err
	}
	return nil
}

// restoreIndex best-effort reindexes the prior record after a failed write.
// Caller holds the write lock.
func (s *ChromemStore) restoreIndex(ctx context.Context, m *memory.Memory) {
	if err := s.indexDocument(ctx, m); err != nil {
		s.logger.Warn("failed to restore index document", zap.String("id", m.ID), zap.Error(err))
	}
}

// indexDocument replaces the memory's document in its scope collection.
// chromem's AddDocument does not upsert, so a stale document is deleted
// first. A memory without an embedding stays out of the vector index but
// remains scannable through the directory. Caller holds the write lock.
func (s *ChromemStore) indexDocument(ctx context.Context, m *memory.Memory) error {
	col := s.collections[m.Scope]
	if len(m.Embedding) == 0 {
		if err := col.Delete(ctx, nil, nil, m.ID); err != nil {
			s.logger.Debug("no document to drop for unembedded memory", zap.String("id", m.ID), zap.Error(err))
		}
		return nil
	}
	if err := col.Delete(ctx, nil, nil, m.ID); err != nil {
		s.logger.Debug("no stale document to replace", zap.String("id", m.ID), zap.Error(err))
	}
	return col.AddDocument(ctx, chromem.Document{
		ID:      m.ID,
		Content: m.Content,
		Metadata: map[string]string{
			"type":   string(m.Type),
			"status": string(m.Status),
			"tier":   string(m.Tier),
		},
		Embedding: m.Embedding,
	})
}

// Delete removes a memory, its directory entry, and its index document.
func (s *ChromemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memories[id]
	if !ok {
		return memory.ErrNotFound
	}

	delete(s.memories, id)
	delete(s.entries[m.Scope], id)
	if err := s.collections[m.Scope].Delete(ctx, nil, nil, id); err != nil {
		s.logger.Warn("failed to delete index document", zap.String("id", id), zap.Error(err))
	}
	if err := s.persist(); err != nil {
		s.memories[id] = m
		s.entries[m.Scope][id] = m.Entry()
		s.restoreIndex(ctx, m)
		return err
	}
	return nil
}

// ScanByScope returns the directory entries of a single scope matching the
// filter, ordered by memory id for determinism.
func (s *ChromemStore) ScanByScope(ctx context.Context, scope memory.Scope, filter memory.EntryFilter) ([]memory.DirectoryEntry, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: unknown scope %q", memory.ErrInvalidMemory, scope)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []memory.DirectoryEntry
	for _, e := range s.entries[scope] {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

// Nearest returns up to k filtered directory entries ordered by descending
// similarity to the probe. The collection is queried wide and the results
// post-filtered against the authoritative directory, because chromem's
// metadata filters cannot express tag overlap.
func (s *ChromemStore) Nearest(ctx context.Context, scope memory.Scope, probe []float32, k int, filter memory.EntryFilter) ([]memory.Neighbor, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: unknown scope %q", memory.ErrInvalidMemory, scope)
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.collections[scope]
	count := col.Count()
	if count == 0 {
		return nil, nil
	}

	// chromem requires nResults <= document count.
	results, err := col.QueryEmbedding(ctx, probe, count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying scope %s: %w", scope, err)
	}

	var out []memory.Neighbor
	for _, r := range results {
		e, ok := s.entries[scope][r.ID]
		if !ok {
			continue
		}
		if !filter.Matches(e) {
			continue
		}
		out = append(out, memory.Neighbor{Entry: e, Similarity: float64(r.Similarity)})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// persist writes the directory sidecar atomically via temp file and rename.
// Caller holds the write lock.
func (s *ChromemStore) persist() error {
	snap := snapshot{Memories: make([]*memory.Memory, 0, len(s.memories))}
	for _, m := range s.memories {
		snap.Memories = append(snap.Memories, m)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding directory sidecar: %w", err)
	}

	final := filepath.Join(s.path, sidecarName)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing directory sidecar: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("committing directory sidecar: %w", err)
	}
	return nil
}

// Count returns the number of stored memories across all scopes.
func (s *ChromemStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.memories)
}

// Close flushes the directory sidecar. chromem persists documents as they
// are written, so no further teardown is needed.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}

func sortEntries(entries []memory.DirectoryEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].MemoryID < entries[j].MemoryID
	})
}

// Ensure ChromemStore implements the engine's storage contract.
var _ memory.Storage = (*ChromemStore)(nil)
