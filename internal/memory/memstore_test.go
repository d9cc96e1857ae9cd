package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInMemoryStorage_PutGet tests the basic round trip.
func TestInMemoryStorage_PutGet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStorage()

	m := newTestMemory(ScopePrivate, "deploys run from main", nil)
	require.NoError(t, store.Put(ctx, m))

	got, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, int64(1), got.Version)

	// The returned copy is independent of the stored record.
	got.Content = "mutated"
	again, err := store.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "deploys run from main", again.Content)
}

// TestInMemoryStorage_GetUnknown tests ErrNotFound for unknown ids.
func TestInMemoryStorage_GetUnknown(t *testing.T) {
	store := NewInMemoryStorage()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// TestInMemoryStorage_VersionCAS tests the compare-and-swap contract.
func TestInMemoryStorage_VersionCAS(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStorage()

	m := newTestMemory(ScopePrivate, "fact", nil)
	require.NoError(t, store.Put(ctx, m))

	// Re-putting the same version loses the race.
	stale := m.Clone()
	assert.ErrorIs(t, store.Put(ctx, stale), ErrConflict)

	// Skipping a version also conflicts.
	skipped := m.Clone()
	skipped.Version = 3
	assert.ErrorIs(t, store.Put(ctx, skipped), ErrConflict)

	// Exactly one above succeeds.
	next := m.Clone()
	next.Version = 2
	require.NoError(t, store.Put(ctx, next))

	// A new memory must start at version 1.
	fresh := newTestMemory(ScopePrivate, "another fact", nil)
	fresh.Version = 4
	assert.ErrorIs(t, store.Put(ctx, fresh), ErrConflict)
}

// TestInMemoryStorage_ScopeImmutable tests that scope cannot change in place.
func TestInMemoryStorage_ScopeImmutable(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStorage()

	m := newTestMemory(ScopePrivate, "fact", nil)
	require.NoError(t, store.Put(ctx, m))

	moved := m.Clone()
	moved.Scope = ScopeTeam
	moved.Version = 2
	assert.ErrorIs(t, store.Put(ctx, moved), ErrInvalidMemory)
}

// TestInMemoryStorage_Delete tests removal of the memory and its entry.
func TestInMemoryStorage_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStorage()

	m := newTestMemory(ScopeTeam, "fact", nil)
	require.NoError(t, store.Put(ctx, m))
	require.NoError(t, store.Delete(ctx, m.ID))

	_, err := store.Get(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := store.ScanByScope(ctx, ScopeTeam, EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, store.Delete(ctx, m.ID), ErrNotFound)
}

// TestInMemoryStorage_ScanByScope tests scope isolation and filtering.
func TestInMemoryStorage_ScanByScope(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStorage()

	private := newTestMemory(ScopePrivate, "private fact", nil)
	team := newTestMemory(ScopeTeam, "team fact", nil)
	archived := newTestMemory(ScopeTeam, "old fact", nil)
	archived.Tier = TierArchived
	mustPut(store, private)
	mustPut(store, team)
	mustPut(store, archived)

	entries, err := store.ScanByScope(ctx, ScopeTeam, EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, team.ID, entries[0].MemoryID)

	entries, err = store.ScanByScope(ctx, ScopeTeam, EntryFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// TestInMemoryStorage_Nearest tests similarity ordering and k capping.
func TestInMemoryStorage_Nearest(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStorage()

	exact := newTestMemory(ScopePrivate, "exact", []float32{1, 0, 0})
	near := newTestMemory(ScopePrivate, "near", []float32{0.9, 0.1, 0})
	far := newTestMemory(ScopePrivate, "far", []float32{0, 1, 0})
	mustPut(store, exact)
	mustPut(store, near)
	mustPut(store, far)

	ns, err := store.Nearest(ctx, ScopePrivate, []float32{1, 0, 0}, 2, EntryFilter{})
	require.NoError(t, err)
	require.Len(t, ns, 2)
	assert.Equal(t, exact.ID, ns[0].Entry.MemoryID)
	assert.Equal(t, near.ID, ns[1].Entry.MemoryID)
	assert.Greater(t, ns[0].Similarity, ns[1].Similarity)

	ns, err = store.Nearest(ctx, ScopePrivate, []float32{1, 0, 0}, 0, EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, ns)
}
