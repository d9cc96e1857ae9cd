package memory

import "context"

// EntryFilter narrows a directory scan. Zero value matches every
// non-archived entry.
type EntryFilter struct {
	// Types restricts matches to the listed memory types.
	Types []Type

	// Tags requires at least one overlapping tag when non-empty.
	Tags []string

	// Statuses restricts matches to the listed statuses.
	Statuses []Status

	// IncludeArchived opts archived-tier entries into the scan. Archived
	// memories are otherwise invisible to scans; this is the explicit
	// archive query path.
	IncludeArchived bool
}

// Matches reports whether the entry passes the filter.
func (f EntryFilter) Matches(e DirectoryEntry) bool {
	if e.Tier == TierArchived && !f.IncludeArchived {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, e.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, e.Status) {
		return false
	}
	if len(f.Tags) > 0 && !overlaps(f.Tags, e.Tags) {
		return false
	}
	return true
}

func containsType(ts []Type, t Type) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}

func containsStatus(ss []Status, s Status) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// Neighbor is a directory entry paired with its similarity to a probe
// embedding.
type Neighbor struct {
	Entry      DirectoryEntry
	Similarity float64
}

// Storage is the durable store consumed by the engine. It is the single
// source of truth for memories and their directory entries.
//
// Put must write the memory and its directory entry atomically, and must
// enforce compare-and-swap on Memory.Version: a put whose version is not
// exactly one above the stored version fails with ErrConflict. New memories
// carry version 1.
//
// Implementations must be safe for concurrent use.
type Storage interface {
	// Get returns the memory with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Memory, error)

	// Put atomically writes a memory together with its directory entry.
	Put(ctx context.Context, m *Memory) error

	// Delete removes a memory and its directory entry. Deleting an unknown
	// id returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// ScanByScope returns the directory entries in a single scope matching
	// the filter. Entries from wider scopes are not included; visibility
	// composition is the retriever's job.
	ScanByScope(ctx context.Context, scope Scope, filter EntryFilter) ([]DirectoryEntry, error)

	// Nearest returns up to k directory entries in the scope ordered by
	// descending embedding similarity to the probe, after filtering.
	// A non-positive k yields no neighbors, not an error.
	Nearest(ctx context.Context, scope Scope, probe []float32, k int, filter EntryFilter) ([]Neighbor, error)
}

// Embedder turns text into a fixed-length vector. Failures are transient
// and retryable by the caller; the ingest pipeline never drops a candidate
// silently on embedding failure.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}
