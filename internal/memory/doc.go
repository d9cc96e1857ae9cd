// Package memory implements the long-term memory engine for agent
// knowledge: budget-aware retrieval scored on recency, frequency,
// relevance, and importance; semantic deduplication at ingest;
// evidence-driven correction with an explicit status lifecycle;
// tiered storage with scheduled reclassification; and scope-based
// sharing from private through team to global visibility.
//
// Manager is the entry point. It coordinates the pipelines through a
// shared write-through cache and per-id locks, against any Storage and
// Embedder implementation.
package memory
