// Package semantic owns the vector store backends. Two implementations share
// the Store contract: a Redis-backed store matching the production dashboard
// deployment, and a Qdrant-backed store for larger inventories. Both rank by
// cosine similarity; scores are clamped to [0,1].
package semantic

import "context"

// VectorRecord is a single vehicle vector to persist.
type VectorRecord struct {
	ID          string
	Embedding   []float32
	Attributes  map[string]any
	Description string
}

// Candidate is a raw similarity hit, before the retrieval pipeline applies
// filters and thresholds.
type Candidate struct {
	ID          string
	Score       float32
	Attributes  map[string]any
	Description string
}

// Store is the contract both backends implement. Query returns at most k
// candidates ordered by the backend's native similarity ranking (cosine).
type Store interface {
	Upsert(ctx context.Context, records []VectorRecord) error
	Query(ctx context.Context, vector []float32, k int) ([]Candidate, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}
