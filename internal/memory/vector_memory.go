package memory

import (
	"context"
	"sort"
	"sync"
)

// VectorHit is one approximate-nearest-neighbor result.
type VectorHit struct {
	MemoryID string
	Score    float64
}

// VectorIndex is the approximate nearest-neighbor search backend. Every query
// is scoped to a tenant; cross-tenant leakage is a correctness bug.
type VectorIndex interface {
	Upsert(ctx context.Context, tenantID, memoryID string, vector []float32) error
	Search(ctx context.Context, vector []float32, k int, tenantID string) ([]VectorHit, error)
	Delete(ctx context.Context, tenantID, memoryID string) error
}

// MemoryVectorIndex is an in-process brute-force cosine index. It backs tests
// and deployments that run without a Qdrant instance.
type MemoryVectorIndex struct {
	mu      sync.RWMutex
	vectors map[string]map[string][]float32 // tenant -> memory id -> vector
}

// NewMemoryVectorIndex creates an empty in-process index.
func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{vectors: make(map[string]map[string][]float32)}
}

// Upsert stores or replaces a vector.
func (idx *MemoryVectorIndex) Upsert(ctx context.Context, tenantID, memoryID string, vector []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	tenant, ok := idx.vectors[tenantID]
	if !ok {
		tenant = make(map[string][]float32)
		idx.vectors[tenantID] = tenant
	}
	cp := make([]float32, len(vector))
	copy(cp, vector)
	tenant[memoryID] = cp
	return nil
}

// Search returns the k nearest vectors for the tenant by cosine similarity.
// An empty result is valid, never an error.
func (idx *MemoryVectorIndex) Search(ctx context.Context, vector []float32, k int, tenantID string) ([]VectorHit, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	tenant := idx.vectors[tenantID]
	hits := make([]VectorHit, 0, len(tenant))
	for id, vec := range tenant {
		hits = append(hits, VectorHit{MemoryID: id, Score: Cosine(vector, vec)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Delete removes a vector.
func (idx *MemoryVectorIndex) Delete(ctx context.Context, tenantID, memoryID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if tenant, ok := idx.vectors[tenantID]; ok {
		delete(tenant, memoryID)
	}
	return nil
}
