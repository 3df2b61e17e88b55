// internal/engine/retriever.go
package engine

import (
	"context"
	"fmt"
	"log"

	"memgate/internal/memory"
)

// RetrieverConfig bounds retrieval fan-out.
type RetrieverConfig struct {
	SearchK     int // nearest neighbors fetched from the vector index
	MaxMemories int // memories kept after importance filtering
	MaxNotes    int // notes returned
}

// DefaultRetrieverConfig mirrors the production defaults.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{SearchK: 5, MaxMemories: 3, MaxNotes: 3}
}

// Retriever queries the memory store, note store, and relationship graph for
// a prompt, filters, ranks, and caps the result.
type Retriever struct {
	embedder memory.Embedder
	store    *memory.Store
	notes    *memory.NoteStore
	graph    *memory.Graph
	cfg      RetrieverConfig
}

// NewRetriever creates a retrieval engine.
func NewRetriever(embedder memory.Embedder, store *memory.Store, notes *memory.NoteStore, graph *memory.Graph, cfg RetrieverConfig) *Retriever {
	if cfg.SearchK <= 0 {
		cfg.SearchK = 5
	}
	if cfg.MaxMemories <= 0 {
		cfg.MaxMemories = 3
	}
	if cfg.MaxNotes <= 0 {
		cfg.MaxNotes = 3
	}
	return &Retriever{embedder: embedder, store: store, notes: notes, graph: graph, cfg: cfg}
}

// RetrieveMemories embeds the prompt, runs tenant-scoped nearest-neighbor
// search, filters to critical/important, and caps the result. Counter side
// effects are the caller's: only items that make it into the final block
// should be marked.
func (r *Retriever) RetrieveMemories(ctx context.Context, prompt, tenantID string) ([]memory.Memory, error) {
	vector, err := r.embedder.Embed(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to embed prompt: %w", err)
	}

	candidates, err := r.store.VectorSearch(ctx, vector, r.cfg.SearchK, tenantID)
	if err != nil {
		return nil, err
	}

	selected := make([]memory.Memory, 0, r.cfg.MaxMemories)
	for _, m := range candidates {
		if m.Importance != memory.ImportanceCritical && m.Importance != memory.ImportanceImportant {
			continue
		}
		selected = append(selected, m)
		if len(selected) >= r.cfg.MaxMemories {
			break
		}
	}
	return selected, nil
}

// RetrieveNotes looks up hindsight notes: pattern match against the error
// text first, then error type, then tenant-wide keyword search over the
// prompt. Counter side effects are the caller's, same as memories.
func (r *Retriever) RetrieveNotes(ctx context.Context, prompt, errorText, errorType, tenantID string) ([]memory.HindsightNote, error) {
	var (
		notes []memory.HindsightNote
		err   error
	)

	if errorText != "" {
		notes, err = r.notes.MatchError(ctx, tenantID, errorText, r.cfg.MaxNotes)
		if err != nil {
			return nil, err
		}
	}
	if len(notes) == 0 && errorType != "" {
		notes, err = r.notes.FindByErrorType(ctx, tenantID, errorType, r.cfg.MaxNotes)
		if err != nil {
			return nil, err
		}
	}
	if len(notes) == 0 {
		notes, err = r.notes.SearchKeywords(ctx, tenantID, prompt, r.cfg.MaxNotes)
		if err != nil {
			return nil, err
		}
	}
	return notes, nil
}

// MarkInjected bumps injection telemetry for memories that actually made it
// into an injected block. Best-effort, like the store counters themselves.
func (r *Retriever) MarkInjected(ctx context.Context, tenantID string, memories []memory.Memory) {
	for _, m := range memories {
		r.store.TouchInjection(ctx, tenantID, m.ID)
	}
}

// MarkNotesAccessed bumps access telemetry for notes that actually made it
// into an injected block.
func (r *Retriever) MarkNotesAccessed(ctx context.Context, tenantID string, notes []memory.HindsightNote) {
	for _, n := range notes {
		r.notes.TouchAccess(ctx, tenantID, n.ID)
	}
}

// Related expands from a memory through the relationship graph: outgoing
// edges with strength >= minStrength, strongest first, de-duplicated across
// hops.
func (r *Retriever) Related(ctx context.Context, tenantID, memoryID string, minStrength float64, depth int) ([]memory.Neighbor, error) {
	if _, err := r.store.FindByID(ctx, tenantID, memoryID); err != nil {
		return nil, err
	}
	neighbors, err := r.graph.Traverse(ctx, tenantID, memoryID, minStrength, depth)
	if err != nil {
		return nil, err
	}
	log.Printf("[Retriever] Expanded %d neighbors for memory %s (minStrength=%.2f, depth=%d)",
		len(neighbors), memoryID, minStrength, depth)
	return neighbors, nil
}
