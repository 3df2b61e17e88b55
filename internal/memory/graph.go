// internal/memory/graph.go
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Graph stores directed, typed, weighted edges between memories. All
// identifiers are bound as query parameters, never interpolated into query
// text.
type Graph struct {
	db *gorm.DB
}

// NewGraph creates a relationship graph over the database.
func NewGraph(db *gorm.DB) *Graph {
	return &Graph{db: db}
}

// Neighbor is one expansion result: a target memory with the edge that
// reached it.
type Neighbor struct {
	MemoryID string       `json:"memory_id"`
	Type     RelationType `json:"type"`
	Strength float64      `json:"strength"`
}

// CreateEdge creates a directed edge, idempotently per (from, to) ordered
// pair per tenant: re-creating an existing edge increments its frequency and
// refreshes lastUsedAt instead of duplicating. Strength is untouched on
// duplicates.
func (g *Graph) CreateEdge(ctx context.Context, tenantID, fromID, toID string, relType RelationType) (*MemoryRelationship, error) {
	if tenantID == "" {
		return nil, &ValidationError{Field: "tenant_id", Reason: "tenant id is required"}
	}
	if fromID == "" || toID == "" {
		return nil, &ValidationError{Field: "from_id/to_id", Reason: "both memory ids are required"}
	}
	if fromID == toID {
		return nil, &ValidationError{Field: "to_id", Reason: "self-edges are not allowed"}
	}
	if err := ValidateRelationType(string(relType)); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	var existing MemoryRelationship
	err := g.db.WithContext(ctx).
		Where("tenant_id = ? AND from_id = ? AND to_id = ?", tenantID, fromID, toID).
		First(&existing).Error
	if err == nil {
		updates := map[string]interface{}{
			"frequency":    gorm.Expr("frequency + 1"),
			"last_used_at": now,
		}
		if err := g.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to refresh edge: %w", err)
		}
		existing.Frequency++
		existing.LastUsedAt = now
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up edge: %w", err)
	}

	edge := MemoryRelationship{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		FromID:     fromID,
		ToID:       toID,
		Type:       relType,
		Frequency:  1,
		Strength:   0.5,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if err := g.db.WithContext(ctx).Create(&edge).Error; err != nil {
		return nil, fmt.Errorf("failed to create edge: %w", err)
	}
	return &edge, nil
}

// Neighbors returns outgoing edges from a memory with strength >= minStrength,
// sorted by strength descending.
func (g *Graph) Neighbors(ctx context.Context, tenantID, memoryID string, minStrength float64) ([]Neighbor, error) {
	var edges []MemoryRelationship
	err := g.db.WithContext(ctx).
		Where("tenant_id = ? AND from_id = ? AND strength >= ?", tenantID, memoryID, minStrength).
		Find(&edges).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load neighbors: %w", err)
	}

	out := make([]Neighbor, 0, len(edges))
	for _, e := range edges {
		out = append(out, Neighbor{MemoryID: e.ToID, Type: e.Type, Strength: e.Strength})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strength > out[j].Strength })
	return out, nil
}

// Traverse expands from a memory through up to depth hops, de-duplicating
// already-visited ids to avoid cycles. Depth 1 is a single-hop expansion.
func (g *Graph) Traverse(ctx context.Context, tenantID, memoryID string, minStrength float64, depth int) ([]Neighbor, error) {
	if depth < 1 {
		depth = 1
	}

	visited := map[string]bool{memoryID: true}
	frontier := []string{memoryID}
	out := make([]Neighbor, 0)

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		next := make([]string, 0)
		for _, id := range frontier {
			neighbors, err := g.Neighbors(ctx, tenantID, id, minStrength)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if visited[n.MemoryID] {
					continue
				}
				visited[n.MemoryID] = true
				out = append(out, n)
				next = append(next, n.MemoryID)
			}
		}
		frontier = next
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Strength > out[j].Strength })
	return out, nil
}

// UpdateStrength sets an edge's strength. Values outside [0,1] are a
// validation failure, not a silent clamp; the stored value stays unchanged.
func (g *Graph) UpdateStrength(ctx context.Context, tenantID, edgeID string, strength float64) (*MemoryRelationship, error) {
	if strength < 0 || strength > 1 {
		return nil, &ValidationError{Field: "strength", Reason: fmt.Sprintf("strength %.2f outside [0,1]", strength)}
	}

	var edge MemoryRelationship
	err := g.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", edgeID, tenantID).
		First(&edge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load edge: %w", err)
	}

	now := time.Now().UTC()
	err = g.db.WithContext(ctx).Model(&edge).Updates(map[string]interface{}{
		"strength":     strength,
		"last_used_at": now,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update strength: %w", err)
	}
	edge.Strength = strength
	edge.LastUsedAt = now
	return &edge, nil
}

// DeleteEdge removes a directed edge. Returns false when no such edge exists.
func (g *Graph) DeleteEdge(ctx context.Context, tenantID, fromID, toID string) (bool, error) {
	res := g.db.WithContext(ctx).
		Where("tenant_id = ? AND from_id = ? AND to_id = ?", tenantID, fromID, toID).
		Delete(&MemoryRelationship{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete edge: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
