package memory

import (
	"context"
	"testing"
	"time"
)

func TestGraph_CreateEdge(t *testing.T) {
	g := NewGraph(newTestDB(t))
	ctx := context.Background()

	edge, err := g.CreateEdge(ctx, "t", "mem-a", "mem-b", RelationUsedWith)
	if err != nil {
		t.Fatalf("create edge failed: %v", err)
	}
	if edge.Frequency != 1 {
		t.Errorf("new edge frequency should be 1, got %d", edge.Frequency)
	}
	if edge.Strength != 0.5 {
		t.Errorf("new edge strength should default to 0.5, got %f", edge.Strength)
	}
}

func TestGraph_CreateEdge_Validation(t *testing.T) {
	g := NewGraph(newTestDB(t))
	ctx := context.Background()

	cases := []struct {
		name    string
		tenant  string
		from    string
		to      string
		relType RelationType
	}{
		{"missing tenant", "", "a", "b", RelationUsedWith},
		{"missing from", "t", "", "b", RelationUsedWith},
		{"self edge", "t", "a", "a", RelationUsedWith},
		{"bad type", "t", "a", "b", RelationType("friends_with")},
	}
	for _, tc := range cases {
		if _, err := g.CreateEdge(ctx, tc.tenant, tc.from, tc.to, tc.relType); !IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestGraph_CreateEdge_DuplicateIncrementsFrequency(t *testing.T) {
	g := NewGraph(newTestDB(t))
	ctx := context.Background()

	first, err := g.CreateEdge(ctx, "t", "mem-a", "mem-b", RelationUsedWith)
	if err != nil {
		t.Fatalf("create edge failed: %v", err)
	}
	firstUsed := first.LastUsedAt
	time.Sleep(5 * time.Millisecond)

	second, err := g.CreateEdge(ctx, "t", "mem-a", "mem-b", RelationUsedWith)
	if err != nil {
		t.Fatalf("duplicate create failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("duplicate create must reuse the existing edge")
	}
	if second.Frequency != 2 {
		t.Errorf("frequency should be 2, got %d", second.Frequency)
	}
	if second.Strength != 0.5 {
		t.Errorf("strength must not change on duplicate create, got %f", second.Strength)
	}
	if !second.LastUsedAt.After(firstUsed) {
		t.Errorf("lastUsedAt should advance on duplicate create")
	}

	// Reverse direction is a distinct edge
	reverse, err := g.CreateEdge(ctx, "t", "mem-b", "mem-a", RelationUsedWith)
	if err != nil {
		t.Fatalf("reverse create failed: %v", err)
	}
	if reverse.ID == first.ID || reverse.Frequency != 1 {
		t.Errorf("reverse edge must be independent of the forward one")
	}
}

func TestGraph_Neighbors_FilteredAndSorted(t *testing.T) {
	db := newTestDB(t)
	g := NewGraph(db)
	ctx := context.Background()

	edges := []struct {
		to       string
		strength float64
	}{
		{"weak", 0.2},
		{"strong", 0.9},
		{"medium", 0.6},
	}
	for _, e := range edges {
		edge, err := g.CreateEdge(ctx, "t", "root", e.to, RelationRelatedTo)
		if err != nil {
			t.Fatalf("create edge failed: %v", err)
		}
		if _, err := g.UpdateStrength(ctx, "t", edge.ID, e.strength); err != nil {
			t.Fatalf("update strength failed: %v", err)
		}
	}

	got, err := g.Neighbors(ctx, "t", "root", 0.5)
	if err != nil {
		t.Fatalf("neighbors failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 neighbors at minStrength 0.5, got %d", len(got))
	}
	if got[0].MemoryID != "strong" || got[1].MemoryID != "medium" {
		t.Errorf("neighbors should sort by strength descending, got %+v", got)
	}
}

func TestGraph_Traverse_DeduplicatesCycles(t *testing.T) {
	g := NewGraph(newTestDB(t))
	ctx := context.Background()

	// a -> b -> c -> a forms a cycle
	pairs := [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}}
	for _, p := range pairs {
		if _, err := g.CreateEdge(ctx, "t", p[0], p[1], RelationRelatedTo); err != nil {
			t.Fatalf("create edge failed: %v", err)
		}
	}

	got, err := g.Traverse(ctx, "t", "a", 0, 5)
	if err != nil {
		t.Fatalf("traverse failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected b and c exactly once, got %d results", len(got))
	}
	seen := map[string]bool{}
	for _, n := range got {
		if seen[n.MemoryID] || n.MemoryID == "a" {
			t.Errorf("traverse must not revisit nodes or return the origin")
		}
		seen[n.MemoryID] = true
	}
}

func TestGraph_Traverse_DepthOne(t *testing.T) {
	g := NewGraph(newTestDB(t))
	ctx := context.Background()

	if _, err := g.CreateEdge(ctx, "t", "a", "b", RelationRelatedTo); err != nil {
		t.Fatalf("create edge failed: %v", err)
	}
	if _, err := g.CreateEdge(ctx, "t", "b", "c", RelationRelatedTo); err != nil {
		t.Fatalf("create edge failed: %v", err)
	}

	got, err := g.Traverse(ctx, "t", "a", 0, 1)
	if err != nil {
		t.Fatalf("traverse failed: %v", err)
	}
	if len(got) != 1 || got[0].MemoryID != "b" {
		t.Errorf("depth 1 should reach only b, got %+v", got)
	}
}

func TestGraph_UpdateStrength_RejectsOutOfRange(t *testing.T) {
	g := NewGraph(newTestDB(t))
	ctx := context.Background()

	edge, err := g.CreateEdge(ctx, "t", "a", "b", RelationUsedWith)
	if err != nil {
		t.Fatalf("create edge failed: %v", err)
	}

	if _, err := g.UpdateStrength(ctx, "t", edge.ID, 1.5); !IsValidation(err) {
		t.Fatalf("strength 1.5 must fail validation, got %v", err)
	}
	if _, err := g.UpdateStrength(ctx, "t", edge.ID, -0.1); !IsValidation(err) {
		t.Fatalf("strength -0.1 must fail validation, got %v", err)
	}

	// Stored value is untouched by the rejected updates
	refreshed, err := g.CreateEdge(ctx, "t", "a", "b", RelationUsedWith)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if refreshed.Strength != 0.5 {
		t.Errorf("stored strength must stay 0.5 after rejected updates, got %f", refreshed.Strength)
	}

	updated, err := g.UpdateStrength(ctx, "t", edge.ID, 0.8)
	if err != nil {
		t.Fatalf("valid update failed: %v", err)
	}
	if updated.Strength != 0.8 {
		t.Errorf("expected strength 0.8, got %f", updated.Strength)
	}
}

func TestGraph_UpdateStrength_NotFound(t *testing.T) {
	g := NewGraph(newTestDB(t))
	if _, err := g.UpdateStrength(context.Background(), "t", "missing", 0.5); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGraph_DeleteEdge(t *testing.T) {
	g := NewGraph(newTestDB(t))
	ctx := context.Background()

	if _, err := g.CreateEdge(ctx, "t", "a", "b", RelationUsedWith); err != nil {
		t.Fatalf("create edge failed: %v", err)
	}

	deleted, err := g.DeleteEdge(ctx, "t", "a", "b")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !deleted {
		t.Errorf("expected delete to report true")
	}

	deleted, err = g.DeleteEdge(ctx, "t", "a", "b")
	if err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
	if deleted {
		t.Errorf("second delete should report false")
	}
}
