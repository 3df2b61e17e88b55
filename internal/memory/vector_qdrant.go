// internal/memory/vector_qdrant.go
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantIndex is the Qdrant-backed vector index.
type QdrantIndex struct {
	client         *qdrant.Client
	collectionName string
}

// NewQdrantIndex connects to Qdrant and ensures the collection exists.
func NewQdrantIndex(qdrantURL, collectionName, apiKey string) (*QdrantIndex, error) {
	// Strip http:// or https:// prefix and any port
	qdrantURL = strings.TrimPrefix(qdrantURL, "http://")
	qdrantURL = strings.TrimPrefix(qdrantURL, "https://")

	host := qdrantURL
	if idx := strings.Index(qdrantURL, ":"); idx != -1 {
		host = qdrantURL[:idx]
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   6334, // gRPC port
		APIKey: apiKey,
		UseTLS: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	qi := &QdrantIndex{
		client:         client,
		collectionName: collectionName,
	}

	if err := qi.ensureCollection(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return qi, nil
}

// ensureCollection creates the collection if it doesn't exist.
func (qi *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := qi.client.CollectionExists(ctx, qi.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = qi.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: qi.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     EmbeddingDim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Tenant filter is on the hot path of every search
	fieldType := qdrant.FieldType_FieldTypeKeyword
	_, err = qi.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: qi.collectionName,
		FieldName:      "tenant_id",
		FieldType:      &fieldType,
		Wait:           boolPtr(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create tenant index: %w", err)
	}

	return nil
}

// Upsert writes a memory's vector with its tenant payload.
func (qi *QdrantIndex) Upsert(ctx context.Context, tenantID, memoryID string, vector []float32) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(memoryID),
		Vectors: qdrant.NewVectors(vector...),
		Payload: map[string]*qdrant.Value{
			"memory_id": qdrant.NewValueString(memoryID),
			"tenant_id": qdrant.NewValueString(tenantID),
		},
	}

	_, err := qi.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qi.collectionName,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("upsert failed: %w", err)
	}
	return nil
}

// Search returns the k nearest memory ids for the tenant.
func (qi *QdrantIndex) Search(ctx context.Context, vector []float32, k int, tenantID string) ([]VectorHit, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("tenant_id", tenantID),
		},
	}

	searchResult, err := qi.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: qi.collectionName,
		Query:          qdrant.NewQuery(vector...),
		Filter:         filter,
		Limit:          uint64Ptr(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]VectorHit, 0, len(searchResult))
	for _, point := range searchResult {
		id := ""
		if val, ok := point.Payload["memory_id"]; ok {
			id = val.GetStringValue()
		}
		if id == "" {
			continue
		}
		hits = append(hits, VectorHit{MemoryID: id, Score: float64(point.Score)})
	}
	return hits, nil
}

// Delete removes a memory's vector.
func (qi *QdrantIndex) Delete(ctx context.Context, tenantID, memoryID string) error {
	_, err := qi.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qi.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch("tenant_id", tenantID),
						qdrant.NewMatch("memory_id", memoryID),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

func uint64Ptr(v uint64) *uint64 {
	return &v
}

func boolPtr(v bool) *bool {
	return &v
}
