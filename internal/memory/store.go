// internal/memory/store.go
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store persists memories in the relational database and mirrors their
// embeddings into a vector index. The relational write is the primary store:
// it must succeed before the index is attempted, and an index failure is
// logged, not fatal.
type Store struct {
	db    *gorm.DB
	index VectorIndex
}

// NewStore creates a memory store.
func NewStore(db *gorm.DB, index VectorIndex) *Store {
	return &Store{db: db, index: index}
}

// Save persists a new memory. This is the critical path: a database failure
// propagates to the caller.
func (s *Store) Save(ctx context.Context, m *Memory) error {
	if m.TenantID == "" {
		return &ValidationError{Field: "tenant_id", Reason: "tenant id is required"}
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Category != "" {
		m.Category = NormalizeCategory(string(m.Category))
	}
	if err := ValidateImportance(string(m.Importance)); err != nil {
		return err
	}
	if m.Version == 0 {
		m.Version = 1
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.LastAccessedAt.IsZero() {
		m.LastAccessedAt = now
	}

	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("failed to save memory: %w", err)
	}

	// Secondary store: vector index. Failure leaves the memory retrievable
	// by id/category/tags, just not by similarity.
	if s.index != nil && len(m.Embedding) > 0 {
		if err := s.index.Upsert(ctx, m.TenantID, m.ID, m.Embedding); err != nil {
			log.Printf("[Store] WARNING: vector index upsert failed for memory %s: %v", m.ID, err)
		}
	}
	return nil
}

// Update applies a content-affecting change: the prior state is archived and
// the version increments by exactly 1. Tenant id is immutable.
func (s *Store) Update(ctx context.Context, m *Memory) error {
	var current Memory
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", m.ID, m.TenantID).
		First(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load memory: %w", err)
	}

	if m.Category != "" {
		m.Category = NormalizeCategory(string(m.Category))
	}
	if err := ValidateImportance(string(m.Importance)); err != nil {
		return err
	}

	m.TenantID = current.TenantID
	m.Version = current.Version + 1
	m.AccessCount = current.AccessCount
	m.InjectionCount = current.InjectionCount
	m.HelpfulCount = current.HelpfulCount
	m.NotHelpfulCount = current.NotHelpfulCount
	m.CreatedAt = current.CreatedAt
	m.LastAccessedAt = current.LastAccessedAt

	archived := MemoryVersion{
		MemoryID:   current.ID,
		TenantID:   current.TenantID,
		Version:    current.Version,
		Content:    current.Content,
		Summary:    current.Summary,
		Category:   current.Category,
		Importance: current.Importance,
		Tags:       current.Tags,
		ArchivedAt: time.Now().UTC(),
	}

	// Snapshot and new row land together or not at all
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&archived).Error; err != nil {
			return fmt.Errorf("failed to archive version: %w", err)
		}
		if err := tx.Save(m).Error; err != nil {
			return fmt.Errorf("failed to update memory: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.index != nil && len(m.Embedding) > 0 {
		if err := s.index.Upsert(ctx, m.TenantID, m.ID, m.Embedding); err != nil {
			log.Printf("[Store] WARNING: vector index upsert failed for memory %s: %v", m.ID, err)
		}
	}
	return nil
}

// FindByID loads one memory scoped to the tenant.
func (s *Store) FindByID(ctx context.Context, tenantID, id string) (*Memory, error) {
	var m Memory
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load memory: %w", err)
	}
	return &m, nil
}

// FindByTenant lists memories for a tenant, newest first.
func (s *Store) FindByTenant(ctx context.Context, tenantID string, limit int) ([]Memory, error) {
	var out []Memory
	q := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	return out, nil
}

// FindByCategory lists memories of one category for a tenant.
func (s *Store) FindByCategory(ctx context.Context, tenantID string, category Category, limit int) ([]Memory, error) {
	var out []Memory
	q := s.db.WithContext(ctx).
		Where("tenant_id = ? AND category = ?", tenantID, category).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list memories by category: %w", err)
	}
	return out, nil
}

// FindByImportance lists memories at or above the given importance level.
func (s *Store) FindByImportance(ctx context.Context, tenantID string, importance Importance, limit int) ([]Memory, error) {
	var out []Memory
	q := s.db.WithContext(ctx).
		Where("tenant_id = ? AND importance = ?", tenantID, importance).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list memories by importance: %w", err)
	}
	return out, nil
}

// FindByTags lists tenant memories carrying any of the given tags. Tags are
// stored as a JSON array; matching happens in process, which holds for the
// tag cardinality this system sees per tenant.
func (s *Store) FindByTags(ctx context.Context, tenantID string, tags []string, limit int) ([]Memory, error) {
	if len(tags) == 0 {
		return []Memory{}, nil
	}
	all, err := s.FindByTenant(ctx, tenantID, 0)
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}
	out := make([]Memory, 0)
	for _, m := range all {
		var memTags []string
		if len(m.Tags) > 0 {
			if err := json.Unmarshal(m.Tags, &memTags); err != nil {
				continue
			}
		}
		for _, t := range memTags {
			if want[t] {
				out = append(out, m)
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// VectorSearch finds the k nearest memories for a tenant and loads their
// rows. Empty results are valid and propagate as an empty slice.
func (s *Store) VectorSearch(ctx context.Context, vector []float32, k int, tenantID string) ([]Memory, error) {
	if s.index == nil {
		return []Memory{}, nil
	}
	hits, err := s.index.Search(ctx, vector, k, tenantID)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]Memory, 0, len(hits))
	for _, hit := range hits {
		m, err := s.FindByID(ctx, tenantID, hit.MemoryID)
		if errors.Is(err, ErrNotFound) {
			// Index can lag the relational store after deletes
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

// Delete soft-deletes a memory and drops its vector.
func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&Memory{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete memory: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, tenantID, id); err != nil {
			log.Printf("[Store] WARNING: vector index delete failed for memory %s: %v", id, err)
		}
	}
	return nil
}

// TouchAccess bumps access telemetry. Concurrent increments may race; exact
// counts are best-effort.
func (s *Store) TouchAccess(ctx context.Context, tenantID, id string) {
	err := s.db.WithContext(ctx).Model(&Memory{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]interface{}{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_accessed_at": time.Now().UTC(),
		}).Error
	if err != nil {
		log.Printf("[Store] WARNING: access touch failed for memory %s: %v", id, err)
	}
}

// TouchInjection bumps injection telemetry for a memory that was actually
// injected into a prompt.
func (s *Store) TouchInjection(ctx context.Context, tenantID, id string) {
	err := s.db.WithContext(ctx).Model(&Memory{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]interface{}{
			"injection_count":  gorm.Expr("injection_count + 1"),
			"last_accessed_at": time.Now().UTC(),
		}).Error
	if err != nil {
		log.Printf("[Store] WARNING: injection touch failed for memory %s: %v", id, err)
	}
}

// RecordFeedback registers whether an injected memory helped.
func (s *Store) RecordFeedback(ctx context.Context, tenantID, id string, helpful bool) error {
	column := "helpful_count"
	if !helpful {
		column = "not_helpful_count"
	}
	res := s.db.WithContext(ctx).Model(&Memory{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Update(column, gorm.Expr(column+" + 1"))
	if res.Error != nil {
		return fmt.Errorf("failed to record feedback: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Versions returns the archived history of a memory, oldest first.
func (s *Store) Versions(ctx context.Context, tenantID, id string) ([]MemoryVersion, error) {
	var out []MemoryVersion
	err := s.db.WithContext(ctx).
		Where("memory_id = ? AND tenant_id = ?", id, tenantID).
		Order("version ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load versions: %w", err)
	}
	return out, nil
}

// SaveSummary persists a compression audit record. Summaries are written
// once and never mutated.
func (s *Store) SaveSummary(ctx context.Context, summary *ContextSummary) error {
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(summary).Error; err != nil {
		return fmt.Errorf("failed to save context summary: %w", err)
	}
	return nil
}

// ListSummaries returns a session's compression history, newest first.
func (s *Store) ListSummaries(ctx context.Context, tenantID, sessionID string, limit int) ([]ContextSummary, error) {
	var out []ContextSummary
	q := s.db.WithContext(ctx).
		Where("tenant_id = ? AND session_id = ?", tenantID, sessionID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	return out, nil
}

// MarshalTags encodes a tag slice for the Tags column.
func MarshalTags(tags []string) datatypes.JSON {
	if len(tags) == 0 {
		return datatypes.JSON("[]")
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}
