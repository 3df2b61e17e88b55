// internal/memory/notes.go
package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NoteStore persists hindsight notes: documented failures with resolutions
// and patterns for matching future errors.
type NoteStore struct {
	db *gorm.DB
}

// NewNoteStore creates a hindsight note store.
func NewNoteStore(db *gorm.DB) *NoteStore {
	return &NoteStore{db: db}
}

// RecordFailure creates a note for a newly observed failure, or, when an
// existing note's pattern matches the incoming error message, increments that
// note's occurrence count and refreshes lastOccurrenceAt instead of creating
// a duplicate.
func (ns *NoteStore) RecordFailure(ctx context.Context, note *HindsightNote) (*HindsightNote, error) {
	if note.TenantID == "" {
		return nil, &ValidationError{Field: "tenant_id", Reason: "tenant id is required"}
	}
	if err := ValidateSeverity(string(note.Severity)); err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	if note.ErrorMessage != "" {
		existing, err := ns.findMatching(ctx, note.TenantID, note.ErrorType, note.ErrorMessage)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			err := ns.db.WithContext(ctx).Model(existing).Updates(map[string]interface{}{
				"occurrence_count":   gorm.Expr("occurrence_count + 1"),
				"last_occurrence_at": now,
			}).Error
			if err != nil {
				return nil, fmt.Errorf("failed to bump occurrence: %w", err)
			}
			existing.OccurrenceCount++
			existing.LastOccurrenceAt = now
			log.Printf("[NoteStore] Recurring failure matched note %s (occurrences: %d)",
				existing.ID, existing.OccurrenceCount)
			return existing, nil
		}
	}

	note.ID = uuid.New().String()
	note.OccurrenceCount = 1
	note.CreatedAt = now
	note.LastOccurrenceAt = now
	if err := ns.db.WithContext(ctx).Create(note).Error; err != nil {
		return nil, fmt.Errorf("failed to save note: %w", err)
	}
	return note, nil
}

// findMatching scans the tenant's notes of the same error type for one whose
// pattern matches the message.
func (ns *NoteStore) findMatching(ctx context.Context, tenantID, errorType, message string) (*HindsightNote, error) {
	var candidates []HindsightNote
	q := ns.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if errorType != "" {
		q = q.Where("error_type = ?", errorType)
	}
	if err := q.Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("failed to scan notes: %w", err)
	}
	for i := range candidates {
		if candidates[i].MatchesError(message) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// FindByID loads one note scoped to the tenant.
func (ns *NoteStore) FindByID(ctx context.Context, tenantID, id string) (*HindsightNote, error) {
	var n HindsightNote
	err := ns.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&n).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load note: %w", err)
	}
	return &n, nil
}

// FindByTenant lists a tenant's notes, most recent failures first.
func (ns *NoteStore) FindByTenant(ctx context.Context, tenantID string, limit int) ([]HindsightNote, error) {
	var out []HindsightNote
	q := ns.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("last_occurrence_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	return out, nil
}

// FindByErrorType lists a tenant's notes of one error type, ranked.
func (ns *NoteStore) FindByErrorType(ctx context.Context, tenantID, errorType string, limit int) ([]HindsightNote, error) {
	var out []HindsightNote
	err := ns.db.WithContext(ctx).
		Where("tenant_id = ? AND error_type = ?", tenantID, errorType).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notes by error type: %w", err)
	}
	RankNotes(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MatchError returns the tenant's notes whose stored pattern matches msg,
// ranked. Invalid patterns never match and never error.
func (ns *NoteStore) MatchError(ctx context.Context, tenantID, msg string, limit int) ([]HindsightNote, error) {
	all, err := ns.FindByTenant(ctx, tenantID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]HindsightNote, 0)
	for _, n := range all {
		if n.MatchesError(msg) {
			out = append(out, n)
		}
	}
	RankNotes(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SearchKeywords tokenizes the query on whitespace and returns notes whose
// title or error message contains any token, case-insensitively, ranked.
func (ns *NoteStore) SearchKeywords(ctx context.Context, tenantID, query string, limit int) ([]HindsightNote, error) {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return []HindsightNote{}, nil
	}

	all, err := ns.FindByTenant(ctx, tenantID, 0)
	if err != nil {
		return nil, err
	}

	out := make([]HindsightNote, 0)
	for _, n := range all {
		haystack := strings.ToLower(n.Title + " " + n.ErrorMessage)
		for _, tok := range tokens {
			if strings.Contains(haystack, tok) {
				out = append(out, n)
				break
			}
		}
	}
	RankNotes(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FindSimilar looks up notes sharing an error type whose message starts with
// the same prefix, for near-duplicate detection at ingestion time.
func (ns *NoteStore) FindSimilar(ctx context.Context, tenantID, errorType, messagePrefix string) ([]HindsightNote, error) {
	var out []HindsightNote
	err := ns.db.WithContext(ctx).
		Where("tenant_id = ? AND error_type = ? AND error_message LIKE ?",
			tenantID, errorType, messagePrefix+"%").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find similar notes: %w", err)
	}
	RankNotes(out)
	return out, nil
}

// TouchAccess bumps access telemetry for a note that was returned to a
// caller. Best-effort, like memory counters.
func (ns *NoteStore) TouchAccess(ctx context.Context, tenantID, id string) {
	err := ns.db.WithContext(ctx).Model(&HindsightNote{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]interface{}{
			"access_count":     gorm.Expr("access_count + 1"),
			"reference_count":  gorm.Expr("reference_count + 1"),
			"last_accessed_at": time.Now().UTC(),
		}).Error
	if err != nil {
		log.Printf("[NoteStore] WARNING: access touch failed for note %s: %v", id, err)
	}
}

// RecordPreventionSuccess marks that surfacing the note prevented a repeat
// failure.
func (ns *NoteStore) RecordPreventionSuccess(ctx context.Context, tenantID, id string) error {
	res := ns.db.WithContext(ctx).Model(&HindsightNote{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Update("prevention_success_count", gorm.Expr("prevention_success_count + 1"))
	if res.Error != nil {
		return fmt.Errorf("failed to record prevention success: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a note.
func (ns *NoteStore) Delete(ctx context.Context, tenantID, id string) error {
	res := ns.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&HindsightNote{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete note: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RankNotes sorts notes in place by severity ordinal descending, then last
// occurrence descending, then access count descending.
func RankNotes(notes []HindsightNote) {
	sort.SliceStable(notes, func(i, j int) bool {
		si, sj := SeverityOrdinal(notes[i].Severity), SeverityOrdinal(notes[j].Severity)
		if si != sj {
			return si > sj
		}
		if !notes[i].LastOccurrenceAt.Equal(notes[j].LastOccurrenceAt) {
			return notes[i].LastOccurrenceAt.After(notes[j].LastOccurrenceAt)
		}
		return notes[i].AccessCount > notes[j].AccessCount
	})
}
