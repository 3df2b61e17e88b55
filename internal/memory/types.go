// internal/memory/types.go
package memory

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Category classifies what kind of knowledge a memory holds
type Category string

const (
	CategoryInsight   Category = "insight"
	CategoryDecision  Category = "decision"
	CategoryWarning   Category = "warning"
	CategoryKnowledge Category = "knowledge"
	CategoryAction    Category = "action"
	CategoryContext   Category = "context"
	CategoryReference Category = "reference"
)

// legacyCategoryAliases maps category names from older ingestion clients
// onto the current set.
var legacyCategoryAliases = map[string]Category{
	"learning":      CategoryInsight,
	"lesson":        CategoryInsight,
	"choice":        CategoryDecision,
	"caution":       CategoryWarning,
	"pitfall":       CategoryWarning,
	"fact":          CategoryKnowledge,
	"documentation": CategoryReference,
	"task":          CategoryAction,
	"background":    CategoryContext,
}

// NormalizeCategory resolves legacy aliases and validates the result.
// Unknown values fall back to knowledge rather than erroring.
func NormalizeCategory(raw string) Category {
	switch Category(raw) {
	case CategoryInsight, CategoryDecision, CategoryWarning, CategoryKnowledge,
		CategoryAction, CategoryContext, CategoryReference:
		return Category(raw)
	}
	if mapped, ok := legacyCategoryAliases[raw]; ok {
		return mapped
	}
	return CategoryKnowledge
}

// Importance ranks how aggressively a memory should be surfaced
type Importance string

const (
	ImportanceCritical  Importance = "critical"
	ImportanceImportant Importance = "important"
	ImportanceMinor     Importance = "minor"
)

// ValidateImportance checks if an importance value is valid
func ValidateImportance(v string) error {
	switch Importance(v) {
	case ImportanceCritical, ImportanceImportant, ImportanceMinor:
		return nil
	case "": // Empty is allowed (classified on ingestion)
		return nil
	default:
		return &ValidationError{Field: "importance", Reason: fmt.Sprintf("invalid importance: %s", v)}
	}
}

// Memory is a stored unit of reusable knowledge with an embedding for
// similarity search.
type Memory struct {
	ID              string         `json:"id" gorm:"primaryKey;size:36"`
	TenantID        string         `json:"tenant_id" gorm:"index;size:36;not null"`
	Content         string         `json:"content"`
	Summary         string         `json:"summary"`
	Category        Category       `json:"category" gorm:"type:varchar(20);index"`
	Importance      Importance     `json:"importance" gorm:"type:varchar(20);index"`
	Tags            datatypes.JSON `json:"tags"`
	Version         int            `json:"version" gorm:"default:1"`
	AccessCount     int            `json:"access_count"`
	InjectionCount  int            `json:"injection_count"`
	HelpfulCount    int            `json:"helpful_count"`
	NotHelpfulCount int            `json:"not_helpful_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	LastAccessedAt  time.Time      `json:"last_accessed_at"`
	DeletedAt       gorm.DeletedAt `json:"-" gorm:"index"`

	Embedding []float32 `json:"-" gorm:"-"` // lives in the vector index, not the row
}

// HelpfulnessRate is derived, never persisted: helpful/(helpful+notHelpful),
// 0 when there is no feedback yet.
func (m *Memory) HelpfulnessRate() float64 {
	total := m.HelpfulCount + m.NotHelpfulCount
	if total == 0 {
		return 0
	}
	return float64(m.HelpfulCount) / float64(total)
}

// RelevanceScore blends usage volume with feedback quality. The log terms are
// unbounded above for very large counters; callers rank with it, they do not
// treat it as a probability.
func (m *Memory) RelevanceScore() float64 {
	usage := (math.Log1p(float64(m.AccessCount)) + math.Log1p(float64(m.InjectionCount))) / 10
	return 0.3*usage + 0.4*m.HelpfulnessRate()
}

// MemoryVersion is a snapshot of a memory taken before a content-affecting
// update.
type MemoryVersion struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	MemoryID   string         `json:"memory_id" gorm:"index;size:36"`
	TenantID   string         `json:"tenant_id" gorm:"index;size:36"`
	Version    int            `json:"version"`
	Content    string         `json:"content"`
	Summary    string         `json:"summary"`
	Category   Category       `json:"category" gorm:"type:varchar(20)"`
	Importance Importance     `json:"importance" gorm:"type:varchar(20)"`
	Tags       datatypes.JSON `json:"tags"`
	ArchivedAt time.Time      `json:"archived_at"`
}

// RelationType labels a directed edge between two memories
type RelationType string

const (
	RelationUsedWith      RelationType = "used_with"
	RelationConflictsWith RelationType = "conflicts_with"
	RelationSupersedes    RelationType = "supersedes"
	RelationRelatedTo     RelationType = "related_to"
	RelationRequires      RelationType = "requires"
	RelationPartOf        RelationType = "part_of"
)

// ValidateRelationType checks if a relation type is valid
func ValidateRelationType(t string) error {
	switch RelationType(t) {
	case RelationUsedWith, RelationConflictsWith, RelationSupersedes,
		RelationRelatedTo, RelationRequires, RelationPartOf:
		return nil
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("invalid relation type: %s", t)}
	}
}

// MemoryRelationship is a directed, typed, weighted edge between two memory
// ids. At most one row exists per (from, to) ordered pair per tenant.
type MemoryRelationship struct {
	ID         string       `json:"id" gorm:"primaryKey;size:36"`
	TenantID   string       `json:"tenant_id" gorm:"index:idx_rel_pair,unique;size:36;not null"`
	FromID     string       `json:"from_id" gorm:"index:idx_rel_pair,unique;size:36;not null"`
	ToID       string       `json:"to_id" gorm:"index:idx_rel_pair,unique;size:36;not null"`
	Type       RelationType `json:"type" gorm:"type:varchar(20)"`
	Frequency  int          `json:"frequency" gorm:"default:1"`
	Strength   float64      `json:"strength" gorm:"default:0.5"`
	CreatedAt  time.Time    `json:"created_at"`
	LastUsedAt time.Time    `json:"last_used_at"`
}

// Severity ranks a hindsight note's failure
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityOrdinals orders severities explicitly; lexical comparison would put
// "high" above "critical".
var severityOrdinals = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
}

// SeverityOrdinal returns the rank of a severity; unknown values rank lowest.
func SeverityOrdinal(s Severity) int {
	return severityOrdinals[s]
}

// ValidateSeverity checks if a severity value is valid
func ValidateSeverity(s string) error {
	switch Severity(s) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return nil
	default:
		return &ValidationError{Field: "severity", Reason: fmt.Sprintf("invalid severity: %s", s)}
	}
}

// HindsightNote is a recorded failure plus its resolution and a regex pattern
// for matching future errors.
type HindsightNote struct {
	ID                     string    `json:"id" gorm:"primaryKey;size:36"`
	TenantID               string    `json:"tenant_id" gorm:"index;size:36;not null"`
	SessionID              string    `json:"session_id" gorm:"size:64"`
	Title                  string    `json:"title"`
	ErrorType              string    `json:"error_type" gorm:"index"`
	ErrorMessage           string    `json:"error_message"`
	ErrorPattern           string    `json:"error_pattern"`
	Severity               Severity  `json:"severity" gorm:"type:varchar(10)"`
	Resolution             string    `json:"resolution"`
	PreventionStrategy     string    `json:"prevention_strategy"`
	OccurrenceCount        int       `json:"occurrence_count" gorm:"default:1"`
	ReferenceCount         int       `json:"reference_count"`
	PreventionSuccessCount int       `json:"prevention_success_count"`
	AccessCount            int       `json:"access_count"`
	LastAccessedAt         time.Time `json:"last_accessed_at"`
	LastOccurrenceAt       time.Time `json:"last_occurrence_at"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// PreventionEffectiveness is preventionSuccessCount/occurrenceCount, 0 when
// the note has never occurred.
func (n *HindsightNote) PreventionEffectiveness() float64 {
	if n.OccurrenceCount == 0 {
		return 0
	}
	return float64(n.PreventionSuccessCount) / float64(n.OccurrenceCount)
}

// IsFrequent reports whether the failure has recurred enough to be flagged.
func (n *HindsightNote) IsFrequent() bool {
	return n.OccurrenceCount > 3
}

// MatchesError reports whether msg matches the stored error pattern. An
// invalid pattern is treated as non-matching, never as an error.
func (n *HindsightNote) MatchesError(msg string) bool {
	if n.ErrorPattern == "" || msg == "" {
		return false
	}
	re, err := regexp.Compile(n.ErrorPattern)
	if err != nil {
		return false
	}
	return re.MatchString(msg)
}

// ContextSummary is the audit record of one compression event. Created once
// per completed compression, never mutated.
type ContextSummary struct {
	ID                   uint      `json:"id" gorm:"primaryKey"`
	TenantID             string    `json:"tenant_id" gorm:"index;size:36"`
	SessionID            string    `json:"session_id" gorm:"index;size:64"`
	OriginalTokenCount   int       `json:"original_token_count"`
	CompressedTokenCount int       `json:"compressed_token_count"`
	CompressionRatio     float64   `json:"compression_ratio"`
	Summary              string    `json:"summary"`
	RecentWindowSize     int       `json:"recent_window_size"`
	CreatedAt            time.Time `json:"created_at"`
}

// IsEffective reports whether the compression reduced size by more than 25%.
func (s *ContextSummary) IsEffective() bool {
	if s.OriginalTokenCount == 0 {
		return false
	}
	reduction := 1 - float64(s.CompressedTokenCount)/float64(s.OriginalTokenCount)
	return reduction > 0.25
}

// TargetAchieved reports whether the compression halved the history.
func (s *ContextSummary) TargetAchieved() bool {
	return s.CompressionRatio < 0.5
}

// Message is one turn of a conversation history handed to the compressor.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AuditEvent records one pipeline decision for observability. Writes are
// fire-and-forget; nothing in the request path depends on them.
type AuditEvent struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Type      string         `json:"type" gorm:"index;size:40"`
	Actor     string         `json:"actor" gorm:"size:64"`
	TenantID  string         `json:"tenant_id" gorm:"index;size:36"`
	Payload   datatypes.JSON `json:"payload"`
	Outcome   string         `json:"outcome" gorm:"size:20"`
	LatencyMs int64          `json:"latency_ms"`
	CreatedAt time.Time      `json:"created_at"`
}
