// internal/engine/compressor.go
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"memgate/internal/llm"
	"memgate/internal/memory"
)

// DefaultTokenThreshold is the history size above which compression kicks in.
const DefaultTokenThreshold = 100000

// CompressedResult is the outcome of one compression call.
type CompressedResult struct {
	Compressed       bool             `json:"compressed"`
	CompressionRatio float64          `json:"compression_ratio"`
	OriginalTokens   int              `json:"original_tokens"`
	CompressedTokens int              `json:"compressed_tokens"`
	Summary          string           `json:"summary"`
	Goals            []string         `json:"goals"`
	Decisions        []string         `json:"decisions"`
	Errors           []string         `json:"errors"`
	Todos            []string         `json:"todos"`
	PreservedTail    []memory.Message `json:"preserved_tail"`
}

// Compressor turns oversized conversation histories into structured
// summaries plus a verbatim recent tail.
type Compressor struct {
	completer llm.Completer
	store     *memory.Store
	maxTokens int
}

// NewCompressor creates a compression engine. store may be nil when summary
// persistence is not wanted.
func NewCompressor(completer llm.Completer, store *memory.Store) *Compressor {
	return &Compressor{completer: completer, store: store, maxTokens: 2000}
}

// historyTokens estimates the token size of a message history.
func historyTokens(messages []memory.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total / charsPerToken
}

// ShouldCompress is a pure predicate: true iff the estimated token count
// meets the threshold. Exactly at the threshold counts as needing
// compression.
func (c *Compressor) ShouldCompress(messages []memory.Message, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultTokenThreshold
	}
	return historyTokens(messages) >= threshold
}

// tailSize is how many trailing messages stay verbatim.
func tailSize(messageCount int) int {
	n := messageCount / 3
	if n > 10 {
		n = 10
	}
	return n
}

// Compress summarizes the history when it exceeds the threshold. Below the
// threshold it is a no-op (ratio 1.0, all messages preserved). Summarization
// failure returns compressed=false with the original messages; it never
// raises. When sessionID and tenantID are both supplied, a ContextSummary is
// persisted; persistence failure is logged and swallowed.
func (c *Compressor) Compress(ctx context.Context, messages []memory.Message, threshold int, sessionID, tenantID string) CompressedResult {
	if threshold <= 0 {
		threshold = DefaultTokenThreshold
	}

	passthrough := CompressedResult{
		Compressed:       false,
		CompressionRatio: 1.0,
		OriginalTokens:   historyTokens(messages),
		CompressedTokens: historyTokens(messages),
		PreservedTail:    messages,
	}

	if len(messages) == 0 || !c.ShouldCompress(messages, threshold) {
		return passthrough
	}
	if c.completer == nil {
		return passthrough
	}

	keep := tailSize(len(messages))
	head := messages[:len(messages)-keep]
	tail := messages[len(messages)-keep:]

	summary, parsed, err := c.summarize(ctx, head)
	if err != nil {
		log.Printf("[Compressor] WARNING: summarization failed, returning history uncompressed: %v", err)
		return passthrough
	}

	originalTokens := historyTokens(messages)
	compressedTokens := EstimateTokens(summary) + historyTokens(tail)
	if compressedTokens > originalTokens {
		// Never expand: keep the summary bounded by construction
		compressedTokens = originalTokens
	}

	ratio := 1.0
	if originalTokens > 0 {
		ratio = float64(compressedTokens) / float64(originalTokens)
	}

	result := CompressedResult{
		Compressed:       true,
		CompressionRatio: ratio,
		OriginalTokens:   originalTokens,
		CompressedTokens: compressedTokens,
		Summary:          summary,
		Goals:            parsed.Goals,
		Decisions:        parsed.Decisions,
		Errors:           parsed.Errors,
		Todos:            parsed.Todos,
		PreservedTail:    tail,
	}

	if c.store != nil && sessionID != "" && tenantID != "" {
		record := &memory.ContextSummary{
			TenantID:             tenantID,
			SessionID:            sessionID,
			OriginalTokenCount:   originalTokens,
			CompressedTokenCount: compressedTokens,
			CompressionRatio:     ratio,
			Summary:              summary,
			RecentWindowSize:     keep,
		}
		if err := c.store.SaveSummary(ctx, record); err != nil {
			log.Printf("[Compressor] WARNING: failed to persist context summary: %v", err)
		}
	}

	log.Printf("[Compressor] Compressed %d messages: %d -> %d tokens (ratio %.2f, tail %d)",
		len(messages), originalTokens, compressedTokens, ratio, keep)
	return result
}

// summarySections is the structured portion of the LLM response. Every field
// is independently defaultable.
type summarySections struct {
	Summary   string   `json:"summary"`
	Goals     []string `json:"goals"`
	Decisions []string `json:"decisions"`
	Errors    []string `json:"errors"`
	Todos     []string `json:"todos"`
}

// summarize asks the completion service for a structured summary of the
// truncated head of the history.
func (c *Compressor) summarize(ctx context.Context, head []memory.Message) (string, summarySections, error) {
	var transcript strings.Builder
	for _, m := range head {
		transcript.WriteString(m.Role)
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}

	system := "You compress AI-agent conversation histories. Preserve task goals, key decisions, " +
		"critical errors, and open TODOs. Omit redundant tool output and intermediate failed attempts. " +
		"Respond with a JSON object: {\"summary\": string, \"goals\": [strings], \"decisions\": [strings], " +
		"\"errors\": [strings], \"todos\": [strings]}. Respond with JSON only."

	raw, err := c.completer.Complete(ctx, system, transcript.String(), c.maxTokens)
	if err != nil {
		return "", summarySections{}, err
	}
	if strings.TrimSpace(raw) == "" {
		return "", summarySections{}, fmt.Errorf("empty summary from LLM")
	}

	parsed := parseSummary(raw)
	summary := parsed.Summary
	if summary == "" {
		// Missing fields default, they never fail the compression
		summary = strings.TrimSpace(stripFences(raw))
	}
	return summary, parsed, nil
}

// parseSummary parses the structured response permissively; a missing or
// malformed field defaults to empty.
func parseSummary(raw string) summarySections {
	var parsed summarySections
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		log.Printf("[Compressor] WARNING: unstructured summary response, using raw text: %v", err)
		return summarySections{}
	}
	return parsed
}

// IdentifyCritical selects messages whose role is error or system, or whose
// content contains any of the keywords case-insensitively. Pure filter, no
// ranking.
func IdentifyCritical(messages []memory.Message, keywords []string) []memory.Message {
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}

	out := make([]memory.Message, 0)
	for _, m := range messages {
		if m.Role == "error" || m.Role == "system" {
			out = append(out, m)
			continue
		}
		content := strings.ToLower(m.Content)
		for _, k := range lowered {
			if k != "" && strings.Contains(content, k) {
				out = append(out, m)
				break
			}
		}
	}
	return out
}
