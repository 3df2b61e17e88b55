// internal/engine/interceptor.go
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"memgate/internal/memory"
)

// gateCacheTTL bounds how long a cached gate decision stays valid.
const gateCacheTTL = 10 * time.Minute

// InterceptRequest is one prompt to consider for context injection.
type InterceptRequest struct {
	Prompt            string `json:"prompt"`
	SessionID         string `json:"session_id"`
	TenantID          string `json:"tenant_id"`
	ErrorText         string `json:"error_text,omitempty"`
	ErrorType         string `json:"error_type,omitempty"`
	MaxTokens         int    `json:"max_tokens,omitempty"`
	ForceDeepAnalysis bool   `json:"force_deep_analysis,omitempty"`
}

// InterceptResult is the enhanced-prompt outcome returned to the API layer.
type InterceptResult struct {
	Enhanced        bool     `json:"enhanced"`
	EnhancedPrompt  string   `json:"enhanced_prompt"`
	ContextInjected string   `json:"context_injected,omitempty"`
	MemoriesUsed    []string `json:"memories_used"`
	NotesUsed       []string `json:"notes_used"`
	LatencyMs       int64    `json:"latency_ms"`
	Reasoning       string   `json:"reasoning"`
	Confidence      float64  `json:"confidence"`
	TokensInjected  int      `json:"tokens_injected"`
	LLMCalls        int      `json:"llm_calls"`
}

// Interceptor is the top of the decision pipeline: gate, retrieve, assemble,
// audit. Every enrichment failure degrades to passing the original prompt
// through unmodified.
type Interceptor struct {
	gate       *Gate
	retriever  *Retriever
	compressor *Compressor
	audit      *AuditSink
	cache      *redis.Client // optional gate decision cache
}

// NewInterceptor wires the pipeline. cache and audit may be nil.
func NewInterceptor(gate *Gate, retriever *Retriever, compressor *Compressor, audit *AuditSink, cache *redis.Client) *Interceptor {
	return &Interceptor{
		gate:       gate,
		retriever:  retriever,
		compressor: compressor,
		audit:      audit,
		cache:      cache,
	}
}

// Intercept runs the full injection pipeline for one prompt.
func (it *Interceptor) Intercept(ctx context.Context, req InterceptRequest) (*InterceptResult, error) {
	if req.TenantID == "" {
		return nil, &memory.ValidationError{Field: "tenant_id", Reason: "tenant id is required"}
	}

	start := time.Now()
	result := &InterceptResult{
		Enhanced:       false,
		EnhancedPrompt: req.Prompt,
		MemoriesUsed:   []string{},
		NotesUsed:      []string{},
	}

	decision, fromCache := it.cachedDecision(ctx, req)
	if !fromCache {
		decision = it.gate.ShouldInject(ctx, req.Prompt, "", req.ForceDeepAnalysis)
		it.cacheDecision(ctx, req, decision)
	}
	result.Reasoning = decision.Reasoning
	result.Confidence = decision.Confidence
	result.LLMCalls = decision.LLMCalls

	if !decision.Needed {
		result.LatencyMs = time.Since(start).Milliseconds()
		it.recordIntercept(req, result, "skipped")
		return result, nil
	}

	memories, err := it.retriever.RetrieveMemories(ctx, req.Prompt, req.TenantID)
	if err != nil {
		// Availability bias: a broken enrichment path never fails the request
		log.Printf("[Interceptor] WARNING: memory retrieval degraded, passing prompt through: %v", err)
		result.LatencyMs = time.Since(start).Milliseconds()
		it.recordIntercept(req, result, "degraded")
		return result, nil
	}

	notes, err := it.retriever.RetrieveNotes(ctx, req.Prompt, req.ErrorText, req.ErrorType, req.TenantID)
	if err != nil {
		log.Printf("[Interceptor] WARNING: note retrieval degraded, continuing with memories only: %v", err)
		notes = nil
	}

	assembled := Assemble(req.Prompt, memories, notes)
	if req.MaxTokens > 0 && assembled.EstimatedTokens > req.MaxTokens {
		// Over budget: drop notes first, then give up on injection.
		// The pruned items are no longer "used" in any sense.
		notes = nil
		assembled = Assemble(req.Prompt, memories, notes)
		if assembled.EstimatedTokens > req.MaxTokens {
			memories = nil
			assembled = Assemble(req.Prompt, memories, notes)
		}
	}

	result.Enhanced = assembled.Enhanced
	result.EnhancedPrompt = assembled.EnhancedPrompt
	result.ContextInjected = assembled.InjectedBlock
	result.TokensInjected = assembled.EstimatedTokens
	if assembled.Enhanced {
		for _, m := range memories {
			result.MemoriesUsed = append(result.MemoriesUsed, m.ID)
		}
		for _, n := range notes {
			result.NotesUsed = append(result.NotesUsed, n.ID)
		}
		// Counters reflect actual injections only
		it.retriever.MarkInjected(ctx, req.TenantID, memories)
		it.retriever.MarkNotesAccessed(ctx, req.TenantID, notes)
	}
	result.LatencyMs = time.Since(start).Milliseconds()

	outcome := "injected"
	if !result.Enhanced {
		outcome = "empty"
	}
	it.recordIntercept(req, result, outcome)
	return result, nil
}

// Compress delegates to the compression engine and audits the outcome.
func (it *Interceptor) Compress(ctx context.Context, messages []memory.Message, threshold int, sessionID, tenantID string) CompressedResult {
	start := time.Now()
	result := it.compressor.Compress(ctx, messages, threshold, sessionID, tenantID)

	if it.audit != nil {
		outcome := "compressed"
		if !result.Compressed {
			outcome = "below_threshold"
		}
		it.audit.Record(AuditRecord{
			Type:     "compression",
			Actor:    "compressor",
			TenantID: tenantID,
			Payload: map[string]interface{}{
				"session_id":        sessionID,
				"messages":          len(messages),
				"original_tokens":   result.OriginalTokens,
				"compressed_tokens": result.CompressedTokens,
				"ratio":             result.CompressionRatio,
			},
			Outcome: outcome,
			Latency: time.Since(start),
		})
	}
	return result
}

// RelatedMemories expands a memory through the relationship graph.
func (it *Interceptor) RelatedMemories(ctx context.Context, tenantID, memoryID string, minStrength float64, depth int) ([]memory.Neighbor, error) {
	return it.retriever.Related(ctx, tenantID, memoryID, minStrength, depth)
}

// recordIntercept audits one intercept decision asynchronously.
func (it *Interceptor) recordIntercept(req InterceptRequest, result *InterceptResult, outcome string) {
	if it.audit == nil {
		return
	}
	it.audit.Record(AuditRecord{
		Type:     "intercept",
		Actor:    "interceptor",
		TenantID: req.TenantID,
		Payload: map[string]interface{}{
			"session_id":      req.SessionID,
			"prompt_chars":    len(req.Prompt),
			"enhanced":        result.Enhanced,
			"memories_used":   len(result.MemoriesUsed),
			"notes_used":      len(result.NotesUsed),
			"tokens_injected": result.TokensInjected,
			"confidence":      result.Confidence,
			"llm_calls":       result.LLMCalls,
		},
		Outcome: outcome,
		Latency: time.Duration(result.LatencyMs) * time.Millisecond,
	})
}

// gateCacheKey hashes the prompt so the cache key stays bounded.
func gateCacheKey(tenantID, prompt string) string {
	h := fnv.New64a()
	h.Write([]byte(prompt))
	return fmt.Sprintf("gate:%s:%x", tenantID, h.Sum64())
}

// cachedDecision looks up a prior gate decision. Cache failures are a miss.
func (it *Interceptor) cachedDecision(ctx context.Context, req InterceptRequest) (GateDecision, bool) {
	if it.cache == nil || req.ForceDeepAnalysis {
		return GateDecision{}, false
	}
	raw, err := it.cache.Get(ctx, gateCacheKey(req.TenantID, req.Prompt)).Result()
	if err != nil {
		return GateDecision{}, false
	}
	var decision GateDecision
	if err := json.Unmarshal([]byte(raw), &decision); err != nil {
		return GateDecision{}, false
	}
	decision.LLMCalls = 0 // served from cache
	return decision, true
}

// cacheDecision stores a gate decision with a TTL. Failure is ignored.
func (it *Interceptor) cacheDecision(ctx context.Context, req InterceptRequest, decision GateDecision) {
	if it.cache == nil {
		return
	}
	raw, err := json.Marshal(decision)
	if err != nil {
		return
	}
	if err := it.cache.Set(ctx, gateCacheKey(req.TenantID, req.Prompt), raw, gateCacheTTL).Err(); err != nil {
		log.Printf("[Interceptor] WARNING: gate cache write failed: %v", err)
	}
}
