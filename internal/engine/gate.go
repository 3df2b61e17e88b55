// internal/engine/gate.go
package engine

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"memgate/internal/llm"
)

// minPromptLength is the stage-1 floor: anything shorter cannot need context.
const minPromptLength = 10

// contextTriggers are the lexical cues that make a prompt a candidate for
// context injection. Matched case-insensitively as substrings.
var contextTriggers = []string{
	"service", "controller", "repository", "component", "module",
	"error", "exception", "bug", "fix", "fail", "crash",
	"decision", "architecture", "pattern", "design", "refactor",
	"implement", "create", "build", "migrate", "deploy",
	"config", "database", "api", "endpoint", "test",
}

// GateDecision is the outcome of the relevance gate.
type GateDecision struct {
	Needed     bool     `json:"needed"`
	Reasoning  string   `json:"reasoning"`
	Confidence float64  `json:"confidence"`
	Categories []string `json:"categories,omitempty"`
	LLMCalls   int      `json:"-"` // completion service invocations this decision cost
}

// Gate is the two-stage decision of whether a prompt needs injected context:
// a cheap lexical pre-filter, then an LLM-backed judgment. It is a pure
// decision; callers audit.
type Gate struct {
	completer llm.Completer
	maxTokens int
}

// NewGate creates a relevance gate.
func NewGate(completer llm.Completer) *Gate {
	return &Gate{completer: completer, maxTokens: 300}
}

// ShouldInject decides whether the prompt warrants context injection.
// Prompts under 10 characters or with no trigger hit short-circuit to
// not-needed without calling the completion service, unless force is set.
func (g *Gate) ShouldInject(ctx context.Context, prompt, ambient string, force bool) GateDecision {
	if !force {
		if len(prompt) < minPromptLength {
			return GateDecision{Needed: false, Reasoning: "prompt too short", Confidence: 0.0}
		}
		if !hasTrigger(prompt) {
			return GateDecision{Needed: false, Reasoning: "no context triggers", Confidence: 0.0}
		}
	}

	if g.completer == nil {
		// No judgment backend: the lexical hit alone is a weak signal
		return GateDecision{Needed: true, Reasoning: "lexical trigger match", Confidence: 0.5}
	}

	system := "You decide whether an AI coding agent's prompt would benefit from injected prior knowledge. " +
		"Respond with a JSON object: {\"needsContext\": bool, \"reasoning\": string, \"confidence\": number 0-1, \"categories\": [strings]}. " +
		"Respond with JSON only."
	user := "Prompt:\n" + prompt
	if ambient != "" {
		user += "\n\nAmbient context:\n" + ambient
	}

	raw, err := g.completer.Complete(ctx, system, user, g.maxTokens)
	if err != nil {
		// Degraded external service: conservative default, never an error
		log.Printf("[Gate] WARNING: judgment call failed, skipping injection: %v", err)
		return GateDecision{Needed: false, Reasoning: "judgment unavailable", Confidence: 0.0, LLMCalls: 1}
	}

	decision := parseGateResponse(raw)
	decision.LLMCalls = 1
	return decision
}

// hasTrigger scans the prompt for lexical cues, case-insensitively.
func hasTrigger(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, trigger := range contextTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}

// parseGateResponse parses the LLM judgment permissively: fences stripped,
// every field independently defaultable, a parse failure degrades to
// not-needed rather than raising.
func parseGateResponse(raw string) GateDecision {
	cleaned := stripFences(raw)

	var parsed struct {
		NeedsContext *bool    `json:"needsContext"`
		Reasoning    string   `json:"reasoning"`
		Confidence   *float64 `json:"confidence"`
		Categories   []string `json:"categories"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		log.Printf("[Gate] WARNING: unparseable judgment, skipping injection: %v", err)
		return GateDecision{Needed: false, Reasoning: "unparseable judgment", Confidence: 0.0}
	}

	decision := GateDecision{Reasoning: parsed.Reasoning, Categories: parsed.Categories}
	if parsed.NeedsContext != nil {
		decision.Needed = *parsed.NeedsContext
	}
	if parsed.Confidence != nil {
		c := *parsed.Confidence
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		decision.Confidence = c
	}
	return decision
}

// stripFences removes markdown code fences LLMs commonly wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	// Some models pad the object with prose; cut to the outermost braces
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}
