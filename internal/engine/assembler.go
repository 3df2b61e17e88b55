// internal/engine/assembler.go
package engine

import (
	"fmt"
	"strings"

	"memgate/internal/memory"
)

// charsPerToken is the fixed token estimation heuristic used everywhere a
// token count is needed.
const charsPerToken = 4

// AssembledContext is the result of formatting ranked memories and notes
// into an injectable block.
type AssembledContext struct {
	Enhanced        bool
	EnhancedPrompt  string
	InjectedBlock   string
	EstimatedTokens int
}

// EstimateTokens applies the 4-characters-per-token heuristic.
func EstimateTokens(text string) int {
	return len(text) / charsPerToken
}

// Assemble formats memories and notes into a delimited block and prepends it
// to the prompt verbatim. Ranking is the retriever's responsibility; the
// order received is the order emitted. Empty selections return the prompt
// unchanged.
func Assemble(prompt string, memories []memory.Memory, notes []memory.HindsightNote) AssembledContext {
	if len(memories) == 0 && len(notes) == 0 {
		return AssembledContext{
			Enhanced:       false,
			EnhancedPrompt: prompt,
		}
	}

	var b strings.Builder
	b.WriteString("<context>\n")

	if len(memories) > 0 {
		b.WriteString("Relevant prior knowledge:\n")
		for _, m := range memories {
			text := m.Summary
			if text == "" {
				text = m.Content
			}
			b.WriteString(fmt.Sprintf("- [%s/%s] %s\n", m.Importance, m.Category, text))
			if excerpt := codeExcerpt(m.Content); excerpt != "" {
				b.WriteString(excerpt)
				b.WriteString("\n")
			}
		}
	}

	if len(notes) > 0 {
		b.WriteString("Known failure modes:\n")
		for _, n := range notes {
			b.WriteString(fmt.Sprintf("- [%s] %s: %s\n", n.Severity, n.Title, n.Resolution))
		}
	}

	b.WriteString("</context>\n\n")
	block := b.String()

	return AssembledContext{
		Enhanced:        true,
		EnhancedPrompt:  block + prompt,
		InjectedBlock:   block,
		EstimatedTokens: EstimateTokens(block),
	}
}

// codeExcerpt pulls the first fenced code block out of memory content, if
// one exists, trimmed to a bounded length.
func codeExcerpt(content string) string {
	start := strings.Index(content, "```")
	if start == -1 {
		return ""
	}
	rest := content[start+3:]
	end := strings.Index(rest, "```")
	if end == -1 {
		return ""
	}
	excerpt := strings.TrimSpace(rest[:end])
	// Skip a language tag on the opening fence
	if nl := strings.Index(excerpt, "\n"); nl != -1 && nl < 20 && !strings.ContainsAny(excerpt[:nl], " (){}") {
		excerpt = excerpt[nl+1:]
	}
	const maxExcerpt = 400
	if len(excerpt) > maxExcerpt {
		excerpt = excerpt[:maxExcerpt]
	}
	if excerpt == "" {
		return ""
	}
	return "```\n" + excerpt + "\n```"
}
