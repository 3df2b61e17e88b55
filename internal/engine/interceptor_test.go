package engine

import (
	"context"
	"strings"
	"testing"

	"memgate/internal/memory"
)

type testPipeline struct {
	interceptor *Interceptor
	store       *memory.Store
	notes       *memory.NoteStore
	completer   *fakeCompleter
	embedder    *memory.LocalEmbedder
}

func newTestPipeline(t *testing.T, gateResponse string) *testPipeline {
	t.Helper()
	gdb := newEngineDB(t)
	index := memory.NewMemoryVectorIndex()
	store := memory.NewStore(gdb, index)
	notes := memory.NewNoteStore(gdb)
	graph := memory.NewGraph(gdb)
	embedder := memory.NewLocalEmbedder(2)
	fake := &fakeCompleter{response: gateResponse}

	gate := NewGate(fake)
	retriever := NewRetriever(embedder, store, notes, graph, DefaultRetrieverConfig())
	compressor := NewCompressor(fake, store)
	interceptor := NewInterceptor(gate, retriever, compressor, nil, nil)

	return &testPipeline{
		interceptor: interceptor,
		store:       store,
		notes:       notes,
		completer:   fake,
		embedder:    embedder,
	}
}

func (p *testPipeline) saveMemory(t *testing.T, tenantID, content string, importance memory.Importance) *memory.Memory {
	t.Helper()
	vec, err := p.embedder.Embed(context.Background(), content)
	if err != nil {
		t.Fatalf("embed failed: %v", err)
	}
	m := &memory.Memory{
		TenantID:   tenantID,
		Content:    content,
		Summary:    content,
		Category:   memory.CategoryInsight,
		Importance: importance,
		Embedding:  vec,
	}
	if err := p.store.Save(context.Background(), m); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	return m
}

func TestIntercept_InjectsRelevantMemory(t *testing.T) {
	p := newTestPipeline(t, `{"needsContext": true, "reasoning": "architecture work", "confidence": 0.9}`)
	ctx := context.Background()

	saved := p.saveMemory(t, "tenant-a", "Always use repository pattern for data access layers", memory.ImportanceCritical)

	got, err := p.interceptor.Intercept(ctx, InterceptRequest{
		Prompt:    "Create a UserService with repository pattern",
		SessionID: "sess-1",
		TenantID:  "tenant-a",
	})
	if err != nil {
		t.Fatalf("intercept failed: %v", err)
	}
	if !got.Enhanced {
		t.Fatalf("expected enhanced prompt, reasoning: %s", got.Reasoning)
	}
	if len(got.MemoriesUsed) != 1 || got.MemoriesUsed[0] != saved.ID {
		t.Errorf("expected the saved memory to be injected, got %v", got.MemoriesUsed)
	}
	if !strings.HasSuffix(got.EnhancedPrompt, "Create a UserService with repository pattern") {
		t.Errorf("original prompt must survive verbatim at the end")
	}
	if !strings.Contains(got.EnhancedPrompt, "repository pattern for data access") {
		t.Errorf("injected block should carry the memory summary")
	}
	if got.LatencyMs < 0 {
		t.Errorf("latency must be non-negative")
	}
	if got.LLMCalls != 1 {
		t.Errorf("one gate judgment expected, got %d", got.LLMCalls)
	}

	// Injection telemetry is written through
	reloaded, err := p.store.FindByID(ctx, "tenant-a", saved.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.InjectionCount != 1 {
		t.Errorf("expected injection count 1, got %d", reloaded.InjectionCount)
	}
}

func TestIntercept_IrrelevantPromptSkips(t *testing.T) {
	p := newTestPipeline(t, `{"needsContext": true}`)

	got, err := p.interceptor.Intercept(context.Background(), InterceptRequest{
		Prompt:   "What's the weather?",
		TenantID: "tenant-a",
	})
	if err != nil {
		t.Fatalf("intercept failed: %v", err)
	}
	if got.Enhanced {
		t.Errorf("trigger-free prompt must pass through")
	}
	if got.EnhancedPrompt != "What's the weather?" {
		t.Errorf("prompt must be unchanged")
	}
	if got.LLMCalls != 0 {
		t.Errorf("short-circuit must cost zero llm calls, got %d", got.LLMCalls)
	}
	if p.completer.callCount() != 0 {
		t.Errorf("completion service must not be invoked, got %d calls", p.completer.callCount())
	}
}

func TestIntercept_RequiresTenant(t *testing.T) {
	p := newTestPipeline(t, `{"needsContext": true}`)
	_, err := p.interceptor.Intercept(context.Background(), InterceptRequest{Prompt: "Build the service"})
	if !memory.IsValidation(err) {
		t.Errorf("missing tenant should fail validation, got %v", err)
	}
}

func TestIntercept_MinorMemoriesFiltered(t *testing.T) {
	p := newTestPipeline(t, `{"needsContext": true, "confidence": 0.9}`)

	p.saveMemory(t, "tenant-a", "repository pattern trivia of minor importance", memory.ImportanceMinor)

	got, err := p.interceptor.Intercept(context.Background(), InterceptRequest{
		Prompt:   "Create a UserService with repository pattern",
		TenantID: "tenant-a",
	})
	if err != nil {
		t.Fatalf("intercept failed: %v", err)
	}
	if got.Enhanced {
		t.Errorf("minor memories must not be injected")
	}
	if got.EnhancedPrompt != "Create a UserService with repository pattern" {
		t.Errorf("prompt must pass through when nothing survives the filter")
	}
}

func TestIntercept_TenantIsolation(t *testing.T) {
	p := newTestPipeline(t, `{"needsContext": true, "confidence": 0.9}`)

	p.saveMemory(t, "tenant-a", "critical repository pattern guidance", memory.ImportanceCritical)

	got, err := p.interceptor.Intercept(context.Background(), InterceptRequest{
		Prompt:   "Create a UserService with repository pattern",
		TenantID: "tenant-b",
	})
	if err != nil {
		t.Fatalf("intercept failed: %v", err)
	}
	if got.Enhanced {
		t.Errorf("tenant-b must not receive tenant-a memories")
	}
}

func TestIntercept_IncludesMatchingNotes(t *testing.T) {
	p := newTestPipeline(t, `{"needsContext": true, "confidence": 0.9}`)
	ctx := context.Background()

	p.saveMemory(t, "tenant-a", "database connection handling guidance", memory.ImportanceCritical)
	note, err := p.notes.RecordFailure(ctx, &memory.HindsightNote{
		TenantID:     "tenant-a",
		Title:        "DB connection refused",
		ErrorType:    "ConnectionError",
		ErrorPattern: `connection refused`,
		Severity:     memory.SeverityHigh,
		Resolution:   "start postgres before the app",
	})
	if err != nil {
		t.Fatalf("record note failed: %v", err)
	}

	got, err := p.interceptor.Intercept(ctx, InterceptRequest{
		Prompt:    "Fix the database error in the connection setup",
		TenantID:  "tenant-a",
		ErrorText: "dial tcp: connection refused",
	})
	if err != nil {
		t.Fatalf("intercept failed: %v", err)
	}
	if !got.Enhanced {
		t.Fatalf("expected enhancement")
	}
	if len(got.NotesUsed) != 1 || got.NotesUsed[0] != note.ID {
		t.Errorf("matching note should be injected, got %v", got.NotesUsed)
	}
	if !strings.Contains(got.ContextInjected, "start postgres before the app") {
		t.Errorf("note resolution should appear in the block")
	}
}

func TestIntercept_TokenBudgetDropsInjection(t *testing.T) {
	p := newTestPipeline(t, `{"needsContext": true, "confidence": 0.9}`)
	ctx := context.Background()

	saved := p.saveMemory(t, "tenant-a", "critical repository pattern guidance with a long body "+strings.Repeat("detail ", 50), memory.ImportanceCritical)

	got, err := p.interceptor.Intercept(ctx, InterceptRequest{
		Prompt:    "Create a UserService with repository pattern",
		TenantID:  "tenant-a",
		MaxTokens: 1,
	})
	if err != nil {
		t.Fatalf("intercept failed: %v", err)
	}
	if got.Enhanced {
		t.Errorf("over-budget injection must be dropped entirely")
	}
	if got.EnhancedPrompt != "Create a UserService with repository pattern" {
		t.Errorf("prompt must pass through unchanged when the budget cannot fit any context")
	}
	if len(got.MemoriesUsed) != 0 {
		t.Errorf("dropped memories must not be reported as used, got %v", got.MemoriesUsed)
	}

	// Nothing was injected, so nothing gets counted as injected
	reloaded, err := p.store.FindByID(ctx, "tenant-a", saved.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.InjectionCount != 0 {
		t.Errorf("dropped memory must not gain injection count, got %d", reloaded.InjectionCount)
	}
}

func TestIntercept_TokenBudgetDropsNotesButReportsMemories(t *testing.T) {
	p := newTestPipeline(t, `{"needsContext": true, "confidence": 0.9}`)
	ctx := context.Background()

	saved := p.saveMemory(t, "tenant-a", "database connection guidance", memory.ImportanceCritical)
	note, err := p.notes.RecordFailure(ctx, &memory.HindsightNote{
		TenantID:     "tenant-a",
		Title:        "DB connection refused",
		ErrorType:    "ConnectionError",
		ErrorPattern: `connection refused`,
		Severity:     memory.SeverityHigh,
		Resolution:   strings.Repeat("verify the database service is reachable before starting ", 20),
	})
	if err != nil {
		t.Fatalf("record note failed: %v", err)
	}

	// Budget fits the memories-only block but not the note's long resolution
	got, err := p.interceptor.Intercept(ctx, InterceptRequest{
		Prompt:    "Fix the database error in the connection setup",
		TenantID:  "tenant-a",
		ErrorText: "dial tcp: connection refused",
		MaxTokens: 60,
	})
	if err != nil {
		t.Fatalf("intercept failed: %v", err)
	}
	if !got.Enhanced {
		t.Fatalf("memories alone fit the budget, expected enhancement")
	}
	if len(got.MemoriesUsed) != 1 || got.MemoriesUsed[0] != saved.ID {
		t.Errorf("the injected memory should be reported, got %v", got.MemoriesUsed)
	}
	if len(got.NotesUsed) != 0 {
		t.Errorf("a note pruned from the block must not be reported as used, got %v", got.NotesUsed)
	}
	if strings.Contains(got.ContextInjected, note.Title) {
		t.Errorf("pruned note must not appear in the injected block")
	}

	// Counters track the block, not the candidate set
	reloadedNote, err := p.notes.FindByID(ctx, "tenant-a", note.ID)
	if err != nil {
		t.Fatalf("reload note failed: %v", err)
	}
	if reloadedNote.AccessCount != 0 {
		t.Errorf("pruned note must not gain access count, got %d", reloadedNote.AccessCount)
	}
	reloadedMem, err := p.store.FindByID(ctx, "tenant-a", saved.ID)
	if err != nil {
		t.Fatalf("reload memory failed: %v", err)
	}
	if reloadedMem.InjectionCount != 1 {
		t.Errorf("injected memory should gain injection count 1, got %d", reloadedMem.InjectionCount)
	}
}

func TestIntercept_EmbeddingFailureDegrades(t *testing.T) {
	gdb := newEngineDB(t)
	store := memory.NewStore(gdb, memory.NewMemoryVectorIndex())
	notes := memory.NewNoteStore(gdb)
	graph := memory.NewGraph(gdb)
	fake := &fakeCompleter{response: `{"needsContext": true, "confidence": 0.9}`}

	// Unreachable embeddings endpoint: retrieval fails but the request succeeds
	broken := memory.NewHTTPEmbedder("http://127.0.0.1:1/v1/embeddings", "m", 1)
	retriever := NewRetriever(broken, store, notes, graph, DefaultRetrieverConfig())
	interceptor := NewInterceptor(NewGate(fake), retriever, NewCompressor(nil, nil), nil, nil)

	got, err := interceptor.Intercept(context.Background(), InterceptRequest{
		Prompt:   "Create a UserService with repository pattern",
		TenantID: "tenant-a",
	})
	if err != nil {
		t.Fatalf("degraded retrieval must not error: %v", err)
	}
	if got.Enhanced {
		t.Errorf("degraded retrieval must pass the prompt through")
	}
	if got.EnhancedPrompt != "Create a UserService with repository pattern" {
		t.Errorf("prompt must be unchanged on degradation")
	}
}

func TestInterceptor_RelatedMemories(t *testing.T) {
	p := newTestPipeline(t, `{"needsContext": true}`)
	ctx := context.Background()

	a := p.saveMemory(t, "tenant-a", "first memory", memory.ImportanceCritical)
	b := p.saveMemory(t, "tenant-a", "second memory", memory.ImportanceCritical)

	if _, err := p.interceptor.retriever.graph.CreateEdge(ctx, "tenant-a", a.ID, b.ID, memory.RelationUsedWith); err != nil {
		t.Fatalf("create edge failed: %v", err)
	}

	neighbors, err := p.interceptor.RelatedMemories(ctx, "tenant-a", a.ID, 0.3, 1)
	if err != nil {
		t.Fatalf("related failed: %v", err)
	}
	if len(neighbors) != 1 || neighbors[0].MemoryID != b.ID {
		t.Errorf("expected b as the single neighbor, got %+v", neighbors)
	}

	if _, err := p.interceptor.RelatedMemories(ctx, "tenant-a", "missing", 0.3, 1); err != memory.ErrNotFound {
		t.Errorf("unknown memory should be ErrNotFound, got %v", err)
	}
}

func TestInterceptor_CompressDelegates(t *testing.T) {
	p := newTestPipeline(t, `{"summary": "worked on auth"}`)

	msgs := historyOf(25, 2000)
	got := p.interceptor.Compress(context.Background(), msgs, 1000, "sess-1", "tenant-a")
	if !got.Compressed {
		t.Fatalf("expected compression")
	}
	if got.Summary != "worked on auth" {
		t.Errorf("unexpected summary %q", got.Summary)
	}
}

func TestGateCacheKey_Stable(t *testing.T) {
	a := gateCacheKey("t", "same prompt")
	b := gateCacheKey("t", "same prompt")
	if a != b {
		t.Errorf("same prompt must hash to the same key")
	}
	if a == gateCacheKey("t", "different prompt") {
		t.Errorf("different prompts should hash differently")
	}
	if !strings.HasPrefix(a, "gate:t:") {
		t.Errorf("key should be tenant-prefixed, got %q", a)
	}
}
