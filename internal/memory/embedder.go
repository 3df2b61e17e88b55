// internal/memory/embedder.go
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
)

// EmbeddingDim is the fixed vector dimensionality per deployment
// (all-MiniLM-L6-v2 sized).
const EmbeddingDim = 384

// Embedder turns text into a fixed-length normalized vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Similarity(a, b []float32) float64
	IsReady(ctx context.Context) bool
}

// Cosine computes cosine similarity between two vectors. Zero-norm or
// mismatched vectors score 0, never NaN.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// HTTPEmbedder calls an OpenAI-style embeddings endpoint.
type HTTPEmbedder struct {
	apiURL  string
	model   string
	client  *http.Client
	workers int
}

// NewHTTPEmbedder creates a new embedder client.
func NewHTTPEmbedder(apiURL, model string, workers int) *HTTPEmbedder {
	if workers <= 0 {
		workers = 4
	}
	return &HTTPEmbedder{
		apiURL:  apiURL,
		model:   model,
		workers: workers,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Embed converts text to a vector embedding.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]interface{}{
		"input": text,
		"model": e.model,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embeddings API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	return result.Data[0].Embedding, nil
}

// EmbedBatch embeds independent texts with a bounded worker pool and blocks
// until all complete. A single failure fails the whole batch.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedParallel(ctx, e, texts, e.workers)
}

// Similarity scores two vectors.
func (e *HTTPEmbedder) Similarity(a, b []float32) float64 {
	return Cosine(a, b)
}

// IsReady probes the endpoint with a trivial embedding request.
func (e *HTTPEmbedder) IsReady(ctx context.Context) bool {
	_, err := e.Embed(ctx, "ping")
	return err == nil
}

// LocalEmbedder is a deterministic token-hash pseudo-embedder used when no
// embeddings endpoint is configured. Same text always maps to the same
// unit-normalized vector, so ordering properties hold even though the vectors
// carry no real semantics.
type LocalEmbedder struct {
	dim     int
	workers int
}

// NewLocalEmbedder creates a local embedder with the deployment dimension.
func NewLocalEmbedder(workers int) *LocalEmbedder {
	if workers <= 0 {
		workers = 4
	}
	return &LocalEmbedder{dim: EmbeddingDim, workers: workers}
}

// Embed hashes lowercase tokens into vector buckets and normalizes.
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dim)
	tokens := strings.Fields(strings.ToLower(text))
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dim))
		// Sign from a second hash bit keeps buckets from all drifting positive
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// EmbedBatch embeds texts in parallel with the same join semantics as the
// HTTP embedder.
func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedParallel(ctx, e, texts, e.workers)
}

// Similarity scores two vectors.
func (e *LocalEmbedder) Similarity(a, b []float32) float64 {
	return Cosine(a, b)
}

// IsReady always reports true; there is no external dependency.
func (e *LocalEmbedder) IsReady(ctx context.Context) bool {
	return true
}

// embedParallel fans texts out over a bounded pool, joins on completion, and
// fails the whole batch on the first error.
func embedParallel(ctx context.Context, e Embedder, texts []string, workers int) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if workers > len(texts) {
		workers = len(texts)
	}

	type job struct {
		idx  int
		text string
	}

	jobs := make(chan job)
	results := make([][]float32, len(texts))
	errCh := make(chan error, len(texts))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				vec, err := e.Embed(ctx, j.text)
				if err != nil {
					errCh <- fmt.Errorf("embed item %d: %w", j.idx, err)
					continue
				}
				results[j.idx] = vec
			}
		}()
	}

	for i, t := range texts {
		jobs <- job{idx: i, text: t}
	}
	close(jobs)
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return nil, err
	}
	return results, nil
}
