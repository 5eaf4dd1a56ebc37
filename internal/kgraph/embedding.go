package kgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"time"
)

// EmbeddingMetadata describes the active embedding provider, per the
// consumed interface in spec §6.
type EmbeddingMetadata struct {
	Provider   string
	Model      string
	Dimensions int
}

// ProgressFunc reports incremental progress of a batched embed call.
type ProgressFunc func(done, total int)

// EmbeddingProvider is the consumed interface named in §6:
// isReady/embed/embedBatch plus metadata, with an optional
// progress-reporting batch variant.
type EmbeddingProvider interface {
	IsReady(ctx context.Context) bool
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Metadata() EmbeddingMetadata
}

// ProgressEmbeddingProvider is implemented by providers that can
// report incremental progress during a batch embed.
type ProgressEmbeddingProvider interface {
	EmbeddingProvider
	EmbedBatchWithProgress(ctx context.Context, texts []string, onProgress ProgressFunc) ([][]float32, error)
}

// HashEmbeddingProvider is a deterministic, dependency-free default
// embedding provider. Grounded on the teacher's
// internal/memory.SimpleEmbedding: per-word hash distributed across
// dimensions with a position-decay weight, L2-normalised.
type HashEmbeddingProvider struct {
	dimensions int
}

// NewHashEmbeddingProvider constructs a HashEmbeddingProvider with
// the given vector dimensionality (default 128 if <= 0).
func NewHashEmbeddingProvider(dimensions int) *HashEmbeddingProvider {
	if dimensions <= 0 {
		dimensions = 128
	}
	return &HashEmbeddingProvider{dimensions: dimensions}
}

func (h *HashEmbeddingProvider) IsReady(context.Context) bool { return true }

func (h *HashEmbeddingProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dimensions)
	words := strings.Fields(strings.ToLower(text))
	for i, word := range words {
		sum := fnv.New32a()
		_, _ = sum.Write([]byte(word))
		seed := sum.Sum32()
		weight := float32(1.0 / (1.0 + float64(i)*0.1))
		for d := 0; d < h.dimensions; d++ {
			bucket := (seed + uint32(d)*2654435761) % uint32(h.dimensions)
			vec[bucket] += weight
		}
	}
	normalize(vec)
	return vec, nil
}

func (h *HashEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *HashEmbeddingProvider) Metadata() EmbeddingMetadata {
	return EmbeddingMetadata{Provider: "hash", Model: "fnv-bucket-v1", Dimensions: h.dimensions}
}

func normalize(vec []float32) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	norm := sqrtNewton(sumSquares)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}

// sqrtNewton computes a square root via Newton's method, matching the
// teacher's SimpleEmbedding normalisation step.
func sqrtNewton(x float64) float64 {
	if x == 0 {
		return 0
	}
	guess := x
	for i := 0; i < 20; i++ {
		guess = 0.5 * (guess + x/guess)
	}
	return guess
}

// HTTPEmbeddingProvider calls an external HTTP embedding service.
// Grounded on the teacher's internal/memory.HuggingFaceEmbedding.
type HTTPEmbeddingProvider struct {
	url        string
	model      string
	dimensions int
	client     *http.Client
}

// NewHTTPEmbeddingProvider constructs a provider that POSTs
// {"inputs": text} to url and expects a JSON array of floats back.
func NewHTTPEmbeddingProvider(url, model string, dimensions int) *HTTPEmbeddingProvider {
	return &HTTPEmbeddingProvider{
		url:        url,
		model:      model,
		dimensions: dimensions,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *HTTPEmbeddingProvider) IsReady(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func (p *HTTPEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, wrapErr(KindEmbeddingFailed, "empty response", nil)
	}
	return vecs[0], nil
}

func (p *HTTPEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return p.EmbedBatchWithProgress(ctx, texts, nil)
}

func (p *HTTPEmbeddingProvider) EmbedBatchWithProgress(ctx context.Context, texts []string, onProgress ProgressFunc) ([][]float32, error) {
	payload, err := json.Marshal(map[string]any{"inputs": texts, "model": p.model})
	if err != nil {
		return nil, wrapErr(KindEmbeddingFailed, "marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, wrapErr(KindEmbeddingFailed, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, wrapErr(KindEmbeddingFailed, "embedding request", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapErr(KindEmbeddingFailed, "read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, wrapErr(KindEmbeddingFailed, fmt.Sprintf("status %d: %s", resp.StatusCode, body), nil)
	}
	var vectors [][]float32
	if err := json.Unmarshal(body, &vectors); err != nil {
		return nil, wrapErr(KindEmbeddingFailed, "decode response", err)
	}
	if onProgress != nil {
		onProgress(len(vectors), len(texts))
	}
	return vectors, nil
}

func (p *HTTPEmbeddingProvider) Metadata() EmbeddingMetadata {
	return EmbeddingMetadata{Provider: "http", Model: p.model, Dimensions: p.dimensions}
}
