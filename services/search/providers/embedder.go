// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/embeddings"
)

// DefaultEmbeddingCacheSize is the number of query embeddings kept in memory.
// At 1536 dimensions * 4 bytes * 1000 entries that is about 6MB.
const DefaultEmbeddingCacheSize = 1000

var (
	_ embeddings.Embedder = (*OpenAIEmbedder)(nil)
	_ embeddings.Embedder = (*CachedEmbedder)(nil)
)

// embeddingClient is the subset of *openai.Client used for embeddings.
type embeddingClient interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// =============================================================================
// OpenAIEmbedder
// =============================================================================

// OpenAIEmbedder turns query text into vectors with the OpenAI embeddings
// API. It implements the langchaingo embeddings.Embedder interface so it can
// be handed to langchaingo vector stores directly.
//
// # Thread Safety
//
// Safe for concurrent use. The underlying HTTP client is shared.
type OpenAIEmbedder struct {
	client embeddingClient
	model  string
}

// NewOpenAIEmbedder creates an embedder for the given model.
//
// # Inputs
//
//   - apiKey: OpenAI API key. Must not be empty.
//   - model: Embedding model, e.g. "text-embedding-3-small".
//
// # Outputs
//
//   - *OpenAIEmbedder: Ready to use. No request is made until the first
//     embedding call.
//   - error: Non-nil when apiKey or model is empty.
func NewOpenAIEmbedder(apiKey, model string) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required for embeddings")
	}
	if model == "" {
		return nil, errors.New("embedding model is required")
	}
	slog.Info("Initializing OpenAI embedder", "model", model)
	return &OpenAIEmbedder{client: openai.NewClient(apiKey), model: model}, nil
}

// ModelName returns the embedding model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// EmbedDocuments embeds each text, returning vectors in input order.
func (e *OpenAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("create embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// EmbedQuery embeds a single query text.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// =============================================================================
// CachedEmbedder
// =============================================================================

// CachedEmbedder wraps an embedder with an LRU cache keyed by model and text.
//
// # Description
//
// Every index of a request embeds the same query text. The cache turns the
// N identical embedding calls of one fan-out into one, and repeated queries
// across requests into zero.
//
// # Limitations
//
//   - Concurrent misses for the same text may each call the inner embedder.
//
// # Thread Safety
//
// Safe for concurrent use. lru.Cache is internally locked.
type CachedEmbedder struct {
	inner embeddings.Embedder
	model string
	cache *lru.Cache[string, []float32]
	store VectorStore
}

// NewCachedEmbedder wraps inner. model scopes the cache key; size <= 0
// selects DefaultEmbeddingCacheSize.
func NewCachedEmbedder(inner embeddings.Embedder, model string, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedEmbedder{inner: inner, model: model, cache: cache}
}

// WithStore adds a persistent tier consulted on in-memory misses. Vectors
// computed by the inner embedder are written to both tiers.
func (c *CachedEmbedder) WithStore(store VectorStore) *CachedEmbedder {
	c.store = store
	return c
}

// Close closes the persistent tier when it has a Close method. Safe on a
// nil receiver.
func (c *CachedEmbedder) Close() error {
	if c == nil {
		return nil
	}
	if closer, ok := c.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// Len returns the number of vectors held in memory.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

// EmbedQuery returns the cached vector for text, computing it on a miss.
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.lookup(key); ok {
		return vec, nil
	}

	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.remember(key, vec)
	return vec, nil
}

// EmbedDocuments embeds texts, reusing cached vectors and batching misses.
func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.lookup(c.cacheKey(text)); ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(fresh), len(missTexts))
	}
	for j, i := range missIdx {
		results[i] = fresh[j]
		c.remember(c.cacheKey(texts[i]), fresh[j])
	}
	return results, nil
}

// lookup checks memory, then the persistent tier, promoting store hits.
func (c *CachedEmbedder) lookup(key string) ([]float32, bool) {
	if vec, ok := c.cache.Get(key); ok {
		return vec, true
	}
	if c.store == nil {
		return nil, false
	}
	vec, ok := c.store.Get(key)
	if ok {
		c.cache.Add(key, vec)
	}
	return vec, ok
}

func (c *CachedEmbedder) remember(key string, vec []float32) {
	c.cache.Add(key, vec)
	if c.store != nil {
		c.store.Put(key, vec)
	}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
