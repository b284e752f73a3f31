// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package providers adapts vector and keyword stores to the retrieval
// Provider interface.
//
// # Description
//
// Each adapter normalizes its backend's result shape into langchaingo
// schema.Document values carrying "source" and "tags" metadata:
//
//   - chroma: langchaingo chroma vector store, lazily opened
//   - weaviate: nearVector GraphQL query over a passage class
//   - bleve: BM25 match query over an on-disk keyword index
//
// Chroma and weaviate share one cached OpenAI query embedder.
package providers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/AleutianAI/AleutianSearch/services/search/config"
	"github.com/AleutianAI/AleutianSearch/services/search/retrieval"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// Set is the result of Build: the indexes plus the resources to release
// on shutdown.
type Set struct {
	Indexes []retrieval.Index
	closers []func() error
}

// Close releases every opened index. Errors are joined.
func (s *Set) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build creates one provider per configured index.
//
// # Description
//
// Providers are created once at startup and shared by all requests. Chroma
// collections are opened lazily on first query, so an unreachable chroma
// server does not fail Build. Bleve indexes are opened here and a missing
// index directory does fail Build.
//
// # Inputs
//
//   - cfg: Validated configuration.
//   - embedder: Query embedder for vector indexes. May be nil when no
//     chroma or weaviate index is configured.
//
// # Outputs
//
//   - *Set: One retrieval.Index per IndexSpec, in configuration order.
//   - error: Non-nil on an unknown kind, a missing embedder, an invalid
//     weaviate URL or an unopenable bleve index.
func Build(cfg *config.Config, embedder embeddings.Embedder) (*Set, error) {
	set := &Set{Indexes: make([]retrieval.Index, 0, len(cfg.Indexes))}

	var weaviateClient *weaviate.Client
	for _, spec := range cfg.Indexes {
		var provider retrieval.Provider

		switch spec.Kind {
		case config.KindChroma:
			if embedder == nil {
				_ = set.Close()
				return nil, fmt.Errorf("index %q: chroma requires an embedder", spec.Name)
			}
			provider = NewChromaProvider(cfg.ChromaURL(spec), spec.Collection, embedder)

		case config.KindWeaviate:
			if embedder == nil {
				_ = set.Close()
				return nil, fmt.Errorf("index %q: weaviate requires an embedder", spec.Name)
			}
			if weaviateClient == nil {
				client, err := newWeaviateClient(cfg.WeaviateURL)
				if err != nil {
					_ = set.Close()
					return nil, fmt.Errorf("index %q: %w", spec.Name, err)
				}
				weaviateClient = client
			}
			provider = NewWeaviateProvider(weaviateClient, spec.Class, embedder)

		case config.KindBleve:
			bp, err := OpenBleveProvider(spec.Path)
			if err != nil {
				_ = set.Close()
				return nil, fmt.Errorf("index %q: %w", spec.Name, err)
			}
			set.closers = append(set.closers, bp.Close)
			provider = bp

		default:
			_ = set.Close()
			return nil, fmt.Errorf("index %q: unknown kind %q", spec.Name, spec.Kind)
		}

		slog.Info("Configured index", "index", spec.Name, "kind", spec.Kind)
		set.Indexes = append(set.Indexes, retrieval.Index{Name: spec.Name, Provider: provider})
	}
	return set, nil
}

// NewQueryEmbedder returns the shared cached OpenAI embedder, or nil when no
// configured index needs one.
//
// # Description
//
// When cfg.EmbeddingCacheDir is set, embeddings are also persisted in a
// BadgerDB store there. A store that cannot be opened is logged and the
// embedder runs with the in-memory cache only.
func NewQueryEmbedder(cfg *config.Config) (*CachedEmbedder, error) {
	if !cfg.NeedsEmbedder() {
		return nil, nil
	}
	inner, err := NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	cached := NewCachedEmbedder(inner, cfg.EmbeddingModel, cfg.EmbeddingCacheSize)

	if cfg.EmbeddingCacheDir != "" {
		store, err := OpenBadgerVectorStore(BadgerStoreConfig{
			Path:       cfg.EmbeddingCacheDir,
			TTL:        cfg.EmbeddingCacheTTL,
			GCInterval: embeddingStoreGCInterval,
		})
		if err != nil {
			slog.Warn("Persistent embedding cache disabled",
				"path", cfg.EmbeddingCacheDir, "error", err)
		} else {
			slog.Info("Persistent embedding cache opened", "path", cfg.EmbeddingCacheDir)
			cached.WithStore(store)
		}
	}
	return cached, nil
}

// newWeaviateClient creates a client from a service URL like
// "http://weaviate:8080".
func newWeaviateClient(serviceURL string) (*weaviate.Client, error) {
	parsed, err := url.Parse(serviceURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %q", serviceURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	return client, nil
}
