// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval implements multi-index search aggregation.
//
// # Description
//
// A Searcher owns a fixed set of named indexes, each backed by a Provider.
// A request is fanned out to every index concurrently, each index's results
// are deduplicated by source, and the per-index lists are merged into one
// ranked top-N list with MergeBest.
//
//	query ──► SearchAll ──┬─► SearchIndex(A) ─┐
//	                      ├─► SearchIndex(B) ─┼─► MergeBest(n) ──► []SearchRecord
//	                      └─► SearchIndex(C) ─┘
//
// # Ordering
//
// Every list returned by this package is sorted by score, highest first.
// Ties keep first-seen order: provider order within an index, ascending
// index name across indexes.
//
// # Thread Safety
//
// Searcher is safe for concurrent use once constructed.
package retrieval

import (
	"context"

	"github.com/tmc/langchaingo/schema"
)

// Provider answers similarity queries for one pre-built index.
//
// # Description
//
// Provider is the adapter boundary between the aggregation logic and the
// vector store backends. Every backend returns langchaingo documents whose
// Metadata carries "source" and "tags" (tab-delimited breadcrumb) and whose
// Score is the backend's relevance score.
//
// # Thread Safety
//
// Implementations must be safe for concurrent read queries.
type Provider interface {
	// SimilaritySearch returns up to k documents ordered by relevance.
	SimilaritySearch(ctx context.Context, query string, k int) ([]schema.Document, error)
}

// ProviderFunc adapts a plain function to the Provider interface.
type ProviderFunc func(ctx context.Context, query string, k int) ([]schema.Document, error)

// SimilaritySearch calls f.
func (f ProviderFunc) SimilaritySearch(ctx context.Context, query string, k int) ([]schema.Document, error) {
	return f(ctx, query, k)
}

// Index pairs a configured index name with its provider.
type Index struct {
	Name     string
	Provider Provider
}

// TagResolver looks up the breadcrumb of a source document. Used to fill
// records whose provider metadata has no tags.
type TagResolver interface {
	Lookup(source string) []string
}

// Recorder receives per-index search outcomes for instrumentation.
type Recorder interface {
	ObserveIndexSearch(index string, seconds float64, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveIndexSearch(string, float64, error) {}
