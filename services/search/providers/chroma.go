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
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianSearch/services/search/datatypes"
	chromago "github.com/amikos-tech/chroma-go"
	"github.com/amikos-tech/chroma-go/types"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
)

// collectionQuerier is the read side of an opened chroma collection.
type collectionQuerier interface {
	QueryWithOptions(ctx context.Context, opts ...types.CollectionQueryOption) (*chromago.QueryResults, error)
}

// collectionOpener looks up an existing chroma collection.
type collectionOpener func(ctx context.Context) (collectionQuerier, error)

// ChromaProvider serves one pre-built chroma collection.
//
// # Description
//
// The collection is looked up on the first query, not at construction, so
// the service starts even when chroma is still coming up. The lookup never
// creates anything: a collection that does not exist is reported as a query
// error and looked up again on the next query. Once found, the collection
// handle is reused for the life of the process.
//
// Queries carry no metadata filter. Every document of the collection is a
// candidate, whatever metadata it was ingested with.
//
// # Thread Safety
//
// Safe for concurrent use. Lookup is serialized by a mutex; queries on an
// opened collection run concurrently.
type ChromaProvider struct {
	collection string
	embedder   embeddings.Embedder
	open       collectionOpener

	mu   sync.Mutex
	coll collectionQuerier
}

// NewChromaProvider creates a lazily opened provider for collection on the
// chroma server at url. embedder vectorizes the query text.
//
// # Examples
//
//	p := NewChromaProvider("http://chromadb:8080", "chroma_db_semantic", embedder)
//	docs, err := p.SimilaritySearch(ctx, "opening hours", 5)
func NewChromaProvider(url, collection string, embedder embeddings.Embedder) *ChromaProvider {
	return newChromaProvider(collection, embedder, func(ctx context.Context) (collectionQuerier, error) {
		client, err := chromago.NewClient(url)
		if err != nil {
			return nil, err
		}
		coll, err := client.GetCollection(ctx, collection, &chromaEmbeddingFunction{embedder: embedder})
		if err != nil {
			return nil, err
		}
		return coll, nil
	})
}

func newChromaProvider(collection string, embedder embeddings.Embedder, open collectionOpener) *ChromaProvider {
	return &ChromaProvider{collection: collection, embedder: embedder, open: open}
}

// SimilaritySearch returns up to k documents of the collection. Scores are
// similarities (1 - distance), higher is better.
func (p *ChromaProvider) SimilaritySearch(ctx context.Context, query string, k int) ([]schema.Document, error) {
	if k < 1 {
		return []schema.Document{}, nil
	}
	coll, err := p.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}
	vec, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query for chroma collection %q: %w", p.collection, err)
	}
	res, err := coll.QueryWithOptions(ctx,
		types.WithQueryEmbedding(types.NewEmbeddingFromFloat32(vec)),
		types.WithNResults(int32(k)),
		types.WithInclude(types.IDocuments, types.IMetadatas, types.IDistances),
		withoutFilters(),
	)
	if err != nil {
		return nil, fmt.Errorf("chroma collection %q: %w", p.collection, err)
	}
	return queryResultsToDocuments(res), nil
}

func (p *ChromaProvider) ensureOpen(ctx context.Context) (collectionQuerier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.coll != nil {
		return p.coll, nil
	}
	coll, err := p.open(ctx)
	if err != nil {
		slog.Warn("Failed to open chroma collection", "collection", p.collection, "error", err)
		return nil, fmt.Errorf("open chroma collection %q: %w", p.collection, err)
	}
	slog.Info("Opened chroma collection", "collection", p.collection)
	p.coll = coll
	return coll, nil
}

// withoutFilters drops the empty where and where_document clauses the
// client would otherwise send with every query.
func withoutFilters() types.CollectionQueryOption {
	return func(b *types.CollectionQueryBuilder) error {
		b.Where = nil
		b.WhereDocument = nil
		return nil
	}
}

// queryResultsToDocuments converts the first result row of a chroma query.
// The chroma id is kept under the object_id metadata key.
func queryResultsToDocuments(res *chromago.QueryResults) []schema.Document {
	if res == nil || len(res.Ids) == 0 {
		return []schema.Document{}
	}
	ids := res.Ids[0]
	docs := make([]schema.Document, 0, len(ids))
	for i, id := range ids {
		metadata := map[string]any{}
		if len(res.Metadatas) > 0 && i < len(res.Metadatas[0]) {
			for key, value := range res.Metadatas[0][i] {
				metadata[key] = value
			}
		}
		if id != "" {
			metadata[datatypes.MetadataObjectID] = id
		}
		doc := schema.Document{Metadata: metadata}
		if len(res.Documents) > 0 && i < len(res.Documents[0]) {
			doc.PageContent = res.Documents[0][i]
		}
		if len(res.Distances) > 0 && i < len(res.Distances[0]) {
			doc.Score = 1 - res.Distances[0][i]
		}
		docs = append(docs, doc)
	}
	return docs
}

// chromaEmbeddingFunction adapts a langchaingo embedder to the chroma
// client. Queries are embedded before they reach the client, so it is only
// asked to embed when a caller passes query texts.
type chromaEmbeddingFunction struct {
	embedder embeddings.Embedder
}

func (f *chromaEmbeddingFunction) EmbedDocuments(ctx context.Context, texts []string) ([]*types.Embedding, error) {
	if len(texts) == 0 {
		return []*types.Embedding{}, nil
	}
	vectors, err := f.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Embedding, len(vectors))
	for i, v := range vectors {
		out[i] = types.NewEmbeddingFromFloat32(v)
	}
	return out, nil
}

func (f *chromaEmbeddingFunction) EmbedQuery(ctx context.Context, text string) (*types.Embedding, error) {
	vec, err := f.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return types.NewEmbeddingFromFloat32(vec), nil
}

func (f *chromaEmbeddingFunction) EmbedRecords(ctx context.Context, records []*types.Record, force bool) error {
	return types.EmbedRecordsDefaultImpl(f, ctx, records, force)
}
