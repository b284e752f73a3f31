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

	"github.com/AleutianAI/AleutianSearch/services/search/datatypes"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// WeaviateProvider serves one weaviate class through a nearVector query.
//
// # Description
//
// The query is embedded with the shared embedder and sent as a nearVector
// GraphQL Get. Each object must carry the properties content, source and
// tags. Only the distance is requested, since certainty exists for cosine
// classes alone; scores are 1 - distance.
//
// # Thread Safety
//
// Safe for concurrent use. *weaviate.Client is safe for concurrent use.
type WeaviateProvider struct {
	client   *weaviate.Client
	class    string
	embedder embeddings.Embedder
}

// NewWeaviateProvider creates a provider for class.
func NewWeaviateProvider(client *weaviate.Client, class string, embedder embeddings.Embedder) *WeaviateProvider {
	return &WeaviateProvider{client: client, class: class, embedder: embedder}
}

// SimilaritySearch returns up to k passages nearest to the query vector.
func (p *WeaviateProvider) SimilaritySearch(ctx context.Context, query string, k int) ([]schema.Document, error) {
	vector, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	fields := []graphql.Field{
		{Name: datatypes.MetadataContent},
		{Name: datatypes.MetadataSource},
		{Name: datatypes.MetadataTags},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}
	nearVector := p.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	resp, err := p.client.GraphQL().Get().
		WithClassName(p.class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate class %q: %w", p.class, err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PassageQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("weaviate class %q: %w", p.class, err)
	}
	return passagesToDocuments(parsed.Get[p.class]), nil
}

// passagesToDocuments maps weaviate passages into provider documents.
func passagesToDocuments(passages []datatypes.PassageResult) []schema.Document {
	docs := make([]schema.Document, 0, len(passages))
	for _, p := range passages {
		metadata := map[string]any{
			datatypes.MetadataSource: p.Source,
			datatypes.MetadataTags:   p.Tags,
		}
		if id := p.ObjectID(); id != "" {
			metadata[datatypes.MetadataObjectID] = id
		}
		docs = append(docs, schema.Document{
			PageContent: p.Content,
			Metadata:    metadata,
			Score:       float32(p.Score()),
		})
	}
	return docs
}
