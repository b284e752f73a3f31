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
	"strings"

	"github.com/AleutianAI/AleutianSearch/services/search/datatypes"
	"github.com/blevesearch/bleve/v2"
	"github.com/tmc/langchaingo/schema"
)

// BleveProvider serves a pre-built bleve keyword index.
//
// # Description
//
// Runs a match query against the content field and returns the stored
// content, source and tags fields of each hit. Scores are bleve BM25 scores
// and are unbounded above.
//
// # Assumptions
//
//   - The index stores content, source and tags. Hits missing a stored
//     field map to empty metadata, which resolves to the unknown source.
//
// # Thread Safety
//
// Safe for concurrent use. bleve.Index supports concurrent searches.
type BleveProvider struct {
	index bleve.Index
}

// OpenBleveProvider opens the index at path read-only.
func OpenBleveProvider(path string) (*BleveProvider, error) {
	idx, err := bleve.OpenUsing(path, map[string]interface{}{"read_only": true})
	if err != nil {
		return nil, fmt.Errorf("open bleve index %q: %w", path, err)
	}
	return NewBleveProvider(idx), nil
}

// NewBleveProvider wraps an already opened index.
func NewBleveProvider(idx bleve.Index) *BleveProvider {
	return &BleveProvider{index: idx}
}

// Close releases the index.
func (p *BleveProvider) Close() error {
	return p.index.Close()
}

// SimilaritySearch returns up to k hits ordered by BM25 score.
func (p *BleveProvider) SimilaritySearch(ctx context.Context, query string, k int) ([]schema.Document, error) {
	if strings.TrimSpace(query) == "" {
		return []schema.Document{}, nil
	}

	match := bleve.NewMatchQuery(query)
	match.SetField(datatypes.MetadataContent)

	req := bleve.NewSearchRequestOptions(match, k, 0, false)
	req.Fields = []string{datatypes.MetadataContent, datatypes.MetadataSource, datatypes.MetadataTags}

	result, err := p.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search: %w", err)
	}

	docs := make([]schema.Document, 0, len(result.Hits))
	for _, hit := range result.Hits {
		metadata := make(map[string]any, 2)
		for _, key := range []string{datatypes.MetadataSource, datatypes.MetadataTags} {
			if v, ok := hit.Fields[key].(string); ok {
				metadata[key] = v
			}
		}
		content, _ := hit.Fields[datatypes.MetadataContent].(string)
		docs = append(docs, schema.Document{
			PageContent: content,
			Metadata:    metadata,
			Score:       float32(hit.Score),
		})
	}
	return docs, nil
}
