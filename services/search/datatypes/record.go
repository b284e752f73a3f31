// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the request, response and record types shared by
// the search service packages.
package datatypes

import (
	"strings"
)

// UnknownSource is the source assigned to passages whose provider metadata
// carries no source identifier.
const UnknownSource = "unknown"

// TagSeparator separates breadcrumb segments in the "tags" metadata field.
const TagSeparator = "\t"

// Metadata keys read from provider documents.
const (
	MetadataSource = "source"
	MetadataTags   = "tags"

	// MetadataContent names the passage text field in stores that keep it
	// as a property rather than as the document body.
	MetadataContent = "content"

	// MetadataObjectID carries the store's object identifier when the
	// store exposes one.
	MetadataObjectID = "object_id"
)

// =============================================================================
// SearchRecord
// =============================================================================

// SearchRecord is one retrieved passage, normalized from provider output.
//
// # Description
//
// SearchRecord is the single shape every provider result is mapped into
// before deduplication and ranking. Records are built per query by
// NewSearchRecord and are never modified afterwards.
//
// # Fields
//
//   - Index: Name of the index that produced the record.
//   - Content: Text of the matched passage.
//   - Source: Identifier (usually a URL) of the originating document.
//     Deduplication key. Never empty; UnknownSource when absent.
//   - TagPath: Breadcrumb segments locating the document. Never nil.
//   - Title: Last TagPath segment, or "" when TagPath is empty.
//   - Score: Provider relevance score. Higher is better. Not comparable
//     across providers in any normalized sense.
//
// # Thread Safety
//
// SearchRecord is a value type. TagPath is a private copy, so records may
// be shared read-only between goroutines.
type SearchRecord struct {
	Index   string   `json:"index"`
	Content string   `json:"content"`
	Source  string   `json:"source"`
	TagPath []string `json:"tag_path"`
	Title   string   `json:"title"`
	Score   float64  `json:"score"`
}

// NewSearchRecord builds a SearchRecord from raw provider output.
//
// # Description
//
// Reads "source" and "tags" from the metadata map. Non-string values are
// treated as absent. The tag string is split on tabs into TagPath and the
// last segment becomes the Title.
//
// # Inputs
//
//   - index: Name of the index the passage came from.
//   - content: Passage text.
//   - metadata: Provider metadata. May be nil.
//   - score: Provider relevance score.
//
// # Outputs
//
//   - SearchRecord: Normalized record. TagPath is never nil.
//
// # Examples
//
//	rec := NewSearchRecord("semantic", "Opening hours...", map[string]any{
//	    "source": "https://example.org/hours",
//	    "tags":   "Home\tContact\tOpening hours",
//	}, 0.82)
//	// rec.Title == "Opening hours"
func NewSearchRecord(index, content string, metadata map[string]any, score float64) SearchRecord {
	source := metadataString(metadata, MetadataSource)
	if source == "" {
		source = UnknownSource
	}
	path := SplitTagPath(metadataString(metadata, MetadataTags))

	return SearchRecord{
		Index:   index,
		Content: content,
		Source:  source,
		TagPath: path,
		Title:   TitleOf(path),
		Score:   score,
	}
}

// WithTagPath returns a copy of the record carrying the given tag path and
// the title derived from it.
func (r SearchRecord) WithTagPath(path []string) SearchRecord {
	cp := make([]string, len(path))
	copy(cp, path)
	r.TagPath = cp
	r.Title = TitleOf(cp)
	return r
}

// SplitTagPath splits a tab-delimited breadcrumb into its segments.
// An empty or whitespace-only string yields an empty, non-nil slice.
func SplitTagPath(tags string) []string {
	if strings.TrimSpace(tags) == "" {
		return []string{}
	}
	return strings.Split(tags, TagSeparator)
}

// TitleOf returns the last segment of path, or "" when path is empty.
func TitleOf(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return path[len(path)-1]
}

func metadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}
