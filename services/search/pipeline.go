// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianSearch/services/search/config"
	"github.com/AleutianAI/AleutianSearch/services/search/providers"
	"github.com/AleutianAI/AleutianSearch/services/search/retrieval"
	"github.com/AleutianAI/AleutianSearch/services/search/tags"
	"github.com/tmc/langchaingo/embeddings"
)

// Pipeline is the retrieval side of the service: configured indexes, the
// tag catalog and the fan-out searcher over them.
//
// # Thread Safety
//
// Thread-safe after construction. Close must be called once, after the
// last search.
type Pipeline struct {
	Searcher *retrieval.Searcher
	Tags     *tags.Catalog
	set      *providers.Set
	embedder *providers.CachedEmbedder
}

// PipelineOptions override parts of the pipeline, mainly for tests.
//
// # Fields
//
//   - Indexes: Used instead of building providers from the configuration.
//   - Recorder: Receives per-index outcomes. May be nil.
type PipelineOptions struct {
	Indexes  []retrieval.Index
	Recorder retrieval.Recorder
}

// NewPipeline builds the providers, loads the tag catalog and creates the
// searcher.
//
// # Description
//
// A tag catalog that cannot be read is logged and ignored; records whose
// provider metadata carries no tags then keep an empty breadcrumb.
//
// # Inputs
//
//   - cfg: Validated configuration.
//   - opts: Optional overrides.
//
// # Outputs
//
//   - *Pipeline: Ready to search.
//   - error: Non-nil when a provider or the searcher cannot be created.
func NewPipeline(cfg *config.Config, opts PipelineOptions) (*Pipeline, error) {
	p := &Pipeline{}

	indexes := opts.Indexes
	if len(indexes) == 0 {
		embedder, err := providers.NewQueryEmbedder(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create query embedder: %w", err)
		}
		p.embedder = embedder

		var queryEmbedder embeddings.Embedder
		if embedder != nil {
			queryEmbedder = embedder
		}
		set, err := providers.Build(cfg, queryEmbedder)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to build providers: %w", err)
		}
		p.set = set
		indexes = set.Indexes
	}

	var searchOpts []retrieval.Option
	if opts.Recorder != nil {
		searchOpts = append(searchOpts, retrieval.WithRecorder(opts.Recorder))
	}
	if cfg.TagDataPath != "" {
		p.Tags = tags.NewCatalog(cfg.TagDataPath)
		if err := p.Tags.Load(); err != nil {
			slog.Warn("Tag catalog unavailable, breadcrumbs limited to provider metadata",
				"path", cfg.TagDataPath, "error", err)
		} else {
			slog.Info("Tag catalog loaded", "path", cfg.TagDataPath, "sources", p.Tags.Len())
		}
		searchOpts = append(searchOpts, retrieval.WithTagResolver(p.Tags))
	}

	searcher, err := retrieval.NewSearcher(indexes, searcherConfig(cfg), searchOpts...)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to create searcher: %w", err)
	}
	p.Searcher = searcher
	return p, nil
}

// Close releases provider resources such as open bleve indexes and the
// persistent embedding cache. Later calls are no-ops.
func (p *Pipeline) Close() error {
	var errs []error
	if p.Tags != nil {
		p.Tags.StopWatching()
	}
	if p.set != nil {
		errs = append(errs, p.set.Close())
		p.set = nil
	}
	errs = append(errs, p.embedder.Close())
	p.embedder = nil
	return errors.Join(errs...)
}

// searcherConfig maps service configuration onto the fan-out policy.
func searcherConfig(cfg *config.Config) retrieval.Config {
	rc := retrieval.DefaultConfig()
	rc.ProviderTimeout = cfg.ProviderTimeout
	rc.FailurePolicy = retrieval.FailurePolicy(cfg.FailurePolicy)
	rc.RetryAttempts = cfg.RetryAttempts
	return rc
}
