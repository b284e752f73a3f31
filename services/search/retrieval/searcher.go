// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianSearch/services/search/datatypes"
	"github.com/cenkalti/backoff/v5"
	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("aleutian.search.retrieval")

// =============================================================================
// Configuration
// =============================================================================

// FailurePolicy decides what a single failing index does to a fan-out.
type FailurePolicy string

const (
	// FailurePolicyDegrade drops the failing index's contribution and keeps
	// the other queries running.
	FailurePolicyDegrade FailurePolicy = "degrade"

	// FailurePolicyFail cancels the remaining queries and fails the request
	// on the first index failure.
	FailurePolicyFail FailurePolicy = "fail"
)

// Config holds the fan-out policy of a Searcher.
//
// # Fields
//
//   - ProviderTimeout: Upper bound for one provider call. Zero disables it.
//   - FailurePolicy: degrade (default) or fail.
//   - RetryAttempts: Extra attempts per index after a failure. Default 0.
//   - RetryInitialInterval: First backoff delay between attempts.
type Config struct {
	ProviderTimeout      time.Duration
	FailurePolicy        FailurePolicy
	RetryAttempts        int
	RetryInitialInterval time.Duration
}

// DefaultConfig returns a 10 second provider timeout, degrade policy and no
// retries.
func DefaultConfig() Config {
	return Config{
		ProviderTimeout:      10 * time.Second,
		FailurePolicy:        FailurePolicyDegrade,
		RetryAttempts:        0,
		RetryInitialInterval: 200 * time.Millisecond,
	}
}

// Option configures optional Searcher collaborators.
type Option func(*Searcher)

// WithTagResolver fills empty tag paths from r.
func WithTagResolver(r TagResolver) Option {
	return func(s *Searcher) {
		s.tags = r
	}
}

// WithRecorder reports per-index latency and failures to r.
func WithRecorder(r Recorder) Option {
	return func(s *Searcher) {
		if r != nil {
			s.recorder = r
		}
	}
}

// =============================================================================
// Searcher
// =============================================================================

// Searcher fans queries out to a fixed set of indexes.
//
// # Description
//
// Searcher is built once at startup from the configured indexes and shared
// by all requests. It never writes to a provider.
//
// # Thread Safety
//
// Safe for concurrent use. All fields are read-only after NewSearcher.
type Searcher struct {
	indexes   []Index
	providers map[string]Provider
	config    Config
	tags      TagResolver
	recorder  Recorder
}

// FanOutResult holds the outcome of SearchAll.
//
// # Fields
//
//   - Results: One entry per configured index. Failed indexes map to an
//     empty, non-nil list.
//   - Errors: The failure of each index that did not answer.
type FanOutResult struct {
	Results map[string][]datatypes.SearchRecord
	Errors  map[string]error
}

// Failed returns the names of the failed indexes in ascending order.
func (r *FanOutResult) Failed() []string {
	names := make([]string, 0, len(r.Errors))
	for name := range r.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllFailed reports whether every index failed.
func (r *FanOutResult) AllFailed() bool {
	return len(r.Results) > 0 && len(r.Errors) == len(r.Results)
}

// SearchOutcome is the merged result of Search.
type SearchOutcome struct {
	Records []datatypes.SearchRecord
	FanOut  *FanOutResult
}

// NewSearcher creates a Searcher over the given indexes.
//
// # Inputs
//
//   - indexes: At least one index. Names must be unique and non-empty.
//   - cfg: Fan-out policy. Zero fields fall back to DefaultConfig values,
//     except ProviderTimeout and RetryAttempts where zero is meaningful.
//   - opts: Optional collaborators.
//
// # Outputs
//
//   - *Searcher: Ready to use.
//   - error: Non-nil on an empty, duplicate or nil index definition, or an
//     unknown failure policy.
func NewSearcher(indexes []Index, cfg Config, opts ...Option) (*Searcher, error) {
	if len(indexes) == 0 {
		return nil, errors.New("at least one index is required")
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = FailurePolicyDegrade
	}
	if cfg.FailurePolicy != FailurePolicyDegrade && cfg.FailurePolicy != FailurePolicyFail {
		return nil, fmt.Errorf("unknown failure policy %q", cfg.FailurePolicy)
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = DefaultConfig().RetryInitialInterval
	}

	providers := make(map[string]Provider, len(indexes))
	for _, idx := range indexes {
		if idx.Name == "" {
			return nil, errors.New("index name must not be empty")
		}
		if idx.Provider == nil {
			return nil, fmt.Errorf("index %q has no provider", idx.Name)
		}
		if _, dup := providers[idx.Name]; dup {
			return nil, fmt.Errorf("duplicate index name %q", idx.Name)
		}
		providers[idx.Name] = idx.Provider
	}

	sorted := make([]Index, len(indexes))
	copy(sorted, indexes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	s := &Searcher{
		indexes:   sorted,
		providers: providers,
		config:    cfg,
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Names returns the configured index names in ascending order.
func (s *Searcher) Names() []string {
	names := make([]string, len(s.indexes))
	for i, idx := range s.indexes {
		names[i] = idx.Name
	}
	return names
}

// SearchIndex queries a single index.
//
// # Description
//
// Asks the index's provider for up to k matches, normalizes them into
// SearchRecords, keeps the best record per source and returns them sorted by
// score descending. No retry happens here.
//
// # Inputs
//
//   - ctx: Cancellation for the provider call.
//   - indexName: A configured index.
//   - query: Non-empty query text. Surrounding whitespace is ignored.
//   - k: Positive cap on the matches requested from the provider.
//
// # Outputs
//
//   - []datatypes.SearchRecord: At most one record per source. May be
//     shorter than k.
//   - error: ErrInvalidQuery, ErrUnknownIndex, or an *IndexError matching
//     ErrProviderUnavailable.
//
// # Examples
//
//	records, err := searcher.SearchIndex(ctx, "semantic", "opening hours", 5)
//	if errors.Is(err, retrieval.ErrProviderUnavailable) {
//	    // index down or too slow
//	}
func (s *Searcher) SearchIndex(ctx context.Context, indexName, query string, k int) ([]datatypes.SearchRecord, error) {
	query, err := validateQuery(query, k)
	if err != nil {
		return nil, err
	}
	provider, ok := s.providers[indexName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndex, indexName)
	}
	return s.searchIndex(ctx, Index{Name: indexName, Provider: provider}, query, k)
}

// SearchAll queries every configured index concurrently.
//
// # Description
//
// Runs one SearchIndex per index in its own goroutine and waits for all of
// them. Under FailurePolicyDegrade a failing or timed-out index contributes
// an empty list and an entry in Errors; the other queries are not
// cancelled. Under FailurePolicyFail the first failure cancels the rest and
// is returned.
//
// # Outputs
//
//   - *FanOutResult: Every configured index name is a key of Results.
//   - error: ErrInvalidQuery before any provider call, or the first index
//     failure under FailurePolicyFail.
//
// # Limitations
//
//   - Scores are not normalized across indexes.
//
// # Assumptions
//
//   - Providers honour context cancellation. A provider that does not is
//     still abandoned when its timeout fires.
func (s *Searcher) SearchAll(ctx context.Context, query string, k int) (*FanOutResult, error) {
	query, err := validateQuery(query, k)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "SearchAll")
	defer span.End()
	span.SetAttributes(
		attribute.Int("search.k", k),
		attribute.Int("search.indexes", len(s.indexes)),
		attribute.String("search.failure_policy", string(s.config.FailurePolicy)),
	)

	type slot struct {
		records []datatypes.SearchRecord
		err     error
	}
	slots := make([]slot, len(s.indexes))

	g, gctx := errgroup.WithContext(ctx)
	for i, idx := range s.indexes {
		g.Go(func() error {
			records, err := s.searchWithRetry(gctx, idx, query, k)
			slots[i] = slot{records: records, err: err}
			if err != nil && s.config.FailurePolicy == FailurePolicyFail {
				return err
			}
			// Degrade: the failure is kept in the slot, siblings keep running
			return nil
		})
	}

	if waitErr := g.Wait(); waitErr != nil {
		span.RecordError(waitErr)
		span.SetStatus(codes.Error, waitErr.Error())
		return nil, waitErr
	}

	result := &FanOutResult{
		Results: make(map[string][]datatypes.SearchRecord, len(s.indexes)),
		Errors:  make(map[string]error),
	}
	for i, idx := range s.indexes {
		if slots[i].err != nil {
			result.Results[idx.Name] = []datatypes.SearchRecord{}
			result.Errors[idx.Name] = slots[i].err
			slog.Warn("Index search failed, continuing without it",
				"index", idx.Name, "error", slots[i].err)
			continue
		}
		result.Results[idx.Name] = slots[i].records
	}

	span.SetAttributes(attribute.Int("search.failed_indexes", len(result.Errors)))
	return result, nil
}

// Search runs SearchAll and merges the per-index lists into the top n.
//
// # Outputs
//
//   - *SearchOutcome: Merged records plus the raw fan-out result.
//   - error: Anything SearchAll returns, or ErrAllProvidersFailed when no
//     index answered.
func (s *Searcher) Search(ctx context.Context, query string, k, n int) (*SearchOutcome, error) {
	fanOut, err := s.SearchAll(ctx, query, k)
	if err != nil {
		return nil, err
	}
	if fanOut.AllFailed() {
		causes := make([]error, 0, len(fanOut.Errors))
		for _, name := range fanOut.Failed() {
			causes = append(causes, fanOut.Errors[name])
		}
		return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(causes...))
	}
	return &SearchOutcome{
		Records: MergeBest(fanOut.Results, n),
		FanOut:  fanOut,
	}, nil
}

// =============================================================================
// Private Methods
// =============================================================================

// searchWithRetry applies the fan-out retry policy around searchIndex.
func (s *Searcher) searchWithRetry(ctx context.Context, idx Index, query string, k int) ([]datatypes.SearchRecord, error) {
	if s.config.RetryAttempts == 0 {
		return s.searchIndex(ctx, idx, query, k)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.config.RetryInitialInterval

	attempt := 0
	records, err := backoff.Retry(ctx, func() ([]datatypes.SearchRecord, error) {
		attempt++
		recs, err := s.searchIndex(ctx, idx, query, k)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			slog.Debug("Index search attempt failed", "index", idx.Name, "attempt", attempt, "error", err)
		}
		return recs, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(s.config.RetryAttempts+1)),
	)
	if err != nil {
		var indexErr *IndexError
		if !errors.As(err, &indexErr) {
			err = &IndexError{Index: idx.Name, Err: err}
		}
		return nil, err
	}
	return records, nil
}

// searchIndex performs one bounded provider call and normalizes the result.
func (s *Searcher) searchIndex(ctx context.Context, idx Index, query string, k int) ([]datatypes.SearchRecord, error) {
	ctx, span := tracer.Start(ctx, "SearchIndex")
	defer span.End()
	span.SetAttributes(attribute.String("search.index", idx.Name), attribute.Int("search.k", k))

	start := time.Now()
	docs, err := s.callProvider(ctx, idx.Provider, query, k)
	s.recorder.ObserveIndexSearch(idx.Name, time.Since(start).Seconds(), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &IndexError{Index: idx.Name, Err: err}
	}

	if len(docs) > k {
		docs = docs[:k]
	}
	records := make([]datatypes.SearchRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, s.toRecord(idx.Name, doc))
	}

	best := bestBySource(records)
	span.SetAttributes(
		attribute.Int("search.raw_results", len(docs)),
		attribute.Int("search.results", len(best)),
	)
	slog.Debug("Index search completed",
		"index", idx.Name,
		"raw_results", len(docs),
		"results", len(best),
		"duration_ms", time.Since(start).Milliseconds())
	return best, nil
}

// callProvider runs the provider call under the provider timeout. The call
// is abandoned, not awaited, once the timeout fires.
func (s *Searcher) callProvider(ctx context.Context, p Provider, query string, k int) ([]schema.Document, error) {
	if s.config.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ProviderTimeout)
		defer cancel()
	}

	type answer struct {
		docs []schema.Document
		err  error
	}
	done := make(chan answer, 1)
	go func() {
		docs, err := p.SimilaritySearch(ctx, query, k)
		done <- answer{docs: docs, err: err}
	}()

	select {
	case a := <-done:
		return a.docs, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// toRecord maps one provider document into a SearchRecord, resolving a
// missing tag path through the tag resolver.
func (s *Searcher) toRecord(index string, doc schema.Document) datatypes.SearchRecord {
	rec := datatypes.NewSearchRecord(index, doc.PageContent, doc.Metadata, float64(doc.Score))
	if len(rec.TagPath) > 0 || s.tags == nil || rec.Source == datatypes.UnknownSource {
		return rec
	}
	if path := s.tags.Lookup(rec.Source); len(path) > 0 {
		rec = rec.WithTagPath(path)
	}
	return rec
}

func validateQuery(query string, k int) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("%w: query is empty", ErrInvalidQuery)
	}
	if k <= 0 {
		return "", fmt.Errorf("%w: k must be positive, got %d", ErrInvalidQuery, k)
	}
	return query, nil
}
