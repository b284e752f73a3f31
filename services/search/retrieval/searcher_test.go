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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"
)

// =============================================================================
// Test Helpers
// =============================================================================

func doc(source string, score float32) schema.Document {
	return schema.Document{
		PageContent: "passage from " + source,
		Metadata:    map[string]any{"source": source, "tags": "Home\t" + source},
		Score:       score,
	}
}

// fakeProvider returns fixed documents and counts its calls.
type fakeProvider struct {
	docs  []schema.Document
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeProvider) SimilaritySearch(ctx context.Context, _ string, _ int) ([]schema.Document, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

type staticTags map[string][]string

func (s staticTags) Lookup(source string) []string { return s[source] }

type recordingRecorder struct {
	mu       sync.Mutex
	observed map[string]int
	failed   map[string]int
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{observed: map[string]int{}, failed: map[string]int{}}
}

func (r *recordingRecorder) ObserveIndexSearch(index string, _ float64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed[index]++
	if err != nil {
		r.failed[index]++
	}
}

func newTestSearcher(t *testing.T, cfg Config, providers map[string]Provider, opts ...Option) *Searcher {
	t.Helper()
	indexes := make([]Index, 0, len(providers))
	for name, p := range providers {
		indexes = append(indexes, Index{Name: name, Provider: p})
	}
	s, err := NewSearcher(indexes, cfg, opts...)
	require.NoError(t, err)
	return s
}

// =============================================================================
// NewSearcher Tests
// =============================================================================

func TestNewSearcher_Validation(t *testing.T) {
	ok := &fakeProvider{}
	tests := []struct {
		name    string
		indexes []Index
		cfg     Config
	}{
		{name: "no indexes", indexes: nil, cfg: DefaultConfig()},
		{name: "empty name", indexes: []Index{{Name: "", Provider: ok}}, cfg: DefaultConfig()},
		{name: "nil provider", indexes: []Index{{Name: "a"}}, cfg: DefaultConfig()},
		{name: "duplicate name", indexes: []Index{{Name: "a", Provider: ok}, {Name: "a", Provider: ok}}, cfg: DefaultConfig()},
		{name: "unknown policy", indexes: []Index{{Name: "a", Provider: ok}}, cfg: Config{FailurePolicy: "panic"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSearcher(tt.indexes, tt.cfg)
			assert.Error(t, err)
			assert.Nil(t, s)
		})
	}
}

func TestSearcher_NamesSorted(t *testing.T) {
	s := newTestSearcher(t, DefaultConfig(), map[string]Provider{
		"znaki-150": &fakeProvider{},
		"html":      &fakeProvider{},
		"paths":     &fakeProvider{},
	})
	assert.Equal(t, []string{"html", "paths", "znaki-150"}, s.Names())
}

// =============================================================================
// SearchIndex Tests
// =============================================================================

func TestSearchIndex_DedupsAndSorts(t *testing.T) {
	p := &fakeProvider{docs: []schema.Document{
		doc("a.html", 0.7),
		doc("b.html", 0.95),
		doc("a.html", 0.9),
		doc("c.html", 0.1),
	}}
	s := newTestSearcher(t, DefaultConfig(), map[string]Provider{"semantic": p})

	got, err := s.SearchIndex(context.Background(), "semantic", "opening hours", 5)
	require.NoError(t, err)

	assert.Equal(t, []string{"b.html", "a.html", "c.html"}, sources(got))
	assert.InDelta(t, 0.9, got[1].Score, 1e-6)
	assert.Equal(t, "semantic", got[0].Index)
	assert.Equal(t, []string{"Home", "b.html"}, got[0].TagPath)
	assert.Equal(t, "b.html", got[0].Title)
}

func TestSearchIndex_CapsProviderOutputAtK(t *testing.T) {
	p := &fakeProvider{docs: []schema.Document{
		doc("a", 0.9), doc("b", 0.8), doc("c", 0.7), doc("d", 0.6),
	}}
	s := newTestSearcher(t, DefaultConfig(), map[string]Provider{"idx": p})

	got, err := s.SearchIndex(context.Background(), "idx", "q", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, sources(got))
}

func TestSearchIndex_MissingMetadata(t *testing.T) {
	p := &fakeProvider{docs: []schema.Document{
		{PageContent: "no metadata", Score: 0.4},
		{PageContent: "wrong type", Metadata: map[string]any{"source": 42, "tags": ""}, Score: 0.3},
	}}
	s := newTestSearcher(t, DefaultConfig(), map[string]Provider{"idx": p})

	got, err := s.SearchIndex(context.Background(), "idx", "q", 5)
	require.NoError(t, err)

	// Both fall back to the unknown source and collapse into one record.
	require.Len(t, got, 1)
	assert.Equal(t, "unknown", got[0].Source)
	assert.Equal(t, "no metadata", got[0].Content)
	assert.NotNil(t, got[0].TagPath)
	assert.Empty(t, got[0].TagPath)
	assert.Equal(t, "", got[0].Title)
}

func TestSearchIndex_ResolvesTagsFromCatalog(t *testing.T) {
	p := &fakeProvider{docs: []schema.Document{
		{PageContent: "x", Metadata: map[string]any{"source": "https://x.org/a"}, Score: 0.5},
		{PageContent: "y", Metadata: map[string]any{"source": "https://x.org/b", "tags": "Own\tPath"}, Score: 0.4},
	}}
	tags := staticTags{
		"https://x.org/a": {"Home", "Services", "Passports"},
		"https://x.org/b": {"Catalog", "Path"},
	}
	s := newTestSearcher(t, DefaultConfig(), map[string]Provider{"idx": p}, WithTagResolver(tags))

	got, err := s.SearchIndex(context.Background(), "idx", "q", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, []string{"Home", "Services", "Passports"}, got[0].TagPath)
	assert.Equal(t, "Passports", got[0].Title)
	// Provider tags take precedence over the catalog.
	assert.Equal(t, []string{"Own", "Path"}, got[1].TagPath)
}

func TestSearchIndex_InvalidQuery(t *testing.T) {
	p := &fakeProvider{}
	s := newTestSearcher(t, DefaultConfig(), map[string]Provider{"idx": p})

	tests := []struct {
		name  string
		query string
		k     int
	}{
		{name: "empty query", query: "", k: 5},
		{name: "whitespace query", query: "  \t\n", k: 5},
		{name: "zero k", query: "q", k: 0},
		{name: "negative k", query: "q", k: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SearchIndex(context.Background(), "idx", tt.query, tt.k)
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestSearchIndex_UnknownIndex(t *testing.T) {
	s := newTestSearcher(t, DefaultConfig(), map[string]Provider{"idx": &fakeProvider{}})

	_, err := s.SearchIndex(context.Background(), "missing", "q", 5)
	assert.ErrorIs(t, err, ErrUnknownIndex)
}

func TestSearchIndex_ProviderError(t *testing.T) {
	cause := errors.New("connection refused")
	s := newTestSearcher(t, DefaultConfig(), map[string]Provider{"idx": &fakeProvider{err: cause}})

	_, err := s.SearchIndex(context.Background(), "idx", "q", 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.ErrorIs(t, err, cause)

	var indexErr *IndexError
	require.ErrorAs(t, err, &indexErr)
	assert.Equal(t, "idx", indexErr.Index)
}

func TestSearchIndex_Timeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProviderTimeout = 20 * time.Millisecond
	s := newTestSearcher(t, cfg, map[string]Provider{"slow": &fakeProvider{delay: time.Second}})

	start := time.Now()
	_, err := s.SearchIndex(context.Background(), "slow", "q", 5)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSearchIndex_TimeoutIgnoringProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProviderTimeout = 20 * time.Millisecond
	release := make(chan struct{})
	defer close(release)

	stubborn := ProviderFunc(func(context.Context, string, int) ([]schema.Document, error) {
		<-release
		return nil, nil
	})
	s := newTestSearcher(t, cfg, map[string]Provider{"stubborn": stubborn})

	start := time.Now()
	_, err := s.SearchIndex(context.Background(), "stubborn", "q", 5)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

// =============================================================================
// SearchAll Tests
// =============================================================================

func TestSearchAll_EveryIndexPresent(t *testing.T) {
	s := newTestSearcher(t, DefaultConfig(), map[string]Provider{
		"A": &fakeProvider{docs: []schema.Document{doc("x", 0.5)}},
		"B": &fakeProvider{docs: nil},
		"C": &fakeProvider{err: errors.New("down")},
	})

	result, err := s.SearchAll(context.Background(), "q", 5)
	require.NoError(t, err)

	require.Len(t, result.Results, 3)
	assert.Len(t, result.Results["A"], 1)
	assert.NotNil(t, result.Results["B"])
	assert.NotNil(t, result.Results["C"])
	assert.Empty(t, result.Results["C"])
	assert.Equal(t, []string{"C"}, result.Failed())
	assert.False(t, result.AllFailed())
}

func TestSearchAll_DegradesOnTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProviderTimeout = 30 * time.Millisecond
	s := newTestSearcher(t, cfg, map[string]Provider{
		"fast-1": &fakeProvider{docs: []schema.Document{doc("one", 0.6)}},
		"fast-2": &fakeProvider{docs: []schema.Document{doc("two", 0.7)}},
		"slow":   &fakeProvider{delay: time.Second, docs: []schema.Document{doc("three", 0.99)}},
	})

	result, err := s.SearchAll(context.Background(), "q", 5)
	require.NoError(t, err)

	assert.Equal(t, []string{"slow"}, result.Failed())
	assert.ErrorIs(t, result.Errors["slow"], ErrProviderUnavailable)
	assert.Empty(t, result.Results["slow"])
	assert.Equal(t, []string{"one"}, sources(result.Results["fast-1"]))
	assert.Equal(t, []string{"two"}, sources(result.Results["fast-2"]))
}

func TestSearchAll_DegradeDoesNotCancelSiblings(t *testing.T) {
	slowOK := &fakeProvider{delay: 50 * time.Millisecond, docs: []schema.Document{doc("ok", 0.5)}}
	s := newTestSearcher(t, DefaultConfig(), map[string]Provider{
		"broken": &fakeProvider{err: errors.New("boom")},
		"slow":   slowOK,
	})

	result, err := s.SearchAll(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, sources(result.Results["slow"]))
}

func TestSearchAll_FailPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailurePolicy = FailurePolicyFail
	cause := errors.New("boom")
	s := newTestSearcher(t, cfg, map[string]Provider{
		"broken": &fakeProvider{err: cause},
		"slow":   &fakeProvider{delay: time.Second, docs: []schema.Document{doc("ok", 0.5)}},
	})

	start := time.Now()
	result, err := s.SearchAll(context.Background(), "q", 5)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSearchAll_RunsConcurrently(t *testing.T) {
	const n = 4
	var started sync.WaitGroup
	started.Add(n)
	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()

	providers := make(map[string]Provider, n)
	for _, name := range []string{"a", "b", "c", "d"} {
		providers[name] = ProviderFunc(func(ctx context.Context, _ string, _ int) ([]schema.Document, error) {
			started.Done()
			// Only returns once every provider has been entered.
			select {
			case <-allStarted:
				return []schema.Document{doc(name, 0.5)}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
	}

	cfg := DefaultConfig()
	cfg.ProviderTimeout = 2 * time.Second
	s := newTestSearcher(t, cfg, providers)

	result, err := s.SearchAll(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Len(t, result.Results, n)
}

func TestSearchAll_InvalidQuerySkipsProviders(t *testing.T) {
	p := &fakeProvider{docs: []schema.Document{doc("x", 0.5)}}
	s := newTestSearcher(t, DefaultConfig(), map[string]Provider{"a": p, "b": p})

	_, err := s.SearchAll(context.Background(), "   ", 5)
	assert.ErrorIs(t, err, ErrInvalidQuery)
	assert.Equal(t, int32(0), p.calls.Load())
}

func TestSearchAll_Retry(t *testing.T) {
	var attempts atomic.Int32
	flaky := ProviderFunc(func(context.Context, string, int) ([]schema.Document, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return []schema.Document{doc("x", 0.5)}, nil
	})

	cfg := DefaultConfig()
	cfg.RetryAttempts = 2
	cfg.RetryInitialInterval = time.Millisecond
	s := newTestSearcher(t, cfg, map[string]Provider{"flaky": flaky})

	result, err := s.SearchAll(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []string{"x"}, sources(result.Results["flaky"]))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestSearchAll_RetryExhausted(t *testing.T) {
	p := &fakeProvider{err: errors.New("down")}
	cfg := DefaultConfig()
	cfg.RetryAttempts = 1
	cfg.RetryInitialInterval = time.Millisecond
	s := newTestSearcher(t, cfg, map[string]Provider{"down": p})

	result, err := s.SearchAll(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
	assert.ErrorIs(t, result.Errors["down"], ErrProviderUnavailable)
}

func TestSearchAll_RecordsMetrics(t *testing.T) {
	rec := newRecordingRecorder()
	s := newTestSearcher(t, DefaultConfig(), map[string]Provider{
		"ok":   &fakeProvider{docs: []schema.Document{doc("x", 0.5)}},
		"down": &fakeProvider{err: errors.New("down")},
	}, WithRecorder(rec))

	_, err := s.SearchAll(context.Background(), "q", 5)
	require.NoError(t, err)

	assert.Equal(t, 1, rec.observed["ok"])
	assert.Equal(t, 0, rec.failed["ok"])
	assert.Equal(t, 1, rec.observed["down"])
	assert.Equal(t, 1, rec.failed["down"])
}

// =============================================================================
// Search Tests
// =============================================================================

func TestSearch_Scenario(t *testing.T) {
	s := newTestSearcher(t, DefaultConfig(), map[string]Provider{
		"A": &fakeProvider{docs: []schema.Document{doc("X", 0.5), doc("Y", 0.9)}},
		"B": &fakeProvider{docs: []schema.Document{doc("X", 0.8)}},
	})

	outcome, err := s.Search(context.Background(), "q", 5, 2)
	require.NoError(t, err)

	require.Len(t, outcome.Records, 2)
	assert.Equal(t, "Y", outcome.Records[0].Source)
	assert.InDelta(t, 0.9, outcome.Records[0].Score, 1e-6)
	assert.Equal(t, "X", outcome.Records[1].Source)
	assert.InDelta(t, 0.8, outcome.Records[1].Score, 1e-6)
	assert.Equal(t, "B", outcome.Records[1].Index)
}

func TestSearch_OneDownTwoUp(t *testing.T) {
	s := newTestSearcher(t, DefaultConfig(), map[string]Provider{
		"up-1": &fakeProvider{docs: []schema.Document{doc("a", 0.4)}},
		"up-2": &fakeProvider{docs: []schema.Document{doc("b", 0.6)}},
		"down": &fakeProvider{err: errors.New("refused")},
	})

	outcome, err := s.Search(context.Background(), "q", 5, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, sources(outcome.Records))
	assert.Equal(t, []string{"down"}, outcome.FanOut.Failed())
}

func TestSearch_AllFailed(t *testing.T) {
	s := newTestSearcher(t, DefaultConfig(), map[string]Provider{
		"a": &fakeProvider{err: errors.New("a down")},
		"b": &fakeProvider{err: errors.New("b down")},
	})

	outcome, err := s.Search(context.Background(), "q", 5, 5)
	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestSearch_NoResultsIsNotFailure(t *testing.T) {
	s := newTestSearcher(t, DefaultConfig(), map[string]Provider{
		"a": &fakeProvider{},
		"b": &fakeProvider{},
	})

	outcome, err := s.Search(context.Background(), "q", 5, 5)
	require.NoError(t, err)
	assert.NotNil(t, outcome.Records)
	assert.Empty(t, outcome.Records)
}
