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
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianSearch/services/search/config"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemoryStore(t *testing.T) *BadgerVectorStore {
	t.Helper()
	store, err := OpenBadgerVectorStore(BadgerStoreConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// =============================================================================
// BadgerVectorStore Tests
// =============================================================================

func TestBadgerVectorStore_PutGet(t *testing.T) {
	store := openMemoryStore(t)

	_, ok := store.Get("missing")
	assert.False(t, ok)

	want := []float32{0.25, -1.5, 3e-7, 0}
	store.Put("k", want)

	got, ok := store.Get("k")
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestBadgerVectorStore_EmptyVector(t *testing.T) {
	store := openMemoryStore(t)

	store.Put("empty", []float32{})
	got, ok := store.Get("empty")
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestBadgerVectorStore_CorruptValueIsMiss(t *testing.T) {
	store := openMemoryStore(t)

	require.NoError(t, store.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(embeddingKeyPrefix+"bad"), []byte{1, 2, 3})
	}))

	_, ok := store.Get("bad")
	assert.False(t, ok)
}

func TestBadgerVectorStore_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "embeddings")

	store, err := OpenBadgerVectorStore(BadgerStoreConfig{Path: dir, TTL: time.Hour, GCInterval: time.Hour})
	require.NoError(t, err)
	store.Put("k", []float32{1, 2})
	require.NoError(t, store.Close())

	store, err = OpenBadgerVectorStore(BadgerStoreConfig{Path: dir})
	require.NoError(t, err)
	defer store.Close()

	got, ok := store.Get("k")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got)
}

func TestOpenBadgerVectorStore_RequiresPath(t *testing.T) {
	_, err := OpenBadgerVectorStore(BadgerStoreConfig{})
	assert.Error(t, err)
}

func TestDecodeVector(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		want    []float32
		wantErr bool
	}{
		{name: "empty", in: []byte{}, want: []float32{}},
		{name: "round trip", in: encodeVector([]float32{1, -2}), want: []float32{1, -2}},
		{name: "truncated", in: []byte{0, 0, 128}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeVector(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// CachedEmbedder with a persistent tier
// =============================================================================

func TestCachedEmbedder_StoreHitSkipsInner(t *testing.T) {
	store := openMemoryStore(t)
	warm := NewCachedEmbedder(&countingEmbedder{}, "m", 10).WithStore(store)
	_, err := warm.EmbedQuery(context.Background(), "opening hours")
	require.NoError(t, err)

	// A fresh in-memory cache, as after a restart.
	inner := &countingEmbedder{}
	cold := NewCachedEmbedder(inner, "m", 10).WithStore(store)

	vec, err := cold.EmbedQuery(context.Background(), "opening hours")
	require.NoError(t, err)
	assert.Equal(t, []float32{13}, vec)
	assert.Equal(t, int32(0), inner.queries.Load())
	assert.Equal(t, 1, cold.Len(), "store hits are promoted to memory")
}

func TestCachedEmbedder_DocumentsPersisted(t *testing.T) {
	store := openMemoryStore(t)
	c := NewCachedEmbedder(&countingEmbedder{}, "m", 10).WithStore(store)

	_, err := c.EmbedDocuments(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)

	got, ok := store.Get(c.cacheKey("bb"))
	require.True(t, ok)
	assert.Equal(t, []float32{2}, got)
}

func TestCachedEmbedder_ModelScopesStore(t *testing.T) {
	store := openMemoryStore(t)
	_, err := NewCachedEmbedder(&countingEmbedder{}, "small", 10).WithStore(store).
		EmbedQuery(context.Background(), "q")
	require.NoError(t, err)

	inner := &countingEmbedder{}
	_, err = NewCachedEmbedder(inner, "large", 10).WithStore(store).
		EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.queries.Load())
}

func TestCachedEmbedder_Close(t *testing.T) {
	var nilEmbedder *CachedEmbedder
	assert.NoError(t, nilEmbedder.Close())

	assert.NoError(t, NewCachedEmbedder(&countingEmbedder{}, "m", 1).Close())

	store, err := OpenBadgerVectorStore(BadgerStoreConfig{InMemory: true})
	require.NoError(t, err)
	c := NewCachedEmbedder(&countingEmbedder{}, "m", 1).WithStore(store)
	assert.NoError(t, c.Close())
}

func TestNewQueryEmbedder_WithCacheDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	cfg := config.ApplyDefaults(config.Config{
		OpenAIAPIKey:      "sk-test",
		EmbeddingCacheDir: dir,
		EmbeddingCacheTTL: time.Hour,
	})

	e, err := NewQueryEmbedder(&cfg)
	require.NoError(t, err)
	require.NotNil(t, e)
	defer e.Close()
	assert.NotNil(t, e.store)
	assert.DirExists(t, dir)
}

func TestNewQueryEmbedder_MissingKey(t *testing.T) {
	cfg := config.ApplyDefaults(config.Config{})
	_, err := NewQueryEmbedder(&cfg)
	assert.Error(t, err)
}
