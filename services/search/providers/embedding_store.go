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
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	// embeddingKeyPrefix namespaces embedding entries in the store.
	embeddingKeyPrefix = "emb:"

	embeddingStoreGCInterval = 5 * time.Minute
)

// VectorStore is a persistent second tier behind the in-memory embedding
// cache. Implementations must be safe for concurrent use.
type VectorStore interface {
	Get(key string) ([]float32, bool)
	Put(key string, vec []float32)
}

// BadgerStoreConfig configures BadgerVectorStore.
//
// # Fields
//
//   - Path: Database directory. Required unless InMemory.
//   - InMemory: No persistence, for tests.
//   - TTL: Entry lifetime. Zero keeps entries forever.
//   - GCInterval: Value log GC period. Zero disables GC.
type BadgerStoreConfig struct {
	Path       string
	InMemory   bool
	TTL        time.Duration
	GCInterval time.Duration
}

// BadgerVectorStore persists query embeddings in BadgerDB so repeated
// queries survive restarts without new embedding API calls.
//
// # Description
//
// Vectors are stored as little-endian float32 arrays. Read and write
// failures are logged and treated as misses: the store only ever saves
// work and never fails a search.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerVectorStore struct {
	db     *badger.DB
	ttl    time.Duration
	stopCh chan struct{}
	doneCh chan struct{}
}

// badgerLogger routes badger's internal logging to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(string, ...interface{}) {}

func (l *badgerLogger) Debugf(string, ...interface{}) {}

// OpenBadgerVectorStore opens or creates the store.
//
// # Outputs
//
//   - *BadgerVectorStore: Must be closed.
//   - error: Non-nil when the directory cannot be created or the database
//     cannot be opened, for example because another process holds it.
func OpenBadgerVectorStore(cfg BadgerStoreConfig) (*BadgerVectorStore, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, errors.New("path is required for a persistent embedding store")
	default:
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create embedding store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: slog.Default().With("component", "embedding_store")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding store: %w", err)
	}

	s := &BadgerVectorStore{db: db, ttl: cfg.TTL}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopCh = make(chan struct{})
		s.doneCh = make(chan struct{})
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

// Get returns the stored vector for key.
func (s *BadgerVectorStore) Get(key string) ([]float32, bool) {
	var vec []float32
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(embeddingKeyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			vec, err = decodeVector(val)
			return err
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			slog.Warn("Embedding store read failed", "error", err)
		}
		return nil, false
	}
	return vec, true
}

// Put stores vec under key.
func (s *BadgerVectorStore) Put(key string, vec []float32) {
	err := s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(embeddingKeyPrefix+key), encodeVector(vec))
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		slog.Warn("Embedding store write failed", "error", err)
	}
}

// Close stops GC and closes the database.
func (s *BadgerVectorStore) Close() error {
	if s.stopCh != nil {
		close(s.stopCh)
		<-s.doneCh
		s.stopCh = nil
	}
	return s.db.Close()
}

func (s *BadgerVectorStore) runGC(interval time.Duration) {
	defer close(s.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing was worth collecting.
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("Embedding store GC error", "error", err)
			}
		}
	}
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector of %d bytes", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}

var _ VectorStore = (*BadgerVectorStore)(nil)
