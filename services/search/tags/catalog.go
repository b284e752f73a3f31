// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tags resolves the breadcrumb path of a source document from the
// ingestion catalog.
package tags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianSearch/services/search/datatypes"
	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events an editor or copy produces
// for one logical change.
const reloadDebounce = 250 * time.Millisecond

// entry is one element of the ingestion catalog:
//
//	{"page_content": "...", "metadata": {"source": "https://...", "tags": "Home\tContact"}}
type entry struct {
	PageContent string `json:"page_content"`
	Metadata    struct {
		Source string `json:"source"`
		Tags   string `json:"tags"`
	} `json:"metadata"`
}

// Catalog maps source identifiers to tag paths.
//
// # Description
//
// The catalog file is read on the first Lookup or an explicit Load. It is
// re-read only by Reload, which Watch triggers when the file changes on
// disk. When a source appears more than once, the first entry with a
// non-empty tag string wins.
//
// # Limitations
//
//   - A catalog that fails its first load stays empty until a successful
//     Reload. The failure is logged once and returned by Load.
//   - A failed Reload keeps the previous mapping.
//
// # Thread Safety
//
// Safe for concurrent use. The map is replaced, never mutated, so readers
// holding an old path slice are unaffected by a reload.
type Catalog struct {
	path string

	mu        sync.Mutex
	loaded    bool
	loadErr   error
	paths     map[string][]string
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewCatalog creates a catalog backed by the JSON file at path. Nothing is
// read until first use.
func NewCatalog(path string) *Catalog {
	return &Catalog{path: path}
}

// Load reads the catalog file if it has not been read yet and returns the
// outcome of that single read.
func (c *Catalog) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked()
	return c.loadErr
}

// Lookup returns the tag path of source, or nil when unknown.
func (c *Catalog) Lookup(source string) []string {
	c.mu.Lock()
	c.loadLocked()
	path := c.paths[source]
	c.mu.Unlock()

	if len(path) == 0 {
		return nil
	}
	out := make([]string, len(path))
	copy(out, path)
	return out
}

// Len returns the number of sources with a known tag path.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked()
	return len(c.paths)
}

// Reload re-reads the catalog file and replaces the mapping.
//
// # Outputs
//
//   - error: Non-nil when the file cannot be read or parsed. The previous
//     mapping, if any, stays in place.
func (c *Catalog) Reload() error {
	paths, err := readCatalog(c.path)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if !c.loaded {
			c.loaded = true
			c.loadErr = err
			c.paths = map[string][]string{}
		}
		return err
	}
	c.loaded = true
	c.loadErr = nil
	c.paths = paths
	return nil
}

// Watch reloads the catalog whenever its file is written, created or
// replaced, until ctx is done or StopWatching is called.
//
// # Description
//
// The parent directory is watched rather than the file itself, so a
// catalog replaced by rename (as most deploy tools and editors do) keeps
// being tracked. Events are debounced by reloadDebounce.
//
// # Outputs
//
//   - error: Non-nil when the watcher cannot be created, the directory
//     cannot be watched, or the catalog is already being watched.
func (c *Catalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create tag catalog watcher: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	c.mu.Lock()
	if c.watcher != nil {
		c.mu.Unlock()
		_ = watcher.Close()
		return errors.New("tag catalog is already being watched")
	}
	done := make(chan struct{})
	c.watcher = watcher
	c.watchDone = done
	c.mu.Unlock()

	go c.watchLoop(ctx, watcher, done)
	slog.Info("Watching tag catalog", "path", c.path)
	return nil
}

// StopWatching stops a running Watch and waits for it to exit. It is a
// no-op when the catalog is not being watched.
func (c *Catalog) StopWatching() {
	c.mu.Lock()
	watcher, done := c.watcher, c.watchDone
	c.watcher, c.watchDone = nil, nil
	c.mu.Unlock()

	if watcher == nil {
		return
	}
	_ = watcher.Close()
	<-done
}

func (c *Catalog) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	name := filepath.Clean(c.path)
	var debounce <-chan time.Time

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			debounce = time.After(reloadDebounce)

		case <-debounce:
			debounce = nil
			if err := c.Reload(); err != nil {
				slog.Warn("Tag catalog reload failed, keeping previous mapping",
					"path", c.path, "error", err)
				continue
			}
			slog.Info("Reloaded tag catalog", "path", c.path, "sources", c.Len())

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Tag catalog watcher error", "error", err)

		case <-ctx.Done():
			c.mu.Lock()
			if c.watcher == watcher {
				c.watcher, c.watchDone = nil, nil
			}
			c.mu.Unlock()
			_ = watcher.Close()
			return
		}
	}
}

func (c *Catalog) loadLocked() {
	if c.loaded {
		return
	}
	c.loaded = true
	c.paths = map[string][]string{}

	paths, err := readCatalog(c.path)
	if err != nil {
		c.loadErr = err
		slog.Warn("Tag catalog unavailable, tag paths fall back to provider metadata",
			"path", c.path, "error", err)
		return
	}
	c.paths = paths
	slog.Info("Loaded tag catalog", "path", c.path, "sources", len(paths))
}

func readCatalog(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tag catalog: %w", err)
	}

	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse tag catalog: %w", err)
	}

	paths := make(map[string][]string, len(entries))
	for _, e := range entries {
		if e.Metadata.Source == "" {
			continue
		}
		if _, seen := paths[e.Metadata.Source]; seen {
			continue
		}
		if p := datatypes.SplitTagPath(e.Metadata.Tags); len(p) > 0 {
			paths[e.Metadata.Source] = p
		}
	}
	return paths, nil
}
