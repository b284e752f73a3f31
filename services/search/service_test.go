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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianSearch/services/search/auth"
	"github.com/AleutianAI/AleutianSearch/services/search/config"
	"github.com/AleutianAI/AleutianSearch/services/search/datatypes"
	"github.com/AleutianAI/AleutianSearch/services/search/retrieval"
	"github.com/blevesearch/bleve/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "tundra-lichen-42"

// =============================================================================
// Test Helpers
// =============================================================================

func cheapHash(t *testing.T) string {
	t.Helper()
	phc, err := auth.HashPassword(testSecret, auth.Params{
		Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	require.NoError(t, err)
	return phc
}

// writeBleveIndex creates an on-disk keyword index with the given passages.
func writeBleveIndex(t *testing.T, docs map[string]map[string]interface{}) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keywords.bleve")
	idx, err := bleve.New(path, bleve.NewIndexMapping())
	require.NoError(t, err)
	for id, d := range docs {
		require.NoError(t, idx.Index(id, d))
	}
	require.NoError(t, idx.Close())
	return path
}

// writeTagCatalog writes a tag catalog in the scraped corpus format.
func writeTagCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "combined.json")
	body := `[{"page_content":"p","metadata":{"source":"https://gov.example/passport","tags":"Home\tServices\tPassports"}}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func testConfig(t *testing.T, indexes []config.IndexSpec) *config.Config {
	t.Helper()
	cfg := config.ApplyDefaults(config.Config{
		Indexes:        indexes,
		PasswordHash:   cheapHash(t),
		MetricsEnabled: true,
		RateLimit:      0,
		GinMode:        gin.TestMode,
	})
	require.NoError(t, cfg.Validate())
	return &cfg
}

func postSearch(router *gin.Engine, q, password string) *httptest.ResponseRecorder {
	form := url.Values{"q": {q}, "password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Service Tests
// =============================================================================

func TestNew_BleveOnly(t *testing.T) {
	path := writeBleveIndex(t, map[string]map[string]interface{}{
		"1": {"content": "Passport renewal takes two weeks", "source": "https://gov.example/passport", "tags": "Home\tServices\tPassports"},
		"2": {"content": "Driving licence exchange", "source": "https://gov.example/licence"},
	})
	cfg := testConfig(t, []config.IndexSpec{{Name: "keywords", Kind: config.KindBleve, Path: path}})

	svc, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	w := postSearch(svc.Router(), "passport", testSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Passport renewal takes two weeks")
	assert.Contains(t, w.Body.String(), "Home › Services › Passports")
	assert.NotContains(t, w.Body.String(), "Driving licence")

	w = postSearch(svc.Router(), "passport", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var health datatypes.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, []string{"keywords"}, health.Indexes)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `aleutian_search_requests_total{outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), `aleutian_search_auth_rejections_total 1`)
}

func TestNew_InjectedIndexesAndTagCatalog(t *testing.T) {
	cfg := testConfig(t, []config.IndexSpec{{Name: "unused", Kind: config.KindBleve, Path: "/nonexistent"}})
	cfg.TagDataPath = writeTagCatalog(t)

	svc, err := New(cfg, &Options{Pipeline: PipelineOptions{
		Indexes: []retrieval.Index{{
			Name: "semantic",
			Provider: retrieval.ProviderFunc(func(context.Context, string, int) ([]schema.Document, error) {
				return []schema.Document{{
					PageContent: "Renew online",
					Metadata:    map[string]any{datatypes.MetadataSource: "https://gov.example/passport"},
					Score:       0.7,
				}}, nil
			}),
		}},
	}})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	w := postSearch(svc.Router(), "passport", testSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Home › Services › Passports")
}

func TestNew_AllIndexesDown(t *testing.T) {
	cfg := testConfig(t, []config.IndexSpec{{Name: "unused", Kind: config.KindBleve, Path: "/nonexistent"}})

	svc, err := New(cfg, &Options{Pipeline: PipelineOptions{
		Indexes: []retrieval.Index{{
			Name: "semantic",
			Provider: retrieval.ProviderFunc(func(context.Context, string, int) ([]schema.Document, error) {
				return nil, errors.New("connection refused")
			}),
		}},
	}})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	w := postSearch(svc.Router(), "passport", testSecret)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNew_Errors(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := New(nil, nil)
		assert.Error(t, err)
	})

	t.Run("bad password hash", func(t *testing.T) {
		cfg := testConfig(t, []config.IndexSpec{{Name: "kw", Kind: config.KindBleve, Path: "/nonexistent"}})
		cfg.PasswordHash = "plaintext"
		_, err := New(cfg, nil)
		assert.ErrorIs(t, err, auth.ErrInvalidHash)
	})

	t.Run("missing bleve index", func(t *testing.T) {
		cfg := testConfig(t, []config.IndexSpec{{Name: "kw", Kind: config.KindBleve, Path: filepath.Join(t.TempDir(), "missing")}})
		_, err := New(cfg, nil)
		assert.Error(t, err)
	})
}

func TestSearcherConfig(t *testing.T) {
	cfg := &config.Config{
		ProviderTimeout: 750 * time.Millisecond,
		FailurePolicy:   config.PolicyFail,
		RetryAttempts:   2,
	}
	rc := searcherConfig(cfg)
	assert.Equal(t, 750*time.Millisecond, rc.ProviderTimeout)
	assert.Equal(t, retrieval.FailurePolicyFail, rc.FailurePolicy)
	assert.Equal(t, 2, rc.RetryAttempts)
	assert.Equal(t, retrieval.DefaultConfig().RetryInitialInterval, rc.RetryInitialInterval)
}

func TestNew_StdoutTracing(t *testing.T) {
	path := writeBleveIndex(t, map[string]map[string]interface{}{
		"1": {"content": "Passport renewal takes two weeks", "source": "https://gov.example/passport"},
	})
	cfg := testConfig(t, []config.IndexSpec{{Name: "keywords", Kind: config.KindBleve, Path: path}})
	cfg.OTelEndpoint = stdoutTraceEndpoint

	svc, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	s, ok := svc.(*service)
	require.True(t, ok)
	assert.NotNil(t, s.tracerCleanup)

	w := postSearch(svc.Router(), "passport", testSecret)
	assert.Equal(t, http.StatusOK, w.Code)
}
