// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the search service configuration.
//
// # Description
//
// Configuration comes from environment variables, with the index map
// optionally read from a YAML file. Zero values are filled by
// ApplyDefaults and the result is checked by Validate.
//
// # Environment Variables
//
//   - SEARCH_PORT: HTTP port (default: 8000)
//   - CHROMA_DB_HOST / CHROMA_DB_PORT: Shared chroma server (default: chromadb:8080)
//   - WEAVIATE_SERVICE_URL: Weaviate URL, required by weaviate indexes
//   - OPENAI_API_KEY: Embedding key, falls back to /run/secrets/openai_api_key
//   - EMBEDDING_MODEL_NAME: Embedding model (default: text-embedding-3-small)
//   - SEARCH_EMBEDDING_CACHE_SIZE: In-memory query embeddings (default: 1000)
//   - SEARCH_EMBEDDING_CACHE_DIR: Persist query embeddings in this directory
//   - SEARCH_EMBEDDING_CACHE_TTL: Lifetime of persisted embeddings (default: 720h)
//   - SEARCH_INDEX_CONFIG: YAML index map (default: built-in six chroma indexes)
//   - SEARCH_K / SEARCH_N: Per-index and merged result counts (default: 5 / 5)
//   - SEARCH_PROVIDER_TIMEOUT: Per-provider call timeout (default: 10s)
//   - SEARCH_FAILURE_POLICY: degrade or fail (default: degrade)
//   - SEARCH_RETRY_ATTEMPTS: Extra attempts per failing index (default: 0)
//   - SEARCH_PASSWORD_HASH: argon2id PHC hash of the access secret
//   - SEARCH_TAG_DATA: Tag catalog JSON (default: ./data/combined.json)
//   - SEARCH_TAG_WATCH: Reload the tag catalog when the file changes (default: true)
//   - SEARCH_RATE_LIMIT / SEARCH_RATE_BURST: POST /search limiter (default: 5 / 10)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP gRPC collector, or "stdout" to print
//     spans; tracing is off when empty
//   - SEARCH_METRICS: Expose /metrics (default: true)
//   - GIN_MODE: Gin mode (default: release)
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Index kinds.
const (
	KindChroma   = "chroma"
	KindWeaviate = "weaviate"
	KindBleve    = "bleve"
)

// Failure policies, mirrored from the retrieval package.
const (
	PolicyDegrade = "degrade"
	PolicyFail    = "fail"
)

// DefaultPasswordHash is the argon2id hash of the deployment's shared secret.
const DefaultPasswordHash = "$argon2id$v=19$m=65536,t=3,p=4$qWViqDQScp/R+8yBI4X8qg$rMYA0GaZOGpdLo7v/L+Lt5fIWjmwBX/W8ebak69kX+k"

// openAISecretPath is where container runtimes mount the OpenAI key secret.
const openAISecretPath = "/run/secrets/openai_api_key"

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// =============================================================================
// Types
// =============================================================================

// IndexSpec describes one searchable index.
//
// # Fields
//
//   - Name: Unique index name, used in logs, metrics and result records.
//   - Kind: chroma, weaviate or bleve.
//   - Collection: Chroma collection name. Required for chroma.
//   - URL: Chroma server URL. Defaults to the shared CHROMA_DB_HOST/PORT.
//   - Class: Weaviate class name. Required for weaviate.
//   - Path: On-disk bleve index directory. Required for bleve.
type IndexSpec struct {
	Name       string `yaml:"name" validate:"required"`
	Kind       string `yaml:"kind" validate:"required,oneof=chroma weaviate bleve"`
	Collection string `yaml:"collection,omitempty" validate:"required_if=Kind chroma"`
	URL        string `yaml:"url,omitempty" validate:"omitempty,url"`
	Class      string `yaml:"class,omitempty" validate:"required_if=Kind weaviate"`
	Path       string `yaml:"path,omitempty" validate:"required_if=Kind bleve"`
}

// Config holds the search service configuration.
//
// # Examples
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatalf("invalid configuration: %v", err)
//	}
type Config struct {
	Port int `validate:"min=1,max=65535"`

	ChromaHost  string
	ChromaPort  int `validate:"min=1,max=65535"`
	WeaviateURL string

	OpenAIAPIKey       string
	EmbeddingModel     string `validate:"required"`
	EmbeddingCacheSize int    `validate:"min=0"`

	// EmbeddingCacheDir enables the persistent embedding cache. Empty
	// keeps embeddings in memory only.
	EmbeddingCacheDir string
	// EmbeddingCacheTTL bounds the age of persisted embeddings. Zero keeps
	// them forever.
	EmbeddingCacheTTL time.Duration

	IndexConfigPath string
	Indexes         []IndexSpec `validate:"required,min=1,dive"`

	K             int    `validate:"min=1"`
	N             int    `validate:"min=1"`
	FailurePolicy string `validate:"oneof=degrade fail"`
	RetryAttempts int    `validate:"min=0,max=10"`

	// ProviderTimeout bounds each provider call. Zero disables the bound.
	ProviderTimeout time.Duration

	PasswordHash string `validate:"required"`
	TagDataPath  string
	TagWatch     bool

	RateLimit float64 `validate:"min=0"`
	RateBurst int     `validate:"min=0"`

	OTelEndpoint   string
	MetricsEnabled bool
	GinMode        string `validate:"omitempty,oneof=debug release test"`
}

// =============================================================================
// Loading
// =============================================================================

// Load builds a Config from the environment and the optional index file.
//
// # Outputs
//
//   - *Config: Defaults applied and validated.
//   - error: Non-nil when the index file cannot be read or the result does
//     not validate.
func Load() (*Config, error) {
	cfg := Config{
		Port:               getEnvInt("SEARCH_PORT", 8000),
		ChromaHost:         getEnvString("CHROMA_DB_HOST", "chromadb"),
		ChromaPort:         getEnvInt("CHROMA_DB_PORT", 8080),
		WeaviateURL:        strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' "),
		OpenAIAPIKey:       resolveOpenAIKey(),
		EmbeddingModel:     getEnvString("EMBEDDING_MODEL_NAME", "text-embedding-3-small"),
		EmbeddingCacheSize: getEnvInt("SEARCH_EMBEDDING_CACHE_SIZE", 0),
		EmbeddingCacheDir:  os.Getenv("SEARCH_EMBEDDING_CACHE_DIR"),
		EmbeddingCacheTTL:  getEnvDuration("SEARCH_EMBEDDING_CACHE_TTL", 30*24*time.Hour),
		IndexConfigPath:    os.Getenv("SEARCH_INDEX_CONFIG"),
		K:                  getEnvInt("SEARCH_K", 5),
		N:                  getEnvInt("SEARCH_N", 5),
		ProviderTimeout:    getEnvDuration("SEARCH_PROVIDER_TIMEOUT", 10*time.Second),
		FailurePolicy:      getEnvString("SEARCH_FAILURE_POLICY", PolicyDegrade),
		RetryAttempts:      getEnvInt("SEARCH_RETRY_ATTEMPTS", 0),
		PasswordHash:       getEnvString("SEARCH_PASSWORD_HASH", DefaultPasswordHash),
		TagDataPath:        getEnvString("SEARCH_TAG_DATA", "./data/combined.json"),
		TagWatch:           getEnvBool("SEARCH_TAG_WATCH", true),
		RateLimit:          getEnvFloat("SEARCH_RATE_LIMIT", 5),
		RateBurst:          getEnvInt("SEARCH_RATE_BURST", 10),
		OTelEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		MetricsEnabled:     getEnvBool("SEARCH_METRICS", true),
		GinMode:            getEnvString("GIN_MODE", "release"),
	}

	if cfg.IndexConfigPath != "" {
		indexes, err := LoadIndexFile(cfg.IndexConfigPath)
		if err != nil {
			return nil, err
		}
		cfg.Indexes = indexes
	}

	cfg = ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields.
//
// # Description
//
// Booleans and fields where zero is meaningful (ProviderTimeout,
// RetryAttempts, RateLimit, OTelEndpoint) are left untouched.
func ApplyDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ChromaHost == "" {
		cfg.ChromaHost = "chromadb"
	}
	if cfg.ChromaPort == 0 {
		cfg.ChromaPort = 8080
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.K == 0 {
		cfg.K = 5
	}
	if cfg.N == 0 {
		cfg.N = 5
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = PolicyDegrade
	}
	if cfg.PasswordHash == "" {
		cfg.PasswordHash = DefaultPasswordHash
	}
	if len(cfg.Indexes) == 0 {
		cfg.Indexes = DefaultIndexes()
	}
	return cfg
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]bool, len(c.Indexes))
	for _, idx := range c.Indexes {
		if seen[idx.Name] {
			return fmt.Errorf("invalid configuration: duplicate index name %q", idx.Name)
		}
		seen[idx.Name] = true

		if idx.Kind == KindWeaviate && c.WeaviateURL == "" {
			return fmt.Errorf("invalid configuration: index %q needs WEAVIATE_SERVICE_URL", idx.Name)
		}
	}
	if c.NeedsEmbedder() && c.OpenAIAPIKey == "" {
		return errors.New("invalid configuration: OPENAI_API_KEY is required for vector indexes")
	}
	return nil
}

// NeedsEmbedder reports whether any index vectorizes queries.
func (c *Config) NeedsEmbedder() bool {
	for _, idx := range c.Indexes {
		if idx.Kind == KindChroma || idx.Kind == KindWeaviate {
			return true
		}
	}
	return false
}

// ChromaURL returns the chroma server URL of spec, falling back to the
// shared host and port.
func (c *Config) ChromaURL(spec IndexSpec) string {
	if spec.URL != "" {
		return spec.URL
	}
	return fmt.Sprintf("http://%s:%d", c.ChromaHost, c.ChromaPort)
}

// IndexNames returns the configured index names in configuration order.
func (c *Config) IndexNames() []string {
	names := make([]string, len(c.Indexes))
	for i, idx := range c.Indexes {
		names[i] = idx.Name
	}
	return names
}

// DefaultIndexes returns the built-in index map: six chroma collections on
// the shared chroma server.
func DefaultIndexes() []IndexSpec {
	return []IndexSpec{
		{Name: "html-headers", Kind: KindChroma, Collection: "chroma_db_html"},
		{Name: "paths", Kind: KindChroma, Collection: "chroma_db_paths"},
		{Name: "znaki-1000", Kind: KindChroma, Collection: "chroma_db_znaki_1000"},
		{Name: "znaki-150", Kind: KindChroma, Collection: "chroma_db_znaki_150"},
		{Name: "znaki-400", Kind: KindChroma, Collection: "chroma_db_znaki_400"},
		{Name: "semantic", Kind: KindChroma, Collection: "chroma_db_semantic"},
	}
}

// =============================================================================
// Environment Helpers
// =============================================================================

// resolveOpenAIKey reads OPENAI_API_KEY, then the mounted secret file.
func resolveOpenAIKey() string {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return key
	}
	data, err := os.ReadFile(openAISecretPath)
	if err != nil {
		return ""
	}
	slog.Info("Read the OpenAI API key from the secrets mount")
	return strings.TrimSpace(string(data))
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		slog.Warn("Ignoring non-integer environment value", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		slog.Warn("Ignoring non-numeric environment value", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		slog.Warn("Ignoring non-boolean environment value", "key", key, "value", value)
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("750ms", "10s") and bare seconds ("10").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	slog.Warn("Ignoring invalid duration environment value", "key", key, "value", value)
	return defaultValue
}
