// Package config provides YAML-based configuration for raina.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. RAINA_CONFIG environment variable
//  3. ~/.raina/config.yaml
//  4. ./raina.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the chat model used for extraction, query rewriting
	// and answer generation.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Elastic configures the Elasticsearch lexical store.
	Elastic ElasticConfig `yaml:"elastic"`

	// Paths configures the dataset and corpus file locations.
	Paths PathsConfig `yaml:"paths"`

	// Retrieval configures retrieval and context budget knobs.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// History configures conversation history persistence.
	History HistoryConfig `yaml:"history"`

	// Metrics configures the optional Prometheus listener.
	Metrics MetricsConfig `yaml:"metrics"`
}

// ModelConfig holds chat model settings for an OpenAI-compatible API.
type ModelConfig struct {
	// Name is the chat model name.
	Name string `yaml:"name"`
	// BaseURL is the API base URL. Empty selects api.openai.com, or
	// OpenRouter when only OPENROUTER_API_KEY is set.
	BaseURL string `yaml:"base_url"`
	// APIKey is the API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// MaxRetries bounds retries of transient API failures.
	MaxRetries int `yaml:"max_retries"`
	// RequestsPerSecond paces outbound calls. Zero disables pacing.
	RequestsPerSecond float32 `yaml:"requests_per_second"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// OllamaHost is the Ollama API endpoint for the ollama provider.
	OllamaHost string `yaml:"ollama_host"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the document chunk collection name.
	Collection string `yaml:"collection"`
	// QueryCollection is the query cache collection name.
	QueryCollection string `yaml:"query_collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// ElasticConfig holds Elasticsearch lexical store settings.
type ElasticConfig struct {
	// URL is the Elasticsearch base URL. Empty disables the lexical leg.
	URL string `yaml:"url"`
	// Index is the index name for chunk full texts.
	Index string `yaml:"index"`
	// APIKey is the Elasticsearch API key. Prefer env var ELASTIC_API_KEY.
	APIKey string `yaml:"api_key"`
}

// PathsConfig holds corpus and dataset file locations.
type PathsConfig struct {
	// TxtDir is the directory of .txt source documents.
	TxtDir string `yaml:"txt_dir"`
	// Links is the JSON index mapping document titles to source URLs.
	Links string `yaml:"links"`
	// Dataset is the chunk dataset JSON file.
	Dataset string `yaml:"dataset"`
	// Report is the sanity failure report JSON file.
	Report string `yaml:"report"`
}

// RetrievalConfig holds retrieval and prompt budget knobs.
type RetrievalConfig struct {
	// TopK is the per-store result count.
	TopK int `yaml:"top_k"`
	// MaxContextBlocks caps retrieved blocks entering the prompt.
	MaxContextBlocks int `yaml:"max_context_blocks"`
	// MaxContextChars caps total prompt context size in characters.
	MaxContextChars int `yaml:"max_context_chars"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// HistoryConfig holds conversation history settings.
type HistoryConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// MetricsConfig holds the Prometheus listener settings.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the listener.
	Addr string `yaml:"addr"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_NAME", func(c *Config) string { return c.Model.Name }},
	{"MODEL_BASE_URL", func(c *Config) string { return c.Model.BaseURL }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.APIKey }},
	{"MODEL_MAX_RETRIES", func(c *Config) string { return intStr(c.Model.MaxRetries) }},
	{"MODEL_RPS", func(c *Config) string { return float32Str(c.Model.RequestsPerSecond) }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Embedding.OllamaHost }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_QUERY_COLLECTION", func(c *Config) string { return c.Qdrant.QueryCollection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"ELASTIC_URL", func(c *Config) string { return c.Elastic.URL }},
	{"ELASTIC_INDEX", func(c *Config) string { return c.Elastic.Index }},
	{"ELASTIC_API_KEY", func(c *Config) string { return c.Elastic.APIKey }},
	{"RAINA_TXT_DIR", func(c *Config) string { return c.Paths.TxtDir }},
	{"RAINA_LINKS", func(c *Config) string { return c.Paths.Links }},
	{"RAINA_DATASET", func(c *Config) string { return c.Paths.Dataset }},
	{"RAINA_REPORT", func(c *Config) string { return c.Paths.Report }},
	{"RAINA_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"RAINA_MAX_CONTEXT_BLOCKS", func(c *Config) string { return intStr(c.Retrieval.MaxContextBlocks) }},
	{"RAINA_MAX_CONTEXT_CHARS", func(c *Config) string { return intStr(c.Retrieval.MaxContextChars) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"RAINA_HISTORY_DB", func(c *Config) string { return c.History.DBPath }},
	{"METRICS_ADDR", func(c *Config) string { return c.Metrics.Addr }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("RAINA_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".raina", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("raina.yaml"); err == nil {
		return "raina.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
