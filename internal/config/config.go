// Package config provides YAML-based configuration for asksudo.
// Configuration is loaded with a layered precedence: defaults → YAML file →
// .env file → env vars. Real environment variables always win.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. ASKSUDO_CONFIG environment variable
//  3. ~/.asksudo/config.yaml
//  4. ./asksudo.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Index configures the vector index.
	Index IndexConfig `yaml:"index"`

	// Ledger configures the document status ledger.
	Ledger LedgerConfig `yaml:"ledger"`

	// Redis configures the shared lock backend.
	Redis RedisConfig `yaml:"redis"`

	// Ingestion configures chunking, fetching and extraction.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Retrieval configures query defaults.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the backend: gemini (default), ollama, openai, azure.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// BatchSize is the number of chunks embedded concurrently.
	BatchSize int `yaml:"batch_size"`
	// MaxRetries is the per-chunk retry count; 0 disables retries.
	MaxRetries *int `yaml:"max_retries"`

	// Gemini holds Google Gemini settings.
	Gemini GeminiConfig `yaml:"gemini"`
	// Ollama holds Ollama settings.
	Ollama OllamaConfig `yaml:"ollama"`
	// OpenAI holds OpenAI settings.
	OpenAI OpenAIConfig `yaml:"openai"`
	// Azure holds Azure OpenAI settings.
	Azure AzureConfig `yaml:"azure"`
}

// GeminiConfig holds Google Gemini settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
}

// OllamaConfig holds Ollama settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
}

// OpenAIConfig holds OpenAI settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
}

// AzureConfig holds Azure OpenAI settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the embedding deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	// Backend selects qdrant (default) or memory.
	Backend string `yaml:"backend"`
	// UpsertBatchSize is the number of points per upsert call.
	UpsertBatchSize int `yaml:"upsert_batch_size"`
	// Qdrant holds Qdrant connection settings.
	Qdrant QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// LedgerConfig holds status ledger settings.
type LedgerConfig struct {
	// DSN is a SQLite path or a postgres:// URL. Prefer env var LEDGER_DSN for Postgres.
	DSN string `yaml:"dsn"`
}

// RedisConfig holds Redis settings for distributed document locks.
type RedisConfig struct {
	// URL is a redis:// URL. Empty keeps locks in-process.
	URL string `yaml:"url"`
	// LockTTL is the lock lifetime as a Go duration string (e.g. "2m").
	LockTTL string `yaml:"lock_ttl"`
}

// IngestionConfig holds pipeline settings.
type IngestionConfig struct {
	// ChunkSize is the window length in characters.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is the overlap between windows in characters; 0 means none.
	ChunkOverlap *int `yaml:"chunk_overlap"`
	// Timeout bounds one ingestion attempt (Go duration string).
	Timeout string `yaml:"timeout"`
	// FetchTimeout bounds one source download (Go duration string).
	FetchTimeout string `yaml:"fetch_timeout"`
	// FetchMaxBytes caps a source download.
	FetchMaxBytes int64 `yaml:"fetch_max_bytes"`
	// PDFToTextPath is the pdftotext binary to run.
	PDFToTextPath string `yaml:"pdftotext_path"`
}

// RetrievalConfig holds query settings.
type RetrievalConfig struct {
	// TopK is the default number of passages returned.
	TopK int `yaml:"top_k"`
	// ContextMaxTokens is the token budget for an assembled context message.
	ContextMaxTokens int `yaml:"context_max_tokens"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var ASKSUDO_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBED_BATCH_SIZE", func(c *Config) string { return intStr(c.Embedding.BatchSize) }},
	{"EMBEDDING_MAX_RETRIES", func(c *Config) string { return optIntStr(c.Embedding.MaxRetries) }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Embedding.Gemini.APIKey }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Embedding.Ollama.Host }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Embedding.OpenAI.APIKey }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Embedding.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Embedding.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Embedding.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Embedding.Azure.APIVersion }},
	{"INDEX_BACKEND", func(c *Config) string { return c.Index.Backend }},
	{"UPSERT_BATCH_SIZE", func(c *Config) string { return intStr(c.Index.UpsertBatchSize) }},
	{"QDRANT_HOST", func(c *Config) string { return c.Index.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Index.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Index.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Index.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Index.Qdrant.TLS) }},
	{"LEDGER_DSN", func(c *Config) string { return c.Ledger.DSN }},
	{"REDIS_URL", func(c *Config) string { return c.Redis.URL }},
	{"LOCK_TTL", func(c *Config) string { return c.Redis.LockTTL }},
	{"CHUNK_SIZE", func(c *Config) string { return intStr(c.Ingestion.ChunkSize) }},
	{"CHUNK_OVERLAP", func(c *Config) string { return optIntStr(c.Ingestion.ChunkOverlap) }},
	{"INGEST_TIMEOUT", func(c *Config) string { return c.Ingestion.Timeout }},
	{"FETCH_TIMEOUT", func(c *Config) string { return c.Ingestion.FetchTimeout }},
	{"FETCH_MAX_BYTES", func(c *Config) string { return int64Str(c.Ingestion.FetchMaxBytes) }},
	{"PDFTOTEXT_PATH", func(c *Config) string { return c.Ingestion.PDFToTextPath }},
	{"RETRIEVE_TOP_K", func(c *Config) string { return intStr(c.Retrieval.TopK) }},
	{"CONTEXT_MAX_TOKENS", func(c *Config) string { return intStr(c.Retrieval.ContextMaxTokens) }},
	{"SERVER_HOST", func(c *Config) string { return c.Server.Host }},
	{"SERVER_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"ASKSUDO_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// LoadDotEnv loads KEY=VALUE pairs from path (".env" when empty) without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string, log *slog.Logger) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	log.Debug("config: loaded dotenv file", slog.String("path", path))
	return nil
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
		if yamlVal == "" {
			continue
		}
		if _, set := os.LookupEnv(m.envKey); set {
			continue // env wins
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: failed to set %s: %w", m.envKey, err)
		}
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

	if envPath := os.Getenv("ASKSUDO_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".asksudo", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("asksudo.yaml"); err == nil {
		return "asksudo.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// optIntStr converts a set *int to string, zero included. nil is "".
func optIntStr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// int64Str converts an int64 to string, returning "" for zero values.
func int64Str(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
