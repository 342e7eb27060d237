package embedder

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/54b3r/asksudo-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultGeminiModel = "text-embedding-004"
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// text-embedding-004 and nomic-embed-text both emit 768 dimensions.
	defaultGeminiDimensions = 768
	defaultOllamaDimensions = 768
	defaultOpenAIDimensions = 1536
)

// HealthChecker is implemented by backends that can be probed without
// spending embedding quota.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Backend returns the configured embedding backend name (default: gemini).
func Backend() string {
	return getEnvOrDefault("EMBEDDING_PROVIDER", "gemini")
}

// DefaultDimensions returns the vector size produced by the default model of
// the given backend. EMBEDDING_DIMENSIONS always takes precedence when set.
// Callers that size a vector index collection should use this rather than a
// hardcoded value.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "gemini":
		return defaultGeminiDimensions
	case "ollama":
		return defaultOllamaDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// NewFromEnv constructs the rag.Embedder selected by EMBEDDING_PROVIDER.
//
// Resolution order per backend:
//
//  1. EMBEDDING_PROVIDER: gemini (default), ollama, openai, azure
//  2. EMBEDDING_API_KEY overrides the backend's own key variable
//  3. EMBEDDING_ENDPOINT overrides the backend's own endpoint variable
//  4. EMBEDDING_MODEL overrides the backend's default model
//  5. EMBEDDING_DIMENSIONS requests a specific output size where supported
func NewFromEnv(ctx context.Context) (rag.Embedder, error) {
	backend := Backend()
	dims := getEnvInt("EMBEDDING_DIMENSIONS", 0)

	switch backend {
	case "gemini":
		apiKey := firstNonEmpty(getEnv("EMBEDDING_API_KEY"), getEnv("GOOGLE_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
		return NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultGeminiModel),
			Dimensions: dims,
		})

	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{
			Host:       firstNonEmpty(getEnv("EMBEDDING_ENDPOINT"), getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")),
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel),
			Dimensions: dims,
		}), nil

	case "openai":
		apiKey := firstNonEmpty(getEnv("EMBEDDING_API_KEY"), getEnv("OPENAI_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    getEnv("EMBEDDING_ENDPOINT"),
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
		}), nil

	case "azure":
		apiKey := firstNonEmpty(getEnv("EMBEDDING_API_KEY"), getEnv("AZURE_OPENAI_API_KEY"))
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := firstNonEmpty(getEnv("EMBEDDING_ENDPOINT"), getEnv("AZURE_OPENAI_ENDPOINT"))
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint,
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: dims,
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-10-21"),
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q, valid values: gemini, ollama, openai, azure", backend)
	}
}

func getEnv(key string) string {
	return os.Getenv(key)
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
