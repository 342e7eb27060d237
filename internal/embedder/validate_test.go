package embedder

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  bool
	}{
		{"text-embedding-004", false},
		{"text-embedding-3-small", false},
		{"nomic-embed-text", false},
		{"gemini-embedding-001", false},
		{"gpt-4o", true},
		{"gemini-2.0-flash", true},
		{"llama3.1:8b", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, looksLikeChatModel(tt.model), tt.model)
	}
}

// clearEmbeddingEnv blanks every variable Validate and NewFromEnv read.
func clearEmbeddingEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_DIMENSIONS",
		"EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT",
		"GOOGLE_API_KEY", "OPENAI_API_KEY", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT",
	} {
		t.Setenv(k, "")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"gemini default without key", nil, true},
		{"gemini with google key", map[string]string{"GOOGLE_API_KEY": "k"}, false},
		{"gemini with embedding key", map[string]string{"EMBEDDING_API_KEY": "k"}, false},
		{"ollama needs nothing", map[string]string{"EMBEDDING_PROVIDER": "ollama"}, false},
		{"openai without key", map[string]string{"EMBEDDING_PROVIDER": "openai"}, true},
		{"azure without endpoint", map[string]string{"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k"}, true},
		{"azure complete", map[string]string{
			"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k", "AZURE_OPENAI_ENDPOINT": "https://x.openai.azure.com",
		}, false},
		{"unknown backend", map[string]string{"EMBEDDING_PROVIDER": "bedrock"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEmbeddingEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			err := Validate(slog.Default())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultDimensions(t *testing.T) {
	clearEmbeddingEnv(t)

	assert.Equal(t, 768, DefaultDimensions("gemini"))
	assert.Equal(t, 768, DefaultDimensions("ollama"))
	assert.Equal(t, 1536, DefaultDimensions("openai"))

	t.Setenv("EMBEDDING_DIMENSIONS", "256")
	assert.Equal(t, 256, DefaultDimensions("gemini"))
}

func TestNewFromEnv_Ollama(t *testing.T) {
	clearEmbeddingEnv(t)
	t.Setenv("EMBEDDING_PROVIDER", "ollama")
	t.Setenv("OLLAMA_HOST", "http://ollama.internal:11434")

	emb, err := NewFromEnv(t.Context())
	assert.NoError(t, err)

	o, ok := emb.(*OllamaEmbedder)
	if assert.True(t, ok) {
		assert.Equal(t, "http://ollama.internal:11434", o.baseURL)
		assert.Equal(t, defaultOllamaModel, o.model)
	}
}

func TestNewFromEnv_MissingKey(t *testing.T) {
	clearEmbeddingEnv(t)
	t.Setenv("EMBEDDING_PROVIDER", "openai")

	_, err := NewFromEnv(t.Context())
	assert.Error(t, err)
}
