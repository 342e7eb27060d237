package audit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitiseKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		key, value, want string
	}{
		{"OPENAI_API_KEY", "sk-abc123", "set"},
		{"QDRANT_API_KEY", "", "unset"},
		{"ASKSUDO_API_KEY", "token", "set"},
		{"EMBEDDING_PROVIDER", "gemini", "gemini"},
		{"EMBEDDING_PROVIDER", "", "unset"},
		{"SOMETHING_ELSE", "value", "value"},
		{"LEDGER_DSN", "postgres://asksudo:hunter2@db:5432/asksudo", "postgres://asksudo:xxxxx@db:5432/asksudo"},
		{"LEDGER_DSN", "/var/lib/asksudo/ledger.db", "/var/lib/asksudo/ledger.db"},
		{"REDIS_URL", "redis://:s3cret@cache:6379/0", "redis://:xxxxx@cache:6379/0"},
		{"REDIS_URL", "redis://cache:6379/0", "redis://cache:6379/0"},
		{"REDIS_URL", "", "unset"},
	}
	for _, tc := range cases {
		if got := SanitiseKey(tc.key, tc.value); got != tc.want {
			t.Errorf("SanitiseKey(%s, %q) = %q, want %q", tc.key, tc.value, got, tc.want)
		}
	}
}

func TestDisplayPath(t *testing.T) {
	t.Parallel()

	if got := displayPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := displayPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		t.Skip("no home directory")
	}
	if got := displayPath(filepath.Join(home, ".asksudo", "config.yaml")); got != "~/.asksudo/config.yaml" {
		t.Errorf("expected '~/.asksudo/config.yaml', got %q", got)
	}
	if got := displayPath(home + "-other/config.yaml"); strings.HasPrefix(got, "~") {
		t.Errorf("sibling of home must not be shortened: %q", got)
	}
}

func TestLogCommandStart(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "ollama")
	t.Setenv("GOOGLE_API_KEY", "AIza-not-logged")
	t.Setenv("LEDGER_DSN", "postgres://asksudo:hunter2@db/asksudo")
	t.Setenv("REDIS_URL", "")

	var buf bytes.Buffer
	LogCommandStart(slog.New(slog.NewJSONHandler(&buf, nil)), "ingest", "")

	if strings.Contains(buf.String(), "AIza-not-logged") || strings.Contains(buf.String(), "hunter2") {
		t.Fatalf("secret leaked into audit line: %s", buf.String())
	}

	var rec struct {
		Msg        string            `json:"msg"`
		Command    string            `json:"command"`
		ConfigFile string            `json:"config_file"`
		Embedding  map[string]string `json:"embedding"`
		Ledger     map[string]string `json:"ledger"`
		Lock       map[string]string `json:"lock"`
	}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode audit line: %v", err)
	}
	if rec.Msg != "audit: command start" || rec.Command != "ingest" || rec.ConfigFile != "none" {
		t.Errorf("unexpected header fields: %+v", rec)
	}
	if rec.Embedding["EMBEDDING_PROVIDER"] != "ollama" || rec.Embedding["GOOGLE_API_KEY"] != "set" {
		t.Errorf("unexpected embedding group: %v", rec.Embedding)
	}
	if rec.Ledger["LEDGER_DSN"] != "postgres://asksudo:xxxxx@db/asksudo" {
		t.Errorf("unexpected ledger group: %v", rec.Ledger)
	}
	if rec.Lock["REDIS_URL"] != "unset" {
		t.Errorf("unexpected lock group: %v", rec.Lock)
	}
}
