// Package audit writes one structured line per CLI invocation: the command,
// the config file, and the configuration the command will run with. Secret
// values are reduced to "set"/"unset" and connection URLs lose their
// passwords, so the line is safe to ship to a log store.
package audit

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// kind decides how a variable's value is rendered.
type kind int

const (
	plain kind = iota
	// secret values are logged as presence only.
	secret
	// credentialURL values are logged with any password masked.
	credentialURL
)

type auditVar struct {
	name string
	kind kind
}

// auditGroups is the configuration logged on every command start, grouped by
// component. Group and variable order is the order in the log line.
var auditGroups = []struct {
	group string
	vars  []auditVar
}{
	{"embedding", []auditVar{
		{"EMBEDDING_PROVIDER", plain},
		{"EMBEDDING_MODEL", plain},
		{"EMBEDDING_DIMENSIONS", plain},
		{"EMBEDDING_ENDPOINT", plain},
		{"EMBEDDING_API_KEY", secret},
		{"GOOGLE_API_KEY", secret},
		{"OLLAMA_HOST", plain},
		{"OPENAI_API_KEY", secret},
		{"AZURE_OPENAI_ENDPOINT", plain},
		{"AZURE_OPENAI_API_KEY", secret},
	}},
	{"index", []auditVar{
		{"INDEX_BACKEND", plain},
		{"QDRANT_HOST", plain},
		{"QDRANT_PORT", plain},
		{"QDRANT_COLLECTION", plain},
		{"QDRANT_API_KEY", secret},
	}},
	{"ledger", []auditVar{
		{"LEDGER_DSN", credentialURL},
	}},
	{"lock", []auditVar{
		{"REDIS_URL", credentialURL},
	}},
	{"ingestion", []auditVar{
		{"CHUNK_SIZE", plain},
		{"CHUNK_OVERLAP", plain},
		{"INGEST_TIMEOUT", plain},
	}},
	{"server", []auditVar{
		{"ASKSUDO_API_KEY", secret},
	}},
	{"logging", []auditVar{
		{"LOG_LEVEL", plain},
		{"LOG_FORMAT", plain},
	}},
}

// kinds indexes auditGroups by variable name.
var kinds = func() map[string]kind {
	m := make(map[string]kind)
	for _, g := range auditGroups {
		for _, v := range g.vars {
			m[v.name] = v.kind
		}
	}
	return m
}()

// LogCommandStart logs "audit: command start" at INFO with the command name,
// the config file (home directory shortened to ~), and one group per
// component holding its sanitised environment.
func LogCommandStart(log *slog.Logger, command, configPath string) {
	attrs := make([]slog.Attr, 0, len(auditGroups)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", displayPath(configPath)),
	)
	for _, g := range auditGroups {
		vals := make([]any, 0, len(g.vars))
		for _, v := range g.vars {
			vals = append(vals, slog.String(v.name, render(v.kind, os.Getenv(v.name))))
		}
		attrs = append(attrs, slog.Group(g.group, vals...))
	}
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey renders value the way the audit line would for key. Unknown
// keys are treated as plain.
func SanitiseKey(key, value string) string {
	return render(kinds[key], value)
}

func render(k kind, value string) string {
	if value == "" {
		return "unset"
	}
	switch k {
	case secret:
		return "set"
	case credentialURL:
		return redactURL(value)
	default:
		return value
	}
}

// redactURL masks the password in a connection URL. Values without URL
// credentials, such as a SQLite path, are returned unchanged.
func redactURL(v string) string {
	u, err := url.Parse(v)
	if err != nil || u.User == nil {
		return v
	}
	return u.Redacted()
}

func displayPath(p string) string {
	if p == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" && strings.HasPrefix(p, home+string(os.PathSeparator)) {
		return "~" + p[len(home):]
	}
	return p
}
