package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		url      string
		fileName string
		mimeType string
	}{
		// ── HTTP(S) ─────────────────────────────────────────────────────
		{
			name:     "pdf url",
			url:      "https://docs.example.com/guides/sudo-guide.pdf",
			fileName: "sudo-guide.pdf",
			mimeType: "application/pdf",
		},
		{
			name:     "query string ignored",
			url:      "https://cdn.example.com/files/manual.PDF?sig=abc&exp=1",
			fileName: "manual.PDF",
			mimeType: "application/pdf",
		},
		{
			name:     "escaped name",
			url:      "https://cdn.example.com/files/release%20notes.html",
			fileName: "release notes.html",
			mimeType: "text/html",
		},
		{
			name:     "no path",
			url:      "https://example.com",
			fileName: "document",
			mimeType: "",
		},
		// ── Upload hosts ────────────────────────────────────────────────
		{
			name:     "uploadthing key",
			url:      "https://utfs.io/f/3b2f9c1e-key",
			fileName: "3b2f9c1e-key",
			mimeType: "application/pdf",
		},
		{
			name:     "uploadthing app subdomain",
			url:      "https://abc123.ufs.sh/f/xyz",
			fileName: "xyz",
			mimeType: "application/pdf",
		},
		// ── Local ───────────────────────────────────────────────────────
		{
			name:     "file url",
			url:      "file:///var/data/handbook.pdf",
			fileName: "handbook.pdf",
			mimeType: "application/pdf",
		},
		{
			name:     "bare path",
			url:      "/tmp/notes.json",
			fileName: "notes.json",
			mimeType: "application/json",
		},
		{
			name:     "unknown extension",
			url:      "https://example.com/blob.zzz9",
			fileName: "blob.zzz9",
			mimeType: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := InferMetadata(tt.url)
			assert.Equal(t, tt.fileName, got.FileName)
			assert.Equal(t, tt.mimeType, got.MimeType)
		})
	}
}
