// Package extract turns fetched document bytes into plain text. PDFs go
// through poppler's pdftotext; text formats are decoded directly. Detect
// picks the right extractor from the sniffed content type.
package extract

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/asksudo-go/internal/rag"
)

// Extractor converts raw document bytes into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// Plain decodes UTF-8 text documents. Invalid UTF-8 is an extraction error.
type Plain struct{}

// Extract implements Extractor.
func (Plain) Extract(_ context.Context, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("extract: %w: text is not valid UTF-8", rag.ErrExtract)
	}
	return string(data), nil
}

// Detect chooses an extractor by content type. It tolerates a declared type
// (e.g. from a Content-Type header) but falls back to sniffing the bytes.
type Detect struct {
	// PDF handles application/pdf.
	PDF Extractor

	// Text handles text/* content. Defaults to Plain.
	Text Extractor
}

// Extract implements Extractor.
func (d *Detect) Extract(ctx context.Context, data []byte) (string, error) {
	ex, err := d.For(http.DetectContentType(data))
	if err != nil {
		return "", err
	}
	return ex.Extract(ctx, data)
}

// For returns the extractor registered for mimeType.
func (d *Detect) For(mimeType string) (Extractor, error) {
	base, _, _ := strings.Cut(mimeType, ";")
	base = strings.TrimSpace(strings.ToLower(base))

	switch {
	case base == "application/pdf":
		if d.PDF == nil {
			return nil, fmt.Errorf("extract: %w: no PDF extractor configured", rag.ErrExtract)
		}
		return d.PDF, nil
	case strings.HasPrefix(base, "text/"), base == "application/json", base == "application/xml":
		if d.Text == nil {
			return Plain{}, nil
		}
		return d.Text, nil
	default:
		return nil, fmt.Errorf("extract: %w: unsupported content type %q", rag.ErrExtract, base)
	}
}
