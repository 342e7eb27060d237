package ingestion

import (
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// InferredMetadata holds the file name and MIME type inferred from a source
// URL. Values supplied explicitly at registration take precedence; this is
// the best-effort fallback when the caller gives only a URL.
type InferredMetadata struct {
	// FileName is the last path segment, unescaped (e.g. "sudo-guide.pdf").
	FileName string
	// MimeType is derived from the file extension; empty when unknown.
	MimeType string
}

// uploadHosts are file hosts whose URLs end in an opaque key rather than the
// original file name. Documents from these hosts default to PDF.
var uploadHosts = []string{
	"utfs.io",
	"ufs.sh",
	"uploadthing.com",
}

// InferMetadata inspects a source URL or local path and returns best-effort
// metadata. Unknown or unparsable inputs yield "document" with no MIME type.
//
// Handled shapes:
//
//	https://host/path/to/name.ext?query
//	file:///abs/path/name.ext
//	/abs/path/name.ext
//	https://utfs.io/f/{key}
func InferMetadata(rawURL string) InferredMetadata {
	m := InferredMetadata{FileName: "document"}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return m
	}

	var name string
	switch parsed.Scheme {
	case "", "file":
		p := parsed.Path
		if p == "" {
			p = rawURL
		}
		name = filepath.Base(p)
	default:
		name = path.Base(parsed.Path)
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
	}

	if name != "" && name != "." && name != "/" {
		m.FileName = name
	}

	if ext := strings.ToLower(path.Ext(m.FileName)); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			m.MimeType, _, _ = strings.Cut(t, ";")
		}
	}

	if m.MimeType == "" && isUploadHost(parsed.Hostname()) {
		m.MimeType = "application/pdf"
	}

	return m
}

func isUploadHost(host string) bool {
	host = strings.ToLower(host)
	for _, h := range uploadHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
