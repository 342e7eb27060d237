package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/54b3r/asksudo-go/internal/rag"
	"github.com/54b3r/asksudo-go/internal/version"
)

// DefaultFetchMaxBytes caps a fetched document at 50 MiB.
const DefaultFetchMaxBytes int64 = 50 << 20

// Fetcher retrieves raw source bytes for a document.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL string) ([]byte, error)
}

// FetcherConfig holds the configuration for HTTPFetcher.
type FetcherConfig struct {
	// Timeout bounds a single fetch. Defaults to 60s if zero.
	Timeout time.Duration

	// MaxBytes caps the body size. Defaults to DefaultFetchMaxBytes if zero.
	MaxBytes int64

	// UserAgent is sent with every request.
	UserAgent string

	// AllowLocalFiles permits file:// URLs and bare paths. Only the CLI sets it.
	AllowLocalFiles bool
}

// HTTPFetcher fetches documents over HTTP(S), and from disk when allowed.
type HTTPFetcher struct {
	cfg    *FetcherConfig
	client *http.Client
}

// NewHTTPFetcher returns an HTTPFetcher with defaults applied to cfg.
func NewHTTPFetcher(cfg *FetcherConfig) *HTTPFetcher {
	if cfg == nil {
		cfg = &FetcherConfig{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultFetchMaxBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = version.UserAgent() + " (document ingestion)"
	}
	return &HTTPFetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Fetch returns the document bytes. Every failure wraps rag.ErrFetch unless
// ctx was cancelled.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w: invalid url: %w", rag.ErrFetch, err)
	}

	switch u.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, sourceURL)
	case "file":
		return f.readLocal(u.Path)
	case "":
		return f.readLocal(sourceURL)
	default:
		return nil, fmt.Errorf("fetch: %w: unsupported scheme %q", rag.ErrFetch, u.Scheme)
	}
}

func (f *HTTPFetcher) fetchHTTP(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w: creating request: %w", rag.ErrFetch, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf, text/plain;q=0.9, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch: %w", ctxErr)
		}
		return nil, fmt.Errorf("fetch: %w: %w", rag.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch: %w: unexpected status %d", rag.ErrFetch, resp.StatusCode)
	}
	if resp.ContentLength > f.cfg.MaxBytes {
		return nil, fmt.Errorf("fetch: %w: body of %d bytes exceeds limit of %d", rag.ErrFetch, resp.ContentLength, f.cfg.MaxBytes)
	}
	return f.readLimited(resp.Body)
}

func (f *HTTPFetcher) readLocal(path string) ([]byte, error) {
	if !f.cfg.AllowLocalFiles {
		return nil, fmt.Errorf("fetch: %w: local files are not allowed", rag.ErrFetch)
	}
	file, err := os.Open(path) //nolint:gosec // operator-supplied path, CLI only
	if err != nil {
		return nil, fmt.Errorf("fetch: %w: %w", rag.ErrFetch, err)
	}
	defer file.Close()
	return f.readLimited(file)
}

var errTooLarge = errors.New("body exceeds size limit")

func (f *HTTPFetcher) readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: %w: reading body: %w", rag.ErrFetch, err)
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return nil, fmt.Errorf("fetch: %w: %w (%d bytes)", rag.ErrFetch, errTooLarge, f.cfg.MaxBytes)
	}
	return body, nil
}
