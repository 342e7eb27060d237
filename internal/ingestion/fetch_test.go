package ingestion

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/asksudo-go/internal/rag"
)

func TestHTTPFetcher_OK(t *testing.T) {
	t.Parallel()

	uaCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uaCh <- r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("%PDF-1.4 body"))
	}))
	t.Cleanup(srv.Close)

	f := NewHTTPFetcher(&FetcherConfig{UserAgent: "asksudo-test"})
	body, err := f.Fetch(t.Context(), srv.URL+"/doc.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(body))
	assert.Equal(t, "asksudo-test", <-uaCh)
}

func TestHTTPFetcher_Non2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	_, err := NewHTTPFetcher(nil).Fetch(t.Context(), srv.URL)
	require.ErrorIs(t, err, rag.ErrFetch)
	assert.Contains(t, err.Error(), "404")
}

func TestHTTPFetcher_TooLarge(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Chunked response: no Content-Length, so the reader limit applies.
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	t.Cleanup(srv.Close)

	_, err := NewHTTPFetcher(&FetcherConfig{MaxBytes: 16}).Fetch(t.Context(), srv.URL)
	require.ErrorIs(t, err, rag.ErrFetch)
	require.ErrorIs(t, err, errTooLarge)
}

func TestHTTPFetcher_DeclaredLengthTooLarge(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	t.Cleanup(srv.Close)

	_, err := NewHTTPFetcher(&FetcherConfig{MaxBytes: 16}).Fetch(t.Context(), srv.URL)
	require.ErrorIs(t, err, rag.ErrFetch)
}

func TestHTTPFetcher_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPFetcher(nil).Fetch(t.Context(), url)
	require.ErrorIs(t, err, rag.ErrFetch)
}

func TestHTTPFetcher_LocalFiles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("local text"), 0o600))

	_, err := NewHTTPFetcher(nil).Fetch(t.Context(), path)
	require.ErrorIs(t, err, rag.ErrFetch)

	f := NewHTTPFetcher(&FetcherConfig{AllowLocalFiles: true})
	body, err := f.Fetch(t.Context(), path)
	require.NoError(t, err)
	assert.Equal(t, "local text", string(body))

	body, err = f.Fetch(t.Context(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, "local text", string(body))

	_, err = f.Fetch(t.Context(), filepath.Join(t.TempDir(), "missing.pdf"))
	require.ErrorIs(t, err, rag.ErrFetch)
}

func TestHTTPFetcher_UnsupportedScheme(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPFetcher(nil).Fetch(t.Context(), "ftp://example.com/doc.pdf")
	require.ErrorIs(t, err, rag.ErrFetch)
}
