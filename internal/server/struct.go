package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/asksudo-go/internal/ingestion"
	"github.com/54b3r/asksudo-go/internal/ledger"
	"github.com/54b3r/asksudo-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a synchronous ingestion ("wait": true).
	WriteTimeout time.Duration
	// ShutdownTimeout bounds the graceful shutdown, including the drain of
	// background ingestions.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all /api/documents and
	// /api/retrieve routes. If empty, authentication is disabled.
	APIKey string
	// ContextMaxTokens is the token budget for the context message returned by
	// POST /api/retrieve with withContext set.
	ContextMaxTokens int
	// MetricsRegistry receives the server collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Deps are the domain services the HTTP handlers call.
type Deps struct {
	// Documents registers and looks up ledger rows.
	Documents DocumentStore
	// Ingester runs ingestion attempts.
	Ingester Ingester
	// Searcher answers owner-scoped queries.
	Searcher Searcher
}

// DocumentStore is the slice of the ledger the handlers use.
// *ledger.SQLStore satisfies it; tests inject a fake.
type DocumentStore interface {
	Create(ctx context.Context, doc *ledger.Document) (*ledger.Document, error)
	Get(ctx context.Context, id string) (*ledger.Document, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*ledger.Document, error)
}

// Ingester runs one ingestion attempt. *ingestion.Orchestrator satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, documentID, sourceURL, ownerID string) ingestion.Result
}

// Searcher returns the owner's closest chunks. *rag.Retriever satisfies it.
type Searcher interface {
	Search(ctx context.Context, query, ownerID string, topK int) ([]rag.Match, error)
}

// Server is the HTTP server that exposes document ingestion and retrieval.
type Server struct {
	// docs is the status ledger.
	docs DocumentStore
	// ingester runs ingestion attempts, synchronously or in the background.
	ingester Ingester
	// searcher answers retrieval requests.
	searcher Searcher
	// cfg holds the resolved server configuration.
	cfg *Config
	// router is the chi route tree, also used directly by tests.
	router http.Handler
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by the server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()

	// background tracks ingestions started with a 202 response.
	background sync.WaitGroup
	// bgCtx is the parent context of background ingestions. bgCancel is
	// called only when the shutdown drain times out.
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// createDocumentRequest is the JSON body for POST /api/documents.
type createDocumentRequest struct {
	// ID is an optional caller-chosen document id. Generated when empty.
	ID string `json:"id,omitempty"`
	// OwnerID is the tenant the document belongs to.
	OwnerID string `json:"ownerId"`
	// SourceURL is the http(s) URL the document is downloaded from.
	SourceURL string `json:"sourceUrl"`
	// FileName is optional; inferred from the URL when empty.
	FileName string `json:"fileName,omitempty"`
	// MimeType is optional; inferred from the URL when empty.
	MimeType string `json:"mimeType,omitempty"`
	// FileSize is the size reported by the uploader, if known.
	FileSize int64 `json:"fileSize,omitempty"`
	// Wait runs the ingestion synchronously and returns its result.
	Wait bool `json:"wait,omitempty"`
}

// ingestRequest is the JSON body for POST /api/documents/{id}/ingest.
type ingestRequest struct {
	// OwnerID must match the document's owner.
	OwnerID string `json:"ownerId"`
	// SourceURL overrides the URL stored in the ledger when set.
	SourceURL string `json:"sourceUrl,omitempty"`
	// Wait runs the ingestion synchronously and returns its result.
	Wait bool `json:"wait,omitempty"`
}

// documentResponse is returned by the document routes.
type documentResponse struct {
	// Document is the ledger row.
	Document *ledger.Document `json:"document"`
	// Result is set when the ingestion ran synchronously.
	Result *ingestion.Result `json:"result,omitempty"`
}

// listDocumentsResponse is the JSON response for GET /api/documents.
type listDocumentsResponse struct {
	// Documents are the owner's documents, newest first.
	Documents []*ledger.Document `json:"documents"`
}

// retrieveRequest is the JSON body for POST /api/retrieve.
type retrieveRequest struct {
	// Query is the user question to embed.
	Query string `json:"query"`
	// OwnerID scopes the search.
	OwnerID string `json:"ownerId"`
	// TopK is the number of passages wanted; 0 selects the default.
	TopK int `json:"topK,omitempty"`
	// WithContext also returns the assembled context message.
	WithContext bool `json:"withContext,omitempty"`
}

// passage is one retrieved chunk in a retrieveResponse.
type passage struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"documentId"`
	Ordinal    int     `json:"ordinal"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

// retrieveResponse is the JSON response for POST /api/retrieve.
type retrieveResponse struct {
	// Passages are the owner's closest chunks, best first.
	Passages []passage `json:"passages"`
	// Context is the system message grounding an answer in Passages. Empty
	// when not requested or when there are no passages.
	Context string `json:"context,omitempty"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
}
