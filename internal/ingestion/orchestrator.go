// Package ingestion drives a single document from its source URL into the
// vector index: fetch, extract, chunk, embed, upsert. The Orchestrator owns
// the document's ledger status for the duration of an attempt and always
// leaves it ready or failed. It is invoked by `asksudo ingest` and by the
// HTTP document routes.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/asksudo-go/internal/chunker"
	"github.com/54b3r/asksudo-go/internal/extract"
	"github.com/54b3r/asksudo-go/internal/ledger"
	"github.com/54b3r/asksudo-go/internal/lock"
	"github.com/54b3r/asksudo-go/internal/logging"
	"github.com/54b3r/asksudo-go/internal/rag"
)

// cleanupTimeout bounds the failure-path writes, which run detached from the
// caller's context.
const cleanupTimeout = 30 * time.Second

// Stage names used in logs, metrics and failure messages.
const (
	stageValidate = "validate"
	stageLock     = "lock"
	stageLedger   = "ledger"
	stageFetch    = "fetch"
	stageExtract  = "extract"
	stageChunk    = "chunk"
	stageEmbed    = "embed"
	stageUpsert   = "upsert"
	stageCleanup  = "cleanup"
	stageFinalize = "finalize"
)

// Ledger is the slice of the status ledger the orchestrator needs.
type Ledger interface {
	Get(ctx context.Context, id string) (*ledger.Document, error)
	UpdateStatus(ctx context.Context, id string, u ledger.Update) error
}

// ChunkEmbedder embeds every chunk of one document or fails as a whole.
type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, documentID, ownerID string, chunks []chunker.Chunk) ([]rag.EmbeddedChunk, error)
}

// Deps are the collaborators of an Orchestrator. All but Locker and Metrics
// are required.
type Deps struct {
	Ledger    Ledger
	Fetcher   Fetcher
	Extractor extract.Extractor
	Embedder  ChunkEmbedder
	Index     rag.VectorIndex

	// Locker serializes attempts per document. Defaults to lock.NewKeyed().
	Locker lock.Locker

	// Metrics defaults to collectors on a private registry.
	Metrics *Metrics
}

// Config holds the configuration for the orchestrator.
type Config struct {
	// ChunkSize is the window length in characters. Defaults to chunker.DefaultSize.
	ChunkSize int

	// ChunkOverlap is the overlap between windows. Zero means no overlap;
	// negative selects chunker.DefaultOverlap. chunker.Split clamps values
	// that are not below ChunkSize.
	ChunkOverlap int

	// Timeout bounds a whole attempt. Zero means no limit beyond the caller's ctx.
	Timeout time.Duration
}

// Result is the outcome of one ingestion attempt.
type Result struct {
	Success         bool   `json:"success"`
	ChunksProcessed int    `json:"chunksProcessed"`
	Error           string `json:"error,omitempty"`
}

// Orchestrator runs ingestion attempts. It is safe for concurrent use;
// attempts for the same document are serialized by the Locker.
type Orchestrator struct {
	deps Deps
	cfg  *Config
}

// NewOrchestrator validates deps and applies defaults to cfg.
func NewOrchestrator(deps Deps, cfg *Config) (*Orchestrator, error) {
	switch {
	case deps.Ledger == nil:
		return nil, fmt.Errorf("ingestion: ledger must not be nil")
	case deps.Fetcher == nil:
		return nil, fmt.Errorf("ingestion: fetcher must not be nil")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("ingestion: extractor must not be nil")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	case deps.Index == nil:
		return nil, fmt.Errorf("ingestion: index must not be nil")
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewKeyed()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(prometheus.NewRegistry())
	}

	if cfg == nil {
		cfg = &Config{ChunkOverlap: chunker.DefaultOverlap}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunker.DefaultSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = chunker.DefaultOverlap
	}

	return &Orchestrator{deps: deps, cfg: cfg}, nil
}

// stageError tags an attempt failure with the stage it happened in.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func failAt(stage string, err error) error {
	return &stageError{stage: stage, err: err}
}

// attempt is the mutable state of one Ingest call.
type attempt struct {
	o          *Orchestrator
	log        *slog.Logger
	documentID string
	ownerID    string
	stage      string

	// processing is true while the ledger row is ours to finish.
	processing bool
	// dirty is true when the index may hold vectors for the document.
	dirty bool

	release func()
}

// Ingest runs one attempt for documentID. sourceURL overrides the URL stored
// in the ledger when non-empty. It never returns an error or panics: every
// failure is reported in the Result, the ledger row is left ready or failed,
// and a failed document has no vectors left in the index.
func (o *Orchestrator) Ingest(ctx context.Context, documentID, sourceURL, ownerID string) (res Result) {
	start := time.Now()
	log := logging.FromContext(ctx).With("document_id", documentID, "owner_id", ownerID)

	o.deps.Metrics.inFlight.Inc()
	defer func() {
		o.deps.Metrics.inFlight.Dec()
		outcome := outcomeSuccess
		if !res.Success {
			outcome = outcomeFailure
		}
		o.deps.Metrics.attempts.WithLabelValues(outcome).Inc()
		o.deps.Metrics.duration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	a := &attempt{o: o, log: log, documentID: documentID, ownerID: ownerID}
	defer a.unlock()

	n, err := a.run(ctx, sourceURL)
	if err != nil {
		a.fail(ctx, err)
		return Result{Error: err.Error()}
	}

	o.deps.Metrics.chunks.Add(float64(n))
	log.Info("ingestion: document ready", "chunks", n, "duration", time.Since(start))
	return Result{Success: true, ChunksProcessed: n}
}

func (a *attempt) run(ctx context.Context, sourceURL string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = failAt(a.stage, fmt.Errorf("ingestion: %s: panic: %v", a.stage, r))
		}
	}()

	deps := a.o.deps

	a.stage = stageValidate
	if a.documentID == "" {
		return 0, failAt(a.stage, errors.New("ingestion: document id is required"))
	}
	if a.ownerID == "" {
		return 0, failAt(a.stage, fmt.Errorf("ingestion: %w", rag.ErrOwnerRequired))
	}

	a.stage = stageLock
	release, err := deps.Locker.Lock(ctx, a.documentID)
	if err != nil {
		return 0, failAt(a.stage, fmt.Errorf("ingestion: acquiring document lock: %w", err))
	}
	a.release = release

	a.stage = stageLedger
	doc, err := deps.Ledger.Get(ctx, a.documentID)
	if err != nil {
		return 0, failAt(a.stage, fmt.Errorf("ingestion: %w", err))
	}
	if doc.OwnerID != a.ownerID {
		return 0, failAt(a.stage, fmt.Errorf("ingestion: %w", rag.ErrOwnerMismatch))
	}
	if sourceURL == "" {
		sourceURL = doc.SourceURL
	}
	// Anything but a fresh document may already have vectors from an
	// earlier or interrupted attempt.
	a.dirty = doc.Status != ledger.StatusPending

	if err := deps.Ledger.UpdateStatus(ctx, a.documentID, ledger.Update{Status: ledger.StatusProcessing}); err != nil {
		return 0, failAt(a.stage, fmt.Errorf("ingestion: marking processing: %w", err))
	}
	a.processing = true
	a.log.Debug("ingestion: attempt started", "previous_status", doc.Status)

	a.stage = stageFetch
	data, err := deps.Fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return 0, failAt(a.stage, fmt.Errorf("ingestion: %w", err))
	}
	a.log.Debug("ingestion: fetched", "bytes", len(data))

	a.stage = stageExtract
	text, err := deps.Extractor.Extract(ctx, data)
	if err != nil {
		return 0, failAt(a.stage, fmt.Errorf("ingestion: %w", wrapIfMissing(err, rag.ErrExtract)))
	}
	if strings.TrimSpace(text) == "" {
		return 0, failAt(a.stage, fmt.Errorf("ingestion: %w", rag.ErrEmptyContent))
	}

	a.stage = stageChunk
	chunks := chunker.Split(text, a.o.cfg.ChunkSize, a.o.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return 0, failAt(a.stage, fmt.Errorf("ingestion: %w", rag.ErrEmptyContent))
	}
	a.log.Debug("ingestion: chunked", "chunks", len(chunks))

	a.stage = stageEmbed
	embedded, err := deps.Embedder.EmbedChunks(ctx, a.documentID, a.ownerID, chunks)
	if err != nil {
		return 0, failAt(a.stage, fmt.Errorf("ingestion: %w", wrapIfMissing(err, rag.ErrEmbedding)))
	}
	if len(embedded) != len(chunks) {
		return 0, failAt(a.stage, fmt.Errorf("ingestion: %w: got %d vectors for %d chunks",
			rag.ErrEmbedding, len(embedded), len(chunks)))
	}

	a.stage = stageUpsert
	a.dirty = true
	if err := deps.Index.Upsert(ctx, embedded); err != nil {
		return 0, failAt(a.stage, fmt.Errorf("ingestion: %w", wrapIfMissing(err, rag.ErrIndexWrite)))
	}

	// A shorter re-upload leaves the old tail behind; drop it.
	a.stage = stageCleanup
	if err := deps.Index.DeleteFrom(ctx, a.documentID, len(chunks)); err != nil {
		return 0, failAt(a.stage, fmt.Errorf("ingestion: removing stale chunks: %w", wrapIfMissing(err, rag.ErrIndexWrite)))
	}

	a.stage = stageFinalize
	if err := deps.Ledger.UpdateStatus(ctx, a.documentID, ledger.Update{Status: ledger.StatusReady, Chunks: len(chunks)}); err != nil {
		return 0, failAt(a.stage, fmt.Errorf("ingestion: marking ready: %w", err))
	}
	a.processing = false

	return len(chunks), nil
}

// fail runs the compensating actions for a failed attempt: purge the
// document's vectors if any may exist, then record the failure. Both run on a
// context detached from the caller so cancellation cannot strand the row in
// processing.
func (a *attempt) fail(ctx context.Context, cause error) {
	stage := "unknown"
	var se *stageError
	if errors.As(cause, &se) {
		stage = se.stage
	}
	a.o.deps.Metrics.failures.WithLabelValues(stage).Inc()
	a.log.Error("ingestion: attempt failed", "stage", stage, "error", cause)

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if a.dirty {
		if err := a.o.deps.Index.DeleteDocument(dctx, a.documentID); err != nil {
			a.log.Error("ingestion: compensating purge failed", "stage", stage, "error", err)
		}
	}
	if a.processing {
		u := ledger.Update{Status: ledger.StatusFailed, Error: cause.Error()}
		if err := a.o.deps.Ledger.UpdateStatus(dctx, a.documentID, u); err != nil {
			a.log.Error("ingestion: marking failed", "stage", stage, "error", err)
		}
	}
}

func (a *attempt) unlock() {
	if a.release != nil {
		a.release()
	}
}

// wrapIfMissing returns err tagged with sentinel unless it already is, or
// unless err is a context error.
func wrapIfMissing(err, sentinel error) error {
	if errors.Is(err, sentinel) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
