package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/asksudo-go/internal/chunker"
	"github.com/54b3r/asksudo-go/internal/rag"
)

const (
	// DefaultBatchSize is the number of embedding calls allowed in flight at once.
	DefaultBatchSize = 10

	// DefaultMaxRetries is the number of extra attempts per embedding call
	// for throttling and transient server errors.
	DefaultMaxRetries = 2
)

// StatusError is an embedding backend response with a non-2xx HTTP status.
type StatusError struct {
	// Code is the HTTP status code.
	Code int
	// Message is the backend's error text, if any.
	Message string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// BatcherConfig holds the settings for a Batcher.
type BatcherConfig struct {
	// BatchSize is the number of items embedded concurrently. Groups run one
	// after another. Defaults to DefaultBatchSize.
	BatchSize int

	// Dimensions is the expected vector length. Zero accepts the length of
	// the first vector seen and enforces it from then on.
	Dimensions int

	// MaxRetries is the number of retries per item after the first attempt.
	// Zero disables retries. Negative selects DefaultMaxRetries.
	MaxRetries int

	// RetryInterval is the initial backoff between retries. Defaults to 500ms.
	RetryInterval time.Duration
}

// Batcher fans texts out to a rag.Embedder one item per call, in groups of
// BatchSize, and checks that every vector has the same dimension. Any item
// failing after its retries fails the whole call. Batcher itself satisfies
// rag.Embedder so the retrieval path gets the same guarantees.
type Batcher struct {
	embedder      rag.Embedder
	batchSize     int
	maxRetries    int
	retryInterval time.Duration
	// dims is the enforced dimension; 0 until configured or first observed.
	dims atomic.Int64
}

// NewBatcher wraps emb with batching, retries, and dimension checks.
func NewBatcher(emb rag.Embedder, cfg *BatcherConfig) (*Batcher, error) {
	if emb == nil {
		return nil, fmt.Errorf("embedder: embedder must not be nil")
	}
	if cfg == nil {
		cfg = &BatcherConfig{MaxRetries: DefaultMaxRetries}
	}

	b := &Batcher{
		embedder:      emb,
		batchSize:     cfg.BatchSize,
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
	}
	if b.batchSize <= 0 {
		b.batchSize = DefaultBatchSize
	}
	if b.maxRetries < 0 {
		b.maxRetries = DefaultMaxRetries
	}
	if b.retryInterval <= 0 {
		b.retryInterval = 500 * time.Millisecond
	}
	if cfg.Dimensions < 0 {
		return nil, fmt.Errorf("embedder: dimensions must not be negative, got %d", cfg.Dimensions)
	}
	b.dims.Store(int64(cfg.Dimensions))

	return b, nil
}

// Dimensions returns the enforced vector length, or 0 if none is known yet.
func (b *Batcher) Dimensions() int {
	return int(b.dims.Load())
}

// EmbedChunks embeds every chunk and returns them in input order, tagged with
// the document and owner. No partial result is returned on failure; the
// error wraps rag.ErrEmbedding.
func (b *Batcher) EmbedChunks(ctx context.Context, documentID, ownerID string, chunks []chunker.Chunk) ([]rag.EmbeddedChunk, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := b.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	out := make([]rag.EmbeddedChunk, len(chunks))
	for i, c := range chunks {
		out[i] = rag.EmbeddedChunk{
			Chunk:      c,
			Vector:     vectors[i],
			DocumentID: documentID,
			OwnerID:    ownerID,
		}
	}
	return out, nil
}

// Embed implements rag.Embedder. Items within a group run concurrently;
// the first failure cancels the rest of the group and stops the call.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				vec, err := b.embedOne(gctx, texts[i])
				if err != nil {
					return fmt.Errorf("%w: item %d: %w", rag.ErrEmbedding, i, err)
				}
				if err := b.checkDimensions(vec); err != nil {
					return fmt.Errorf("%w: item %d: %w", rag.ErrEmbedding, i, err)
				}
				out[i] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// embedOne embeds a single text, retrying temporary failures with
// exponential backoff.
func (b *Batcher) embedOne(ctx context.Context, text string) ([]float32, error) {
	var vec []float32

	op := func() error {
		vecs, err := b.embedder.Embed(ctx, []string{text})
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(vecs) != 1 || len(vecs[0]) == 0 {
			return backoff.Permanent(fmt.Errorf("backend returned %d embeddings for one input", len(vecs)))
		}
		vec = vecs[0]
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.retryInterval
	policy.MaxElapsedTime = 0

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(b.maxRetries)), ctx)); err != nil { //nolint:gosec // non-negative
		return nil, err
	}
	return vec, nil
}

// checkDimensions enforces a single vector length across every call made
// through this Batcher.
func (b *Batcher) checkDimensions(vec []float32) error {
	got := int64(len(vec))
	if b.dims.CompareAndSwap(0, got) {
		return nil
	}
	if want := b.dims.Load(); got != want {
		return fmt.Errorf("%w: got %d, want %d", rag.ErrDimensionMismatch, got, want)
	}
	return nil
}

// retryable reports whether err is worth another attempt. Cancellation and
// client errors other than 429 are final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
