package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/asksudo-go/internal/chunker"
	"github.com/54b3r/asksudo-go/internal/rag"
)

// fakeEmbedder returns a vector derived from the text length and can be told
// to fail for specific texts.
type fakeEmbedder struct {
	dims int

	mu       sync.Mutex
	calls    int
	failures map[string]error // text -> error returned on every call
	flaky    map[string]int   // text -> number of calls that fail before success

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.calls++
	for _, t := range texts {
		if err, ok := f.failures[t]; ok {
			f.mu.Unlock()
			return nil, err
		}
		if left := f.flaky[t]; left > 0 {
			f.flaky[t] = left - 1
			f.mu.Unlock()
			return nil, &StatusError{Code: 503, Message: "overloaded"}
		}
	}
	f.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, f.dims)
		vec[0] = float32(len(t))
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestBatcher(t *testing.T, emb rag.Embedder, cfg *BatcherConfig) *Batcher {
	t.Helper()
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Millisecond
	}
	b, err := NewBatcher(emb, cfg)
	require.NoError(t, err)
	return b
}

func makeChunks(n int) []chunker.Chunk {
	chunks := make([]chunker.Chunk, n)
	for i := range chunks {
		chunks[i] = chunker.Chunk{Text: strings.Repeat("x", i+1), Ordinal: i}
	}
	return chunks
}

func TestNewBatcher_NilEmbedder(t *testing.T) {
	t.Parallel()

	_, err := NewBatcher(nil, nil)
	require.Error(t, err)
}

func TestBatcher_EmbedChunks_PreservesOrderAndIdentity(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{dims: 4}
	b := newTestBatcher(t, emb, &BatcherConfig{Dimensions: 4})

	chunks := makeChunks(25)
	out, err := b.EmbedChunks(t.Context(), "doc-1", "owner-1", chunks)
	require.NoError(t, err)
	require.Len(t, out, 25)

	for i, ec := range out {
		assert.Equal(t, i, ec.Ordinal)
		assert.Equal(t, chunks[i].Text, ec.Text)
		assert.Equal(t, "doc-1", ec.DocumentID)
		assert.Equal(t, "owner-1", ec.OwnerID)
		assert.Equal(t, float32(i+1), ec.Vector[0], "vector belongs to its own chunk")
		assert.Equal(t, fmt.Sprintf("doc-1-chunk-%d", i), ec.ID())
	}
	assert.Equal(t, 25, emb.callCount(), "one call per chunk")
}

func TestBatcher_BoundsConcurrencyToBatchSize(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{dims: 2, delay: 5 * time.Millisecond}
	b := newTestBatcher(t, emb, &BatcherConfig{BatchSize: 10})

	_, err := b.EmbedChunks(t.Context(), "doc", "owner", makeChunks(35))
	require.NoError(t, err)

	assert.LessOrEqual(t, int(emb.maxInFlight.Load()), 10)
	assert.Greater(t, int(emb.maxInFlight.Load()), 1, "items inside a group run concurrently")
}

func TestBatcher_SingleFailureFailsWholeCall(t *testing.T) {
	t.Parallel()

	chunks := makeChunks(10)
	emb := &fakeEmbedder{
		dims:     3,
		failures: map[string]error{chunks[7].Text: &StatusError{Code: 400, Message: "bad input"}},
	}
	b := newTestBatcher(t, emb, &BatcherConfig{})

	out, err := b.EmbedChunks(t.Context(), "doc", "owner", chunks)
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, rag.ErrEmbedding)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 400, se.Code)
}

func TestBatcher_LaterGroupsNotStartedAfterFailure(t *testing.T) {
	t.Parallel()

	chunks := makeChunks(30)
	emb := &fakeEmbedder{
		dims:     3,
		failures: map[string]error{chunks[2].Text: errors.New("boom")},
	}
	b := newTestBatcher(t, emb, &BatcherConfig{BatchSize: 10, MaxRetries: 0})

	_, err := b.EmbedChunks(t.Context(), "doc", "owner", chunks)
	require.Error(t, err)
	assert.LessOrEqual(t, emb.callCount(), 10, "only the first group ran")
}

func TestBatcher_RetriesTemporaryFailures(t *testing.T) {
	t.Parallel()

	chunks := makeChunks(3)
	emb := &fakeEmbedder{dims: 3, flaky: map[string]int{chunks[1].Text: 2}}
	b := newTestBatcher(t, emb, &BatcherConfig{MaxRetries: 2})

	out, err := b.EmbedChunks(t.Context(), "doc", "owner", chunks)
	require.NoError(t, err)
	assert.Len(t, out, 3)
	assert.Equal(t, 5, emb.callCount())
}

func TestBatcher_ZeroMaxRetriesIsSingleAttempt(t *testing.T) {
	t.Parallel()

	chunks := makeChunks(1)
	emb := &fakeEmbedder{dims: 3, flaky: map[string]int{chunks[0].Text: 1}}
	b := newTestBatcher(t, emb, &BatcherConfig{MaxRetries: 0})

	_, err := b.EmbedChunks(t.Context(), "doc", "owner", chunks)
	require.ErrorIs(t, err, rag.ErrEmbedding)
	assert.Equal(t, 1, emb.callCount())
}

func TestNewBatcher_MaxRetriesDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  *BatcherConfig
		want int
	}{
		{"nil config", nil, DefaultMaxRetries},
		{"negative", &BatcherConfig{MaxRetries: -1}, DefaultMaxRetries},
		{"zero", &BatcherConfig{MaxRetries: 0}, 0},
		{"explicit", &BatcherConfig{MaxRetries: 5}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := NewBatcher(&fakeEmbedder{dims: 3}, tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.maxRetries)
		})
	}
}

func TestBatcher_RetriesExhausted(t *testing.T) {
	t.Parallel()

	chunks := makeChunks(2)
	emb := &fakeEmbedder{dims: 3, flaky: map[string]int{chunks[0].Text: 5}}
	b := newTestBatcher(t, emb, &BatcherConfig{MaxRetries: 1})

	_, err := b.EmbedChunks(t.Context(), "doc", "owner", chunks)
	require.ErrorIs(t, err, rag.ErrEmbedding)
}

func TestBatcher_DimensionMismatchConfigured(t *testing.T) {
	t.Parallel()

	b := newTestBatcher(t, &fakeEmbedder{dims: 3}, &BatcherConfig{Dimensions: 768})

	_, err := b.EmbedChunks(t.Context(), "doc", "owner", makeChunks(1))
	require.ErrorIs(t, err, rag.ErrDimensionMismatch)
	assert.ErrorIs(t, err, rag.ErrEmbedding)
}

func TestBatcher_DimensionLearnedFromFirstVector(t *testing.T) {
	t.Parallel()

	first := &fakeEmbedder{dims: 8}
	b := newTestBatcher(t, first, &BatcherConfig{})

	_, err := b.EmbedChunks(t.Context(), "doc", "owner", makeChunks(2))
	require.NoError(t, err)
	assert.Equal(t, 8, b.Dimensions())

	// Swap in a backend with a different size: every later call must fail.
	b.embedder = &fakeEmbedder{dims: 16}
	_, err = b.Embed(t.Context(), []string{"query"})
	require.ErrorIs(t, err, rag.ErrDimensionMismatch)
}

func TestBatcher_EmptyInput(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{dims: 2}
	b := newTestBatcher(t, emb, &BatcherConfig{})

	out, err := b.EmbedChunks(t.Context(), "doc", "owner", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, emb.callCount())
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"throttled", &StatusError{Code: 429}, true},
		{"server error", fmt.Errorf("wrapped: %w", &StatusError{Code: 502}), true},
		{"bad request", &StatusError{Code: 400}, false},
		{"unauthorized", &StatusError{Code: 401}, false},
		{"cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), false},
		{"network", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, retryable(tt.err))
		})
	}
}
