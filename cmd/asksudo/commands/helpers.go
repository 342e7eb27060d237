package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/54b3r/asksudo-go/internal/audit"
	"github.com/54b3r/asksudo-go/internal/chunker"
	"github.com/54b3r/asksudo-go/internal/embedder"
	"github.com/54b3r/asksudo-go/internal/extract"
	"github.com/54b3r/asksudo-go/internal/ingestion"
	"github.com/54b3r/asksudo-go/internal/ledger"
	"github.com/54b3r/asksudo-go/internal/lock"
	"github.com/54b3r/asksudo-go/internal/rag"
	"github.com/54b3r/asksudo-go/internal/server"
)

// app holds every component built from the environment. Commands build one
// with newApp and defer Close.
type app struct {
	log *slog.Logger

	// registry collects ingestion metrics and, under serve, HTTP metrics.
	registry *prometheus.Registry

	ledger *ledger.SQLStore
	index  rag.VectorIndex
	// qdrant is the same index as index when INDEX_BACKEND=qdrant, nil otherwise.
	qdrant *rag.QdrantIndex

	// backend is the raw provider client; embedder wraps it with batching,
	// retries, and dimension checks.
	backend  rag.Embedder
	embedder *embedder.Batcher

	locker lock.Locker
	// redisLock is set when REDIS_URL is configured.
	redisLock *lock.Redis

	orchestrator *ingestion.Orchestrator
	retriever    *rag.Retriever

	closers []func() error
}

// appOptions selects the optional parts of an app.
type appOptions struct {
	// allowLocalFiles lets the fetcher read file:// URLs and bare paths.
	allowLocalFiles bool
}

// newApp wires the ledger, vector index, embedder, locker, orchestrator, and
// retriever from environment variables (already merged with YAML and .env).
func newApp(ctx context.Context, log *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if a.ledger, err = openLedger(ctx, log); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.ledger.Close)

	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	backendName := embedder.Backend()
	if a.backend, err = embedder.NewFromEnv(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	dims := embedder.DefaultDimensions(backendName)
	a.embedder, err = embedder.NewBatcher(a.backend, &embedder.BatcherConfig{
		BatchSize:  getEnvInt("EMBED_BATCH_SIZE", embedder.DefaultBatchSize),
		Dimensions: dims,
		MaxRetries: getEnvInt("EMBEDDING_MAX_RETRIES", embedder.DefaultMaxRetries),
	})
	if err != nil {
		return nil, err
	}
	log.Info("embedder initialised",
		slog.String("provider", backendName),
		slog.Int("dimensions", dims),
	)

	if err := a.openIndex(ctx, dims); err != nil {
		return nil, err
	}

	if err := a.openLocker(ctx); err != nil {
		return nil, err
	}

	extractor := &extract.Detect{Text: extract.Plain{}}
	pdf, pdfErr := extract.NewPDFToText(getEnvOrDefault("PDFTOTEXT_PATH", extract.DefaultPDFToText))
	if pdfErr != nil {
		log.Warn("pdftotext unavailable, PDF documents will fail extraction", slog.Any("error", pdfErr))
	} else {
		extractor.PDF = pdf
	}

	a.orchestrator, err = ingestion.NewOrchestrator(ingestion.Deps{
		Ledger: a.ledger,
		Fetcher: ingestion.NewHTTPFetcher(&ingestion.FetcherConfig{
			Timeout:         getEnvDuration("FETCH_TIMEOUT", 60*time.Second),
			MaxBytes:        getEnvInt64("FETCH_MAX_BYTES", ingestion.DefaultFetchMaxBytes),
			AllowLocalFiles: opts.allowLocalFiles,
		}),
		Extractor: extractor,
		Embedder:  a.embedder,
		Index:     a.index,
		Locker:    a.locker,
		Metrics:   ingestion.NewMetrics(a.registry),
	}, &ingestion.Config{
		ChunkSize:    getEnvInt("CHUNK_SIZE", chunker.DefaultSize),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", chunker.DefaultOverlap),
		Timeout:      getEnvDuration("INGEST_TIMEOUT", 10*time.Minute),
	})
	if err != nil {
		return nil, err
	}

	// Queries go through the same Batcher so their vectors are checked
	// against the dimension the index was built with.
	a.retriever, err = rag.NewRetriever(a.embedder, a.index, getEnvInt("RETRIEVE_TOP_K", rag.DefaultTopK))
	if err != nil {
		return nil, err
	}

	return a, nil
}

// openIndex connects the vector index selected by INDEX_BACKEND.
func (a *app) openIndex(ctx context.Context, dims int) error {
	switch backend := getEnvOrDefault("INDEX_BACKEND", "qdrant"); backend {
	case "memory":
		a.index = rag.NewMemoryIndex(dims)
		a.log.Warn("using the in-memory vector index, vectors are lost on exit")
	case "qdrant":
		cfg := &rag.QdrantConfig{
			Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "asksudo"),
			VectorSize: uint64(dims), //nolint:gosec // dimensions are bounded
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     getEnvBool("QDRANT_TLS"),
			BatchSize:  getEnvInt("UPSERT_BATCH_SIZE", rag.DefaultUpsertBatchSize),
		}
		idx, err := rag.NewQdrantIndex(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
		}
		a.index, a.qdrant = idx, idx
		a.log.Info("qdrant index ready",
			slog.String("host", cfg.Host),
			slog.Int("port", cfg.Port),
			slog.String("collection", cfg.Collection),
		)
	default:
		return fmt.Errorf("unknown INDEX_BACKEND %q, valid values: qdrant, memory", backend)
	}
	a.closers = append(a.closers, a.index.Close)
	return nil
}

// openLocker uses Redis when REDIS_URL is set and an in-process locker
// otherwise.
func (a *app) openLocker(ctx context.Context) error {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		a.locker = lock.NewKeyed()
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, client.Close)

	a.redisLock = lock.NewRedis(client, lock.RedisConfig{
		TTL:    getEnvDuration("LOCK_TTL", lock.DefaultTTL),
		Logger: a.log,
	})
	if err := a.redisLock.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach Redis at %s: %w", opts.Addr, err)
	}
	a.locker = a.redisLock
	a.log.Info("redis document locks enabled", slog.String("addr", opts.Addr))
	return nil
}

// pingers returns the readiness probes for the configured dependencies.
func (a *app) pingers() []server.Pinger {
	pingers := []server.Pinger{server.NewConnPinger("ledger", a.ledger)}
	if a.qdrant != nil {
		pingers = append(pingers, server.NewHealthCheckPinger("qdrant", a.qdrant))
	}
	if a.redisLock != nil {
		pingers = append(pingers, server.NewConnPinger("redis", a.redisLock))
	}
	if hc, ok := a.backend.(embedder.HealthChecker); ok {
		pingers = append(pingers, server.NewHealthCheckPinger("embedder", hc))
	}
	return pingers
}

// Close releases every opened component in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", slog.Any("error", err))
		}
	}
	a.closers = nil
}

// openLedger opens LEDGER_DSN, or ~/.asksudo/ledger.db when unset.
func openLedger(ctx context.Context, log *slog.Logger) (*ledger.SQLStore, error) {
	dsn := os.Getenv("LEDGER_DSN")
	if dsn == "" {
		var err error
		if dsn, err = ledger.DefaultDBPath(); err != nil {
			return nil, err
		}
	}
	store, err := ledger.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	log.Debug("ledger opened", slog.String("dsn", audit.SanitiseKey("LEDGER_DSN", dsn)))
	return store, nil
}

// errFailed marks a command that already reported its failure on stdout.
var errFailed = errors.New("failed")

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvInt64 is getEnvInt for byte counts.
func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration parses a Go duration string ("90s", "2m"). A bare integer
// is read as seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
