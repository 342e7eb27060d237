// Package server implements the HTTP API that registers documents, runs
// their ingestion, and answers owner-scoped retrieval queries.
// The server is started by the `asksudo serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/asksudo-go/internal/logging"
)

// New constructs a Server from the provided services and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	switch {
	case deps.Documents == nil:
		return nil, fmt.Errorf("server: document store must not be nil")
	case deps.Ingester == nil:
		return nil, fmt.Errorf("server: ingester must not be nil")
	case deps.Searcher == nil:
		return nil, fmt.Errorf("server: searcher must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Long enough for a synchronous ingestion of a large PDF.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	s := &Server{
		docs:     deps.Documents,
		ingester: deps.Ingester,
		searcher: deps.Searcher,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: ASKSUDO_API_KEY is not set, API authentication is disabled")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.metrics.rateLimitedTotal, s.log)
	s.stopRL = stopRL
	s.router = s.routes(rl)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// routes builds the chi route tree. Health, readiness, and metrics stay
// unauthenticated so probes and scrapers work without the API key.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.metrics.middleware)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(apiKeyAuth(s.cfg.APIKey, s.metrics.authFailuresTotal))

		r.Get("/api/documents", s.handleListDocuments)
		r.Get("/api/documents/{id}", s.handleGetDocument)

		r.Group(func(r chi.Router) {
			r.Use(rl.middleware)
			r.Post("/api/documents", s.handleCreateDocument)
			r.Post("/api/documents/{id}/ingest", s.handleIngestDocument)
			r.Post("/api/retrieve", s.handleRetrieve)
		})
	})

	return r
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown that also waits for
// background ingestions.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		s.bgCancel()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		defer s.stopRL()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		if err := s.drain(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// drain waits for background ingestions. When ctx expires first the
// remaining attempts are cancelled; each still records its failure in the
// ledger before returning.
func (s *Server) drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.bgCancel()
		return nil
	case <-ctx.Done():
		s.log.Warn("server: background ingestions still running at shutdown, cancelling")
		s.bgCancel()
		<-done
		return fmt.Errorf("draining background ingestions: %w", ctx.Err())
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an errorResponse.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// maxBodyBytes caps API request bodies.
const maxBodyBytes = 1 << 20

// decodeJSON decodes a request body into v, rejecting unknown fields. An
// empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
