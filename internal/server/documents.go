package server

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/54b3r/asksudo-go/internal/ingestion"
	"github.com/54b3r/asksudo-go/internal/ledger"
	"github.com/54b3r/asksudo-go/internal/logging"
	"github.com/54b3r/asksudo-go/internal/rag"
)

// handleCreateDocument handles POST /api/documents. It registers the
// document at pending and starts its ingestion: synchronously when the body
// sets "wait", otherwise in the background with a 202 response.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req createDocumentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "ownerId is required")
		return
	}
	if !isHTTPURL(req.SourceURL) {
		writeError(w, http.StatusBadRequest, "sourceUrl must be an http or https URL")
		return
	}

	meta := ingestion.InferMetadata(req.SourceURL)
	if req.FileName == "" {
		req.FileName = meta.FileName
	}
	if req.MimeType == "" {
		req.MimeType = meta.MimeType
	}

	doc, err := s.docs.Create(r.Context(), &ledger.Document{
		ID:        req.ID,
		OwnerID:   req.OwnerID,
		SourceURL: req.SourceURL,
		FileName:  req.FileName,
		MimeType:  req.MimeType,
		FileSize:  req.FileSize,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDocumentExists) {
			writeError(w, http.StatusConflict, "document already exists")
			return
		}
		log.Error("create document failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not register document")
		return
	}

	log.Info("document registered",
		slog.String("document_id", doc.ID),
		slog.String("owner_id", doc.OwnerID),
		slog.String("file_name", doc.FileName),
	)
	s.dispatch(w, r, doc, "", req.Wait, http.StatusCreated)
}

// handleIngestDocument handles POST /api/documents/{id}/ingest, which
// re-runs ingestion for an existing document.
func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = r.URL.Query().Get("ownerId")
	}
	if req.SourceURL != "" && !isHTTPURL(req.SourceURL) {
		writeError(w, http.StatusBadRequest, "sourceUrl must be an http or https URL")
		return
	}

	doc, ok := s.ownedDocument(w, r, chi.URLParam(r, "id"), req.OwnerID)
	if !ok {
		return
	}
	s.dispatch(w, r, doc, req.SourceURL, req.Wait, http.StatusOK)
}

// handleGetDocument handles GET /api/documents/{id}?ownerId=.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r, chi.URLParam(r, "id"), r.URL.Query().Get("ownerId"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{Document: doc})
}

// handleListDocuments handles GET /api/documents?ownerId=.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.URL.Query().Get("ownerId"))
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "ownerId is required")
		return
	}

	docs, err := s.docs.ListByOwner(r.Context(), ownerID)
	if err != nil {
		logging.FromContext(r.Context()).Error("list documents failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "could not list documents")
		return
	}
	if docs == nil {
		docs = []*ledger.Document{}
	}
	writeJSON(w, http.StatusOK, listDocumentsResponse{Documents: docs})
}

// ownedDocument loads id and checks it belongs to ownerID. Another owner's
// document is reported as not found. On failure the response is written and
// ok is false.
func (s *Server) ownedDocument(w http.ResponseWriter, r *http.Request, id, ownerID string) (*ledger.Document, bool) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "ownerId is required")
		return nil, false
	}

	doc, err := s.docs.Get(r.Context(), id)
	switch {
	case errors.Is(err, rag.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, "document not found")
		return nil, false
	case err != nil:
		logging.FromContext(r.Context()).Error("get document failed",
			slog.String("document_id", id),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "could not load document")
		return nil, false
	case doc.OwnerID != ownerID:
		writeError(w, http.StatusNotFound, "document not found")
		return nil, false
	}
	return doc, true
}

// dispatch runs the ingestion of doc. With wait it responds with the result
// and the refreshed ledger row (okStatus on success, 422 on failure).
// Without wait it starts a background attempt and responds 202.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, doc *ledger.Document, sourceURL string, wait bool, okStatus int) {
	if !wait {
		s.ingestInBackground(r, doc, sourceURL)
		writeJSON(w, http.StatusAccepted, documentResponse{Document: doc})
		return
	}

	res := s.ingester.Ingest(r.Context(), doc.ID, sourceURL, doc.OwnerID)

	// The row changed during the attempt; a stale copy is still a valid
	// response when the re-read fails.
	if fresh, err := s.docs.Get(r.Context(), doc.ID); err == nil {
		doc = fresh
	}

	status := okStatus
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, documentResponse{Document: doc, Result: &res})
}

// ingestInBackground starts an attempt that outlives the request. It keeps
// the request's logger but not its cancellation; shutdown drains it.
func (s *Server) ingestInBackground(r *http.Request, doc *ledger.Document, sourceURL string) {
	// The orchestrator adds document_id itself.
	ctx := logging.Carry(s.bgCtx, r.Context())
	log := logging.FromContext(ctx).With(slog.String("document_id", doc.ID))

	s.background.Add(1)
	s.metrics.backgroundIngestions.Inc()
	go func() {
		defer s.background.Done()
		defer s.metrics.backgroundIngestions.Dec()

		res := s.ingester.Ingest(ctx, doc.ID, sourceURL, doc.OwnerID)
		log.Info("background ingestion finished",
			slog.Bool("success", res.Success),
			slog.Int("chunks", res.ChunksProcessed),
		)
	}()
}

// isHTTPURL reports whether raw is an absolute http(s) URL with a host.
func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
