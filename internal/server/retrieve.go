package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/asksudo-go/internal/logging"
	"github.com/54b3r/asksudo-go/internal/prompt"
	"github.com/54b3r/asksudo-go/internal/rag"
)

// Retrieval outcome label values.
const (
	retrievalOK    = "ok"
	retrievalEmpty = "empty"
	retrievalError = "error"
)

// maxTopK bounds the topK a caller may request.
const maxTopK = 50

// retrievalUnavailable is the 502 body. Backend details stay in the log.
const retrievalUnavailable = "retrieval unavailable"

// handleRetrieve handles POST /api/retrieve. Index or embedding failures are
// reported as 502 so the caller can fall back to an ungrounded answer.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req retrieveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "ownerId is required")
		return
	}
	if req.TopK < 0 || req.TopK > maxTopK {
		writeError(w, http.StatusBadRequest, "topK must be between 0 and 50")
		return
	}

	matches, err := s.searcher.Search(r.Context(), req.Query, req.OwnerID, req.TopK)
	if err != nil {
		s.metrics.retrievalRequestsTotal.WithLabelValues(retrievalError).Inc()
		log.Warn("retrieval failed",
			slog.String("owner_id", req.OwnerID),
			slog.Bool("embedding", errors.Is(err, rag.ErrEmbedding)),
			slog.Any("error", err),
		)
		writeError(w, http.StatusBadGateway, retrievalUnavailable)
		return
	}

	resp := retrieveResponse{Passages: make([]passage, 0, len(matches))}
	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Text == "" {
			continue
		}
		resp.Passages = append(resp.Passages, passage{
			ID:         m.ID,
			DocumentID: m.DocumentID,
			Ordinal:    m.Ordinal,
			Text:       m.Text,
			Score:      m.Score,
		})
		texts = append(texts, m.Text)
	}

	if req.WithContext {
		if msg := prompt.ContextMessage(texts, s.cfg.ContextMaxTokens); msg != nil {
			resp.Context = msg.Content
		}
	}

	outcome := retrievalOK
	if len(resp.Passages) == 0 {
		outcome = retrievalEmpty
	}
	s.metrics.retrievalRequestsTotal.WithLabelValues(outcome).Inc()

	log.Debug("retrieval served",
		slog.String("owner_id", req.OwnerID),
		slog.Int("passages", len(resp.Passages)),
	)
	writeJSON(w, http.StatusOK, resp)
}
