package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/willow-notes/willow/internal/api/shared"
	"github.com/willow-notes/willow/internal/pipeline"
	"github.com/willow-notes/willow/internal/store"
)

// DigestHandler serves the per-item digest status view and pipeline
// trigger endpoints.
type DigestHandler struct {
	pipeline *pipeline.Pipeline
	digests  store.DigestStore
	logger   *slog.Logger
}

// NewDigestHandler creates a new DigestHandler.
func NewDigestHandler(p *pipeline.Pipeline, digests store.DigestStore, logger *slog.Logger) *DigestHandler {
	return &DigestHandler{
		pipeline: p,
		digests:  digests,
		logger:   logger.With("component", "digest_handler"),
	}
}

// itemPathParam extracts the wildcard item path from the route.
func itemPathParam(r *http.Request) string {
	return strings.TrimPrefix(chi.URLParam(r, "*"), "/")
}

// GetStatus handles GET /api/digests/*, the per-item status view.
func (h *DigestHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	itemPath := itemPathParam(r)
	if itemPath == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "item path is required")
		return
	}

	status, err := h.pipeline.Status(r.Context(), itemPath)
	if err != nil {
		h.logger.Error("failed to get digest status", "item_path", itemPath, "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "failed to get digest status")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, status)
}

// triggerRequest is the body of a pipeline trigger call.
type triggerRequest struct {
	URL       string `json:"url,omitempty"`
	FromStage string `json:"from_stage,omitempty"`
}

// Trigger handles POST /api/digests/*. It starts (or resumes) the pipeline
// for an item. With from_stage set, the run resumes at that stage using
// earlier stages' persisted digests; otherwise it starts from scratch,
// clearing previous digests.
func (h *DigestHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	itemPath := itemPathParam(r)
	if itemPath == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "item path is required")
		return
	}

	var req triggerRequest
	if r.Body != nil {
		// An empty body means a full restart; decode errors on a present
		// body are client mistakes.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var err error
	if req.FromStage != "" {
		err = h.pipeline.StartFrom(r.Context(), itemPath, req.URL, req.FromStage)
	} else {
		err = h.pipeline.Start(r.Context(), itemPath, req.URL)
	}
	if errors.Is(err, pipeline.ErrUnknownStage) {
		shared.RespondWithError(w, r, http.StatusBadRequest, "unknown pipeline stage")
		return
	}
	if err != nil {
		h.logger.Error("failed to trigger pipeline",
			"item_path", itemPath,
			"from_stage", req.FromStage,
			"error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "failed to trigger pipeline")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, map[string]string{
		"item_path": itemPath,
		"status":    "queued",
	})
}

// GetStats handles GET /api/digests-stats.
func (h *DigestHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.digests.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get digest stats", "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "failed to get digest stats")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}
