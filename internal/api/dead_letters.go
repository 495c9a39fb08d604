package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/Priya8975/channel-ingest/internal/ingest"
	"github.com/Priya8975/channel-ingest/internal/store"
	"github.com/go-chi/chi/v5"
)

type DeadLetterHandler struct {
	store  store.DeadLetterStore
	queue  Queue
	logger *slog.Logger
}

func NewDeadLetterHandler(s store.DeadLetterStore, queue Queue, logger *slog.Logger) *DeadLetterHandler {
	return &DeadLetterHandler{store: s, queue: queue, logger: logger}
}

func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	channelID := r.URL.Query().Get("channel_id")
	resolved := r.URL.Query().Get("resolved") == "true"
	limit := queryInt(r, "limit", 50)

	letters, err := h.store.ListDeadLetters(r.Context(), channelID, resolved, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	if letters == nil {
		letters = []domain.DeadLetter{}
	}

	respondJSON(w, http.StatusOK, letters)
}

func (h *DeadLetterHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	letter, err := h.store.GetDeadLetter(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get dead letter")
		return
	}
	if letter == nil {
		respondError(w, http.StatusNotFound, "dead letter not found")
		return
	}

	respondJSON(w, http.StatusOK, letter)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

func (h *DeadLetterHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.ResolvedBy == "" {
		req.ResolvedBy = "manual"
	}

	if err := h.store.ResolveDeadLetter(r.Context(), id, req.ResolvedBy); err != nil {
		respondError(w, http.StatusNotFound, "dead letter not found or already resolved")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// Replay puts a dead-lettered video back on the ingest queue with a fresh
// attempt budget and resolves the dead letter.
func (h *DeadLetterHandler) Replay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	letter, err := h.store.GetDeadLetter(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get dead letter")
		return
	}
	if letter == nil {
		respondError(w, http.StatusNotFound, "dead letter not found")
		return
	}
	if letter.ResolvedAt != nil {
		respondError(w, http.StatusConflict, "dead letter already resolved")
		return
	}

	stub := domain.ItemStub{
		VideoID:   letter.VideoID,
		ChannelID: letter.ChannelID,
		Origin:    letter.Origin,
	}
	if err := h.queue.TrySubmit(ingest.Job{Stub: stub}); err != nil {
		w.Header().Set("Retry-After", "5")
		respondError(w, http.StatusServiceUnavailable, "ingest queue full")
		return
	}

	if err := h.store.ResolveDeadLetter(r.Context(), id, "replay"); err != nil {
		h.logger.Warn("replayed dead letter could not be resolved", "error", err, "dead_letter_id", id)
	}
	h.logger.Info("dead letter replayed", "dead_letter_id", id, "video_id", letter.VideoID)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "replayed"})
}
