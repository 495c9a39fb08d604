package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/Priya8975/channel-ingest/internal/reconciler"
	"github.com/go-chi/chi/v5"
)

// Subscriptions is the channel registry as seen by the ops API.
type Subscriptions interface {
	List() []domain.ChannelSubscription
	Get(channelID string) (domain.ChannelSubscription, bool)
	Register(ctx context.Context, ch domain.ChannelConfig) (domain.ChannelSubscription, error)
	FailedTotal() int64
}

type Unsubscriber interface {
	Unsubscribe(ctx context.Context, channelID string) error
}

type Backfiller interface {
	Backfill(ctx context.Context, channelID string, limit int) (reconciler.Summary, error)
}

type SubscriptionHandler struct {
	registry     Subscriptions
	unsubscriber Unsubscriber
	backfiller   Backfiller
	logger       *slog.Logger
}

func NewSubscriptionHandler(registry Subscriptions, unsubscriber Unsubscriber, backfiller Backfiller, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		registry:     registry,
		unsubscriber: unsubscriber,
		backfiller:   backfiller,
		logger:       logger,
	}
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.registry.List())
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "channel not tracked")
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

type registerRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// Register starts tracking a channel. The scheduler subscribes it on its
// next tick.
func (h *SubscriptionHandler) Register(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.registry.Register(r.Context(), domain.ChannelConfig{ID: id, Name: req.Name, Secret: req.Secret})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info("channel registered", "channel_id", id, "state", sub.State)
	respondJSON(w, http.StatusAccepted, sub)
}

func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.unsubscriber.Unsubscribe(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrUnknownChannel):
		respondError(w, http.StatusNotFound, "channel not tracked")
		return
	case errors.Is(err, domain.ErrInvalidTransition):
		respondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		// The registry already records the channel as unsubscribed.
		h.logger.Warn("hub unsubscribe failed", "error", err, "channel_id", id)
		respondError(w, http.StatusBadGateway, "hub rejected unsubscribe")
		return
	}

	sub, _ := h.registry.Get(id)
	respondJSON(w, http.StatusOK, sub)
}

// Backfill lists and ingests the channel's recent uploads, answering with
// the run's summary.
func (h *SubscriptionHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.registry.Get(id); !ok {
		respondError(w, http.StatusNotFound, "channel not tracked")
		return
	}

	summary, err := h.backfiller.Backfill(r.Context(), id, queryInt(r, "limit", 0))
	if err != nil {
		h.logger.Warn("backfill request failed", "error", err, "channel_id", id)
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrTransient) {
			status = http.StatusServiceUnavailable
		}
		respondJSON(w, status, struct {
			reconciler.Summary
			Error string `json:"error"`
		}{summary, err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
