package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/Priya8975/channel-ingest/internal/feed"
	"github.com/Priya8975/channel-ingest/internal/ingest"
	"github.com/Priya8975/channel-ingest/internal/metrics"
	"github.com/Priya8975/channel-ingest/internal/webhook"
	"github.com/google/uuid"
)

const maxPushBody = 1 << 20

// PushIDHeader carries the id assigned to each received push.
const PushIDHeader = "X-Push-Id"

// PushVerifier answers hub handshakes and authenticates pushes.
type PushVerifier interface {
	Handshake(ctx context.Context, h webhook.Handshake) (string, error)
	VerifyPush(body []byte, signature string) error
}

type FeedParser interface {
	Parse(body []byte) (feed.Result, error)
}

// Queue is the bounded ingest queue.
type Queue interface {
	TrySubmit(job ingest.Job) error
	Len() int
	Cap() int
}

// WebhookHandler is the hub callback endpoint.
type WebhookHandler struct {
	verifier   PushVerifier
	parser     FeedParser
	queue      Queue
	counters   *metrics.Counters
	retryAfter time.Duration
	logger     *slog.Logger
}

func NewWebhookHandler(verifier PushVerifier, parser FeedParser, queue Queue, counters *metrics.Counters, retryAfter time.Duration, logger *slog.Logger) *WebhookHandler {
	if retryAfter <= 0 {
		retryAfter = 5 * time.Second
	}
	return &WebhookHandler{
		verifier:   verifier,
		parser:     parser,
		queue:      queue,
		counters:   counters,
		retryAfter: retryAfter,
		logger:     logger,
	}
}

// Verify answers the hub's GET handshake by echoing hub.challenge.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, err := h.verifier.Handshake(r.Context(), webhook.Handshake{
		Mode:         q.Get("hub.mode"),
		Topic:        q.Get("hub.topic"),
		Challenge:    q.Get("hub.challenge"),
		LeaseSeconds: q.Get("hub.lease_seconds"),
		Reason:       q.Get("hub.reason"),
	})
	switch {
	case errors.Is(err, webhook.ErrMissingParams):
		http.Error(w, "missing hub parameters", http.StatusBadRequest)
		return
	case errors.Is(err, domain.ErrUnknownChannel):
		h.logger.Warn("handshake for unknown topic", "topic", q.Get("hub.topic"), "mode", q.Get("hub.mode"))
		http.Error(w, "unknown topic", http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("handshake failed", "error", err, "topic", q.Get("hub.topic"))
		http.Error(w, "handshake failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// Receive authenticates and parses a push, then hands its stubs to the
// ingest queue. It never waits for enrichment.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	h.counters.PushReceived.Add(1)

	push := domain.PushNotification{
		ID:         uuid.NewString(),
		Signature:  r.Header.Get(webhook.SignatureHeader),
		ReceivedAt: time.Now().UTC(),
	}
	w.Header().Set(PushIDHeader, push.ID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBody))
	if err != nil {
		h.counters.PushMalformed.Add(1)
		respondError(w, http.StatusBadRequest, "could not read body")
		return
	}
	push.Body = body

	if err := h.verifier.VerifyPush(push.Body, push.Signature); err != nil {
		h.counters.PushRejected.Add(1)
		h.logger.Warn("push rejected", "error", err, "push_id", push.ID, "remote_addr", r.RemoteAddr)
		respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	push.Verified = true

	result, err := h.parser.Parse(push.Body)
	if err != nil {
		h.counters.PushMalformed.Add(1)
		h.logger.Warn("malformed push", "error", err, "push_id", push.ID)
		respondError(w, http.StatusBadRequest, "malformed feed")
		return
	}
	h.counters.EntriesDropped.Add(int64(result.Dropped))
	h.counters.EntriesDeleted.Add(int64(len(result.Deleted)))
	for _, id := range result.Deleted {
		h.logger.Info("video deleted upstream", "video_id", id, "push_id", push.ID)
	}

	// Stubs queued before the queue fills stay queued. The hub redelivers the
	// whole batch and the merge absorbs the repeats.
	for _, stub := range result.Stubs {
		if err := h.queue.TrySubmit(ingest.Job{Stub: stub}); err != nil {
			h.counters.QueueFull.Add(1)
			h.logger.Warn("ingest queue full, rejecting push",
				"push_id", push.ID,
				"video_id", stub.VideoID,
				"channel_id", stub.ChannelID,
				"queue_len", h.queue.Len(),
				"error", err,
			)
			w.Header().Set("Retry-After", strconv.Itoa(int(h.retryAfter.Seconds())))
			respondError(w, http.StatusServiceUnavailable, "ingest queue full")
			return
		}
		h.counters.StubsQueued.Add(1)
		h.logger.Info("push queued",
			"push_id", push.ID,
			"video_id", stub.VideoID,
			"channel_id", stub.ChannelID,
		)
	}

	h.counters.PushAccepted.Add(1)
	h.logger.Debug("push accepted",
		"push_id", push.ID,
		"received_at", push.ReceivedAt,
		"verified", push.Verified,
		"stubs", len(result.Stubs),
		"dropped", result.Dropped,
	)
	w.WriteHeader(http.StatusAccepted)
}
