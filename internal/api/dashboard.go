package api

import (
	"context"
	"net/http"

	"github.com/Priya8975/channel-ingest/internal/engine"
	"github.com/Priya8975/channel-ingest/internal/ingest"
	"github.com/Priya8975/channel-ingest/internal/metrics"
	"github.com/Priya8975/channel-ingest/internal/store"
)

// StatsStore aggregates persisted ingest statistics.
type StatsStore interface {
	GetIngestStats(ctx context.Context) (*store.IngestStats, error)
}

// UpstreamStatus reports the metadata limiter.
type UpstreamStatus interface {
	InFlight() int64
	BreakerState(ctx context.Context) engine.CircuitBreakerState
}

// ClientCounter reports connected live-event clients.
type ClientCounter interface {
	ClientCount() int
}

type DashboardHandler struct {
	stats    StatsStore
	queue    Queue
	retries  ingest.RetryQueue
	upstream UpstreamStatus
	registry Subscriptions
	counters *metrics.Counters
	clients  ClientCounter
}

func NewDashboardHandler(stats StatsStore, queue Queue, retries ingest.RetryQueue, upstream UpstreamStatus, registry Subscriptions, counters *metrics.Counters, clients ClientCounter) *DashboardHandler {
	return &DashboardHandler{
		stats:    stats,
		queue:    queue,
		retries:  retries,
		upstream: upstream,
		registry: registry,
		counters: counters,
		clients:  clients,
	}
}

type metricsResponse struct {
	store.IngestStats
	Counters           map[string]int64           `json:"counters"`
	QueueDepth         int                        `json:"queue_depth"`
	QueueCapacity      int                        `json:"queue_capacity"`
	RetryQueueDepth    int64                      `json:"retry_queue_depth"`
	UpstreamInFlight   int64                      `json:"upstream_in_flight"`
	CircuitBreaker     engine.CircuitBreakerState `json:"circuit_breaker"`
	SubscriptionStates map[string]int             `json:"subscription_states"`
	FailedTotal        int64                      `json:"subscriptions_failed_total"`
	WebSocketClients   int                        `json:"websocket_clients"`
}

// Metrics returns aggregated ingest metrics.
func (h *DashboardHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.GetIngestStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get metrics")
		return
	}

	retryDepth, err := h.retries.Len(r.Context())
	if err != nil {
		retryDepth = 0
	}

	states := make(map[string]int)
	for _, sub := range h.registry.List() {
		states[string(sub.State)]++
	}

	respondJSON(w, http.StatusOK, metricsResponse{
		IngestStats:        *stats,
		Counters:           h.counters.Snapshot(),
		QueueDepth:         h.queue.Len(),
		QueueCapacity:      h.queue.Cap(),
		RetryQueueDepth:    retryDepth,
		UpstreamInFlight:   h.upstream.InFlight(),
		CircuitBreaker:     h.upstream.BreakerState(r.Context()),
		SubscriptionStates: states,
		FailedTotal:        h.registry.FailedTotal(),
		WebSocketClients:   h.clients.ClientCount(),
	})
}
