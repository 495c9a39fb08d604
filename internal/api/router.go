package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/Priya8975/channel-ingest/internal/ingest"
	"github.com/Priya8975/channel-ingest/internal/metrics"
	"github.com/Priya8975/channel-ingest/internal/store"
	ws "github.com/Priya8975/channel-ingest/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Store is what the HTTP layer reads from persistence.
type Store interface {
	store.DeadLetterStore
	StatsStore
}

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Store      Store
	Verifier   PushVerifier
	Parser     FeedParser
	Queue      Queue
	Retries    ingest.RetryQueue
	Registry   Subscriptions
	Scheduler  Unsubscriber
	Reconciler Backfiller
	Upstream   UpstreamStatus
	Counters   *metrics.Counters
	Events     *ws.Hub
	RetryAfter time.Duration
	Logger     *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// Handlers
	webhookHandler := NewWebhookHandler(d.Verifier, d.Parser, d.Queue, d.Counters, d.RetryAfter, d.Logger)
	subHandler := NewSubscriptionHandler(d.Registry, d.Scheduler, d.Reconciler, d.Logger)
	dlqHandler := NewDeadLetterHandler(d.Store, d.Queue, d.Logger)
	dashHandler := NewDashboardHandler(d.Store, d.Queue, d.Retries, d.Upstream, d.Registry, d.Counters, d.Events)

	// Hub callback
	r.Get("/webhook", webhookHandler.Verify)
	r.Post("/webhook", webhookHandler.Receive)

	// WebSocket endpoint
	r.Get("/ws", d.Events.HandleWebSocket)

	// Ops API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(corsMiddleware)

		r.Get("/health", HealthHandler(d.Queue))
		r.Get("/metrics", dashHandler.Metrics)

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", subHandler.List)
			r.Get("/{id}", subHandler.Get)
			r.Post("/{id}/register", subHandler.Register)
			r.Post("/{id}/unsubscribe", subHandler.Unsubscribe)
		})

		r.Post("/backfill/{id}", subHandler.Backfill)

		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", dlqHandler.List)
			r.Get("/{id}", dlqHandler.Get)
			r.Post("/{id}/resolve", dlqHandler.Resolve)
			r.Post("/{id}/replay", dlqHandler.Replay)
		})
	})

	return r
}

// corsMiddleware adds CORS headers for browser-based tooling.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
