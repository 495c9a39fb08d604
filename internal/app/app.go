// Package app wires the ingest pipeline shared by the server and the
// backfill command.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/channel-ingest/internal/config"
	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/Priya8975/channel-ingest/internal/engine"
	"github.com/Priya8975/channel-ingest/internal/ingest"
	"github.com/Priya8975/channel-ingest/internal/metadata"
	"github.com/Priya8975/channel-ingest/internal/metrics"
	"github.com/Priya8975/channel-ingest/internal/store"
	ws "github.com/Priya8975/channel-ingest/internal/websocket"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// Pipeline is everything between a stub and the canonical store.
type Pipeline struct {
	Store    store.Store
	Redis    *store.RedisStore
	Retries  ingest.RetryQueue
	Limiter  *engine.Limiter
	Metadata *metadata.YouTube
	Enricher *ingest.Enricher
	Pool     *ingest.Pool
	Counters *metrics.Counters
	Events   *ws.Hub

	logger *slog.Logger
}

// NewPipeline connects the stores and builds the enrichment path. The pool is
// returned unstarted.
func NewPipeline(ctx context.Context, cfg *config.Config, channels []domain.ChannelConfig, logger *slog.Logger) (*Pipeline, error) {
	st, err := store.Open(ctx, cfg.StoreBackend, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		Store:    st,
		Counters: metrics.New(),
		Events:   ws.NewHub(logger),
		logger:   logger,
	}

	limiterCfg := engine.LimiterConfig{
		Upstream:      "youtube",
		Concurrency:   cfg.MetadataConcurrency,
		RatePerSecond: cfg.MetadataRatePerSecond,
		Burst:         cfg.MetadataBurst,
	}

	if cfg.RedisURL != "" {
		rdb, err := store.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		logger.Info("connected to Redis")
		p.Redis = rdb
		p.Retries = ingest.NewRedisRetryQueue(rdb.Client(), logger)
		limiterCfg.Breaker = engine.NewCircuitBreaker(rdb.Client(), breakerThreshold, breakerCooldown, logger)
		if cfg.MetadataQuotaPerSecond > 0 {
			limiterCfg.Quota = engine.NewQuotaWindow(rdb.Client(), "youtube", cfg.MetadataQuotaPerSecond, time.Second, logger)
		}
	} else {
		logger.Warn("REDIS_URL not set, retry queue is in-memory and quota is per process")
		p.Retries = ingest.NewMemoryRetryQueue()
	}

	names := make(map[string]string, len(channels))
	for _, ch := range channels {
		if ch.Name != "" {
			names[ch.ID] = ch.Name
		}
	}

	p.Limiter = engine.NewLimiter(limiterCfg, logger)
	p.Metadata, err = metadata.NewYouTube(ctx, cfg.MetadataBaseURL, cfg.YouTubeAPIKey, cfg.MetadataTimeout, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.Enricher = ingest.NewEnricher(p.Metadata, p.Limiter, st, p.Retries, p.Counters, p.Events, ingest.EnricherConfig{
		MaxAttempts:  cfg.EnrichMaxAttempts,
		Backoff:      cfg.EnrichBackoff,
		MaxBackoff:   cfg.EnrichMaxBackoff,
		FetchTimeout: cfg.MetadataTimeout,
		ChannelNames: names,
	}, logger)
	p.Pool = ingest.NewPool(cfg.NumWorkers, cfg.QueueCapacity, p.Enricher, logger)
	return p, nil
}

// Finish waits up to timeout for pending retries to be enriched, then stops
// the pool. Retries still pending stay in Redis for the server to pick up; an
// in-memory queue is dead-lettered instead and the count returned.
func (p *Pipeline) Finish(ctx context.Context, timeout time.Duration) (int, error) {
	drainCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	drainErr := ingest.NewDispatcher(p.Retries, p.Pool, p.logger).Drain(drainCtx)
	p.Pool.Stop()
	if drainErr == nil {
		return 0, nil
	}

	pending, _ := p.Retries.Len(context.WithoutCancel(ctx))
	if p.Redis != nil {
		p.logger.Warn("retries left for the server dispatcher", "pending", pending, "error", drainErr)
		return 0, nil
	}
	p.logger.Warn("dead-lettering retries still pending at exit", "pending", pending, "error", drainErr)
	return p.Enricher.Abandon(context.WithoutCancel(ctx), ingest.ErrRetriesAbandoned)
}

// Close releases the stores. The pool must already be stopped.
func (p *Pipeline) Close() {
	if p.Redis != nil {
		p.Redis.Close()
	}
	p.Store.Close()
}
