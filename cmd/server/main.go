package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Priya8975/channel-ingest/internal/api"
	"github.com/Priya8975/channel-ingest/internal/app"
	"github.com/Priya8975/channel-ingest/internal/config"
	"github.com/Priya8975/channel-ingest/internal/feed"
	"github.com/Priya8975/channel-ingest/internal/hub"
	"github.com/Priya8975/channel-ingest/internal/ingest"
	"github.com/Priya8975/channel-ingest/internal/reconciler"
	"github.com/Priya8975/channel-ingest/internal/registry"
	"github.com/Priya8975/channel-ingest/internal/scheduler"
	"github.com/Priya8975/channel-ingest/internal/webhook"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if config.IsHelp(err) {
			os.Exit(0)
		}
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	channels, err := config.LoadChannels(cfg.ChannelsFile)
	if err != nil {
		logger.Error("failed to load channels", "error", err, "path", cfg.ChannelsFile)
		os.Exit(1)
	}
	logger.Info("channels loaded", "count", len(channels))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline, err := app.NewPipeline(ctx, cfg, channels, logger)
	if err != nil {
		logger.Error("failed to build ingest pipeline", "error", err)
		os.Exit(1)
	}

	// Live event hub
	eventsCtx, stopEvents := context.WithCancel(ctx)
	go pipeline.Events.Run(eventsCtx)

	// Subscription registry, restored from the last snapshot
	reg := registry.New(registry.Config{
		HubURL:       cfg.HubURL,
		TopicBaseURL: cfg.TopicBaseURL,
	}, pipeline.Store, pipeline.Events, logger)
	if err := reg.Load(ctx); err != nil {
		logger.Error("failed to restore subscriptions", "error", err)
		os.Exit(1)
	}
	for _, ch := range channels {
		if _, err := reg.Register(ctx, ch); err != nil {
			logger.Warn("failed to register channel", "error", err, "channel_id", ch.ID)
		}
	}

	hubClient := hub.NewClient(hub.ClientConfig{
		HubURL:       cfg.HubURL,
		CallbackURL:  cfg.CallbackURL(),
		Secret:       cfg.WebhookSecret,
		LeaseSeconds: cfg.LeaseSeconds,
		Timeout:      cfg.HubTimeout,
	}, logger)

	sched := scheduler.New(reg, hubClient, pipeline.Counters, scheduler.Config{
		Interval:       cfg.SchedulerInterval,
		Margin:         cfg.RenewalMargin,
		Lease:          time.Duration(cfg.LeaseSeconds) * time.Second,
		MaxAttempts:    cfg.RenewalMaxAttempts,
		Concurrency:    cfg.RenewalConcurrency,
		Backoff:        cfg.RenewalBackoff,
		MaxBackoff:     cfg.RenewalMaxBackoff,
		FailedCooldown: cfg.FailedCooldown,
	}, logger)

	// Enrichment workers and the retry dispatcher
	poolCtx, stopPool := context.WithCancel(context.Background())
	defer stopPool()
	pipeline.Pool.Start(poolCtx)

	dispatcher := ingest.NewDispatcher(pipeline.Retries, pipeline.Pool, logger)
	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Start(dispatchCtx)
	}()

	recon := reconciler.New(pipeline.Metadata, pipeline.Limiter, pipeline.Pool, reg, pipeline.Counters, cfg.BackfillInterval, cfg.BackfillLimit, logger)

	router := api.NewRouter(api.Deps{
		Store:      pipeline.Store,
		Verifier:   webhook.NewVerifier(reg, cfg.WebhookSecret, cfg.InsecureSkipSignature, pipeline.Counters, logger),
		Parser:     feed.NewParser(reg.Tracked),
		Queue:      pipeline.Pool,
		Retries:    pipeline.Retries,
		Registry:   reg,
		Scheduler:  sched,
		Reconciler: recon,
		Upstream:   pipeline.Limiter,
		Counters:   pipeline.Counters,
		Events:     pipeline.Events,
		Logger:     logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port, "callback_url", cfg.CallbackURL())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Background loops start once the callback can answer handshakes.
	sched.Start(ctx)
	recon.Start(ctx)

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	sched.Stop()
	recon.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	stopDispatch()
	<-dispatchDone

	pipeline.Pool.Stop()
	stopEvents()

	if err := reg.Close(shutdownCtx); err != nil {
		logger.Error("failed to snapshot subscriptions", "error", err)
	}
	pipeline.Close()

	logger.Info("server stopped")
}
