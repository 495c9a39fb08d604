package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Priya8975/channel-ingest/internal/app"
	"github.com/Priya8975/channel-ingest/internal/config"
	"github.com/Priya8975/channel-ingest/internal/domain"
	"github.com/Priya8975/channel-ingest/internal/reconciler"
	"github.com/jessevdk/go-flags"
)

type options struct {
	config.Config

	Channel string `long:"channel" description:"Channel id to backfill (default: every channel in the channels file)"`
	Limit   int    `long:"limit" default:"50" description:"Most recent uploads to ingest per channel"`

	DrainTimeout time.Duration `long:"drain-timeout" default:"10m" description:"How long to wait for pending retries before exiting"`
}

func main() {
	var opts options
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		if config.IsHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: opts.SlogLevel()}))
	if err := opts.ValidatePipeline(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	channels, err := config.LoadChannels(opts.ChannelsFile)
	if err != nil && opts.Channel == "" {
		logger.Error("failed to load channels", "error", err, "path", opts.ChannelsFile)
		os.Exit(1)
	}
	targets := channels
	if opts.Channel != "" {
		targets = []domain.ChannelConfig{{ID: opts.Channel}}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := app.NewPipeline(ctx, &opts.Config, channels, logger)
	if err != nil {
		logger.Error("failed to build ingest pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	pipeline.Pool.Start(context.Background())

	recon := reconciler.New(pipeline.Metadata, pipeline.Limiter, pipeline.Pool, nil, pipeline.Counters, 0, opts.Limit, logger)

	summaries := make([]reconciler.Summary, 0, len(targets))
	failed := false
	for _, ch := range targets {
		summary, err := recon.Backfill(ctx, ch.ID, opts.Limit)
		if err != nil {
			logger.Error("backfill failed", "error", err, "channel_id", ch.ID)
			failed = true
		}
		summaries = append(summaries, summary)
		if ctx.Err() != nil {
			break
		}
	}

	abandoned, err := pipeline.Finish(ctx, opts.DrainTimeout)
	if err != nil {
		logger.Error("failed to dead-letter pending retries", "error", err)
		failed = true
	}
	if abandoned > 0 {
		logger.Warn("pending retries dead-lettered", "count", abandoned)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(summaries)

	if failed {
		pipeline.Close()
		os.Exit(1)
	}
}
