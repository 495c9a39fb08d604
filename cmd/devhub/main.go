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

	"github.com/Priya8975/channel-ingest/internal/devhub"
	"github.com/jessevdk/go-flags"
)

type options struct {
	Port          string `long:"port" env:"PORT" default:"9090" description:"Listen port"`
	FailSubscribe int    `long:"fail-subscribe" env:"FAIL_SUBSCRIBE" default:"0" description:"Answer the first N subscribe requests with 503"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	hub := devhub.New(opts.FailSubscribe, logger)

	server := &http.Server{
		Addr:         ":" + opts.Port,
		Handler:      hub.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("dev hub starting", "port", opts.Port)
		logger.Info("  POST /subscribe        -> WebSub subscribe/unsubscribe, verified async")
		logger.Info("  POST /publish          -> push ?channel_id=&video_id=&title= to subscribers")
		logger.Info("  GET  /subscriptions    -> verified subscriptions")
		logger.Info("  GET  /stats            -> request counters")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	hub.Wait()
}
