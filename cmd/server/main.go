package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/storygest/internal/api"
	"github.com/dgallion1/storygest/internal/config"
	"github.com/dgallion1/storygest/internal/metrics"
	"github.com/dgallion1/storygest/internal/pipeline"
)

func main() {
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stats := metrics.NewRecorder(cfg.StatsWindow)

	// Initialize sessions.
	reg := pipeline.NewRegistry(cfg, pipeline.UpstreamSources(cfg), stats, log)
	reg.Start(ctx)

	// Initialize HTTP server.
	srv := api.NewServer(reg, log, cfg)

	// No WriteTimeout: status polls are short but imports of large PDFs are not.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		reg.Stop()
	}()

	log.Info("starting storygest", "port", cfg.Port, "upstream", cfg.UpstreamURL)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
