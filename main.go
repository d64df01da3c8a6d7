package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/room4-2/ReminderRelay/config"
	"github.com/room4-2/ReminderRelay/server"
	"github.com/room4-2/ReminderRelay/session"
	"github.com/room4-2/ReminderRelay/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := telemetry.InitLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logger: %v\n", err)
		os.Exit(1)
	}

	if cfg.APIKey() == "" {
		log.WithField("provider", cfg.Provider).Warn("No API key configured, upstream connections will be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.TelemetryEnabled {
		cleanup, err := telemetry.InitTelemetry(ctx, cfg.TelemetryDir, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to init telemetry")
		}
		defer cleanup()
	}

	metrics, err := telemetry.NewMetrics(otel.Meter(telemetry.ServiceName))
	if err != nil {
		log.WithError(err).Fatal("Failed to create metrics")
	}

	// Create session manager
	sessionManager := session.NewManager(cfg, session.NewUpstreamDialer(cfg), log, metrics)

	// Start cleanup routine
	go sessionManager.StartCleanupRoutine(ctx)

	srv := server.NewServer(cfg, sessionManager, log)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Server shutdown error")
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("Server error")
	}

	log.Info("Server stopped")
}
