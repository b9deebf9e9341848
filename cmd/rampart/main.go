package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rampartlabs/rampart/internal/telemetry"
	"github.com/rampartlabs/rampart/pkg/rampart"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdown, err := telemetry.InitTracer("rampart", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	configPath := os.Getenv("RAMPART_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Create gateway with default configuration
	// This uses:
	// - File-based config with hot-reload
	// - SQLite violation storage
	// - Direct event publishing (no external bus)
	gw, err := rampart.New(
		rampart.WithFileConfig(configPath),
		rampart.WithHandler(http.NotFoundHandler()),
		rampart.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	// Start gateway
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gw.Start(ctx); err != nil {
		log.Fatalf("Failed to start gateway: %v", err)
	}

	logger.Info("Gateway started successfully")
	logger.Info("Features enabled:")
	logger.Info("  - Config: file-based with hot-reload (" + configPath + ")")
	logger.Info("  - Admission: rate limiting, reputation scoring, block list")
	logger.Info("  - Events: Direct to storage")
	logger.Info("  - Control Plane: /admin")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received, stopping gateway...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Gateway shutdown complete")
}
