package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/variant-calibration-server/internal/api"
	"github.com/variant-calibration-server/internal/config"
	"github.com/variant-calibration-server/internal/setup"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()

	app, err := setup.Build(cfg)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}
	defer app.Close()

	app.Logger.Infof("Starting variant calibration server on %s:%d", cfg.Server.Host, cfg.Server.Port)

	// Background calibration refresh
	app.GeneCache.Start()
	defer app.GeneCache.Stop()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		app.Logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start server
	server := api.NewServer(cfg, app)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	app.Logger.Info("Server stopped")
}
