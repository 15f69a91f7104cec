package main

import (
	"context"
	"os"
	"time"

	"github.com/chiquitav2/vpn-leased/internal/leased"
	"github.com/chiquitav2/vpn-leased/internal/leased/config"
	"github.com/chiquitav2/vpn-leased/pkg/logger"
)

const version = "1.0.0"

func main() {
	ctx := context.Background()

	log := logger.NewProduction("leased", version)
	log.InfoContext(ctx, "starting vpn-leased", "version", version)

	loader := config.NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		log.ErrorCtx(ctx, "failed to load configuration", err)
		os.Exit(1)
	}

	log = logger.New(logger.LoggerConfig{
		Level:     logger.LogLevel(cfg.Log.Level),
		Format:    logger.OutputFormat(cfg.Log.Format),
		Component: "leased",
		Version:   version,
	})
	log.DebugContext(ctx, "configuration loaded", "config_file", loader.ConfigFileUsed())

	service, err := leased.NewService(cfg, log, version)
	if err != nil {
		log.ErrorCtx(ctx, "failed to create service", err)
		os.Exit(1)
	}

	if err := service.Start(ctx); err != nil {
		log.ErrorCtx(ctx, "failed to start service", err)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if stopErr := service.Stop(shutdownCtx); stopErr != nil {
			log.ErrorCtx(ctx, "failed to clean up after startup failure", stopErr)
		}

		os.Exit(1)
	}

	// Blocks until SIGINT/SIGTERM has been handled.
	service.WaitForShutdown()

	log.InfoContext(ctx, "main process exiting")
}
