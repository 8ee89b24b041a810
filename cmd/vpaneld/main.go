package main

import (
	"context"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vpanel/core/internal/panel"
	"github.com/vpanel/core/internal/panel/config"
	"github.com/vpanel/core/pkg/logger"
)

const version = "1.0.0"

func main() {
	ctx := context.Background()

	log := logger.NewProduction("vpaneld", version)
	log.InfoContext(ctx, "starting vpanel", "version", version)

	loader := config.NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		log.ErrorCtx(ctx, "failed to load configuration", err)
		os.Exit(1)
	}

	log = logger.New(logger.LoggerConfig{
		Level:     logger.LogLevel(cfg.Log.Level),
		Format:    logger.OutputFormat(cfg.Log.Format),
		Component: "vpaneld",
		Version:   version,
	})
	log.DebugContext(ctx, "configuration loaded")

	panel.Version = version
	service, err := panel.NewService(cfg, log)
	if err != nil {
		log.ErrorCtx(ctx, "failed to create service", err)
		os.Exit(1)
	}

	if err := service.Start(ctx); err != nil {
		log.ErrorCtx(ctx, "failed to start service", err)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if stopErr := service.Stop(shutdownCtx); stopErr != nil {
			log.ErrorCtx(ctx, "failed to cleanup service after startup failure", stopErr)
		}
		os.Exit(1)
	}

	log.InfoContext(ctx, "service started, waiting for shutdown signal")
	service.WaitForShutdown()

	log.InfoContext(ctx, "main process exiting")
}
