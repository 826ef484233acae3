package main

import (
	"context"
	"log"

	"github.com/kirinyoku/showbook/internal/app"
	"github.com/kirinyoku/showbook/internal/config"
	"github.com/kirinyoku/showbook/internal/logger"
	"go.uber.org/zap"
)

// @title Showbook API
// @version 1.0
// @description Seat reservation and booking service.
// @host localhost:8080
// @BasePath /
func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	lg, err := logger.New(cfg.Log.Path, cfg.Log.Debug)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx := context.Background()

	application, err := app.New(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("failed to create application", zap.Error(err))
	}

	if err := application.Run(ctx); err != nil {
		lg.Error("application finished with error", zap.Error(err))
	}
}
