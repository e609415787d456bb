package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"coordinator/internal/app"
	"coordinator/internal/config"
	"coordinator/internal/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	coordinator, err := app.NewApp(cfg)
	if err != nil {
		logger.Fatal("failed to build app", zap.Error(err))
	}

	if err := coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("service exited with error", zap.Error(err))
	}
	logger.Info("received interrupt, stopped")
}
