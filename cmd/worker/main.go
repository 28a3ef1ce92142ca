package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/iago/link-collector-back/internal/app"
	"github.com/iago/link-collector-back/internal/config"
)

func main() {
	logger := log.New(os.Stdout, "[link-collector-worker] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if _, err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("failed to build application: %v", err)
	}
	defer application.Close()

	if err := application.RunWorker(ctx, true); err != nil {
		logger.Printf("worker failed: %v", err)
		application.Close()
		os.Exit(1)
	}
}
