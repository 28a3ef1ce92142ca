package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/iago/link-collector-back/internal/app"
	"github.com/iago/link-collector-back/internal/config"
)

func main() {
	logger := log.New(os.Stdout, "[link-collector] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	loaded, err := config.LoadDotEnv(".env", ".env.local")
	if err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	if len(loaded) > 0 {
		logger.Printf("loaded env files %v", loaded)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("failed to build application: %v", err)
	}
	defer application.Close()

	var workers sync.WaitGroup
	if cfg.WorkerEnabled {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := application.RunWorker(ctx, false); err != nil {
				logger.Printf("worker exited: %v", err)
			}
		}()
	} else {
		logger.Printf("worker disabled by configuration")
		if !application.Distributed {
			logger.Printf("warning: jobs are in-process and no worker runs here, queued jobs will never complete")
		}
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           application.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	workers.Wait()
}
