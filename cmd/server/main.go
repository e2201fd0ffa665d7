package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"binportal/internal/api"
	"binportal/internal/browser"
	"binportal/internal/cache"
	"binportal/internal/config"
	"binportal/internal/councils"
	"binportal/internal/db"
	"binportal/internal/worker"
	"binportal/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logger.NewLogger(&logger.Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		AddCaller:  true,
	})

	db, err := db.NewPostgres(context.Background(), cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	cache, err := cache.NewRedis(context.Background(), cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cache.Close()

	// Chrome launches lazily the first time a browser-backed council runs.
	browserManager := browser.NewManager(cfg.Browser, logger)

	registry, err := councils.DefaultRegistry(cfg.Scrape)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build council registry")
	}
	logger.Info().Strs("councils", registry.Names()).Msg("Registered council modules")

	workerPool := worker.NewWorkerPool(&cfg.Worker, cfg.Scrape, db, cache, registry, browserManager, logger)

	server := api.NewServer(cfg, db, cache, browserManager, registry, workerPool, logger)

	if err := workerPool.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start worker pool")
	}

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info().Msg("Received shutdown signal")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := workerPool.Stop(); err != nil {
			logger.Error().Err(err).Msg("Worker pool shutdown error")
		}

		if err := browserManager.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Browser shutdown error")
		}

		if err := server.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Server startup failed")
	}
}
