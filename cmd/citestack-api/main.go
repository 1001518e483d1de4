package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/citestack/citestack-worker/internal/config"
	"github.com/citestack/citestack-worker/internal/database"
	"github.com/citestack/citestack-worker/internal/extract"
	"github.com/citestack/citestack-worker/internal/openrouter"
	"github.com/citestack/citestack-worker/internal/repository"
	"github.com/citestack/citestack-worker/internal/server"
	"github.com/citestack/citestack-worker/internal/service"
	"github.com/citestack/citestack-worker/internal/storage"
	"github.com/citestack/citestack-worker/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close(db)

	log.Println("Database connected successfully")

	// Run migrations
	log.Println("Running database migrations...")
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return err
	}
	log.Println("Migrations completed successfully")

	sqlDB, err := database.SQLDB(db)
	if err != nil {
		return err
	}

	// Initialize repositories
	itemRepo := repository.NewItemRepository(db)
	jobRepo := repository.NewJobRepository(sqlDB)
	creditRepo := repository.NewCreditRepository(sqlDB)
	comparisonRepo := repository.NewComparisonRepository(db)
	idempotencyRepo := repository.NewIdempotencyRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize blob storage for captured files
	fileStore, err := storage.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region)
	if err != nil {
		return err
	}

	// Initialize services
	enrichGate := service.NewEnrichGate(jobRepo, creditRepo)
	captureService := service.NewCaptureService(itemRepo, comparisonRepo, jobRepo, creditRepo, enrichGate, fileStore)

	// The admin run-jobs endpoint drives the same runners as the worker
	openRouterClient := openrouter.NewClient(cfg.OpenRouterAPIKey)
	if cfg.OpenRouterModel != "" {
		openRouterClient.SetModel(cfg.OpenRouterModel)
	}
	extractProcessor := service.NewExtractProcessor(itemRepo, extract.NewFetcher(), fileStore, enrichGate)
	enrichProcessor := service.NewEnrichProcessor(itemRepo, openRouterClient, creditRepo)
	compareProcessor := service.NewCompareProcessor(comparisonRepo, itemRepo, openRouterClient, creditRepo)
	runner := watcher.New(cfg, jobRepo, extractProcessor, enrichProcessor, compareProcessor)

	srv := server.New(captureService, itemRepo, jobRepo, comparisonRepo, creditRepo, idempotencyRepo, runner, cfg)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	select {
	case <-sigChan:
		log.Println("Shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		log.Println("Application stopped")
		return nil

	case err := <-errChan:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
