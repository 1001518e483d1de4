package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/citestack/citestack-worker/internal/config"
	"github.com/citestack/citestack-worker/internal/database"
	"github.com/citestack/citestack-worker/internal/extract"
	"github.com/citestack/citestack-worker/internal/openrouter"
	"github.com/citestack/citestack-worker/internal/repository"
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

	// Initialize blob storage for captured files
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fileStore, err := storage.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region)
	if err != nil {
		return err
	}

	// Initialize OpenRouter client
	openRouterClient := openrouter.NewClient(cfg.OpenRouterAPIKey)
	if cfg.OpenRouterModel != "" {
		openRouterClient.SetModel(cfg.OpenRouterModel)
	}

	// Initialize runners
	enrichGate := service.NewEnrichGate(jobRepo, creditRepo)
	extractProcessor := service.NewExtractProcessor(itemRepo, extract.NewFetcher(), fileStore, enrichGate)
	enrichProcessor := service.NewEnrichProcessor(itemRepo, openRouterClient, creditRepo)
	compareProcessor := service.NewCompareProcessor(comparisonRepo, itemRepo, openRouterClient, creditRepo)

	// Initialize watcher
	w := watcher.New(cfg, jobRepo, extractProcessor, enrichProcessor, compareProcessor)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start watcher in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case <-sigChan:
		log.Println("Shutdown signal received")
		cancel()

		// Wait for graceful shutdown
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer shutdownCancel()

		select {
		case <-shutdownCtx.Done():
			log.Println("Shutdown timeout exceeded")
		case err := <-errChan:
			if err != nil && err != context.Canceled {
				log.Printf("Watcher error: %v", err)
			}
		}

		log.Println("Application stopped")
		return nil

	case err := <-errChan:
		return err
	}
}
