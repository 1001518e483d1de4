package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL      string
	ListenAddr       string
	PollInterval     int // seconds
	BatchSize        int
	ShutdownTimeout  int // seconds
	OpenRouterAPIKey string
	OpenRouterModel  string
	AdminSecret      string
	S3Bucket         string
	S3Prefix         string
	S3Region         string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	openRouterAPIKey := os.Getenv("OPENROUTER_API_KEY")
	if openRouterAPIKey == "" {
		fmt.Println("Warning: OPENROUTER_API_KEY not set, enrichment and comparison will not work")
	}

	s3Bucket := os.Getenv("S3_BUCKET")
	if s3Bucket == "" {
		fmt.Println("Warning: S3_BUCKET not set, file capture will not work")
	}

	adminSecret := os.Getenv("ADMIN_SECRET")
	if adminSecret == "" {
		fmt.Println("Warning: ADMIN_SECRET not set, admin endpoints are disabled")
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	return &Config{
		DatabaseURL:      dbURL,
		ListenAddr:       listenAddr,
		PollInterval:     10, // poll every 10 seconds
		BatchSize:        5,
		ShutdownTimeout:  30,
		OpenRouterAPIKey: openRouterAPIKey,
		OpenRouterModel:  os.Getenv("OPENROUTER_MODEL"),
		AdminSecret:      adminSecret,
		S3Bucket:         s3Bucket,
		S3Prefix:         os.Getenv("S3_PREFIX"),
		S3Region:         os.Getenv("S3_REGION"),
	}, nil
}
