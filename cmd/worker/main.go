package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"eldergen-backend/internal/banana"
	"eldergen-backend/internal/config"
	"eldergen-backend/internal/database"
	"eldergen-backend/internal/line"
	"eldergen-backend/internal/queue"
	"eldergen-backend/internal/services"
	"eldergen-backend/internal/supabase"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	jobQueue, err := queue.New(cfg.RedisURL, log)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer jobQueue.Close()

	transformer := banana.NewClient(cfg.BananaAPIBaseURL, cfg.BananaAPIKey, cfg.BananaModelKey)
	lineClient := line.NewClient(cfg.LineChannelAccessToken, cfg.LineChannelSecret)

	credentials := supabase.NewCredentialCache(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.StorageEmail, cfg.StoragePassword)
	uploader := supabase.NewUploader(cfg.SupabaseURL, cfg.SupabaseStorageBucket, credentials)

	processor := services.NewJobProcessor(db, transformer, uploader, jobQueue, lineClient, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("concurrency", cfg.WorkerConcurrency).Info("worker starting")
	jobQueue.Run(ctx, cfg.WorkerConcurrency, processor.Process)
	log.Info("worker stopped")
}
