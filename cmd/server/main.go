package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"eldergen-backend/internal/config"
	"eldergen-backend/internal/database"
	"eldergen-backend/internal/handlers"
	"eldergen-backend/internal/line"
	"eldergen-backend/internal/middleware"
	"eldergen-backend/internal/newebpay"
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

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	migrator, err := database.NewMigrator(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatalf("Failed to initialize migrator: %v", err)
	}
	if err := migrator.Run(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	migrator.Close()

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

	payClient := newebpay.NewClient(cfg.NewebPayMerchantID, cfg.NewebPayHashKey, cfg.NewebPayHashIV)
	lineClient := line.NewClient(cfg.LineChannelAccessToken, cfg.LineChannelSecret)

	credentials := supabase.NewCredentialCache(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.StorageEmail, cfg.StoragePassword)
	uploader := supabase.NewUploader(cfg.SupabaseURL, cfg.SupabaseStorageBucket, credentials)

	orderProcessor := services.NewOrderProcessor(db, payClient, lineClient, log)

	healthHandler := handlers.HealthHandler
	usersHandler := handlers.NewUsersHandler(db, cfg)
	jobsHandler := handlers.NewJobsHandler(db, jobQueue, cfg, log)
	paymentsHandler := handlers.NewPaymentsHandler(db, payClient, orderProcessor, log)
	lineWebhookHandler := handlers.NewLineWebhookHandler(lineClient, db, jobQueue, uploader, cfg, log)

	router := gin.Default()

	router.GET("/health", healthHandler)

	// Webhooks authenticate by signature/checksum, not JWT.
	router.POST("/callback/line", lineWebhookHandler.HandleWebhook)
	router.POST("/callback/newebpay", paymentsHandler.Notify)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg))

	api.POST("/users", usersHandler.CreateOrGetUser)
	api.GET("/users/:line_user_id", usersHandler.GetUser)
	api.GET("/users/:line_user_id/jobs", jobsHandler.ListUserJobs)

	api.POST("/topup", paymentsHandler.TopUp)

	api.POST("/jobs", jobsHandler.CreateJob)
	api.GET("/jobs/:job_id", jobsHandler.GetJob)

	log.WithField("port", cfg.Port).Info("server starting")
	if err := http.ListenAndServe(":"+cfg.Port, router); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
