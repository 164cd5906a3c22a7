package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	// LINE messaging
	LineChannelAccessToken string
	LineChannelSecret      string

	// NewebPay
	NewebPayMerchantID    string
	NewebPayHashKey       string
	NewebPayHashIV        string
	NewebPayReturnURL     string
	NewebPayNotifyURL     string
	NewebPayClientBackURL string

	// Banana AI
	BananaAPIKey     string
	BananaModelKey   string
	BananaAPIBaseURL string

	// Supabase storage
	SupabaseURL           string
	SupabaseAnonKey       string
	SupabaseStorageBucket string
	StorageEmail          string
	StoragePassword       string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// API auth
	JWTSecret string

	// Points system
	PointsPerImage    int
	FreeInitialPoints int

	// Worker
	WorkerConcurrency int

	// Server
	Port        string
	Environment string
	BaseURL     string
}

func Load() (*Config, error) {
	cfg := &Config{
		LineChannelAccessToken: getEnv("LINE_CHANNEL_ACCESS_TOKEN", ""),
		LineChannelSecret:      getEnv("LINE_CHANNEL_SECRET", ""),

		NewebPayMerchantID:    getEnv("NEWEBPAY_MERCHANT_ID", ""),
		NewebPayHashKey:       getEnv("NEWEBPAY_HASH_KEY", ""),
		NewebPayHashIV:        getEnv("NEWEBPAY_HASH_IV", ""),
		NewebPayReturnURL:     getEnv("NEWEBPAY_RETURN_URL", ""),
		NewebPayNotifyURL:     getEnv("NEWEBPAY_NOTIFY_URL", ""),
		NewebPayClientBackURL: getEnv("NEWEBPAY_CLIENT_BACK_URL", ""),

		BananaAPIKey:     getEnv("BANANA_API_KEY", ""),
		BananaModelKey:   getEnv("BANANA_MODEL_KEY", ""),
		BananaAPIBaseURL: getEnv("BANANA_API_BASE_URL", "https://api.banana.dev"),

		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:       getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "elder-images"),
		StorageEmail:          getEnv("STORAGE_EMAIL", ""),
		StoragePassword:       getEnv("STORAGE_PASSWORD", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		PointsPerImage:    getEnvInt("POINTS_PER_IMAGE", 10),
		FreeInitialPoints: getEnvInt("FREE_INITIAL_POINTS", 50),

		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),

		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.BananaAPIKey == "" {
		return fmt.Errorf("BANANA_API_KEY is required")
	}
	if c.NewebPayHashKey == "" || c.NewebPayHashIV == "" {
		return fmt.Errorf("NEWEBPAY_HASH_KEY and NEWEBPAY_HASH_IV are required")
	}
	if len(c.NewebPayHashKey) != 32 {
		return fmt.Errorf("NEWEBPAY_HASH_KEY must be 32 bytes, got %d", len(c.NewebPayHashKey))
	}
	if len(c.NewebPayHashIV) != 16 {
		return fmt.Errorf("NEWEBPAY_HASH_IV must be 16 bytes, got %d", len(c.NewebPayHashIV))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
