package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Cache      CacheConfig
	Blob       BlobConfig
	Quota      QuotaConfig
	Dispatcher DispatcherConfig
	App        AppConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CacheConfig struct {
	SummaryTTL time.Duration
	DiagramTTL time.Duration
}

type BlobConfig struct {
	Bucket string
	// Content larger than this many bytes is stored as a blob reference
	// instead of inline text.
	InlineThresholdBytes int
}

type QuotaConfig struct {
	// Active-diagram ceiling per tenant when billing supplies no override.
	DefaultMaxDiagrams int
}

type DispatcherConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	ClaimTimeout   time.Duration
	HandlerPerSec  float64
	NotifyEndpoint string
}

type AppConfig struct {
	Environment string
	LogLevel    string
	Version     string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "flowsmith"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			SummaryTTL: getEnvAsDuration("CACHE_SUMMARY_TTL", 30*time.Second),
			DiagramTTL: getEnvAsDuration("CACHE_DIAGRAM_TTL", 10*time.Minute),
		},
		Blob: BlobConfig{
			Bucket:               getEnv("BLOB_BUCKET", ""),
			InlineThresholdBytes: getEnvAsInt("BLOB_INLINE_THRESHOLD_BYTES", 256*1024),
		},
		Quota: QuotaConfig{
			DefaultMaxDiagrams: getEnvAsInt("QUOTA_MAX_DIAGRAMS", 100),
		},
		Dispatcher: DispatcherConfig{
			PollInterval:   getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize:      getEnvAsInt("OUTBOX_BATCH_SIZE", 25),
			ClaimTimeout:   getEnvAsDuration("OUTBOX_CLAIM_TIMEOUT", 5*time.Minute),
			HandlerPerSec:  getEnvAsFloat("OUTBOX_HANDLER_PER_SEC", 20),
			NotifyEndpoint: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}

	if c.Blob.InlineThresholdBytes <= 0 {
		return fmt.Errorf("BLOB_INLINE_THRESHOLD_BYTES must be positive")
	}

	if c.Dispatcher.BatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Warning: Invalid float for %s, using default: %v", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid duration for %s, using default: %s", key, defaultValue)
		return defaultValue
	}

	return value
}
