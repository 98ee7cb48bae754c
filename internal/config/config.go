package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreCRDB   = "crdb"
	StoreMemory = "memory"
)

type Config struct {
	HTTPAddr         string
	StoreDriver      string
	CRDBDSN          string
	MongoURI         string
	RedisAddr        string
	RabbitURL        string
	OTLPEndpoint     string
	LogLevel         string
	IdempotencyTTL   time.Duration
	RateLimitPerMin  int
	StrictCreditBack bool
	OutboxInterval   time.Duration
	OutboxBatch      int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		StoreDriver:      getEnv("STORE_DRIVER", StoreCRDB),
		CRDBDSN:          os.Getenv("CRDB_DSN"),
		MongoURI:         os.Getenv("MONGO_URI"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RabbitURL:        os.Getenv("RABBIT_URL"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		IdempotencyTTL:   getEnvDuration("IDEMPOTENCY_TTL", time.Hour),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 100),
		StrictCreditBack: getEnvBool("STRICT_CREDIT_BACK", false),
		OutboxInterval:   getEnvDuration("OUTBOX_INTERVAL", 5*time.Second),
		OutboxBatch:      getEnvInt("OUTBOX_BATCH", 10),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if i, err := strconv.Atoi(os.Getenv(key)); err == nil && i > 0 {
		return i
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d <= 0 {
		return fallback
	}
	return d
}
