package config

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr          string
	PostgresDSN       string
	RedisAddr         string
	KafkaBrokers      []string
	JWTSecret         string
	GatewayBaseURL    string
	GatewayMerchantID string
	GatewayID         string
	CallbackBaseURL   string
	PendingTimeout    time.Duration
	ReconcileInterval time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		HTTPAddr:          os.Getenv("HTTP_ADDR"),
		PostgresDSN:       os.Getenv("POSTGRES_DSN"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		KafkaBrokers:      []string{os.Getenv("KAFKA_BROKER")},
		JWTSecret:         os.Getenv("JWT_SECRET"),
		GatewayBaseURL:    os.Getenv("GATEWAY_BASE_URL"),
		GatewayMerchantID: os.Getenv("GATEWAY_MERCHANT_ID"),
		GatewayID:         os.Getenv("GATEWAY_ID"),
		CallbackBaseURL:   os.Getenv("CALLBACK_BASE_URL"),
		PendingTimeout:    parseDuration(os.Getenv("PENDING_TIMEOUT"), 30*time.Minute),
		ReconcileInterval: parseDuration(os.Getenv("RECONCILE_INTERVAL"), time.Minute),
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "host=localhost user=postgres password=postgres dbname=ledger sslmode=disable"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if len(cfg.KafkaBrokers) == 1 && cfg.KafkaBrokers[0] == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "supersecret"
	}
	if cfg.GatewayBaseURL == "" {
		cfg.GatewayBaseURL = "http://localhost:8090"
	}
	if cfg.GatewayMerchantID == "" {
		cfg.GatewayMerchantID = "dev-merchant"
	}
	if cfg.GatewayID == "" {
		cfg.GatewayID = "default"
	}
	if cfg.CallbackBaseURL == "" {
		cfg.CallbackBaseURL = "http://localhost:8080"
	}

	slog.Info("config loaded",
		"http_addr", cfg.HTTPAddr, "postgres_dsn", cfg.PostgresDSN, "redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers, "gateway_base_url", cfg.GatewayBaseURL,
		"pending_timeout", cfg.PendingTimeout)
	return cfg
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("invalid duration, using default", "value", raw, "default", fallback)
		return fallback
	}
	return d
}
