package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// LLM backend (alert text generation + assistant)
	OllamaURL   string // default: "http://localhost:11434"
	OllamaModel string // default: "qwen3:8b"

	// Monitor loop
	MonitorInterval time.Duration // default: 30s
	MonitorWindow   time.Duration // default: 1h

	// Anomaly thresholds (zero disables a rule)
	CostThresholdUSD   float64 // default: 5.0 per window
	LatencyThresholdMs float64 // default: 2000
	RequestThreshold   int64   // default: 0 (disabled)

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitRPM int64 // ingest requests per user per minute, default: 600
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		OllamaURL:            getEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:          getEnv("OLLAMA_MODEL", "qwen3:8b"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.MonitorInterval, err = getDuration("MONITOR_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.MonitorWindow, err = getDuration("MONITOR_WINDOW", time.Hour); err != nil {
		return nil, err
	}
	if cfg.CostThresholdUSD, err = getFloat("COST_THRESHOLD_USD", 5.0); err != nil {
		return nil, err
	}
	if cfg.LatencyThresholdMs, err = getFloat("LATENCY_THRESHOLD_MS", 2000); err != nil {
		return nil, err
	}
	if cfg.RequestThreshold, err = getInt("REQUEST_THRESHOLD", 0); err != nil {
		return nil, err
	}
	if cfg.DefaultRateLimitRPM, err = getInt("DEFAULT_RATE_LIMIT_RPM", 600); err != nil {
		return nil, err
	}

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getInt(key string, fallback int64) (int64, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	i, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return i, nil
}
