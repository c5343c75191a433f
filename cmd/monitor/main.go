package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/llm-monitor/config"
	"github.com/vnmchuo/llm-monitor/internal/alert"
	"github.com/vnmchuo/llm-monitor/internal/anomaly"
	"github.com/vnmchuo/llm-monitor/internal/api"
	"github.com/vnmchuo/llm-monitor/internal/assistant"
	"github.com/vnmchuo/llm-monitor/internal/llm"
	"github.com/vnmchuo/llm-monitor/internal/monitor"
	"github.com/vnmchuo/llm-monitor/internal/postgres"
	"github.com/vnmchuo/llm-monitor/internal/seeder"
	"github.com/vnmchuo/llm-monitor/internal/stats"
	"github.com/vnmchuo/llm-monitor/internal/statscache"
	"github.com/vnmchuo/llm-monitor/internal/telemetry"
	"github.com/vnmchuo/llm-monitor/internal/usage"
	"github.com/vnmchuo/llm-monitor/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer(cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL and run migrations
	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, cfg.PostgresDSN); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init usage store and aggregator
	store := usage.NewPostgresStore(pool)
	aggregator := stats.NewAggregator(store)

	// 6. Seed sample data if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedSampleUsage(ctx, store)
	}

	// 7. Init LLM client, alert notifier and assistant
	chatClient := llm.New(cfg.OllamaURL, cfg.OllamaModel)
	notifier := alert.NewLLMNotifier(chatClient, 30*time.Second)
	asker := assistant.New(chatClient, assistant.DefaultTools(aggregator, cfg.MonitorWindow))

	// 8. Init and start the monitor loop
	thresholds := anomaly.Thresholds{
		CostPerWindowUSD: cfg.CostThresholdUSD,
		AvgLatencyMs:     cfg.LatencyThresholdMs,
		MaxRequests:      cfg.RequestThreshold,
	}
	tracer := otel.GetTracerProvider().Tracer("llm-monitor")
	mon := monitor.New(aggregator, notifier, thresholds, monitor.Config{
		Interval: cfg.MonitorInterval,
		Window:   cfg.MonitorWindow,
	}, tracer)
	mon.Start()
	defer mon.Stop()
	log.Printf("Monitor loop started (interval %s, window %s)", cfg.MonitorInterval, cfg.MonitorWindow)

	// 9. Init rate limiter, stats cache and HTTP handler
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitRPM)
	cache := statscache.New(rdb, 10*time.Second)
	handler := api.NewHandler(store, aggregator, asker, cache, limiter, tracer, cfg.MonitorWindow)

	// 10. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"llm-monitor"}`))
	})

	r.Post("/v1/usage", handler.HandleIngest)
	r.Get("/v1/stats", handler.HandleStats)
	r.Get("/v1/stats/top-users", handler.HandleTopUsers)
	r.Post("/v1/ask", handler.HandleAsk)

	// 11. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("LLM Monitor starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	mon.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
