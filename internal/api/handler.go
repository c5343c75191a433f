package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/llm-monitor/internal/stats"
	"github.com/vnmchuo/llm-monitor/internal/usage"
	"github.com/vnmchuo/llm-monitor/pkg/ratelimit"
)

const defaultTopN = 5

// StatsCache is the optional read-through cache in front of the aggregator.
type StatsCache interface {
	Get(ctx context.Context) (stats.WindowStats, bool)
	Set(ctx context.Context, s stats.WindowStats)
}

// Asker answers free-form questions about system health.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

type Handler struct {
	store     usage.Store
	agg       *stats.Aggregator
	assistant Asker
	cache     StatsCache
	limiter   *ratelimit.Limiter
	tracer    trace.Tracer
	window    time.Duration
}

func NewHandler(store usage.Store, agg *stats.Aggregator, assistant Asker, cache StatsCache, limiter *ratelimit.Limiter, tracer trace.Tracer, window time.Duration) *Handler {
	return &Handler{
		store:     store,
		agg:       agg,
		assistant: assistant,
		cache:     cache,
		limiter:   limiter,
		tracer:    tracer,
		window:    window,
	}
}

type ingestRequest struct {
	UserID           string  `json:"user_id"`
	LatencyMs        int64   `json:"latency_ms"`
	CostUSD          float64 `json:"cost_usd"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	IsError          bool    `json:"is_error"`
}

func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "api.ingest")
	defer span.End()

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.LatencyMs < 0 || req.CostUSD < 0 || req.PromptTokens < 0 || req.CompletionTokens < 0 {
		writeError(w, http.StatusBadRequest, "latency, cost and token counts must be non-negative")
		return
	}

	span.SetAttributes(attribute.String("user_id", req.UserID))

	allowed, err := h.limiter.Allow(ctx, req.UserID)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60s")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	rec := &usage.Record{
		UserID:           req.UserID,
		LatencyMs:        req.LatencyMs,
		CostUSD:          req.CostUSD,
		PromptTokens:     req.PromptTokens,
		CompletionTokens: req.CompletionTokens,
		IsError:          req.IsError,
	}
	if err := h.store.Insert(ctx, rec); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "api.stats")
	defer span.End()

	if h.cache != nil {
		if cached, ok := h.cache.Get(ctx); ok {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	windowStats, err := h.agg.ComputeWindowStats(ctx, h.window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.cache != nil {
		h.cache.Set(ctx, windowStats)
	}

	writeJSON(w, http.StatusOK, windowStats)
}

func (h *Handler) HandleTopUsers(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "api.top_users")
	defer span.End()

	topN := defaultTopN
	if nStr := r.URL.Query().Get("n"); nStr != "" {
		var err error
		topN, err = strconv.Atoi(nStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'n' parameter (must be an integer)")
			return
		}
	}

	entries, err := h.agg.ComputeTopCostUsers(ctx, h.window, topN)
	if err != nil {
		if errors.Is(err, stats.ErrInvalidTopN) {
			writeError(w, http.StatusBadRequest, "'n' must be a positive integer")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"top_users": entries,
		"n":         topN,
	})
}

type askRequest struct {
	Question string `json:"question"`
}

func (h *Handler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "api.ask")
	defer span.End()

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := h.assistant.Ask(ctx, req.Question)
	if err != nil {
		span.RecordError(err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
