// Package monitor runs the periodic aggregate -> classify -> notify cycle.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/llm-monitor/internal/alert"
	"github.com/vnmchuo/llm-monitor/internal/anomaly"
	"github.com/vnmchuo/llm-monitor/internal/stats"
)

// Aggregator is the statistics dependency of the monitor.
type Aggregator interface {
	ComputeWindowStats(ctx context.Context, window time.Duration) (stats.WindowStats, error)
}

type Config struct {
	Interval     time.Duration // cycle cadence, default 30s
	Window       time.Duration // lookback window, default 1h
	CycleTimeout time.Duration // upper bound on one cycle, default Interval
}

// Monitor drives the evaluation loop on a fixed interval. It is either
// stopped or running; a failed cycle is logged and the loop continues.
type Monitor struct {
	agg        Aggregator
	notifier   alert.Notifier
	thresholds anomaly.Thresholds
	cfg        Config
	tracer     trace.Tracer

	// mu guards the lifecycle fields and is held across the Stop drain,
	// so a concurrent Start blocks until the previous loop has exited.
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	resultMu   sync.Mutex
	lastResult *anomaly.Result
}

func New(agg Aggregator, notifier alert.Notifier, thresholds anomaly.Thresholds, cfg Config, tracer trace.Tracer) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = cfg.Interval
	}
	return &Monitor{
		agg:        agg,
		notifier:   notifier,
		thresholds: thresholds,
		cfg:        cfg,
		tracer:     tracer,
	}
}

// Start launches the background loop. The first cycle runs immediately,
// then once per interval. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.run(ctx)
}

// Stop cancels the loop and blocks until any in-flight cycle has finished.
// Cycle contexts are independent of the loop context, so an in-flight cycle
// is never interrupted mid-flight.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}

	m.cancel()
	<-m.done
	m.running = false
}

// LastResult returns the classification produced by the most recent
// completed cycle, or nil if no cycle has completed yet.
func (m *Monitor) LastResult() *anomaly.Result {
	m.resultMu.Lock()
	defer m.resultMu.Unlock()
	return m.lastResult
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	// A cycle that overruns the interval leaves at most one buffered tick,
	// so the next cycle starts immediately after completion; older missed
	// ticks are dropped. Cycles never overlap.
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.runCycle()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runCycle()
		}
	}
}

// runCycle executes one aggregate -> classify -> notify pass. It never
// panics out to the loop: storage and notifier failures are logged and the
// cycle ends, leaving the next scheduled cycle as the retry.
func (m *Monitor) runCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CycleTimeout)
	defer cancel()

	cycleID := uuid.New().String()
	ctx, span := m.tracer.Start(ctx, "monitor.cycle")
	defer span.End()
	span.SetAttributes(attribute.String("cycle_id", cycleID))

	windowStats, err := m.agg.ComputeWindowStats(ctx, m.cfg.Window)
	if err != nil {
		log.Printf("monitor: cycle %s: aggregation failed, skipping cycle: %v", cycleID, err)
		span.RecordError(err)
		return
	}

	result := anomaly.Classify(windowStats, m.thresholds)

	m.resultMu.Lock()
	m.lastResult = &result
	m.resultMu.Unlock()

	span.SetAttributes(
		attribute.String("anomaly.status", string(result.Status)),
		attribute.Int64("window.total_requests", windowStats.TotalRequests),
		attribute.Float64("window.total_cost", windowStats.TotalCost),
	)

	if result.Status != anomaly.StatusAnomaly {
		return
	}

	// The anomaly is recorded before the notifier runs so it stays
	// observable even when message generation fails.
	log.Printf("monitor: cycle %s: anomaly detected: %s", cycleID, result.Reason)

	msg, err := m.notifier.GenerateAlertMessage(ctx, result.Reason)
	if err != nil {
		log.Printf("monitor: cycle %s: alert message generation failed: %v", cycleID, err)
		span.RecordError(err)
		return
	}

	log.Printf("monitor: cycle %s: ALERT: %s", cycleID, msg)
}
