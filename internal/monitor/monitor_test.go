package monitor

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/llm-monitor/internal/anomaly"
	"github.com/vnmchuo/llm-monitor/internal/stats"
)

// Mock Aggregator
type mockAggregator struct {
	mu      sync.Mutex
	statsFn func() (stats.WindowStats, error)
	calls   int32
}

func (m *mockAggregator) ComputeWindowStats(ctx context.Context, window time.Duration) (stats.WindowStats, error) {
	atomic.AddInt32(&m.calls, 1)
	m.mu.Lock()
	fn := m.statsFn
	m.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return stats.WindowStats{}, nil
}

func (m *mockAggregator) callCount() int32 {
	return atomic.LoadInt32(&m.calls)
}

// Mock Notifier
type mockNotifier struct {
	mu    sync.Mutex
	err   error
	calls int
	last  string
}

func (m *mockNotifier) GenerateAlertMessage(ctx context.Context, reason string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.last = reason
	if m.err != nil {
		return "", m.err
	}
	return "alert: " + reason, nil
}

func newTestMonitor(agg Aggregator, n *mockNotifier, thresholds anomaly.Thresholds, interval time.Duration) *Monitor {
	tracer := noop.NewTracerProvider().Tracer("test")
	return New(agg, n, thresholds, Config{Interval: interval, Window: time.Hour}, tracer)
}

func TestMonitor_CyclesRunOnInterval(t *testing.T) {
	agg := &mockAggregator{}
	m := newTestMonitor(agg, &mockNotifier{}, anomaly.Thresholds{}, 10*time.Millisecond)

	m.Start()
	defer m.Stop()

	deadline := time.After(time.Second)
	for agg.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Expected at least 3 cycles, got %d", agg.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestMonitor_StorageFailureDoesNotStopLoop(t *testing.T) {
	agg := &mockAggregator{
		statsFn: func() (stats.WindowStats, error) {
			return stats.WindowStats{}, errors.New("connection refused")
		},
	}
	notifier := &mockNotifier{}
	m := newTestMonitor(agg, notifier, anomaly.Thresholds{CostPerWindowUSD: 1}, 10*time.Millisecond)

	m.Start()
	defer m.Stop()

	deadline := time.After(time.Second)
	for agg.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Expected loop to keep cycling after storage failures, got %d cycles", agg.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if notifier.calls != 0 {
		t.Errorf("Expected no notifier calls on failed cycles, got %d", notifier.calls)
	}
	if m.LastResult() != nil {
		t.Errorf("Expected no classification from failed cycles, got %+v", m.LastResult())
	}
}

func TestMonitor_AnomalyTriggersNotifier(t *testing.T) {
	agg := &mockAggregator{
		statsFn: func() (stats.WindowStats, error) {
			return stats.WindowStats{TotalCost: 5.000001}, nil
		},
	}
	notifier := &mockNotifier{}
	m := newTestMonitor(agg, notifier, anomaly.Thresholds{CostPerWindowUSD: 5.0}, 10*time.Millisecond)

	m.Start()
	defer m.Stop()

	deadline := time.After(time.Second)
	for {
		notifier.mu.Lock()
		calls := notifier.calls
		notifier.mu.Unlock()
		if calls > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Expected notifier to be called for anomaly")
		case <-time.After(5 * time.Millisecond):
		}
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if !strings.Contains(notifier.last, "cost") {
		t.Errorf("Expected cost reason, got %q", notifier.last)
	}
}

func TestMonitor_NotifierFailureDoesNotStopLoop(t *testing.T) {
	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(orig)

	agg := &mockAggregator{
		statsFn: func() (stats.WindowStats, error) {
			return stats.WindowStats{TotalCost: 10}, nil
		},
	}
	notifier := &mockNotifier{err: errors.New("text generation unavailable")}
	m := newTestMonitor(agg, notifier, anomaly.Thresholds{CostPerWindowUSD: 5.0}, 10*time.Millisecond)

	m.Start()

	deadline := time.After(time.Second)
	for agg.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Expected loop to survive notifier failures, got %d cycles", agg.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	m.Stop()

	// The anomaly must remain observable even though message generation
	// failed.
	last := m.LastResult()
	if last == nil || last.Status != anomaly.StatusAnomaly {
		t.Fatalf("Expected last result to record the anomaly, got %+v", last)
	}
	out := buf.String()
	if !strings.Contains(out, "anomaly detected") {
		t.Errorf("Expected anomaly log line, got: %s", out)
	}
	if !strings.Contains(out, "alert message generation failed") {
		t.Errorf("Expected notifier failure log line, got: %s", out)
	}
}

func TestMonitor_OKDoesNotNotify(t *testing.T) {
	agg := &mockAggregator{
		statsFn: func() (stats.WindowStats, error) {
			return stats.WindowStats{TotalCost: 5.0}, nil
		},
	}
	notifier := &mockNotifier{}
	m := newTestMonitor(agg, notifier, anomaly.Thresholds{CostPerWindowUSD: 5.0}, 10*time.Millisecond)

	m.Start()

	deadline := time.After(time.Second)
	for agg.callCount() < 3 {
		select {
		case <-deadline:
			t.Fatalf("Expected 3 cycles, got %d", agg.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	m.Stop()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if notifier.calls != 0 {
		t.Errorf("Expected no notifier calls at exact threshold, got %d", notifier.calls)
	}

	last := m.LastResult()
	if last == nil || last.Status != anomaly.StatusOK {
		t.Errorf("Expected OK classification, got %+v", last)
	}
}

func TestMonitor_StopWaitsForInFlightCycle(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var finished atomic.Bool

	agg := &mockAggregator{
		statsFn: func() (stats.WindowStats, error) {
			select {
			case entered <- struct{}{}:
			default:
			}
			<-release
			finished.Store(true)
			return stats.WindowStats{}, nil
		},
	}
	m := newTestMonitor(agg, &mockNotifier{}, anomaly.Thresholds{}, time.Minute)

	m.Start()
	<-entered

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	m.Stop()

	if !finished.Load() {
		t.Errorf("Expected Stop to wait for the in-flight cycle to finish")
	}
}

func TestMonitor_OverrunningCycleCatchesUpThenDropsMissedTicks(t *testing.T) {
	const interval = 25 * time.Millisecond

	var mu sync.Mutex
	var starts, ends []time.Time

	agg := &mockAggregator{}
	agg.statsFn = func() (stats.WindowStats, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		first := len(starts) == 1
		mu.Unlock()
		if first {
			// Overrun by several intervals so more than one tick elapses
			// while the cycle is still running.
			time.Sleep(4*interval + interval/2)
		}
		mu.Lock()
		ends = append(ends, time.Now())
		mu.Unlock()
		return stats.WindowStats{}, nil
	}
	m := newTestMonitor(agg, &mockNotifier{}, anomaly.Thresholds{}, interval)

	m.Start()
	deadline := time.After(3 * time.Second)
	for agg.callCount() < 4 {
		select {
		case <-deadline:
			t.Fatalf("Expected at least 4 cycles, got %d", agg.callCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
	m.Stop()

	mu.Lock()
	defer mu.Unlock()

	// The cycle after an overrun starts immediately instead of waiting out
	// another full interval.
	if gap := starts[1].Sub(ends[0]); gap > interval/2 {
		t.Errorf("Expected immediate catch-up after overrun, next cycle started %s later", gap)
	}

	// Only one tick stays buffered during the overrun. The other missed
	// ticks are dropped, so after the single catch-up the loop returns to
	// its normal cadence instead of firing back to back.
	if gap := starts[3].Sub(ends[0]); gap < interval {
		t.Errorf("Expected missed ticks to be dropped, 4th cycle started only %s after the overrun", gap)
	}
}

func TestMonitor_StartDuringStopWaitsForDrain(t *testing.T) {
	var inFlight atomic.Int32
	var overlapped atomic.Bool
	release := make(chan struct{})
	entered := make(chan struct{}, 1)

	agg := &mockAggregator{}
	agg.statsFn = func() (stats.WindowStats, error) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		inFlight.Add(-1)
		return stats.WindowStats{}, nil
	}
	m := newTestMonitor(agg, &mockNotifier{}, anomaly.Thresholds{}, time.Minute)

	m.Start()
	<-entered

	stopDone := make(chan struct{})
	go func() {
		m.Stop()
		close(stopDone)
	}()

	// Restart while Stop is still draining the in-flight cycle. The
	// restart must not launch a second loop until the first has exited.
	time.Sleep(10 * time.Millisecond)
	startDone := make(chan struct{})
	go func() {
		m.Start()
		close(startDone)
	}()

	time.Sleep(10 * time.Millisecond)
	close(release)

	<-stopDone
	<-startDone
	<-entered // first cycle of the restarted loop
	m.Stop()

	if overlapped.Load() {
		t.Errorf("Expected no overlapping cycles when Start races a draining Stop")
	}
}

func TestMonitor_StartStopIdempotent(t *testing.T) {
	agg := &mockAggregator{}
	m := newTestMonitor(agg, &mockNotifier{}, anomaly.Thresholds{}, time.Minute)

	m.Start()
	m.Start() // no-op
	m.Stop()
	m.Stop() // no-op

	// Restart works after a clean stop.
	m.Start()
	m.Stop()
}
