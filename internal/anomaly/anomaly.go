// Package anomaly classifies window statistics against configured thresholds.
package anomaly

import (
	"fmt"

	"github.com/vnmchuo/llm-monitor/internal/stats"
)

type Status string

const (
	StatusOK      Status = "OK"
	StatusAnomaly Status = "ANOMALY"
)

// Result is the classification of one WindowStats snapshot. Reason is only
// set when Status is ANOMALY.
type Result struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Thresholds holds the detection policy. A zero or negative value disables
// the corresponding rule. All comparisons are strict: a value equal to its
// threshold does not trigger.
type Thresholds struct {
	CostPerWindowUSD float64
	AvgLatencyMs     float64
	MaxRequests      int64
}

type rule struct {
	name    string
	trigger func(s stats.WindowStats, t Thresholds) (string, bool)
}

// Rules are evaluated in order; the first triggered rule's reason is
// reported.
var rules = []rule{
	{
		name: "cost_per_window",
		trigger: func(s stats.WindowStats, t Thresholds) (string, bool) {
			if t.CostPerWindowUSD > 0 && s.TotalCost > t.CostPerWindowUSD {
				return fmt.Sprintf("total cost $%.6f in the current window exceeded the $%.6f threshold",
					s.TotalCost, t.CostPerWindowUSD), true
			}
			return "", false
		},
	},
	{
		name: "avg_latency",
		trigger: func(s stats.WindowStats, t Thresholds) (string, bool) {
			if t.AvgLatencyMs > 0 && s.AvgLatencyMs > t.AvgLatencyMs {
				return fmt.Sprintf("average latency %.2fms in the current window exceeded the %.2fms threshold",
					s.AvgLatencyMs, t.AvgLatencyMs), true
			}
			return "", false
		},
	},
	{
		name: "request_volume",
		trigger: func(s stats.WindowStats, t Thresholds) (string, bool) {
			if t.MaxRequests > 0 && s.TotalRequests > t.MaxRequests {
				return fmt.Sprintf("%d requests in the current window exceeded the %d request threshold",
					s.TotalRequests, t.MaxRequests), true
			}
			return "", false
		},
	},
}

// Classify maps a WindowStats snapshot to OK or ANOMALY. It is pure: no
// side effects, identical input yields identical output.
func Classify(s stats.WindowStats, t Thresholds) Result {
	for _, r := range rules {
		if reason, ok := r.trigger(s, t); ok {
			return Result{Status: StatusAnomaly, Reason: reason}
		}
	}
	return Result{Status: StatusOK}
}
