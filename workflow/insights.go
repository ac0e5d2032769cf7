package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/recipe_integrity/health"
	"github.com/mmdatafocus/recipe_integrity/storesync"
)

// Insight is one predictive signal about an upcoming integrity problem.
// StoreId is 0 for cluster-wide signals.
type Insight struct {
	Type     string    `json:"type"`
	Severity string    `json:"severity"`
	StoreId  int       `json:"store_id,omitempty"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

const (
	criticalHealthBelow = 50
	fallingHealthBelow  = 70
	lowSyncSuccessRate  = 50
)

// HealthInsights derives failure_risk insights from health history and sync metrics.
type HealthInsights struct {
	history *health.History
	metrics MetricsSource
	now     func() time.Time
}

func NewHealthInsights(history *health.History, metrics MetricsSource) *HealthInsights {
	return &HealthInsights{history: history, metrics: metrics, now: func() time.Time { return time.Now().UTC() }}
}

func (h *HealthInsights) Insights(ctx context.Context) []Insight {
	now := h.now()
	var out []Insight
	if h.history != nil {
		for _, storeId := range h.history.Stores() {
			samples := h.history.Samples(storeId)
			if len(samples) == 0 {
				continue
			}
			last := samples[len(samples)-1].HealthPct
			delta, trended := h.history.Delta(storeId)
			switch {
			case last < criticalHealthBelow:
				out = append(out, Insight{
					Type:     InsightFailureRisk,
					Severity: SeverityCritical,
					StoreId:  storeId,
					Message:  fmt.Sprintf("store %d health at %d%%", storeId, last),
					At:       now,
				})
			case last < fallingHealthBelow && trended && delta < 0:
				out = append(out, Insight{
					Type:     InsightFailureRisk,
					Severity: SeverityHigh,
					StoreId:  storeId,
					Message:  fmt.Sprintf("store %d health at %d%% and falling (%d)", storeId, last, delta),
					At:       now,
				})
			}
		}
	}
	if h.metrics != nil {
		if rate, ok := h.metrics.Metric(storesync.MetricSyncSuccessRate); ok && rate < lowSyncSuccessRate {
			out = append(out, Insight{
				Type:     InsightFailureRisk,
				Severity: SeverityHigh,
				Message:  fmt.Sprintf("sync success rate %.0f%% over the last 24h", rate),
				At:       now,
			})
		}
	}
	return out
}
