package models

import "time"

type HealthTrend string

const (
	HealthTrendImproving     HealthTrend = "improving"
	HealthTrendDeteriorating HealthTrend = "deteriorating"
	HealthTrendStable        HealthTrend = "stable"
)

type HealthIssue struct {
	ProductId   int              `json:"product_id"`
	ProductName string           `json:"product_name"`
	Status      ValidationStatus `json:"status"`
	Reason      string           `json:"reason,omitempty"`
}

// HealthMetrics is the per-store rollup of validator results.
// HealthPct = round(Valid/Total*100), 100 when Total is 0.
type HealthMetrics struct {
	StoreId        int           `json:"store_id"`
	StoreName      string        `json:"store_name,omitempty"`
	Total          int           `json:"total"`
	Valid          int           `json:"valid"`
	Invalid        int           `json:"invalid"`
	HealthPct      int           `json:"health_pct"`
	CriticalIssues []HealthIssue `json:"critical_issues"`
	Warnings       []HealthIssue `json:"warnings"`
	Trend          HealthTrend   `json:"trend"`
	LastChecked    time.Time     `json:"last_checked"`
	Error          string        `json:"error,omitempty"`
}

func (m HealthMetrics) Degraded() bool {
	return m.Error != ""
}
