package models

import "time"

type SyncStrategy string

const (
	SyncStrategyLoadBalanced  SyncStrategy = "load_balanced"
	SyncStrategyPriorityFirst SyncStrategy = "priority_first"
	SyncStrategyHealthBased   SyncStrategy = "health_based"
	SyncStrategyRoundRobin    SyncStrategy = "round_robin"
)

func (s SyncStrategy) Known() bool {
	switch s {
	case SyncStrategyLoadBalanced, SyncStrategyPriorityFirst, SyncStrategyHealthBased, SyncStrategyRoundRobin:
		return true
	}
	return false
}

// StoreCluster is a named grouping of stores sharing a sync strategy.
type StoreCluster struct {
	ID                string       `json:"id" yaml:"id" validate:"required"`
	Name              string       `json:"name" yaml:"name"`
	StoreIds          []int        `json:"store_ids" yaml:"storeIds" validate:"required,min=1,unique,dive,gt=0"`
	Strategy          SyncStrategy `json:"strategy" yaml:"strategy"`
	HealthThreshold   int          `json:"health_threshold" yaml:"healthThreshold" validate:"gte=0,lte=100"`
	AutoRepairEnabled bool         `json:"auto_repair_enabled" yaml:"autoRepairEnabled"`
}

const (
	SyncStatusPending   = "pending"
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
	SyncStatusPartial   = "partial"
)

// StoreSyncResult is the outcome of syncing one store inside a cluster run.
type StoreSyncResult struct {
	StoreId        int              `json:"store_id"`
	Success        bool             `json:"success"`
	StartedAt      time.Time        `json:"started_at"`
	FinishedAt     time.Time        `json:"finished_at"`
	ItemsProcessed int              `json:"items_processed"`
	Errors         []string         `json:"errors"`
	RepairActions  []RepairLogEntry `json:"repair_actions"`
	HealthBefore   *int             `json:"health_before,omitempty"`
}

func (r StoreSyncResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type SyncMetrics struct {
	TotalDurationMs   int64   `json:"total_duration_ms"`
	AverageStoreMs    float64 `json:"average_store_ms"`
	TotalItems        int     `json:"total_items"`
	SuccessfulStores  int     `json:"successful_stores"`
	FailedStores      int     `json:"failed_stores"`
	RepairsSuccessful int     `json:"repairs_successful"`
}

// CrossStoreSync is one orchestration run over a cluster.
type CrossStoreSync struct {
	ID              string                   `json:"id"`
	ClusterId       string                   `json:"cluster_id"`
	Strategy        SyncStrategy             `json:"strategy"`
	Status          string                   `json:"status"`
	PerStoreResults map[int]*StoreSyncResult `json:"per_store_results"`
	Metrics         SyncMetrics              `json:"metrics"`
	TriggeredBy     string                   `json:"triggered_by"`
	StartedAt       time.Time                `json:"started_at"`
	FinishedAt      *time.Time               `json:"finished_at,omitempty"`
}

// OverallStatus derives the run status from the per-store outcomes.
func OverallStatus(successes, total int) string {
	switch {
	case successes == total:
		return SyncStatusCompleted
	case successes == 0:
		return SyncStatusFailed
	default:
		return SyncStatusPartial
	}
}
