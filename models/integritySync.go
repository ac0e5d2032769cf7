package models

import "time"

// IntegritySyncRun is the durable audit row for one cross-store sync.
type IntegritySyncRun struct {
	ID               uint       `gorm:"primary_key" json:"id"`
	SyncId           string     `gorm:"uniqueIndex;size:64;not null" json:"sync_id"`
	ClusterId        string     `gorm:"index;size:100;not null" json:"cluster_id"`
	Strategy         string     `gorm:"size:30" json:"strategy"`
	Status           string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy      string     `gorm:"size:50" json:"triggered_by"`
	SuccessfulStores int        `json:"successful_stores"`
	FailedStores     int        `json:"failed_stores"`
	TotalItems       int        `json:"total_items"`
	DurationMs       int64      `json:"duration_ms"`
	ResultsJSON      []byte     `gorm:"type:json" json:"results"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// IntegritySyncError is one per-store error recorded for a sync run.
type IntegritySyncError struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	SyncId    string    `gorm:"index;size:64;not null" json:"sync_id"`
	StoreId   int       `gorm:"index" json:"store_id"`
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// AutomationRunRecord is the durable audit row for one rule execution.
type AutomationRunRecord struct {
	ID          uint       `gorm:"primary_key" json:"id"`
	ExecutionId string     `gorm:"uniqueIndex;size:64;not null" json:"execution_id"`
	RuleId      string     `gorm:"index;size:100;not null" json:"rule_id"`
	Status      string     `gorm:"index;size:30;not null" json:"status"`
	TriggeredBy string     `gorm:"size:50" json:"triggered_by"`
	ResultsJSON []byte     `gorm:"type:json" json:"results"`
	Error       string     `gorm:"type:text" json:"error"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// RepairAuditRecord keeps repair attempts after the in-memory summary is gone.
type RepairAuditRecord struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	StoreId    int       `gorm:"index;not null" json:"store_id"`
	ProductId  int       `gorm:"index;not null" json:"product_id"`
	IssueType  string    `gorm:"size:30" json:"issue_type"`
	Action     string    `gorm:"size:50" json:"action"`
	Outcome    string    `gorm:"size:20" json:"outcome"`
	TemplateId *int      `json:"template_id"`
	Error      string    `gorm:"type:text" json:"error"`
	At         time.Time `json:"at"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}
