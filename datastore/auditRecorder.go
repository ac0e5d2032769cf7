package datastore

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/models"
)

// AuditRecorder persists sync runs, rule executions and repair attempts.
type AuditRecorder struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewAuditRecorder(db *gorm.DB, logger *logrus.Logger) *AuditRecorder {
	if logger == nil {
		logger = config.NopLogger()
	}
	return &AuditRecorder{db: db, logger: logger}
}

func (a *AuditRecorder) RecordSync(ctx context.Context, s *models.CrossStoreSync) error {
	if s == nil {
		return nil
	}
	results, err := json.Marshal(s.PerStoreResults)
	if err != nil {
		return err
	}
	run := models.IntegritySyncRun{
		SyncId:           s.ID,
		ClusterId:        s.ClusterId,
		Strategy:         string(s.Strategy),
		Status:           s.Status,
		TriggeredBy:      s.TriggeredBy,
		SuccessfulStores: s.Metrics.SuccessfulStores,
		FailedStores:     s.Metrics.FailedStores,
		TotalItems:       s.Metrics.TotalItems,
		DurationMs:       s.Metrics.TotalDurationMs,
		ResultsJSON:      results,
		StartedAt:        s.StartedAt,
		FinishedAt:       s.FinishedAt,
	}

	var syncErrors []models.IntegritySyncError
	for storeId, r := range s.PerStoreResults {
		for _, msg := range r.Errors {
			syncErrors = append(syncErrors, models.IntegritySyncError{SyncId: s.ID, StoreId: storeId, Message: msg})
		}
	}

	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&run).Error; err != nil {
			return err
		}
		if len(syncErrors) > 0 {
			return tx.Create(&syncErrors).Error
		}
		return nil
	})
	if err != nil {
		config.LogError(a.logger, "datastore", "RecordSync", s.ClusterId, s.ID, err)
		return models.NewDataAccessError("RecordSync", err)
	}
	return nil
}

func (a *AuditRecorder) RecordExecution(ctx context.Context, e *models.WorkflowExecution) error {
	if e == nil {
		return nil
	}
	results, err := json.Marshal(e.Results)
	if err != nil {
		return err
	}
	rec := models.AutomationRunRecord{
		ExecutionId: e.ID,
		RuleId:      e.RuleId,
		Status:      e.Status,
		TriggeredBy: e.TriggeredBy,
		ResultsJSON: results,
		Error:       e.Error,
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
	}
	if err := a.db.WithContext(ctx).Create(&rec).Error; err != nil {
		config.LogError(a.logger, "datastore", "RecordExecution", e.RuleId, e.ID, err)
		return models.NewDataAccessError("RecordExecution", err)
	}
	return nil
}

func (a *AuditRecorder) RecordRepairs(ctx context.Context, summary models.RepairSummary) error {
	if len(summary.Log) == 0 {
		return nil
	}
	rows := make([]models.RepairAuditRecord, 0, len(summary.Log))
	for _, e := range summary.Log {
		rows = append(rows, models.RepairAuditRecord{
			StoreId:    e.StoreId,
			ProductId:  e.ProductId,
			IssueType:  string(e.IssueType),
			Action:     e.Action,
			Outcome:    string(e.Outcome),
			TemplateId: e.TemplateId,
			Error:      e.Error,
			At:         e.At,
		})
	}
	if err := a.db.WithContext(ctx).Create(&rows).Error; err != nil {
		config.LogError(a.logger, "datastore", "RecordRepairs", "", summary.StoreId, err)
		return models.NewDataAccessError("RecordRepairs", err)
	}
	return nil
}

func (a *AuditRecorder) RecentSyncs(ctx context.Context, clusterId string, limit int) ([]models.IntegritySyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	q := a.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if clusterId != "" {
		q = q.Where("cluster_id = ?", clusterId)
	}
	var runs []models.IntegritySyncRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, models.NewDataAccessError("RecentSyncs", err)
	}
	return runs, nil
}

func (a *AuditRecorder) SyncErrors(ctx context.Context, syncId string) ([]models.IntegritySyncError, error) {
	var rows []models.IntegritySyncError
	if err := a.db.WithContext(ctx).Where("sync_id = ?", syncId).Order("id").Find(&rows).Error; err != nil {
		return nil, models.NewDataAccessError("SyncErrors", err)
	}
	return rows, nil
}
