package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmdatafocus/recipe_integrity/models"
)

func TestAuditRecorderSync(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	rec := NewAuditRecorder(db, nil)

	finished := time.Now().UTC()
	run := &models.CrossStoreSync{
		ID:        "sync-1",
		ClusterId: "north",
		Strategy:  models.SyncStrategyLoadBalanced,
		Status:    models.SyncStatusPartial,
		PerStoreResults: map[int]*models.StoreSyncResult{
			1: {StoreId: 1, Success: true, ItemsProcessed: 4},
			2: {StoreId: 2, Success: false, Errors: []string{"lookup failed"}},
		},
		Metrics:    models.SyncMetrics{SuccessfulStores: 1, FailedStores: 1, TotalItems: 4},
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: &finished,
	}
	require.NoError(t, rec.RecordSync(ctx, run))

	runs, err := rec.RecentSyncs(ctx, "north", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.SyncStatusPartial, runs[0].Status)
	assert.Equal(t, 4, runs[0].TotalItems)

	errs, err := rec.SyncErrors(ctx, "sync-1")
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, 2, errs[0].StoreId)
}

func TestAuditRecorderExecutionAndRepairs(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	rec := NewAuditRecorder(db, nil)

	require.NoError(t, rec.RecordExecution(ctx, &models.WorkflowExecution{
		ID:        "exec-1",
		RuleId:    "nightly",
		Status:    models.ExecutionStatusCompleted,
		Results:   []models.ActionResult{{Type: models.ActionTypeNotify, Success: true}},
		StartTime: time.Now().UTC(),
	}))
	var count int64
	require.NoError(t, db.Model(&models.AutomationRunRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	summary := models.RepairSummary{StoreId: 3}
	summary.Add(models.RepairLogEntry{StoreId: 3, ProductId: 10, IssueType: models.ValidationStatusNoRecipe, Outcome: models.RepairOutcomeSuccess})
	summary.Add(models.RepairLogEntry{StoreId: 3, ProductId: 11, IssueType: models.ValidationStatusNoTemplate, Outcome: models.RepairOutcomeUnresolved})
	require.NoError(t, rec.RecordRepairs(ctx, summary))
	require.NoError(t, db.Model(&models.RepairAuditRecord{}).Where("store_id = ?", 3).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}
