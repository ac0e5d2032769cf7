package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/utils"
)

const (
	TaskRepairStore = "repair_store"
	TaskHealthSweep = "health_sweep"
	TaskSyncCluster = "sync_cluster"
)

const (
	TaskStatusPending = "pending"
	TaskStatusDone    = "done"
	TaskStatusFailed  = "failed"
)

const finishedTasksCap = 100

type MaintenanceTask struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	StoreId     int        `json:"store_id,omitempty"`
	ClusterId   string     `json:"cluster_id,omitempty"`
	DueAt       time.Time  `json:"due_at"`
	RequestedBy string     `json:"requested_by"`
	Status      string     `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// MaintenanceScheduler holds deferred tasks until they are due.
type MaintenanceScheduler struct {
	repairer Repairer
	health   HealthChecker
	syncer   ClusterSyncer
	logger   *logrus.Logger
	now      func() time.Time

	mu       sync.Mutex
	pending  []MaintenanceTask
	finished []MaintenanceTask
}

func NewMaintenanceScheduler(repairer Repairer, health HealthChecker, syncer ClusterSyncer, logger *logrus.Logger) *MaintenanceScheduler {
	if logger == nil {
		logger = config.NopLogger()
	}
	return &MaintenanceScheduler{
		repairer: repairer,
		health:   health,
		syncer:   syncer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MaintenanceScheduler) Schedule(task MaintenanceTask) (MaintenanceTask, error) {
	switch task.Type {
	case TaskRepairStore:
		if task.StoreId <= 0 {
			return task, fmt.Errorf("%s task needs a store id", task.Type)
		}
	case TaskSyncCluster:
		if task.ClusterId == "" {
			return task, fmt.Errorf("%s task needs a cluster id", task.Type)
		}
	case TaskHealthSweep:
	default:
		return task, fmt.Errorf("unknown maintenance task %q", task.Type)
	}
	task.ID = uuid.NewString()
	task.Status = TaskStatusPending
	if task.DueAt.IsZero() {
		task.DueAt = s.now()
	}

	s.mu.Lock()
	s.pending = append(s.pending, task)
	sort.SliceStable(s.pending, func(i, j int) bool { return s.pending[i].DueAt.Before(s.pending[j].DueAt) })
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"field":  "Maintenance",
		"taskId": task.ID,
		"type":   task.Type,
		"dueAt":  task.DueAt,
	}).Info("maintenance task scheduled")
	return task, nil
}

// Pending returns the waiting tasks, earliest due first.
func (s *MaintenanceScheduler) Pending() []MaintenanceTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MaintenanceTask(nil), s.pending...)
}

// Finished returns the last executed tasks, oldest first.
func (s *MaintenanceScheduler) Finished() []MaintenanceTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MaintenanceTask(nil), s.finished...)
}

// RunDue executes every task that is due and returns how many ran.
func (s *MaintenanceScheduler) RunDue(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	var due []MaintenanceTask
	keep := s.pending[:0]
	for _, t := range s.pending {
		if !t.DueAt.After(now) {
			due = append(due, t)
		} else {
			keep = append(keep, t)
		}
	}
	s.pending = keep
	s.mu.Unlock()

	ctx = utils.SetTriggerInContext(ctx, utils.TriggerScheduler)
	for _, t := range due {
		result, err := s.execute(ctx, t)
		finished := s.now()
		t.FinishedAt = &finished
		t.Result = result
		t.Status = TaskStatusDone
		if err != nil {
			t.Status = TaskStatusFailed
			t.Error = err.Error()
			config.LogError(s.logger, "workflow", "RunDue", "maintenance task", t, err)
		}
		s.mu.Lock()
		s.finished = append(s.finished, t)
		if len(s.finished) > finishedTasksCap {
			s.finished = s.finished[len(s.finished)-finishedTasksCap:]
		}
		s.mu.Unlock()
	}
	return len(due)
}

func (s *MaintenanceScheduler) execute(ctx context.Context, t MaintenanceTask) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	switch t.Type {
	case TaskRepairStore:
		if s.repairer == nil {
			return "", fmt.Errorf("repair engine not configured")
		}
		sum := s.repairer.RepairStore(ctx, t.StoreId)
		return fmt.Sprintf("%d repaired, %d failed, %d unresolved", sum.Successful, sum.Failed, len(sum.Unresolved)), nil
	case TaskHealthSweep:
		if s.health == nil {
			return "", fmt.Errorf("health monitor not configured")
		}
		return fmt.Sprintf("%d stores checked", len(s.health.Sweep(ctx))), nil
	case TaskSyncCluster:
		if s.syncer == nil {
			return "", fmt.Errorf("store sync not configured")
		}
		run, err := s.syncer.Sync(ctx, t.ClusterId, "")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("sync %s %s", run.ID, run.Status), run.Err()
	}
	return "", fmt.Errorf("unknown maintenance task %q", t.Type)
}

// Run executes due tasks every interval until ctx is done.
func (s *MaintenanceScheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}
