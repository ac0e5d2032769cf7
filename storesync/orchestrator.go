// Package storesync runs integrity sync campaigns over clusters of stores.
package storesync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/notifier"
	"github.com/mmdatafocus/recipe_integrity/utils"
)

var (
	tracer = otel.Tracer("github.com/mmdatafocus/recipe_integrity/storesync")

	syncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "integrity_sync_duration_seconds",
		Help:    "Cross-store sync duration by strategy and final status.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"strategy", "status"})
)

const historyCap = 50

type StoreValidator interface {
	ValidateStore(ctx context.Context, storeId int, activeOnly bool) ([]models.ValidationResult, error)
}

type Repairer interface {
	RepairStore(ctx context.Context, storeId int) models.RepairSummary
}

type HealthSource interface {
	StoreHealth(ctx context.Context, storeId int) models.HealthMetrics
	Invalidate(ctx context.Context, storeId int)
}

// Recorder persists finished runs.
type Recorder interface {
	RecordSync(ctx context.Context, s *models.CrossStoreSync) error
}

type Orchestrator struct {
	validator StoreValidator
	repairer  Repairer
	health    HealthSource
	notifier  notifier.Notifier
	runtime   *config.Runtime
	tracker   *PerformanceTracker
	recorder  Recorder
	logger    *logrus.Logger
	now       func() time.Time

	mu       sync.RWMutex
	clusters map[string]models.StoreCluster
	active   map[string]*models.CrossStoreSync
	history  []models.CrossStoreSync
}

func NewOrchestrator(v StoreValidator, repairer Repairer, health HealthSource, n notifier.Notifier, runtime *config.Runtime, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = config.NopLogger()
	}
	if n == nil {
		n = notifier.NewLogNotifier(logger)
	}
	return &Orchestrator{
		validator: v,
		repairer:  repairer,
		health:    health,
		notifier:  n,
		runtime:   runtime,
		tracker:   NewPerformanceTracker(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		clusters:  make(map[string]models.StoreCluster),
		active:    make(map[string]*models.CrossStoreSync),
	}
}

func (o *Orchestrator) SetRecorder(r Recorder) { o.recorder = r }

func (o *Orchestrator) Tracker() *PerformanceTracker { return o.tracker }

// RegisterCluster adds or replaces a cluster definition.
func (o *Orchestrator) RegisterCluster(c models.StoreCluster) error {
	if err := config.ValidateCluster(c); err != nil {
		return err
	}
	if c.Strategy == "" {
		c.Strategy = models.SyncStrategyRoundRobin
	}
	c.StoreIds = append([]int(nil), c.StoreIds...)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clusters[c.ID] = c
	return nil
}

func (o *Orchestrator) Cluster(id string) (models.StoreCluster, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.clusters[id]
	return c, ok
}

func (o *Orchestrator) Clusters() []models.StoreCluster {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.StoreCluster, 0, len(o.clusters))
	for _, c := range o.clusters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveSyncs returns snapshots of the runs in progress.
func (o *Orchestrator) ActiveSyncs() []models.CrossStoreSync {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.CrossStoreSync, 0, len(o.active))
	for _, s := range o.active {
		out = append(out, snapshot(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// History returns the last finished runs, oldest first.
func (o *Orchestrator) History() []models.CrossStoreSync {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.CrossStoreSync, len(o.history))
	copy(out, o.history)
	return out
}

// snapshot must be called with o.mu held.
func snapshot(s *models.CrossStoreSync) models.CrossStoreSync {
	c := *s
	c.PerStoreResults = make(map[int]*models.StoreSyncResult, len(s.PerStoreResults))
	for id, r := range s.PerStoreResults {
		rc := *r
		c.PerStoreResults[id] = &rc
	}
	return c
}

// Sync runs one campaign over the cluster. An empty strategy uses the cluster's
// own; an unknown one falls back to round robin. Only an unknown cluster is an
// error: store failures are reported inside the returned run.
func (o *Orchestrator) Sync(ctx context.Context, clusterId string, strategy models.SyncStrategy) (*models.CrossStoreSync, error) {
	cluster, ok := o.Cluster(clusterId)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrClusterNotFound, clusterId)
	}
	if strategy == "" {
		strategy = cluster.Strategy
	}
	if !strategy.Known() {
		strategy = models.SyncStrategyRoundRobin
	}

	ctx, span := tracer.Start(ctx, "storesync.Sync", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	run := &models.CrossStoreSync{
		ID:              uuid.NewString(),
		ClusterId:       cluster.ID,
		Strategy:        strategy,
		Status:          models.SyncStatusPending,
		PerStoreResults: make(map[int]*models.StoreSyncResult, len(cluster.StoreIds)),
		TriggeredBy:     utils.GetTriggerFromContext(ctx),
		StartedAt:       o.now(),
	}
	span.SetAttributes(
		attribute.String("sync.id", run.ID),
		attribute.String("cluster.id", cluster.ID),
		attribute.String("sync.strategy", string(strategy)),
		attribute.Int("cluster.stores", len(cluster.StoreIds)),
	)

	o.mu.Lock()
	o.active[run.ID] = run
	run.Status = models.SyncStatusRunning
	o.mu.Unlock()

	o.logger.WithFields(logrus.Fields{
		"field":     "StoreSync",
		"syncId":    run.ID,
		"clusterId": cluster.ID,
		"strategy":  strategy,
		"stores":    len(cluster.StoreIds),
	}).Info("cluster sync started")

	switch strategy {
	case models.SyncStrategyLoadBalanced:
		o.runLoadBalanced(ctx, run, cluster, cluster.StoreIds)
	case models.SyncStrategyPriorityFirst:
		o.runPriorityFirst(ctx, run, cluster)
	case models.SyncStrategyHealthBased:
		o.runHealthBased(ctx, run, cluster)
	default:
		o.runSequential(ctx, run, cluster, cluster.StoreIds, nil, false)
	}

	o.finish(ctx, run)
	span.SetAttributes(attribute.String("sync.status", run.Status))
	return run, nil
}

func (o *Orchestrator) setResult(run *models.CrossStoreSync, res *models.StoreSyncResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run.PerStoreResults[res.StoreId] = res
}

func (o *Orchestrator) finish(ctx context.Context, run *models.CrossStoreSync) {
	o.mu.Lock()
	var m models.SyncMetrics
	var storeMs float64
	for _, r := range run.PerStoreResults {
		if r.Success {
			m.SuccessfulStores++
		} else {
			m.FailedStores++
		}
		m.TotalItems += r.ItemsProcessed
		storeMs += float64(r.Duration().Milliseconds())
		for _, a := range r.RepairActions {
			if a.Outcome == models.RepairOutcomeSuccess {
				m.RepairsSuccessful++
			}
		}
	}
	finished := o.now()
	m.TotalDurationMs = finished.Sub(run.StartedAt).Milliseconds()
	if n := len(run.PerStoreResults); n > 0 {
		m.AverageStoreMs = storeMs / float64(n)
	}
	run.Metrics = m
	run.Status = models.OverallStatus(m.SuccessfulStores, len(run.PerStoreResults))
	run.FinishedAt = &finished

	delete(o.active, run.ID)
	o.history = append(o.history, snapshot(run))
	if len(o.history) > historyCap {
		o.history = o.history[len(o.history)-historyCap:]
	}
	o.mu.Unlock()

	o.tracker.Record(run)
	syncDuration.WithLabelValues(string(run.Strategy), run.Status).Observe(finished.Sub(run.StartedAt).Seconds())

	if o.recorder != nil {
		if err := o.recorder.RecordSync(ctx, run); err != nil {
			config.LogError(o.logger, "storesync", "finish", "record sync", run.ID, err)
		}
	}
	if err := o.notifier.Notify(ctx, notificationLevel(run.Status), summaryMessage(run)); err != nil {
		config.LogError(o.logger, "storesync", "finish", "notify", run.ID, err)
	}

	entry := o.logger.WithFields(logrus.Fields{
		"field":      "StoreSync",
		"syncId":     run.ID,
		"clusterId":  run.ClusterId,
		"status":     run.Status,
		"successful": m.SuccessfulStores,
		"failed":     m.FailedStores,
		"durationMs": m.TotalDurationMs,
	})
	if run.Status == models.SyncStatusCompleted {
		entry.Info("cluster sync finished")
	} else {
		entry.Warn("cluster sync finished with failures")
	}
}

func notificationLevel(status string) notifier.Level {
	switch status {
	case models.SyncStatusCompleted:
		return notifier.LevelSuccess
	case models.SyncStatusPartial:
		return notifier.LevelWarning
	default:
		return notifier.LevelError
	}
}

func summaryMessage(run *models.CrossStoreSync) string {
	return fmt.Sprintf("Cluster %s sync %s: %d/%d stores succeeded, %d items in %dms",
		run.ClusterId, run.Status, run.Metrics.SuccessfulStores, len(run.PerStoreResults),
		run.Metrics.TotalItems, run.Metrics.TotalDurationMs)
}
