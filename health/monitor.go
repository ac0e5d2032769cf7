// Package health rolls validator results up into per-store health scores.
package health

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/datastore"
	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/validator"
)

var (
	storeHealthGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "integrity_store_health_pct",
		Help: "Last computed health percentage per store.",
	}, []string{"store"})
	healthComputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_health_computations_total",
		Help: "Health computations by result.",
	}, []string{"result"})
)

// ClassifyTrend: above improvingAbove is improving, below deterioratingBelow is
// deteriorating, both boundaries themselves are stable.
func ClassifyTrend(healthPct, improvingAbove, deterioratingBelow int) models.HealthTrend {
	switch {
	case healthPct > improvingAbove:
		return models.HealthTrendImproving
	case healthPct < deterioratingBelow:
		return models.HealthTrendDeteriorating
	default:
		return models.HealthTrendStable
	}
}

// Rollup tallies validator results for one store.
func Rollup(storeId int, results []models.ValidationResult, issueCap, improvingAbove, deterioratingBelow int, now time.Time) models.HealthMetrics {
	m := models.HealthMetrics{
		StoreId:        storeId,
		Total:          len(results),
		CriticalIssues: []models.HealthIssue{},
		Warnings:       []models.HealthIssue{},
		LastChecked:    now,
	}
	for _, r := range results {
		if r.CanDeduct {
			m.Valid++
			continue
		}
		m.Invalid++
		issue := models.HealthIssue{ProductId: r.ProductId, ProductName: r.ProductName, Status: r.Status, Reason: r.Reason}
		if r.Status == models.ValidationStatusNoTemplate {
			if len(m.CriticalIssues) < issueCap {
				m.CriticalIssues = append(m.CriticalIssues, issue)
			}
		} else if len(m.Warnings) < issueCap {
			m.Warnings = append(m.Warnings, issue)
		}
	}
	if m.Total == 0 {
		m.HealthPct = 100
		m.Trend = models.HealthTrendStable
		return m
	}
	m.HealthPct = int(math.Round(float64(m.Valid) / float64(m.Total) * 100))
	m.Trend = ClassifyTrend(m.HealthPct, improvingAbove, deterioratingBelow)
	return m
}

type Monitor struct {
	repo      datastore.Repository
	validator *validator.Validator
	cache     Cache
	runtime   *config.Runtime
	history   *History
	group     singleflight.Group
	logger    *logrus.Logger
	now       func() time.Time
}

func NewMonitor(repo datastore.Repository, cache Cache, runtime *config.Runtime, logger *logrus.Logger) *Monitor {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = config.NopLogger()
	}
	return &Monitor{
		repo:      repo,
		validator: validator.New(repo, nil, logger),
		cache:     cache,
		runtime:   runtime,
		history:   NewHistory(defaultHistorySize),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Monitor) History() *History { return m.history }

// StoreHealth serves from cache, otherwise computes synchronously. Concurrent misses
// for the same store share one computation. A failed fetch yields degraded metrics
// that are not cached.
func (m *Monitor) StoreHealth(ctx context.Context, storeId int) models.HealthMetrics {
	if cached, ok := m.cache.Get(ctx, storeId); ok {
		healthComputations.WithLabelValues("cache_hit").Inc()
		return *cached
	}
	v, _, _ := m.group.Do(strconv.Itoa(storeId), func() (any, error) {
		if cached, ok := m.cache.Get(ctx, storeId); ok {
			return *cached, nil
		}
		metrics := m.compute(ctx, storeId)
		if !metrics.Degraded() {
			m.cache.Set(ctx, metrics, m.runtime.HealthCacheTTL())
		}
		return metrics, nil
	})
	return v.(models.HealthMetrics)
}

func (m *Monitor) compute(ctx context.Context, storeId int) models.HealthMetrics {
	results, err := m.validator.ValidateStore(ctx, storeId, true)
	if err != nil {
		healthComputations.WithLabelValues("degraded").Inc()
		config.LogError(m.logger, "health", "StoreHealth", "validate store", storeId, err)
		return models.HealthMetrics{
			StoreId:        storeId,
			HealthPct:      0,
			CriticalIssues: []models.HealthIssue{},
			Warnings:       []models.HealthIssue{},
			Trend:          models.HealthTrendDeteriorating,
			LastChecked:    m.now(),
			Error:          err.Error(),
		}
	}
	metrics := Rollup(storeId, results, m.runtime.RepairLogCap(), m.runtime.ImprovingAbove(), m.runtime.DeterioratingBelow(), m.now())
	storeHealthGauge.WithLabelValues(strconv.Itoa(storeId)).Set(float64(metrics.HealthPct))
	healthComputations.WithLabelValues("computed").Inc()
	return metrics
}

func (m *Monitor) Invalidate(ctx context.Context, storeId int) {
	m.cache.Delete(ctx, storeId)
}

// GlobalHealth computes every active store, worst first. Stores are computed
// concurrently up to the configured batch width.
func (m *Monitor) GlobalHealth(ctx context.Context) ([]models.HealthMetrics, error) {
	stores, err := m.repo.GetActiveStores(ctx)
	if err != nil {
		config.LogError(m.logger, "health", "GlobalHealth", "get active stores", nil, err)
		return []models.HealthMetrics{}, err
	}

	out := make([]models.HealthMetrics, len(stores))
	var g errgroup.Group
	g.SetLimit(m.runtime.BatchConcurrency())
	for i, s := range stores {
		i, s := i, s
		g.Go(func() error {
			metrics := m.StoreHealth(ctx, s.ID)
			metrics.StoreName = s.Name
			out[i] = metrics
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].HealthPct != out[j].HealthPct {
			return out[i].HealthPct < out[j].HealthPct
		}
		return out[i].StoreId < out[j].StoreId
	})
	return out, nil
}

// Sweep recomputes every active store, bypassing the cache, and records history samples.
func (m *Monitor) Sweep(ctx context.Context) []models.HealthMetrics {
	stores, err := m.repo.GetActiveStores(ctx)
	if err != nil {
		config.LogError(m.logger, "health", "Sweep", "get active stores", nil, err)
		return nil
	}
	for _, s := range stores {
		m.Invalidate(ctx, s.ID)
	}
	all, err := m.GlobalHealth(ctx)
	if err != nil {
		return nil
	}
	for _, metrics := range all {
		if metrics.Degraded() {
			m.logger.WithFields(logrus.Fields{
				"field":   "HealthSweep",
				"storeId": metrics.StoreId,
			}).Warn("health degraded: " + metrics.Error)
			continue
		}
		m.history.Record(metrics.StoreId, Sample{At: metrics.LastChecked, HealthPct: metrics.HealthPct})
		if metrics.Trend == models.HealthTrendDeteriorating {
			m.logger.WithFields(logrus.Fields{
				"field":     "HealthSweep",
				"storeId":   metrics.StoreId,
				"healthPct": metrics.HealthPct,
				"critical":  len(metrics.CriticalIssues),
				"warnings":  len(metrics.Warnings),
			}).Warn("store health deteriorating")
		}
	}
	return all
}

// Run sweeps on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.WithFields(logrus.Fields{"field": "HealthSweep", "interval": interval.String()}).Info("health sweep started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}
