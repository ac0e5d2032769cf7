package storesync

import (
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/recipe_integrity/models"
)

// Live metric names served by PerformanceTracker.Metric.
const (
	MetricAverageSyncDurationMs = "average_sync_duration_ms"
	MetricSyncSuccessRate       = "sync_success_rate"
	MetricFailedSyncs24h        = "failed_syncs_24h"
	MetricLastSyncDurationMs    = "last_sync_duration_ms"
)

const (
	trackerWindow  = 24 * time.Hour
	trackerMaxRuns = 1000
	trackerDays    = 30
)

type runSample struct {
	at         time.Time
	durationMs float64
	completed  bool
}

type dayStats struct {
	count      int
	totalMs    float64
	successful int
}

// DailyTrend summarises one UTC day of sync runs.
type DailyTrend struct {
	Date                  string  `json:"date"`
	Syncs                 int     `json:"syncs"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
	SuccessRate           float64 `json:"success_rate"`
}

// PerformanceTracker keeps recent sync timings for dashboards and threshold rules.
type PerformanceTracker struct {
	mu   sync.RWMutex
	runs []runSample
	days map[string]*dayStats
	now  func() time.Time
}

func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{
		days: make(map[string]*dayStats),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (t *PerformanceTracker) Record(s *models.CrossStoreSync) {
	if s == nil || s.FinishedAt == nil {
		return
	}
	sample := runSample{
		at:         *s.FinishedAt,
		durationMs: float64(s.Metrics.TotalDurationMs),
		completed:  s.Status == models.SyncStatusCompleted,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs = append(t.runs, sample)
	if len(t.runs) > trackerMaxRuns {
		t.runs = t.runs[len(t.runs)-trackerMaxRuns:]
	}

	key := sample.at.UTC().Format("2006-01-02")
	day, ok := t.days[key]
	if !ok {
		day = &dayStats{}
		t.days[key] = day
		t.pruneDays()
	}
	day.count++
	day.totalMs += sample.durationMs
	if sample.completed {
		day.successful++
	}
}

// pruneDays must be called with t.mu held.
func (t *PerformanceTracker) pruneDays() {
	if len(t.days) <= trackerDays {
		return
	}
	keys := make([]string, 0, len(t.days))
	for k := range t.days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys[:len(keys)-trackerDays] {
		delete(t.days, k)
	}
}

// Metric implements the metric lookup used by threshold rules. Unknown names,
// and every name before the first run, report ok=false.
func (t *PerformanceTracker) Metric(name string) (float64, bool) {
	m := t.Metrics()
	v, ok := m[name]
	return v, ok
}

// Metrics computes the live metrics over the last 24 hours. Durations are the
// plain arithmetic mean of the runs in the window.
func (t *PerformanceTracker) Metrics() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := map[string]float64{}
	if len(t.runs) == 0 {
		return out
	}

	cutoff := t.now().Add(-trackerWindow)
	var count, completed, failed int
	var total float64
	for _, r := range t.runs {
		if r.at.Before(cutoff) {
			continue
		}
		count++
		total += r.durationMs
		if r.completed {
			completed++
		} else {
			failed++
		}
	}
	out[MetricLastSyncDurationMs] = t.runs[len(t.runs)-1].durationMs
	out[MetricFailedSyncs24h] = float64(failed)
	if count > 0 {
		out[MetricAverageSyncDurationMs] = total / float64(count)
		out[MetricSyncSuccessRate] = float64(completed) / float64(count) * 100
	}
	return out
}

// Daily returns the per-day trend, oldest first.
func (t *PerformanceTracker) Daily() []DailyTrend {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]DailyTrend, 0, len(t.days))
	for date, d := range t.days {
		out = append(out, DailyTrend{
			Date:                  date,
			Syncs:                 d.count,
			AverageResponseTimeMs: d.totalMs / float64(d.count),
			SuccessRate:           float64(d.successful) / float64(d.count) * 100,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
