package config

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Names of the parameters that can be tuned while the process runs.
const (
	ParamSimilarityThreshold   = "similarity_threshold"
	ParamBatchConcurrency      = "batch_concurrency"
	ParamHealthCacheTTLSeconds = "health_cache_ttl_seconds"
	ParamQueueItemDelayMs      = "queue_item_delay_ms"
	ParamQueueIdleDelayMs      = "queue_idle_delay_ms"
	ParamImprovingAbove        = "health_improving_above"
	ParamDeterioratingBelow    = "health_deteriorating_below"
	ParamRepairLogCap          = "repair_log_cap"
)

type paramBounds struct {
	min float64
	max float64
}

var runtimeBounds = map[string]paramBounds{
	ParamSimilarityThreshold:   {min: 0.05, max: 1},
	ParamBatchConcurrency:      {min: 1, max: 32},
	ParamHealthCacheTTLSeconds: {min: 0, max: 3600},
	ParamQueueItemDelayMs:      {min: 0, max: 60000},
	ParamQueueIdleDelayMs:      {min: 10, max: 600000},
	ParamImprovingAbove:        {min: 0, max: 100},
	ParamDeterioratingBelow:    {min: 0, max: 100},
	ParamRepairLogCap:          {min: 1, max: 1000},
}

// DefaultIntegritySettings mirrors the env-default tags of IntegritySettings.
func DefaultIntegritySettings() IntegritySettings {
	return IntegritySettings{
		SimilarityThreshold: 0.70,
		BatchConcurrency:    3,
		ImprovingAbove:      90,
		DeterioratingBelow:  70,
		RepairLogCap:        10,
		HealthCacheTTL:      30 * time.Second,
		HealthSweepInterval: 5 * time.Minute,
		QueueItemDelay:      100 * time.Millisecond,
		QueueIdleDelay:      5 * time.Second,
		RuleEvalInterval:    time.Minute,
	}
}

// Runtime is the live, adjustable view of the integrity parameters.
// A nil *Runtime answers with the defaults.
type Runtime struct {
	mu     sync.RWMutex
	values map[string]float64
}

func NewRuntime(s IntegritySettings) *Runtime {
	return &Runtime{values: valuesFrom(s)}
}

func valuesFrom(s IntegritySettings) map[string]float64 {
	return map[string]float64{
		ParamSimilarityThreshold:   s.SimilarityThreshold,
		ParamBatchConcurrency:      float64(s.BatchConcurrency),
		ParamHealthCacheTTLSeconds: s.HealthCacheTTL.Seconds(),
		ParamQueueItemDelayMs:      float64(s.QueueItemDelay.Milliseconds()),
		ParamQueueIdleDelayMs:      float64(s.QueueIdleDelay.Milliseconds()),
		ParamImprovingAbove:        float64(s.ImprovingAbove),
		ParamDeterioratingBelow:    float64(s.DeterioratingBelow),
		ParamRepairLogCap:          float64(s.RepairLogCap),
	}
}

var defaultValues = valuesFrom(DefaultIntegritySettings())

func (r *Runtime) Get(name string) float64 {
	if r == nil {
		return defaultValues[name]
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.values[name]
}

// Set changes a parameter and returns its previous value.
func (r *Runtime) Set(name string, value float64) (float64, error) {
	if r == nil {
		return 0, fmt.Errorf("runtime settings not configured")
	}
	b, ok := runtimeBounds[name]
	if !ok {
		return 0, fmt.Errorf("unknown setting %q", name)
	}
	if value < b.min || value > b.max {
		return 0, fmt.Errorf("setting %q out of range [%v, %v]: %v", name, b.min, b.max, value)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch name {
	case ParamImprovingAbove:
		if value < r.values[ParamDeterioratingBelow] {
			return 0, fmt.Errorf("%s must not be below %s", ParamImprovingAbove, ParamDeterioratingBelow)
		}
	case ParamDeterioratingBelow:
		if value > r.values[ParamImprovingAbove] {
			return 0, fmt.Errorf("%s must not be above %s", ParamDeterioratingBelow, ParamImprovingAbove)
		}
	}
	prev := r.values[name]
	r.values[name] = value
	return prev, nil
}

// Snapshot returns a copy of every parameter, keyed by name.
func (r *Runtime) Snapshot() map[string]float64 {
	src := defaultValues
	if r != nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		src = r.values
	}
	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func RuntimeParams() []string {
	names := make([]string, 0, len(runtimeBounds))
	for k := range runtimeBounds {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (r *Runtime) SimilarityThreshold() float64 { return r.Get(ParamSimilarityThreshold) }

func (r *Runtime) BatchConcurrency() int {
	n := int(r.Get(ParamBatchConcurrency))
	if n < 1 {
		return 1
	}
	return n
}

func (r *Runtime) HealthCacheTTL() time.Duration {
	return time.Duration(r.Get(ParamHealthCacheTTLSeconds) * float64(time.Second))
}

func (r *Runtime) QueueItemDelay() time.Duration {
	return time.Duration(r.Get(ParamQueueItemDelayMs)) * time.Millisecond
}

func (r *Runtime) QueueIdleDelay() time.Duration {
	return time.Duration(r.Get(ParamQueueIdleDelayMs)) * time.Millisecond
}

func (r *Runtime) ImprovingAbove() int     { return int(r.Get(ParamImprovingAbove)) }
func (r *Runtime) DeterioratingBelow() int { return int(r.Get(ParamDeterioratingBelow)) }

func (r *Runtime) RepairLogCap() int {
	n := int(r.Get(ParamRepairLogCap))
	if n < 1 {
		return 1
	}
	return n
}
