package health

import (
	"sort"
	"sync"
	"time"
)

const defaultHistorySize = 48

type Sample struct {
	At        time.Time `json:"at"`
	HealthPct int       `json:"health_pct"`
}

// History keeps the most recent sweep samples per store.
type History struct {
	mu      sync.RWMutex
	size    int
	samples map[int][]Sample
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &History{size: size, samples: make(map[int][]Sample)}
}

func (h *History) Record(storeId int, s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := append(h.samples[storeId], s)
	if len(list) > h.size {
		list = list[len(list)-h.size:]
	}
	h.samples[storeId] = list
}

func (h *History) Samples(storeId int) []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.samples[storeId]))
	copy(out, h.samples[storeId])
	return out
}

// Delta is last minus first sample; ok is false with fewer than two samples.
func (h *History) Delta(storeId int) (delta int, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := h.samples[storeId]
	if len(list) < 2 {
		return 0, false
	}
	return list[len(list)-1].HealthPct - list[0].HealthPct, true
}

func (h *History) Stores() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]int, 0, len(h.samples))
	for id := range h.samples {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
