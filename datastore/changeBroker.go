package datastore

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/models"
)

var changesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "integrity_change_events_dropped_total",
	Help: "Change events dropped because a subscriber buffer was full.",
}, []string{"table"})

const defaultBrokerBuffer = 256

type subscription struct {
	ch     chan models.ChangeEvent
	tables map[string]struct{}
}

func (s *subscription) wants(table string) bool {
	if len(s.tables) == 0 {
		return true
	}
	_, ok := s.tables[table]
	return ok
}

// Broker fans change events out to in-process subscribers. It is both the
// Publisher handed to repositories and the ChangeFeed handed to the queue.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextId int
	buffer int
	logger *logrus.Logger
}

func NewBroker(buffer int, logger *logrus.Logger) *Broker {
	if buffer <= 0 {
		buffer = defaultBrokerBuffer
	}
	if logger == nil {
		logger = config.NopLogger()
	}
	return &Broker{subs: make(map[int]*subscription), buffer: buffer, logger: logger}
}

// PublishChange never blocks: a subscriber whose buffer is full misses the event.
func (b *Broker) PublishChange(ctx context.Context, ev models.ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		if !sub.wants(ev.Table) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			changesDropped.WithLabelValues(ev.Table).Inc()
			b.logger.WithFields(logrus.Fields{
				"field":        "Broker",
				"subscriberId": id,
				"table":        ev.Table,
				"op":           ev.Op,
			}).Warn("subscriber buffer full, change event dropped")
		}
	}
	return nil
}

func (b *Broker) SubscribeToChanges(ctx context.Context, tables ...string) (<-chan models.ChangeEvent, error) {
	sub := &subscription{ch: make(chan models.ChangeEvent, b.buffer), tables: make(map[string]struct{}, len(tables))}
	for _, t := range tables {
		sub.tables[t] = struct{}{}
	}

	b.mu.Lock()
	b.nextId++
	id := b.nextId
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(sub.ch)
		b.mu.Unlock()
	}()
	return sub.ch, nil
}

func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
