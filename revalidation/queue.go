// Package revalidation re-checks products when their product, recipe or template
// rows change, and repairs the ones that broke.
package revalidation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/datastore"
	"github.com/mmdatafocus/recipe_integrity/models"
)

var (
	processedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_queue_processed_total",
		Help: "Revalidation events processed by result.",
	}, []string{"result"})

	queueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "integrity_queue_length",
		Help: "Events waiting in the revalidation backlog.",
	})
)

const recentEventsCap = 50

var watchedTables = []string{models.TableProducts, models.TableRecipes, models.TableRecipeTemplates}

type Validator interface {
	Validate(ctx context.Context, productId int) (models.ValidationResult, error)
}

type Repairer interface {
	RepairStore(ctx context.Context, storeId int) models.RepairSummary
}

type Status struct {
	QueueLength  int                      `json:"queue_length"`
	IsProcessing bool                     `json:"is_processing"`
	RecentEvents []models.ValidationEvent `json:"recent_events"`
}

type Queue struct {
	repo      datastore.Repository
	validator Validator
	repairer  Repairer
	backlog   Backlog
	feed      datastore.ChangeFeed
	runtime   *config.Runtime
	logger    *logrus.Logger
	now       func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	running bool

	recentMu sync.Mutex
	recent   []models.ValidationEvent
}

// NewQueue builds a stopped queue. feed may be nil, in which case only explicit
// Enqueue and HandleChange calls feed the backlog.
func NewQueue(repo datastore.Repository, v Validator, repairer Repairer, backlog Backlog, feed datastore.ChangeFeed, runtime *config.Runtime, logger *logrus.Logger) *Queue {
	if backlog == nil {
		backlog = NewMemoryBacklog()
	}
	if logger == nil {
		logger = config.NopLogger()
	}
	return &Queue{
		repo:      repo,
		validator: v,
		repairer:  repairer,
		backlog:   backlog,
		feed:      feed,
		runtime:   runtime,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (q *Queue) Enqueue(ctx context.Context, ev models.ValidationEvent) error {
	if ev.ProductId <= 0 {
		return errors.New("revalidation event without product id")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = q.now()
	}
	ev.Result, ev.Repaired, ev.ProcessedAt, ev.Error = nil, false, nil, ""
	if err := q.backlog.Push(ctx, ev); err != nil {
		config.LogError(q.logger, "revalidation", "Enqueue", "push event", ev, err)
		return err
	}
	q.updateLength(ctx)
	return nil
}

// Start launches the worker, and the change feed subscription when a feed is
// configured. A running worker is stopped first so repeated calls never stack.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopLocked()

	runCtx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}

	if q.feed != nil {
		changes, err := q.feed.SubscribeToChanges(runCtx, watchedTables...)
		if err != nil {
			cancel()
			config.LogError(q.logger, "revalidation", "Start", "subscribe to changes", watchedTables, err)
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.consume(runCtx, changes)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		q.work(runCtx)
	}()

	q.cancel, q.wg, q.running = cancel, wg, true
	q.logger.WithFields(logrus.Fields{
		"field": "RevalidationQueue",
		"feed":  q.feed != nil,
	}).Info("revalidation worker started")
	return nil
}

// Stop cancels the worker and waits for it to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopLocked()
}

func (q *Queue) stopLocked() {
	if !q.running {
		return
	}
	q.cancel()
	q.wg.Wait()
	q.cancel, q.wg, q.running = nil, nil, false
	q.logger.WithFields(logrus.Fields{"field": "RevalidationQueue"}).Info("revalidation worker stopped")
}

func (q *Queue) Status(ctx context.Context) Status {
	n, err := q.backlog.Len(ctx)
	if err != nil {
		config.LogError(q.logger, "revalidation", "Status", "backlog length", nil, err)
	}
	q.mu.Lock()
	running := q.running
	q.mu.Unlock()

	q.recentMu.Lock()
	recent := make([]models.ValidationEvent, len(q.recent))
	copy(recent, q.recent)
	q.recentMu.Unlock()

	return Status{QueueLength: n, IsProcessing: running, RecentEvents: recent}
}

// ForceValidate processes a manual event for productId right away, bypassing the
// backlog. It returns nil when the product is missing or cannot be read.
func (q *Queue) ForceValidate(ctx context.Context, productId int) *models.ValidationEvent {
	ev := q.process(ctx, models.ValidationEvent{
		EventType: models.ValidationEventManual,
		ProductId: productId,
		Timestamp: q.now(),
	})
	if ev.Error != "" {
		return nil
	}
	return &ev
}

// HandleChange turns one change feed entry into events for every affected
// product. Deletes leave nothing to revalidate and are ignored.
func (q *Queue) HandleChange(ctx context.Context, change models.ChangeEvent) error {
	if change.Op == models.ChangeOpDelete {
		return nil
	}

	var (
		eventType models.ValidationEventType
		storeId   int
		ids       []int
	)
	switch change.Table {
	case models.TableProducts:
		var p models.Product
		if err := change.Row(&p); err != nil {
			return err
		}
		eventType, storeId, ids = models.ValidationEventProductUpsert, p.StoreId, []int{p.ID}
	case models.TableRecipes:
		var rc models.Recipe
		if err := change.Row(&rc); err != nil {
			return err
		}
		found, err := q.repo.GetProductIdsByRecipe(ctx, rc.ID)
		if err != nil {
			return err
		}
		eventType, storeId, ids = models.ValidationEventRecipeUpsert, rc.StoreId, found
	case models.TableRecipeTemplates:
		var t models.RecipeTemplate
		if err := change.Row(&t); err != nil {
			return err
		}
		// template changes reach products of any store; the store is resolved while processing
		found, err := q.repo.GetProductIdsByTemplate(ctx, t.ID)
		if err != nil {
			return err
		}
		eventType, ids = models.ValidationEventTemplateUpsert, found
	default:
		return nil
	}

	var errs []error
	for _, id := range ids {
		err := q.Enqueue(ctx, models.ValidationEvent{
			EventType: eventType,
			ProductId: id,
			StoreId:   storeId,
			Timestamp: change.OccurredAt,
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (q *Queue) consume(ctx context.Context, changes <-chan models.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if err := q.HandleChange(ctx, change); err != nil {
				config.LogError(q.logger, "revalidation", "consume", "handle change", change.Table, err)
			}
		}
	}
}

func (q *Queue) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, err := q.backlog.Pop(ctx)
		if err != nil {
			config.LogError(q.logger, "revalidation", "work", "pop event", nil, err)
		}
		if ev == nil {
			if !sleep(ctx, q.runtime.QueueIdleDelay()) {
				return
			}
			continue
		}
		q.updateLength(ctx)
		q.process(ctx, *ev)
		if !sleep(ctx, q.runtime.QueueItemDelay()) {
			return
		}
	}
}

// process revalidates the product and repairs its store when the product is
// broken in a way repair can address.
func (q *Queue) process(ctx context.Context, ev models.ValidationEvent) models.ValidationEvent {
	res, err := q.validator.Validate(ctx, ev.ProductId)
	if err != nil {
		ev.Error = res.Reason
		q.record(&ev, "error")
		if !errors.Is(err, models.ErrNotFound) {
			config.LogError(q.logger, "revalidation", "process", "validate", ev.ProductId, err)
		}
		return ev
	}
	if ev.StoreId == 0 {
		ev.StoreId = res.StoreId
	}

	result := "valid"
	if !res.CanDeduct && res.Status != models.ValidationStatusInactive && q.repairer != nil {
		summary := q.repairer.RepairStore(ctx, ev.StoreId)
		ev.Repaired = summary.RepairedProduct(ev.ProductId)
		result = "unrepaired"
		if ev.Repaired {
			result = "repaired"
			if after, err := q.validator.Validate(ctx, ev.ProductId); err == nil {
				res = after
			}
		}
	} else if !res.CanDeduct {
		result = "invalid"
	}
	ev.Result = &res
	q.record(&ev, result)

	q.logger.WithFields(logrus.Fields{
		"field":     "RevalidationQueue",
		"eventType": ev.EventType,
		"productId": ev.ProductId,
		"storeId":   ev.StoreId,
		"status":    res.Status,
		"repaired":  ev.Repaired,
	}).Debug("product revalidated")
	return ev
}

func (q *Queue) record(ev *models.ValidationEvent, result string) {
	at := q.now()
	ev.ProcessedAt = &at
	processedTotal.WithLabelValues(result).Inc()

	q.recentMu.Lock()
	defer q.recentMu.Unlock()
	q.recent = append(q.recent, *ev)
	if len(q.recent) > recentEventsCap {
		q.recent = q.recent[len(q.recent)-recentEventsCap:]
	}
}

func (q *Queue) updateLength(ctx context.Context) {
	if n, err := q.backlog.Len(ctx); err == nil {
		queueLength.Set(float64(n))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
