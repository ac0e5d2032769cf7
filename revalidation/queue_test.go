package revalidation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/datastore"
	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/repair"
	"github.com/mmdatafocus/recipe_integrity/utils"
	"github.com/mmdatafocus/recipe_integrity/validator"
)

func fastRuntime() *config.Runtime {
	s := config.DefaultIntegritySettings()
	s.QueueItemDelay = 0
	s.QueueIdleDelay = 10 * time.Millisecond
	return config.NewRuntime(s)
}

type fixture struct {
	ctx    context.Context
	broker *datastore.Broker
	repo   *datastore.MemoryRepository
	queue  *Queue
}

func newFixture(t *testing.T, withFeed bool) *fixture {
	ctx := context.Background()
	broker := datastore.NewBroker(0, nil)
	repo := datastore.NewMemoryRepository(broker)
	_, err := repo.UpsertStore(ctx, models.Store{ID: 1, Name: "Harbour"})
	require.NoError(t, err)

	var feed datastore.ChangeFeed
	if withFeed {
		feed = broker
	}
	rt := fastRuntime()
	engine := repair.NewEngine(repo, nil, rt, nil)
	q := NewQueue(repo, validator.New(repo, nil, nil), engine, NewMemoryBacklog(), feed, rt, nil)
	t.Cleanup(q.Stop)
	return &fixture{ctx: ctx, broker: broker, repo: repo, queue: q}
}

func (f *fixture) linkedProduct(t *testing.T, name string, templateId int) (*models.Product, *models.Recipe) {
	p, err := f.repo.UpsertProduct(f.ctx, models.NewProduct{StoreId: 1, Name: name})
	require.NoError(t, err)
	rc, err := f.repo.UpsertRecipe(f.ctx, models.NewRecipe{ProductId: p.ID, StoreId: 1, TemplateId: utils.NewInt(templateId), Name: name})
	require.NoError(t, err)
	_, err = f.repo.UpsertProduct(f.ctx, models.NewProduct{ID: p.ID, StoreId: 1, Name: name, RecipeId: &rc.ID})
	require.NoError(t, err)
	return p, rc
}

func (f *fixture) drain(t *testing.T) []models.ValidationEvent {
	var out []models.ValidationEvent
	for {
		ev, err := f.queue.backlog.Pop(f.ctx)
		require.NoError(t, err)
		if ev == nil {
			return out
		}
		out = append(out, *ev)
	}
}

func TestHandleChangeFansOut(t *testing.T) {
	f := newFixture(t, false)
	tp, err := f.repo.UpsertTemplate(f.ctx, models.NewRecipeTemplate{Name: "Latte"})
	require.NoError(t, err)
	a, rcA := f.linkedProduct(t, "Latte", tp.ID)
	b, _ := f.linkedProduct(t, "Iced Latte", tp.ID)

	t.Run("template change reaches every product using it", func(t *testing.T) {
		require.NoError(t, f.queue.HandleChange(f.ctx, models.NewChangeEvent(models.TableRecipeTemplates, models.ChangeOpUpdate, nil, tp)))
		events := f.drain(t)
		require.Len(t, events, 2)
		assert.Equal(t, a.ID, events[0].ProductId)
		assert.Equal(t, b.ID, events[1].ProductId)
		assert.Equal(t, models.ValidationEventTemplateUpsert, events[0].EventType)
	})

	t.Run("recipe change reaches its product", func(t *testing.T) {
		require.NoError(t, f.queue.HandleChange(f.ctx, models.NewChangeEvent(models.TableRecipes, models.ChangeOpInsert, nil, rcA)))
		events := f.drain(t)
		require.Len(t, events, 1)
		assert.Equal(t, a.ID, events[0].ProductId)
		assert.Equal(t, 1, events[0].StoreId)
		assert.Equal(t, models.ValidationEventRecipeUpsert, events[0].EventType)
	})

	t.Run("product change enqueues the product", func(t *testing.T) {
		p, err := f.repo.GetProduct(f.ctx, b.ID)
		require.NoError(t, err)
		require.NoError(t, f.queue.HandleChange(f.ctx, models.NewChangeEvent(models.TableProducts, models.ChangeOpUpdate, nil, p.Product)))
		events := f.drain(t)
		require.Len(t, events, 1)
		assert.Equal(t, models.ValidationEventProductUpsert, events[0].EventType)
	})

	t.Run("deletes and unrelated tables are ignored", func(t *testing.T) {
		require.NoError(t, f.queue.HandleChange(f.ctx, models.NewChangeEvent(models.TableRecipes, models.ChangeOpDelete, rcA, nil)))
		require.NoError(t, f.queue.HandleChange(f.ctx, models.NewChangeEvent(models.TableStores, models.ChangeOpUpdate, nil, models.Store{ID: 1})))
		assert.Empty(t, f.drain(t))
	})
}

func TestWorkerRepairsChangedProduct(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.repo.UpsertTemplate(f.ctx, models.NewRecipeTemplate{Name: "Cortado"})
	require.NoError(t, err)
	require.NoError(t, f.queue.Start(f.ctx))

	p, err := f.repo.UpsertProduct(f.ctx, models.NewProduct{StoreId: 1, Name: "Cortado"})
	require.NoError(t, err)

	var processed models.ValidationEvent
	require.Eventually(t, func() bool {
		for _, ev := range f.queue.Status(f.ctx).RecentEvents {
			if ev.ProductId == p.ID {
				processed = ev
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, models.ValidationEventProductUpsert, processed.EventType)
	assert.True(t, processed.Repaired)
	require.NotNil(t, processed.Result)
	assert.Equal(t, models.ValidationStatusValid, processed.Result.Status)
	assert.NotNil(t, processed.ProcessedAt)
}

func TestStartReplacesRunningWorker(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.queue.Start(f.ctx))
	require.NoError(t, f.queue.Start(f.ctx))
	require.NoError(t, f.queue.Start(f.ctx))

	assert.Eventually(t, func() bool { return f.broker.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, f.queue.Status(f.ctx).IsProcessing)

	f.queue.Stop()
	assert.False(t, f.queue.Status(f.ctx).IsProcessing)
	assert.Eventually(t, func() bool { return f.broker.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	f.queue.Stop()
}

func TestEventsConsumedOnce(t *testing.T) {
	f := newFixture(t, false)
	tp, err := f.repo.UpsertTemplate(f.ctx, models.NewRecipeTemplate{Name: "Mocha"})
	require.NoError(t, err)
	p, _ := f.linkedProduct(t, "Mocha", tp.ID)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.queue.Enqueue(f.ctx, models.ValidationEvent{EventType: models.ValidationEventManual, ProductId: p.ID, StoreId: 1}))
	}
	require.NoError(t, f.queue.Start(f.ctx))
	require.Eventually(t, func() bool {
		st := f.queue.Status(f.ctx)
		return st.QueueLength == 0 && len(st.RecentEvents) == 3
	}, 2*time.Second, 10*time.Millisecond)
	f.queue.Stop()
	assert.Len(t, f.queue.Status(f.ctx).RecentEvents, 3)
}

func TestEnqueueRejectsMissingProduct(t *testing.T) {
	f := newFixture(t, false)
	assert.Error(t, f.queue.Enqueue(f.ctx, models.ValidationEvent{EventType: models.ValidationEventManual}))
}

func TestForceValidate(t *testing.T) {
	f := newFixture(t, false)
	tp, err := f.repo.UpsertTemplate(f.ctx, models.NewRecipeTemplate{Name: "Chai", IsActive: utils.NewFalse()})
	require.NoError(t, err)
	p, _ := f.linkedProduct(t, "Chai", tp.ID)

	assert.Nil(t, f.queue.ForceValidate(f.ctx, 404))

	ev := f.queue.ForceValidate(f.ctx, p.ID)
	require.NotNil(t, ev)
	assert.Equal(t, models.ValidationEventManual, ev.EventType)
	assert.False(t, ev.Repaired, "no active template to swap to")
	assert.Equal(t, models.ValidationStatusInactiveTemplate, ev.Result.Status)
	assert.NotNil(t, ev.ProcessedAt)

	f.repo.SetHook(func(op string, arg int) error {
		if op == "GetProduct" {
			return assert.AnError
		}
		return nil
	})
	assert.Nil(t, f.queue.ForceValidate(f.ctx, p.ID))
}

func TestRecentEventsBounded(t *testing.T) {
	f := newFixture(t, false)
	tp, err := f.repo.UpsertTemplate(f.ctx, models.NewRecipeTemplate{Name: "Ristretto"})
	require.NoError(t, err)
	p, _ := f.linkedProduct(t, "Ristretto", tp.ID)

	for i := 0; i < recentEventsCap+15; i++ {
		require.NotNil(t, f.queue.ForceValidate(f.ctx, p.ID))
	}
	assert.Len(t, f.queue.Status(f.ctx).RecentEvents, recentEventsCap)
}

func TestRedisBacklogFIFO(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisBacklog(rdb)
	ctx := context.Background()

	for _, id := range []int{3, 1, 2} {
		require.NoError(t, b.Push(ctx, models.ValidationEvent{EventType: models.ValidationEventManual, ProductId: id}))
	}
	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var got []int
	for {
		ev, err := b.Pop(ctx)
		require.NoError(t, err)
		if ev == nil {
			break
		}
		got = append(got, ev.ProductId)
	}
	assert.Equal(t, []int{3, 1, 2}, got)

	n, err = b.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
