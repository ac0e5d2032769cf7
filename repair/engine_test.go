package repair

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmdatafocus/recipe_integrity/datastore"
	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/utils"
	"github.com/mmdatafocus/recipe_integrity/validator"
)

type storeBuilder struct {
	t    *testing.T
	ctx  context.Context
	repo *datastore.MemoryRepository
}

func newStoreBuilder(t *testing.T) *storeBuilder {
	repo := datastore.NewMemoryRepository(nil)
	b := &storeBuilder{t: t, ctx: context.Background(), repo: repo}
	_, err := repo.UpsertStore(b.ctx, models.Store{ID: 1, Name: "Downtown"})
	require.NoError(t, err)
	return b
}

func (b *storeBuilder) template(name string, active bool) *models.RecipeTemplate {
	tp, err := b.repo.UpsertTemplate(b.ctx, models.NewRecipeTemplate{Name: name, IsActive: &active})
	require.NoError(b.t, err)
	return tp
}

func (b *storeBuilder) product(name string) *models.Product {
	p, err := b.repo.UpsertProduct(b.ctx, models.NewProduct{StoreId: 1, Name: name})
	require.NoError(b.t, err)
	return p
}

func (b *storeBuilder) productWithRecipe(name string, templateId *int) (*models.Product, *models.Recipe) {
	p := b.product(name)
	rc, err := b.repo.UpsertRecipe(b.ctx, models.NewRecipe{ProductId: p.ID, StoreId: 1, TemplateId: templateId, Name: name})
	require.NoError(b.t, err)
	_, err = b.repo.UpsertProduct(b.ctx, models.NewProduct{ID: p.ID, StoreId: 1, Name: name, RecipeId: &rc.ID})
	require.NoError(b.t, err)
	return p, rc
}

func (b *storeBuilder) status(id int) models.ValidationStatus {
	res, err := validator.New(b.repo, nil, nil).Validate(b.ctx, id)
	require.NoError(b.t, err)
	return res.Status
}

func TestRepairNoRecipe(t *testing.T) {
	b := newStoreBuilder(t)
	latte := b.template("Latte", true)
	p := b.product("Latte")

	summary := NewEngine(b.repo, nil, nil, nil).RepairStore(b.ctx, 1)
	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, 1, summary.Successful)
	require.Len(t, summary.Log, 1)
	entry := summary.Log[0]
	assert.True(t, entry.Success)
	assert.Equal(t, models.RepairActionCreateRecipe, entry.Action)
	assert.Equal(t, models.ValidationStatusNoRecipe, entry.IssueType)
	assert.Equal(t, latte.ID, *entry.TemplateId)
	assert.NotNil(t, entry.RecipeId)
	assert.Equal(t, models.ValidationStatusValid, b.status(p.ID))
}

func TestRepairNoRecipeLinkFailureIsReported(t *testing.T) {
	b := newStoreBuilder(t)
	b.template("Latte", true)
	p := b.product("Latte")
	b.repo.SetHook(func(op string, arg int) error {
		if op == "LinkProductRecipe" {
			return errors.New("deadlock")
		}
		return nil
	})

	summary := NewEngine(b.repo, nil, nil, nil).RepairStore(b.ctx, 1)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Log, 1)
	assert.Equal(t, models.RepairOutcomeFailed, summary.Log[0].Outcome)
	assert.False(t, summary.Log[0].Success)
	assert.Contains(t, summary.Log[0].Error, "created but linking product failed")
	assert.Contains(t, summary.Log[0].Error, "deadlock")
	assert.NotNil(t, summary.Log[0].RecipeId)
	assert.Equal(t, p.ID, summary.Log[0].ProductId)
}

func TestRepairNoTemplate(t *testing.T) {
	b := newStoreBuilder(t)
	mocha := b.template("Mocha", true)
	p, _ := b.productWithRecipe("Mocha Grande", nil)

	summary := NewEngine(b.repo, nil, nil, nil).RepairStore(b.ctx, 1)
	require.Len(t, summary.Log, 1)
	assert.Equal(t, models.RepairActionLinkTemplate, summary.Log[0].Action)
	assert.Equal(t, mocha.ID, *summary.Log[0].TemplateId)
	assert.Equal(t, models.ValidationStatusValid, b.status(p.ID))
}

func TestRepairNoMatchFails(t *testing.T) {
	b := newStoreBuilder(t)
	b.template("Mocha", true)
	b.product("Green Tea")

	summary := NewEngine(b.repo, nil, nil, nil).RepairStore(b.ctx, 1)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, summary.Unresolved)
	assert.Contains(t, summary.Log[0].Error, "available: Mocha")
}

func TestRepairInactiveTemplate(t *testing.T) {
	t.Run("swaps to active replacement", func(t *testing.T) {
		b := newStoreBuilder(t)
		old := b.template("Pumpkin Spice", false)
		fresh := b.template("Pumpkin Spice Latte", true)
		p, _ := b.productWithRecipe("PSL", &old.ID)

		summary := NewEngine(b.repo, nil, nil, nil).RepairStore(b.ctx, 1)
		require.Len(t, summary.Log, 1)
		assert.Equal(t, models.RepairActionSwapTemplate, summary.Log[0].Action)
		assert.Equal(t, fresh.ID, *summary.Log[0].TemplateId)
		assert.Equal(t, models.ValidationStatusValid, b.status(p.ID))
	})

	t.Run("unresolved without replacement", func(t *testing.T) {
		b := newStoreBuilder(t)
		old := b.template("Pumpkin Spice", false)
		b.template("Espresso", true)
		p, _ := b.productWithRecipe("Seasonal Special", &old.ID)

		summary := NewEngine(b.repo, nil, nil, nil).RepairStore(b.ctx, 1)
		assert.Equal(t, 1, summary.Attempted)
		assert.Equal(t, 0, summary.Failed)
		assert.Equal(t, []int{p.ID}, summary.Unresolved)
		assert.Equal(t, models.RepairOutcomeUnresolved, summary.Log[0].Outcome)
		assert.Contains(t, summary.Log[0].Error, models.ErrRepairUnresolved.Error())
		assert.Equal(t, 0, b.repo.Calls("UpdateRecipeTemplate"))
	})
}

func TestRepairIsIdempotentOnValidStore(t *testing.T) {
	b := newStoreBuilder(t)
	latte := b.template("Latte", true)
	b.productWithRecipe("Latte", &latte.ID)
	b.productWithRecipe("Latte Large", &latte.ID)

	summary := NewEngine(b.repo, nil, nil, nil).RepairStore(b.ctx, 1)
	assert.Equal(t, 0, summary.Attempted)
	assert.Empty(t, summary.Log)
	assert.Equal(t, 0, b.repo.Calls("CreateRecipe"))
	assert.Equal(t, 0, b.repo.Calls("UpdateRecipeTemplate"))
	assert.Equal(t, 0, b.repo.Calls("LinkProductRecipe"))
	assert.Equal(t, 0, b.repo.Calls("GetActiveTemplates"))
}

func TestRepairSkipsInactiveProducts(t *testing.T) {
	b := newStoreBuilder(t)
	b.template("Latte", true)
	_, err := b.repo.UpsertProduct(b.ctx, models.NewProduct{StoreId: 1, Name: "Latte", IsActive: utils.NewFalse()})
	require.NoError(t, err)

	summary := NewEngine(b.repo, nil, nil, nil).RepairStore(b.ctx, 1)
	assert.Equal(t, 0, summary.Attempted)
}

func TestRepairStoreLoadFailure(t *testing.T) {
	b := newStoreBuilder(t)
	b.repo.SetHook(func(op string, arg int) error {
		if op == "GetProductsByStore" {
			return errors.New("timeout")
		}
		return nil
	})
	summary := NewEngine(b.repo, nil, nil, nil).RepairStore(b.ctx, 1)
	require.Len(t, summary.Log, 1)
	assert.Equal(t, models.RepairActionLoadStore, summary.Log[0].Action)
	assert.Equal(t, 1, summary.Failed)
}

type failingLocker struct{}

func (failingLocker) Lock(ctx context.Context, storeId int) (func(), error) {
	return nil, errors.New("lock busy")
}

func TestRepairStoreLockFailureMutatesNothing(t *testing.T) {
	b := newStoreBuilder(t)
	b.template("Latte", true)
	b.product("Latte")

	summary := NewEngine(b.repo, failingLocker{}, nil, nil).RepairStore(b.ctx, 1)
	require.Len(t, summary.Log, 1)
	assert.Equal(t, models.RepairActionAcquireLock, summary.Log[0].Action)
	assert.Equal(t, 0, b.repo.Calls("GetProductsByStore"))
	assert.Equal(t, 0, b.repo.Calls("CreateRecipe"))
}

func TestRepairProduct(t *testing.T) {
	b := newStoreBuilder(t)
	b.template("Latte", true)
	target := b.product("Latte")
	other := b.product("Latte Large")

	summary := NewEngine(b.repo, nil, nil, nil).RepairProduct(b.ctx, target.ID)
	assert.Equal(t, 1, summary.StoreId)
	assert.True(t, summary.RepairedProduct(target.ID))
	assert.Equal(t, models.ValidationStatusNoRecipe, b.status(other.ID))

	summary = NewEngine(b.repo, nil, nil, nil).RepairProduct(b.ctx, 999)
	assert.Equal(t, 1, summary.Failed)
}

type summaryRecorder struct {
	mu        sync.Mutex
	summaries []models.RepairSummary
}

func (r *summaryRecorder) RecordRepairs(ctx context.Context, s models.RepairSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return nil
}

func TestRepairHooks(t *testing.T) {
	b := newStoreBuilder(t)
	b.template("Latte", true)
	b.product("Latte")

	rec := &summaryRecorder{}
	var invalidated []int
	e := NewEngine(b.repo, nil, nil, nil)
	e.SetRecorder(rec)
	e.OnRepaired(func(ctx context.Context, storeId int) { invalidated = append(invalidated, storeId) })

	e.RepairStore(b.ctx, 1)
	assert.Equal(t, []int{1}, invalidated)
	require.Len(t, rec.summaries, 1)

	e.RepairStore(b.ctx, 1)
	assert.Equal(t, []int{1}, invalidated, "nothing repaired on the second pass")
	assert.Len(t, rec.summaries, 1)
}

func TestRepairStoreSerializedPerStore(t *testing.T) {
	b := newStoreBuilder(t)
	b.template("Latte", true)
	for i := 0; i < 3; i++ {
		b.product("Latte")
	}

	var active, maxActive int32
	b.repo.SetHook(func(op string, arg int) error {
		if op == "GetProductsByStore" {
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}
		return nil
	})

	e := NewEngine(b.repo, NewLocalLocker(), nil, nil)
	var wg sync.WaitGroup
	var total int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := e.RepairStore(b.ctx, 1)
			atomic.AddInt32(&total, int32(s.Successful))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxActive)
	assert.EqualValues(t, 3, total, "each product repaired exactly once")
}
