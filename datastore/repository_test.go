package datastore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/utils"
)

type fixture struct {
	latte, mocha                       *models.RecipeTemplate
	linked, bare, noTemplate, inactTpl *models.Product
	inactive, fallback                 *models.Product
	linkedRecipe, noTemplateRecipe     *models.Recipe
	inactTplRecipe                     *models.Recipe
}

func seed(t *testing.T, ctx context.Context, s Store) fixture {
	t.Helper()
	var f fixture
	var err error

	_, err = s.UpsertStore(ctx, models.Store{ID: 1, Name: "Downtown"})
	require.NoError(t, err)
	_, err = s.UpsertStore(ctx, models.Store{ID: 2, Name: "Closed", IsActive: utils.NewFalse()})
	require.NoError(t, err)

	f.latte, err = s.UpsertTemplate(ctx, models.NewRecipeTemplate{Name: "Latte"})
	require.NoError(t, err)
	f.mocha, err = s.UpsertTemplate(ctx, models.NewRecipeTemplate{Name: "Mocha", IsActive: utils.NewFalse()})
	require.NoError(t, err)

	product := func(name string, active bool) *models.Product {
		p, err := s.UpsertProduct(ctx, models.NewProduct{StoreId: 1, Name: name, IsActive: &active})
		require.NoError(t, err)
		return p
	}
	recipe := func(p *models.Product, templateId *int, link bool) *models.Recipe {
		rc, err := s.UpsertRecipe(ctx, models.NewRecipe{ProductId: p.ID, StoreId: 1, TemplateId: templateId, Name: p.Name})
		require.NoError(t, err)
		if link {
			_, err = s.UpsertProduct(ctx, models.NewProduct{ID: p.ID, StoreId: 1, Name: p.Name, IsActive: p.IsActive, RecipeId: &rc.ID})
			require.NoError(t, err)
		}
		return rc
	}

	f.linked = product("Latte", true)
	f.linkedRecipe = recipe(f.linked, &f.latte.ID, true)
	f.bare = product("Espresso", true)
	f.noTemplate = product("Cortado", true)
	f.noTemplateRecipe = recipe(f.noTemplate, nil, true)
	f.inactTpl = product("Mocha", true)
	f.inactTplRecipe = recipe(f.inactTpl, &f.mocha.ID, true)
	f.inactive = product("Retired", false)
	f.fallback = product("Iced Latte", true)
	recipe(f.fallback, &f.latte.ID, false)
	return f
}

func repositoryContract(t *testing.T, newStore func(t *testing.T, pub Publisher) Store) {
	ctx := context.Background()

	t.Run("GetProduct joins recipe and template", func(t *testing.T) {
		s := newStore(t, nil)
		f := seed(t, ctx, s)

		p, err := s.GetProduct(ctx, f.linked.ID)
		require.NoError(t, err)
		require.NotNil(t, p.Recipe)
		require.NotNil(t, p.Template)
		assert.Equal(t, f.linkedRecipe.ID, p.Recipe.ID)
		assert.Equal(t, "Latte", p.Template.Name)

		p, err = s.GetProduct(ctx, f.bare.ID)
		require.NoError(t, err)
		assert.Nil(t, p.Recipe)
		assert.Nil(t, p.Template)

		p, err = s.GetProduct(ctx, f.noTemplate.ID)
		require.NoError(t, err)
		require.NotNil(t, p.Recipe)
		assert.Nil(t, p.Template)

		p, err = s.GetProduct(ctx, f.inactTpl.ID)
		require.NoError(t, err)
		require.NotNil(t, p.Template)
		assert.False(t, p.Template.Active())
	})

	t.Run("GetProduct falls back to the product's own recipe", func(t *testing.T) {
		s := newStore(t, nil)
		f := seed(t, ctx, s)

		p, err := s.GetProduct(ctx, f.fallback.ID)
		require.NoError(t, err)
		require.NotNil(t, p.Recipe)
		require.NotNil(t, p.Template)
		assert.Equal(t, f.latte.ID, p.Template.ID)
	})

	t.Run("GetProduct not found", func(t *testing.T) {
		s := newStore(t, nil)
		_, err := s.GetProduct(ctx, 999)
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})

	t.Run("GetProducts returns only found ids", func(t *testing.T) {
		s := newStore(t, nil)
		f := seed(t, ctx, s)

		got, err := s.GetProducts(ctx, []int{f.linked.ID, f.bare.ID, 999, f.linked.ID})
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Contains(t, got, f.linked.ID)
		assert.Contains(t, got, f.bare.ID)
	})

	t.Run("GetProductsByStore", func(t *testing.T) {
		s := newStore(t, nil)
		f := seed(t, ctx, s)

		active, err := s.GetProductsByStore(ctx, 1, true)
		require.NoError(t, err)
		assert.Len(t, active, 5)
		for _, p := range active {
			assert.NotEqual(t, f.inactive.ID, p.Product.ID)
		}

		all, err := s.GetProductsByStore(ctx, 1, false)
		require.NoError(t, err)
		assert.Len(t, all, 6)

		none, err := s.GetProductsByStore(ctx, 2, true)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("reverse lookups", func(t *testing.T) {
		s := newStore(t, nil)
		f := seed(t, ctx, s)

		ids, err := s.GetProductIdsByTemplate(ctx, f.latte.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int{f.linked.ID, f.fallback.ID}, ids)

		ids, err = s.GetProductIdsByRecipe(ctx, f.linkedRecipe.ID)
		require.NoError(t, err)
		assert.Equal(t, []int{f.linked.ID}, ids)
	})

	t.Run("templates", func(t *testing.T) {
		s := newStore(t, nil)
		f := seed(t, ctx, s)

		active, err := s.GetActiveTemplates(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, f.latte.ID, active[0].ID)

		found, err := s.FindTemplateByName(ctx, "  LATTE ")
		require.NoError(t, err)
		assert.Equal(t, f.latte.ID, found.ID)

		_, err = s.FindTemplateByName(ctx, "mocha")
		assert.True(t, errors.Is(err, models.ErrNotFound))
	})

	t.Run("repair mutations", func(t *testing.T) {
		s := newStore(t, nil)
		f := seed(t, ctx, s)

		rc, err := s.CreateRecipe(ctx, f.bare.ID, 1, f.latte.ID, "Espresso")
		require.NoError(t, err)
		require.NoError(t, s.LinkProductRecipe(ctx, f.bare.ID, rc.ID))
		p, err := s.GetProduct(ctx, f.bare.ID)
		require.NoError(t, err)
		require.NotNil(t, p.Template)
		assert.Equal(t, f.latte.ID, p.Template.ID)

		require.NoError(t, s.UpdateRecipeTemplate(ctx, f.inactTplRecipe.ID, f.latte.ID))
		p, err = s.GetProduct(ctx, f.inactTpl.ID)
		require.NoError(t, err)
		assert.True(t, p.Template.Active())

		assert.True(t, errors.Is(s.UpdateRecipeTemplate(ctx, 999, f.latte.ID), models.ErrNotFound))
		assert.True(t, errors.Is(s.LinkProductRecipe(ctx, 999, rc.ID), models.ErrNotFound))
	})

	t.Run("stores", func(t *testing.T) {
		s := newStore(t, nil)
		seed(t, ctx, s)

		stores, err := s.GetActiveStores(ctx)
		require.NoError(t, err)
		require.Len(t, stores, 1)
		assert.Equal(t, 1, stores[0].ID)

		store, err := s.GetStore(ctx, 2)
		require.NoError(t, err)
		assert.False(t, store.Active())
	})

	t.Run("writes publish change events", func(t *testing.T) {
		broker := NewBroker(64, nil)
		s := newStore(t, broker)
		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		events, err := broker.SubscribeToChanges(subCtx, models.TableProducts)
		require.NoError(t, err)

		p, err := s.UpsertProduct(ctx, models.NewProduct{StoreId: 1, Name: "Flat White"})
		require.NoError(t, err)
		_, err = s.UpsertTemplate(ctx, models.NewRecipeTemplate{Name: "Flat White"})
		require.NoError(t, err)
		_, err = s.UpsertProduct(ctx, models.NewProduct{ID: p.ID, StoreId: 1, Name: "Flat White 2"})
		require.NoError(t, err)

		first := receive(t, events)
		assert.Equal(t, models.ChangeOpInsert, first.Op)
		var row models.Product
		require.NoError(t, first.Row(&row))
		assert.Equal(t, p.ID, row.ID)

		second := receive(t, events)
		assert.Equal(t, models.TableProducts, second.Table)
		assert.Equal(t, models.ChangeOpUpdate, second.Op)
		require.NoError(t, second.Row(&row))
		assert.Equal(t, "Flat White 2", row.Name)
	})

	t.Run("upsert validates input", func(t *testing.T) {
		s := newStore(t, nil)
		_, err := s.UpsertProduct(ctx, models.NewProduct{Name: "no store"})
		var invalid *InvalidInputError
		assert.True(t, errors.As(err, &invalid))
	})
}

func receive(t *testing.T, ch <-chan models.ChangeEvent) models.ChangeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
	return models.ChangeEvent{}
}

func TestGormRepository(t *testing.T) {
	repositoryContract(t, func(t *testing.T, pub Publisher) Store {
		return NewGormRepository(newTestDB(t), pub, nil)
	})
}

func TestMemoryRepository(t *testing.T) {
	repositoryContract(t, func(t *testing.T, pub Publisher) Store {
		return NewMemoryRepository(pub)
	})
}

func TestMemoryRepositoryHook(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(nil)
	_, err := repo.UpsertStore(ctx, models.Store{ID: 7, Name: "x"})
	require.NoError(t, err)

	repo.SetHook(func(op string, arg int) error {
		if op == "GetProductsByStore" && arg == 7 {
			return errors.New("connection reset")
		}
		return nil
	})
	_, err = repo.GetProductsByStore(ctx, 7, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDataAccess))

	_, err = repo.GetProductsByStore(ctx, 8, true)
	assert.NoError(t, err)
	assert.Equal(t, 2, repo.Calls("GetProductsByStore"))
}
