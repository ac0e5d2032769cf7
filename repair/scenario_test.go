package repair_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmdatafocus/recipe_integrity/datastore"
	"github.com/mmdatafocus/recipe_integrity/health"
	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/repair"
	"github.com/mmdatafocus/recipe_integrity/utils"
)

func TestRepairRaisesStoreHealth(t *testing.T) {
	ctx := context.Background()
	repo := datastore.NewMemoryRepository(nil)
	_, err := repo.UpsertStore(ctx, models.Store{ID: 1, Name: "Riverside"})
	require.NoError(t, err)

	template := func(name string, active bool) int {
		tp, err := repo.UpsertTemplate(ctx, models.NewRecipeTemplate{Name: name, IsActive: &active})
		require.NoError(t, err)
		return tp.ID
	}
	linked := func(name string, templateId int) {
		p, err := repo.UpsertProduct(ctx, models.NewProduct{StoreId: 1, Name: name})
		require.NoError(t, err)
		rc, err := repo.UpsertRecipe(ctx, models.NewRecipe{ProductId: p.ID, StoreId: 1, TemplateId: utils.NewInt(templateId), Name: name})
		require.NoError(t, err)
		_, err = repo.UpsertProduct(ctx, models.NewProduct{ID: p.ID, StoreId: 1, Name: name, RecipeId: &rc.ID})
		require.NoError(t, err)
	}

	house := template("House Blend", true)
	template("Cappuccino", true)
	template("Flat White", true)
	pumpkin := template("Pumpkin Spice", false)

	for i := 1; i <= 7; i++ {
		linked(fmt.Sprintf("House Blend %d", i), house)
	}
	for _, name := range []string{"Cappuccino", "Flat White"} {
		_, err := repo.UpsertProduct(ctx, models.NewProduct{StoreId: 1, Name: name})
		require.NoError(t, err)
	}
	linked("Seasonal Special", pumpkin)

	monitor := health.NewMonitor(repo, health.NewMemoryCache(), nil, nil)
	before := monitor.StoreHealth(ctx, 1)
	assert.Equal(t, 10, before.Total)
	assert.Equal(t, 70, before.HealthPct)
	assert.Equal(t, models.HealthTrendStable, before.Trend)
	assert.Len(t, before.Warnings, 3)
	assert.Empty(t, before.CriticalIssues)

	engine := repair.NewEngine(repo, nil, nil, nil)
	engine.OnRepaired(monitor.Invalidate)
	summary := engine.RepairStore(ctx, 1)
	assert.Equal(t, 3, summary.Attempted)
	assert.Equal(t, 2, summary.Successful)
	assert.Equal(t, 0, summary.Failed)
	assert.Len(t, summary.Unresolved, 1)

	after := monitor.StoreHealth(ctx, 1)
	assert.Equal(t, 90, after.HealthPct)
	assert.Equal(t, models.HealthTrendStable, after.Trend)
	require.Len(t, after.Warnings, 1)
	assert.Equal(t, models.ValidationStatusInactiveTemplate, after.Warnings[0].Status)
}
