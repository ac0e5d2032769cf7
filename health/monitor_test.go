package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/datastore"
	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/utils"
)

func TestClassifyTrendBoundaries(t *testing.T) {
	tests := []struct {
		pct  int
		want models.HealthTrend
	}{
		{100, models.HealthTrendImproving},
		{91, models.HealthTrendImproving},
		{90, models.HealthTrendStable},
		{70, models.HealthTrendStable},
		{69, models.HealthTrendDeteriorating},
		{0, models.HealthTrendDeteriorating},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.pct), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTrend(tt.pct, 90, 70))
		})
	}
}

func TestRollup(t *testing.T) {
	now := time.Now()
	t.Run("zero products", func(t *testing.T) {
		m := Rollup(1, nil, 10, 90, 70, now)
		assert.Equal(t, 100, m.HealthPct)
		assert.Equal(t, models.HealthTrendStable, m.Trend)
		assert.NotNil(t, m.CriticalIssues)
		assert.NotNil(t, m.Warnings)
	})

	t.Run("caps issue lists", func(t *testing.T) {
		var results []models.ValidationResult
		for i := 0; i < 15; i++ {
			results = append(results, models.ValidationResult{ProductId: i, Status: models.ValidationStatusNoTemplate})
			results = append(results, models.ValidationResult{ProductId: 100 + i, Status: models.ValidationStatusNoRecipe})
		}
		results = append(results, models.ValidationResult{ProductId: 999, Status: models.ValidationStatusValid, CanDeduct: true})
		m := Rollup(1, results, 10, 90, 70, now)
		assert.Equal(t, 31, m.Total)
		assert.Equal(t, 1, m.Valid)
		assert.Equal(t, 30, m.Invalid)
		assert.Len(t, m.CriticalIssues, 10)
		assert.Len(t, m.Warnings, 10)
		assert.Equal(t, 3, m.HealthPct)
	})

	t.Run("rounds", func(t *testing.T) {
		results := []models.ValidationResult{
			{Status: models.ValidationStatusValid, CanDeduct: true},
			{Status: models.ValidationStatusValid, CanDeduct: true},
			{Status: models.ValidationStatusInactiveTemplate},
		}
		m := Rollup(1, results, 10, 90, 70, now)
		assert.Equal(t, 67, m.HealthPct)
		assert.Equal(t, models.HealthTrendDeteriorating, m.Trend)
		require.Len(t, m.Warnings, 1)
		assert.Empty(t, m.CriticalIssues)
	})
}

func seedProducts(t *testing.T, repo *datastore.MemoryRepository, storeId, valid, invalid int) {
	t.Helper()
	ctx := context.Background()
	_, err := repo.UpsertStore(ctx, models.Store{ID: storeId, Name: fmt.Sprintf("store-%d", storeId)})
	require.NoError(t, err)
	tpl, err := repo.UpsertTemplate(ctx, models.NewRecipeTemplate{Name: fmt.Sprintf("tpl-%d", storeId)})
	require.NoError(t, err)
	for i := 0; i < valid; i++ {
		p, err := repo.UpsertProduct(ctx, models.NewProduct{StoreId: storeId, Name: "ok"})
		require.NoError(t, err)
		_, err = repo.UpsertRecipe(ctx, models.NewRecipe{ProductId: p.ID, StoreId: storeId, TemplateId: &tpl.ID})
		require.NoError(t, err)
	}
	for i := 0; i < invalid; i++ {
		_, err := repo.UpsertProduct(ctx, models.NewProduct{StoreId: storeId, Name: "missing"})
		require.NoError(t, err)
	}
	_, err = repo.UpsertProduct(ctx, models.NewProduct{StoreId: storeId, Name: "retired", IsActive: utils.NewFalse()})
	require.NoError(t, err)
}

func TestStoreHealthCountsActiveProductsOnly(t *testing.T) {
	repo := datastore.NewMemoryRepository(nil)
	seedProducts(t, repo, 1, 7, 3)
	m := NewMonitor(repo, nil, nil, nil)

	got := m.StoreHealth(context.Background(), 1)
	assert.Equal(t, 10, got.Total)
	assert.Equal(t, 7, got.Valid)
	assert.Equal(t, 3, got.Invalid)
	assert.Equal(t, 70, got.HealthPct)
	assert.Equal(t, models.HealthTrendStable, got.Trend)
	assert.Len(t, got.Warnings, 3)
	assert.False(t, got.Degraded())
}

func TestStoreHealthEmptyStoreIsStable(t *testing.T) {
	repo := datastore.NewMemoryRepository(nil)
	_, err := repo.UpsertStore(context.Background(), models.Store{ID: 7, Name: "empty"})
	require.NoError(t, err)
	m := NewMonitor(repo, nil, nil, nil)

	got := m.StoreHealth(context.Background(), 7)
	assert.Equal(t, 0, got.Total)
	assert.Equal(t, 100, got.HealthPct)
	assert.Equal(t, models.HealthTrendStable, got.Trend)
	assert.False(t, got.Degraded())
}

func TestStoreHealthCachesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	repo := datastore.NewMemoryRepository(nil)
	seedProducts(t, repo, 1, 1, 0)
	m := NewMonitor(repo, nil, nil, nil)

	m.StoreHealth(ctx, 1)
	m.StoreHealth(ctx, 1)
	assert.Equal(t, 1, repo.Calls("GetProductsByStore"))

	m.Invalidate(ctx, 1)
	m.StoreHealth(ctx, 1)
	assert.Equal(t, 2, repo.Calls("GetProductsByStore"))
}

func TestStoreHealthCacheExpires(t *testing.T) {
	ctx := context.Background()
	repo := datastore.NewMemoryRepository(nil)
	seedProducts(t, repo, 1, 1, 0)
	cache := NewMemoryCache()
	clock := time.Now()
	cache.now = func() time.Time { return clock }
	m := NewMonitor(repo, cache, nil, nil)

	m.StoreHealth(ctx, 1)
	clock = clock.Add(29 * time.Second)
	m.StoreHealth(ctx, 1)
	assert.Equal(t, 1, repo.Calls("GetProductsByStore"))

	clock = clock.Add(2 * time.Second)
	m.StoreHealth(ctx, 1)
	assert.Equal(t, 2, repo.Calls("GetProductsByStore"))
}

func TestStoreHealthDegradesOnFetchFailure(t *testing.T) {
	ctx := context.Background()
	repo := datastore.NewMemoryRepository(nil)
	repo.SetHook(func(op string, arg int) error {
		if op == "GetProductsByStore" {
			return errors.New("permission denied")
		}
		return nil
	})
	m := NewMonitor(repo, nil, nil, nil)

	got := m.StoreHealth(ctx, 4)
	assert.True(t, got.Degraded())
	assert.Equal(t, 0, got.HealthPct)
	assert.Equal(t, models.HealthTrendDeteriorating, got.Trend)
	assert.Contains(t, got.Error, "permission denied")

	m.StoreHealth(ctx, 4)
	assert.Equal(t, 2, repo.Calls("GetProductsByStore"), "degraded metrics must not be cached")
}

func TestStoreHealthSingleFlight(t *testing.T) {
	repo := datastore.NewMemoryRepository(nil)
	seedProducts(t, repo, 1, 2, 0)

	release := make(chan struct{})
	var inFlight int32
	repo.SetHook(func(op string, arg int) error {
		if op == "GetProductsByStore" {
			atomic.AddInt32(&inFlight, 1)
			<-release
		}
		return nil
	})
	m := NewMonitor(repo, nil, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := m.StoreHealth(context.Background(), 1)
			assert.Equal(t, 100, got.HealthPct)
		}()
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&inFlight) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, 1, repo.Calls("GetProductsByStore"))
}

func TestGlobalHealthWorstFirst(t *testing.T) {
	repo := datastore.NewMemoryRepository(nil)
	seedProducts(t, repo, 1, 10, 0)
	seedProducts(t, repo, 2, 5, 5)
	seedProducts(t, repo, 3, 8, 2)
	seedProducts(t, repo, 4, 0, 0)
	m := NewMonitor(repo, nil, nil, nil)

	all, err := m.GlobalHealth(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []int{2, 3, 1, 4}, []int{all[0].StoreId, all[1].StoreId, all[2].StoreId, all[3].StoreId})
	assert.Equal(t, "store-2", all[0].StoreName)
}

func TestGlobalHealthDegradedStoreDoesNotAbortScan(t *testing.T) {
	repo := datastore.NewMemoryRepository(nil)
	seedProducts(t, repo, 1, 3, 0)
	seedProducts(t, repo, 2, 3, 0)
	repo.SetHook(func(op string, arg int) error {
		if op == "GetProductsByStore" && arg == 2 {
			return errors.New("shard offline")
		}
		return nil
	})
	m := NewMonitor(repo, nil, nil, nil)

	all, err := m.GlobalHealth(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 2, all[0].StoreId)
	assert.True(t, all[0].Degraded())
	assert.Equal(t, 100, all[1].HealthPct)
}

func TestSweepRecordsHistory(t *testing.T) {
	ctx := context.Background()
	repo := datastore.NewMemoryRepository(nil)
	seedProducts(t, repo, 1, 1, 1)
	m := NewMonitor(repo, nil, nil, nil)

	m.Sweep(ctx)
	_, err := repo.UpsertProduct(ctx, models.NewProduct{StoreId: 1, Name: "missing 2"})
	require.NoError(t, err)
	m.Sweep(ctx)

	samples := m.History().Samples(1)
	require.Len(t, samples, 2)
	assert.Equal(t, 50, samples[0].HealthPct)
	assert.Equal(t, 33, samples[1].HealthPct)
	delta, ok := m.History().Delta(1)
	assert.True(t, ok)
	assert.Equal(t, -17, delta)
}

func TestHistoryIsBounded(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Record(1, Sample{HealthPct: i})
	}
	samples := h.Samples(1)
	require.Len(t, samples, 3)
	assert.Equal(t, 2, samples[0].HealthPct)
	assert.Equal(t, []int{1}, h.Stores())
}

func TestRuntimeThresholdsApply(t *testing.T) {
	repo := datastore.NewMemoryRepository(nil)
	seedProducts(t, repo, 1, 8, 2)
	rt := config.NewRuntime(config.DefaultIntegritySettings())
	_, err := rt.Set(config.ParamDeterioratingBelow, 85)
	require.NoError(t, err)
	m := NewMonitor(repo, nil, rt, nil)

	got := m.StoreHealth(context.Background(), 1)
	assert.Equal(t, 80, got.HealthPct)
	assert.Equal(t, models.HealthTrendDeteriorating, got.Trend)
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCache(rdb)

	_, ok := cache.Get(ctx, 5)
	assert.False(t, ok)

	cache.Set(ctx, models.HealthMetrics{StoreId: 5, Total: 4, Valid: 3, HealthPct: 75, Trend: models.HealthTrendStable}, 30*time.Second)
	got, ok := cache.Get(ctx, 5)
	require.True(t, ok)
	assert.Equal(t, 75, got.HealthPct)
	assert.True(t, mr.Exists("IntegrityHealth:5"))

	mr.FastForward(31 * time.Second)
	_, ok = cache.Get(ctx, 5)
	assert.False(t, ok)

	cache.Set(ctx, models.HealthMetrics{StoreId: 6}, time.Minute)
	cache.Delete(ctx, 6)
	_, ok = cache.Get(ctx, 6)
	assert.False(t, ok)
}
