package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/datastore"
	"github.com/mmdatafocus/recipe_integrity/models"
)

const testDefinitions = `
clusters:
  - id: downtown
    name: Downtown
    storeIds: [1]
    strategy: round_robin
    autoRepairEnabled: true
rules:
  - id: on-sync-failed
    trigger:
      type: event
      event: sync_failed
    actions:
      - type: notify
        params:
          level: warning
          message: sync failed
    isActive: true
`

func testSettings(driver string) config.Settings {
	integrity := config.DefaultIntegritySettings()
	integrity.QueueItemDelay = 0
	integrity.QueueIdleDelay = 10 * time.Millisecond
	return config.Settings{
		LogLevel:  "error",
		Datastore: config.DatastoreSettings{Driver: driver},
		Integrity: integrity,
	}
}

func newServices(t *testing.T, settings config.Settings) *Services {
	defs, err := config.ParseDefinitions([]byte(testDefinitions))
	require.NoError(t, err)
	s, err := New(context.Background(), settings, defs, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewMemoryWiring(t *testing.T) {
	s := newServices(t, testSettings("memory"))

	assert.Nil(t, s.DB)
	assert.Nil(t, s.Audit)
	assert.Nil(t, s.Redis)
	assert.IsType(t, &datastore.Broker{}, s.Feed)
	assert.IsType(t, &datastore.MemoryRepository{}, s.Store)

	require.Len(t, s.Sync.Clusters(), 1)
	assert.Equal(t, "downtown", s.Sync.Clusters()[0].ID)
	require.Len(t, s.Workflow.Rules(), 1)
	assert.Equal(t, "on-sync-failed", s.Workflow.Rules()[0].ID)
}

func TestNewRejectsInvalidDefinitions(t *testing.T) {
	defs := &config.Definitions{Clusters: []models.StoreCluster{{ID: "bad", StoreIds: []int{1}, Strategy: "bogus"}}}
	_, err := New(context.Background(), testSettings("memory"), defs, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidDefinition))
}

func TestRunRepairsChangedProducts(t *testing.T) {
	s := newServices(t, testSettings("memory"))
	broker := s.Feed.(*datastore.Broker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return broker.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	_, err := s.Store.UpsertStore(ctx, models.Store{ID: 1, Name: "Downtown"})
	require.NoError(t, err)
	_, err = s.Store.UpsertTemplate(ctx, models.NewRecipeTemplate{Name: "Mocha"})
	require.NoError(t, err)
	p, err := s.Store.UpsertProduct(ctx, models.NewProduct{StoreId: 1, Name: "Mocha"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, err := s.Validator.Validate(ctx, p.ID)
		return err == nil && res.Status == models.ValidationStatusValid
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 0, broker.Subscribers())
}

func TestNewSqliteRecordsSyncs(t *testing.T) {
	settings := testSettings("sqlite")
	name := strings.ReplaceAll(t.Name(), "/", "_")
	settings.Datastore.SqlitePath = fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	s := newServices(t, settings)
	require.NotNil(t, s.DB)
	require.NotNil(t, s.Audit)

	ctx := context.Background()
	_, err := s.Store.UpsertStore(ctx, models.Store{ID: 1, Name: "Downtown"})
	require.NoError(t, err)
	_, err = s.Store.UpsertProduct(ctx, models.NewProduct{StoreId: 1, Name: "Espresso"})
	require.NoError(t, err)

	run, err := s.Sync.Sync(ctx, "downtown", "")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStrategyRoundRobin, run.Strategy)

	runs, err := s.Audit.RecentSyncs(ctx, "downtown", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}
