package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmdatafocus/recipe_integrity/models"
)

const sampleDefinitions = `
clusters:
  - id: yangon
    name: Yangon stores
    storeIds: [1, 2, 3]
    strategy: health_based
    healthThreshold: 80
    autoRepairEnabled: true
rules:
  - id: nightly-repair
    name: Nightly repair
    trigger:
      type: schedule
      intervalMinutes: 60
    conditions:
      - type: time_window
        startHour: 22
        endHour: 6
    actions:
      - type: repair
        params:
          scope: all
    cooldownMinutes: 30
    isActive: true
`

func TestParseDefinitions(t *testing.T) {
	defs, err := ParseDefinitions([]byte(sampleDefinitions))
	require.NoError(t, err)
	require.Len(t, defs.Clusters, 1)
	require.Len(t, defs.Rules, 1)

	c := defs.Clusters[0]
	assert.Equal(t, []int{1, 2, 3}, c.StoreIds)
	assert.Equal(t, models.SyncStrategyHealthBased, c.Strategy)
	assert.Equal(t, 80, c.HealthThreshold)
	assert.True(t, c.AutoRepairEnabled)

	r := defs.Rules[0]
	assert.Equal(t, models.TriggerTypeSchedule, r.Trigger.Type)
	assert.Equal(t, 60, r.Trigger.IntervalMinutes)
	assert.Equal(t, "all", r.Actions[0].Params["scope"])
	assert.True(t, r.IsActive)
}

func TestParseDefinitionsRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown strategy",
			yaml: "clusters:\n  - id: a\n    storeIds: [1]\n    strategy: fastest\n",
		},
		{
			name: "duplicate store ids",
			yaml: "clusters:\n  - id: a\n    storeIds: [1, 1]\n",
		},
		{
			name: "empty cluster",
			yaml: "clusters:\n  - id: a\n    storeIds: []\n",
		},
		{
			name: "duplicate cluster ids",
			yaml: "clusters:\n  - id: a\n    storeIds: [1]\n  - id: a\n    storeIds: [2]\n",
		},
		{
			name: "rule without actions",
			yaml: "rules:\n  - id: r\n    trigger:\n      type: event\n      event: sync_failed\n",
		},
		{
			name: "schedule without interval",
			yaml: "rules:\n  - id: r\n    trigger:\n      type: schedule\n    actions:\n      - type: notify\n",
		},
		{
			name: "unknown action",
			yaml: "rules:\n  - id: r\n    trigger:\n      type: event\n      event: x\n    actions:\n      - type: reboot\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinitions([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrInvalidDefinition), err.Error())
		})
	}
}

func TestLoadDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadDefinitions("")
	require.NoError(t, err)
	assert.Empty(t, defs.Clusters)
	assert.Empty(t, defs.Rules)
}
