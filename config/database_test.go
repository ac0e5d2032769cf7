package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmdatafocus/recipe_integrity/models"
)

func TestIsMemorySqlite(t *testing.T) {
	tests := []struct {
		driver, path string
		want         bool
	}{
		{"sqlite", "file::memory:?cache=shared", true},
		{"SQLite", "file:orders?mode=memory&cache=shared", true},
		{"sqlite", "", true},
		{"sqlite", "/var/lib/integrity.db", false},
		{"mysql", "file::memory:", false},
	}
	for _, tt := range tests {
		t.Run(tt.driver+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, isMemorySqlite(DatastoreSettings{Driver: tt.driver, SqlitePath: tt.path}))
		})
	}
}

func TestConnectSqliteMemoryKeepsSchema(t *testing.T) {
	name := strings.ReplaceAll(t.Name(), "/", "_")
	settings := DatastoreSettings{
		Driver:              "sqlite",
		SqlitePath:          fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns:        50,
		MaxIdleConns:        0,
		ConnMaxIdleTimeSecs: 60,
	}
	db, err := ConnectDatabaseWithRetry(context.Background(), settings, nil)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
	require.NoError(t, models.MigrateTable(db))
	require.NoError(t, db.Create(&models.Store{ID: 1, Name: "Downtown"}).Error)

	var got models.Store
	require.NoError(t, db.First(&got, 1).Error)
	assert.Equal(t, "Downtown", got.Name)
}

func TestConnectSqliteFileUsesPoolSettings(t *testing.T) {
	settings := DatastoreSettings{
		Driver:       "sqlite",
		SqlitePath:   filepath.Join(t.TempDir(), "integrity.db"),
		MaxOpenConns: 4,
	}
	db, err := ConnectDatabaseWithRetry(context.Background(), settings, nil)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	assert.Equal(t, 4, sqlDB.Stats().MaxOpenConnections)
	require.NoError(t, models.MigrateTable(db))
}
