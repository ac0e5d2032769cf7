package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// ConnectDatabaseWithRetry opens the configured gorm database, retrying with
// exponential backoff until ctx is done.
func ConnectDatabaseWithRetry(ctx context.Context, settings DatastoreSettings, logg *logrus.Logger) (*gorm.DB, error) {
	dialector, err := dialectorFor(settings)
	if err != nil {
		return nil, err
	}

	var db *gorm.DB
	err = connectWithRetry(ctx, logg, "database:"+settings.Driver, func(ctx context.Context) error {
		conn, err := gorm.Open(dialector, initConfig())
		if err != nil {
			return err
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
		tunePool(conn, settings)
		db = conn
		return nil
	})
	if err != nil {
		return nil, err
	}

	if pluginErr := db.Use(otelgorm.NewPlugin()); pluginErr != nil {
		LogError(logg, "config", "ConnectDatabaseWithRetry", "install otelgorm plugin", nil, pluginErr)
	}
	return db, nil
}

func dialectorFor(settings DatastoreSettings) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(settings.Driver)) {
	case "mysql":
		return mysql.Open(mysqlDSN(settings)), nil
	case "sqlite":
		return sqlite.Open(settings.SqlitePath), nil
	default:
		return nil, fmt.Errorf("driver %q has no gorm dialector", settings.Driver)
	}
}

func mysqlDSN(settings DatastoreSettings) string {
	network := "tcp"
	address := fmt.Sprintf("%s:%s", settings.Host, settings.Port)

	// DB_HOST=/cloudsql/<CONNECTION_NAME> connects through the Cloud SQL unix socket.
	if strings.HasPrefix(settings.Host, "/cloudsql/") {
		network = "unix"
		address = settings.Host
	}
	return fmt.Sprintf("%s:%s@%s(%s)/%s?multiStatements=true&parseTime=true",
		settings.User,
		settings.Password,
		network,
		address,
		settings.Name,
	)
}

func tunePool(db *gorm.DB, settings DatastoreSettings) {
	sqlDB, err := db.DB()
	if err != nil || sqlDB == nil {
		return
	}
	// An in-memory SQLite database lives only as long as one of its connections.
	if isMemorySqlite(settings) {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
		return
	}
	if settings.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(settings.MaxOpenConns)
	}
	if settings.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(settings.MaxIdleConns)
	}
	if settings.ConnMaxLifetimeSecs > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(settings.ConnMaxLifetimeSecs) * time.Second)
	}
	if settings.ConnMaxIdleTimeSecs > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(settings.ConnMaxIdleTimeSecs) * time.Second)
	}
}

func isMemorySqlite(settings DatastoreSettings) bool {
	if !strings.EqualFold(strings.TrimSpace(settings.Driver), "sqlite") {
		return false
	}
	path := settings.SqlitePath
	return path == "" || strings.Contains(path, ":memory:") || strings.Contains(path, "mode=memory")
}

func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
	}
}

func initLog() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		},
	)
}

func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
