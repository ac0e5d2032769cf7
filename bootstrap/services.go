// Package bootstrap connects the configured datastore, cache, lock and feed
// backends and wires the integrity services on top of them.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/mmdatafocus/recipe_integrity/config"
	"github.com/mmdatafocus/recipe_integrity/datastore"
	"github.com/mmdatafocus/recipe_integrity/health"
	"github.com/mmdatafocus/recipe_integrity/models"
	"github.com/mmdatafocus/recipe_integrity/notifier"
	"github.com/mmdatafocus/recipe_integrity/repair"
	"github.com/mmdatafocus/recipe_integrity/revalidation"
	"github.com/mmdatafocus/recipe_integrity/storesync"
	"github.com/mmdatafocus/recipe_integrity/validator"
	"github.com/mmdatafocus/recipe_integrity/workflow"
)

const (
	brokerBuffer        = 256
	loaderWait          = 2 * time.Millisecond
	maintenanceInterval = 30 * time.Second
)

// Services is the fully wired engine. Fields backed by optional infrastructure
// (DB, Redis, PubSub, Audit) are nil when that backend is not configured.
type Services struct {
	Settings config.Settings
	Logger   *logrus.Logger
	Runtime  *config.Runtime

	DB     *gorm.DB
	Redis  *redis.Client
	PubSub *pubsub.Client

	Store     datastore.Store
	Feed      datastore.ChangeFeed
	Audit     *datastore.AuditRecorder
	Notifier  notifier.Notifier
	Validator *validator.Validator
	Health    *health.Monitor
	Repair    *repair.Engine
	Queue     *revalidation.Queue
	Sync      *storesync.Orchestrator
	Workflow  *workflow.Engine
	Scheduler *workflow.MaintenanceScheduler

	closers []func() error
}

// New connects every configured backend and registers the given clusters and rules.
// On error everything opened so far is closed.
func New(ctx context.Context, settings config.Settings, defs *config.Definitions, logger *logrus.Logger) (s *Services, err error) {
	if logger == nil {
		logger = config.NopLogger()
	}
	if defs == nil {
		defs = &config.Definitions{}
	}
	s = &Services{
		Settings: settings,
		Logger:   logger,
		Runtime:  config.NewRuntime(settings.Integrity),
	}
	opened := s
	defer func() {
		if err != nil {
			_ = opened.Close()
		}
	}()

	if err = s.connectFeed(ctx); err != nil {
		return nil, err
	}
	if err = s.connectStore(ctx); err != nil {
		return nil, err
	}

	var cache health.Cache = health.NewMemoryCache()
	var locker repair.StoreLocker = repair.NewLocalLocker()
	var backlog revalidation.Backlog = revalidation.NewMemoryBacklog()
	if settings.Redis.Enabled() {
		rdb, lockClient, redisErr := config.ConnectRedisWithRetry(ctx, settings.Redis, logger)
		if redisErr != nil {
			return nil, fmt.Errorf("connect redis: %w", redisErr)
		}
		s.Redis = rdb
		s.closers = append(s.closers, rdb.Close)
		cache = health.NewRedisCache(rdb)
		locker = repair.NewRedisLocker(lockClient, 0, 0)
		backlog = revalidation.NewRedisBacklog(rdb)
	}

	s.Notifier = s.buildNotifier(ctx)

	loader := datastore.NewProductLoader(s.Store, loaderWait)
	s.Validator = validator.New(s.Store, loader, logger)
	s.Health = health.NewMonitor(s.Store, cache, s.Runtime, logger)

	s.Repair = repair.NewEngine(s.Store, locker, s.Runtime, logger)
	s.Repair.OnRepaired(s.Health.Invalidate)

	s.Queue = revalidation.NewQueue(s.Store, s.Validator, s.Repair, backlog, s.Feed, s.Runtime, logger)

	s.Sync = storesync.NewOrchestrator(s.Validator, s.Repair, s.Health, s.Notifier, s.Runtime, logger)

	s.Scheduler = workflow.NewMaintenanceScheduler(s.Repair, s.Health, s.Sync, logger)
	deps := workflow.Dependencies{
		Repairer:  s.Repair,
		Health:    s.Health,
		Syncer:    s.Sync,
		Stores:    s.Store,
		Notifier:  s.Notifier,
		Runtime:   s.Runtime,
		Metrics:   s.Sync.Tracker(),
		Insights:  workflow.NewHealthInsights(s.Health.History(), s.Sync.Tracker()),
		Scheduler: s.Scheduler,
	}
	if s.Audit != nil {
		s.Repair.SetRecorder(s.Audit)
		s.Sync.SetRecorder(s.Audit)
		deps.Recorder = s.Audit
	}
	s.Workflow = workflow.NewEngine(deps, logger)

	if err = s.Register(defs); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"field":    "Bootstrap",
		"driver":   settings.Datastore.Driver,
		"redis":    settings.Redis.Enabled(),
		"pubsub":   settings.PubSub.Enabled(),
		"clusters": len(defs.Clusters),
		"rules":    len(defs.Rules),
	}).Info("integrity services ready")
	return s, nil
}

// Register adds clusters and rules to the running services.
func (s *Services) Register(defs *config.Definitions) error {
	for _, c := range defs.Clusters {
		if err := s.Sync.RegisterCluster(c); err != nil {
			return fmt.Errorf("register cluster %q: %w", c.ID, err)
		}
	}
	for _, r := range defs.Rules {
		if err := s.Workflow.RegisterRule(r); err != nil {
			return fmt.Errorf("register rule %q: %w", r.ID, err)
		}
	}
	return nil
}

func (s *Services) connectFeed(ctx context.Context) error {
	if !s.Settings.PubSub.Enabled() {
		s.Feed = datastore.NewBroker(brokerBuffer, s.Logger)
		return nil
	}

	client, err := config.NewPubSubClient(ctx, s.Settings.PubSub, s.Logger)
	if err != nil {
		return fmt.Errorf("connect pubsub: %w", err)
	}
	s.PubSub = client
	s.closers = append(s.closers, client.Close)

	topic := client.Topic(s.Settings.PubSub.ChangeTopic)
	if s.Settings.PubSub.CreateTopics {
		if topic, err = config.CreateTopicIfNotExists(ctx, client, s.Settings.PubSub.ChangeTopic); err != nil {
			return err
		}
		if _, err = config.CreateSubscriptionIfNotExists(ctx, client, s.Settings.PubSub.ChangeSubscription, topic); err != nil {
			return err
		}
	}
	s.closers = append(s.closers, func() error { topic.Stop(); return nil })
	s.Feed = datastore.NewPubSubFeed(client, topic, s.Settings.PubSub.ChangeSubscription, s.Logger)
	return nil
}

func (s *Services) publisher() datastore.Publisher {
	if p, ok := s.Feed.(datastore.Publisher); ok {
		return p
	}
	return nil
}

func (s *Services) connectStore(ctx context.Context) error {
	if strings.EqualFold(strings.TrimSpace(s.Settings.Datastore.Driver), "memory") {
		s.Store = datastore.NewMemoryRepository(s.publisher())
		return nil
	}

	db, err := config.ConnectDatabaseWithRetry(ctx, s.Settings.Datastore, s.Logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.DB = db
	s.closers = append(s.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	if s.Settings.Datastore.SkipMigrations {
		s.Logger.WithField("field", "Bootstrap").Info("SKIP_MIGRATIONS=true, skipping migrations")
	} else if err := models.MigrateTable(db); err != nil {
		return err
	}

	s.Store = datastore.NewGormRepository(db, s.publisher(), s.Logger)
	s.Audit = datastore.NewAuditRecorder(db, s.Logger)
	return nil
}

func (s *Services) buildNotifier(ctx context.Context) notifier.Notifier {
	sinks := notifier.Multi{notifier.NewLogNotifier(s.Logger)}
	name := strings.TrimSpace(s.Settings.PubSub.NotifyTopic)
	if s.PubSub == nil || name == "" {
		return sinks
	}

	topic := s.PubSub.Topic(name)
	if s.Settings.PubSub.CreateTopics {
		created, err := config.CreateTopicIfNotExists(ctx, s.PubSub, name)
		if err != nil {
			config.LogError(s.Logger, "bootstrap", "buildNotifier", "create notify topic", name, err)
			return sinks
		}
		topic = created
	}
	s.closers = append(s.closers, func() error { topic.Stop(); return nil })
	return append(sinks, notifier.NewPubSubNotifier(topic))
}

// Run starts the revalidation worker and the periodic loops (health sweep,
// rule evaluation, maintenance) and blocks until ctx is done.
func (s *Services) Run(ctx context.Context) error {
	if err := s.Queue.Start(ctx); err != nil {
		return fmt.Errorf("start revalidation queue: %w", err)
	}
	defer s.Queue.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.Health.Run(gctx, s.Settings.Integrity.HealthSweepInterval)
		return nil
	})
	g.Go(func() error {
		s.Workflow.Run(gctx, s.Settings.Integrity.RuleEvalInterval)
		return nil
	})
	g.Go(func() error {
		s.Scheduler.Run(gctx, maintenanceInterval)
		return nil
	})
	return g.Wait()
}

// Close releases connections in reverse order of opening.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
