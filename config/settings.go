package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Settings holds process configuration. Values come from an optional YAML file
// (INTEGRITY_CONFIG) and environment variables; environment always wins.
type Settings struct {
	LogLevel  string            `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Server    ServerSettings    `yaml:"server"`
	Datastore DatastoreSettings `yaml:"datastore"`
	Redis     RedisSettings     `yaml:"redis"`
	PubSub    PubSubSettings    `yaml:"pubsub"`
	Integrity IntegritySettings `yaml:"integrity"`
	Report    ReportSettings    `yaml:"report"`
}

type ServerSettings struct {
	Port               string `yaml:"port" env:"PORT" env-default:"8080"`
	Env                string `yaml:"env" env:"GO_ENV" env-default:"development"`
	CorsAllowedOrigins string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:""`
	// ApiToken, when set, is required on every /api request as the token header or a bearer.
	ApiToken string `yaml:"-" env:"INTEGRITY_API_TOKEN"`
}

func (s ServerSettings) Production() bool {
	return strings.EqualFold(strings.TrimSpace(s.Env), "production")
}

type DatastoreSettings struct {
	// Driver is mysql, sqlite or memory.
	Driver              string `yaml:"driver" env:"DB_DRIVER" env-default:"mysql"`
	User                string `yaml:"user" env:"DB_USER" env-default:"root"`
	Password            string `yaml:"-" env:"DB_PASSWORD"`
	Host                string `yaml:"host" env:"DB_HOST" env-default:"127.0.0.1"`
	Port                string `yaml:"port" env:"DB_PORT" env-default:"3306"`
	Name                string `yaml:"name" env:"DB_NAME" env-default:"recipe_integrity"`
	SqlitePath          string `yaml:"sqlite_path" env:"DB_SQLITE_PATH" env-default:"file::memory:?cache=shared"`
	MaxOpenConns        int    `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"50"`
	MaxIdleConns        int    `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"25"`
	ConnMaxLifetimeSecs int    `yaml:"conn_max_lifetime_seconds" env:"DB_CONN_MAX_LIFETIME_SECONDS" env-default:"300"`
	ConnMaxIdleTimeSecs int    `yaml:"conn_max_idle_time_seconds" env:"DB_CONN_MAX_IDLE_TIME_SECONDS" env-default:"60"`
	SkipMigrations      bool   `yaml:"skip_migrations" env:"SKIP_MIGRATIONS" env-default:"false"`
}

type RedisSettings struct {
	// Address empty means in-process cache, lock and backlog.
	Address  string `yaml:"address" env:"REDIS_ADDRESS" env-default:""`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	PoolSize int    `yaml:"pool_size" env:"REDIS_POOL_SIZE" env-default:"100"`
}

func (r RedisSettings) Enabled() bool { return strings.TrimSpace(r.Address) != "" }

type PubSubSettings struct {
	ProjectID          string `yaml:"project_id" env:"PUBSUB_PROJECT_ID" env-default:""`
	CredentialsJSON    string `yaml:"-" env:"PUBSUB_CREDENTIALS_JSON"`
	ChangeTopic        string `yaml:"change_topic" env:"INTEGRITY_CHANGE_TOPIC" env-default:"integrity-changes"`
	ChangeSubscription string `yaml:"change_subscription" env:"INTEGRITY_CHANGE_SUBSCRIPTION" env-default:"integrity-changes-worker"`
	NotifyTopic        string `yaml:"notify_topic" env:"INTEGRITY_NOTIFY_TOPIC" env-default:""`
	CreateTopics       bool   `yaml:"create_topics" env:"PUBSUB_CREATE_TOPICS" env-default:"false"`
	PushEndpoint       bool   `yaml:"push_endpoint" env:"ENABLE_INTEGRITY_PUBSUB_PUSH_ENDPOINT" env-default:"true"`
}

func (p PubSubSettings) Enabled() bool { return strings.TrimSpace(p.ProjectID) != "" }

type IntegritySettings struct {
	SimilarityThreshold float64       `yaml:"similarity_threshold" env:"INTEGRITY_SIMILARITY_THRESHOLD" env-default:"0.70"`
	BatchConcurrency    int           `yaml:"batch_concurrency" env:"INTEGRITY_BATCH_CONCURRENCY" env-default:"3"`
	ImprovingAbove      int           `yaml:"improving_above" env:"INTEGRITY_IMPROVING_ABOVE" env-default:"90"`
	DeterioratingBelow  int           `yaml:"deteriorating_below" env:"INTEGRITY_DETERIORATING_BELOW" env-default:"70"`
	RepairLogCap        int           `yaml:"repair_log_cap" env:"INTEGRITY_REPAIR_LOG_CAP" env-default:"10"`
	HealthCacheTTL      time.Duration `yaml:"health_cache_ttl" env:"INTEGRITY_HEALTH_CACHE_TTL" env-default:"30s"`
	HealthSweepInterval time.Duration `yaml:"health_sweep_interval" env:"INTEGRITY_HEALTH_SWEEP_INTERVAL" env-default:"5m"`
	QueueItemDelay      time.Duration `yaml:"queue_item_delay" env:"INTEGRITY_QUEUE_ITEM_DELAY" env-default:"100ms"`
	QueueIdleDelay      time.Duration `yaml:"queue_idle_delay" env:"INTEGRITY_QUEUE_IDLE_DELAY" env-default:"5s"`
	RuleEvalInterval    time.Duration `yaml:"rule_eval_interval" env:"INTEGRITY_RULE_EVAL_INTERVAL" env-default:"1m"`
	DefinitionsFile     string        `yaml:"definitions_file" env:"INTEGRITY_DEFINITIONS_FILE" env-default:""`
}

type ReportSettings struct {
	GCSBucket          string `yaml:"gcs_bucket" env:"GCS_BUCKET" env-default:""`
	GCSCredentialsJSON string `yaml:"-" env:"GCS_CREDENTIALS_JSON"`
}

// LoadSettings reads .env (when present), then the optional YAML file named by
// INTEGRITY_CONFIG, then the environment.
func LoadSettings() (*Settings, error) {
	_ = godotenv.Load()

	var cfg Settings
	path := strings.TrimSpace(os.Getenv("INTEGRITY_CONFIG"))
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Settings) validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Datastore.Driver)) {
	case "mysql", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", s.Datastore.Driver)
	}
	if s.Integrity.SimilarityThreshold <= 0 || s.Integrity.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in (0,1], got %v", s.Integrity.SimilarityThreshold)
	}
	if s.Integrity.BatchConcurrency < 1 {
		return fmt.Errorf("batch concurrency must be >= 1, got %d", s.Integrity.BatchConcurrency)
	}
	if s.Integrity.DeterioratingBelow > s.Integrity.ImprovingAbove {
		return fmt.Errorf("deteriorating threshold %d above improving threshold %d",
			s.Integrity.DeterioratingBelow, s.Integrity.ImprovingAbove)
	}
	return nil
}
