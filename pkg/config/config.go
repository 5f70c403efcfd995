package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Payouts      PayoutsConfig
	Ledger       LedgerConfig
	Reconcile    ReconcileConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SOUQLY_APP_ENV" required:"true"`
	Port         string `envconfig:"SOUQLY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SOUQLY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SOUQLY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SOUQLY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SOUQLY_DB_DSN"`
	Driver string `envconfig:"SOUQLY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SOUQLY_DB_HOST"`
	LegacyPort     int    `envconfig:"SOUQLY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SOUQLY_DB_USER"`
	LegacyPassword string `envconfig:"SOUQLY_DB_PASSWORD"`
	LegacyName     string `envconfig:"SOUQLY_DB_NAME"`
	LegacySSLMode  string `envconfig:"SOUQLY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SOUQLY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SOUQLY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SOUQLY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SOUQLY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SOUQLY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SOUQLY_REDIS_ADDR"`
	Password     string        `envconfig:"SOUQLY_REDIS_PASSWORD"`
	DB           int           `envconfig:"SOUQLY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SOUQLY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SOUQLY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SOUQLY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SOUQLY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SOUQLY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SOUQLY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SOUQLY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SOUQLY_JWT_EXPIRATION_MINUTES" default:"30"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SOUQLY_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"SOUQLY_GCP_PROJECT_ID" required:"true"`
}

type PubSubConfig struct {
	OrdersSubscription string `envconfig:"SOUQLY_PUBSUB_ORDERS_SUBSCRIPTION" required:"true"`
	SettlementsTopic   string `envconfig:"SOUQLY_PUBSUB_SETTLEMENTS_TOPIC" default:"sq-settlement-events"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"SOUQLY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"SOUQLY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"SOUQLY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	IdempotencyTTL time.Duration `envconfig:"SOUQLY_OUTBOX_IDEMPOTENCY_TTL" default:"168h"`
}

// PayoutsConfig carries the settlement policy knobs.
type PayoutsConfig struct {
	// AllowConcurrentRequests lifts the one-in-flight-request-per-account rule.
	// Confirm intended business behavior before enabling.
	AllowConcurrentRequests bool `envconfig:"SOUQLY_PAYOUTS_ALLOW_CONCURRENT" default:"false"`
}

type LedgerConfig struct {
	// MaxWriteAttempts bounds the retry loop on optimistic-concurrency conflicts.
	MaxWriteAttempts int `envconfig:"SOUQLY_LEDGER_MAX_WRITE_ATTEMPTS" default:"3"`
}

type ReconcileConfig struct {
	Interval    time.Duration `envconfig:"SOUQLY_RECONCILE_INTERVAL" default:"1h"`
	BatchSize   int           `envconfig:"SOUQLY_RECONCILE_BATCH_SIZE" default:"200"`
	MetricsPort string        `envconfig:"SOUQLY_RECONCILE_METRICS_PORT" default:"9090"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
