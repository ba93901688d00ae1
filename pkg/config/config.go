package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "DISPATCH"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "DISPATCH_DB_DSN"
	EnvDBHost = "DISPATCH_DB_HOST"
	EnvDBUser = "DISPATCH_DB_USER"
	EnvDBName = "DISPATCH_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

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
	Fanout       FanoutConfig
	Deadlines    DeadlinesConfig
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
	Env          string `envconfig:"DISPATCH_APP_ENV" required:"true"`
	Port         string `envconfig:"DISPATCH_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"DISPATCH_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DISPATCH_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"DISPATCH_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"DISPATCH_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"DISPATCH_DB_DSN"`

	LegacyHost     string `envconfig:"DISPATCH_DB_HOST"`
	LegacyPort     int    `envconfig:"DISPATCH_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DISPATCH_DB_USER"`
	LegacyPassword string `envconfig:"DISPATCH_DB_PASSWORD"`
	LegacyName     string `envconfig:"DISPATCH_DB_NAME"`
	LegacySSLMode  string `envconfig:"DISPATCH_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DISPATCH_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DISPATCH_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DISPATCH_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DISPATCH_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DISPATCH_REDIS_URL"`
	Address      string        `envconfig:"DISPATCH_REDIS_ADDR"`
	Password     string        `envconfig:"DISPATCH_REDIS_PASSWORD"`
	DB           int           `envconfig:"DISPATCH_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DISPATCH_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DISPATCH_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DISPATCH_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DISPATCH_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DISPATCH_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"DISPATCH_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"DISPATCH_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"DISPATCH_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"DISPATCH_AUTO_MIGRATE" default:"false"`
	PushAlerts  bool `envconfig:"DISPATCH_FEATURE_PUSH_ALERTS" default:"true"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"DISPATCH_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	AlertsTopic string `envconfig:"DISPATCH_PUBSUB_ALERTS_TOPIC" default:"dispatch-user-alerts"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"DISPATCH_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"DISPATCH_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"DISPATCH_OUTBOX_MAX_ATTEMPTS" default:"10"`

	Retention time.Duration `envconfig:"DISPATCH_OUTBOX_RETENTION" default:"168h"`
	LeaseTTL  time.Duration `envconfig:"DISPATCH_OUTBOX_LEASE_TTL" default:"5m"`
}

type FanoutConfig struct {
	Channel          string        `envconfig:"DISPATCH_FANOUT_CHANNEL" default:"dispatch:activity"`
	SubscriberBuffer int           `envconfig:"DISPATCH_FANOUT_SUBSCRIBER_BUFFER" default:"64"`
	DedupeWindow     int           `envconfig:"DISPATCH_FANOUT_DEDUPE_WINDOW" default:"512"`
	PingInterval     time.Duration `envconfig:"DISPATCH_FANOUT_PING_INTERVAL" default:"30s"`
	AlertClaimTTL    time.Duration `envconfig:"DISPATCH_FANOUT_ALERT_CLAIM_TTL" default:"72h"`
}

type DeadlinesConfig struct {
	ScanInterval time.Duration `envconfig:"DISPATCH_DEADLINE_SCAN_INTERVAL" default:"1h"`
	Lookahead    time.Duration `envconfig:"DISPATCH_DEADLINE_LOOKAHEAD" default:"24h"`
	LockTTL      time.Duration `envconfig:"DISPATCH_DEADLINE_LOCK_TTL" default:"55m"`
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
