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
	DB           DBConfig
	Redis        RedisConfig
	Auth         AuthConfig
	Outbox       OutboxConfig
	Scheduler    SchedulerConfig
	RateLimit    RateLimitConfig
	Audit        AuditConfig
	Anchor       AnchorConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if !c.FeatureFlags.UsesDatabase() {
		return nil
	}
	if c.FeatureFlags.UseSQLite {
		if strings.TrimSpace(c.DB.SQLitePath) == "" {
			return fmt.Errorf("%s is required when sqlite is enabled", EnvSQLitePath)
		}
		return nil
	}
	return c.DB.ensureDSN()
}

type AppConfig struct {
	Env          string `envconfig:"TRUSTLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"TRUSTLEDGER_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"TRUSTLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TRUSTLEDGER_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"TRUSTLEDGER_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN        string `envconfig:"TRUSTLEDGER_DB_DSN"`
	Driver     string `envconfig:"TRUSTLEDGER_DB_DRIVER" default:"postgres"`
	SQLitePath string `envconfig:"TRUSTLEDGER_SQLITE_PATH" default:"trustledger.db"`

	Host     string `envconfig:"TRUSTLEDGER_DB_HOST"`
	Port     int    `envconfig:"TRUSTLEDGER_DB_PORT" default:"5432"`
	User     string `envconfig:"TRUSTLEDGER_DB_USER"`
	Password string `envconfig:"TRUSTLEDGER_DB_PASSWORD"`
	Name     string `envconfig:"TRUSTLEDGER_DB_NAME"`
	SSLMode  string `envconfig:"TRUSTLEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TRUSTLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TRUSTLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TRUSTLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TRUSTLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TRUSTLEDGER_REDIS_URL"`
	Address      string        `envconfig:"TRUSTLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"TRUSTLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"TRUSTLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TRUSTLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TRUSTLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TRUSTLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TRUSTLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TRUSTLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Configured reports whether a redis endpoint was supplied.
func (r RedisConfig) Configured() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

// AuthConfig controls how principals are resolved. AllowHeaders accepts X-Role / X-Scopes
// when no bearer token is present.
type AuthConfig struct {
	JWTSecret         string `envconfig:"TRUSTLEDGER_JWT_SECRET"`
	JWTIssuer         string `envconfig:"TRUSTLEDGER_JWT_ISSUER" default:"trustledger"`
	ExpirationMinutes int    `envconfig:"TRUSTLEDGER_JWT_EXPIRATION_MINUTES" default:"60"`
	AllowHeaders      bool   `envconfig:"TRUSTLEDGER_AUTH_ALLOW_HEADERS" default:"true"`
	FallbackRole      string `envconfig:"TRUSTLEDGER_AUTH_FALLBACK_ROLE" default:"external"`
}

type OutboxConfig struct {
	MaxAttempts   int           `envconfig:"TRUSTLEDGER_OUTBOX_MAX_ATTEMPTS" default:"5"`
	BackoffBaseMS int64         `envconfig:"TRUSTLEDGER_OUTBOX_BACKOFF_BASE_MS" default:"2000"`
	JitterMS      int64         `envconfig:"TRUSTLEDGER_OUTBOX_JITTER_MS" default:"500"`
	StepTimeout   time.Duration `envconfig:"TRUSTLEDGER_OUTBOX_STEP_TIMEOUT" default:"0s"`
}

type SchedulerConfig struct {
	Interval        time.Duration `envconfig:"TRUSTLEDGER_SCHEDULER_INTERVAL" default:"1s"`
	Embedded        bool          `envconfig:"TRUSTLEDGER_SCHEDULER_EMBEDDED" default:"true"`
	DistributedLock bool          `envconfig:"TRUSTLEDGER_SCHEDULER_DISTRIBUTED_LOCK" default:"false"`
	LockKey         string        `envconfig:"TRUSTLEDGER_SCHEDULER_LOCK_KEY" default:"scheduler:outbox-tick"`
	LockTTL         time.Duration `envconfig:"TRUSTLEDGER_SCHEDULER_LOCK_TTL" default:"30s"`
}

type RateLimitConfig struct {
	Window time.Duration `envconfig:"TRUSTLEDGER_RATE_LIMIT_WINDOW" default:"1m"`
	Ops    int64         `envconfig:"TRUSTLEDGER_RATE_LIMIT_OPS" default:"60"`
}

type AuditConfig struct {
	ExportMaxRange time.Duration `envconfig:"TRUSTLEDGER_AUDIT_EXPORT_MAX_RANGE" default:"744h"`
}

type AnchorConfig struct {
	Mode    string        `envconfig:"TRUSTLEDGER_ANCHOR_MODE" default:"simulated"`
	URL     string        `envconfig:"TRUSTLEDGER_ANCHOR_URL"`
	Timeout time.Duration `envconfig:"TRUSTLEDGER_ANCHOR_TIMEOUT" default:"10s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"TRUSTLEDGER_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	Enabled     bool   `envconfig:"TRUSTLEDGER_PUBSUB_ENABLED" default:"false"`
	ExportTopic string `envconfig:"TRUSTLEDGER_PUBSUB_EXPORT_TOPIC" default:"audit-exports"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool   `envconfig:"TRUSTLEDGER_USE_SQLITE" default:"false"`
	AutoMigrate bool   `envconfig:"TRUSTLEDGER_AUTO_MIGRATE" default:"false"`
	Persistence string `envconfig:"TRUSTLEDGER_PERSISTENCE" default:"memory"`
}

// UsesDatabase reports whether jobs, events and exports live in SQL storage.
func (f FeatureFlagsConfig) UsesDatabase() bool {
	return strings.EqualFold(strings.TrimSpace(f.Persistence), PersistenceDB)
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range splitDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
