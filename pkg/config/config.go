package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	RateLimit    RateLimitConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	Asaas        AsaasConfig
	Settlement   SettlementConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Settlement.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"COINMARKET_APP_ENV" required:"true"`
	Port         string   `envconfig:"COINMARKET_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"COINMARKET_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"COINMARKET_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"COINMARKET_LOG_WARN_STACK" default:"false"`
	CORSOrigins  []string `envconfig:"COINMARKET_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"COINMARKET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"COINMARKET_DB_DSN"`
	Driver string `envconfig:"COINMARKET_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"COINMARKET_DB_HOST"`
	LegacyPort     int    `envconfig:"COINMARKET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"COINMARKET_DB_USER"`
	LegacyPassword string `envconfig:"COINMARKET_DB_PASSWORD"`
	LegacyName     string `envconfig:"COINMARKET_DB_NAME"`
	LegacySSLMode  string `envconfig:"COINMARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COINMARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COINMARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COINMARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COINMARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"COINMARKET_DB_SLOW_QUERY" default:"200ms"`
}

// IsSQLite reports whether the configured driver targets a local SQLite file.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"COINMARKET_REDIS_URL" required:"true"`
	Address      string        `envconfig:"COINMARKET_REDIS_ADDR"`
	Password     string        `envconfig:"COINMARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"COINMARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"COINMARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COINMARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COINMARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COINMARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COINMARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"COINMARKET_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"COINMARKET_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"COINMARKET_JWT_EXPIRATION_MINUTES" default:"60"`
}

// Expiration returns the access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"COINMARKET_AUTO_MIGRATE" default:"false"`
	Metrics     bool `envconfig:"COINMARKET_FEATURE_METRICS" default:"true"`
}

type RateLimitConfig struct {
	DepositStatusWindow time.Duration `envconfig:"COINMARKET_RATE_LIMIT_DEPOSIT_STATUS_WINDOW" default:"1m"`
	DepositStatusLimit  int           `envconfig:"COINMARKET_RATE_LIMIT_DEPOSIT_STATUS_LIMIT" default:"20"`

	APIWindow       time.Duration `envconfig:"COINMARKET_RATE_LIMIT_API_WINDOW" default:"1m"`
	APIIPLimit      int           `envconfig:"COINMARKET_RATE_LIMIT_API_IP_LIMIT" default:"300"`
	APIAccountLimit int           `envconfig:"COINMARKET_RATE_LIMIT_API_ACCOUNT_LIMIT" default:"120"`

	WebhookWindow  time.Duration `envconfig:"COINMARKET_RATE_LIMIT_WEBHOOK_WINDOW" default:"1m"`
	WebhookIPLimit int           `envconfig:"COINMARKET_RATE_LIMIT_WEBHOOK_IP_LIMIT" default:"600"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"COINMARKET_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
	OutboxIdempotencyTTL  time.Duration `envconfig:"COINMARKET_EVENTING_OUTBOX_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"COINMARKET_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"COINMARKET_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"COINMARKET_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	SettlementTopic        string `envconfig:"COINMARKET_PUBSUB_SETTLEMENT_TOPIC" default:"cm-settlement-events"`
	OrdersTopic            string `envconfig:"COINMARKET_PUBSUB_ORDERS_TOPIC" default:"cm-order-events"`
	SettlementSubscription string `envconfig:"COINMARKET_PUBSUB_SETTLEMENT_SUBSCRIPTION"`
	MaxOutstanding         int    `envconfig:"COINMARKET_PUBSUB_MAX_OUTSTANDING" default:"100"`
}

type BigQueryConfig struct {
	Dataset               string `envconfig:"COINMARKET_BIGQUERY_DATASET" default:"settlement"`
	SettlementEventsTable string `envconfig:"COINMARKET_BIGQUERY_SETTLEMENT_EVENTS_TABLE" default:"settlement_events"`
	InsertAttempts        int    `envconfig:"COINMARKET_BIGQUERY_INSERT_ATTEMPTS" default:"3"`
	CreateTables          bool   `envconfig:"COINMARKET_BIGQUERY_CREATE_TABLES" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"COINMARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"COINMARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"COINMARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CronConfig struct {
	Tick                   time.Duration `envconfig:"COINMARKET_CRON_TICK" default:"5m"`
	ReconcileEvery         time.Duration `envconfig:"COINMARKET_CRON_RECONCILE_EVERY" default:"1h"`
	RetentionEvery         time.Duration `envconfig:"COINMARKET_CRON_RETENTION_EVERY" default:"24h"`
	StallReportEvery       time.Duration `envconfig:"COINMARKET_CRON_STALL_REPORT_EVERY" default:"15m"`
	LockTTL                time.Duration `envconfig:"COINMARKET_CRON_LOCK_TTL" default:"30m"`
	OutboxRetentionDays    int           `envconfig:"COINMARKET_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
	DLQRetentionDays       int           `envconfig:"COINMARKET_CRON_DLQ_RETENTION_DAYS" default:"90"`
	RetentionBatchSize     int           `envconfig:"COINMARKET_CRON_RETENTION_BATCH_SIZE" default:"500"`
	StalledWithdrawalAge   time.Duration `envconfig:"COINMARKET_CRON_STALLED_WITHDRAWAL_AGE" default:"1h"`
	StalledWithdrawalLimit int           `envconfig:"COINMARKET_CRON_STALLED_WITHDRAWAL_LIMIT" default:"100"`
}

type AsaasConfig struct {
	BaseURL      string        `envconfig:"COINMARKET_ASAAS_BASE_URL" default:"https://sandbox.asaas.com/api/v3"`
	APIKey       string        `envconfig:"COINMARKET_ASAAS_API_KEY"`
	WebhookToken string        `envconfig:"COINMARKET_ASAAS_WEBHOOK_TOKEN"`
	Timeout      time.Duration `envconfig:"COINMARKET_ASAAS_TIMEOUT" default:"10s"`
	DueDays      int           `envconfig:"COINMARKET_ASAAS_DUE_DAYS" default:"1"`
}

type SettlementConfig struct {
	PlatformAccountID  string `envconfig:"COINMARKET_PLATFORM_ACCOUNT_ID" default:"00000000-0000-0000-0000-000000000001"`
	WithdrawalFeeBPS   int64  `envconfig:"COINMARKET_WITHDRAWAL_FEE_BPS" default:"500"`
	MinDepositCents    int64  `envconfig:"COINMARKET_MIN_DEPOSIT_CENTS" default:"500"`
	MinWithdrawalCents int64  `envconfig:"COINMARKET_MIN_WITHDRAWAL_CENTS" default:"1000"`
}

// PlatformAccount returns the parsed fee recipient account id.
func (s SettlementConfig) PlatformAccount() uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(s.PlatformAccountID))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func (s SettlementConfig) validate() error {
	if s.PlatformAccount() == uuid.Nil {
		return fmt.Errorf("%s must be a valid uuid", EnvPlatformAccountID)
	}
	if s.WithdrawalFeeBPS < 0 || s.WithdrawalFeeBPS >= 10000 {
		return fmt.Errorf("%s must be within [0, 10000)", EnvWithdrawalFeeBPS)
	}
	if s.MinDepositCents <= 0 {
		return fmt.Errorf("%s must be positive", EnvMinDepositCents)
	}
	if s.MinWithdrawalCents <= 0 {
		return fmt.Errorf("%s must be positive", EnvMinWithdrawalCents)
	}
	return nil
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required when %s=%s", EnvDBDSN, EnvDBDriver, DBDriverSQLite)
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
