package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	PayHere      PayHereConfig
	CardVault    CardVaultConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
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

// LoadAPI loads the configuration and additionally requires everything the
// payment subsystem needs, so a misconfigured gateway fails at startup.
func LoadAPI() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.PayHere.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.CardVault.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"AGROMART_APP_ENV" required:"true"`
	Port         string `envconfig:"AGROMART_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"AGROMART_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"AGROMART_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"AGROMART_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"AGROMART_CORS_ORIGINS" default:"http://localhost:3000"`

	PaymentRateWindow    time.Duration `envconfig:"AGROMART_PAYMENT_RATE_WINDOW" default:"1m"`
	PaymentRateIPLimit   int           `envconfig:"AGROMART_PAYMENT_RATE_IP_LIMIT" default:"60"`
	PaymentRateUserLimit int           `envconfig:"AGROMART_PAYMENT_RATE_USER_LIMIT" default:"20"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"AGROMART_DB_DSN"`

	LegacyHost     string `envconfig:"AGROMART_DB_HOST"`
	LegacyPort     int    `envconfig:"AGROMART_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"AGROMART_DB_USER"`
	LegacyPassword string `envconfig:"AGROMART_DB_PASSWORD"`
	LegacyName     string `envconfig:"AGROMART_DB_NAME"`
	LegacySSLMode  string `envconfig:"AGROMART_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"AGROMART_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"AGROMART_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"AGROMART_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"AGROMART_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQuery logs statements slower than this at warn level; 0 disables.
	SlowQuery time.Duration `envconfig:"AGROMART_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"AGROMART_REDIS_URL" required:"true"`
	Address      string        `envconfig:"AGROMART_REDIS_ADDR"`
	Password     string        `envconfig:"AGROMART_REDIS_PASSWORD"`
	DB           int           `envconfig:"AGROMART_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"AGROMART_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"AGROMART_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"AGROMART_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"AGROMART_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"AGROMART_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"AGROMART_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"AGROMART_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"AGROMART_JWT_EXPIRATION_MINUTES" required:"true"`
}

// PayHereConfig holds the merchant credentials and endpoints for the gateway.
type PayHereConfig struct {
	MerchantID      string        `envconfig:"AGROMART_PAYHERE_MERCHANT_ID"`
	MerchantSecret  string        `envconfig:"AGROMART_PAYHERE_MERCHANT_SECRET"`
	AppID           string        `envconfig:"AGROMART_PAYHERE_APP_ID"`
	AppSecret       string        `envconfig:"AGROMART_PAYHERE_APP_SECRET"`
	Sandbox         bool          `envconfig:"AGROMART_PAYHERE_SANDBOX" default:"true"`
	BaseURL         string        `envconfig:"AGROMART_PAYHERE_BASE_URL"`
	ReturnURL       string        `envconfig:"AGROMART_PAYHERE_RETURN_URL"`
	CancelURL       string        `envconfig:"AGROMART_PAYHERE_CANCEL_URL"`
	NotifyURL       string        `envconfig:"AGROMART_PAYHERE_NOTIFY_URL"`
	Currency        string        `envconfig:"AGROMART_PAYHERE_CURRENCY" default:"LKR"`
	HTTPTimeout     time.Duration `envconfig:"AGROMART_PAYHERE_HTTP_TIMEOUT" default:"15s"`
	WebhookDedupTTL time.Duration `envconfig:"AGROMART_PAYHERE_WEBHOOK_DEDUP_TTL" default:"72h"`
	RefundLockTTL   time.Duration `envconfig:"AGROMART_PAYHERE_REFUND_LOCK_TTL" default:"2m"`
}

// Environment returns the normalized PayHere environment (sandbox/live).
func (p PayHereConfig) Environment() string {
	if p.Sandbox {
		return PayHereEnvSandbox
	}
	return PayHereEnvLive
}

// Validate reports every missing credential at once.
func (p PayHereConfig) Validate() error {
	var err error
	if strings.TrimSpace(p.MerchantID) == "" {
		err = multierr.Append(err, fmt.Errorf("%s is required", EnvPayHereMerchantID))
	}
	if strings.TrimSpace(p.MerchantSecret) == "" {
		err = multierr.Append(err, fmt.Errorf("%s is required", EnvPayHereMerchantSecret))
	}
	if strings.TrimSpace(p.NotifyURL) == "" {
		err = multierr.Append(err, fmt.Errorf("%s is required", EnvPayHereNotifyURL))
	}
	if p.HTTPTimeout <= 0 {
		err = multierr.Append(err, errors.New("payhere http timeout must be positive"))
	}
	if err != nil {
		return fmt.Errorf("payhere config: %w", err)
	}
	return nil
}

type CardVaultConfig struct {
	// EncryptionKey is a hex encoded 32 byte key.
	EncryptionKey string `envconfig:"AGROMART_CARD_VAULT_KEY"`
}

func (c CardVaultConfig) Validate() error {
	if len(strings.TrimSpace(c.EncryptionKey)) != 64 {
		return fmt.Errorf("%s must be a 64 character hex key", EnvCardVaultKey)
	}
	return nil
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"AGROMART_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"AGROMART_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"AGROMART_PUBSUB_NOTIFICATION_TOPIC" default:"agm-notification-events"`
	InventoryTopic    string `envconfig:"AGROMART_PUBSUB_INVENTORY_TOPIC" default:"agm-inventory-events"`
	OrdersTopic       string `envconfig:"AGROMART_PUBSUB_ORDERS_TOPIC" default:"agm-order-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"AGROMART_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"AGROMART_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"AGROMART_OUTBOX_MAX_ATTEMPTS" default:"10"`
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
