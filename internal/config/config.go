// Package config loads paygate configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"paygate/internal/common/database"
	"paygate/internal/common/nats"
	"paygate/internal/payment/authentication"
	"paygate/internal/payment/domain"
	"paygate/internal/payment/fraud"
	"paygate/internal/payment/installment"
)

// Coordination backends for the gate, idempotency store and card vault
const (
	CoordinationNATS   = "nats"
	CoordinationMemory = "memory"
)

// Config holds service configuration
type Config struct {
	Port         int    `envconfig:"HTTP_PORT" default:"8080"`
	Environment  string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LOG_FORMAT" default:"json"`
	Coordination string `envconfig:"PAYGATE_COORDINATION" default:"nats"`

	// CORSAllowedOrigins lists the checkout origins allowed to call the API; "*" allows any
	CORSAllowedOrigins []string `envconfig:"HTTP_CORS_ALLOWED_ORIGINS"`

	Database database.Config
	NATS     nats.Config
	Buckets  BucketConfig
	Payment  PaymentConfig
	Fraud    FraudConfig
	Auth     AuthConfig
	Worker   WorkerConfig
}

// PaymentConfig holds payment platform settings
type PaymentConfig struct {
	MinAmount            int64         `envconfig:"PAYMENT_MIN_AMOUNT" default:"1000"`
	SessionExpireMinutes int           `envconfig:"PAYMENT_SESSION_EXPIRE_MINUTES" default:"15"`
	CheckoutBaseURL      string        `envconfig:"PAYMENT_CHECKOUT_BASE_URL" default:"http://localhost:8080"`
	KeyFormat            string        `envconfig:"PAYMENT_KEY_FORMAT" default:"ulid"`
	GateTTL              time.Duration `envconfig:"PAYMENT_GATE_TTL" default:"5s"`
	IdempotencyTTL       time.Duration `envconfig:"PAYMENT_IDEMPOTENCY_TTL" default:"24h"`
	VaultTTL             time.Duration `envconfig:"PAYMENT_VAULT_TTL" default:"30m"`
	VaultKey             string        `envconfig:"PAYMENT_VAULT_KEY"`
	MerchantDefaultLimit int64         `envconfig:"PAYMENT_MERCHANT_DEFAULT_LIMIT" default:"100000000"`

	InstallmentMonths             []int `envconfig:"INSTALLMENT_DEFAULT_MONTHS" default:"2,3,6,12"`
	InstallmentInterestFreeMonths []int `envconfig:"INSTALLMENT_DEFAULT_INTEREST_FREE_MONTHS" default:"2,3"`
	InstallmentMinAmount          int64 `envconfig:"INSTALLMENT_DEFAULT_MIN_AMOUNT" default:"0"`
}

// FraudConfig holds fraud rule settings
type FraudConfig struct {
	AllowedCountries     []string `envconfig:"FRAUD_ALLOWED_COUNTRIES" default:"KR"`
	VelocityMaxPerMinute int      `envconfig:"FRAUD_VELOCITY_MAX_PER_MINUTE" default:"5"`
}

// AuthConfig holds authentication routing settings
type AuthConfig struct {
	HighAmountThreshold int64    `envconfig:"AUTH_HIGH_AMOUNT_THRESHOLD" default:"300000"`
	ExemptionCountries  []string `envconfig:"AUTH_EXEMPTION_COUNTRIES" default:"KR"`
	ISPURL              string   `envconfig:"AUTH_ISP_URL"`
	ThreeDSURL          string   `envconfig:"AUTH_3DS_URL"`
}

// BucketConfig names the NATS buckets and stream paygate uses
type BucketConfig struct {
	Gates        string `envconfig:"NATS_GATE_BUCKET" default:"PAYGATE_GATES"`
	Idempotency  string `envconfig:"NATS_IDEMPOTENCY_BUCKET" default:"PAYGATE_IDEMPOTENCY"`
	Vault        string `envconfig:"NATS_VAULT_BUCKET" default:"PAYGATE_VAULT"`
	EventsStream string `envconfig:"NATS_EVENTS_STREAM" default:"PAYMENT_EVENTS"`
}

// WorkerConfig holds background job schedules in cron syntax
type WorkerConfig struct {
	ExpireSessionsSchedule string `envconfig:"WORKER_EXPIRE_SESSIONS_SCHEDULE" default:"@every 1m"`
	PurgeVaultSchedule     string `envconfig:"WORKER_PURGE_VAULT_SCHEDULE" default:"@every 5m"`
	ExpireBatchSize        int    `envconfig:"WORKER_EXPIRE_BATCH_SIZE" default:"500"`
}

// Load reads an optional .env file and then the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MigrateConfig is the subset of configuration the migrate command needs
type MigrateConfig struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	Database database.Config
}

// LoadMigrate reads an optional .env file and the database settings
func LoadMigrate() (*MigrateConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	var cfg MigrateConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing config: %w", err)
	}
	return &cfg, nil
}

// Validate checks settings envconfig cannot express
func (c *Config) Validate() error {
	switch c.Coordination {
	case CoordinationNATS:
		if c.Payment.VaultKey == "" {
			return errors.New("PAYMENT_VAULT_KEY is required with nats coordination")
		}
	case CoordinationMemory:
	default:
		return fmt.Errorf("unknown PAYGATE_COORDINATION %q", c.Coordination)
	}
	switch c.Payment.KeyFormat {
	case "ulid", "uuid":
	default:
		return fmt.Errorf("unknown PAYMENT_KEY_FORMAT %q", c.Payment.KeyFormat)
	}
	if c.Payment.MinAmount <= 0 {
		return errors.New("PAYMENT_MIN_AMOUNT must be positive")
	}
	if c.Payment.SessionExpireMinutes <= 0 {
		return errors.New("PAYMENT_SESSION_EXPIRE_MINUTES must be positive")
	}
	if c.Payment.GateTTL <= 0 {
		return errors.New("PAYMENT_GATE_TTL must be positive")
	}
	return nil
}

// Policy returns the platform payment constants
func (c *Config) Policy() domain.Policy {
	return domain.Policy{
		MinPaymentAmount:     c.Payment.MinAmount,
		DefaultExpireMinutes: c.Payment.SessionExpireMinutes,
	}
}

// FraudPolicy returns the fraud rule settings
func (c *Config) FraudPolicy() fraud.StaticPolicy {
	return fraud.StaticPolicy{
		Countries:    c.Fraud.AllowedCountries,
		MaxPerMinute: c.Fraud.VelocityMaxPerMinute,
	}
}

// AuthPolicy returns the authentication routing settings
func (c *Config) AuthPolicy() authentication.StaticPolicy {
	return authentication.StaticPolicy{
		Threshold:  c.Auth.HighAmountThreshold,
		Exemptions: c.Auth.ExemptionCountries,
	}
}

// IssuerFallback is the installment policy for issuers without their own
func (c *Config) IssuerFallback() installment.IssuerPolicy {
	return installment.IssuerPolicy{
		AvailableMonths:      c.Payment.InstallmentMonths,
		InterestFreeMonths:   c.Payment.InstallmentInterestFreeMonths,
		MinInstallmentAmount: c.Payment.InstallmentMinAmount,
	}
}
