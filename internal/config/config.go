// Package config defines the top-level configuration for escrowbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ESCROWBOT_* environment variables.
type Config struct {
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Escrow   EscrowConfig   `toml:"escrow"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// StoreConfig selects the unit of work implementation and its concurrency
// knobs.
type StoreConfig struct {
	// Driver is "postgres" or "memory". The memory store is lost on restart.
	Driver        string   `toml:"driver"`
	LockTimeout   duration `toml:"lock_timeout"`
	RetryAttempts int      `toml:"retry_attempts"`
	RetryBackoff  duration `toml:"retry_backoff"`
	// ActionLockTTL bounds the distributed lock held per admin action.
	ActionLockTTL duration `toml:"action_lock_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. An empty Addr disables
// Redis: action locks and API rate limiting are skipped and events stay
// in-process.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	MaxAttempts    int    `toml:"max_attempts"`
}

// EscrowConfig holds the fee schedule and the bounds applied to user input.
// Amounts are decimal strings, e.g. "5.00".
type EscrowConfig struct {
	FeeThreshold   decimal.Decimal `toml:"fee_threshold"`
	FlatFee        decimal.Decimal `toml:"flat_fee"`
	FeeRate        decimal.Decimal `toml:"fee_rate"`
	DealMin        decimal.Decimal `toml:"deal_min"`
	DealMax        decimal.Decimal `toml:"deal_max"`
	DepositMin     decimal.Decimal `toml:"deposit_min"`
	DepositMax     decimal.Decimal `toml:"deposit_max"`
	WithdrawalMin  decimal.Decimal `toml:"withdrawal_min"`
	TitleMax       int             `toml:"title_max"`
	DescriptionMax int             `toml:"description_max"`
	ReasonMax      int             `toml:"reason_max"`
	ServicesMax    int             `toml:"services_max"`
	AddressMin     int             `toml:"address_min"`
	AddressMax     int             `toml:"address_max"`
}

// ArchiveConfig controls cold storage of old ledger rows.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`

	// The JWT signing key comes from JWTSecret, or from a file sealed with
	// `escrowbot seal` at JWTSealedPath opened with JWTSealPassword.
	JWTSecret       string   `toml:"jwt_secret"`
	JWTSealedPath   string   `toml:"jwt_sealed_path"`
	JWTSealPassword string   `toml:"jwt_seal_password"`
	TokenTTL        duration `toml:"token_ttl"`

	// ActionSecret signs admin notification buttons.
	ActionSecret string `toml:"action_secret"`

	// RateLimit requests per RateWindow per client; 0 disables the limit.
	RateLimit      int      `toml:"rate_limit"`
	RateWindow     duration `toml:"rate_window"`
	IdempotencyTTL duration `toml:"idempotency_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Store: StoreConfig{
			Driver:        "postgres",
			LockTimeout:   duration{5 * time.Second},
			RetryAttempts: 3,
			RetryBackoff:  duration{50 * time.Millisecond},
			ActionLockTTL: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "escrowbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "escrowbot-archive",
			ForcePathStyle: true,
			MaxAttempts:    5,
		},
		Escrow: EscrowConfig{
			FeeThreshold:   decimal.NewFromInt(100),
			FlatFee:        decimal.RequireFromString("5.00"),
			FeeRate:        decimal.RequireFromString("0.05"),
			DealMin:        decimal.NewFromInt(1),
			DealMax:        decimal.NewFromInt(50000),
			DepositMin:     decimal.NewFromInt(10),
			DepositMax:     decimal.NewFromInt(10000),
			WithdrawalMin:  decimal.NewFromInt(10),
			TitleMax:       100,
			DescriptionMax: 1000,
			ReasonMax:      500,
			ServicesMax:    500,
			AddressMin:     20,
			AddressMax:     100,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Server: ServerConfig{
			Port:           8000,
			CORSOrigins:    []string{"http://localhost:3000", "http://localhost:5173"},
			TokenTTL:       duration{24 * time.Hour},
			RateLimit:      120,
			RateWindow:     duration{time.Minute},
			IdempotencyTTL: duration{10 * time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"deal.disputed", "withdrawal.requested", "deposit.submitted", "account.topup_needed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ServesHTTP reports whether the mode runs the API server.
func (c *Config) ServesHTTP() bool {
	m := strings.ToLower(c.Mode)
	return m == "server" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Store
	switch c.Store.Driver {
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	case "memory":
		if strings.EqualFold(c.Mode, "archive") {
			errs = append(errs, "store: mode archive needs the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, memory)", c.Store.Driver))
	}
	if c.Store.RetryAttempts < 1 {
		errs = append(errs, "store: retry_attempts must be >= 1")
	}

	// Redis is optional.
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Escrow
	e := c.Escrow
	if e.FlatFee.IsNegative() || e.FeeRate.IsNegative() || e.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "escrow: flat_fee must be >= 0 and fee_rate in [0, 1)")
	}
	if !e.DealMin.IsPositive() || e.DealMax.LessThan(e.DealMin) {
		errs = append(errs, "escrow: need 0 < deal_min <= deal_max")
	}
	if !e.DepositMin.IsPositive() || e.DepositMax.LessThan(e.DepositMin) {
		errs = append(errs, "escrow: need 0 < deposit_min <= deposit_max")
	}
	if !e.WithdrawalMin.IsPositive() {
		errs = append(errs, "escrow: withdrawal_min must be > 0")
	}
	if e.AddressMin < 1 || e.AddressMax < e.AddressMin {
		errs = append(errs, "escrow: need 1 <= address_min <= address_max")
	}
	if e.TitleMax < 1 || e.DescriptionMax < 0 || e.ReasonMax < 1 || e.ServicesMax < 1 {
		errs = append(errs, "escrow: text limits must be positive")
	}

	// Archive
	if c.Archive.Enabled || strings.EqualFold(c.Mode, "archive") {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archiving")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	// Server
	if c.ServesHTTP() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		switch {
		case c.Server.JWTSecret != "":
			if len(c.Server.JWTSecret) < 32 {
				errs = append(errs, "server: jwt_secret must be at least 32 bytes")
			}
		case c.Server.JWTSealedPath != "":
			if c.Server.JWTSealPassword == "" {
				errs = append(errs, "server: jwt_seal_password is required when jwt_sealed_path is set")
			}
		default:
			errs = append(errs, "server: either jwt_secret or jwt_sealed_path must be set")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
