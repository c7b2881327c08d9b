package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ESCROWBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ESCROWBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Store ──
	setStr(&cfg.Store.Driver, "ESCROWBOT_STORE_DRIVER")
	setDuration(&cfg.Store.LockTimeout, "ESCROWBOT_STORE_LOCK_TIMEOUT")
	setInt(&cfg.Store.RetryAttempts, "ESCROWBOT_STORE_RETRY_ATTEMPTS")
	setDuration(&cfg.Store.RetryBackoff, "ESCROWBOT_STORE_RETRY_BACKOFF")
	setDuration(&cfg.Store.ActionLockTTL, "ESCROWBOT_STORE_ACTION_LOCK_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ESCROWBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ESCROWBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ESCROWBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ESCROWBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ESCROWBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ESCROWBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ESCROWBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ESCROWBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ESCROWBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ESCROWBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ESCROWBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ESCROWBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ESCROWBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ESCROWBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ESCROWBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ESCROWBOT_REDIS_TLS_ENABLED")
	// "off" disables Redis even when the file names an address.
	if os.Getenv("ESCROWBOT_REDIS_ADDR") == "off" {
		cfg.Redis.Addr = ""
	}

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ESCROWBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ESCROWBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "ESCROWBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ESCROWBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ESCROWBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ESCROWBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ESCROWBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.MaxAttempts, "ESCROWBOT_S3_MAX_ATTEMPTS")

	// ── Escrow ──
	setDecimal(&cfg.Escrow.FeeThreshold, "ESCROWBOT_ESCROW_FEE_THRESHOLD")
	setDecimal(&cfg.Escrow.FlatFee, "ESCROWBOT_ESCROW_FLAT_FEE")
	setDecimal(&cfg.Escrow.FeeRate, "ESCROWBOT_ESCROW_FEE_RATE")
	setDecimal(&cfg.Escrow.DealMin, "ESCROWBOT_ESCROW_DEAL_MIN")
	setDecimal(&cfg.Escrow.DealMax, "ESCROWBOT_ESCROW_DEAL_MAX")
	setDecimal(&cfg.Escrow.DepositMin, "ESCROWBOT_ESCROW_DEPOSIT_MIN")
	setDecimal(&cfg.Escrow.DepositMax, "ESCROWBOT_ESCROW_DEPOSIT_MAX")
	setDecimal(&cfg.Escrow.WithdrawalMin, "ESCROWBOT_ESCROW_WITHDRAWAL_MIN")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ESCROWBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ESCROWBOT_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "ESCROWBOT_ARCHIVE_CRON")

	// ── Server ──
	setInt(&cfg.Server.Port, "ESCROWBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ESCROWBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.JWTSecret, "ESCROWBOT_SERVER_JWT_SECRET")
	setStr(&cfg.Server.JWTSealedPath, "ESCROWBOT_SERVER_JWT_SEALED_PATH")
	setStr(&cfg.Server.JWTSealPassword, "ESCROWBOT_SERVER_JWT_SEAL_PASSWORD")
	setDuration(&cfg.Server.TokenTTL, "ESCROWBOT_SERVER_TOKEN_TTL")
	setStr(&cfg.Server.ActionSecret, "ESCROWBOT_SERVER_ACTION_SECRET")
	setInt(&cfg.Server.RateLimit, "ESCROWBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ESCROWBOT_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.IdempotencyTTL, "ESCROWBOT_SERVER_IDEMPOTENCY_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ESCROWBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ESCROWBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ESCROWBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ESCROWBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ESCROWBOT_MODE")
	setStr(&cfg.LogLevel, "ESCROWBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
