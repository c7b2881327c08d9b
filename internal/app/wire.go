package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/escrowbot/internal/blob/s3"
	"github.com/alanyoungcy/escrowbot/internal/cache/local"
	"github.com/alanyoungcy/escrowbot/internal/cache/redis"
	"github.com/alanyoungcy/escrowbot/internal/config"
	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/metrics"
	"github.com/alanyoungcy/escrowbot/internal/notify"
	"github.com/alanyoungcy/escrowbot/internal/server/handler"
	"github.com/alanyoungcy/escrowbot/internal/store/memory"
	"github.com/alanyoungcy/escrowbot/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	UoW domain.UnitOfWork

	// Redis-backed; LockManager and RateLimiter are nil without Redis.
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Archiver is nil unless archiving is enabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// Health lists the external dependencies checked by /api/health.
	Health map[string]handler.Pinger
}

// needsS3 reports whether the configuration archives to object storage.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "archive" || cfg.Archive.Enabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps := &Dependencies{
		Registry: reg,
		Metrics:  metrics.New(reg),
		Health:   map[string]handler.Pinger{},
	}

	// --- Unit of work ---
	switch cfg.Store.Driver {
	case "memory":
		logger.WarnContext(ctx, "using in-memory store; all balances are lost on restart")
		deps.UoW = memory.New()
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
			Logger:   logger,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.UoW = postgres.NewUnitOfWork(pgClient, cfg.Store.LockTimeout.Duration)
		deps.Health["postgres"] = pgClient
	}

	// --- Redis (optional) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = redisClient
	} else {
		logger.WarnContext(ctx, "redis disabled; action locks and rate limiting are off, events stay in-process")
		deps.SignalBus = local.NewBus()
	}

	// --- S3 archive ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			MaxAttempts:    cfg.S3.MaxAttempts,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			deps.UoW,
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Metrics,
			logger,
		)
		deps.Health["s3"] = s3Client
	}

	// --- Notifications ---
	// Telegram doubles as the direct channel to users; Discord only reaches
	// admins.
	var (
		direct  notify.DirectSender
		senders []notify.Sender
	)
	if cfg.Notify.TelegramToken != "" {
		tg := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		direct = tg
		senders = append(senders, tg)
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(direct, senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
