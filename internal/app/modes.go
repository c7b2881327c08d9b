package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/escrowbot/internal/auth"
	"github.com/alanyoungcy/escrowbot/internal/config"
	"github.com/alanyoungcy/escrowbot/internal/crypto"
	"github.com/alanyoungcy/escrowbot/internal/fee"
	"github.com/alanyoungcy/escrowbot/internal/pipeline"
	"github.com/alanyoungcy/escrowbot/internal/server"
	"github.com/alanyoungcy/escrowbot/internal/server/handler"
	"github.com/alanyoungcy/escrowbot/internal/server/middleware"
	"github.com/alanyoungcy/escrowbot/internal/server/ws"
	"github.com/alanyoungcy/escrowbot/internal/service"
)

const dedupSweepInterval = time.Minute

// Services holds the escrow services of one process.
type Services struct {
	Accounts    *service.AccountService
	Deals       *service.DealService
	Withdrawals *service.WithdrawalService
	Deposits    *service.DepositService
	Actions     *service.ActionRouter
}

// NewServices builds the escrow services over deps.
func NewServices(cfg *config.Config, deps *Dependencies, signer *crypto.ActionSigner, logger *slog.Logger) *Services {
	d := service.Deps{
		UoW:      deps.UoW,
		Fees:     FeeSchedule(cfg.Escrow),
		Limits:   Limits(cfg.Escrow),
		Retry:    service.Retry{Attempts: cfg.Store.RetryAttempts, Backoff: cfg.Store.RetryBackoff.Duration},
		Notifier: deps.Notifier,
		Bus:      deps.SignalBus,
		Locks:    deps.LockManager,
		LockTTL:  cfg.Store.ActionLockTTL.Duration,
		Actions:  signer,
		Metrics:  deps.Metrics,
		Logger:   logger,
	}
	s := &Services{
		Accounts:    service.NewAccountService(d),
		Deals:       service.NewDealService(d),
		Withdrawals: service.NewWithdrawalService(d),
		Deposits:    service.NewDepositService(d),
	}
	s.Actions = service.NewActionRouter(signer, s.Deals, s.Withdrawals, s.Deposits)
	return s
}

// FeeSchedule converts the configured fee settings.
func FeeSchedule(e config.EscrowConfig) fee.Schedule {
	return fee.Schedule{Threshold: e.FeeThreshold, Flat: e.FlatFee, Rate: e.FeeRate}
}

// Limits converts the configured input bounds.
func Limits(e config.EscrowConfig) service.Limits {
	return service.Limits{
		DealMin:        e.DealMin,
		DealMax:        e.DealMax,
		TitleMax:       e.TitleMax,
		DescriptionMax: e.DescriptionMax,
		ReasonMax:      e.ReasonMax,
		ServicesMax:    e.ServicesMax,
		DepositMin:     e.DepositMin,
		DepositMax:     e.DepositMax,
		WithdrawalMin:  e.WithdrawalMin,
		AddressMin:     e.AddressMin,
		AddressMax:     e.AddressMax,
	}
}

// ServerMode serves the HTTP API and the event stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startHTTPServer(ctx, g, deps); err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	return g.Wait()
}

// ArchiveMode runs one archive pass and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver is not configured")
	}
	return pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger).Run(ctx)
}

// FullMode serves the API and, when archiving is enabled, runs the archiver
// on its cron schedule alongside it.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startHTTPServer(ctx, g, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if deps.Archiver != nil {
		job := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		g.Go(func() error {
			return job.RunCron(ctx, a.cfg.Archive.Cron)
		})
	}
	return g.Wait()
}

// actionSigner returns the signer for admin notification buttons. Without a
// configured secret a random one is used, so buttons sent before a restart
// stop verifying.
func (a *App) actionSigner(ctx context.Context) *crypto.ActionSigner {
	secret := a.cfg.Server.ActionSecret
	if secret == "" {
		a.logger.WarnContext(ctx, "server.action_secret not set; using a per-process secret")
		secret = uuid.NewString()
	}
	return &crypto.ActionSigner{Secret: secret}
}

// startHTTPServer adds the HTTP server, the WebSocket hub and the
// idempotency sweeper to g. The server is shut down gracefully when the
// context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		Raw:        a.cfg.Server.JWTSecret,
		SealedPath: a.cfg.Server.JWTSealedPath,
		Password:   a.cfg.Server.JWTSealPassword,
	})
	if err != nil {
		return fmt.Errorf("jwt secret: %w", err)
	}
	tokens, err := auth.NewTokens([]byte(secret), a.cfg.Server.TokenTTL.Duration)
	if err != nil {
		return err
	}

	svc := NewServices(a.cfg, deps, a.actionSigner(ctx), a.logger)
	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
	dedup := middleware.NewDedup(a.cfg.Server.IdempotencyTTL.Duration)

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:      handler.NewHealthHandler(deps.Health, a.logger),
			Accounts:    handler.NewAccountHandler(svc.Accounts, a.logger),
			Deals:       handler.NewDealHandler(svc.Deals, a.logger),
			Withdrawals: handler.NewWithdrawalHandler(svc.Withdrawals, a.logger),
			Deposits:    handler.NewDepositHandler(svc.Deposits, a.logger),
			Admin: handler.NewAdminHandler(
				svc.Accounts, svc.Deals, svc.Withdrawals, svc.Deposits, svc.Actions, a.logger,
			),
		},
		server.Infra{
			Tokens:   tokens,
			Limiter:  deps.RateLimiter,
			Dedup:    dedup,
			Hub:      hub,
			Metrics:  deps.Metrics,
			Gatherer: deps.Registry,
		},
		a.logger,
	)

	g.Go(func() error {
		return hub.Run(ctx)
	})
	g.Go(func() error {
		return dedup.Run(ctx, dedupSweepInterval)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	return nil
}
