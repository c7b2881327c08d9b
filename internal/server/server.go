// Package server exposes the escrow services over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/metrics"
	"github.com/alanyoungcy/escrowbot/internal/server/handler"
	"github.com/alanyoungcy/escrowbot/internal/server/middleware"
	"github.com/alanyoungcy/escrowbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health      *handler.HealthHandler
	Accounts    *handler.AccountHandler
	Deals       *handler.DealHandler
	Withdrawals *handler.WithdrawalHandler
	Deposits    *handler.DepositHandler
	Admin       *handler.AdminHandler
}

// Infra carries the cross-cutting collaborators of the middleware chain.
// Limiter, Dedup, Hub, Metrics and Gatherer may be nil.
type Infra struct {
	Tokens   middleware.TokenParser
	Limiter  domain.RateLimiter
	Dedup    *middleware.Dedup
	Hub      *ws.Hub
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain.
func NewServer(cfg Config, h Handlers, infra Infra, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(cfg, h, infra, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Routes returns the complete handler tree.
func Routes(cfg Config, h Handlers, infra Infra, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	if infra.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(infra.Gatherer, promhttp.HandlerOpts{}))
	}

	// Accounts.
	mux.HandleFunc("POST /api/accounts", h.Accounts.Register)
	mux.HandleFunc("GET /api/accounts/me", h.Accounts.Me)
	mux.HandleFunc("PUT /api/accounts/me/services", h.Accounts.UpdateServices)
	mux.HandleFunc("GET /api/accounts/me/transactions", h.Accounts.Transactions)
	mux.HandleFunc("GET /api/sellers/top", h.Accounts.TopSellers)

	// Deals.
	mux.HandleFunc("POST /api/deals", h.Deals.Create)
	mux.HandleFunc("GET /api/deals", h.Deals.List)
	mux.HandleFunc("GET /api/deals/{id}", h.Deals.Get)
	mux.HandleFunc("POST /api/deals/{id}/{action}", h.Deals.Act)

	// Withdrawals and deposits.
	mux.HandleFunc("POST /api/withdrawals", h.Withdrawals.Request)
	mux.HandleFunc("GET /api/withdrawals", h.Withdrawals.ListMine)
	mux.HandleFunc("POST /api/deposits", h.Deposits.Submit)

	// Admin.
	mux.HandleFunc("POST /api/admin/deals/{id}/resolve", h.Admin.Resolve)
	mux.HandleFunc("GET /api/admin/withdrawals", h.Admin.ListWithdrawals)
	mux.HandleFunc("POST /api/admin/withdrawals/{id}/{action}", h.Admin.SettleWithdrawal)
	mux.HandleFunc("POST /api/admin/deposits/{action}", h.Admin.SettleDeposit)
	mux.HandleFunc("POST /api/admin/actions", h.Admin.Action)
	mux.HandleFunc("GET /api/admin/stats", h.Admin.Stats)

	if infra.Hub != nil {
		mux.Handle("GET /ws", h.Admin.RequireAdmin(http.HandlerFunc(infra.Hub.HandleWS)))
	}

	// Middleware, innermost first.
	var chain http.Handler = mux
	if infra.Dedup != nil {
		chain = middleware.Idempotency(infra.Dedup)(chain)
	}
	if infra.Limiter != nil && cfg.RateLimit > 0 {
		chain = middleware.RateLimit(infra.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(chain)
	}
	chain = middleware.Auth(infra.Tokens, "/api/health", "/metrics")(chain)
	chain = middleware.Logging(logger, infra.Metrics)(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)
	return chain
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server within the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
