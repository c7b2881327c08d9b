package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// AccountService defines the methods that the account handler requires from
// the service layer.
type AccountService interface {
	Register(ctx context.Context, id int64, username, firstName string) (domain.Account, bool, error)
	Get(ctx context.Context, id int64) (domain.Account, error)
	UpdateServices(ctx context.Context, id int64, services string) (domain.Account, error)
	Transactions(ctx context.Context, id int64, opts domain.ListOpts) ([]domain.Transaction, error)
	TopSellers(ctx context.Context, limit int) ([]domain.SellerRank, error)
}

// AccountHandler serves account endpoints for the authenticated caller.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

type registerRequest struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Register creates the caller's account on first contact.
// POST /api/accounts
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "register", err)
		return
	}
	acct, created, err := h.accounts.Register(r.Context(), actor(r), req.Username, req.FirstName)
	if err != nil {
		writeServiceError(w, r, h.logger, "register", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, acct)
}

// Me returns the caller's account.
// GET /api/accounts/me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	acct, err := h.accounts.Get(r.Context(), actor(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type servicesRequest struct {
	Services string `json:"services"`
}

// UpdateServices replaces the caller's seller profile text.
// PUT /api/accounts/me/services
func (h *AccountHandler) UpdateServices(w http.ResponseWriter, r *http.Request) {
	var req servicesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "update services", err)
		return
	}
	acct, err := h.accounts.UpdateServices(r.Context(), actor(r), req.Services)
	if err != nil {
		writeServiceError(w, r, h.logger, "update services", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Transactions lists the caller's journal entries.
// GET /api/accounts/me/transactions?limit=50&offset=0&since=...&until=...
func (h *AccountHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "list transactions", err)
		return
	}
	txs, err := h.accounts.Transactions(r.Context(), actor(r), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list transactions", err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// TopSellers returns the leaderboard.
// GET /api/sellers/top?limit=10
func (h *AccountHandler) TopSellers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sellers, err := h.accounts.TopSellers(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "top sellers", err)
		return
	}
	if sellers == nil {
		sellers = []domain.SellerRank{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sellers": sellers})
}
