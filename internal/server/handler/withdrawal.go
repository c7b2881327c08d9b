package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// WithdrawalService defines the methods that the withdrawal handlers
// require from the service layer.
type WithdrawalService interface {
	Request(ctx context.Context, accountID int64, amount decimal.Decimal, address string) (domain.WithdrawalRequest, error)
	Confirm(ctx context.Context, adminID int64, id string) (domain.WithdrawalRequest, error)
	Reject(ctx context.Context, adminID int64, id, notes string) (domain.WithdrawalRequest, error)
	List(ctx context.Context, adminID int64, status domain.WithdrawalStatus, opts domain.ListOpts) ([]domain.WithdrawalRequest, error)
	ListMine(ctx context.Context, accountID int64, opts domain.ListOpts) ([]domain.WithdrawalRequest, error)
}

// WithdrawalHandler serves the caller's withdrawal endpoints.
type WithdrawalHandler struct {
	withdrawals WithdrawalService
	logger      *slog.Logger
}

// NewWithdrawalHandler creates a WithdrawalHandler.
func NewWithdrawalHandler(withdrawals WithdrawalService, logger *slog.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals, logger: logger}
}

type withdrawalRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Address string          `json:"address"`
}

// Request reserves funds for a payout.
// POST /api/withdrawals
func (h *WithdrawalHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "request withdrawal", err)
		return
	}
	wr, err := h.withdrawals.Request(r.Context(), actor(r), req.Amount, req.Address)
	if err != nil {
		writeServiceError(w, r, h.logger, "request withdrawal", err)
		return
	}
	writeJSON(w, http.StatusCreated, wr)
}

// ListMine returns the caller's requests.
// GET /api/withdrawals
func (h *WithdrawalHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "list withdrawals", err)
		return
	}
	list, err := h.withdrawals.ListMine(r.Context(), actor(r), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list withdrawals", err)
		return
	}
	if list == nil {
		list = []domain.WithdrawalRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": list})
}
