package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// DepositService defines the methods that the deposit handlers require from
// the service layer.
type DepositService interface {
	Submit(ctx context.Context, accountID int64, amount decimal.Decimal, kind string) (domain.DepositAttestation, error)
	Approve(ctx context.Context, adminID, accountID int64, amount decimal.Decimal, kind string) (domain.Transaction, error)
	Reject(ctx context.Context, adminID, accountID int64, amount decimal.Decimal, kind string) error
}

// DepositHandler serves the caller's deposit claim endpoint.
type DepositHandler struct {
	deposits DepositService
	logger   *slog.Logger
}

// NewDepositHandler creates a DepositHandler.
func NewDepositHandler(deposits DepositService, logger *slog.Logger) *DepositHandler {
	return &DepositHandler{deposits: deposits, logger: logger}
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Crypto string          `json:"crypto"`
}

// Submit records a deposit claim for admin review.
// POST /api/deposits
func (h *DepositHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "submit deposit", err)
		return
	}
	att, err := h.deposits.Submit(r.Context(), actor(r), req.Amount, req.Crypto)
	if err != nil {
		writeServiceError(w, r, h.logger, "submit deposit", err)
		return
	}
	writeJSON(w, http.StatusAccepted, att)
}
