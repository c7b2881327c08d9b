package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/service"
)

// StatsService reports platform totals to admins.
type StatsService interface {
	Get(ctx context.Context, id int64) (domain.Account, error)
	Stats(ctx context.Context, actorID int64) (service.Stats, error)
}

// ActionHandler executes signed admin button payloads.
type ActionHandler interface {
	Handle(ctx context.Context, adminID int64, payload string) (any, error)
}

// AdminHandler serves the admin endpoints. Role checks happen in the
// service layer; RequireAdmin guards endpoints that have no service call.
type AdminHandler struct {
	accounts    StatsService
	deals       DealService
	withdrawals WithdrawalService
	deposits    DepositService
	actions     ActionHandler
	logger      *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(accounts StatsService, deals DealService, withdrawals WithdrawalService, deposits DepositService, actions ActionHandler, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		accounts:    accounts,
		deals:       deals,
		withdrawals: withdrawals,
		deposits:    deposits,
		actions:     actions,
		logger:      logger,
	}
}

// RequireAdmin lets only admin accounts through to next.
func (h *AdminHandler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct, err := h.accounts.Get(r.Context(), actor(r))
		if err != nil {
			writeServiceError(w, r, h.logger, "require admin", err)
			return
		}
		if !acct.IsAdmin {
			writeError(w, http.StatusForbidden, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type resolveRequest struct {
	Policy string `json:"policy"`
}

// Resolve settles a disputed deal.
// POST /api/admin/deals/{id}/resolve
func (h *AdminHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "resolve dispute", err)
		return
	}
	policy, err := domain.ParseResolution(req.Policy)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve dispute", err)
		return
	}
	d, err := h.deals.Resolve(r.Context(), actor(r), pathParam(r, "id"), policy)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListWithdrawals returns the queue for one status, pending by default.
// GET /api/admin/withdrawals?status=pending
func (h *AdminHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "list withdrawals", err)
		return
	}
	status := domain.WithdrawalStatusPending
	if v := r.URL.Query().Get("status"); v != "" {
		if status, err = domain.ParseWithdrawalStatus(v); err != nil {
			writeServiceError(w, r, h.logger, "list withdrawals", err)
			return
		}
	}
	list, err := h.withdrawals.List(r.Context(), actor(r), status, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list withdrawals", err)
		return
	}
	if list == nil {
		list = []domain.WithdrawalRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": list})
}

type notesRequest struct {
	Notes string `json:"notes"`
}

// SettleWithdrawal confirms or rejects a pending request.
// POST /api/admin/withdrawals/{id}/{action} where action is confirm or reject.
func (h *AdminHandler) SettleWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, action := pathParam(r, "id"), pathParam(r, "action")

	var (
		wr  domain.WithdrawalRequest
		err error
	)
	switch action {
	case "confirm":
		wr, err = h.withdrawals.Confirm(r.Context(), actor(r), id)
	case "reject":
		var req notesRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				writeServiceError(w, r, h.logger, "reject withdrawal", err)
				return
			}
		}
		wr, err = h.withdrawals.Reject(r.Context(), actor(r), id, req.Notes)
	default:
		writeError(w, http.StatusNotFound, "unknown withdrawal action "+action)
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, action+" withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, wr)
}

type attestationRequest struct {
	AccountID int64           `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Crypto    string          `json:"crypto"`
}

// SettleDeposit approves or rejects a deposit claim.
// POST /api/admin/deposits/{action} where action is approve or reject.
func (h *AdminHandler) SettleDeposit(w http.ResponseWriter, r *http.Request) {
	action := pathParam(r, "action")
	if action != "approve" && action != "reject" {
		writeError(w, http.StatusNotFound, "unknown deposit action "+action)
		return
	}
	var req attestationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, action+" deposit", err)
		return
	}

	if action == "reject" {
		if err := h.deposits.Reject(r.Context(), actor(r), req.AccountID, req.Amount, req.Crypto); err != nil {
			writeServiceError(w, r, h.logger, "reject deposit", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
		return
	}

	entry, err := h.deposits.Approve(r.Context(), actor(r), req.AccountID, req.Amount, req.Crypto)
	if err != nil {
		writeServiceError(w, r, h.logger, "approve deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type actionRequest struct {
	Data string `json:"data"`
}

// Action executes a signed notification button payload.
// POST /api/admin/actions
func (h *AdminHandler) Action(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "admin action", err)
		return
	}
	result, err := h.actions.Handle(r.Context(), actor(r), req.Data)
	if err != nil {
		writeServiceError(w, r, h.logger, "admin action", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// Stats returns platform totals.
// GET /api/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.accounts.Stats(r.Context(), actor(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
