package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/service"
)

// DealService defines the methods that the deal handler requires from the
// service layer.
type DealService interface {
	Create(ctx context.Context, buyerID int64, in service.CreateDealInput) (domain.Deal, error)
	Accept(ctx context.Context, sellerID int64, dealID string) (domain.Deal, error)
	Decline(ctx context.Context, sellerID int64, dealID string) (domain.Deal, error)
	MarkDelivered(ctx context.Context, sellerID int64, dealID string) (domain.Deal, error)
	Release(ctx context.Context, buyerID int64, dealID string) (domain.Deal, error)
	OpenDispute(ctx context.Context, buyerID int64, dealID, reason string) (domain.Deal, error)
	Resolve(ctx context.Context, adminID int64, dealID string, policy domain.Resolution) (domain.Deal, error)
	Get(ctx context.Context, viewerID int64, dealID string) (domain.Deal, error)
	List(ctx context.Context, accountID int64, status *domain.DealStatus, opts domain.ListOpts) ([]domain.Deal, error)
}

// DealHandler serves deal lifecycle endpoints.
type DealHandler struct {
	deals  DealService
	logger *slog.Logger
}

// NewDealHandler creates a DealHandler.
func NewDealHandler(deals DealService, logger *slog.Logger) *DealHandler {
	return &DealHandler{deals: deals, logger: logger}
}

type createDealRequest struct {
	SellerID    int64           `json:"seller_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Create opens a Pending deal with the caller as buyer.
// POST /api/deals
func (h *DealHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDealRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, "create deal", err)
		return
	}
	d, err := h.deals.Create(r.Context(), actor(r), service.CreateDealInput{
		SellerID:    req.SellerID,
		Title:       req.Title,
		Description: req.Description,
		Amount:      req.Amount,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create deal", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// List returns the caller's deals, optionally filtered by status.
// GET /api/deals?status=funded&limit=50&offset=0
func (h *DealHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "list deals", err)
		return
	}
	var status *domain.DealStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st, err := domain.ParseDealStatus(v)
		if err != nil {
			writeServiceError(w, r, h.logger, "list deals", err)
			return
		}
		status = &st
	}
	deals, err := h.deals.List(r.Context(), actor(r), status, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list deals", err)
		return
	}
	if deals == nil {
		deals = []domain.Deal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deals": deals})
}

// Get returns one deal the caller is party to.
// GET /api/deals/{id}
func (h *DealHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.deals.Get(r.Context(), actor(r), pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get deal", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

// Act applies a lifecycle action to a deal.
// POST /api/deals/{id}/{action} where action is accept, decline, deliver,
// release or dispute.
func (h *DealHandler) Act(w http.ResponseWriter, r *http.Request) {
	ctx, id, who := r.Context(), pathParam(r, "id"), actor(r)
	action := pathParam(r, "action")

	var (
		d   domain.Deal
		err error
	)
	switch action {
	case "accept":
		d, err = h.deals.Accept(ctx, who, id)
	case "decline":
		d, err = h.deals.Decline(ctx, who, id)
	case "deliver":
		d, err = h.deals.MarkDelivered(ctx, who, id)
	case "release":
		d, err = h.deals.Release(ctx, who, id)
	case "dispute":
		var req disputeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeServiceError(w, r, h.logger, "dispute deal", err)
			return
		}
		d, err = h.deals.OpenDispute(ctx, who, id, req.Reason)
	default:
		writeError(w, http.StatusNotFound, "unknown deal action "+action)
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, action+" deal", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
