package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/ledger"
)

// SplitShares divides a disputed amount for the split policy. The buyer's
// half is rounded down to the cent and the seller receives the remainder,
// so the two shares always add up to amount.
func SplitShares(amount decimal.Decimal) (buyer, seller decimal.Decimal) {
	buyer = amount.Div(decimal.NewFromInt(2)).RoundFloor(2)
	return buyer, amount.Sub(buyer)
}

// Resolve applies an admin's payout policy to a Disputed deal and completes
// it. Only the deal amount is in play; the fee left the ledger at funding.
func (s *DealService) Resolve(ctx context.Context, adminID int64, dealID string, policy domain.Resolution) (domain.Deal, error) {
	if _, err := domain.ParseResolution(string(policy)); err != nil {
		return domain.Deal{}, err
	}
	unlock, err := s.guard(ctx, "dispute:"+dealID)
	if err != nil {
		return domain.Deal{}, err
	}
	defer unlock()

	var deal domain.Deal
	var buyerShare, sellerShare decimal.Decimal
	err = s.run(ctx, "resolve_dispute", func(ctx context.Context, tx domain.Tx, ob *outbox) error {
		var next domain.DealStatus
		var err error
		deal, next, err = s.transition(ctx, tx, dealID, domain.DealEventResolve, adminID, roleAdmin)
		if err != nil {
			return err
		}

		switch policy {
		case domain.ResolutionFavorBuyer:
			buyerShare, sellerShare = deal.Amount, decimal.Zero
		case domain.ResolutionFavorSeller:
			buyerShare, sellerShare = decimal.Zero, deal.Amount
		case domain.ResolutionSplit:
			buyerShare, sellerShare = SplitShares(deal.Amount)
		}

		ref := domain.Ref{DealID: deal.ID}
		err = s.ledger.WithAccountLock(ctx, tx, []int64{deal.BuyerID, deal.SellerID}, func(ls *ledger.Session) error {
			if buyerShare.IsPositive() {
				if err := ls.RefundReservation(deal.BuyerID, buyerShare, ref); err != nil {
					return err
				}
			}
			if sellerShare.IsPositive() {
				if err := ls.Release(deal.BuyerID, deal.SellerID, sellerShare, ref); err != nil {
					return err
				}
			}
			ob.record(ls.Entries())
			return nil
		})
		if err != nil {
			return err
		}

		deal.Resolution = policy
		deal.Stamp(next, s.now())
		if err := tx.Deals().Update(ctx, deal); err != nil {
			return err
		}
		if err := tx.Audit().Log(ctx, "dispute_resolved", map[string]any{
			"deal_id":      deal.ID,
			"admin_id":     adminID,
			"policy":       string(policy),
			"buyer_share":  buyerShare.StringFixed(2),
			"seller_share": sellerShare.StringFixed(2),
		}); err != nil {
			return fmt.Errorf("audit: %w", err)
		}

		ob.user(deal.BuyerID, domain.EventDealResolved, "Dispute on deal %s resolved (%s): %s refunded to you.",
			deal.ID, policy, buyerShare.StringFixed(2))
		ob.user(deal.SellerID, domain.EventDealResolved, "Dispute on deal %s resolved (%s): %s credited to you.",
			deal.ID, policy, sellerShare.StringFixed(2))
		e := dealEvent(domain.EventDealResolved, deal, s.now())
		e.Detail["resolution"] = string(policy)
		ob.event(e)
		return nil
	})
	if err != nil {
		return domain.Deal{}, err
	}
	s.logger.InfoContext(ctx, "dispute resolved",
		slog.String("deal_id", deal.ID),
		slog.String("policy", string(policy)),
		slog.Int64("admin_id", adminID),
	)
	return deal, nil
}
