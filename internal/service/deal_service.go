package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/ledger"
)

// DealService drives deals through their lifecycle. Each transition reads
// the deal row for update, checks the actor and the transition table, moves
// money through the ledger and persists the new status in one unit of work.
type DealService struct {
	base
}

// NewDealService creates a DealService.
func NewDealService(d Deps) *DealService {
	return &DealService{base: newBase(d, "deal_service")}
}

// CreateDealInput is what a buyer supplies to open a deal.
type CreateDealInput struct {
	SellerID    int64           `json:"seller_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// Create opens a Pending deal. No funds move until the seller accepts.
func (s *DealService) Create(ctx context.Context, buyerID int64, in CreateDealInput) (domain.Deal, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := checkRange("amount", in.Amount, s.limits.DealMin, s.limits.DealMax); err != nil {
		return domain.Deal{}, err
	}
	if err := checkText("title", in.Title, 1, s.limits.TitleMax); err != nil {
		return domain.Deal{}, err
	}
	if err := checkText("description", in.Description, 0, s.limits.DescriptionMax); err != nil {
		return domain.Deal{}, err
	}
	if in.SellerID == buyerID {
		return domain.Deal{}, fmt.Errorf("%w: cannot open a deal with yourself", domain.ErrValidation)
	}

	var deal domain.Deal
	err := s.run(ctx, "create_deal", func(ctx context.Context, tx domain.Tx, ob *outbox) error {
		buyer, err := tx.Accounts().Get(ctx, buyerID)
		if err != nil {
			return err
		}
		seller, err := tx.Accounts().Get(ctx, in.SellerID)
		if err != nil {
			return fmt.Errorf("seller: %w", err)
		}
		id, err := ledger.Unique(ctx, ledger.NewDealID, tx.Deals().Exists)
		if err != nil {
			return err
		}

		deal = domain.Deal{
			ID:          id,
			BuyerID:     buyer.ID,
			SellerID:    seller.ID,
			Title:       in.Title,
			Description: in.Description,
			Amount:      in.Amount.Round(2),
			Fee:         s.fees.Fee(in.Amount),
			Status:      domain.DealStatusPending,
			CreatedAt:   s.now(),
		}
		if err := tx.Deals().Create(ctx, deal); err != nil {
			return err
		}

		ob.user(seller.ID, domain.EventDealCreated, "New deal %s from @%s: %q for %s. Accept or decline it.",
			deal.ID, buyer.Username, deal.Title, deal.Amount.StringFixed(2))
		ob.admin(domain.EventDealCreated, fmt.Sprintf("Deal %s created: buyer %d, seller %d, amount %s, fee %s",
			deal.ID, deal.BuyerID, deal.SellerID, deal.Amount.StringFixed(2), deal.Fee.StringFixed(2)))
		ob.event(dealEvent(domain.EventDealCreated, deal, s.now()))
		return nil
	})
	if err != nil {
		return domain.Deal{}, err
	}
	s.logger.InfoContext(ctx, "deal created",
		slog.String("deal_id", deal.ID),
		slog.String("amount", deal.Amount.String()),
	)
	return deal, nil
}

// Accept is the seller agreeing to the deal. The buyer's amount plus fee is
// reserved; the fee is then consumed so only the amount stays escrowed
// against the deal. If the buyer cannot cover it the deal stays Pending, the
// buyer is asked to top up and ErrInsufficientFunds is returned.
func (s *DealService) Accept(ctx context.Context, sellerID int64, dealID string) (domain.Deal, error) {
	var deal domain.Deal
	var short *domain.Deal
	err := s.run(ctx, "accept_deal", func(ctx context.Context, tx domain.Tx, ob *outbox) error {
		var next domain.DealStatus
		var err error
		deal, next, err = s.transition(ctx, tx, dealID, domain.DealEventAccept, sellerID, roleSeller)
		if err != nil {
			return err
		}

		ref := domain.Ref{DealID: deal.ID}
		err = s.ledger.WithAccountLock(ctx, tx, []int64{deal.BuyerID, deal.SellerID}, func(ls *ledger.Session) error {
			buyer, err := ls.Account(deal.BuyerID)
			if err != nil {
				return err
			}
			if buyer.Balance.LessThan(deal.TotalRequired()) {
				d := deal
				short = &d
				return fmt.Errorf("%w: deal %s needs %s, buyer has %s",
					domain.ErrInsufficientFunds, deal.ID, deal.TotalRequired().StringFixed(2), buyer.Balance.StringFixed(2))
			}
			if err := ls.Reserve(deal.BuyerID, deal.TotalRequired(), domain.TxEscrowFund, ref); err != nil {
				return err
			}
			if deal.Fee.IsPositive() {
				if err := ls.Consume(deal.BuyerID, deal.Fee, domain.TxFee, ref); err != nil {
					return err
				}
			}
			ob.record(ls.Entries())
			return nil
		})
		if err != nil {
			return err
		}

		deal.Stamp(next, s.now())
		if err := tx.Deals().Update(ctx, deal); err != nil {
			return err
		}
		ob.user(deal.BuyerID, domain.EventDealFunded, "Deal %s accepted. %s is held in escrow (fee %s).",
			deal.ID, deal.Amount.StringFixed(2), deal.Fee.StringFixed(2))
		ob.user(deal.SellerID, domain.EventDealFunded, "Deal %s is funded. Deliver and mark it delivered.", deal.ID)
		ob.event(dealEvent(domain.EventDealFunded, deal, s.now()))
		return nil
	})
	if short != nil && errors.Is(err, domain.ErrInsufficientFunds) {
		ob := &outbox{}
		ob.user(short.BuyerID, domain.EventAccountTopUpNeeded,
			"The seller accepted deal %s but your balance is too low. Top up %s to fund it.",
			short.ID, short.TotalRequired().StringFixed(2))
		ob.user(short.SellerID, domain.EventAccountTopUpNeeded,
			"Deal %s cannot be funded yet; the buyer has been asked to top up.", short.ID)
		ob.event(domain.Event{
			Type:       domain.EventAccountTopUpNeeded,
			DealID:     short.ID,
			AccountIDs: []int64{short.BuyerID},
			At:         s.now(),
		})
		s.out.flush(ctx, ob)
	}
	return deal, err
}

// Decline is the seller refusing a Pending deal.
func (s *DealService) Decline(ctx context.Context, sellerID int64, dealID string) (domain.Deal, error) {
	return s.simple(ctx, "decline_deal", dealID, domain.DealEventDecline, sellerID, roleSeller,
		func(ob *outbox, deal domain.Deal) {
			ob.user(deal.BuyerID, domain.EventDealDeclined, "Deal %s was declined by the seller.", deal.ID)
			ob.event(dealEvent(domain.EventDealDeclined, deal, s.now()))
		})
}

// MarkDelivered is the seller reporting delivery of a Funded deal.
func (s *DealService) MarkDelivered(ctx context.Context, sellerID int64, dealID string) (domain.Deal, error) {
	return s.simple(ctx, "deliver_deal", dealID, domain.DealEventDeliver, sellerID, roleSeller,
		func(ob *outbox, deal domain.Deal) {
			ob.user(deal.BuyerID, domain.EventDealDelivered,
				"Deal %s was marked delivered. Release payment or open a dispute.", deal.ID)
			ob.event(dealEvent(domain.EventDealDelivered, deal, s.now()))
		})
}

// Release is the buyer confirming delivery; the escrowed amount moves to the
// seller's balance.
func (s *DealService) Release(ctx context.Context, buyerID int64, dealID string) (domain.Deal, error) {
	var deal domain.Deal
	err := s.run(ctx, "release_deal", func(ctx context.Context, tx domain.Tx, ob *outbox) error {
		var next domain.DealStatus
		var err error
		deal, next, err = s.transition(ctx, tx, dealID, domain.DealEventRelease, buyerID, roleBuyer)
		if err != nil {
			return err
		}
		err = s.ledger.WithAccountLock(ctx, tx, []int64{deal.BuyerID, deal.SellerID}, func(ls *ledger.Session) error {
			if err := ls.Release(deal.BuyerID, deal.SellerID, deal.Amount, domain.Ref{DealID: deal.ID}); err != nil {
				return err
			}
			ob.record(ls.Entries())
			return nil
		})
		if err != nil {
			return err
		}
		deal.Stamp(next, s.now())
		if err := tx.Deals().Update(ctx, deal); err != nil {
			return err
		}
		ob.user(deal.SellerID, domain.EventDealCompleted, "Payment of %s for deal %s was released to your balance.",
			deal.Amount.StringFixed(2), deal.ID)
		ob.user(deal.BuyerID, domain.EventDealCompleted, "Deal %s is complete.", deal.ID)
		ob.event(dealEvent(domain.EventDealCompleted, deal, s.now()))
		return nil
	})
	return deal, err
}

// OpenDispute is the buyer contesting a Delivered deal. Funds stay escrowed
// until an admin resolves it.
func (s *DealService) OpenDispute(ctx context.Context, buyerID int64, dealID, reason string) (domain.Deal, error) {
	reason = strings.TrimSpace(reason)
	if err := checkText("reason", reason, 1, s.limits.ReasonMax); err != nil {
		return domain.Deal{}, err
	}
	var deal domain.Deal
	err := s.run(ctx, "dispute_deal", func(ctx context.Context, tx domain.Tx, ob *outbox) error {
		var next domain.DealStatus
		var err error
		deal, next, err = s.transition(ctx, tx, dealID, domain.DealEventDispute, buyerID, roleBuyer)
		if err != nil {
			return err
		}
		deal.DisputeReason = reason
		deal.DisputedBy = buyerID
		deal.Stamp(next, s.now())
		if err := tx.Deals().Update(ctx, deal); err != nil {
			return err
		}

		ob.user(deal.SellerID, domain.EventDealDisputed, "The buyer opened a dispute on deal %s: %s", deal.ID, reason)
		ob.admin(domain.EventDealDisputed,
			fmt.Sprintf("Dispute on deal %s (%s escrowed)\nBuyer %d, seller %d\nReason: %s",
				deal.ID, deal.Amount.StringFixed(2), deal.BuyerID, deal.SellerID, reason),
			s.signAction("Favor buyer", resolveAction(domain.ResolutionFavorBuyer, deal.ID)),
			s.signAction("Favor seller", resolveAction(domain.ResolutionFavorSeller, deal.ID)),
			s.signAction("Split", resolveAction(domain.ResolutionSplit, deal.ID)),
		)
		ob.event(dealEvent(domain.EventDealDisputed, deal, s.now()))
		return nil
	})
	return deal, err
}

// Get returns a deal visible to viewerID: a party or an admin.
func (s *DealService) Get(ctx context.Context, viewerID int64, dealID string) (domain.Deal, error) {
	var deal domain.Deal
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		deal, err = tx.Deals().Get(ctx, dealID)
		if err != nil {
			return err
		}
		if deal.IsParty(viewerID) {
			return nil
		}
		return requireAdmin(ctx, tx, viewerID)
	})
	return deal, err
}

// List returns deals where accountID is buyer or seller, optionally filtered
// by status, newest first.
func (s *DealService) List(ctx context.Context, accountID int64, status *domain.DealStatus, opts domain.ListOpts) ([]domain.Deal, error) {
	var out []domain.Deal
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		out, err = tx.Deals().ListByAccount(ctx, accountID, status, opts)
		return err
	})
	return out, err
}

type role uint8

const (
	roleBuyer role = iota + 1
	roleSeller
	roleAdmin
)

// transition locks the deal row, checks that actorID holds the role the
// event requires and returns the status the deal moves to.
func (s *DealService) transition(ctx context.Context, tx domain.Tx, dealID string, ev domain.DealEvent, actorID int64, r role) (domain.Deal, domain.DealStatus, error) {
	deal, err := tx.Deals().GetForUpdate(ctx, dealID)
	if err != nil {
		return domain.Deal{}, 0, err
	}
	switch r {
	case roleBuyer:
		if deal.BuyerID != actorID {
			return domain.Deal{}, 0, fmt.Errorf("%w: only the buyer can %s deal %s", domain.ErrUnauthorized, ev, deal.ID)
		}
	case roleSeller:
		if deal.SellerID != actorID {
			return domain.Deal{}, 0, fmt.Errorf("%w: only the seller can %s deal %s", domain.ErrUnauthorized, ev, deal.ID)
		}
	case roleAdmin:
		if err := requireAdmin(ctx, tx, actorID); err != nil {
			return domain.Deal{}, 0, err
		}
	}
	next, err := deal.Status.Next(ev)
	if err != nil {
		return domain.Deal{}, 0, fmt.Errorf("deal %s: %w", deal.ID, err)
	}
	return deal, next, nil
}

// simple applies a transition that moves no money.
func (s *DealService) simple(ctx context.Context, op, dealID string, ev domain.DealEvent, actorID int64, r role, after func(*outbox, domain.Deal)) (domain.Deal, error) {
	var deal domain.Deal
	err := s.run(ctx, op, func(ctx context.Context, tx domain.Tx, ob *outbox) error {
		var next domain.DealStatus
		var err error
		deal, next, err = s.transition(ctx, tx, dealID, ev, actorID, r)
		if err != nil {
			return err
		}
		deal.Stamp(next, s.now())
		if err := tx.Deals().Update(ctx, deal); err != nil {
			return err
		}
		after(ob, deal)
		return nil
	})
	return deal, err
}

func dealEvent(typ string, d domain.Deal, at time.Time) domain.Event {
	return domain.Event{
		Type:       typ,
		DealID:     d.ID,
		AccountIDs: []int64{d.BuyerID, d.SellerID},
		Detail: map[string]any{
			"status": d.Status.String(),
			"amount": d.Amount.StringFixed(2),
		},
		At: at,
	}
}
