package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/crypto"
	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/ledger"
)

// WithdrawalService reserves funds for payouts and settles them once an admin
// confirms or rejects the off-platform transfer.
type WithdrawalService struct {
	base
}

// NewWithdrawalService creates a WithdrawalService.
func NewWithdrawalService(d Deps) *WithdrawalService {
	return &WithdrawalService{base: newBase(d, "withdrawal_service")}
}

// Request reserves amount on the account and queues a Pending request for
// the admins.
func (s *WithdrawalService) Request(ctx context.Context, accountID int64, amount decimal.Decimal, address string) (domain.WithdrawalRequest, error) {
	if err := ledger.CheckAmount(amount); err != nil {
		return domain.WithdrawalRequest{}, err
	}
	if amount.LessThan(s.limits.WithdrawalMin) {
		return domain.WithdrawalRequest{}, fmt.Errorf("%w: minimum withdrawal is %s",
			domain.ErrValidation, s.limits.WithdrawalMin.StringFixed(2))
	}
	address, kind, err := crypto.ValidateAddress(address, s.limits.AddressMin, s.limits.AddressMax)
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}

	var w domain.WithdrawalRequest
	err = s.run(ctx, "request_withdrawal", func(ctx context.Context, tx domain.Tx, ob *outbox) error {
		id, err := ledger.Unique(ctx, ledger.NewWithdrawalID, tx.Withdrawals().Exists)
		if err != nil {
			return err
		}
		err = s.ledger.WithAccountLock(ctx, tx, []int64{accountID}, func(ls *ledger.Session) error {
			if err := ls.Reserve(accountID, amount, domain.TxWithdrawalHold, domain.Ref{WithdrawalID: id, Crypto: kind}); err != nil {
				return err
			}
			ob.record(ls.Entries())
			return nil
		})
		if err != nil {
			return err
		}

		w = domain.WithdrawalRequest{
			ID:        id,
			AccountID: accountID,
			Amount:    amount,
			Address:   address,
			Crypto:    kind,
			Status:    domain.WithdrawalStatusPending,
			CreatedAt: s.now(),
		}
		if err := tx.Withdrawals().Create(ctx, w); err != nil {
			return err
		}

		ob.user(accountID, domain.EventWithdrawalRequested,
			"Withdrawal %s of %s %s is pending admin review.", w.ID, w.Amount.StringFixed(2), w.Crypto)
		ob.admin(domain.EventWithdrawalRequested,
			fmt.Sprintf("Withdrawal %s\nAccount %d\nAmount %s %s\nAddress %s",
				w.ID, w.AccountID, w.Amount.StringFixed(2), w.Crypto, w.Address),
			s.signAction("Confirm", withdrawalAction("confirm", w.ID)),
			s.signAction("Reject", withdrawalAction("reject", w.ID)),
		)
		ob.event(withdrawalEvent(domain.EventWithdrawalRequested, w))
		return nil
	})
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}
	s.logger.InfoContext(ctx, "withdrawal requested",
		slog.String("withdrawal_id", w.ID),
		slog.Int64("account_id", accountID),
		slog.String("amount", amount.String()),
	)
	return w, nil
}

// Confirm records that the payout was sent: the reservation is consumed and
// the request completes. Confirming a processed request changes nothing and
// returns it with ErrAlreadyProcessed.
func (s *WithdrawalService) Confirm(ctx context.Context, adminID int64, id string) (domain.WithdrawalRequest, error) {
	return s.settle(ctx, adminID, id, "", domain.WithdrawalStatusCompleted)
}

// Reject returns the reserved funds to the balance. Rejecting a processed
// request changes nothing and returns it with ErrAlreadyProcessed.
func (s *WithdrawalService) Reject(ctx context.Context, adminID int64, id, notes string) (domain.WithdrawalRequest, error) {
	return s.settle(ctx, adminID, id, notes, domain.WithdrawalStatusRejected)
}

func (s *WithdrawalService) settle(ctx context.Context, adminID int64, id, notes string, to domain.WithdrawalStatus) (domain.WithdrawalRequest, error) {
	notes = strings.TrimSpace(notes)
	if err := checkText("notes", notes, 0, s.limits.ReasonMax); err != nil {
		return domain.WithdrawalRequest{}, err
	}
	unlock, err := s.guard(ctx, "withdrawal:"+id)
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}
	defer unlock()

	op, event := "confirm_withdrawal", domain.EventWithdrawalConfirmed
	if to == domain.WithdrawalStatusRejected {
		op, event = "reject_withdrawal", domain.EventWithdrawalRejected
	}

	var w domain.WithdrawalRequest
	err = s.run(ctx, op, func(ctx context.Context, tx domain.Tx, ob *outbox) error {
		if err := requireAdmin(ctx, tx, adminID); err != nil {
			return err
		}
		var err error
		w, err = tx.Withdrawals().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if w.Status.Terminal() {
			return fmt.Errorf("%w: withdrawal %s is %s", domain.ErrAlreadyProcessed, w.ID, w.Status)
		}

		ref := domain.Ref{WithdrawalID: w.ID, Crypto: w.Crypto}
		err = s.ledger.WithAccountLock(ctx, tx, []int64{w.AccountID}, func(ls *ledger.Session) error {
			var err error
			if to == domain.WithdrawalStatusCompleted {
				err = ls.Consume(w.AccountID, w.Amount, domain.TxWithdrawal, ref)
			} else {
				err = ls.RefundReservation(w.AccountID, w.Amount, ref)
			}
			if err != nil {
				return err
			}
			ob.record(ls.Entries())
			return nil
		})
		if err != nil {
			return err
		}

		now := s.now()
		w.Status = to
		w.ProcessedBy = adminID
		w.ProcessedAt = &now
		w.AdminNotes = notes
		if err := tx.Withdrawals().Update(ctx, w); err != nil {
			return err
		}
		if err := tx.Audit().Log(ctx, op, map[string]any{
			"withdrawal_id": w.ID,
			"account_id":    w.AccountID,
			"admin_id":      adminID,
			"amount":        w.Amount.StringFixed(2),
		}); err != nil {
			return fmt.Errorf("audit: %w", err)
		}

		if to == domain.WithdrawalStatusCompleted {
			ob.user(w.AccountID, event, "Withdrawal %s of %s %s has been sent to %s.",
				w.ID, w.Amount.StringFixed(2), w.Crypto, w.Address)
		} else {
			ob.user(w.AccountID, event, "Withdrawal %s was rejected and %s returned to your balance.",
				w.ID, w.Amount.StringFixed(2))
		}
		ob.event(withdrawalEvent(event, w))
		return nil
	})
	return w, err
}

// List returns requests in status for the admin queue.
func (s *WithdrawalService) List(ctx context.Context, adminID int64, status domain.WithdrawalStatus, opts domain.ListOpts) ([]domain.WithdrawalRequest, error) {
	var out []domain.WithdrawalRequest
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := requireAdmin(ctx, tx, adminID); err != nil {
			return err
		}
		var err error
		out, err = tx.Withdrawals().ListByStatus(ctx, status, opts)
		return err
	})
	return out, err
}

// ListMine returns the account's own requests.
func (s *WithdrawalService) ListMine(ctx context.Context, accountID int64, opts domain.ListOpts) ([]domain.WithdrawalRequest, error) {
	var out []domain.WithdrawalRequest
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		out, err = tx.Withdrawals().ListByAccount(ctx, accountID, opts)
		return err
	})
	return out, err
}

func withdrawalEvent(typ string, w domain.WithdrawalRequest) domain.Event {
	at := w.CreatedAt
	if w.ProcessedAt != nil {
		at = *w.ProcessedAt
	}
	return domain.Event{
		Type:         typ,
		WithdrawalID: w.ID,
		AccountIDs:   []int64{w.AccountID},
		Detail: map[string]any{
			"amount": w.Amount.StringFixed(2),
			"crypto": string(w.Crypto),
			"status": w.Status.String(),
		},
		At: at,
	}
}
