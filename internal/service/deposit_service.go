package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/crypto"
	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/ledger"
)

// DepositService handles manually attested crypto deposits. Users submit a
// claim; an admin checks the chain out of band and approves or rejects it.
type DepositService struct {
	base
}

// NewDepositService creates a DepositService.
func NewDepositService(d Deps) *DepositService {
	return &DepositService{base: newBase(d, "deposit_service")}
}

// Attest validates a claim and derives its idempotency key.
func Attest(accountID int64, amount decimal.Decimal, kind string) (domain.DepositAttestation, error) {
	if err := ledger.CheckAmount(amount); err != nil {
		return domain.DepositAttestation{}, err
	}
	k, err := domain.ParseDepositKind(kind)
	if err != nil {
		return domain.DepositAttestation{}, err
	}
	return domain.DepositAttestation{
		AccountID: accountID,
		Amount:    amount,
		Crypto:    k,
		Key:       crypto.DepositKey(accountID, amount, k),
	}, nil
}

// Submit records a user's deposit claim and asks the admins to verify it. No
// balance changes.
func (s *DepositService) Submit(ctx context.Context, accountID int64, amount decimal.Decimal, kind string) (domain.DepositAttestation, error) {
	if err := checkRange("amount", amount, s.limits.DepositMin, s.limits.DepositMax); err != nil {
		return domain.DepositAttestation{}, err
	}
	att, err := Attest(accountID, amount, kind)
	if err != nil {
		return domain.DepositAttestation{}, err
	}

	err = s.run(ctx, "submit_deposit", func(ctx context.Context, tx domain.Tx, ob *outbox) error {
		acct, err := tx.Accounts().Get(ctx, accountID)
		if err != nil {
			return err
		}
		ob.user(accountID, domain.EventDepositSubmitted,
			"Deposit of %s %s submitted. It will be credited once an admin verifies it.",
			att.Amount.StringFixed(2), att.Crypto)
		ob.admin(domain.EventDepositSubmitted,
			fmt.Sprintf("Deposit claim\nAccount %d (@%s)\nAmount %s %s",
				acct.ID, acct.Username, att.Amount.StringFixed(2), att.Crypto),
			s.signAction("Approve", depositAction("approve", att)),
			s.signAction("Reject", depositAction("reject", att)),
		)
		ob.event(depositEvent(domain.EventDepositSubmitted, att, s.now()))
		return nil
	})
	if err != nil {
		return domain.DepositAttestation{}, err
	}
	return att, nil
}

// Approve credits an attested deposit exactly once. A claim whose key was
// already credited returns the original journal entry with
// ErrAlreadyProcessed.
func (s *DepositService) Approve(ctx context.Context, adminID, accountID int64, amount decimal.Decimal, kind string) (domain.Transaction, error) {
	att, err := Attest(accountID, amount, kind)
	if err != nil {
		return domain.Transaction{}, err
	}
	unlock, err := s.guard(ctx, "deposit:"+att.Key)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer unlock()

	var entry domain.Transaction
	err = s.run(ctx, "approve_deposit", func(ctx context.Context, tx domain.Tx, ob *outbox) error {
		if err := requireAdmin(ctx, tx, adminID); err != nil {
			return err
		}

		prior, err := tx.Transactions().FindByIdempotencyKey(ctx, att.Key)
		switch {
		case err == nil:
			entry = prior
			return fmt.Errorf("%w: deposit %s already credited by %s", domain.ErrAlreadyProcessed, att.Key, prior.ID)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		ref := domain.Ref{Crypto: att.Crypto, IdempotencyKey: att.Key}
		err = s.ledger.WithAccountLock(ctx, tx, []int64{accountID}, func(ls *ledger.Session) error {
			if err := ls.Credit(accountID, att.Amount, domain.TxDeposit, ref); err != nil {
				return err
			}
			entries := ls.Entries()
			entry = entries[len(entries)-1]
			ob.record(entries)
			return nil
		})
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			return fmt.Errorf("%w: deposit %s credited concurrently", domain.ErrAlreadyProcessed, att.Key)
		}
		if err != nil {
			return err
		}

		if err := tx.Audit().Log(ctx, "approve_deposit", map[string]any{
			"account_id":     accountID,
			"admin_id":       adminID,
			"amount":         att.Amount.StringFixed(2),
			"crypto":         string(att.Crypto),
			"transaction_id": entry.ID,
		}); err != nil {
			return fmt.Errorf("audit: %w", err)
		}

		ob.user(accountID, domain.EventDepositApproved, "Your deposit of %s %s was approved and credited.",
			att.Amount.StringFixed(2), att.Crypto)
		ob.event(depositEvent(domain.EventDepositApproved, att, s.now()))
		return nil
	})
	if err != nil {
		return entry, err
	}
	s.logger.InfoContext(ctx, "deposit approved",
		slog.Int64("account_id", accountID),
		slog.String("amount", att.Amount.String()),
		slog.String("crypto", string(att.Crypto)),
	)
	return entry, nil
}

// Reject tells the user their claim was not verified. No balance changes.
func (s *DepositService) Reject(ctx context.Context, adminID, accountID int64, amount decimal.Decimal, kind string) error {
	att, err := Attest(accountID, amount, kind)
	if err != nil {
		return err
	}
	return s.run(ctx, "reject_deposit", func(ctx context.Context, tx domain.Tx, ob *outbox) error {
		if err := requireAdmin(ctx, tx, adminID); err != nil {
			return err
		}
		if _, err := tx.Accounts().Get(ctx, accountID); err != nil {
			return err
		}
		if err := tx.Audit().Log(ctx, "reject_deposit", map[string]any{
			"account_id": accountID,
			"admin_id":   adminID,
			"amount":     att.Amount.StringFixed(2),
			"crypto":     string(att.Crypto),
		}); err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		ob.user(accountID, domain.EventDepositRejected,
			"Your deposit of %s %s could not be verified and was rejected.", att.Amount.StringFixed(2), att.Crypto)
		ob.event(depositEvent(domain.EventDepositRejected, att, s.now()))
		return nil
	})
}

func depositEvent(typ string, att domain.DepositAttestation, at time.Time) domain.Event {
	return domain.Event{
		Type:       typ,
		AccountIDs: []int64{att.AccountID},
		Detail: map[string]any{
			"amount": att.Amount.StringFixed(2),
			"crypto": string(att.Crypto),
		},
		At: at,
	}
}
