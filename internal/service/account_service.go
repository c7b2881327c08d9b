package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// AccountService registers participants and answers account queries.
type AccountService struct {
	base
}

// NewAccountService creates an AccountService.
func NewAccountService(d Deps) *AccountService {
	return &AccountService{base: newBase(d, "account_service")}
}

// Register returns the account with the given id, creating it on first
// contact. The first account ever created becomes an admin. created reports
// whether this call created the account.
func (s *AccountService) Register(ctx context.Context, id int64, username, firstName string) (acct domain.Account, created bool, err error) {
	if id <= 0 {
		return domain.Account{}, false, fmt.Errorf("%w: account id must be positive", domain.ErrValidation)
	}
	err = s.run(ctx, "register", func(ctx context.Context, tx domain.Tx, _ *outbox) error {
		acct, err = tx.Accounts().Get(ctx, id)
		if err == nil {
			created = false
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if err := tx.AdminRegistrationLock(ctx); err != nil {
			return err
		}
		admins, err := tx.Accounts().CountAdmins(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		acct = domain.Account{
			ID:        id,
			Username:  strings.TrimSpace(username),
			FirstName: strings.TrimSpace(firstName),
			IsAdmin:   admins == 0,
			Balance:   decimal.Zero,
			Escrowed:  decimal.Zero,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Accounts().Create(ctx, acct); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return fmt.Errorf("%w: concurrent registration of %d", domain.ErrConcurrencyConflict, id)
			}
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return domain.Account{}, false, err
	}
	if created {
		s.logger.InfoContext(ctx, "account registered",
			slog.Int64("account_id", acct.ID),
			slog.Bool("admin", acct.IsAdmin),
		)
	}
	return acct, created, nil
}

// Get returns an account.
func (s *AccountService) Get(ctx context.Context, id int64) (domain.Account, error) {
	var acct domain.Account
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		acct, err = tx.Accounts().Get(ctx, id)
		return err
	})
	return acct, err
}

// UpdateServices replaces the seller profile blurb.
func (s *AccountService) UpdateServices(ctx context.Context, id int64, services string) (domain.Account, error) {
	services = strings.TrimSpace(services)
	if err := checkText("services", services, 0, s.limits.ServicesMax); err != nil {
		return domain.Account{}, err
	}
	var acct domain.Account
	err := s.run(ctx, "update_services", func(ctx context.Context, tx domain.Tx, _ *outbox) error {
		if err := tx.Accounts().UpdateServices(ctx, id, services); err != nil {
			return err
		}
		var err error
		acct, err = tx.Accounts().Get(ctx, id)
		return err
	})
	return acct, err
}

// Transactions lists an account's journal entries, newest first.
func (s *AccountService) Transactions(ctx context.Context, id int64, opts domain.ListOpts) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		out, err = tx.Transactions().ListByAccount(ctx, id, opts)
		return err
	})
	return out, err
}

// TopSellers ranks sellers by completed deals.
func (s *AccountService) TopSellers(ctx context.Context, limit int) ([]domain.SellerRank, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	var out []domain.SellerRank
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		out, err = tx.Accounts().TopSellers(ctx, limit)
		return err
	})
	return out, err
}

// Stats is the admin overview of the platform.
type Stats struct {
	DealsByStatus      map[string]int64 `json:"deals_by_status"`
	TotalBalance       decimal.Decimal  `json:"total_balance"`
	TotalEscrowed      decimal.Decimal  `json:"total_escrowed"`
	FeesCollected      decimal.Decimal  `json:"fees_collected"`
	PendingWithdrawals int              `json:"pending_withdrawals"`
}

// Stats returns platform totals. Fees collected is the sum of Fee journal
// entries, which are recorded as negative amounts on the buyer.
func (s *AccountService) Stats(ctx context.Context, actorID int64) (Stats, error) {
	var st Stats
	err := s.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := requireAdmin(ctx, tx, actorID); err != nil {
			return err
		}
		counts, err := tx.Deals().CountByStatus(ctx)
		if err != nil {
			return err
		}
		st.DealsByStatus = make(map[string]int64, len(counts))
		for status, n := range counts {
			st.DealsByStatus[status.String()] = n
		}
		if st.TotalBalance, st.TotalEscrowed, err = tx.Accounts().Totals(ctx); err != nil {
			return err
		}
		fees, err := tx.Transactions().SumByKind(ctx, domain.TxFee)
		if err != nil {
			return err
		}
		st.FeesCollected = fees.Neg()
		pending, err := tx.Withdrawals().ListByStatus(ctx, domain.WithdrawalStatusPending, domain.ListOpts{})
		if err != nil {
			return err
		}
		st.PendingWithdrawals = len(pending)
		return nil
	})
	return st, err
}
