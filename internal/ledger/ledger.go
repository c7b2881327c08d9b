// Package ledger owns every mutation of account balances. Callers lock the
// accounts they touch with WithAccountLock and move money through the
// returned Session; each movement updates the locked rows and appends its
// journal entries inside the caller's unit of work.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// Ledger applies balance movements within a unit of work.
type Ledger struct {
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Ledger.
func New(logger *slog.Logger) *Ledger {
	return &Ledger{
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// CheckAmount rejects non-positive amounts and amounts with fractional cents.
func CheckAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", domain.ErrValidation, amount)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: amount %s has more than two decimals", domain.ErrValidation, amount)
	}
	return nil
}

// LockOrder returns ids deduplicated and ascending. Every caller that locks
// more than one account acquires them in this order.
func LockOrder(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// WithAccountLock locks the given accounts in LockOrder inside tx and runs
// fn with a Session over them. The locks are released when tx ends.
func (l *Ledger) WithAccountLock(ctx context.Context, tx domain.Tx, ids []int64, fn func(s *Session) error) error {
	s := &Session{
		ctx:      ctx,
		tx:       tx,
		accounts: make(map[int64]*domain.Account, len(ids)),
		now:      l.now(),
	}
	for _, id := range LockOrder(ids) {
		a, err := tx.Accounts().GetForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("ledger: lock account %d: %w", id, err)
		}
		s.accounts[id] = &a
	}
	if err := fn(s); err != nil {
		return err
	}
	if len(s.entries) > 0 {
		l.logger.DebugContext(ctx, "ledger entries staged",
			slog.Int("entries", len(s.entries)),
			slog.Any("accounts", LockOrder(ids)),
		)
	}
	return nil
}

// Session moves money between the accounts locked by one WithAccountLock
// call.
type Session struct {
	ctx      context.Context
	tx       domain.Tx
	accounts map[int64]*domain.Account
	entries  []domain.Transaction
	now      time.Time
}

// Account returns a snapshot of a locked account.
func (s *Session) Account(id int64) (domain.Account, error) {
	a, err := s.held(id)
	if err != nil {
		return domain.Account{}, err
	}
	return *a, nil
}

// Entries returns the journal entries appended so far.
func (s *Session) Entries() []domain.Transaction {
	return slices.Clone(s.entries)
}

// Reserve moves amount from balance to escrowed.
func (s *Session) Reserve(id int64, amount decimal.Decimal, kind domain.TransactionKind, ref domain.Ref) error {
	if err := CheckAmount(amount); err != nil {
		return err
	}
	a, err := s.held(id)
	if err != nil {
		return err
	}
	if a.Balance.LessThan(amount) {
		return fmt.Errorf("%w: account %d has %s, needs %s", domain.ErrInsufficientFunds, id, a.Balance, amount)
	}
	return s.apply(a, amount.Neg(), amount, kind, amount.Neg(), ref)
}

// Release moves amount out of from's escrow into to's balance. Both legs
// are journaled and persist together with the rest of the unit of work.
func (s *Session) Release(from, to int64, amount decimal.Decimal, ref domain.Ref) error {
	if err := CheckAmount(amount); err != nil {
		return err
	}
	src, err := s.held(from)
	if err != nil {
		return err
	}
	dst, err := s.held(to)
	if err != nil {
		return err
	}
	if src.Escrowed.LessThan(amount) {
		return fmt.Errorf("%w: account %d has %s escrowed, needs %s", domain.ErrInsufficientFunds, from, src.Escrowed, amount)
	}
	if err := s.apply(src, decimal.Zero, amount.Neg(), domain.TxEscrowRelease, amount.Neg(), ref); err != nil {
		return err
	}
	return s.apply(dst, amount, decimal.Zero, domain.TxEscrowRelease, amount, ref)
}

// RefundReservation moves amount from escrowed back to balance.
func (s *Session) RefundReservation(id int64, amount decimal.Decimal, ref domain.Ref) error {
	if err := CheckAmount(amount); err != nil {
		return err
	}
	a, err := s.held(id)
	if err != nil {
		return err
	}
	if a.Escrowed.LessThan(amount) {
		return fmt.Errorf("%w: account %d has %s escrowed, needs %s", domain.ErrInsufficientFunds, id, a.Escrowed, amount)
	}
	return s.apply(a, amount, amount.Neg(), domain.TxRefund, amount, ref)
}

// Consume removes amount from escrowed without crediting anyone. It settles
// funds that leave the modeled ledger: confirmed payouts and platform fees.
func (s *Session) Consume(id int64, amount decimal.Decimal, kind domain.TransactionKind, ref domain.Ref) error {
	if err := CheckAmount(amount); err != nil {
		return err
	}
	a, err := s.held(id)
	if err != nil {
		return err
	}
	if a.Escrowed.LessThan(amount) {
		return fmt.Errorf("%w: account %d has %s escrowed, needs %s", domain.ErrInsufficientFunds, id, a.Escrowed, amount)
	}
	return s.apply(a, decimal.Zero, amount.Neg(), kind, amount.Neg(), ref)
}

// Credit adds amount to balance.
func (s *Session) Credit(id int64, amount decimal.Decimal, kind domain.TransactionKind, ref domain.Ref) error {
	if err := CheckAmount(amount); err != nil {
		return err
	}
	a, err := s.held(id)
	if err != nil {
		return err
	}
	return s.apply(a, amount, decimal.Zero, kind, amount, ref)
}

// Debit removes amount from balance.
func (s *Session) Debit(id int64, amount decimal.Decimal, kind domain.TransactionKind, ref domain.Ref) error {
	if err := CheckAmount(amount); err != nil {
		return err
	}
	a, err := s.held(id)
	if err != nil {
		return err
	}
	if a.Balance.LessThan(amount) {
		return fmt.Errorf("%w: account %d has %s, needs %s", domain.ErrInsufficientFunds, id, a.Balance, amount)
	}
	return s.apply(a, amount.Neg(), decimal.Zero, kind, amount.Neg(), ref)
}

func (s *Session) held(id int64) (*domain.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("ledger: account %d is not locked by this session", id)
	}
	return a, nil
}

// apply persists one movement and its journal entry. The in-memory copy is
// only updated after both writes succeed.
func (s *Session) apply(a *domain.Account, balanceDelta, escrowDelta decimal.Decimal, kind domain.TransactionKind, signed decimal.Decimal, ref domain.Ref) error {
	next := *a
	next.Balance = a.Balance.Add(balanceDelta)
	next.Escrowed = a.Escrowed.Add(escrowDelta)
	next.UpdatedAt = s.now
	if next.Balance.IsNegative() || next.Escrowed.IsNegative() {
		return fmt.Errorf("%w: account %d would go negative", domain.ErrInsufficientFunds, a.ID)
	}

	id, err := Unique(s.ctx, NewTransactionID, s.tx.Transactions().Exists)
	if err != nil {
		return err
	}
	entry := domain.Transaction{
		ID:             id,
		AccountID:      a.ID,
		DealID:         ref.DealID,
		WithdrawalID:   ref.WithdrawalID,
		Kind:           kind,
		Status:         domain.TxStatusCompleted,
		Amount:         signed,
		BalanceDelta:   balanceDelta,
		EscrowDelta:    escrowDelta,
		Crypto:         ref.Crypto,
		IdempotencyKey: ref.IdempotencyKey,
		CreatedAt:      s.now,
	}

	if err := s.tx.Accounts().UpdateFunds(s.ctx, next); err != nil {
		return fmt.Errorf("ledger: update account %d: %w", a.ID, err)
	}
	if err := s.tx.Transactions().Append(s.ctx, entry); err != nil {
		return fmt.Errorf("ledger: append %s entry for account %d: %w", kind, a.ID, err)
	}
	*a = next
	s.entries = append(s.entries, entry)
	return nil
}
