// Package memory implements the domain unit of work in process memory. Units
// of work are serialized by a single mutex and applied copy-on-write, so a
// failed unit leaves no trace. It backs tests and the "memory" store driver.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// Store is an in-memory domain.UnitOfWork. Do must not be nested.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New creates an empty Store.
func New() *Store {
	return &Store{state: newState()}
}

type state struct {
	accounts     map[int64]domain.Account
	deals        map[string]domain.Deal
	withdrawals  map[string]domain.WithdrawalRequest
	transactions []domain.Transaction
	txIDs        map[string]struct{}
	txKeys       map[string]int
	audit        []domain.AuditEntry
}

func newState() *state {
	return &state{
		accounts:    make(map[int64]domain.Account),
		deals:       make(map[string]domain.Deal),
		withdrawals: make(map[string]domain.WithdrawalRequest),
		txIDs:       make(map[string]struct{}),
		txKeys:      make(map[string]int),
	}
}

// clone copies the containers; the values stored are plain structs and are
// replaced, never mutated in place.
func (s *state) clone() *state {
	return &state{
		accounts:     maps.Clone(s.accounts),
		deals:        maps.Clone(s.deals),
		withdrawals:  maps.Clone(s.withdrawals),
		transactions: slices.Clone(s.transactions),
		txIDs:        maps.Clone(s.txIDs),
		txKeys:       maps.Clone(s.txKeys),
		audit:        slices.Clone(s.audit),
	}
}

// Do runs fn against a private copy of the state and publishes the copy only
// when fn succeeds.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

type tx struct {
	st *state
}

func (t *tx) Accounts() domain.AccountRepo         { return accountRepo{t.st} }
func (t *tx) Deals() domain.DealRepo               { return dealRepo{t.st} }
func (t *tx) Withdrawals() domain.WithdrawalRepo   { return withdrawalRepo{t.st} }
func (t *tx) Transactions() domain.TransactionRepo { return transactionRepo{t.st} }
func (t *tx) Audit() domain.AuditRepo              { return auditRepo{t.st} }

// AdminRegistrationLock is a no-op: units of work are already serialized.
func (t *tx) AdminRegistrationLock(context.Context) error { return nil }

// page applies ListOpts to items already sorted newest first.
func page[T any](items []T, at func(T) time.Time, opts domain.ListOpts) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		ts := at(it)
		if opts.Since != nil && ts.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && ts.After(*opts.Until) {
			continue
		}
		out = append(out, it)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func newestFirst(a, b time.Time) int {
	return cmp.Compare(b.UnixNano(), a.UnixNano())
}

// Compile-time interface checks.
var (
	_ domain.UnitOfWork = (*Store)(nil)
	_ domain.Tx         = (*tx)(nil)
)
