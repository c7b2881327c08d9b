package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// errIDTaken matches what the postgres store returns for a primary key
// collision on a generated id.
var errIDTaken = fmt.Errorf("%w: %w", domain.ErrAlreadyExists, domain.ErrConcurrencyConflict)

type accountRepo struct{ st *state }

func (r accountRepo) Create(_ context.Context, a domain.Account) error {
	if _, ok := r.st.accounts[a.ID]; ok {
		return fmt.Errorf("memory: create account %d: %w", a.ID, domain.ErrAlreadyExists)
	}
	r.st.accounts[a.ID] = a
	return nil
}

func (r accountRepo) Get(_ context.Context, id int64) (domain.Account, error) {
	a, ok := r.st.accounts[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("memory: account %d: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (r accountRepo) GetForUpdate(ctx context.Context, id int64) (domain.Account, error) {
	return r.Get(ctx, id)
}

func (r accountRepo) UpdateFunds(_ context.Context, a domain.Account) error {
	cur, ok := r.st.accounts[a.ID]
	if !ok {
		return fmt.Errorf("memory: update account %d: %w", a.ID, domain.ErrNotFound)
	}
	cur.Balance = a.Balance
	cur.Escrowed = a.Escrowed
	cur.UpdatedAt = a.UpdatedAt
	r.st.accounts[a.ID] = cur
	return nil
}

func (r accountRepo) UpdateServices(_ context.Context, id int64, services string) error {
	cur, ok := r.st.accounts[id]
	if !ok {
		return fmt.Errorf("memory: update services %d: %w", id, domain.ErrNotFound)
	}
	cur.Services = services
	cur.UpdatedAt = time.Now().UTC()
	r.st.accounts[id] = cur
	return nil
}

func (r accountRepo) CountAdmins(context.Context) (int64, error) {
	var n int64
	for _, a := range r.st.accounts {
		if a.IsAdmin {
			n++
		}
	}
	return n, nil
}

func (r accountRepo) TopSellers(_ context.Context, limit int) ([]domain.SellerRank, error) {
	sales := make(map[int64]int64)
	for _, d := range r.st.deals {
		if d.Status == domain.DealStatusCompleted {
			sales[d.SellerID]++
		}
	}
	out := make([]domain.SellerRank, 0, len(sales))
	for id, n := range sales {
		a := r.st.accounts[id]
		out = append(out, domain.SellerRank{
			AccountID:      id,
			Username:       a.Username,
			FirstName:      a.FirstName,
			Services:       a.Services,
			CompletedSales: n,
		})
	}
	slices.SortFunc(out, func(a, b domain.SellerRank) int {
		if c := cmp.Compare(b.CompletedSales, a.CompletedSales); c != 0 {
			return c
		}
		return cmp.Compare(a.AccountID, b.AccountID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r accountRepo) Totals(context.Context) (decimal.Decimal, decimal.Decimal, error) {
	balance, escrowed := decimal.Zero, decimal.Zero
	for _, a := range r.st.accounts {
		balance = balance.Add(a.Balance)
		escrowed = escrowed.Add(a.Escrowed)
	}
	return balance, escrowed, nil
}

type dealRepo struct{ st *state }

func (r dealRepo) Create(_ context.Context, d domain.Deal) error {
	if _, ok := r.st.deals[d.ID]; ok {
		return fmt.Errorf("memory: create deal %s: %w", d.ID, errIDTaken)
	}
	r.st.deals[d.ID] = d
	return nil
}

func (r dealRepo) Exists(_ context.Context, id string) (bool, error) {
	_, ok := r.st.deals[id]
	return ok, nil
}

func (r dealRepo) Get(_ context.Context, id string) (domain.Deal, error) {
	d, ok := r.st.deals[id]
	if !ok {
		return domain.Deal{}, fmt.Errorf("memory: deal %s: %w", id, domain.ErrNotFound)
	}
	return d, nil
}

func (r dealRepo) GetForUpdate(ctx context.Context, id string) (domain.Deal, error) {
	return r.Get(ctx, id)
}

func (r dealRepo) Update(_ context.Context, d domain.Deal) error {
	if _, ok := r.st.deals[d.ID]; !ok {
		return fmt.Errorf("memory: update deal %s: %w", d.ID, domain.ErrNotFound)
	}
	r.st.deals[d.ID] = d
	return nil
}

func (r dealRepo) ListByAccount(_ context.Context, accountID int64, status *domain.DealStatus, opts domain.ListOpts) ([]domain.Deal, error) {
	var out []domain.Deal
	for _, d := range r.st.deals {
		if !d.IsParty(accountID) {
			continue
		}
		if status != nil && d.Status != *status {
			continue
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b domain.Deal) int { return newestFirst(a.CreatedAt, b.CreatedAt) })
	return page(out, func(d domain.Deal) time.Time { return d.CreatedAt }, opts), nil
}

func (r dealRepo) CountByStatus(context.Context) (map[domain.DealStatus]int64, error) {
	out := make(map[domain.DealStatus]int64)
	for _, d := range r.st.deals {
		out[d.Status]++
	}
	return out, nil
}

type withdrawalRepo struct{ st *state }

func (r withdrawalRepo) Create(_ context.Context, w domain.WithdrawalRequest) error {
	if _, ok := r.st.withdrawals[w.ID]; ok {
		return fmt.Errorf("memory: create withdrawal %s: %w", w.ID, errIDTaken)
	}
	r.st.withdrawals[w.ID] = w
	return nil
}

func (r withdrawalRepo) Exists(_ context.Context, id string) (bool, error) {
	_, ok := r.st.withdrawals[id]
	return ok, nil
}

func (r withdrawalRepo) Get(_ context.Context, id string) (domain.WithdrawalRequest, error) {
	w, ok := r.st.withdrawals[id]
	if !ok {
		return domain.WithdrawalRequest{}, fmt.Errorf("memory: withdrawal %s: %w", id, domain.ErrNotFound)
	}
	return w, nil
}

func (r withdrawalRepo) GetForUpdate(ctx context.Context, id string) (domain.WithdrawalRequest, error) {
	return r.Get(ctx, id)
}

func (r withdrawalRepo) Update(_ context.Context, w domain.WithdrawalRequest) error {
	if _, ok := r.st.withdrawals[w.ID]; !ok {
		return fmt.Errorf("memory: update withdrawal %s: %w", w.ID, domain.ErrNotFound)
	}
	r.st.withdrawals[w.ID] = w
	return nil
}

func (r withdrawalRepo) ListByStatus(_ context.Context, status domain.WithdrawalStatus, opts domain.ListOpts) ([]domain.WithdrawalRequest, error) {
	return r.list(func(w domain.WithdrawalRequest) bool { return w.Status == status }, opts), nil
}

func (r withdrawalRepo) ListByAccount(_ context.Context, accountID int64, opts domain.ListOpts) ([]domain.WithdrawalRequest, error) {
	return r.list(func(w domain.WithdrawalRequest) bool { return w.AccountID == accountID }, opts), nil
}

func (r withdrawalRepo) list(keep func(domain.WithdrawalRequest) bool, opts domain.ListOpts) []domain.WithdrawalRequest {
	var out []domain.WithdrawalRequest
	for _, w := range r.st.withdrawals {
		if keep(w) {
			out = append(out, w)
		}
	}
	slices.SortFunc(out, func(a, b domain.WithdrawalRequest) int { return newestFirst(a.CreatedAt, b.CreatedAt) })
	return page(out, func(w domain.WithdrawalRequest) time.Time { return w.CreatedAt }, opts)
}

type transactionRepo struct{ st *state }

func (r transactionRepo) Append(_ context.Context, t domain.Transaction) error {
	if _, ok := r.st.txIDs[t.ID]; ok {
		return fmt.Errorf("memory: append transaction %s: %w", t.ID, errIDTaken)
	}
	if t.IdempotencyKey != "" {
		if _, ok := r.st.txKeys[t.IdempotencyKey]; ok {
			return fmt.Errorf("memory: append transaction key %s: %w: %w", t.IdempotencyKey, domain.ErrAlreadyExists, domain.ErrAlreadyProcessed)
		}
		r.st.txKeys[t.IdempotencyKey] = len(r.st.transactions)
	}
	r.st.txIDs[t.ID] = struct{}{}
	r.st.transactions = append(r.st.transactions, t)
	return nil
}

func (r transactionRepo) Exists(_ context.Context, id string) (bool, error) {
	_, ok := r.st.txIDs[id]
	return ok, nil
}

func (r transactionRepo) FindByIdempotencyKey(_ context.Context, key string) (domain.Transaction, error) {
	i, ok := r.st.txKeys[key]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("memory: transaction key %s: %w", key, domain.ErrNotFound)
	}
	return r.st.transactions[i], nil
}

func (r transactionRepo) ListByAccount(_ context.Context, accountID int64, opts domain.ListOpts) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for i := len(r.st.transactions) - 1; i >= 0; i-- {
		if t := r.st.transactions[i]; t.AccountID == accountID {
			out = append(out, t)
		}
	}
	return page(out, func(t domain.Transaction) time.Time { return t.CreatedAt }, opts), nil
}

func (r transactionRepo) ListBefore(_ context.Context, before time.Time) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, t := range r.st.transactions {
		if t.CreatedAt.Before(before) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r transactionRepo) SumByKind(_ context.Context, kind domain.TransactionKind) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, t := range r.st.transactions {
		if t.Kind == kind {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}

type auditRepo struct{ st *state }

func (r auditRepo) Log(_ context.Context, event string, detail map[string]any) error {
	r.st.audit = append(r.st.audit, domain.AuditEntry{
		ID:        int64(len(r.st.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (r auditRepo) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	out := slices.Clone(r.st.audit)
	slices.Reverse(out)
	return page(out, func(e domain.AuditEntry) time.Time { return e.CreatedAt }, opts), nil
}

func (r auditRepo) ListBefore(_ context.Context, before time.Time) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range r.st.audit {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}
