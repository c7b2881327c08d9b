package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// UnitOfWork runs a function inside one atomic transaction. If fn returns an
// error every write made through tx is discarded.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the repositories bound to a single unit of work. Rows read with
// a ForUpdate method stay locked until the unit ends.
type Tx interface {
	Accounts() AccountRepo
	Deals() DealRepo
	Withdrawals() WithdrawalRepo
	Transactions() TransactionRepo
	Audit() AuditRepo
	// AdminRegistrationLock serializes first-admin assignment.
	AdminRegistrationLock(ctx context.Context) error
}

// AccountRepo persists accounts.
type AccountRepo interface {
	Create(ctx context.Context, a Account) error
	Get(ctx context.Context, id int64) (Account, error)
	GetForUpdate(ctx context.Context, id int64) (Account, error)
	UpdateFunds(ctx context.Context, a Account) error
	UpdateServices(ctx context.Context, id int64, services string) error
	CountAdmins(ctx context.Context) (int64, error)
	TopSellers(ctx context.Context, limit int) ([]SellerRank, error)
	Totals(ctx context.Context) (balance, escrowed decimal.Decimal, err error)
}

// DealRepo persists deals.
type DealRepo interface {
	Create(ctx context.Context, d Deal) error
	Exists(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (Deal, error)
	GetForUpdate(ctx context.Context, id string) (Deal, error)
	Update(ctx context.Context, d Deal) error
	ListByAccount(ctx context.Context, accountID int64, status *DealStatus, opts ListOpts) ([]Deal, error)
	CountByStatus(ctx context.Context) (map[DealStatus]int64, error)
}

// WithdrawalRepo persists withdrawal requests.
type WithdrawalRepo interface {
	Create(ctx context.Context, w WithdrawalRequest) error
	Exists(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (WithdrawalRequest, error)
	GetForUpdate(ctx context.Context, id string) (WithdrawalRequest, error)
	Update(ctx context.Context, w WithdrawalRequest) error
	ListByStatus(ctx context.Context, status WithdrawalStatus, opts ListOpts) ([]WithdrawalRequest, error)
	ListByAccount(ctx context.Context, accountID int64, opts ListOpts) ([]WithdrawalRequest, error)
}

// TransactionRepo is the append-only ledger journal.
type TransactionRepo interface {
	Append(ctx context.Context, t Transaction) error
	Exists(ctx context.Context, id string) (bool, error)
	FindByIdempotencyKey(ctx context.Context, key string) (Transaction, error)
	ListByAccount(ctx context.Context, accountID int64, opts ListOpts) ([]Transaction, error)
	ListBefore(ctx context.Context, before time.Time) ([]Transaction, error)
	SumByKind(ctx context.Context, kind TransactionKind) (decimal.Decimal, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditRepo persists an append-only audit log.
type AuditRepo interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}
