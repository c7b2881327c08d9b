package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// AccountStore implements domain.AccountRepo using PostgreSQL.
type AccountStore struct {
	db querier
}

// NewAccountStore creates an AccountStore on a pool or transaction.
func NewAccountStore(db querier) *AccountStore {
	return &AccountStore{db: db}
}

const accountSelectCols = `id, username, first_name, services, is_admin,
	balance::text, escrowed::text, created_at, updated_at`

// Create inserts a new account.
func (s *AccountStore) Create(ctx context.Context, a domain.Account) error {
	const query = `
		INSERT INTO accounts (
			id, username, first_name, services, is_admin,
			balance, escrowed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9)`

	_, err := s.db.Exec(ctx, query,
		a.ID, a.Username, a.FirstName, a.Services, a.IsAdmin,
		a.Balance.String(), a.Escrowed.String(), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create account %d: %w", a.ID, mapErr(err))
	}
	return nil
}

// Get returns the account with the given id.
func (s *AccountStore) Get(ctx context.Context, id int64) (domain.Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountSelectCols+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccountFromRow(row)
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: get account %d: %w", id, mapErr(err))
	}
	return a, nil
}

// GetForUpdate returns the account and holds its row lock until the
// transaction ends.
func (s *AccountStore) GetForUpdate(ctx context.Context, id int64) (domain.Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountSelectCols+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	a, err := scanAccountFromRow(row)
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: lock account %d: %w", id, mapErr(err))
	}
	return a, nil
}

// UpdateFunds writes balance and escrowed.
func (s *AccountStore) UpdateFunds(ctx context.Context, a domain.Account) error {
	const query = `
		UPDATE accounts
		SET balance = $2::numeric, escrowed = $3::numeric, updated_at = $4
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, a.ID, a.Balance.String(), a.Escrowed.String(), a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update funds %d: %w", a.ID, mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateServices replaces the seller profile text.
func (s *AccountStore) UpdateServices(ctx context.Context, id int64, services string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE accounts SET services = $2, updated_at = NOW() WHERE id = $1`, id, services)
	if err != nil {
		return fmt.Errorf("postgres: update services %d: %w", id, mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountAdmins returns the number of admin accounts.
func (s *AccountStore) CountAdmins(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE is_admin`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count admins: %w", mapErr(err))
	}
	return n, nil
}

// TopSellers ranks accounts by completed deals as seller.
func (s *AccountStore) TopSellers(ctx context.Context, limit int) ([]domain.SellerRank, error) {
	const query = `
		SELECT a.id, a.username, a.first_name, a.services, COUNT(d.id) AS sales
		FROM accounts a
		JOIN deals d ON d.seller_id = a.id AND d.status = 'completed'
		GROUP BY a.id
		ORDER BY sales DESC, a.id ASC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: top sellers: %w", mapErr(err))
	}
	defer rows.Close()

	var out []domain.SellerRank
	for rows.Next() {
		var r domain.SellerRank
		if err := rows.Scan(&r.AccountID, &r.Username, &r.FirstName, &r.Services, &r.CompletedSales); err != nil {
			return nil, fmt.Errorf("postgres: scan seller rank: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: top sellers rows: %w", err)
	}
	return out, nil
}

// Totals sums balances and escrowed funds across all accounts.
func (s *AccountStore) Totals(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	var balanceStr, escrowedStr string
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(balance), 0)::text, COALESCE(SUM(escrowed), 0)::text FROM accounts`,
	).Scan(&balanceStr, &escrowedStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("postgres: account totals: %w", mapErr(err))
	}
	balance, err := parseMoney("balance", balanceStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	escrowed, err := parseMoney("escrowed", escrowedStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return balance, escrowed, nil
}

func scanAccountFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Account, error) {
	var a domain.Account
	var balanceStr, escrowedStr string
	err := scanner.Scan(
		&a.ID, &a.Username, &a.FirstName, &a.Services, &a.IsAdmin,
		&balanceStr, &escrowedStr, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Account{}, err
	}
	if a.Balance, err = parseMoney("balance", balanceStr); err != nil {
		return domain.Account{}, err
	}
	if a.Escrowed, err = parseMoney("escrowed", escrowedStr); err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

// Compile-time interface check.
var _ domain.AccountRepo = (*AccountStore)(nil)
