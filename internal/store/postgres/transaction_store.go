package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// TransactionStore implements domain.TransactionRepo using PostgreSQL. The
// table is append-only; nothing here updates or deletes a row.
type TransactionStore struct {
	db querier
}

// NewTransactionStore creates a TransactionStore on a pool or transaction.
func NewTransactionStore(db querier) *TransactionStore {
	return &TransactionStore{db: db}
}

const transactionSelectCols = `id, account_id, deal_id, withdrawal_id, kind, status,
	amount::text, balance_delta::text, escrow_delta::text, crypto, idempotency_key, created_at`

// Append inserts a journal entry. A repeated id also matches
// domain.ErrConcurrencyConflict and a repeated idempotency key also matches
// domain.ErrAlreadyProcessed; both match domain.ErrAlreadyExists.
func (s *TransactionStore) Append(ctx context.Context, t domain.Transaction) error {
	const query = `
		INSERT INTO transactions (
			id, account_id, deal_id, withdrawal_id, kind, status,
			amount, balance_delta, escrow_delta, crypto, idempotency_key, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7::numeric, $8::numeric, $9::numeric, $10, $11, $12
		)`

	_, err := s.db.Exec(ctx, query,
		t.ID, t.AccountID, nullString(t.DealID), nullString(t.WithdrawalID), string(t.Kind), string(t.Status),
		t.Amount.String(), t.BalanceDelta.String(), t.EscrowDelta.String(),
		string(t.Crypto), nullString(t.IdempotencyKey), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append transaction %s: %w", t.ID, mapErr(err))
	}
	return nil
}

// Exists reports whether a transaction id is taken.
func (s *TransactionStore) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("postgres: transaction exists %s: %w", id, mapErr(err))
	}
	return ok, nil
}

// FindByIdempotencyKey returns the entry recorded under key.
func (s *TransactionStore) FindByIdempotencyKey(ctx context.Context, key string) (domain.Transaction, error) {
	t, err := scanTransactionFromRow(s.db.QueryRow(ctx,
		`SELECT `+transactionSelectCols+` FROM transactions WHERE idempotency_key = $1`, key))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("postgres: find transaction by key: %w", mapErr(err))
	}
	return t, nil
}

// ListByAccount returns an account's entries, newest first.
func (s *TransactionStore) ListByAccount(ctx context.Context, accountID int64, opts domain.ListOpts) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionSelectCols + ` FROM transactions WHERE account_id = $1`
	args := []any{accountID}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query, args = paginate(query, args, "created_at DESC, id DESC", opts.Limit, opts.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions for %d: %w", accountID, mapErr(err))
	}
	return scanTransactionRows(rows)
}

// ListBefore returns every entry created before the cutoff, oldest first.
func (s *TransactionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Transaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+transactionSelectCols+` FROM transactions WHERE created_at < $1 ORDER BY created_at ASC, id ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions before %s: %w", before.Format(time.RFC3339), mapErr(err))
	}
	return scanTransactionRows(rows)
}

// SumByKind returns the signed total of all entries of one kind.
func (s *TransactionStore) SumByKind(ctx context.Context, kind domain.TransactionKind) (decimal.Decimal, error) {
	var total string
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM transactions WHERE kind = $1`, string(kind)).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: sum %s transactions: %w", kind, mapErr(err))
	}
	return parseMoney("sum", total)
}

func scanTransactionFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Transaction, error) {
	var t domain.Transaction
	var dealID, withdrawalID, key *string
	var kind, status, crypto string
	var amount, balanceDelta, escrowDelta string

	err := scanner.Scan(
		&t.ID, &t.AccountID, &dealID, &withdrawalID, &kind, &status,
		&amount, &balanceDelta, &escrowDelta, &crypto, &key, &t.CreatedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}
	if t.Amount, err = parseMoney("amount", amount); err != nil {
		return domain.Transaction{}, err
	}
	if t.BalanceDelta, err = parseMoney("balance_delta", balanceDelta); err != nil {
		return domain.Transaction{}, err
	}
	if t.EscrowDelta, err = parseMoney("escrow_delta", escrowDelta); err != nil {
		return domain.Transaction{}, err
	}
	if t.Kind, err = domain.ParseTransactionKind(kind); err != nil {
		return domain.Transaction{}, err
	}
	t.DealID = deref(dealID)
	t.WithdrawalID = deref(withdrawalID)
	t.IdempotencyKey = deref(key)
	t.Status = domain.TransactionStatus(status)
	t.Crypto = domain.CryptoKind(crypto)
	return t, nil
}

func scanTransactionRows(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()
	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransactionFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: transaction rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.TransactionRepo = (*TransactionStore)(nil)
