package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// WithdrawalStore implements domain.WithdrawalRepo using PostgreSQL.
type WithdrawalStore struct {
	db querier
}

// NewWithdrawalStore creates a WithdrawalStore on a pool or transaction.
func NewWithdrawalStore(db querier) *WithdrawalStore {
	return &WithdrawalStore{db: db}
}

const withdrawalSelectCols = `id, account_id, amount::text, address, crypto, status,
	processed_by, admin_notes, created_at, processed_at`

// Create inserts a new withdrawal request.
func (s *WithdrawalStore) Create(ctx context.Context, w domain.WithdrawalRequest) error {
	const query = `
		INSERT INTO withdrawals (id, account_id, amount, address, crypto, status, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)`

	_, err := s.db.Exec(ctx, query,
		w.ID, w.AccountID, w.Amount.String(), w.Address, string(w.Crypto), w.Status.String(), w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create withdrawal %s: %w", w.ID, mapErr(err))
	}
	return nil
}

// Exists reports whether a withdrawal id is taken.
func (s *WithdrawalStore) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM withdrawals WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("postgres: withdrawal exists %s: %w", id, mapErr(err))
	}
	return ok, nil
}

// Get returns a withdrawal request by id.
func (s *WithdrawalStore) Get(ctx context.Context, id string) (domain.WithdrawalRequest, error) {
	w, err := scanWithdrawalFromRow(s.db.QueryRow(ctx, `SELECT `+withdrawalSelectCols+` FROM withdrawals WHERE id = $1`, id))
	if err != nil {
		return domain.WithdrawalRequest{}, fmt.Errorf("postgres: get withdrawal %s: %w", id, mapErr(err))
	}
	return w, nil
}

// GetForUpdate returns a withdrawal request and holds its row lock.
func (s *WithdrawalStore) GetForUpdate(ctx context.Context, id string) (domain.WithdrawalRequest, error) {
	w, err := scanWithdrawalFromRow(s.db.QueryRow(ctx, `SELECT `+withdrawalSelectCols+` FROM withdrawals WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.WithdrawalRequest{}, fmt.Errorf("postgres: lock withdrawal %s: %w", id, mapErr(err))
	}
	return w, nil
}

// Update writes the processing outcome.
func (s *WithdrawalStore) Update(ctx context.Context, w domain.WithdrawalRequest) error {
	const query = `
		UPDATE withdrawals
		SET status = $2, processed_by = $3, admin_notes = $4, processed_at = $5
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query, w.ID, w.Status.String(), nullInt64(w.ProcessedBy), w.AdminNotes, w.ProcessedAt)
	if err != nil {
		return fmt.Errorf("postgres: update withdrawal %s: %w", w.ID, mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByStatus returns requests in the given status, newest first.
func (s *WithdrawalStore) ListByStatus(ctx context.Context, status domain.WithdrawalStatus, opts domain.ListOpts) ([]domain.WithdrawalRequest, error) {
	return s.list(ctx, "status = $1", status.String(), opts)
}

// ListByAccount returns an account's requests, newest first.
func (s *WithdrawalStore) ListByAccount(ctx context.Context, accountID int64, opts domain.ListOpts) ([]domain.WithdrawalRequest, error) {
	return s.list(ctx, "account_id = $1", accountID, opts)
}

func (s *WithdrawalStore) list(ctx context.Context, where string, arg any, opts domain.ListOpts) ([]domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalSelectCols + ` FROM withdrawals WHERE ` + where
	args := []any{arg}
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	query, args = paginate(query, args, "created_at DESC", opts.Limit, opts.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list withdrawals: %w", mapErr(err))
	}
	return scanWithdrawalRows(rows)
}

func scanWithdrawalFromRow(scanner interface{ Scan(dest ...any) error }) (domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	var amountStr, crypto, status string
	var processedBy *int64

	err := scanner.Scan(
		&w.ID, &w.AccountID, &amountStr, &w.Address, &crypto, &status,
		&processedBy, &w.AdminNotes, &w.CreatedAt, &w.ProcessedAt,
	)
	if err != nil {
		return domain.WithdrawalRequest{}, err
	}
	if w.Amount, err = parseMoney("amount", amountStr); err != nil {
		return domain.WithdrawalRequest{}, err
	}
	if w.Status, err = domain.ParseWithdrawalStatus(status); err != nil {
		return domain.WithdrawalRequest{}, err
	}
	w.Crypto = domain.CryptoKind(crypto)
	w.ProcessedBy = deref(processedBy)
	return w, nil
}

func scanWithdrawalRows(rows pgx.Rows) ([]domain.WithdrawalRequest, error) {
	defer rows.Close()
	var out []domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawalFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan withdrawal: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: withdrawal rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.WithdrawalRepo = (*WithdrawalStore)(nil)
