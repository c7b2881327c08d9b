package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// DealStore implements domain.DealRepo using PostgreSQL.
type DealStore struct {
	db querier
}

// NewDealStore creates a DealStore on a pool or transaction.
func NewDealStore(db querier) *DealStore {
	return &DealStore{db: db}
}

const dealSelectCols = `id, buyer_id, seller_id, title, description,
	amount::text, fee::text, status, dispute_reason, disputed_by, resolution,
	created_at, funded_at, delivered_at, disputed_at, completed_at, cancelled_at`

// Create inserts a new deal.
func (s *DealStore) Create(ctx context.Context, d domain.Deal) error {
	const query = `
		INSERT INTO deals (
			id, buyer_id, seller_id, title, description,
			amount, fee, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9)`

	_, err := s.db.Exec(ctx, query,
		d.ID, d.BuyerID, d.SellerID, d.Title, d.Description,
		d.Amount.String(), d.Fee.String(), d.Status.String(), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create deal %s: %w", d.ID, mapErr(err))
	}
	return nil
}

// Exists reports whether a deal id is taken.
func (s *DealStore) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM deals WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("postgres: deal exists %s: %w", id, mapErr(err))
	}
	return ok, nil
}

// Get returns a deal by id.
func (s *DealStore) Get(ctx context.Context, id string) (domain.Deal, error) {
	d, err := scanDealFromRow(s.db.QueryRow(ctx, `SELECT `+dealSelectCols+` FROM deals WHERE id = $1`, id))
	if err != nil {
		return domain.Deal{}, fmt.Errorf("postgres: get deal %s: %w", id, mapErr(err))
	}
	return d, nil
}

// GetForUpdate returns a deal and holds its row lock until the transaction
// ends.
func (s *DealStore) GetForUpdate(ctx context.Context, id string) (domain.Deal, error) {
	d, err := scanDealFromRow(s.db.QueryRow(ctx, `SELECT `+dealSelectCols+` FROM deals WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.Deal{}, fmt.Errorf("postgres: lock deal %s: %w", id, mapErr(err))
	}
	return d, nil
}

// Update writes the mutable deal fields.
func (s *DealStore) Update(ctx context.Context, d domain.Deal) error {
	const query = `
		UPDATE deals SET
			status = $2, dispute_reason = $3, disputed_by = $4, resolution = $5,
			funded_at = $6, delivered_at = $7, disputed_at = $8,
			completed_at = $9, cancelled_at = $10
		WHERE id = $1`

	tag, err := s.db.Exec(ctx, query,
		d.ID, d.Status.String(), d.DisputeReason, nullInt64(d.DisputedBy), string(d.Resolution),
		d.FundedAt, d.DeliveredAt, d.DisputedAt, d.CompletedAt, d.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update deal %s: %w", d.ID, mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByAccount returns deals where the account is buyer or seller.
func (s *DealStore) ListByAccount(ctx context.Context, accountID int64, status *domain.DealStatus, opts domain.ListOpts) ([]domain.Deal, error) {
	query := `SELECT ` + dealSelectCols + ` FROM deals WHERE (buyer_id = $1 OR seller_id = $1)`
	args := []any{accountID}

	if status != nil {
		args = append(args, status.String())
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
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
		return nil, fmt.Errorf("postgres: list deals for %d: %w", accountID, mapErr(err))
	}
	return scanDealRows(rows)
}

// CountByStatus returns the number of deals per status.
func (s *DealStore) CountByStatus(ctx context.Context) (map[domain.DealStatus]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM deals GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("postgres: count deals: %w", mapErr(err))
	}
	defer rows.Close()

	out := make(map[domain.DealStatus]int64)
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan deal count: %w", err)
		}
		st, err := domain.ParseDealStatus(name)
		if err != nil {
			return nil, err
		}
		out[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: count deals rows: %w", err)
	}
	return out, nil
}

func scanDealFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Deal, error) {
	var d domain.Deal
	var amountStr, feeStr, status, resolution string
	var disputedBy *int64

	err := scanner.Scan(
		&d.ID, &d.BuyerID, &d.SellerID, &d.Title, &d.Description,
		&amountStr, &feeStr, &status, &d.DisputeReason, &disputedBy, &resolution,
		&d.CreatedAt, &d.FundedAt, &d.DeliveredAt, &d.DisputedAt, &d.CompletedAt, &d.CancelledAt,
	)
	if err != nil {
		return domain.Deal{}, err
	}
	if d.Amount, err = parseMoney("amount", amountStr); err != nil {
		return domain.Deal{}, err
	}
	if d.Fee, err = parseMoney("fee", feeStr); err != nil {
		return domain.Deal{}, err
	}
	if d.Status, err = domain.ParseDealStatus(status); err != nil {
		return domain.Deal{}, err
	}
	d.DisputedBy = deref(disputedBy)
	d.Resolution = domain.Resolution(resolution)
	return d, nil
}

func scanDealRows(rows pgx.Rows) ([]domain.Deal, error) {
	defer rows.Close()
	var deals []domain.Deal
	for rows.Next() {
		d, err := scanDealFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan deal: %w", err)
		}
		deals = append(deals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: deal rows: %w", err)
	}
	return deals, nil
}

// Compile-time interface check.
var _ domain.DealRepo = (*DealStore)(nil)
