package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// adminRegistrationLockKey is the advisory lock that serializes first-admin
// assignment.
const adminRegistrationLockKey int64 = 424242

// querier is satisfied by pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UnitOfWork implements domain.UnitOfWork with one READ COMMITTED
// transaction per call. Row locks wait at most lockTimeout; a timeout
// surfaces as domain.ErrConcurrencyConflict.
type UnitOfWork struct {
	client      *Client
	lockTimeout time.Duration
}

// NewUnitOfWork creates a UnitOfWork on c.
func NewUnitOfWork(c *Client, lockTimeout time.Duration) *UnitOfWork {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &UnitOfWork{client: c, lockTimeout: lockTimeout}
}

// Do runs fn inside a transaction, committing if it returns nil.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	pgTx, err := u.client.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", mapErr(err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = pgTx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	// SET does not take bind parameters.
	if _, err := pgTx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", u.lockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("postgres: set lock_timeout: %w", mapErr(err))
	}

	if err := fn(ctx, &tx{q: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", mapErr(err))
	}
	committed = true
	return nil
}

type tx struct {
	q querier
}

func (t *tx) Accounts() domain.AccountRepo         { return NewAccountStore(t.q) }
func (t *tx) Deals() domain.DealRepo               { return NewDealStore(t.q) }
func (t *tx) Withdrawals() domain.WithdrawalRepo   { return NewWithdrawalStore(t.q) }
func (t *tx) Transactions() domain.TransactionRepo { return NewTransactionStore(t.q) }
func (t *tx) Audit() domain.AuditRepo              { return NewAuditStore(t.q) }

func (t *tx) AdminRegistrationLock(ctx context.Context) error {
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, adminRegistrationLockKey); err != nil {
		return fmt.Errorf("postgres: admin registration lock: %w", mapErr(err))
	}
	return nil
}

// mapErr translates driver errors into domain error kinds, keeping the
// original error in the chain.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01":
			return fmt.Errorf("%w: %w", domain.ErrConcurrencyConflict, err)
		case "23505":
			return uniqueViolation(pgErr, err)
		}
	}
	return err
}

// idempotencyKeyIndex guards against crediting one deposit attestation twice.
const idempotencyKeyIndex = "uq_transactions_idempotency_key"

// uniqueViolation classifies a 23505 by the constraint it hit. Primary keys
// hold freshly drawn random ids, so a collision there is a race the caller
// retries with a new id. The idempotency index means the work already
// happened.
func uniqueViolation(pgErr *pgconn.PgError, err error) error {
	switch {
	case pgErr.ConstraintName == idempotencyKeyIndex:
		return fmt.Errorf("%w: %w: %w", domain.ErrAlreadyExists, domain.ErrAlreadyProcessed, err)
	case strings.HasSuffix(pgErr.ConstraintName, "_pkey"):
		return fmt.Errorf("%w: %w: %w", domain.ErrAlreadyExists, domain.ErrConcurrencyConflict, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrAlreadyExists, err)
}

// Compile-time interface checks.
var (
	_ domain.UnitOfWork = (*UnitOfWork)(nil)
	_ domain.Tx         = (*tx)(nil)
)
