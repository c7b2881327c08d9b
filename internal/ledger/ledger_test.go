package ledger_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/ledger"
	"github.com/alanyoungcy/escrowbot/internal/store/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setup(t *testing.T, balances map[int64]string) (*memory.Store, *ledger.Ledger) {
	t.Helper()
	st := memory.New()
	err := st.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		for id, bal := range balances {
			if err := tx.Accounts().Create(ctx, domain.Account{ID: id, Balance: d(bal), Escrowed: decimal.Zero}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return st, ledger.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func account(t *testing.T, st *memory.Store, id int64) domain.Account {
	t.Helper()
	var a domain.Account
	require.NoError(t, st.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		a, err = tx.Accounts().Get(ctx, id)
		return err
	}))
	return a
}

func run(st *memory.Store, l *ledger.Ledger, ids []int64, fn func(s *ledger.Session) error) error {
	return st.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return l.WithAccountLock(ctx, tx, ids, fn)
	})
}

func TestReserveAndRelease(t *testing.T) {
	st, l := setup(t, map[int64]string{1: "60", 2: "0"})

	require.NoError(t, run(st, l, []int64{1}, func(s *ledger.Session) error {
		return s.Reserve(1, d("55"), domain.TxEscrowFund, domain.Ref{DealID: "ABCDEFGH"})
	}))
	buyer := account(t, st, 1)
	assert.True(t, buyer.Balance.Equal(d("5")), "balance %s", buyer.Balance)
	assert.True(t, buyer.Escrowed.Equal(d("55")), "escrowed %s", buyer.Escrowed)

	var entries []domain.Transaction
	require.NoError(t, run(st, l, []int64{2, 1}, func(s *ledger.Session) error {
		if err := s.Release(1, 2, d("50"), domain.Ref{DealID: "ABCDEFGH"}); err != nil {
			return err
		}
		entries = s.Entries()
		return nil
	}))
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].AccountID)
	assert.True(t, entries[0].EscrowDelta.Equal(d("-50")))
	assert.Equal(t, int64(2), entries[1].AccountID)
	assert.True(t, entries[1].BalanceDelta.Equal(d("50")))

	assert.True(t, account(t, st, 1).Escrowed.Equal(d("5")))
	assert.True(t, account(t, st, 2).Balance.Equal(d("50")))
}

func TestReserveInsufficientFunds(t *testing.T) {
	st, l := setup(t, map[int64]string{1: "10"})

	err := run(st, l, []int64{1}, func(s *ledger.Session) error {
		return s.Reserve(1, d("10.01"), domain.TxEscrowFund, domain.Ref{})
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.True(t, account(t, st, 1).Balance.Equal(d("10")))
}

func TestFailedUnitRollsBack(t *testing.T) {
	st, l := setup(t, map[int64]string{1: "100"})
	boom := errors.New("boom")

	err := run(st, l, []int64{1}, func(s *ledger.Session) error {
		if err := s.Reserve(1, d("40"), domain.TxWithdrawalHold, domain.Ref{}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	a := account(t, st, 1)
	assert.True(t, a.Balance.Equal(d("100")))
	assert.True(t, a.Escrowed.IsZero())

	var txs []domain.Transaction
	require.NoError(t, st.Do(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		txs, err = tx.Transactions().ListByAccount(ctx, 1, domain.ListOpts{})
		return err
	}))
	assert.Empty(t, txs)
}

func TestRefundAndConsume(t *testing.T) {
	st, l := setup(t, map[int64]string{1: "20"})

	require.NoError(t, run(st, l, []int64{1}, func(s *ledger.Session) error {
		if err := s.Reserve(1, d("20"), domain.TxWithdrawalHold, domain.Ref{}); err != nil {
			return err
		}
		if err := s.RefundReservation(1, d("5"), domain.Ref{}); err != nil {
			return err
		}
		return s.Consume(1, d("15"), domain.TxWithdrawal, domain.Ref{})
	}))
	a := account(t, st, 1)
	assert.True(t, a.Balance.Equal(d("5")))
	assert.True(t, a.Escrowed.IsZero())

	err := run(st, l, []int64{1}, func(s *ledger.Session) error {
		return s.Consume(1, d("1"), domain.TxWithdrawal, domain.Ref{})
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestCreditDebit(t *testing.T) {
	st, l := setup(t, map[int64]string{1: "0"})

	require.NoError(t, run(st, l, []int64{1}, func(s *ledger.Session) error {
		return s.Credit(1, d("25.50"), domain.TxDeposit, domain.Ref{Crypto: domain.CryptoBTC, IdempotencyKey: "k1"})
	}))
	err := run(st, l, []int64{1}, func(s *ledger.Session) error {
		return s.Debit(1, d("30"), domain.TxWithdrawal, domain.Ref{})
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.True(t, account(t, st, 1).Balance.Equal(d("25.5")))
}

func TestSessionRejectsUnlockedAccount(t *testing.T) {
	st, l := setup(t, map[int64]string{1: "10", 2: "10"})

	err := run(st, l, []int64{1}, func(s *ledger.Session) error {
		return s.Credit(2, d("1"), domain.TxDeposit, domain.Ref{})
	})
	require.Error(t, err)
	assert.True(t, account(t, st, 2).Balance.Equal(d("10")))
}

func TestCheckAmount(t *testing.T) {
	assert.NoError(t, ledger.CheckAmount(d("0.01")))
	assert.ErrorIs(t, ledger.CheckAmount(decimal.Zero), domain.ErrValidation)
	assert.ErrorIs(t, ledger.CheckAmount(d("-1")), domain.ErrValidation)
	assert.ErrorIs(t, ledger.CheckAmount(d("1.001")), domain.ErrValidation)
}

func TestLockOrder(t *testing.T) {
	assert.Equal(t, []int64{1, 5, 9}, ledger.LockOrder([]int64{9, 1, 5, 1}))
	in := []int64{3, 2}
	ledger.LockOrder(in)
	assert.Equal(t, []int64{3, 2}, in)
}

func TestIDFormats(t *testing.T) {
	id, err := ledger.NewDealID()
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Z0-9]{8}$`, id)

	id, err = ledger.NewTransactionID()
	require.NoError(t, err)
	assert.Regexp(t, `^[A-Z0-9]{12}$`, id)

	id, err = ledger.NewWithdrawalID()
	require.NoError(t, err)
	assert.Regexp(t, `^WD[0-9]{6}$`, id)
}

func TestUniqueRetriesOnCollision(t *testing.T) {
	ids := []string{"A", "A", "B"}
	gen := func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}
	exists := func(_ context.Context, id string) (bool, error) { return id == "A", nil }

	id, err := ledger.Unique(context.Background(), gen, exists)
	require.NoError(t, err)
	assert.Equal(t, "B", id)

	_, err = ledger.Unique(context.Background(),
		func() (string, error) { return "A", nil }, exists)
	assert.Error(t, err)
}
