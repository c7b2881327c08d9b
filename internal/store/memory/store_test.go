package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/store/memory"
)

func entry(id, key string) domain.Transaction {
	return domain.Transaction{
		ID:             id,
		AccountID:      1,
		Kind:           domain.TxDeposit,
		Status:         domain.TxStatusCompleted,
		Amount:         decimal.NewFromInt(10),
		BalanceDelta:   decimal.NewFromInt(10),
		EscrowDelta:    decimal.Zero,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestAppendDuplicates(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	require.NoError(t, st.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Transactions().Append(ctx, entry("TX1", "dep_a"))
	}))

	err := st.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Transactions().Append(ctx, entry("TX1", ""))
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.NotErrorIs(t, err, domain.ErrAlreadyProcessed)

	err = st.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.Transactions().Append(ctx, entry("TX2", "dep_a"))
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	assert.NotErrorIs(t, err, domain.ErrConcurrencyConflict)
}

func TestDoRollsBackOnError(t *testing.T) {
	st := memory.New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := st.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Transactions().Append(ctx, entry("TX1", "dep_a")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, st.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
		exists, err := tx.Transactions().Exists(ctx, "TX1")
		require.NoError(t, err)
		assert.False(t, exists)
		_, err = tx.Transactions().FindByIdempotencyKey(ctx, "dep_a")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))
}
