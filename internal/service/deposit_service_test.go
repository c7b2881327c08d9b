package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

func TestApproveDepositCreditsOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, err := e.deposits.Approve(ctx, adminID, buyerID, dec("100"), "btc")
	require.NoError(t, err)
	assert.Equal(t, domain.TxDeposit, first.Kind)
	assert.Equal(t, domain.CryptoBTC, first.Crypto)
	assert.NotEmpty(t, first.IdempotencyKey)

	again, err := e.deposits.Approve(ctx, adminID, buyerID, dec("100.00"), "BTC")
	require.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	assert.Equal(t, first.ID, again.ID)
	assertMoney(t, "100", e.account(t, buyerID).Balance)

	_, err = e.deposits.Approve(ctx, adminID, buyerID, dec("100"), "LTC")
	require.NoError(t, err)
	assertMoney(t, "200", e.account(t, buyerID).Balance)
}

func TestApproveDepositGuards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.deposits.Approve(ctx, buyerID, buyerID, dec("100"), "BTC")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = e.deposits.Approve(ctx, adminID, buyerID, dec("100"), "DOGE")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.deposits.Approve(ctx, adminID, 999, dec("100"), "BTC")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.True(t, e.account(t, buyerID).Balance.IsZero())
}

func TestSubmitAndRejectDeposit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.deposits.Submit(ctx, buyerID, dec("9.99"), "BTC")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.deposits.Submit(ctx, buyerID, dec("10000.01"), "BTC")
	assert.ErrorIs(t, err, domain.ErrValidation)

	att, err := e.deposits.Submit(ctx, buyerID, dec("25"), "usdt")
	require.NoError(t, err)
	assert.Equal(t, domain.CryptoUSDT, att.Crypto)
	assert.True(t, e.account(t, buyerID).Balance.IsZero(), "submit does not credit")

	admin := e.notifier.lastAdmin()
	assert.Equal(t, domain.EventDepositSubmitted, admin.event)
	require.Len(t, admin.actions, 2)
	for _, a := range admin.actions {
		assert.LessOrEqual(t, len(a.Data), 64, a.Label)
	}

	require.NoError(t, e.deposits.Reject(ctx, adminID, buyerID, dec("25"), "USDT"))
	assert.Contains(t, e.notifier.userEvents(buyerID), domain.EventDepositRejected)
	assert.True(t, e.account(t, buyerID).Balance.IsZero())
}

func TestApproveDepositThroughAction(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.deposits.Submit(ctx, buyerID, dec("40"), "LTC")
	require.NoError(t, err)
	approve := e.notifier.lastAdmin().actions[0]
	assert.Equal(t, "Approve", approve.Label)

	res, err := e.actions.Handle(ctx, adminID, approve.Data)
	require.NoError(t, err)
	entry, ok := res.(domain.Transaction)
	require.True(t, ok)
	assert.Equal(t, buyerID, entry.AccountID)
	assertMoney(t, "40", e.account(t, buyerID).Balance)

	_, err = e.actions.Handle(ctx, adminID, approve.Data)
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
	assertMoney(t, "40", e.account(t, buyerID).Balance)

	_, err = e.actions.Handle(ctx, sellerID, approve.Data)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
