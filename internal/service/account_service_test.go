package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

func TestRegisterFirstAccountIsAdmin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	assert.True(t, e.account(t, adminID).IsAdmin)
	assert.False(t, e.account(t, buyerID).IsAdmin)

	a, created, err := e.accounts.Register(ctx, buyerID, "renamed", "R")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, buyerID, a.ID)

	a, created, err = e.accounts.Register(ctx, 42, " alice ", "Alice")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "alice", a.Username)
	assert.False(t, a.IsAdmin)
	assert.True(t, a.Balance.IsZero())

	_, _, err = e.accounts.Register(ctx, 0, "x", "x")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestUpdateServices(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a, err := e.accounts.UpdateServices(ctx, sellerID, "  Logos, banners  ")
	require.NoError(t, err)
	assert.Equal(t, "Logos, banners", a.Services)

	_, err = e.accounts.UpdateServices(ctx, sellerID, strings.Repeat("s", 501))
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.accounts.UpdateServices(ctx, 999, "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTopSellersAndStats(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, buyerID, "1000")

	for range 2 {
		d := e.deliveredDeal(t, "100")
		_, err := e.deals.Release(ctx, buyerID, d.ID)
		require.NoError(t, err)
	}
	e.openDeal(t, "10")

	top, err := e.accounts.TopSellers(ctx, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, sellerID, top[0].AccountID)
	assert.Equal(t, int64(2), top[0].CompletedSales)

	_, err = e.accounts.Stats(ctx, buyerID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	st, err := e.accounts.Stats(ctx, adminID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.DealsByStatus["completed"])
	assert.Equal(t, int64(1), st.DealsByStatus["pending"])
	assertMoney(t, "10", st.FeesCollected)
	assertMoney(t, "990", st.TotalBalance)
	assert.True(t, st.TotalEscrowed.IsZero())
	assert.Equal(t, 0, st.PendingWithdrawals)
}
