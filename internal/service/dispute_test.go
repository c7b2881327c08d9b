package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/service"
)

func TestSplitShares(t *testing.T) {
	cases := []struct{ amount, buyer, seller string }{
		{"100", "50", "50"},
		{"100.01", "50", "50.01"},
		{"0.01", "0", "0.01"},
		{"33.33", "16.66", "16.67"},
	}
	for _, c := range cases {
		b, s := service.SplitShares(dec(c.amount))
		assertMoney(t, c.buyer, b, c.amount)
		assertMoney(t, c.seller, s, c.amount)
		assertMoney(t, c.amount, b.Add(s))
	}
}

func TestResolveDispute(t *testing.T) {
	cases := []struct {
		name       string
		policy     domain.Resolution
		amount     string
		buyerGets  string
		sellerGets string
	}{
		{"favor buyer", domain.ResolutionFavorBuyer, "100", "100", "0"},
		{"favor seller", domain.ResolutionFavorSeller, "100", "0", "100"},
		{"split", domain.ResolutionSplit, "100", "50", "50"},
		{"split odd cent", domain.ResolutionSplit, "100.01", "50", "50.01"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := newEnv(t)
			ctx := context.Background()
			e.fund(t, buyerID, "200")

			d := e.deliveredDeal(t, c.amount)
			afterFunding := e.account(t, buyerID).Balance

			d, err := e.deals.OpenDispute(ctx, buyerID, d.ID, "item never arrived")
			require.NoError(t, err)
			assert.Equal(t, domain.DealStatusDisputed, d.Status)
			assert.Equal(t, buyerID, d.DisputedBy)
			admin := e.notifier.lastAdmin()
			assert.Equal(t, domain.EventDealDisputed, admin.event)
			require.Len(t, admin.actions, 3)

			d, err = e.deals.Resolve(ctx, adminID, d.ID, c.policy)
			require.NoError(t, err)
			assert.Equal(t, domain.DealStatusCompleted, d.Status)
			assert.Equal(t, c.policy, d.Resolution)

			buyer, seller := e.account(t, buyerID), e.account(t, sellerID)
			assertMoney(t, afterFunding.Add(dec(c.buyerGets)).String(), buyer.Balance)
			assertMoney(t, c.sellerGets, seller.Balance)
			assert.True(t, buyer.Escrowed.IsZero(), "escrow drained")
			assertMoney(t, c.amount, dec(c.buyerGets).Add(dec(c.sellerGets)))
		})
	}
}

func TestResolveGuards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, buyerID, "200")
	d := e.deliveredDeal(t, "100")

	_, err := e.deals.OpenDispute(ctx, sellerID, d.ID, "buyer is rude")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = e.deals.OpenDispute(ctx, buyerID, d.ID, "   ")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = e.deals.OpenDispute(ctx, buyerID, d.ID, "broken")
	require.NoError(t, err)

	_, err = e.deals.Resolve(ctx, buyerID, d.ID, domain.ResolutionFavorBuyer)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = e.deals.Resolve(ctx, adminID, d.ID, "coin_flip")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = e.deals.Release(ctx, buyerID, d.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	_, err = e.deals.Resolve(ctx, adminID, d.ID, domain.ResolutionFavorSeller)
	require.NoError(t, err)
	_, err = e.deals.Resolve(ctx, adminID, d.ID, domain.ResolutionFavorBuyer)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition, "second resolution")
	assertMoney(t, "100", e.account(t, sellerID).Balance)
}

func TestResolveThroughSignedAction(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, buyerID, "200")
	d := e.deliveredDeal(t, "100")
	_, err := e.deals.OpenDispute(ctx, buyerID, d.ID, "broken")
	require.NoError(t, err)

	var split domain.Action
	for _, a := range e.notifier.lastAdmin().actions {
		if a.Label == "Split" {
			split = a
		}
	}
	require.NotEmpty(t, split.Data)

	_, err = e.actions.Handle(ctx, adminID, split.Data+"x")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	res, err := e.actions.Handle(ctx, adminID, split.Data)
	require.NoError(t, err)
	resolved, ok := res.(domain.Deal)
	require.True(t, ok)
	assert.Equal(t, domain.ResolutionSplit, resolved.Resolution)
	assertMoney(t, "50", e.account(t, sellerID).Balance)
}
