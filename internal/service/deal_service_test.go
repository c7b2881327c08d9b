package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/service"
)

func TestAcceptReservesAmountPlusFee(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, buyerID, "60")

	d := e.openDeal(t, "50")
	assertMoney(t, "5", d.Fee)
	assert.Equal(t, domain.DealStatusPending, d.Status)

	d, err := e.deals.Accept(ctx, sellerID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DealStatusFunded, d.Status)
	require.NotNil(t, d.FundedAt)

	buyer := e.account(t, buyerID)
	assertMoney(t, "5", buyer.Balance)
	assertMoney(t, "50", buyer.Escrowed)

	txs, err := e.accounts.Transactions(ctx, buyerID, domain.ListOpts{})
	require.NoError(t, err)
	kinds := map[domain.TransactionKind]decimal.Decimal{}
	for _, tx := range txs {
		if tx.DealID == d.ID {
			kinds[tx.Kind] = tx.Amount
		}
	}
	assertMoney(t, "-55", kinds[domain.TxEscrowFund])
	assertMoney(t, "-5", kinds[domain.TxFee])

	assert.Contains(t, e.notifier.userEvents(buyerID), domain.EventDealFunded)
	assert.Contains(t, e.notifier.userEvents(sellerID), domain.EventDealFunded)
}

func TestAcceptWithoutFundsStaysPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, buyerID, "54.99")
	d := e.openDeal(t, "50")
	e.notifier.reset()

	_, err := e.deals.Accept(ctx, sellerID, d.ID)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	assert.Equal(t, domain.DealStatusPending, e.deal(t, d.ID).Status)
	buyer := e.account(t, buyerID)
	assertMoney(t, "54.99", buyer.Balance)
	assert.True(t, buyer.Escrowed.IsZero())
	assert.Equal(t, []string{domain.EventAccountTopUpNeeded}, e.notifier.userEvents(buyerID))

	e.fund(t, buyerID, "0.01")
	d, err = e.deals.Accept(ctx, sellerID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DealStatusFunded, d.Status)
	assertMoney(t, "0", e.account(t, buyerID).Balance)
}

func TestCompletedDealConservesFunds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, buyerID, "200")
	e.fund(t, sellerID, "3")
	buyerBefore := e.account(t, buyerID).Balance
	sellerBefore := e.account(t, sellerID).Balance

	d := e.deliveredDeal(t, "100")
	d, err := e.deals.Release(ctx, buyerID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DealStatusCompleted, d.Status)
	require.NotNil(t, d.CompletedAt)

	buyer, seller := e.account(t, buyerID), e.account(t, sellerID)
	assertMoney(t, buyerBefore.String(), buyer.Balance.Add(d.Amount).Add(d.Fee))
	assertMoney(t, sellerBefore.Add(d.Amount).String(), seller.Balance)
	assert.True(t, buyer.Escrowed.IsZero())
	assert.True(t, seller.Escrowed.IsZero())
	assert.Contains(t, e.notifier.userEvents(sellerID), domain.EventDealCompleted)
}

func TestDeclineCancelsWithoutMovingFunds(t *testing.T) {
	e := newEnv(t)
	e.fund(t, buyerID, "100")
	d := e.openDeal(t, "50")

	d, err := e.deals.Decline(context.Background(), sellerID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DealStatusCancelled, d.Status)
	assert.True(t, d.Status.Terminal())
	assertMoney(t, "100", e.account(t, buyerID).Balance)
	assert.Contains(t, e.notifier.userEvents(buyerID), domain.EventDealDeclined)
}

func TestTransitionGuards(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, buyerID, "500")
	d := e.openDeal(t, "50")

	_, err := e.deals.Accept(ctx, buyerID, d.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "buyer cannot accept")
	_, err = e.deals.MarkDelivered(ctx, sellerID, d.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition, "deliver before funding")
	_, err = e.deals.Release(ctx, buyerID, d.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition, "release before delivery")

	_, err = e.deals.Accept(ctx, sellerID, d.ID)
	require.NoError(t, err)
	_, err = e.deals.Decline(ctx, sellerID, d.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition, "decline after funding")
	_, err = e.deals.OpenDispute(ctx, buyerID, d.ID, "late")
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition, "dispute before delivery")
	_, err = e.deals.MarkDelivered(ctx, otherID, d.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = e.deals.MarkDelivered(ctx, sellerID, d.ID)
	require.NoError(t, err)
	_, err = e.deals.Release(ctx, sellerID, d.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "seller cannot release")
	_, err = e.deals.Resolve(ctx, adminID, d.ID, domain.ResolutionSplit)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition, "resolve without dispute")

	_, err = e.deals.Accept(ctx, sellerID, "NOPE0000")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cases := []service.CreateDealInput{
		{SellerID: sellerID, Title: "x", Amount: dec("0.99")},
		{SellerID: sellerID, Title: "x", Amount: dec("50000.01")},
		{SellerID: sellerID, Title: "x", Amount: dec("10.001")},
		{SellerID: sellerID, Title: " ", Amount: dec("10")},
		{SellerID: sellerID, Title: strings.Repeat("t", 101), Amount: dec("10")},
		{SellerID: sellerID, Title: "x", Description: strings.Repeat("d", 1001), Amount: dec("10")},
		{SellerID: buyerID, Title: "x", Amount: dec("10")},
	}
	for i, in := range cases {
		_, err := e.deals.Create(ctx, buyerID, in)
		assert.ErrorIs(t, err, domain.ErrValidation, "case %d", i)
	}

	_, err := e.deals.Create(ctx, buyerID, service.CreateDealInput{SellerID: 999, Title: "x", Amount: dec("10")})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	d, err := e.deals.Create(ctx, buyerID, service.CreateDealInput{SellerID: sellerID, Title: "x", Amount: dec("50000")})
	require.NoError(t, err)
	assertMoney(t, "2500", d.Fee)
	assert.Regexp(t, `^[A-Z0-9]{8}$`, d.ID)
	assert.Equal(t, domain.EventDealCreated, e.notifier.lastAdmin().event)
}

func TestConcurrentAcceptFundsOnce(t *testing.T) {
	e := newEnv(t)
	e.fund(t, buyerID, "1000")
	d := e.openDeal(t, "100")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.deals.Accept(context.Background(), sellerID, d.ID)
		}()
	}
	wg.Wait()

	ok, invalid := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInvalidStateTransition):
			invalid++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, invalid)

	buyer := e.account(t, buyerID)
	assertMoney(t, "895", buyer.Balance)
	assertMoney(t, "100", buyer.Escrowed)
}

func TestDealVisibility(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := e.openDeal(t, "20")

	_, err := e.deals.Get(ctx, sellerID, d.ID)
	assert.NoError(t, err)
	_, err = e.deals.Get(ctx, adminID, d.ID)
	assert.NoError(t, err)
	_, err = e.deals.Get(ctx, otherID, d.ID)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	pending := domain.DealStatusPending
	list, err := e.deals.List(ctx, sellerID, &pending, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, d.ID, list[0].ID)

	funded := domain.DealStatusFunded
	list, err = e.deals.List(ctx, sellerID, &funded, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNotifierFailureKeepsCommit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fund(t, buyerID, "100")
	d := e.openDeal(t, "50")
	e.notifier.fail = true

	d, err := e.deals.Accept(ctx, sellerID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DealStatusFunded, e.deal(t, d.ID).Status)
	assertMoney(t, "45", e.account(t, buyerID).Balance)
}

func TestFailedOperationSendsNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	d := e.openDeal(t, "50")
	e.notifier.reset()
	e.bus.msgs = nil

	_, err := e.deals.MarkDelivered(ctx, sellerID, d.ID)
	require.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Empty(t, e.notifier.users)
	assert.Empty(t, e.notifier.admins)
	assert.Empty(t, e.bus.msgs)
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	e := newEnv(t)
	e.bus.msgs = nil
	e.openDeal(t, "20")

	require.Len(t, e.bus.msgs, 1)
	assert.Equal(t, "escrow:deals", e.bus.msgs[0].channel)
	assert.Contains(t, string(e.bus.msgs[0].payload), `"type":"deal.created"`)
}
