package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/crypto"
	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/fee"
	"github.com/alanyoungcy/escrowbot/internal/service"
	"github.com/alanyoungcy/escrowbot/internal/store/memory"
)

const (
	adminID  int64 = 1
	buyerID  int64 = 2
	sellerID int64 = 3
	otherID  int64 = 4
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type sent struct {
	accountID int64
	event     string
	text      string
	actions   []domain.Action
}

type fakeNotifier struct {
	mu     sync.Mutex
	users  []sent
	admins []sent
	fail   bool
}

func (f *fakeNotifier) NotifyUser(_ context.Context, accountID int64, event, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, sent{accountID: accountID, event: event, text: message})
	if f.fail {
		return errors.New("telegram down")
	}
	return nil
}

func (f *fakeNotifier) NotifyAdmin(_ context.Context, event, message string, actions []domain.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admins = append(f.admins, sent{event: event, text: message, actions: actions})
	if f.fail {
		return errors.New("telegram down")
	}
	return nil
}

func (f *fakeNotifier) userEvents(accountID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.users {
		if s.accountID == accountID {
			out = append(out, s.event)
		}
	}
	return out
}

func (f *fakeNotifier) lastAdmin() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.admins) == 0 {
		return sent{}
	}
	return f.admins[len(f.admins)-1]
}

func (f *fakeNotifier) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users, f.admins = nil, nil
}

type published struct {
	channel string
	payload []byte
}

type fakeBus struct {
	mu   sync.Mutex
	msgs []published
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, published{channel: channel, payload: payload})
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

type env struct {
	store       *memory.Store
	notifier    *fakeNotifier
	bus         *fakeBus
	signer      *crypto.ActionSigner
	accounts    *service.AccountService
	deals       *service.DealService
	withdrawals *service.WithdrawalService
	deposits    *service.DepositService
	actions     *service.ActionRouter
}

// newEnv builds services over a fresh memory store and registers the four
// fixture accounts. opts may replace parts of the shared Deps first.
func newEnv(t *testing.T, opts ...func(*service.Deps)) *env {
	t.Helper()
	e := &env{
		store:    memory.New(),
		notifier: &fakeNotifier{},
		bus:      &fakeBus{},
		signer:   &crypto.ActionSigner{Secret: "test-secret"},
	}
	deps := service.Deps{
		UoW:      e.store,
		Fees:     fee.Default(),
		Limits:   service.DefaultLimits(),
		Notifier: e.notifier,
		Bus:      e.bus,
		Actions:  e.signer,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	e.accounts = service.NewAccountService(deps)
	e.deals = service.NewDealService(deps)
	e.withdrawals = service.NewWithdrawalService(deps)
	e.deposits = service.NewDepositService(deps)
	e.actions = service.NewActionRouter(e.signer, e.deals, e.withdrawals, e.deposits)

	ctx := context.Background()
	for _, id := range []int64{adminID, buyerID, sellerID, otherID} {
		_, _, err := e.accounts.Register(ctx, id, "user", "User")
		require.NoError(t, err)
	}
	return e
}

// fund credits amount to id through an approved deposit.
func (e *env) fund(t *testing.T, id int64, amount string) {
	t.Helper()
	_, err := e.deposits.Approve(context.Background(), adminID, id, dec(amount), "USDT")
	require.NoError(t, err)
}

func (e *env) account(t *testing.T, id int64) domain.Account {
	t.Helper()
	a, err := e.accounts.Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

func (e *env) deal(t *testing.T, id string) domain.Deal {
	t.Helper()
	d, err := e.deals.Get(context.Background(), adminID, id)
	require.NoError(t, err)
	return d
}

func (e *env) openDeal(t *testing.T, amount string) domain.Deal {
	t.Helper()
	d, err := e.deals.Create(context.Background(), buyerID, service.CreateDealInput{
		SellerID: sellerID,
		Title:    "Logo design",
		Amount:   dec(amount),
	})
	require.NoError(t, err)
	return d
}

// deliveredDeal walks a new deal to Delivered.
func (e *env) deliveredDeal(t *testing.T, amount string) domain.Deal {
	t.Helper()
	ctx := context.Background()
	d := e.openDeal(t, amount)
	_, err := e.deals.Accept(ctx, sellerID, d.ID)
	require.NoError(t, err)
	d, err = e.deals.MarkDelivered(ctx, sellerID, d.ID)
	require.NoError(t, err)
	return d
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}
