package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/escrowbot/internal/crypto"
	"github.com/alanyoungcy/escrowbot/internal/domain"
	"github.com/alanyoungcy/escrowbot/internal/fee"
	"github.com/alanyoungcy/escrowbot/internal/ledger"
	"github.com/alanyoungcy/escrowbot/internal/metrics"
)

// Notifier delivers messages to the messaging layer. Delivery happens after
// the owning unit of work commits; errors are logged and never undo it.
type Notifier interface {
	NotifyUser(ctx context.Context, accountID int64, event, message string) error
	NotifyAdmin(ctx context.Context, event, message string, actions []domain.Action) error
}

// Limits bounds user input.
type Limits struct {
	DealMin        decimal.Decimal
	DealMax        decimal.Decimal
	TitleMax       int
	DescriptionMax int
	ReasonMax      int
	ServicesMax    int
	DepositMin     decimal.Decimal
	DepositMax     decimal.Decimal
	WithdrawalMin  decimal.Decimal
	AddressMin     int
	AddressMax     int
}

// DefaultLimits returns the production bounds.
func DefaultLimits() Limits {
	return Limits{
		DealMin:        decimal.NewFromInt(1),
		DealMax:        decimal.NewFromInt(50000),
		TitleMax:       100,
		DescriptionMax: 1000,
		ReasonMax:      500,
		ServicesMax:    500,
		DepositMin:     decimal.NewFromInt(10),
		DepositMax:     decimal.NewFromInt(10000),
		WithdrawalMin:  decimal.NewFromInt(10),
		AddressMin:     crypto.DefaultMinAddressLen,
		AddressMax:     crypto.DefaultMaxAddressLen,
	}
}

// Retry controls how often a unit of work is retried after
// domain.ErrConcurrencyConflict.
type Retry struct {
	Attempts int
	Backoff  time.Duration
}

// Deps carries what the escrow services share. Notifier, Bus, Locks,
// Actions and Metrics are optional.
type Deps struct {
	UoW      domain.UnitOfWork
	Ledger   *ledger.Ledger
	Fees     fee.Schedule
	Limits   Limits
	Retry    Retry
	Notifier Notifier
	Bus      domain.SignalBus
	Locks    domain.LockManager
	LockTTL  time.Duration
	Actions  *crypto.ActionSigner
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

type base struct {
	uow     domain.UnitOfWork
	ledger  *ledger.Ledger
	fees    fee.Schedule
	limits  Limits
	retry   Retry
	locks   domain.LockManager
	lockTTL time.Duration
	actions *crypto.ActionSigner
	metrics *metrics.Metrics
	out     *dispatcher
	logger  *slog.Logger
	now     func() time.Time
}

func newBase(d Deps, component string) base {
	root := d.Logger
	if root == nil {
		root = slog.Default()
	}
	logger := root.With(slog.String("component", component))
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if d.Ledger == nil {
		d.Ledger = ledger.New(root)
	}
	if d.Retry.Attempts < 1 {
		d.Retry.Attempts = 1
	}
	if d.LockTTL <= 0 {
		d.LockTTL = 10 * time.Second
	}
	return base{
		uow:     d.UoW,
		ledger:  d.Ledger,
		fees:    d.Fees,
		limits:  d.Limits,
		retry:   d.Retry,
		locks:   d.Locks,
		lockTTL: d.LockTTL,
		actions: d.Actions,
		metrics: d.Metrics,
		out: &dispatcher{
			notifier: d.Notifier,
			bus:      d.Bus,
			metrics:  d.Metrics,
			logger:   logger,
		},
		logger: logger,
		now:    now,
	}
}

// run executes fn in one unit of work and, once it has committed, delivers
// whatever fn queued on the outbox.
func (b *base) run(ctx context.Context, op string, fn func(ctx context.Context, tx domain.Tx, ob *outbox) error) error {
	started := time.Now()
	var ob *outbox
	var err error
	for attempt := 1; ; attempt++ {
		ob = &outbox{}
		err = b.uow.Do(ctx, func(ctx context.Context, tx domain.Tx) error {
			return fn(ctx, tx, ob)
		})
		if err == nil || !errors.Is(err, domain.ErrConcurrencyConflict) || attempt >= b.retry.Attempts {
			break
		}
		b.logger.WarnContext(ctx, "retrying after conflict",
			slog.String("op", op),
			slog.Int("attempt", attempt),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retry.Backoff * time.Duration(attempt)):
		}
	}
	b.metrics.ObserveOp(op, Outcome(err), started)
	if err != nil {
		return err
	}
	b.out.flush(ctx, ob)
	return nil
}

// guard takes the optional distributed action lock for key.
func (b *base) guard(ctx context.Context, key string) (func(), error) {
	if b.locks == nil {
		return func() {}, nil
	}
	unlock, err := b.locks.Acquire(ctx, key, b.lockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		return nil, fmt.Errorf("%w: %s is being processed", domain.ErrConcurrencyConflict, key)
	}
	if err != nil {
		return nil, err
	}
	return unlock, nil
}

// requireAdmin loads the actor and fails with ErrUnauthorized unless they are
// an admin.
func requireAdmin(ctx context.Context, tx domain.Tx, actorID int64) error {
	a, err := tx.Accounts().Get(ctx, actorID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: unknown account %d", domain.ErrUnauthorized, actorID)
	}
	if err != nil {
		return err
	}
	if !a.IsAdmin {
		return fmt.Errorf("%w: account %d is not an admin", domain.ErrUnauthorized, actorID)
	}
	return nil
}

// signAction builds a notification button, signing its payload when an
// ActionSigner is configured.
func (b *base) signAction(label, data string) domain.Action {
	if b.actions != nil {
		data = b.actions.Sign(data)
	}
	return domain.Action{Label: label, Data: data}
}

func checkText(field, v string, minLen, maxLen int) error {
	n := utf8.RuneCountInString(v)
	if n < minLen || n > maxLen {
		return fmt.Errorf("%w: %s must be %d-%d characters", domain.ErrValidation, field, minLen, maxLen)
	}
	return nil
}

func checkRange(field string, v, lo, hi decimal.Decimal) error {
	if err := ledger.CheckAmount(v); err != nil {
		return err
	}
	if v.LessThan(lo) || v.GreaterThan(hi) {
		return fmt.Errorf("%w: %s must be between %s and %s", domain.ErrValidation, field, lo.StringFixed(2), hi.StringFixed(2))
	}
	return nil
}

// Outcome names the error kind of err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return "invalid_state"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, domain.ErrAlreadyProcessed):
		return "already_processed"
	}
	return "error"
}

type userMessage struct {
	accountID int64
	event     string
	text      string
}

type adminMessage struct {
	event   string
	text    string
	actions []domain.Action
}

// outbox collects side effects that may only happen after commit.
type outbox struct {
	users   []userMessage
	admins  []adminMessage
	events  []domain.Event
	entries []domain.Transaction
}

func (o *outbox) user(accountID int64, event, format string, args ...any) {
	o.users = append(o.users, userMessage{accountID: accountID, event: event, text: fmt.Sprintf(format, args...)})
}

func (o *outbox) admin(event, text string, actions ...domain.Action) {
	o.admins = append(o.admins, adminMessage{event: event, text: text, actions: actions})
}

func (o *outbox) event(e domain.Event) {
	o.events = append(o.events, e)
}

func (o *outbox) record(entries []domain.Transaction) {
	o.entries = append(o.entries, entries...)
}

type dispatcher struct {
	notifier Notifier
	bus      domain.SignalBus
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// flush delivers ob. Failures are logged and counted only.
func (d *dispatcher) flush(ctx context.Context, ob *outbox) {
	ctx = context.WithoutCancel(ctx)

	for _, e := range ob.entries {
		d.metrics.ObserveEntry(string(e.Kind), e.Amount)
	}

	if d.notifier != nil {
		for _, m := range ob.users {
			err := d.notifier.NotifyUser(ctx, m.accountID, m.event, m.text)
			d.metrics.ObserveNotification("user", err)
			if err != nil {
				d.logger.ErrorContext(ctx, "notify user failed",
					slog.Int64("account_id", m.accountID),
					slog.String("event", m.event),
					slog.String("error", err.Error()),
				)
			}
		}
		for _, m := range ob.admins {
			err := d.notifier.NotifyAdmin(ctx, m.event, m.text, m.actions)
			d.metrics.ObserveNotification("admin", err)
			if err != nil {
				d.logger.ErrorContext(ctx, "notify admin failed",
					slog.String("event", m.event),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if d.bus != nil {
		for _, e := range ob.events {
			payload, err := json.Marshal(e)
			if err == nil {
				err = d.bus.Publish(ctx, e.Channel(), payload)
			}
			if err != nil {
				d.metrics.ObservePublishFailure()
				d.logger.ErrorContext(ctx, "publish event failed",
					slog.String("type", e.Type),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
