// Package notify delivers escrow notifications. Users are messaged directly
// in their Telegram chat; admin notifications go to the admin chat, with
// action buttons, and are mirrored to every other configured sender.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// Message is one notification. Actions render as buttons where the channel
// supports them.
type Message struct {
	Title   string
	Text    string
	Actions []domain.Action
}

// Sender is a broadcast channel such as the admin chat or a Discord webhook.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// DirectSender messages a single user.
type DirectSender interface {
	SendTo(ctx context.Context, chatID int64, msg Message) error
}

// Notifier implements the escrow services' notification port. Admin events
// are filtered by the configured event list unless they carry actions;
// user notifications are never filtered.
type Notifier struct {
	direct  DirectSender
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. direct may be nil, in which case user
// notifications are dropped with a debug log. An empty events list allows
// every admin event.
func NewNotifier(direct DirectSender, senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		direct:  direct,
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyUser messages the account's own chat. Telegram chat ids equal
// account ids for private chats.
func (n *Notifier) NotifyUser(ctx context.Context, accountID int64, event, message string) error {
	if n.direct == nil {
		n.logger.DebugContext(ctx, "no direct sender, user notification dropped",
			slog.Int64("account_id", accountID),
			slog.String("event", event),
		)
		return nil
	}
	msg := Message{Title: Title(event), Text: message}
	if err := n.direct.SendTo(ctx, accountID, msg); err != nil {
		return fmt.Errorf("notify: user %s: %w", strconv.FormatInt(accountID, 10), err)
	}
	return nil
}

// NotifyAdmin sends to every admin sender.
func (n *Notifier) NotifyAdmin(ctx context.Context, event, message string, actions []domain.Action) error {
	if len(actions) == 0 && len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, Message{Title: Title(event), Text: message, Actions: actions})
}

// dispatch sends to all senders. One failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

var titles = map[string]string{
	domain.EventDealCreated:         "New deal",
	domain.EventDealFunded:          "Deal funded",
	domain.EventDealDeclined:        "Deal declined",
	domain.EventDealDelivered:       "Marked as delivered",
	domain.EventDealCompleted:       "Deal completed",
	domain.EventDealDisputed:        "Dispute opened",
	domain.EventDealResolved:        "Dispute resolved",
	domain.EventWithdrawalRequested: "Withdrawal requested",
	domain.EventWithdrawalConfirmed: "Withdrawal sent",
	domain.EventWithdrawalRejected:  "Withdrawal rejected",
	domain.EventDepositSubmitted:    "Deposit submitted",
	domain.EventDepositApproved:     "Deposit approved",
	domain.EventDepositRejected:     "Deposit rejected",
	domain.EventAccountTopUpNeeded:  "Top-up needed",
}

// Title returns the display title for an event type.
func Title(event string) string {
	if t, ok := titles[event]; ok {
		return t
	}
	return event
}
