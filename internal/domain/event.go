package domain

import (
	"strings"
	"time"
)

// Action is a button attached to an admin notification. Data is the opaque
// callback payload the messaging layer routes back to the API.
type Action struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Event describes a committed escrow change. Events are published on the
// signal bus after the owning unit of work commits.
type Event struct {
	Type         string         `json:"type"`
	DealID       string         `json:"deal_id,omitempty"`
	WithdrawalID string         `json:"withdrawal_id,omitempty"`
	AccountIDs   []int64        `json:"account_ids,omitempty"`
	Detail       map[string]any `json:"detail,omitempty"`
	At           time.Time      `json:"at"`
}

// Event types.
const (
	EventDealCreated         = "deal.created"
	EventDealFunded          = "deal.funded"
	EventDealDeclined        = "deal.declined"
	EventDealDelivered       = "deal.delivered"
	EventDealCompleted       = "deal.completed"
	EventDealDisputed        = "deal.disputed"
	EventDealResolved        = "deal.resolved"
	EventWithdrawalRequested = "withdrawal.requested"
	EventWithdrawalConfirmed = "withdrawal.confirmed"
	EventWithdrawalRejected  = "withdrawal.rejected"
	EventDepositSubmitted    = "deposit.submitted"
	EventDepositApproved     = "deposit.approved"
	EventDepositRejected     = "deposit.rejected"
	EventAccountTopUpNeeded  = "account.topup_needed"
)

// Signal bus channels.
const (
	ChannelDeals       = "escrow:deals"
	ChannelWithdrawals = "escrow:withdrawals"
	ChannelDeposits    = "escrow:deposits"
	ChannelAccounts    = "escrow:accounts"
)

// EventChannels lists every channel events are published on.
var EventChannels = []string{ChannelDeals, ChannelWithdrawals, ChannelDeposits, ChannelAccounts}

// Channel returns the signal bus channel an event type is published on.
func (e Event) Channel() string {
	switch {
	case strings.HasPrefix(e.Type, "deal."):
		return ChannelDeals
	case strings.HasPrefix(e.Type, "withdrawal."):
		return ChannelWithdrawals
	case strings.HasPrefix(e.Type, "deposit."):
		return ChannelDeposits
	}
	return ChannelAccounts
}
