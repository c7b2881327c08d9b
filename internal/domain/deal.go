package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DealStatus tracks the deal lifecycle. The zero value is not a valid status
// so an unset field never passes as Pending.
type DealStatus uint8

const (
	DealStatusPending DealStatus = iota + 1
	DealStatusFunded
	DealStatusDelivered
	DealStatusCompleted
	DealStatusDisputed
	DealStatusCancelled
)

var dealStatusNames = map[DealStatus]string{
	DealStatusPending:   "pending",
	DealStatusFunded:    "funded",
	DealStatusDelivered: "delivered",
	DealStatusCompleted: "completed",
	DealStatusDisputed:  "disputed",
	DealStatusCancelled: "cancelled",
}

func (s DealStatus) String() string {
	if n, ok := dealStatusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("DealStatus(%d)", uint8(s))
}

// Terminal reports whether no further transition is allowed.
func (s DealStatus) Terminal() bool {
	return s == DealStatusCompleted || s == DealStatusCancelled
}

// ParseDealStatus is the inverse of DealStatus.String.
func ParseDealStatus(v string) (DealStatus, error) {
	for s, n := range dealStatusNames {
		if n == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown deal status %q", ErrValidation, v)
}

func (s DealStatus) MarshalText() ([]byte, error) {
	if _, ok := dealStatusNames[s]; !ok {
		return nil, fmt.Errorf("invalid deal status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *DealStatus) UnmarshalText(text []byte) error {
	v, err := ParseDealStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// DealEvent is an input to the deal state machine.
type DealEvent uint8

const (
	DealEventAccept DealEvent = iota + 1
	DealEventDecline
	DealEventDeliver
	DealEventRelease
	DealEventDispute
	DealEventResolve
)

func (e DealEvent) String() string {
	switch e {
	case DealEventAccept:
		return "accept"
	case DealEventDecline:
		return "decline"
	case DealEventDeliver:
		return "deliver"
	case DealEventRelease:
		return "release"
	case DealEventDispute:
		return "dispute"
	case DealEventResolve:
		return "resolve"
	}
	return fmt.Sprintf("DealEvent(%d)", uint8(e))
}

// Next returns the status reached by applying ev to s. Every status is
// handled explicitly; anything not listed in the transition table is
// ErrInvalidStateTransition.
func (s DealStatus) Next(ev DealEvent) (DealStatus, error) {
	switch s {
	case DealStatusPending:
		switch ev {
		case DealEventAccept:
			return DealStatusFunded, nil
		case DealEventDecline:
			return DealStatusCancelled, nil
		}
	case DealStatusFunded:
		if ev == DealEventDeliver {
			return DealStatusDelivered, nil
		}
	case DealStatusDelivered:
		switch ev {
		case DealEventRelease:
			return DealStatusCompleted, nil
		case DealEventDispute:
			return DealStatusDisputed, nil
		}
	case DealStatusDisputed:
		if ev == DealEventResolve {
			return DealStatusCompleted, nil
		}
	case DealStatusCompleted, DealStatusCancelled:
	default:
		return 0, fmt.Errorf("%w: unknown deal status %d", ErrInvalidStateTransition, uint8(s))
	}
	return 0, fmt.Errorf("%w: cannot %s a %s deal", ErrInvalidStateTransition, ev, s)
}

// Resolution is the payout policy an admin applies to a disputed deal.
type Resolution string

const (
	ResolutionFavorBuyer  Resolution = "favor_buyer"
	ResolutionFavorSeller Resolution = "favor_seller"
	ResolutionSplit       Resolution = "split"
)

// ParseResolution validates a policy name.
func ParseResolution(v string) (Resolution, error) {
	switch r := Resolution(v); r {
	case ResolutionFavorBuyer, ResolutionFavorSeller, ResolutionSplit:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown resolution %q", ErrValidation, v)
}

// Deal is a buyer/seller agreement whose price is held in escrow between
// funding and completion.
type Deal struct {
	ID            string          `json:"id"`
	BuyerID       int64           `json:"buyer_id"`
	SellerID      int64           `json:"seller_id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	Status        DealStatus      `json:"status"`
	DisputeReason string          `json:"dispute_reason,omitempty"`
	DisputedBy    int64           `json:"disputed_by,omitempty"`
	Resolution    Resolution      `json:"resolution,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	FundedAt      *time.Time      `json:"funded_at,omitempty"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
	DisputedAt    *time.Time      `json:"disputed_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
}

// IsParty reports whether accountID is the buyer or the seller.
func (d Deal) IsParty(accountID int64) bool {
	return d.BuyerID == accountID || d.SellerID == accountID
}

// TotalRequired is the amount the buyer must hold to fund the deal.
func (d Deal) TotalRequired() decimal.Decimal {
	return d.Amount.Add(d.Fee)
}

// Stamp moves the deal to status and records the transition time.
func (d *Deal) Stamp(status DealStatus, at time.Time) {
	d.Status = status
	t := at
	switch status {
	case DealStatusFunded:
		d.FundedAt = &t
	case DealStatusDelivered:
		d.DeliveredAt = &t
	case DealStatusDisputed:
		d.DisputedAt = &t
	case DealStatusCompleted:
		d.CompletedAt = &t
	case DealStatusCancelled:
		d.CancelledAt = &t
	}
}
