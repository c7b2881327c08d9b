package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalStatus tracks a payout request. Completed and Rejected are final.
type WithdrawalStatus uint8

const (
	WithdrawalStatusPending WithdrawalStatus = iota + 1
	WithdrawalStatusCompleted
	WithdrawalStatusRejected
)

func (s WithdrawalStatus) String() string {
	switch s {
	case WithdrawalStatusPending:
		return "pending"
	case WithdrawalStatusCompleted:
		return "completed"
	case WithdrawalStatusRejected:
		return "rejected"
	}
	return fmt.Sprintf("WithdrawalStatus(%d)", uint8(s))
}

// Terminal reports whether the request has been processed.
func (s WithdrawalStatus) Terminal() bool {
	switch s {
	case WithdrawalStatusCompleted, WithdrawalStatusRejected:
		return true
	case WithdrawalStatusPending:
		return false
	}
	return false
}

// ParseWithdrawalStatus is the inverse of WithdrawalStatus.String.
func ParseWithdrawalStatus(v string) (WithdrawalStatus, error) {
	switch v {
	case "pending":
		return WithdrawalStatusPending, nil
	case "completed":
		return WithdrawalStatusCompleted, nil
	case "rejected":
		return WithdrawalStatusRejected, nil
	}
	return 0, fmt.Errorf("%w: unknown withdrawal status %q", ErrValidation, v)
}

func (s WithdrawalStatus) MarshalText() ([]byte, error) {
	if s < WithdrawalStatusPending || s > WithdrawalStatusRejected {
		return nil, fmt.Errorf("invalid withdrawal status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *WithdrawalStatus) UnmarshalText(text []byte) error {
	v, err := ParseWithdrawalStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// WithdrawalRequest reserves an account's funds until an admin confirms the
// off-platform payout or rejects it.
type WithdrawalRequest struct {
	ID          string           `json:"id"`
	AccountID   int64            `json:"account_id"`
	Amount      decimal.Decimal  `json:"amount"`
	Address     string           `json:"address"`
	Crypto      CryptoKind       `json:"crypto"`
	Status      WithdrawalStatus `json:"status"`
	ProcessedBy int64            `json:"processed_by,omitempty"`
	AdminNotes  string           `json:"admin_notes,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
}
