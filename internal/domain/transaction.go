package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind classifies a ledger entry.
type TransactionKind string

const (
	TxEscrowFund     TransactionKind = "escrow_fund"
	TxEscrowRelease  TransactionKind = "escrow_release"
	TxDeposit        TransactionKind = "deposit"
	TxWithdrawal     TransactionKind = "withdrawal"
	TxWithdrawalHold TransactionKind = "withdrawal_hold"
	TxRefund         TransactionKind = "refund"
	TxFee            TransactionKind = "fee"
)

// ParseTransactionKind validates a kind name.
func ParseTransactionKind(v string) (TransactionKind, error) {
	switch k := TransactionKind(v); k {
	case TxEscrowFund, TxEscrowRelease, TxDeposit, TxWithdrawal, TxWithdrawalHold, TxRefund, TxFee:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown transaction kind %q", ErrValidation, v)
}

// TransactionStatus is recorded for audit; the ledger only ever appends
// completed entries.
type TransactionStatus string

const TxStatusCompleted TransactionStatus = "completed"

// Transaction is an immutable ledger entry. Amount is the signed change to
// the account's spendable position from the holder's point of view;
// BalanceDelta and EscrowDelta record the exact column movements.
type Transaction struct {
	ID             string            `json:"id"`
	AccountID      int64             `json:"account_id"`
	DealID         string            `json:"deal_id,omitempty"`
	WithdrawalID   string            `json:"withdrawal_id,omitempty"`
	Kind           TransactionKind   `json:"kind"`
	Status         TransactionStatus `json:"status"`
	Amount         decimal.Decimal   `json:"amount"`
	BalanceDelta   decimal.Decimal   `json:"balance_delta"`
	EscrowDelta    decimal.Decimal   `json:"escrow_delta"`
	Crypto         CryptoKind        `json:"crypto,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Ref ties a ledger entry to the business object that caused it.
type Ref struct {
	DealID         string
	WithdrawalID   string
	Crypto         CryptoKind
	IdempotencyKey string
}
