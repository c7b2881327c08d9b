package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CryptoKind names the asset a deposit or payout moves over.
type CryptoKind string

const (
	CryptoBTC     CryptoKind = "BTC"
	CryptoLTC     CryptoKind = "LTC"
	CryptoUSDT    CryptoKind = "USDT"
	CryptoUnknown CryptoKind = "UNKNOWN"
)

// ParseDepositKind accepts the assets users may deposit.
func ParseDepositKind(v string) (CryptoKind, error) {
	switch k := CryptoKind(strings.ToUpper(strings.TrimSpace(v))); k {
	case CryptoBTC, CryptoLTC, CryptoUSDT:
		return k, nil
	}
	return "", fmt.Errorf("%w: unsupported crypto %q", ErrValidation, v)
}

// DepositAttestation is an admin-confirmed manual deposit. Key is derived
// from (account, amount, kind) and guards against crediting the same claim
// twice.
type DepositAttestation struct {
	AccountID int64           `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Crypto    CryptoKind      `json:"crypto"`
	Key       string          `json:"key"`
}
