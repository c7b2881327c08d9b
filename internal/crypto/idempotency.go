package crypto

import (
	"encoding/hex"
	"strconv"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// DepositKey derives the idempotency key of a deposit attestation from the
// account, the amount at two decimals and the asset. Equal claims always map
// to the same key.
func DepositKey(accountID int64, amount decimal.Decimal, kind domain.CryptoKind) string {
	msg := strconv.FormatInt(accountID, 10) + "|" + amount.StringFixed(2) + "|" + string(kind)
	sum := blake2b.Sum256([]byte(msg))
	return "dep_" + hex.EncodeToString(sum[:])
}
