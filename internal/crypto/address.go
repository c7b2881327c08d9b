package crypto

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

// Address length bounds applied before prefix detection.
const (
	DefaultMinAddressLen = 20
	DefaultMaxAddressLen = 100
)

// DetectCrypto guesses the asset from a payout address prefix. It returns
// domain.CryptoUnknown when no prefix matches.
//
//   - bc1, 1, 3    BTC
//   - ltc1, L, M   LTC
//   - T            USDT (TRON)
//   - 0x           USDT (Ethereum)
func DetectCrypto(address string) domain.CryptoKind {
	switch {
	case strings.HasPrefix(address, "bc1"),
		strings.HasPrefix(address, "1"),
		strings.HasPrefix(address, "3"):
		return domain.CryptoBTC
	case strings.HasPrefix(address, "ltc1"),
		strings.HasPrefix(address, "L"),
		strings.HasPrefix(address, "M"):
		return domain.CryptoLTC
	case strings.HasPrefix(address, "T"):
		return domain.CryptoUSDT
	case strings.HasPrefix(address, "0x"):
		return domain.CryptoUSDT
	}
	return domain.CryptoUnknown
}

// ValidateAddress trims address, checks its length against [minLen, maxLen]
// and returns it together with the detected asset. 0x addresses must be
// well-formed hex account addresses.
func ValidateAddress(address string, minLen, maxLen int) (string, domain.CryptoKind, error) {
	address = strings.TrimSpace(address)
	if n := len(address); n < minLen || n > maxLen {
		return "", "", fmt.Errorf("%w: address length must be between %d and %d", domain.ErrValidation, minLen, maxLen)
	}
	kind := DetectCrypto(address)
	if kind == domain.CryptoUnknown {
		return "", "", fmt.Errorf("%w: unrecognised address format", domain.ErrValidation)
	}
	if strings.HasPrefix(address, "0x") && !common.IsHexAddress(address) {
		return "", "", fmt.Errorf("%w: malformed 0x address", domain.ErrValidation)
	}
	return address, kind, nil
}
