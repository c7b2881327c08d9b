package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowbot/internal/domain"
)

func TestDetectCrypto(t *testing.T) {
	cases := map[string]domain.CryptoKind{
		"bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq": domain.CryptoBTC,
		"1BoatSLRHtKNngkdXEeobR76b53LETtpyT":         domain.CryptoBTC,
		"3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy":         domain.CryptoBTC,
		"ltc1qg82v3gsd5ez7d4g9uz9x6e0kz6d3eqk3mn8m0": domain.CryptoLTC,
		"LVg2kJoFNg45Nbpy53h7Fe1wKyeXVRhMH9":         domain.CryptoLTC,
		"MQMcJhpWHYVeQArcZR3sBgyPZxxRtnH441":         domain.CryptoLTC,
		"TQn9Y2khEsLJW1ChVWFMSMeRDow5KcbLSE":         domain.CryptoUSDT,
		"0x52908400098527886E0F7030069857D2E4169EE7": domain.CryptoUSDT,
		"zzzz-not-an-address-at-all":                 domain.CryptoUnknown,
	}
	for addr, want := range cases {
		assert.Equal(t, want, DetectCrypto(addr), addr)
	}
}

func TestValidateAddress(t *testing.T) {
	addr, kind, err := ValidateAddress("  0x52908400098527886E0F7030069857D2E4169EE7 ", DefaultMinAddressLen, DefaultMaxAddressLen)
	require.NoError(t, err)
	assert.Equal(t, domain.CryptoUSDT, kind)
	assert.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", addr)

	_, _, err = ValidateAddress("1short", DefaultMinAddressLen, DefaultMaxAddressLen)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = ValidateAddress(strings.Repeat("1", 101), DefaultMinAddressLen, DefaultMaxAddressLen)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = ValidateAddress("0xZZ908400098527886E0F7030069857D2E4169EE7", DefaultMinAddressLen, DefaultMaxAddressLen)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = ValidateAddress("qqqqqqqqqqqqqqqqqqqqqqqqqq", DefaultMinAddressLen, DefaultMaxAddressLen)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDepositKey(t *testing.T) {
	a := DepositKey(7, decimal.RequireFromString("50"), domain.CryptoBTC)
	b := DepositKey(7, decimal.RequireFromString("50.00"), domain.CryptoBTC)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "dep_"))
	assert.Len(t, a, len("dep_")+64)

	assert.NotEqual(t, a, DepositKey(8, decimal.RequireFromString("50"), domain.CryptoBTC))
	assert.NotEqual(t, a, DepositKey(7, decimal.RequireFromString("50.01"), domain.CryptoBTC))
	assert.NotEqual(t, a, DepositKey(7, decimal.RequireFromString("50"), domain.CryptoLTC))
}

func TestActionSigner(t *testing.T) {
	s := &ActionSigner{Secret: "s3cret-value"}
	signed := s.Sign("withdrawal:confirm:WD123456")
	assert.LessOrEqual(t, len(signed), 64)

	data, err := s.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "withdrawal:confirm:WD123456", data)

	_, err = s.Verify("withdrawal:confirm:WD654321" + signed[strings.LastIndexByte(signed, '.'):])
	assert.ErrorIs(t, err, ErrBadSignature)

	_, err = (&ActionSigner{Secret: "other"}).Verify(signed)
	assert.ErrorIs(t, err, ErrBadSignature)

	_, err = s.Verify("nodot")
	assert.ErrorIs(t, err, ErrBadSignature)

	assert.NotContains(t, s.String(), "s3cret-value")
}

func TestSealAndLoadSecret(t *testing.T) {
	blob, err := SealSecret("jwt-signing-key", "pw")
	require.NoError(t, err)

	got, err := OpenSecret(blob, "pw")
	require.NoError(t, err)
	assert.Equal(t, "jwt-signing-key", got)

	_, err = OpenSecret(blob, "wrong")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadSecret(SecretConfig{SealedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "jwt-signing-key", got)

	got, err = LoadSecret(SecretConfig{Raw: "raw", SealedPath: path})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	_, err = LoadSecret(SecretConfig{})
	assert.Error(t, err)
}
