package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	upperAlnum = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	digits     = "0123456789"

	maxIDAttempts = 8
)

// NewDealID returns 8 random uppercase alphanumeric characters.
func NewDealID() (string, error) {
	return randomString(upperAlnum, 8)
}

// NewTransactionID returns 12 random uppercase alphanumeric characters.
func NewTransactionID() (string, error) {
	return randomString(upperAlnum, 12)
}

// NewWithdrawalID returns "WD" followed by 6 random digits.
func NewWithdrawalID() (string, error) {
	s, err := randomString(digits, 6)
	if err != nil {
		return "", err
	}
	return "WD" + s, nil
}

// Unique draws ids from gen until exists reports one is free, giving up
// after maxIDAttempts.
func Unique(ctx context.Context, gen func() (string, error), exists func(context.Context, string) (bool, error)) (string, error) {
	for range maxIDAttempts {
		id, err := gen()
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("ledger: check id %s: %w", id, err)
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("ledger: no free id after %d attempts", maxIDAttempts)
}

func randomString(alphabet string, n int) (string, error) {
	size := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, n)
	for i := range buf {
		v, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("ledger: random id: %w", err)
		}
		buf[i] = alphabet[v.Int64()]
	}
	return string(buf), nil
}
