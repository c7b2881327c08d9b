package fee_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/escrowbot/internal/fee"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestFeeBoundaries(t *testing.T) {
	s := fee.Default()
	tests := []struct {
		amount string
		want   string
	}{
		{"1.00", "5.00"},
		{"50.00", "5.00"},
		{"99.99", "5.00"},
		{"100.00", "5.00"},
		{"100.01", "5.00"},
		{"250.00", "12.50"},
		{"1000.00", "50.00"},
		{"123.45", "6.17"},
	}
	for _, tt := range tests {
		got := s.Fee(d(tt.amount))
		assert.Truef(t, got.Equal(d(tt.want)), "fee(%s) = %s, want %s", tt.amount, got, tt.want)
	}
}

func TestTotalRequired(t *testing.T) {
	s := fee.Default()
	assert.True(t, s.TotalRequired(d("50")).Equal(d("55")))
	assert.True(t, s.TotalRequired(d("1000")).Equal(d("1050")))
}

func TestCustomSchedule(t *testing.T) {
	s := fee.Schedule{Threshold: d("10"), Flat: d("1"), Rate: d("0.1")}
	assert.True(t, s.Fee(d("9.99")).Equal(d("1")))
	assert.True(t, s.Fee(d("10")).Equal(d("1")))
	assert.True(t, s.Fee(d("20")).Equal(d("2")))
}
