// Package fee computes the platform service fee charged when a deal is funded.
package fee

import "github.com/shopspring/decimal"

// Schedule is a flat fee below Threshold and a proportional fee at or above
// it. Results are rounded to cents.
type Schedule struct {
	Threshold decimal.Decimal
	Flat      decimal.Decimal
	Rate      decimal.Decimal
}

// Default is 5.00 for deals under 100 and 5% otherwise.
func Default() Schedule {
	return Schedule{
		Threshold: decimal.NewFromInt(100),
		Flat:      decimal.RequireFromString("5.00"),
		Rate:      decimal.RequireFromString("0.05"),
	}
}

// Fee returns the platform fee for a deal of the given amount.
func (s Schedule) Fee(amount decimal.Decimal) decimal.Decimal {
	if amount.LessThan(s.Threshold) {
		return s.Flat.Round(2)
	}
	return amount.Mul(s.Rate).Round(2)
}

// TotalRequired is amount plus its fee.
func (s Schedule) TotalRequired(amount decimal.Decimal) decimal.Decimal {
	return amount.Add(s.Fee(amount))
}
