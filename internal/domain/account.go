package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a participant's wallet. Balance is spendable; Escrowed is held
// against open deals and pending withdrawals. Both are never negative.
type Account struct {
	ID        int64           `json:"id"`
	Username  string          `json:"username"`
	FirstName string          `json:"first_name"`
	Services  string          `json:"services,omitempty"`
	IsAdmin   bool            `json:"is_admin"`
	Balance   decimal.Decimal `json:"balance"`
	Escrowed  decimal.Decimal `json:"escrowed"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Total returns balance plus escrowed funds.
func (a Account) Total() decimal.Decimal {
	return a.Balance.Add(a.Escrowed)
}

// SellerRank is one row of the top sellers board.
type SellerRank struct {
	AccountID      int64  `json:"account_id"`
	Username       string `json:"username"`
	FirstName      string `json:"first_name"`
	Services       string `json:"services,omitempty"`
	CompletedSales int64  `json:"completed_sales"`
}
