package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents a user account
type User struct {
	ID        uuid.UUID       `json:"id"`
	Username  string          `json:"username"`
	Password  string          `json:"-"` // Store hash, exclude from JSON responses
	Cash      decimal.Decimal `json:"cash"`
	CreatedAt time.Time       `json:"created_at"`
}

// Transaction is one immutable ledger row. Shares is signed: positive for
// acquired shares, negative for disposed ones. Price is the positive
// per-share price quoted at execution.
type Transaction struct {
	ID         int64           `json:"id"`
	UserID     uuid.UUID       `json:"user_id"`
	Symbol     string          `json:"symbol"` // e.g., "AAPL"
	Shares     int64           `json:"shares"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// Side returns "buy" or "sell" from the sign of Shares.
func (t Transaction) Side() string {
	if t.Shares < 0 {
		return "sell"
	}
	return "buy"
}

// Total is the signed cash value of the row (shares × price).
func (t Transaction) Total() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Shares))
}

// Holding is the ledger aggregate for one (user, symbol): the sum of share
// counts and the sum of shares × price over every row.
type Holding struct {
	Symbol    string          `json:"symbol"`
	Shares    int64           `json:"shares"`
	CostBasis decimal.Decimal `json:"cost_basis"`
}

// Quote is a price + display name for a ticker at a point in time.
type Quote struct {
	Symbol string          `json:"symbol"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
}

// Position is a held symbol valued at the current market price.
type Position struct {
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Shares      int64           `json:"shares"`
	MarketPrice decimal.Decimal `json:"market_price"`
	MarketValue decimal.Decimal `json:"market_value"`
	CostBasis   decimal.Decimal `json:"cost_basis"`
}

// Valuation is the portfolio view of a user: open positions, cash and net worth.
type Valuation struct {
	Positions []Position      `json:"positions"`
	Cash      decimal.Decimal `json:"cash"`
	NetWorth  decimal.Decimal `json:"net_worth"`
}
