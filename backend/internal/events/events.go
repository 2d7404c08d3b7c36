// Package events carries notifications about executed trades and price moves
// to interested parties after the ledger has committed.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeExecuted is emitted once per committed buy or sell.
type TradeExecuted struct {
	TransactionID int64           `json:"transaction_id"`
	UserID        uuid.UUID       `json:"user_id"`
	Symbol        string          `json:"symbol"`
	Shares        int64           `json:"shares"` // signed, as in the ledger
	Price         decimal.Decimal `json:"price"`
	Total         decimal.Decimal `json:"total"` // cash moved, always positive
	CashAfter     decimal.Decimal `json:"cash_after"`
	ExecutedAt    time.Time       `json:"executed_at"`
}

// PriceUpdate represents a single price update for a symbol.
type PriceUpdate struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Ts     int64           `json:"ts"` // Unix timestamp milliseconds
}

// Publisher delivers trade notifications. Delivery is best effort: the
// trade is already durable when Publish is called.
type Publisher interface {
	PublishTrade(ctx context.Context, ev TradeExecuted) error
}

// Multi fans a trade out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) PublishTrade(ctx context.Context, ev TradeExecuted) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishTrade(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards everything.
type Nop struct{}

func (Nop) PublishTrade(context.Context, TradeExecuted) error { return nil }
