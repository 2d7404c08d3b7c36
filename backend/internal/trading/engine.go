// Package trading executes account operations against the ledger store.
//
// The Engine holds no per-user state: every balance and share count is read
// from the store, and every mutation runs inside one store transaction that
// holds the account lock, so concurrent requests for one user serialize.
package trading

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/database"
	"github.com/user/papertrade/backend/internal/events"
	"github.com/user/papertrade/backend/internal/models"
	"github.com/user/papertrade/backend/internal/quote"
)

// DefaultStartingCash is credited to every new account unless configured otherwise.
var DefaultStartingCash = decimal.NewFromInt(10000)

const publishTimeout = 5 * time.Second

// PasswordHasher is the password capability used by Register and Authenticate.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Check(password, hash string) (bool, error)
}

type Config struct {
	StartingCash decimal.Decimal
	// Now stamps ledger rows. Defaults to time.Now in UTC.
	Now func() time.Time
}

type Engine struct {
	store        database.Store
	quotes       quote.Provider
	hasher       PasswordHasher
	events       events.Publisher
	log          zerolog.Logger
	startingCash decimal.Decimal
	now          func() time.Time
}

func NewEngine(store database.Store, quotes quote.Provider, hasher PasswordHasher, publisher events.Publisher, cfg Config, log zerolog.Logger) *Engine {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if cfg.StartingCash.IsZero() {
		cfg.StartingCash = DefaultStartingCash
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:        store,
		quotes:       quotes,
		hasher:       hasher,
		events:       publisher,
		log:          log.With().Str("component", "trading").Logger(),
		startingCash: models.RoundCash(cfg.StartingCash),
		now:          cfg.Now,
	}
}

// Execution is the result of a committed buy or sell.
type Execution struct {
	Transaction models.Transaction `json:"transaction"`
	Name        string             `json:"name"`
	// Total is the cash that moved, rounded to cents and always positive.
	Total     decimal.Decimal `json:"total"`
	CashAfter decimal.Decimal `json:"cash_after"`
}

func (e *Engine) lookup(ctx context.Context, symbol string) (models.Quote, error) {
	return quote.Resolve(ctx, e.quotes, symbol)
}

// publish delivers a committed trade. The ledger is already durable, so a
// failed delivery is logged and otherwise ignored.
func (e *Engine) publish(ctx context.Context, exec *Execution) {
	tx := exec.Transaction
	ev := events.TradeExecuted{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Symbol:        tx.Symbol,
		Shares:        tx.Shares,
		Price:         tx.Price,
		Total:         exec.Total,
		CashAfter:     exec.CashAfter,
		ExecutedAt:    tx.ExecutedAt,
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.events.PublishTrade(ctx, ev); err != nil {
		e.log.Warn().Err(err).Int64("transaction_id", tx.ID).Msg("Failed to publish trade event")
	}
}
