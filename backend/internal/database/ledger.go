// Package database is the ledger store: user accounts with a cash balance and
// the append-only log of signed share transactions.
//
// Two implementations share one contract: PostgresStore (pgx) and SQLiteStore
// (modernc.org/sqlite). Errors are classified with apperrors: NotFound for a
// missing account, DuplicateUsername for a username conflict and
// StorageUnavailable for anything the driver reports.
package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/models"
)

// Store is the durable ledger. Reads outside InTx see only committed data.
type Store interface {
	// CreateUser inserts an account. Uniqueness of username is enforced by
	// the database, so concurrent registrations cannot both succeed.
	CreateUser(ctx context.Context, username, passwordHash string, startingCash decimal.Decimal) (uuid.UUID, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error)

	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	// SharesHeld is the net share count of symbol for the user, 0 without history.
	SharesHeld(ctx context.Context, userID uuid.UUID, symbol string) (int64, error)
	// PositionsForUser groups the ledger by symbol, ordered by symbol.
	// Symbols whose net share count is zero are included.
	PositionsForUser(ctx context.Context, userID uuid.UUID) ([]models.Holding, error)
	// Snapshot reads the balance and PositionsForUser in one read
	// transaction, so a concurrent trade is seen entirely or not at all.
	Snapshot(ctx context.Context, userID uuid.UUID) (decimal.Decimal, []models.Holding, error)
	// History returns every ledger row of the user, oldest first.
	History(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error)

	// InTx runs fn inside one database transaction holding the write lock on
	// the user's account row. fn's writes are committed together when it
	// returns nil and discarded otherwise.
	InTx(ctx context.Context, userID uuid.UUID, fn func(tx LedgerTx) error) error

	Ping(ctx context.Context) error
	Close()
}

// LedgerTx is the view of one account inside InTx.
type LedgerTx interface {
	UserID() uuid.UUID
	Balance(ctx context.Context) (decimal.Decimal, error)
	SharesHeld(ctx context.Context, symbol string) (int64, error)
	// SetBalance overwrites the cash balance.
	SetBalance(ctx context.Context, newBalance decimal.Decimal) error
	// AppendTransaction inserts a ledger row. Business rules are the caller's
	// job; only storage failures are reported.
	AppendTransaction(ctx context.Context, symbol string, shares int64, price decimal.Decimal, at time.Time) (*models.Transaction, error)
}

// SetBalance overwrites a user's balance in its own transaction.
func SetBalance(ctx context.Context, s Store, userID uuid.UUID, newBalance decimal.Decimal) error {
	return s.InTx(ctx, userID, func(tx LedgerTx) error {
		return tx.SetBalance(ctx, newBalance)
	})
}

// AppendTransaction inserts one ledger row in its own transaction.
func AppendTransaction(ctx context.Context, s Store, userID uuid.UUID, symbol string, shares int64, price decimal.Decimal, at time.Time) (*models.Transaction, error) {
	var rec *models.Transaction
	err := s.InTx(ctx, userID, func(tx LedgerTx) error {
		var err error
		rec, err = tx.AppendTransaction(ctx, symbol, shares, price, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// aggregateHoldings folds ledger rows sorted by symbol into holdings.
func aggregateHoldings(rows []models.Transaction) []models.Holding {
	holdings := make([]models.Holding, 0)
	for _, r := range rows {
		n := len(holdings)
		if n == 0 || holdings[n-1].Symbol != r.Symbol {
			holdings = append(holdings, models.Holding{Symbol: r.Symbol, CostBasis: decimal.Zero})
			n++
		}
		holdings[n-1].Shares += r.Shares
		holdings[n-1].CostBasis = holdings[n-1].CostBasis.Add(r.Total())
	}
	return holdings
}
