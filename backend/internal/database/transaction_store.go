package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/apperrors"
	"github.com/user/papertrade/backend/internal/models"
)

// AppendTransaction inserts a ledger row within the account transaction.
// Note: balance checks happen *before* calling it, inside the same InTx.
func (t *pgLedgerTx) AppendTransaction(ctx context.Context, symbol string, shares int64, price decimal.Decimal, at time.Time) (*models.Transaction, error) {
	rec := &models.Transaction{
		UserID:     t.userID,
		Symbol:     symbol,
		Shares:     shares,
		Price:      price,
		ExecutedAt: at.UTC(),
	}
	query := `INSERT INTO transactions (user_id, symbol, shares, share_price, executed_at)
			  VALUES ($1, $2, $3, $4, $5)
			  RETURNING id`

	if err := t.tx.QueryRow(ctx, query, rec.UserID, rec.Symbol, rec.Shares, rec.Price, rec.ExecutedAt).Scan(&rec.ID); err != nil {
		return nil, apperrors.Storage(err, fmt.Sprintf("append transaction for user %s", t.userID))
	}
	return rec, nil
}

func (t *pgLedgerTx) SharesHeld(ctx context.Context, symbol string) (int64, error) {
	return sharesHeldPg(ctx, t.tx, t.userID, symbol)
}

// SharesHeld returns the net share count for (user, symbol).
func (s *PostgresStore) SharesHeld(ctx context.Context, userID uuid.UUID, symbol string) (int64, error) {
	return sharesHeldPg(ctx, s.querier(nil), userID, symbol)
}

func sharesHeldPg(ctx context.Context, q PgxQuerier, userID uuid.UUID, symbol string) (int64, error) {
	var held int64
	query := `SELECT COALESCE(SUM(shares), 0)::bigint FROM transactions WHERE user_id = $1 AND symbol = $2`
	if err := q.QueryRow(ctx, query, userID, symbol).Scan(&held); err != nil {
		return 0, apperrors.Storage(err, fmt.Sprintf("shares held for user %s symbol %s", userID, symbol))
	}
	return held, nil
}

// PositionsForUser aggregates the ledger by symbol.
func (s *PostgresStore) PositionsForUser(ctx context.Context, userID uuid.UUID) ([]models.Holding, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}
	return positionsPg(ctx, s.pool, userID)
}

// Snapshot reads cash and positions under one REPEATABLE READ snapshot.
func (s *PostgresStore) Snapshot(ctx context.Context, userID uuid.UUID) (decimal.Decimal, []models.Holding, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return decimal.Zero, nil, apperrors.Storage(err, "begin snapshot")
	}
	defer tx.Rollback(ctx)

	cash, err := getBalancePg(ctx, tx, userID, false)
	if err != nil {
		return decimal.Zero, nil, err
	}
	holdings, err := positionsPg(ctx, tx, userID)
	if err != nil {
		return decimal.Zero, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, nil, apperrors.Storage(err, "commit snapshot")
	}
	return cash, holdings, nil
}

func positionsPg(ctx context.Context, q PgxQuerier, userID uuid.UUID) ([]models.Holding, error) {
	holdings := make([]models.Holding, 0)
	query := `SELECT symbol, SUM(shares)::bigint, SUM(shares * share_price)::text
			  FROM transactions
			  WHERE user_id = $1
			  GROUP BY symbol
			  ORDER BY symbol`

	rows, err := q.Query(ctx, query, userID)
	if err != nil {
		return nil, apperrors.Storage(err, fmt.Sprintf("query positions for user %s", userID))
	}
	defer rows.Close()

	for rows.Next() {
		var h models.Holding
		var cost string
		if err := rows.Scan(&h.Symbol, &h.Shares, &cost); err != nil {
			return nil, apperrors.Storage(err, fmt.Sprintf("scan position row for user %s", userID))
		}
		if h.CostBasis, err = decimal.NewFromString(cost); err != nil {
			return nil, apperrors.Storage(err, "parse cost basis")
		}
		holdings = append(holdings, h)
	}
	if rows.Err() != nil {
		return nil, apperrors.Storage(rows.Err(), fmt.Sprintf("iterate position rows for user %s", userID))
	}
	return holdings, nil
}

// History retrieves every ledger row of the user, oldest first.
func (s *PostgresStore) History(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}

	history := make([]models.Transaction, 0)
	query := `SELECT id, user_id, symbol, shares, share_price::text, executed_at
			  FROM transactions
			  WHERE user_id = $1
			  ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, apperrors.Storage(err, fmt.Sprintf("query history for user %s", userID))
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanTransactionPg(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	if rows.Err() != nil {
		return nil, apperrors.Storage(rows.Err(), fmt.Sprintf("iterate history rows for user %s", userID))
	}
	return history, nil
}

func scanTransactionPg(rows pgx.Rows) (models.Transaction, error) {
	var rec models.Transaction
	var price string
	if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Symbol, &rec.Shares, &price, &rec.ExecutedAt); err != nil {
		return rec, apperrors.Storage(err, "scan transaction row")
	}
	var err error
	if rec.Price, err = decimal.NewFromString(price); err != nil {
		return rec, apperrors.Storage(err, "parse share price")
	}
	return rec, nil
}

func (s *PostgresStore) ensureUser(ctx context.Context, userID uuid.UUID) error {
	_, err := getBalancePg(ctx, s.pool, userID, false)
	return err
}
