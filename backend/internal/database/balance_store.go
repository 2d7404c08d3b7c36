package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/apperrors"
)

// GetBalance reads the committed cash balance of a user.
func (s *PostgresStore) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return getBalancePg(ctx, s.querier(nil), userID, false)
}

func getBalancePg(ctx context.Context, q PgxQuerier, userID uuid.UUID, forUpdate bool) (decimal.Decimal, error) {
	query := `SELECT cash::text FROM accounts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE` // Lock row within transaction
	}

	var cash string
	if err := q.QueryRow(ctx, query, userID).Scan(&cash); err != nil {
		return decimal.Zero, pgErr(err, fmt.Sprintf("get balance for user %s", userID))
	}
	balance, err := decimal.NewFromString(cash)
	if err != nil {
		return decimal.Zero, apperrors.Storage(err, "parse balance")
	}
	return balance, nil
}

// InTx locks the account row with SELECT ... FOR UPDATE and runs fn inside
// the transaction. Concurrent InTx calls for the same user queue on the lock,
// so none of them can read a balance another is about to overwrite.
func (s *PostgresStore) InTx(ctx context.Context, userID uuid.UUID, fn func(tx LedgerTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.Storage(err, "begin transaction")
	}
	// Ensure rollback happens if anything goes wrong before commit
	defer tx.Rollback(ctx)

	if _, err := getBalancePg(ctx, tx, userID, true); err != nil {
		return err
	}

	if err := fn(&pgLedgerTx{tx: tx, userID: userID, store: s}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Storage(err, "commit transaction")
	}
	return nil
}

type pgLedgerTx struct {
	tx     pgx.Tx
	userID uuid.UUID
	store  *PostgresStore
}

func (t *pgLedgerTx) UserID() uuid.UUID { return t.userID }

func (t *pgLedgerTx) Balance(ctx context.Context) (decimal.Decimal, error) {
	return getBalancePg(ctx, t.tx, t.userID, false)
}

func (t *pgLedgerTx) SetBalance(ctx context.Context, newBalance decimal.Decimal) error {
	cmdTag, err := t.tx.Exec(ctx, `UPDATE accounts SET cash = $1 WHERE id = $2`, newBalance, t.userID)
	if err != nil {
		return pgErr(err, fmt.Sprintf("set balance for user %s", t.userID))
	}
	// Check if exactly one row was affected.
	if cmdTag.RowsAffected() != 1 {
		return apperrors.ErrNotFound
	}
	return nil
}
