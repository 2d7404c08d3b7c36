package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/apperrors"
	"github.com/user/papertrade/backend/internal/models"
)

const timeLayout = time.RFC3339Nano

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string, startingCash decimal.Decimal) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, username, password_hash, cash, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, username, passwordHash, models.RoundCash(startingCash), time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return uuid.Nil, sqliteErr(err, "create user "+username)
	}
	s.log.Debug().Str("user_id", id.String()).Str("username", username).Msg("Created account")
	return id, nil
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, cash, created_at FROM accounts WHERE username = ?`, username)
	return scanUserSQLite(row, "get user by username")
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, cash, created_at FROM accounts WHERE id = ?`, userID)
	return scanUserSQLite(row, "get user by id")
}

func scanUserSQLite(row *sql.Row, msg string) (*models.User, error) {
	user := &models.User{}
	var createdAt string
	if err := row.Scan(&user.ID, &user.Username, &user.Password, &user.Cash, &createdAt); err != nil {
		return nil, sqliteErr(err, msg)
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, apperrors.Storage(err, "parse created_at")
	}
	user.CreatedAt = t
	return user, nil
}

func (s *SQLiteStore) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return getBalanceSQLite(ctx, s.db, userID)
}

func getBalanceSQLite(ctx context.Context, q sqlQuerier, userID uuid.UUID) (decimal.Decimal, error) {
	var cash decimal.Decimal
	if err := q.QueryRowContext(ctx, `SELECT cash FROM accounts WHERE id = ?`, userID).Scan(&cash); err != nil {
		return decimal.Zero, sqliteErr(err, fmt.Sprintf("get balance for user %s", userID))
	}
	return cash, nil
}

func (s *SQLiteStore) SharesHeld(ctx context.Context, userID uuid.UUID, symbol string) (int64, error) {
	return sharesHeldSQLite(ctx, s.db, userID, symbol)
}

func sharesHeldSQLite(ctx context.Context, q sqlQuerier, userID uuid.UUID, symbol string) (int64, error) {
	var held int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(shares), 0) FROM transactions WHERE user_id = ? AND symbol = ?`,
		userID, symbol,
	).Scan(&held)
	if err != nil {
		return 0, sqliteErr(err, fmt.Sprintf("shares held for user %s symbol %s", userID, symbol))
	}
	return held, nil
}

// PositionsForUser sums in Go: SQLite would aggregate the TEXT prices as floats.
func (s *SQLiteStore) PositionsForUser(ctx context.Context, userID uuid.UUID) ([]models.Holding, error) {
	rows, err := transactionsSQLite(ctx, s.db, userID, `ORDER BY symbol, id`)
	if err != nil {
		return nil, err
	}
	return aggregateHoldings(rows), nil
}

// Snapshot reads cash and positions inside one transaction. Transactions
// begin IMMEDIATE, so no writer can commit between the two reads.
func (s *SQLiteStore) Snapshot(ctx context.Context, userID uuid.UUID) (decimal.Decimal, []models.Holding, error) {
	var cash decimal.Decimal
	var holdings []models.Holding
	err := s.withTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		if cash, err = getBalanceSQLite(ctx, tx, userID); err != nil {
			return err
		}
		rows, err := transactionsSQLite(ctx, tx, userID, `ORDER BY symbol, id`)
		if err != nil {
			return err
		}
		holdings = aggregateHoldings(rows)
		return nil
	})
	if err != nil {
		return decimal.Zero, nil, err
	}
	return cash, holdings, nil
}

func (s *SQLiteStore) History(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	return transactionsSQLite(ctx, s.db, userID, `ORDER BY id ASC`)
}

func transactionsSQLite(ctx context.Context, q sqlQuerier, userID uuid.UUID, orderBy string) ([]models.Transaction, error) {
	if _, err := getBalanceSQLite(ctx, q, userID); err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, symbol, shares, share_price, executed_at FROM transactions WHERE user_id = ? `+orderBy,
		userID)
	if err != nil {
		return nil, sqliteErr(err, fmt.Sprintf("query transactions for user %s", userID))
	}
	defer rows.Close()

	result := make([]models.Transaction, 0)
	for rows.Next() {
		var rec models.Transaction
		var executedAt string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Symbol, &rec.Shares, &rec.Price, &executedAt); err != nil {
			return nil, sqliteErr(err, "scan transaction row")
		}
		if rec.ExecutedAt, err = time.Parse(timeLayout, executedAt); err != nil {
			return nil, apperrors.Storage(err, "parse executed_at")
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteErr(err, "iterate transaction rows")
	}
	return result, nil
}

// InTx begins an IMMEDIATE transaction and touches the account row first, so
// the write lock is held before the balance is read and a missing account is
// reported as NotFound.
func (s *SQLiteStore) InTx(ctx context.Context, userID uuid.UUID, fn func(tx LedgerTx) error) error {
	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE accounts SET cash = cash WHERE id = ?`, userID)
		if err != nil {
			return sqliteErr(err, fmt.Sprintf("lock account %s", userID))
		}
		if n, err := res.RowsAffected(); err != nil {
			return sqliteErr(err, "rows affected")
		} else if n != 1 {
			return apperrors.ErrNotFound
		}
		return fn(&sqliteLedgerTx{tx: tx, userID: userID})
	})
}

type sqliteLedgerTx struct {
	tx     *sql.Tx
	userID uuid.UUID
}

func (t *sqliteLedgerTx) UserID() uuid.UUID { return t.userID }

func (t *sqliteLedgerTx) Balance(ctx context.Context) (decimal.Decimal, error) {
	return getBalanceSQLite(ctx, t.tx, t.userID)
}

func (t *sqliteLedgerTx) SharesHeld(ctx context.Context, symbol string) (int64, error) {
	return sharesHeldSQLite(ctx, t.tx, t.userID, symbol)
}

func (t *sqliteLedgerTx) SetBalance(ctx context.Context, newBalance decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE accounts SET cash = ? WHERE id = ?`, models.RoundCash(newBalance), t.userID)
	return sqliteErr(err, fmt.Sprintf("set balance for user %s", t.userID))
}

func (t *sqliteLedgerTx) AppendTransaction(ctx context.Context, symbol string, shares int64, price decimal.Decimal, at time.Time) (*models.Transaction, error) {
	rec := &models.Transaction{
		UserID:     t.userID,
		Symbol:     symbol,
		Shares:     shares,
		Price:      price,
		ExecutedAt: at.UTC(),
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO transactions (user_id, symbol, shares, share_price, executed_at) VALUES (?, ?, ?, ?, ?)`,
		rec.UserID, rec.Symbol, rec.Shares, rec.Price, rec.ExecutedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, sqliteErr(err, fmt.Sprintf("append transaction for user %s", t.userID))
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return nil, sqliteErr(err, "last insert id")
	}
	return rec, nil
}
