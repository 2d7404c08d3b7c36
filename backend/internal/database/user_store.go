package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/apperrors"
	"github.com/user/papertrade/backend/internal/models"
)

// CreateUser inserts a new account with its starting cash.
func (s *PostgresStore) CreateUser(ctx context.Context, username string, passwordHash string, startingCash decimal.Decimal) (uuid.UUID, error) {
	query := `INSERT INTO accounts (username, password_hash, cash) VALUES ($1, $2, $3)
			  RETURNING id`

	var id uuid.UUID
	if err := s.pool.QueryRow(ctx, query, username, passwordHash, startingCash).Scan(&id); err != nil {
		return uuid.Nil, pgErr(err, "create user "+username)
	}
	s.log.Debug().Str("user_id", id.String()).Str("username", username).Msg("Created account")
	return id, nil
}

// GetUserByUsername retrieves a user by their username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT id, username, password_hash, cash::text, created_at FROM accounts WHERE username = $1`
	return s.scanUser(s.pool.QueryRow(ctx, query, username), "get user by username")
}

// GetUserByID retrieves a user by their ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	query := `SELECT id, username, password_hash, cash::text, created_at FROM accounts WHERE id = $1`
	return s.scanUser(s.pool.QueryRow(ctx, query, userID), "get user by id")
}

func (s *PostgresStore) scanUser(row interface{ Scan(...any) error }, msg string) (*models.User, error) {
	user := &models.User{}
	var cash string
	if err := row.Scan(&user.ID, &user.Username, &user.Password, &cash, &user.CreatedAt); err != nil {
		return nil, pgErr(err, msg)
	}
	var err error
	if user.Cash, err = decimal.NewFromString(cash); err != nil {
		return nil, apperrors.Storage(err, "parse cash")
	}
	return user, nil
}
