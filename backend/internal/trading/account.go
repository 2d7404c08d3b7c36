package trading

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/apperrors"
	"github.com/user/papertrade/backend/internal/models"
	"github.com/user/papertrade/backend/internal/validation"
)

var errBadCredentials = apperrors.Validation("invalid username and/or password")

// Register creates an account credited with the starting cash.
func (e *Engine) Register(ctx context.Context, username, password, confirmation string) (uuid.UUID, error) {
	if err := validation.Registration(username, password, confirmation); err != nil {
		return uuid.Nil, err
	}
	username = strings.TrimSpace(username)

	hash, err := e.hasher.Hash(password)
	if err != nil {
		return uuid.Nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := e.store.CreateUser(ctx, username, hash, e.startingCash)
	if err != nil {
		if !errors.Is(err, apperrors.ErrDuplicateUsername) {
			e.log.Error().Err(err).Str("username", username).Msg("Failed to create user")
		}
		return uuid.Nil, err
	}

	e.log.Info().Str("user_id", id.String()).Str("username", username).Msg("User registered")
	return id, nil
}

// Authenticate checks a username and password. Unknown users and wrong
// passwords fail with the same validation error.
func (e *Engine) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	switch {
	case username == "":
		return nil, apperrors.Validation("must provide username")
	case password == "":
		return nil, apperrors.Validation("must provide password")
	}

	user, err := e.store.GetUserByUsername(ctx, username)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := e.hasher.Check(password, user.Password)
	if err != nil {
		e.log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Stored password hash is unreadable")
		return nil, errBadCredentials
	}
	if !ok {
		return nil, errBadCredentials
	}
	return user, nil
}

// Quote resolves symbol for display.
func (e *Engine) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	symbol, err := validation.NormalizeSymbol(symbol)
	if err != nil {
		return models.Quote{}, err
	}
	return e.lookup(ctx, symbol)
}

// History returns the user's ledger, oldest first.
func (e *Engine) History(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	return e.store.History(ctx, userID)
}

// Balance returns the user's committed cash balance.
func (e *Engine) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return e.store.GetBalance(ctx, userID)
}
