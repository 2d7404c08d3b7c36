package trading

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/apperrors"
	"github.com/user/papertrade/backend/internal/database"
	"github.com/user/papertrade/backend/internal/models"
	"github.com/user/papertrade/backend/internal/validation"
)

// Buy purchases whole shares at the current quote. The quote is fetched
// before the account lock is taken; the funds check, the debit and the ledger
// append then commit together or not at all.
func (e *Engine) Buy(ctx context.Context, userID uuid.UUID, symbol, sharesInput string) (*Execution, error) {
	shares, err := validation.ParseShares(sharesInput)
	if err != nil {
		return nil, err
	}
	symbol, err = validation.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	log := e.log.With().Str("user_id", userID.String()).Str("symbol", symbol).Int64("shares", shares).Logger()

	q, err := e.lookup(ctx, symbol)
	if err != nil {
		log.Warn().Err(err).Msg("Buy rejected: no quote")
		return nil, err
	}

	exec := &Execution{Name: q.Name}
	err = e.store.InTx(ctx, userID, func(tx database.LedgerTx) error {
		balance, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		cost := models.RoundCash(q.Price.Mul(decimal.NewFromInt(shares)))
		if cost.GreaterThan(balance) {
			return apperrors.ErrInsufficientFunds
		}
		cashAfter := balance.Sub(cost)
		if err := tx.SetBalance(ctx, cashAfter); err != nil {
			return err
		}
		rec, err := tx.AppendTransaction(ctx, symbol, shares, q.Price, e.now())
		if err != nil {
			return err
		}
		exec.Transaction = *rec
		exec.Total = cost
		exec.CashAfter = cashAfter
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("Buy failed")
		return nil, err
	}

	log.Info().Str("price", q.Price.String()).Str("total", exec.Total.String()).Msg("Buy executed")
	e.publish(ctx, exec)
	return exec, nil
}

// Sell disposes of held shares at the current quote. The holding is checked
// once before the quote and again under the account lock, so a concurrent
// sell cannot drive the position negative.
func (e *Engine) Sell(ctx context.Context, userID uuid.UUID, symbol, sharesInput string) (*Execution, error) {
	shares, err := validation.ParseShares(sharesInput)
	if err != nil {
		return nil, err
	}
	symbol, err = validation.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	log := e.log.With().Str("user_id", userID.String()).Str("symbol", symbol).Int64("shares", shares).Logger()

	held, err := e.store.SharesHeld(ctx, userID, symbol)
	if err != nil {
		return nil, err
	}
	if shares > held {
		log.Debug().Int64("held", held).Msg("Sell rejected: not enough shares")
		return nil, apperrors.ErrInsufficientShares
	}

	q, err := e.lookup(ctx, symbol)
	if err != nil {
		log.Warn().Err(err).Msg("Sell rejected: no quote")
		return nil, err
	}

	exec := &Execution{Name: q.Name}
	err = e.store.InTx(ctx, userID, func(tx database.LedgerTx) error {
		held, err := tx.SharesHeld(ctx, symbol)
		if err != nil {
			return err
		}
		if shares > held {
			return apperrors.ErrInsufficientShares
		}
		balance, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		proceeds := models.RoundCash(q.Price.Mul(decimal.NewFromInt(shares)))
		cashAfter := balance.Add(proceeds)
		if cashAfter.GreaterThan(models.MaxCash) {
			return errBalanceLimit(apperrors.KindInvalidQuantity)
		}
		if err := tx.SetBalance(ctx, cashAfter); err != nil {
			return err
		}
		rec, err := tx.AppendTransaction(ctx, symbol, -shares, q.Price, e.now())
		if err != nil {
			return err
		}
		exec.Transaction = *rec
		exec.Total = proceeds
		exec.CashAfter = cashAfter
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("Sell failed")
		return nil, err
	}

	log.Info().Str("price", q.Price.String()).Str("total", exec.Total.String()).Msg("Sell executed")
	e.publish(ctx, exec)
	return exec, nil
}

// Deposit credits cash and returns the new balance.
func (e *Engine) Deposit(ctx context.Context, userID uuid.UUID, amountInput string) (decimal.Decimal, error) {
	amount, err := validation.ParseAmount(amountInput)
	if err != nil {
		return decimal.Zero, err
	}

	var cashAfter decimal.Decimal
	err = e.store.InTx(ctx, userID, func(tx database.LedgerTx) error {
		balance, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		cashAfter = balance.Add(amount)
		if cashAfter.GreaterThan(models.MaxCash) {
			return errBalanceLimit(apperrors.KindInvalidAmount)
		}
		return tx.SetBalance(ctx, cashAfter)
	})
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", userID.String()).Msg("Deposit failed")
		return decimal.Zero, err
	}

	e.log.Info().Str("user_id", userID.String()).Str("amount", amount.String()).Msg("Deposit credited")
	return cashAfter, nil
}

func errBalanceLimit(kind apperrors.Kind) error {
	return apperrors.New(kind, "cash balance would exceed "+models.FormatUSD(models.MaxCash))
}
