// Package portfolio values a user's open positions at live quotes.
package portfolio

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/apperrors"
	"github.com/user/papertrade/backend/internal/models"
	"github.com/user/papertrade/backend/internal/quote"
	"golang.org/x/sync/errgroup"
)

const defaultParallelism = 4

// Ledger is the read side of the ledger store the valuator needs.
type Ledger interface {
	Snapshot(ctx context.Context, userID uuid.UUID) (decimal.Decimal, []models.Holding, error)
}

type Valuator struct {
	ledger      Ledger
	quotes      quote.Provider
	parallelism int
	log         zerolog.Logger
}

// NewValuator returns a valuator resolving at most parallelism quotes at a
// time; values below 1 use a small default.
func NewValuator(ledger Ledger, quotes quote.Provider, parallelism int, log zerolog.Logger) *Valuator {
	if parallelism < 1 {
		parallelism = defaultParallelism
	}
	return &Valuator{
		ledger:      ledger,
		quotes:      quotes,
		parallelism: parallelism,
		log:         log.With().Str("component", "valuator").Logger(),
	}
}

// Valuation prices every symbol with a nonzero net share count. Cash and
// positions come from one ledger snapshot; quotes are fetched afterwards. If
// any quote cannot be resolved the whole valuation fails with QuoteUnavailable.
func (v *Valuator) Valuation(ctx context.Context, userID uuid.UUID) (*models.Valuation, error) {
	cash, holdings, err := v.ledger.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	open := make([]models.Holding, 0, len(holdings))
	for _, h := range holdings {
		if h.Shares != 0 {
			open = append(open, h)
		}
	}

	quotes := make([]models.Quote, len(open))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.parallelism)
	for i, h := range open {
		g.Go(func() error {
			q, err := quote.Resolve(gctx, v.quotes, h.Symbol)
			if err != nil {
				return lookupFailed(h.Symbol, err)
			}
			quotes[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		v.log.Warn().Err(err).Str("user_id", userID.String()).Msg("Valuation failed")
		return nil, err
	}

	total := cash
	positions := make([]models.Position, 0, len(open))
	for i, h := range open {
		price := quotes[i].Price
		exact := price.Mul(decimal.NewFromInt(h.Shares))
		total = total.Add(exact)
		positions = append(positions, models.Position{
			Symbol:      h.Symbol,
			Name:        quotes[i].Name,
			Shares:      h.Shares,
			MarketPrice: price,
			MarketValue: models.RoundCash(exact),
			CostBasis:   models.RoundCash(h.CostBasis),
		})
	}

	return &models.Valuation{
		Positions: positions,
		Cash:      models.RoundCash(cash),
		NetWorth:  models.RoundCash(total),
	}, nil
}

func lookupFailed(symbol string, err error) error {
	if errors.Is(err, apperrors.ErrQuoteUnavailable) {
		return err
	}
	return apperrors.Wrap(apperrors.KindQuoteUnavailable, err, "cannot price "+symbol)
}
