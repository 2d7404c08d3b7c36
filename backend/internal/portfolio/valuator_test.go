package portfolio

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/papertrade/backend/internal/apperrors"
	"github.com/user/papertrade/backend/internal/auth"
	"github.com/user/papertrade/backend/internal/database"
	"github.com/user/papertrade/backend/internal/events"
	"github.com/user/papertrade/backend/internal/models"
	"github.com/user/papertrade/backend/internal/quote"
	"github.com/user/papertrade/backend/internal/trading"
	"golang.org/x/crypto/bcrypt"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type staticLedger struct {
	cash     decimal.Decimal
	holdings []models.Holding
	err      error
}

func (l staticLedger) Snapshot(context.Context, uuid.UUID) (decimal.Decimal, []models.Holding, error) {
	return l.cash, l.holdings, l.err
}

type countingProvider struct {
	quote.Provider
	calls atomic.Int32
	fail  map[string]error
}

func (p *countingProvider) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	p.calls.Add(1)
	if err, ok := p.fail[symbol]; ok {
		return models.Quote{}, err
	}
	return p.Provider.Lookup(ctx, symbol)
}

func market() *quote.Simulated {
	return quote.NewSimulated(map[string]decimal.Decimal{
		"AAA": dec("10.005"),
		"BBB": dec("3.3333"),
		"X":   dec("50.00"),
	}, quote.Directory{"X": "Example Corp"}, zerolog.Nop())
}

func TestValuation_PricesOpenPositions(t *testing.T) {
	ledger := staticLedger{
		cash: dec("100.00"),
		holdings: []models.Holding{
			{Symbol: "AAA", Shares: 3, CostBasis: dec("29.97")},
			{Symbol: "BBB", Shares: 0, CostBasis: dec("-1.50")},
			{Symbol: "X", Shares: 10, CostBasis: dec("500")},
		},
	}
	provider := &countingProvider{Provider: market()}
	v := NewValuator(ledger, provider, 2, zerolog.Nop())

	val, err := v.Valuation(context.Background(), uuid.New())
	require.NoError(t, err)

	require.Len(t, val.Positions, 2)
	assert.EqualValues(t, 2, provider.calls.Load(), "zero positions are not priced")

	aaa, x := val.Positions[0], val.Positions[1]
	assert.Equal(t, "AAA", aaa.Symbol)
	assert.Equal(t, quote.UnknownCompany, aaa.Name)
	assert.Equal(t, "30.02", aaa.MarketValue.StringFixed(2)) // 30.015 rounds half away from zero
	assert.Equal(t, "X", x.Symbol)
	assert.Equal(t, "Example Corp", x.Name)
	assert.Equal(t, "500.00", x.MarketValue.StringFixed(2))
	assert.Equal(t, "500.00", x.CostBasis.StringFixed(2))

	// 100 + 30.015 + 500
	assert.Equal(t, "630.02", val.NetWorth.StringFixed(2))
	assert.Equal(t, "100.00", val.Cash.StringFixed(2))
}

func TestValuation_NetWorthRoundsOnceOverExactSum(t *testing.T) {
	ledger := staticLedger{
		cash: dec("0.00"),
		holdings: []models.Holding{
			{Symbol: "AAA", Shares: 1},
			{Symbol: "BBB", Shares: 1},
		},
	}
	provider := quote.NewSimulated(map[string]decimal.Decimal{
		"AAA": dec("0.0040"),
		"BBB": dec("0.0040"),
	}, nil, zerolog.Nop())

	val, err := NewValuator(ledger, provider, 0, zerolog.Nop()).Valuation(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "0.00", val.Positions[0].MarketValue.StringFixed(2))
	assert.Equal(t, "0.01", val.NetWorth.StringFixed(2))
}

func TestValuation_AnyQuoteFailureFailsWhole(t *testing.T) {
	ledger := staticLedger{
		cash: dec("1.00"),
		holdings: []models.Holding{
			{Symbol: "AAA", Shares: 1},
			{Symbol: "X", Shares: 1},
		},
	}
	for _, cause := range []error{apperrors.ErrQuoteUnavailable, apperrors.ErrUnknownSymbol, errors.New("boom")} {
		provider := &countingProvider{Provider: market(), fail: map[string]error{"X": cause}}
		val, err := NewValuator(ledger, provider, 1, zerolog.Nop()).Valuation(context.Background(), uuid.New())
		assert.Nil(t, val)
		assert.ErrorIs(t, err, apperrors.ErrQuoteUnavailable)
	}
}

type fixedPriceProvider struct {
	price decimal.Decimal
}

func (p fixedPriceProvider) Lookup(_ context.Context, symbol string) (models.Quote, error) {
	return models.Quote{Symbol: symbol, Name: quote.UnknownCompany, Price: p.price}, nil
}

func TestValuation_RejectsUnusablePrices(t *testing.T) {
	ledger := staticLedger{cash: dec("1.00"), holdings: []models.Holding{{Symbol: "X", Shares: 2}}}
	for _, price := range []string{"0", "-12.50", "1e12"} {
		v := NewValuator(ledger, fixedPriceProvider{price: dec(price)}, 1, zerolog.Nop())
		val, err := v.Valuation(context.Background(), uuid.New())
		assert.Nil(t, val, price)
		assert.ErrorIs(t, err, apperrors.ErrQuoteUnavailable, price)
	}
}

func TestValuation_RoundsQuotedPrice(t *testing.T) {
	ledger := staticLedger{cash: dec("0.00"), holdings: []models.Holding{{Symbol: "X", Shares: 1000}}}
	v := NewValuator(ledger, fixedPriceProvider{price: dec("1.23456")}, 1, zerolog.Nop())

	val, err := v.Valuation(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "1.2346", val.Positions[0].MarketPrice.String())
	assert.Equal(t, "1234.60", val.Positions[0].MarketValue.StringFixed(2))
	assert.Equal(t, "1234.60", val.NetWorth.StringFixed(2))
}

func TestValuation_LedgerErrorsPropagate(t *testing.T) {
	v := NewValuator(staticLedger{err: apperrors.ErrNotFound}, market(), 1, zerolog.Nop())
	_, err := v.Valuation(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestValuation_AgainstLedger(t *testing.T) {
	ctx := context.Background()
	store, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "ledger.db"), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(store.Close)

	sim := market()
	engine := trading.NewEngine(store, sim, auth.BcryptHasher{Cost: bcrypt.MinCost}, events.Nop{}, trading.Config{
		StartingCash: dec("10000.00"),
		Now:          time.Now,
	}, zerolog.Nop())
	v := NewValuator(store, sim, 4, zerolog.Nop())

	id, err := engine.Register(ctx, "valuer", "pw", "pw")
	require.NoError(t, err)

	val, err := v.Valuation(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, val.Positions)
	assert.Equal(t, "10000.00", val.Cash.StringFixed(2))
	assert.Equal(t, "10000.00", val.NetWorth.StringFixed(2))

	_, err = engine.Buy(ctx, id, "X", "10")
	require.NoError(t, err)
	_, err = engine.Buy(ctx, id, "AAA", "2")
	require.NoError(t, err)
	_, err = engine.Sell(ctx, id, "AAA", "2")
	require.NoError(t, err)

	first, err := v.Valuation(ctx, id)
	require.NoError(t, err)
	second, err := v.Valuation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, first.Positions, 1, "sold-out symbols are hidden")
	assert.Equal(t, "X", first.Positions[0].Symbol)
	assert.Equal(t, "9500.00", first.Cash.StringFixed(2))
	assert.Equal(t, "10000.00", first.NetWorth.StringFixed(2))

	history, err := store.History(ctx, id)
	require.NoError(t, err)
	assert.Len(t, history, 3, "sold-out symbols stay in history")
}
