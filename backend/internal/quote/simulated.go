package quote

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/apperrors"
	"github.com/user/papertrade/backend/internal/events"
	"github.com/user/papertrade/backend/internal/models"
)

// DefaultSeed is the symbol table used by the simulated market when none is configured.
func DefaultSeed() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"AAPL":  decimal.RequireFromString("190.00"),
		"AMZN":  decimal.RequireFromString("180.00"),
		"GOOGL": decimal.RequireFromString("140.00"),
		"MSFT":  decimal.RequireFromString("410.00"),
		"NFLX":  decimal.RequireFromString("600.00"),
		"TSLA":  decimal.RequireFromString("250.00"),
	}
}

var minPrice = decimal.New(1, -models.PricePlaces)

// Simulated is an in-process market. Symbols outside its table are unknown;
// prices follow a small random walk while Start is running.
type Simulated struct {
	mu      sync.RWMutex
	prices  map[string]decimal.Decimal
	rng     *rand.Rand
	dir     Directory
	updates chan events.PriceUpdate
	log     zerolog.Logger
}

func NewSimulated(seed map[string]decimal.Decimal, dir Directory, log zerolog.Logger) *Simulated {
	if dir == nil {
		dir = Directory{}
	}
	s := &Simulated{
		prices:  make(map[string]decimal.Decimal, len(seed)),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		dir:     dir,
		updates: make(chan events.PriceUpdate, 100),
		log:     log.With().Str("provider", "simulated").Logger(),
	}
	for symbol, price := range seed {
		s.Set(symbol, price)
	}
	return s
}

func (s *Simulated) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return models.Quote{}, apperrors.Wrap(apperrors.KindQuoteUnavailable, err, "lookup "+symbol)
	}
	symbol, err := normalize(symbol)
	if err != nil {
		return models.Quote{}, err
	}

	s.mu.RLock()
	price, ok := s.prices[symbol]
	s.mu.RUnlock()
	if !ok {
		return models.Quote{}, apperrors.ErrUnknownSymbol
	}
	return models.Quote{Symbol: symbol, Name: s.dir.Name(symbol), Price: price}, nil
}

// Set lists symbol at price, replacing any current price. Non-positive prices
// are clamped to the smallest tick.
func (s *Simulated) Set(symbol string, price decimal.Decimal) {
	symbol, err := normalize(symbol)
	if err != nil {
		return
	}
	price = models.RoundPrice(price)
	if price.LessThan(minPrice) {
		price = minPrice
	}
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

// Prices returns a copy of the current prices.
func (s *Simulated) Prices() map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out
}

// Updates streams every price change made by the random walk.
func (s *Simulated) Updates() <-chan events.PriceUpdate {
	return s.updates
}

// Start moves prices every interval until ctx is done.
func (s *Simulated) Start(ctx context.Context, interval time.Duration) {
	s.log.Info().Dur("interval", interval).Int("symbols", len(s.Prices())).Msg("Starting simulated market")
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.log.Info().Msg("Simulated market stopped")
				return
			case <-ticker.C:
				for _, update := range s.step() {
					select {
					case s.updates <- update:
					default:
						s.log.Debug().Str("symbol", update.Symbol).Msg("Price update channel full, dropping update")
					}
				}
			}
		}
	}()
}

// step moves every price by at most 0.5% in either direction.
func (s *Simulated) step() []events.PriceUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbols := make([]string, 0, len(s.prices))
	for symbol := range s.prices {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	ts := time.Now().UnixMilli()
	updates := make([]events.PriceUpdate, 0, len(symbols))
	for _, symbol := range symbols {
		change := decimal.NewFromFloat((s.rng.Float64() - 0.5) / 100)
		next := models.RoundPrice(s.prices[symbol].Mul(decimal.NewFromInt(1).Add(change)))
		if next.LessThan(minPrice) {
			next = minPrice
		}
		s.prices[symbol] = next
		updates = append(updates, events.PriceUpdate{Symbol: symbol, Price: next, Ts: ts})
	}
	return updates
}
