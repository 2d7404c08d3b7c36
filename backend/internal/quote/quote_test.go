package quote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/papertrade/backend/internal/apperrors"
	"github.com/user/papertrade/backend/internal/models"
)

const appleQuote = `{
  "Global Quote": {
    "01. symbol": "AAPL",
    "02. open": "189.0000",
    "05. price": "191.2400",
    "07. latest trading day": "2024-05-10"
  }
}`

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/query", r.URL.Path)
		assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newClient(baseURL string, cfg AlphaVantageConfig) *AlphaVantage {
	cfg.APIKey = "test-key"
	cfg.BaseURL = baseURL
	return NewAlphaVantage(cfg, Directory{"AAPL": "Apple Inc"}, zerolog.Nop())
}

func TestAlphaVantage_Lookup(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, appleQuote)
	client := newClient(srv.URL, AlphaVantageConfig{})

	q, err := client.Lookup(context.Background(), " aapl ")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, "Apple Inc", q.Name)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("191.24")))
}

func TestAlphaVantage_ResponseClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"empty global quote", http.StatusOK, `{"Global Quote": {}}`, apperrors.ErrUnknownSymbol},
		{"error message", http.StatusOK, `{"Error Message": "Invalid API call."}`, apperrors.ErrUnknownSymbol},
		{"note throttle", http.StatusOK, `{"Note": "Thank you for using Alpha Vantage!"}`, apperrors.ErrQuoteUnavailable},
		{"information throttle", http.StatusOK, `{"Information": "rate limit"}`, apperrors.ErrQuoteUnavailable},
		{"server error", http.StatusInternalServerError, `oops`, apperrors.ErrQuoteUnavailable},
		{"malformed json", http.StatusOK, `{"Global Quote": `, apperrors.ErrQuoteUnavailable},
		{"no envelope", http.StatusOK, `{}`, apperrors.ErrQuoteUnavailable},
		{"missing price", http.StatusOK, `{"Global Quote": {"01. symbol": "AAPL"}}`, apperrors.ErrQuoteUnavailable},
		{"bad price", http.StatusOK, `{"Global Quote": {"05. price": "n/a"}}`, apperrors.ErrQuoteUnavailable},
		{"zero price", http.StatusOK, `{"Global Quote": {"05. price": "0.0000"}}`, apperrors.ErrQuoteUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.status, tt.body)
			_, err := newClient(srv.URL, AlphaVantageConfig{}).Lookup(context.Background(), "AAPL")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAlphaVantage_InvalidSymbolSkipsNetwork(t *testing.T) {
	srv, hits := newTestServer(t, http.StatusOK, appleQuote)
	client := newClient(srv.URL, AlphaVantageConfig{})

	for _, symbol := range []string{"", "   ", "NOT A SYMBOL", strings.Repeat("A", 13)} {
		_, err := client.Lookup(context.Background(), symbol)
		assert.ErrorIs(t, err, apperrors.ErrUnknownSymbol, symbol)
	}
	assert.Zero(t, hits.Load())
}

func TestAlphaVantage_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newClient(url, AlphaVantageConfig{}).Lookup(context.Background(), "AAPL")
	assert.ErrorIs(t, err, apperrors.ErrQuoteUnavailable)
	assert.True(t, apperrors.KindOf(err).Retryable())
}

func TestAlphaVantage_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	client := newClient(srv.URL, AlphaVantageConfig{Timeout: 50 * time.Millisecond})
	_, err := client.Lookup(context.Background(), "AAPL")
	assert.ErrorIs(t, err, apperrors.ErrQuoteUnavailable)
}

func TestAlphaVantage_CacheServesRepeatLookups(t *testing.T) {
	srv, hits := newTestServer(t, http.StatusOK, appleQuote)
	client := newClient(srv.URL, AlphaVantageConfig{CacheTTL: time.Minute})
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := client.Lookup(context.Background(), "AAPL")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, hits.Load())

	now = now.Add(2 * time.Minute)
	_, err := client.Lookup(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())
}

func TestAlphaVantage_FailuresAreNotCached(t *testing.T) {
	srv, hits := newTestServer(t, http.StatusOK, `{"Note": "slow down"}`)
	client := newClient(srv.URL, AlphaVantageConfig{CacheTTL: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := client.Lookup(context.Background(), "AAPL")
		assert.ErrorIs(t, err, apperrors.ErrQuoteUnavailable)
	}
	assert.EqualValues(t, 2, hits.Load())
}

func TestAlphaVantage_RateLimit(t *testing.T) {
	srv, hits := newTestServer(t, http.StatusOK, appleQuote)
	client := newClient(srv.URL, AlphaVantageConfig{PerMinute: 2, PerDay: 3})
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_, err := client.Lookup(context.Background(), "AAPL")
		require.NoError(t, err)
	}
	_, err := client.Lookup(context.Background(), "AAPL")
	require.ErrorIs(t, err, apperrors.ErrQuoteUnavailable)
	var limit ErrRateLimitExceeded
	require.True(t, errors.As(err, &limit))
	assert.Equal(t, "minute", limit.Window)
	assert.EqualValues(t, 2, hits.Load())
	assert.Equal(t, 1, client.RemainingToday())

	now = now.Add(time.Minute)
	_, err = client.Lookup(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 0, client.RemainingToday())

	now = now.Add(time.Minute)
	_, err = client.Lookup(context.Background(), "AAPL")
	require.True(t, errors.As(err, &limit))
	assert.Equal(t, "day", limit.Window)

	now = now.Add(24 * time.Hour)
	assert.Equal(t, 3, client.RemainingToday())
	_, err = client.Lookup(context.Background(), "AAPL")
	assert.NoError(t, err)
}

func TestAlphaVantage_MinuteBudgetRefillsGradually(t *testing.T) {
	srv, hits := newTestServer(t, http.StatusOK, appleQuote)
	client := newClient(srv.URL, AlphaVantageConfig{PerMinute: 2})
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		_, err := client.Lookup(context.Background(), "AAPL")
		require.NoError(t, err)
	}

	now = now.Add(30 * time.Second)
	_, err := client.Lookup(context.Background(), "AAPL")
	require.NoError(t, err)
	_, err = client.Lookup(context.Background(), "AAPL")
	assert.ErrorIs(t, err, apperrors.ErrQuoteUnavailable)
	assert.EqualValues(t, 3, hits.Load())
	assert.Equal(t, -1, client.RemainingToday())
}

type stubProvider struct {
	q   models.Quote
	err error
}

func (p stubProvider) Lookup(context.Context, string) (models.Quote, error) { return p.q, p.err }

func TestResolve(t *testing.T) {
	priced := func(s string) stubProvider {
		return stubProvider{q: models.Quote{Symbol: "X", Price: decimal.RequireFromString(s)}}
	}

	q, err := Resolve(context.Background(), priced("12.345678"), "X")
	require.NoError(t, err)
	assert.Equal(t, "12.3457", q.Price.String())

	testCases := []struct {
		name     string
		provider stubProvider
		want     error
	}{
		{"unknown symbol kept", stubProvider{err: apperrors.ErrUnknownSymbol}, apperrors.ErrUnknownSymbol},
		{"unavailable kept", stubProvider{err: apperrors.ErrQuoteUnavailable}, apperrors.ErrQuoteUnavailable},
		{"foreign error reclassified", stubProvider{err: errors.New("socket closed")}, apperrors.ErrQuoteUnavailable},
		{"zero price", priced("0"), apperrors.ErrQuoteUnavailable},
		{"negative price", priced("-1"), apperrors.ErrQuoteUnavailable},
		{"implausible price", priced("1000000001"), apperrors.ErrQuoteUnavailable},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(context.Background(), tc.provider, "X")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParseDirectory(t *testing.T) {
	dir, err := ParseDirectory(strings.NewReader("symbol,name\naapl, Apple Inc\nMSFT,Microsoft Corp\n,Nameless\nBAD\n"))
	require.NoError(t, err)

	assert.Len(t, dir, 2)
	assert.Equal(t, "Apple Inc", dir.Name("AAPL"))
	assert.Equal(t, "Microsoft Corp", dir.Name("MSFT"))
	assert.Equal(t, UnknownCompany, dir.Name("ZZZ"))
}

func TestLoadDirectory(t *testing.T) {
	t.Run("missing file is empty", func(t *testing.T) {
		dir, err := LoadDirectory(filepath.Join(t.TempDir(), "nope.csv"), zerolog.Nop())
		require.NoError(t, err)
		assert.Empty(t, dir)
	})

	t.Run("no path is empty", func(t *testing.T) {
		dir, err := LoadDirectory("", zerolog.Nop())
		require.NoError(t, err)
		assert.Empty(t, dir)
	})

	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "symbols.csv")
		require.NoError(t, os.WriteFile(path, []byte("symbol,name\nTSLA,Tesla Inc\n"), 0o600))
		dir, err := LoadDirectory(path, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, "Tesla Inc", dir.Name("TSLA"))
	})
}

func TestSimulated_Lookup(t *testing.T) {
	sim := NewSimulated(map[string]decimal.Decimal{"x": decimal.NewFromInt(50)}, nil, zerolog.Nop())

	q, err := sim.Lookup(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "X", q.Symbol)
	assert.Equal(t, UnknownCompany, q.Name)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(50)))

	_, err = sim.Lookup(context.Background(), "NOPE")
	assert.ErrorIs(t, err, apperrors.ErrUnknownSymbol)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sim.Lookup(ctx, "X")
	assert.ErrorIs(t, err, apperrors.ErrQuoteUnavailable)
}

func TestSimulated_SetRoundsAndClamps(t *testing.T) {
	sim := NewSimulated(nil, nil, zerolog.Nop())
	sim.Set("abc", decimal.RequireFromString("12.345678"))
	sim.Set("low", decimal.NewFromInt(-3))

	prices := sim.Prices()
	assert.Equal(t, "12.3457", prices["ABC"].StringFixed(4))
	assert.True(t, prices["LOW"].IsPositive())
}

func TestSimulated_StepStaysWithinBand(t *testing.T) {
	sim := NewSimulated(DefaultSeed(), nil, zerolog.Nop())
	before := sim.Prices()

	updates := sim.step()
	require.Len(t, updates, len(before))
	for _, u := range updates {
		old := before[u.Symbol]
		band := old.Mul(decimal.RequireFromString("0.0051"))
		assert.True(t, u.Price.Sub(old).Abs().LessThanOrEqual(band), "%s moved from %s to %s", u.Symbol, old, u.Price)
		assert.True(t, u.Price.Equal(sim.Prices()[u.Symbol]))
	}
}

func TestSimulated_StartEmitsUntilCancelled(t *testing.T) {
	sim := NewSimulated(map[string]decimal.Decimal{"X": decimal.NewFromInt(50)}, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sim.Start(ctx, 10*time.Millisecond)

	select {
	case u := <-sim.Updates():
		assert.Equal(t, "X", u.Symbol)
		assert.True(t, u.Price.IsPositive())
	case <-time.After(2 * time.Second):
		t.Fatal("no price update")
	}
}
