package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/apperrors"
	"github.com/user/papertrade/backend/internal/models"
	"golang.org/x/time/rate"
)

const DefaultAlphaVantageURL = "https://www.alphavantage.co"

// AlphaVantageConfig configures the GLOBAL_QUOTE client.
type AlphaVantageConfig struct {
	APIKey    string
	BaseURL   string        // defaults to DefaultAlphaVantageURL
	Timeout   time.Duration // per request
	CacheTTL  time.Duration // 0 disables the quote cache
	PerMinute int           // 0 disables the limit
	PerDay    int           // 0 disables the limit
}

// ErrRateLimitExceeded is returned when the client-side budget is spent.
type ErrRateLimitExceeded struct {
	Window string
	Limit  int
}

func (e ErrRateLimitExceeded) Error() string {
	return fmt.Sprintf("alpha vantage %s limit of %d requests reached", e.Window, e.Limit)
}

type cacheEntry struct {
	quote     models.Quote
	expiresAt time.Time
}

// AlphaVantage looks up quotes with the GLOBAL_QUOTE function.
type AlphaVantage struct {
	cfg  AlphaVantageConfig
	http *http.Client
	dir  Directory
	log  zerolog.Logger
	now  func() time.Time

	// minute is a token bucket refilling PerMinute requests per minute. The
	// daily budget is a fixed window, matching how the vendor counts its quota.
	minute *rate.Limiter

	mu       sync.Mutex
	dayStart time.Time
	dayCount int
	cache    map[string]cacheEntry
}

func NewAlphaVantage(cfg AlphaVantageConfig, dir Directory, log zerolog.Logger) *AlphaVantage {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAlphaVantageURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if dir == nil {
		dir = Directory{}
	}
	minute := rate.NewLimiter(rate.Inf, 0)
	if cfg.PerMinute > 0 {
		minute = rate.NewLimiter(rate.Limit(float64(cfg.PerMinute)/time.Minute.Seconds()), cfg.PerMinute)
	}
	return &AlphaVantage{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		dir:    dir,
		log:    log.With().Str("client", "alphavantage").Logger(),
		now:    time.Now,
		minute: minute,
		cache:  make(map[string]cacheEntry),
	}
}

// globalQuoteResponse covers both the payload and the throttling/error
// envelopes Alpha Vantage answers with (all with HTTP 200).
type globalQuoteResponse struct {
	GlobalQuote  map[string]string `json:"Global Quote"`
	Note         string            `json:"Note"`
	Information  string            `json:"Information"`
	ErrorMessage string            `json:"Error Message"`
}

func (c *AlphaVantage) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	symbol, err := normalize(symbol)
	if err != nil {
		return models.Quote{}, err
	}

	if q, ok := c.getFromCache(symbol); ok {
		return q, nil
	}
	if err := c.checkRateLimit(); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Quote request throttled locally")
		return models.Quote{}, apperrors.Wrap(apperrors.KindQuoteUnavailable, err, "lookup "+symbol)
	}

	body, err := c.fetch(ctx, symbol)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Quote request failed")
		return models.Quote{}, apperrors.Wrap(apperrors.KindQuoteUnavailable, err, "lookup "+symbol)
	}

	q, err := c.parse(symbol, body)
	if err != nil {
		c.log.Debug().Err(err).Str("symbol", symbol).Msg("Quote not resolved")
		return models.Quote{}, err
	}
	c.setCache(symbol, q)
	return q, nil
}

func (c *AlphaVantage) fetch(ctx context.Context, symbol string) ([]byte, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)
	params.Set("apikey", c.cfg.APIKey)
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/query?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func (c *AlphaVantage) parse(symbol string, body []byte) (models.Quote, error) {
	var payload globalQuoteResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.Quote{}, apperrors.Wrap(apperrors.KindQuoteUnavailable, err, "malformed quote response")
	}

	switch {
	case payload.Note != "" || payload.Information != "":
		msg := payload.Note
		if msg == "" {
			msg = payload.Information
		}
		return models.Quote{}, apperrors.Wrap(apperrors.KindQuoteUnavailable, fmt.Errorf("%s", msg), "upstream throttled")
	case payload.ErrorMessage != "":
		return models.Quote{}, apperrors.ErrUnknownSymbol
	case payload.GlobalQuote == nil:
		return models.Quote{}, apperrors.New(apperrors.KindQuoteUnavailable, "quote response without Global Quote")
	case len(payload.GlobalQuote) == 0:
		return models.Quote{}, apperrors.ErrUnknownSymbol
	}

	rawPrice, ok := payload.GlobalQuote["05. price"]
	if !ok {
		return models.Quote{}, apperrors.New(apperrors.KindQuoteUnavailable, "quote response without price")
	}
	price, err := decimal.NewFromString(strings.TrimSpace(rawPrice))
	if err != nil || !price.IsPositive() {
		return models.Quote{}, apperrors.New(apperrors.KindQuoteUnavailable, "invalid price "+rawPrice)
	}

	quoted := strings.ToUpper(strings.TrimSpace(payload.GlobalQuote["01. symbol"]))
	if quoted == "" {
		quoted = symbol
	}
	return models.Quote{Symbol: quoted, Name: c.dir.Name(quoted), Price: price}, nil
}

// checkRateLimit consumes one request from the minute and day budgets. A
// request refused by either budget consumes neither.
func (c *AlphaVantage) checkRateLimit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.dayStart) >= 24*time.Hour {
		c.dayStart = now
		c.dayCount = 0
	}
	if c.cfg.PerDay > 0 && c.dayCount >= c.cfg.PerDay {
		return ErrRateLimitExceeded{Window: "day", Limit: c.cfg.PerDay}
	}
	if !c.minute.AllowN(now, 1) {
		return ErrRateLimitExceeded{Window: "minute", Limit: c.cfg.PerMinute}
	}
	c.dayCount++
	return nil
}

// RemainingToday returns how many requests the daily budget still allows.
func (c *AlphaVantage) RemainingToday() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.PerDay <= 0 {
		return -1
	}
	if c.now().Sub(c.dayStart) >= 24*time.Hour {
		return c.cfg.PerDay
	}
	return c.cfg.PerDay - c.dayCount
}

func (c *AlphaVantage) getFromCache(symbol string) (models.Quote, bool) {
	if c.cfg.CacheTTL <= 0 {
		return models.Quote{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[symbol]
	if !ok || c.now().After(entry.expiresAt) {
		delete(c.cache, symbol)
		return models.Quote{}, false
	}
	return entry.quote, true
}

func (c *AlphaVantage) setCache(symbol string, q models.Quote) {
	if c.cfg.CacheTTL <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[symbol] = cacheEntry{quote: q, expiresAt: c.now().Add(c.cfg.CacheTTL)}
}
