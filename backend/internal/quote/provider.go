// Package quote resolves ticker symbols to a current price and display name.
//
// A Provider reports exactly three outcomes: a quote, apperrors.ErrUnknownSymbol
// when the symbol resolves to no instrument, or apperrors.ErrQuoteUnavailable
// (wrapping the cause) for network failures, throttling and malformed data.
package quote

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/user/papertrade/backend/internal/apperrors"
	"github.com/user/papertrade/backend/internal/models"
	"github.com/user/papertrade/backend/internal/validation"
)

// Provider looks up a quote. Lookup normalizes symbol (trim, uppercase).
type Provider interface {
	Lookup(ctx context.Context, symbol string) (models.Quote, error)
}

// Resolve looks symbol up on p and returns a quote fit to trade or value at:
// any error outside the two Provider kinds becomes QuoteUnavailable, a price
// that is not positive or exceeds models.MaxPrice is refused, and the price is
// rounded to models.PricePlaces.
func Resolve(ctx context.Context, p Provider, symbol string) (models.Quote, error) {
	q, err := p.Lookup(ctx, symbol)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrUnknownSymbol), errors.Is(err, apperrors.ErrQuoteUnavailable):
		return models.Quote{}, err
	default:
		return models.Quote{}, apperrors.Wrap(apperrors.KindQuoteUnavailable, err, "quote lookup failed")
	}
	if !q.Price.IsPositive() {
		return models.Quote{}, apperrors.New(apperrors.KindQuoteUnavailable, "quote returned a non-positive price")
	}
	if q.Price.GreaterThan(models.MaxPrice) {
		return models.Quote{}, apperrors.New(apperrors.KindQuoteUnavailable, "quote returned an implausible price")
	}
	q.Price = models.RoundPrice(q.Price)
	return q, nil
}

// UnknownCompany is the display name used when the directory has no entry.
const UnknownCompany = "Unknown Company"

// Directory maps symbols to company names.
type Directory map[string]string

// Name returns the company name for symbol, or UnknownCompany.
func (d Directory) Name(symbol string) string {
	if name, ok := d[symbol]; ok && name != "" {
		return name
	}
	return UnknownCompany
}

// LoadDirectory reads a "symbol,name" CSV with a header row. A missing file
// yields an empty directory: names are cosmetic and must not block trading.
func LoadDirectory(path string, log zerolog.Logger) (Directory, error) {
	if path == "" {
		return Directory{}, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("Symbol directory not found, company names unavailable")
		return Directory{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open symbol directory: %w", err)
	}
	defer f.Close()

	dir, err := ParseDirectory(f)
	if err != nil {
		return nil, fmt.Errorf("parse symbol directory %s: %w", path, err)
	}
	log.Info().Int("symbols", len(dir)).Msg("Loaded symbol directory")
	return dir, nil
}

// ParseDirectory parses the CSV form read by LoadDirectory.
func ParseDirectory(r io.Reader) (Directory, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	dir := make(Directory)
	header := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header {
			header = false
			continue
		}
		if len(record) < 2 {
			continue
		}
		symbol := strings.ToUpper(strings.TrimSpace(record[0]))
		if symbol == "" {
			continue
		}
		dir[symbol] = strings.TrimSpace(record[1])
	}
	return dir, nil
}

// normalize applies the symbol rules shared by every provider.
func normalize(symbol string) (string, error) {
	s, err := validation.NormalizeSymbol(symbol)
	if err != nil {
		return "", apperrors.ErrUnknownSymbol
	}
	return s, nil
}
