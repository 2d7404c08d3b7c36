// Package validation parses and checks raw form input before it reaches the
// trading engine.
package validation

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/apperrors"
	"github.com/user/papertrade/backend/internal/models"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9.\-]{1,12}$`)

const (
	// maxShares bounds a single order so price × shares stays well inside NUMERIC(18,2).
	maxShares = 1_000_000_000

	// Numeric input is refused before any arithmetic when it is longer than
	// maxInputLen or its exponent falls outside ±maxExponent: decimal
	// rescaling materializes 10^exp.
	maxInputLen = 32
	maxExponent = 12
)

// NormalizeSymbol trims and uppercases a ticker.
func NormalizeSymbol(raw string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	if symbol == "" {
		return "", apperrors.Validation("must provide stock symbol")
	}
	if !symbolPattern.MatchString(symbol) {
		return "", apperrors.ErrUnknownSymbol
	}
	return symbol, nil
}

// ParseShares accepts a positive whole share count. Integral decimals such as
// "10.0" are accepted; "2.5", "0" and "-3" are not.
func ParseShares(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, apperrors.Validation("must provide number of shares")
	}
	d, ok := parseNumber(raw)
	if !ok {
		return 0, apperrors.Validation("shares must be a numeric value")
	}
	if !inRange(d) || !d.IsPositive() || !d.IsInteger() {
		return 0, apperrors.ErrInvalidQuantity
	}
	if d.GreaterThan(decimal.NewFromInt(maxShares)) {
		return 0, apperrors.New(apperrors.KindInvalidQuantity, "too many shares in a single order")
	}
	return d.IntPart(), nil
}

// ParseAmount accepts a positive cash amount with at most two decimals.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, apperrors.Validation("must provide an amount")
	}
	d, ok := parseNumber(raw)
	if !ok {
		return decimal.Zero, apperrors.Validation("amount must be a numeric value")
	}
	if !inRange(d) || !d.IsPositive() || !d.Equal(models.RoundCash(d)) {
		return decimal.Zero, apperrors.ErrInvalidAmount
	}
	if d.GreaterThan(models.MaxDeposit) {
		return decimal.Zero, apperrors.New(apperrors.KindInvalidAmount, "amount exceeds the maximum deposit")
	}
	return d, nil
}

func parseNumber(raw string) (decimal.Decimal, bool) {
	if len(raw) > maxInputLen {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	return d, err == nil
}

// inRange reports whether d's exponent is small enough for cheap arithmetic.
func inRange(d decimal.Decimal) bool {
	exp := d.Exponent()
	return exp >= -maxExponent && exp <= maxExponent
}

// Registration checks the sign-up form. Reasons are reported verbatim.
func Registration(username, password, confirmation string) error {
	switch {
	case strings.TrimSpace(username) == "":
		return apperrors.Validation("must provide username")
	case password == "":
		return apperrors.Validation("must provide password")
	case confirmation == "":
		return apperrors.Validation("must confirm password")
	case password != confirmation:
		return apperrors.Validation("password and confirmation are not the same")
	}
	return nil
}
