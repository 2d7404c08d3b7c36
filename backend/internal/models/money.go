package models

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// CurrencyPlaces is the number of fractional digits kept for cash amounts.
const CurrencyPlaces = 2

// RoundCash rounds to cents, half away from zero.
func RoundCash(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

// FormatUSD renders an amount as "$1,234.56".
func FormatUSD(d decimal.Decimal) string {
	rounded := RoundCash(d)
	cents := rounded.Shift(CurrencyPlaces).BigInt()
	if !cents.IsInt64() {
		return "$" + rounded.StringFixed(CurrencyPlaces)
	}
	return money.New(cents.Int64(), money.USD).Display()
}

// PricePlaces is the precision share prices are stored with.
const PricePlaces = 4

// RoundPrice rounds a share price to PricePlaces, half away from zero.
func RoundPrice(d decimal.Decimal) decimal.Decimal {
	return d.Round(PricePlaces)
}

// Bounds that keep every stored amount inside the ledger columns
// (cash NUMERIC(18,2), share_price NUMERIC(18,4)).
var (
	MaxCash    = decimal.New(1, 15)
	MaxDeposit = decimal.New(1, 9)
	MaxPrice   = decimal.New(1, 9)
)
