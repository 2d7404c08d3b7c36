package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/user/papertrade/backend/internal/models"
)

type positionView struct {
	models.Position
	PriceDisplay string `json:"price_display"`
	ValueDisplay string `json:"value_display"`
}

type portfolioResponse struct {
	Positions       []positionView `json:"positions"`
	Cash            string         `json:"cash"`
	NetWorth        string         `json:"net_worth"`
	CashDisplay     string         `json:"cash_display"`
	NetWorthDisplay string         `json:"net_worth_display"`
}

type historyEntry struct {
	models.Transaction
	Side         string `json:"side"`
	PriceDisplay string `json:"price_display"`
}

// GetPortfolio values the user's open positions at live prices. A quote
// failure fails the whole page; no partial portfolio is ever returned.
func (h *Handler) GetPortfolio(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}

	val, err := h.valuator.Valuation(c.UserContext(), userID)
	if err != nil {
		return h.respondError(c, err)
	}

	positions := make([]positionView, 0, len(val.Positions))
	for _, p := range val.Positions {
		positions = append(positions, positionView{
			Position:     p,
			PriceDisplay: models.FormatUSD(p.MarketPrice),
			ValueDisplay: models.FormatUSD(p.MarketValue),
		})
	}
	return c.JSON(portfolioResponse{
		Positions:       positions,
		Cash:            val.Cash.StringFixed(models.CurrencyPlaces),
		NetWorth:        val.NetWorth.StringFixed(models.CurrencyPlaces),
		CashDisplay:     models.FormatUSD(val.Cash),
		NetWorthDisplay: models.FormatUSD(val.NetWorth),
	})
}

// GetHistory lists every ledger row of the user, oldest first.
func (h *Handler) GetHistory(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}

	rows, err := h.engine.History(c.UserContext(), userID)
	if err != nil {
		return h.respondError(c, err)
	}

	entries := make([]historyEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, historyEntry{
			Transaction:  r,
			Side:         r.Side(),
			PriceDisplay: models.FormatUSD(r.Price),
		})
	}
	return c.JSON(fiber.Map{"transactions": entries})
}
