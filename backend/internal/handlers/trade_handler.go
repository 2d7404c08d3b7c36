package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/models"
	"github.com/user/papertrade/backend/internal/trading"
)

// TradeRequest is the body of /api/buy and /api/sell.
type TradeRequest struct {
	Symbol string `json:"symbol" form:"symbol"`
	Shares Input  `json:"shares" form:"shares"`
}

// DepositRequest is the body of /api/cash.
type DepositRequest struct {
	Amount Input `json:"amount" form:"amount"`
}

type tradeResponse struct {
	*trading.Execution
	Side         string `json:"side"`
	TotalDisplay string `json:"total_display"`
	CashDisplay  string `json:"cash_display"`
}

type quoteResponse struct {
	models.Quote
	PriceDisplay string `json:"price_display"`
}

type cashResponse struct {
	Cash        decimal.Decimal `json:"cash"`
	CashDisplay string          `json:"cash_display"`
}

func (h *Handler) GetQuote(c *fiber.Ctx) error {
	q, err := h.engine.Quote(c.UserContext(), c.Params("symbol"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(quoteResponse{Quote: q, PriceDisplay: models.FormatUSD(q.Price)})
}

func (h *Handler) Buy(c *fiber.Ctx) error {
	return h.trade(c, h.engine.Buy)
}

func (h *Handler) Sell(c *fiber.Ctx) error {
	return h.trade(c, h.engine.Sell)
}

type tradeFunc = func(ctx context.Context, userID uuid.UUID, symbol, shares string) (*trading.Execution, error)

func (h *Handler) trade(c *fiber.Ctx, execute tradeFunc) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	req := new(TradeRequest)
	if err := c.BodyParser(req); err != nil {
		return badBody(c)
	}

	exec, err := execute(c.UserContext(), userID, req.Symbol, string(req.Shares))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(tradeResponse{
		Execution:    exec,
		Side:         exec.Transaction.Side(),
		TotalDisplay: models.FormatUSD(exec.Total),
		CashDisplay:  models.FormatUSD(exec.CashAfter),
	})
}

func (h *Handler) Deposit(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	req := new(DepositRequest)
	if err := c.BodyParser(req); err != nil {
		return badBody(c)
	}

	cash, err := h.engine.Deposit(c.UserContext(), userID, string(req.Amount))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(cashResponse{Cash: cash, CashDisplay: models.FormatUSD(cash)})
}
