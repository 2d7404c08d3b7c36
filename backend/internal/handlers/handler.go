package handlers

import (
	"bytes"
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/user/papertrade/backend/internal/apperrors"
	"github.com/user/papertrade/backend/internal/auth"
	"github.com/user/papertrade/backend/internal/middleware"
	"github.com/user/papertrade/backend/internal/portfolio"
	"github.com/user/papertrade/backend/internal/trading"
	ws "github.com/user/papertrade/backend/internal/websocket"
)

// quoteRetryAfter is the Retry-After hint sent with QuoteUnavailable.
const quoteRetryAfter = 60

// Pinger reports whether the ledger store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the JSON API over the trading engine.
type Handler struct {
	engine   *trading.Engine
	valuator *portfolio.Valuator
	tokens   *auth.TokenIssuer
	hub      *ws.Hub
	db       Pinger
	log      zerolog.Logger
}

func New(engine *trading.Engine, valuator *portfolio.Valuator, tokens *auth.TokenIssuer, hub *ws.Hub, db Pinger, log zerolog.Logger) *Handler {
	return &Handler{
		engine:   engine,
		valuator: valuator,
		tokens:   tokens,
		hub:      hub,
		db:       db,
		log:      log.With().Str("component", "http").Logger(),
	}
}

// Routes mounts every endpoint on app.
func (h *Handler) Routes(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/health", h.Health)
	api.Post("/auth/register", h.Register)
	api.Post("/auth/login", h.Login)

	protected := api.Group("", middleware.Protected(h.tokens))
	protected.Get("/quote/:symbol", h.GetQuote)
	protected.Post("/buy", h.Buy)
	protected.Post("/sell", h.Sell)
	protected.Post("/cash", h.Deposit)
	protected.Get("/portfolio", h.GetPortfolio)
	protected.Get("/history", h.GetHistory)

	app.Get("/ws/stream", h.upgradeStream, h.streamHandler())
}

// Health pings the store.
func (h *Handler) Health(c *fiber.Ctx) error {
	if err := h.db.Ping(c.UserContext()); err != nil {
		h.log.Error().Err(err).Msg("Health check failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// statusFor maps an error kind to the HTTP status sent to the client.
func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation, apperrors.KindInvalidQuantity, apperrors.KindInvalidAmount, apperrors.KindUnknownSymbol:
		return fiber.StatusBadRequest
	case apperrors.KindInsufficientFunds, apperrors.KindInsufficientShares:
		return fiber.StatusUnprocessableEntity
	case apperrors.KindDuplicateUsername:
		return fiber.StatusConflict
	case apperrors.KindNotFound:
		return fiber.StatusNotFound
	case apperrors.KindQuoteUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes the classified error body. Non-user-facing errors are
// logged and replaced with a generic message.
func (h *Handler) respondError(c *fiber.Ctx, err error) error {
	kind := apperrors.KindOf(err)
	status := statusFor(kind)
	if status >= fiber.StatusInternalServerError && kind != apperrors.KindQuoteUnavailable {
		h.log.Error().Err(err).Str("path", c.Path()).Str("kind", kind.String()).Msg("Request failed")
	}
	if kind == apperrors.KindQuoteUnavailable {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(quoteRetryAfter))
	}
	return c.Status(status).JSON(fiber.Map{
		"error":     apperrors.Message(err),
		"code":      kind.String(),
		"retryable": kind.Retryable(),
	})
}

func badBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse request body"})
}

func currentUser(c *fiber.Ctx) (uuid.UUID, error) {
	id, ok := middleware.UserID(c)
	if !ok {
		return uuid.Nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid user ID in token")
	}
	return id, nil
}

// Input accepts a JSON string or number and keeps its literal text, so the
// engine sees exactly what the user typed.
type Input string

func (i *Input) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		*i = Input(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*i = ""
		return nil
	}
	if len(data) > 0 && (data[0] == '{' || data[0] == '[') {
		return errors.New("expected a string or number")
	}
	*i = Input(data)
	return nil
}

// ErrorHandler renders fiber errors as JSON bodies.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := "something went wrong, please try again"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		msg = fe.Message
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
