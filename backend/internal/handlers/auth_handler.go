package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// SignupRequest defines the expected JSON body for signup
type SignupRequest struct {
	Username     string `json:"username" form:"username"`
	Password     string `json:"password" form:"password"`
	Confirmation string `json:"confirmation" form:"confirmation"`
}

// LoginRequest defines the expected JSON body for login
type LoginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// AuthResponse defines the JSON response for successful auth
type AuthResponse struct {
	Token    string    `json:"token"`
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	IssuedAt time.Time `json:"issued_at"`
}

// Register handles user registration.
func (h *Handler) Register(c *fiber.Ctx) error {
	req := new(SignupRequest)
	if err := c.BodyParser(req); err != nil {
		return badBody(c)
	}

	id, err := h.engine.Register(c.UserContext(), req.Username, req.Password, req.Confirmation)
	if err != nil {
		return h.respondError(c, err)
	}
	return h.issue(c, fiber.StatusCreated, id, req.Username)
}

// Login handles user authentication.
func (h *Handler) Login(c *fiber.Ctx) error {
	req := new(LoginRequest)
	if err := c.BodyParser(req); err != nil {
		return badBody(c)
	}

	user, err := h.engine.Authenticate(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return h.respondError(c, err)
	}
	return h.issue(c, fiber.StatusOK, user.ID, user.Username)
}

func (h *Handler) issue(c *fiber.Ctx, status int, id uuid.UUID, username string) error {
	token, err := h.tokens.Generate(id, username)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", id.String()).Msg("Failed to generate token")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate token"})
	}
	return c.Status(status).JSON(AuthResponse{
		Token:    token,
		UserID:   id,
		Username: username,
		IssuedAt: time.Now().UTC(),
	})
}
