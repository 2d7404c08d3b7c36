package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/user/papertrade/backend/internal/middleware"
	ws "github.com/user/papertrade/backend/internal/websocket"
)

// upgradeStream authenticates the optional ?token= before the upgrade.
// Anonymous sockets receive prices only.
func (h *Handler) upgradeStream(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	userID := uuid.Nil
	if token := c.Query("token"); token != "" {
		claims, err := h.tokens.Validate(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
		}
		userID = claims.UserID
	}
	c.Locals(middleware.LocalUserID, userID)
	return c.Next()
}

func (h *Handler) streamHandler() fiber.Handler {
	return websocket.New(h.stream)
}

// stream serves one socket. The connection is released when stream returns,
// so it waits for both pumps.
func (h *Handler) stream(c *websocket.Conn) {
	userID, _ := c.Locals(middleware.LocalUserID).(uuid.UUID)
	client := ws.NewClient(c, userID)
	log := h.log.With().Str("remote", c.RemoteAddr().String()).Str("user_id", userID.String()).Logger()

	if err := h.hub.Register(client); err != nil {
		log.Warn().Err(err).Msg("WebSocket rejected")
		return
	}
	log.Debug().Msg("WebSocket connection established")

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(client)
	}()
	h.readPump(client)
	<-done
}

// writePump pumps messages from the hub to the websocket connection.
func (h *Handler) writePump(client *ws.Client) {
	defer client.Conn.Close()
	for message := range client.Send {
		if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.log.Debug().Err(err).Msg("WebSocket write failed")
			h.hub.Unregister(client)
			return
		}
	}
	// Send closed by the hub: tell the peer we are going away.
	_ = client.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}

// readPump drains client frames until the peer disconnects. Clients are not
// expected to send anything.
func (h *Handler) readPump(client *ws.Client) {
	defer h.hub.Unregister(client)
	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Msg("WebSocket closed unexpectedly")
			}
			return
		}
	}
}
