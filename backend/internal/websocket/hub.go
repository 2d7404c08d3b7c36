// Package websocket fans live price moves out to every connected client and
// trade executions out to the sockets of the user who traded.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/user/papertrade/backend/internal/events"
)

const (
	MessagePrice = "price"
	MessageTrade = "trade"

	sendBuffer = 256
)

var ErrHubStopped = errors.New("websocket hub stopped")

// Message is the envelope written to sockets.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Client represents a single WebSocket client connection.
type Client struct {
	Conn   *websocket.Conn
	UserID uuid.UUID   // uuid.Nil for anonymous price-only clients
	Send   chan []byte // Buffered channel for outbound messages
}

func NewClient(conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{Conn: conn, UserID: userID, Send: make(chan []byte, sendBuffer)}
}

type outbound struct {
	userID uuid.UUID // uuid.Nil broadcasts to everyone
	data   []byte
}

// Hub manages WebSocket clients and routes messages to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	outbound   chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	log        zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		outbound:   make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "ws_hub").Logger(),
	}
}

// Run is the hub's event loop. On return every client's Send channel is closed.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info().Msg("Starting WebSocket hub")
	defer func() {
		close(h.done)
		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.Send)
		}
		h.mu.Unlock()
		h.log.Info().Msg("WebSocket hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.log.Debug().Str("user_id", client.UserID.String()).Msg("Client registered")

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.outbound:
			h.deliver(msg)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
		h.log.Debug().Str("user_id", client.UserID.String()).Msg("Client unregistered")
	}
}

func (h *Hub) deliver(msg outbound) {
	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		if msg.userID != uuid.Nil && client.UserID != msg.userID {
			continue
		}
		select {
		case client.Send <- msg.data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.log.Warn().Str("user_id", client.UserID.String()).Msg("Client send buffer full, dropping connection")
		h.remove(client)
	}
}

// Register adds a client. It fails once the hub has stopped.
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Unregister removes a client and closes its Send channel. Safe to call twice.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastPrice queues a price update for every client.
func (h *Hub) BroadcastPrice(update events.PriceUpdate) error {
	return h.enqueue(uuid.Nil, Message{Type: MessagePrice, Data: update})
}

// PublishTrade queues a trade execution for the trading user's clients.
func (h *Hub) PublishTrade(_ context.Context, ev events.TradeExecuted) error {
	return h.enqueue(ev.UserID, Message{Type: MessageTrade, Data: ev})
}

func (h *Hub) enqueue(userID uuid.UUID, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msg.Type, err)
	}
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	select {
	case h.outbound <- outbound{userID: userID, data: data}:
		return nil
	default:
		return fmt.Errorf("websocket hub queue full, dropping %s message", msg.Type)
	}
}

// ListenPrices forwards updates to all clients until ctx is done or
// updates is closed.
func (h *Hub) ListenPrices(ctx context.Context, updates <-chan events.PriceUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := h.BroadcastPrice(update); err != nil {
				h.log.Debug().Err(err).Str("symbol", update.Symbol).Msg("Price update not broadcast")
			}
		}
	}
}

var _ events.Publisher = (*Hub)(nil)
