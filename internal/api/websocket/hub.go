package websocket

import (
	"context"

	"github.com/KevinKickass/OpenTeleopCore/internal/auth"
	"github.com/KevinKickass/OpenTeleopCore/internal/session"
	"github.com/KevinKickass/OpenTeleopCore/internal/types"
	"go.uber.org/zap"
)

// CommandSink accepts teleoperation requests from clients.
type CommandSink interface {
	StartTeleoperation(originator string) error
	StopTeleoperation() error
	SubmitActions(actions types.RemoteActions) error
	Status() session.Status
}

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	// Registered clients, owned by Run
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Client count requests (Run owns the map)
	count chan chan int

	done chan struct{}

	logger *zap.Logger
	jwt    *auth.JWTHandler
	sink   CommandSink
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger, jwt *auth.JWTHandler, sink CommandSink) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		logger:     logger,
		jwt:        jwt,
		sink:       sink,
	}
}

// OnSessionEvent forwards session events to all clients.
func (h *Hub) OnSessionEvent(ev session.Event) {
	h.Broadcast(NewSessionMessage(ev))
}

// Run starts the hub's main event loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket Hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.logger.Info("WebSocket Hub stopped")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.logger.Info("WebSocket client registered",
				zap.String("remote_addr", client.remoteAddr),
				zap.String("operator", client.operator),
				zap.Int("total_clients", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("remote_addr", client.remoteAddr),
					zap.Int("total_clients", len(h.clients)))
			}

		case reply := <-h.count:
			reply <- len(h.clients)

		case message := <-h.broadcast:
			data := encode(message)
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Client send channel full - unregister slow/dead client
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("remote_addr", client.remoteAddr))
				}
			}
		}
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// join hands an authenticated client to Run. It reports false once the
// hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
