package websocket

import (
	"errors"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenTeleopCore/internal/auth"
	"github.com/KevinKickass/OpenTeleopCore/internal/session"
	"github.com/KevinKickass/OpenTeleopCore/internal/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the auth message
	authWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Clients authenticate with a token, not cookies.
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	logger *zap.Logger

	// send carries broadcasts. Before registration readPump owns it,
	// afterwards the hub closes it.
	send chan []byte

	// replies carries answers to this client's own requests once registered.
	replies chan []byte

	remoteAddr string
	operator   string
	role       auth.Role
	registered bool
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		if c.registered {
			close(c.replies)
			c.hub.leave(c)
		} else {
			close(c.send)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	for {
		var req Request
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr))
			}
			if !c.registered {
				c.reply(NewMessage(MessageTypeAuthFailed, ErrorData{
					Code: types.CodeBadRequest, Reason: "malformed or missing auth message"}))
			}
			return
		}

		// First message MUST be authentication
		if !c.registered {
			if !c.authenticate(req) {
				return
			}
			continue
		}

		c.handleRequest(req)
	}
}

func (c *Client) authenticate(req Request) bool {
	if req.Type != RequestAuth {
		c.authFailed("first message must be authentication")
		return false
	}
	if req.Token == "" {
		c.authFailed("missing token in auth message")
		return false
	}

	claims, err := c.hub.jwt.ValidateToken(req.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("remote_addr", c.remoteAddr))
		c.authFailed("invalid or expired token")
		return false
	}

	c.operator = claims.Operator
	c.role = claims.Role
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.reply(NewMessage(MessageTypeAuthSuccess, map[string]interface{}{
		"operator":    claims.Operator,
		"permissions": claims.Role.Permissions(),
	}))
	c.reply(NewMessage(MessageTypeSessionStatus, c.hub.sink.Status()))

	if !c.hub.join(c) {
		return false
	}
	c.registered = true

	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.remoteAddr),
		zap.String("operator", claims.Operator),
		zap.String("role", string(claims.Role)))
	return true
}

func (c *Client) authFailed(reason string) {
	c.reply(NewMessage(MessageTypeAuthFailed, ErrorData{Code: types.CodeUnauthorized, Reason: reason}))
}

func (c *Client) handleRequest(req Request) {
	switch req.Type {
	case RequestActions, RequestStart, RequestStop:
	default:
		c.reply(NewErrorMessage(req.Type, types.CodeBadRequest, "unknown request type"))
		return
	}

	if !c.role.Has(auth.PermPilot) {
		c.reply(NewErrorMessage(req.Type, types.CodeForbidden, "insufficient permissions"))
		return
	}

	var err error
	switch req.Type {
	case RequestActions:
		err = c.hub.sink.SubmitActions(req.Actions)
	case RequestStart:
		originator := req.Originator
		if originator == "" {
			originator = c.operator
		}
		err = c.hub.sink.StartTeleoperation(originator)
	case RequestStop:
		err = c.hub.sink.StopTeleoperation()
	}

	if err != nil {
		code := types.CodeInternal
		if errors.Is(err, session.ErrQueueFull) {
			code = types.CodeUnavailable
		}
		c.logger.Warn("WebSocket request rejected",
			zap.String("request", req.Type),
			zap.String("operator", c.operator),
			zap.Error(err))
		c.reply(NewErrorMessage(req.Type, code, err.Error()))
		return
	}

	// Action batches arrive at control rate, acking them would double the traffic.
	if req.Type != RequestActions {
		c.reply(NewMessage(MessageTypeAck, AckData{Request: req.Type}))
	}
}

func (c *Client) reply(msg Message) {
	if !c.registered {
		c.send <- encode(msg)
		return
	}
	select {
	case c.replies <- encode(msg):
	default:
		c.logger.Warn("Client reply buffer full, message dropped",
			zap.String("remote_addr", c.remoteAddr),
			zap.String("message_type", string(msg.Type)))
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	replies := c.replies
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce queued messages into current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case message, ok := <-replies:
			if !ok {
				replies = nil
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		replies:    make(chan []byte, sendBufferSize),
		logger:     hub.logger,
		remoteAddr: conn.RemoteAddr().String(),
	}

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
