// Package websocket streams session snapshots to watching clients and accepts
// session commands from controlling ones.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/parley/domain/entities"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16 * 1024

	// commandTimeout bounds one command; ending a session waits for the closing turn.
	commandTimeout = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// Auth is token based, so any origin may connect
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Controller is the session surface the stream exposes
type Controller interface {
	Subscribe() (<-chan entities.SessionSnapshot, func())
	ToggleMic(ctx context.Context) error
	ToggleCamera(ctx context.Context) error
	ToggleScreenShare(ctx context.Context) error
	SendText(ctx context.Context, text string) error
	SetVolume(gain float64)
	EndSession(ctx context.Context) (entities.StructuredReport, error)
}

// Hub maintains the set of connected clients
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	controller Controller
	validator  *MessageValidator
	clock      clock.Clock
	logger     *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(controller Controller, clk clock.Clock, logger *zap.Logger) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		controller: controller,
		validator:  NewMessageValidator(),
		clock:      clk,
		logger:     logger,
	}
}

// Run starts the hub's main loop and disconnects every client when ctx ends
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.String("clientID", client.id),
				zap.Bool("canControl", client.canControl))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.close()
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("clientID", client.id))

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				client.close()
			}
			h.mu.Unlock()
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type WriteData struct {
	// Expect websocket.TextMessage or websocket.CloseMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	id         string
	canControl bool
	logger     *zap.Logger

	mu     sync.Mutex
	send   chan WriteData
	closed bool
	done   chan struct{}
}

// HandleWebSocket upgrades the request and attaches a client. canControl
// decides whether commands are accepted or only snapshots are streamed.
func HandleWebSocket(hub *Hub, c echo.Context, clientID string, canControl bool) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	if clientID == "" {
		clientID = "anonymous"
	}
	id := clientID + "-" + uuid.NewString()[:8]
	client := &Client{
		hub:        hub,
		conn:       conn,
		id:         id,
		canControl: canControl,
		logger:     hub.logger.With(zap.String("clientID", id)),
		send:       make(chan WriteData, 64),
		done:       make(chan struct{}),
	}

	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
	go client.forwardSnapshots()

	return nil
}

// close is called by the hub only
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	close(c.done)
}

// enqueue marshals msg and queues it, dropping it when the client is slow
func (c *Client) enqueue(msg interface{}) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
	default:
		c.logger.Warn("Client send buffer full, dropping message")
	}
}

// forwardSnapshots relays session snapshots until the client goes away
func (c *Client) forwardSnapshots() {
	snapshots, cancel := c.hub.controller.Subscribe()
	defer cancel()

	for {
		select {
		case <-c.done:
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			c.enqueue(CreateStatusMessage(snapshot, c.hub.clock.Now()))
		}
	}
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		default:
			c.logger.Warn("Received unsupported message type", zap.Int("type", messageType))
			c.enqueue(CreateErrorMessage("unsupported_message", "only text messages are accepted", "", c.hub.clock.Now()))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
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

// processMessage processes incoming messages from the client
func (c *Client) processMessage(message []byte) {
	now := c.hub.clock.Now()
	parsed, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid message", zap.Error(err))
		c.enqueue(CreateErrorMessage("invalid_message", "message could not be processed", err.Error(), now))
		return
	}

	switch msg := parsed.(type) {
	case *PingMessage:
		c.enqueue(CreatePongMessage(msg.Data, now))
	case *CommandMessage:
		if !c.canControl {
			c.enqueue(CreateErrorMessage("forbidden", "this connection may only watch", msg.Command, now))
			return
		}
		// commands can block on the agent, so keep reading meanwhile
		go c.runCommand(msg)
	}
}

func (c *Client) runCommand(msg *CommandMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	controller := c.hub.controller
	var err error
	var report *entities.StructuredReport
	switch msg.Command {
	case CommandToggleMic:
		err = controller.ToggleMic(ctx)
	case CommandToggleCamera:
		err = controller.ToggleCamera(ctx)
	case CommandToggleScreen:
		err = controller.ToggleScreenShare(ctx)
	case CommandSendText:
		err = controller.SendText(ctx, msg.Text)
	case CommandSetVolume:
		controller.SetVolume(*msg.Gain)
	case CommandEndSession:
		var r entities.StructuredReport
		r, err = controller.EndSession(ctx)
		if entities.CategoryOf(err) != entities.CategoryState {
			report = &r
		}
	}

	if err != nil {
		c.logger.Info("Command failed", zap.String("command", msg.Command), zap.Error(err))
	}
	result := CreateCommandResult(msg, err, c.hub.clock.Now())
	result.Report = report
	c.enqueue(result)
}
