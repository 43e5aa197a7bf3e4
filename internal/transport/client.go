// Package transport owns the duplex websocket to the live agent.
package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/parley/domain/entities"
	"github.com/satriahrh/parley/domain/repositories"
	"github.com/satriahrh/parley/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Agent audio turns arrive as large base64 frames.
	maxMessageSize = 16 * 1024 * 1024

	DefaultHandshakeTimeout = 30 * time.Second
	DefaultURL              = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"
)

// Config configures a Client
type Config struct {
	URL              string
	APIKey           string
	HandshakeTimeout time.Duration
	EventBuffer      int
	SendBuffer       int
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	return c
}

type outboundFrame struct {
	kind    entities.MediaKind
	payload []byte
	size    int
}

// connectAttempt is shared by every caller of Connect while it is in flight
type connectAttempt struct {
	done chan struct{}
	err  error
}

// Client is a single-use connection to the agent
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	state      entities.ConnectionState
	attempt    *connectAttempt
	cancelDial context.CancelFunc
	conn       *websocket.Conn
	err        error

	send    chan outboundFrame
	events  chan entities.InboundEvent
	closing chan struct{}
	done    chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ repositories.Transport = (*Client)(nil)

// NewClient creates an idle client; m may be nil
func NewClient(cfg Config, logger *zap.Logger, m *metrics.Metrics) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger:  logger,
		metrics: m,
		state:   entities.ConnectionIdle,
		send:    make(chan outboundFrame, cfg.SendBuffer),
		events:  make(chan entities.InboundEvent, cfg.EventBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Factory returns a TransportFactory producing fresh clients with the same config
func Factory(cfg Config, logger *zap.Logger, m *metrics.Metrics) repositories.TransportFactory {
	return func() repositories.Transport {
		return NewClient(cfg, logger, m)
	}
}

// Connect dials the agent and sends the setup frame before any media.
// Concurrent calls share one attempt and observe the same result.
func (c *Client) Connect(ctx context.Context, setup repositories.SetupConfig) error {
	c.mu.Lock()
	switch c.state {
	case entities.ConnectionIdle:
	case entities.ConnectionConnecting, entities.ConnectionOpen:
		attempt := c.attempt
		c.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	default:
		c.mu.Unlock()
		return entities.NewStateError("transport already closed; construct a new one")
	}

	attempt := &connectAttempt{done: make(chan struct{})}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	c.attempt = attempt
	c.cancelDial = cancel
	c.state = entities.ConnectionConnecting
	c.mu.Unlock()

	err := c.connect(dialCtx, setup)
	cancel()

	attempt.err = err
	close(attempt.done)
	return err
}

func (c *Client) connect(ctx context.Context, setup repositories.SetupConfig) error {
	target, err := url.Parse(c.cfg.URL)
	if err != nil {
		return c.failConnect(entities.NewConnectionError(entities.CodeUnknown, "invalid agent url", err))
	}
	if c.cfg.APIKey != "" {
		q := target.Query()
		q.Set("key", c.cfg.APIKey)
		target.RawQuery = q.Encode()
	}

	c.logger.Info("Connecting to agent", zap.String("host", target.Host))
	conn, resp, err := c.dialer.DialContext(ctx, target.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return c.failConnect(classifyDialError(err, resp))
	}

	payload, err := encodeSetup(setup)
	if err != nil {
		conn.Close()
		return c.failConnect(entities.NewProtocolError("failed to encode setup", err))
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		conn.Close()
		return c.failConnect(classifyReadError(err))
	}

	c.mu.Lock()
	if c.state != entities.ConnectionConnecting {
		c.mu.Unlock()
		conn.Close()
		c.closeAll()
		return entities.NewNotConnectedError("disconnected while connecting")
	}
	c.conn = conn
	c.state = entities.ConnectionOpen
	c.wg.Add(2)
	go c.readPump(conn)
	go c.writePump(conn)
	go c.waitPumps()
	c.mu.Unlock()

	c.logger.Info("Agent connection open", zap.String("model", setup.Model))
	return nil
}

func (c *Client) failConnect(err error) error {
	c.mu.Lock()
	if c.state == entities.ConnectionConnecting {
		c.state = entities.ConnectionError
		c.err = err
	}
	c.mu.Unlock()
	c.closeAll()
	c.logger.Error("Agent connection failed", zap.Error(err))
	c.metrics.Error(string(entities.CategoryOf(err)), string(codeOf(err)))
	return err
}

// closeAll releases the channels of a client whose pumps never started
func (c *Client) closeAll() {
	c.closeOnce.Do(func() {
		close(c.closing)
		close(c.events)
		close(c.done)
	})
}

func codeOf(err error) entities.ErrorCode {
	var domainErr *entities.Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// terminate records the first terminal error and tears the connection down
func (c *Client) terminate(err error) {
	c.mu.Lock()
	if c.state == entities.ConnectionOpen {
		if err != nil {
			c.state = entities.ConnectionError
			c.err = err
		} else {
			c.state = entities.ConnectionClosed
		}
	}
	conn := c.conn
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.closing) })
	if conn != nil {
		conn.Close()
	}
	if err != nil {
		c.logger.Warn("Agent connection terminated", zap.Error(err))
		c.metrics.Error(string(entities.CategoryOf(err)), string(codeOf(err)))
	}
}

func (c *Client) waitPumps() {
	c.wg.Wait()
	close(c.events)
	close(c.done)
}

// readPump demultiplexes inbound frames in wire order
func (c *Client) readPump(conn *websocket.Conn) {
	defer c.wg.Done()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
				c.terminate(nil)
			default:
				c.terminate(classifyReadError(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		msg, err := decodeServerMessage(data)
		if err != nil {
			c.logger.Warn("Dropped malformed agent frame", zap.Error(err), zap.Int("bytes", len(data)))
			c.metrics.FrameDropped("protocol")
			continue
		}
		if msg.Error != nil {
			c.terminate(classifyServerError(msg.Error))
			return
		}
		if msg.SetupComplete != nil {
			c.logger.Debug("Agent acknowledged setup")
		}
		if msg.GoAway != nil {
			c.logger.Warn("Agent announced disconnect", zap.String("timeLeft", msg.GoAway.TimeLeft))
		}

		events, dropped := demux(msg)
		for _, derr := range dropped {
			c.logger.Warn("Dropped undecodable inline part", zap.Error(derr))
			c.metrics.FrameDropped("codec")
		}
		for _, ev := range events {
			size := 0
			if audio, ok := ev.(entities.AudioData); ok {
				size = len(audio.Data)
			}
			c.metrics.InboundEvent(string(ev.EventType()), size)
			select {
			case c.events <- ev:
			case <-c.closing:
				c.terminate(nil)
				return
			}
		}
	}
}

// writePump serializes outbound frames; it is the only writer after setup
func (c *Client) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.wg.Done()
	}()

	for {
		select {
		case frame := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame.payload); err != nil {
				c.logger.Debug("Failed to write frame", zap.String("kind", string(frame.kind)), zap.Error(err))
				c.terminate(classifyReadError(err))
				return
			}
			c.metrics.FrameSent(string(frame.kind), frame.size)
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.terminate(classifyReadError(err))
				return
			}
		case <-c.closing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
			return
		}
	}
}

func (c *Client) enqueue(ctx context.Context, kind entities.MediaKind, size int, encode func() ([]byte, error)) error {
	c.mu.Lock()
	if c.state != entities.ConnectionOpen {
		state := c.state
		c.mu.Unlock()
		c.metrics.FrameDropped("not_connected")
		return entities.NewNotConnectedError("cannot send " + string(kind) + " while " + string(state))
	}
	c.mu.Unlock()

	payload, err := encode()
	if err != nil {
		return entities.NewProtocolError("failed to encode "+string(kind), err)
	}

	select {
	case c.send <- outboundFrame{kind: kind, payload: payload, size: size}:
		return nil
	case <-c.closing:
		c.metrics.FrameDropped("not_connected")
		return entities.NewNotConnectedError("connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) SendAudio(ctx context.Context, chunk entities.AudioChunk) error {
	return c.enqueue(ctx, entities.MediaKindAudio, len(chunk.PCM), func() ([]byte, error) {
		return encodeAudio(chunk)
	})
}

func (c *Client) SendImage(ctx context.Context, chunk entities.ImageChunk) error {
	return c.enqueue(ctx, entities.MediaKindImage, len(chunk.JPEGBase64), func() ([]byte, error) {
		return encodeImage(chunk)
	})
}

func (c *Client) SendText(ctx context.Context, turn entities.TextTurn) error {
	return c.enqueue(ctx, entities.MediaKindText, len(turn.Text), func() ([]byte, error) {
		return encodeText(turn)
	})
}

func (c *Client) SendToolResponse(ctx context.Context, response repositories.ToolResponse) error {
	return c.enqueue(ctx, "tool_response", 0, func() ([]byte, error) {
		return encodeToolResponse(response)
	})
}

func (c *Client) Events() <-chan entities.InboundEvent {
	return c.events
}

func (c *Client) State() entities.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Disconnect closes with a normal close frame and waits for the pumps to exit.
// It is idempotent and also aborts an in-flight Connect.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case entities.ConnectionIdle:
		c.state = entities.ConnectionClosed
		c.mu.Unlock()
		c.closeAll()
		return nil
	case entities.ConnectionConnecting:
		c.state = entities.ConnectionClosed
		cancel := c.cancelDial
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		// the connect path closes the channels once the dial returns
		return nil
	case entities.ConnectionOpen:
		c.state = entities.ConnectionClosed
		conn := c.conn
		c.mu.Unlock()
		c.logger.Info("Disconnecting from agent")
		c.closeOnce.Do(func() { close(c.closing) })

		select {
		case <-c.done:
		case <-time.After(writeWait):
			conn.Close()
			<-c.done
		case <-ctx.Done():
			conn.Close()
			<-c.done
		}
		return nil
	default:
		c.mu.Unlock()
		return nil
	}
}
