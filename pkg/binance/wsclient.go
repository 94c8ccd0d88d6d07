package binance

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"fapitrader/logger"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var requestID uint64

// maxFrameSize bounds inbound frames; bookTicker frames are well under 1 KB.
const maxFrameSize = 64 << 10

// WSOptions configures connection and keepalive timing.
type WSOptions struct {
	PingInterval     time.Duration
	PingTimeout      time.Duration
	HandshakeTimeout time.Duration
}

type subscribeReq struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

// WSClient handles a single market stream session: dial, subscribe, then
// read until the connection fails, keepalive lapses or ctx is cancelled.
// Reconnection policy is left to the caller.
type WSClient struct {
	url     string
	streams []string
	opts    WSOptions
	dialer  *websocket.Dialer
	handler func([]byte) error
	logger  *zap.Logger
}

// NewWSClient creates a new WebSocket client for the given streams. An
// empty url selects the futures testnet.
func NewWSClient(url string, streams []string, opts WSOptions, log *zap.Logger) *WSClient {
	if url == "" {
		url = TestnetWSURL
	}
	return &WSClient{
		url:     url,
		streams: streams,
		opts:    opts,
		dialer:  &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		logger:  log.Named("ws"),
	}
}

// SetMessageHandler sets the function to handle incoming messages. A
// non-nil error from the handler ends the session.
func (c *WSClient) SetMessageHandler(h func([]byte) error) {
	c.handler = h
}

// Run connects, calls onConnected once the subscription is sent, and
// listens until the session ends. It returns nil only when ctx is done.
func (c *WSClient) Run(ctx context.Context, onConnected func()) error {
	conn, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	if onConnected != nil {
		onConnected()
	}
	return c.Listen(ctx, conn)
}

// Connect establishes the WebSocket connection and subscribes to the
// configured streams. It does not start the listener.
func (c *WSClient) Connect(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		// Keep the rejection body; it usually says why (maintenance, bad path)
		if resp != nil && resp.Body != nil {
			body, errR := io.ReadAll(resp.Body)
			resp.Body.Close()
			if errR == nil {
				err = errors.Wrapf(err, "handshake rejected with HTTP %d: %q", resp.StatusCode, string(body))
			}
		}
		return nil, err
	}

	// Subscribe on every (re)connect
	if len(c.streams) > 0 {
		sub := subscribeReq{
			Method: "SUBSCRIBE",
			Params: c.streams,
			ID:     atomic.AddUint64(&requestID, 1),
		}
		b, err := json.Marshal(sub)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("binance.Connect: %w", err)
		}

		if c.opts.PingTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.PingTimeout))
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			conn.Close()
			return nil, fmt.Errorf("websocket subscribe failed: %w", err)
		}
		_ = conn.SetWriteDeadline(time.Time{})
		c.logger.Debug("subscription sent", zap.ByteString("request", b))
	}

	return conn, nil
}

// Listen reads messages until the session ends and always closes conn.
// Any inbound frame, pong or server ping proves liveness; silence longer
// than PingInterval+PingTimeout is treated as a dead connection.
func (c *WSClient) Listen(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxFrameSize)

	// Any inbound traffic pushes the read deadline forward
	liveness := c.opts.PingInterval + c.opts.PingTimeout
	extend := func() {
		if liveness > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(liveness))
		}
	}
	extend()

	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	// Answer server pings with the same payload
	conn.SetPingHandler(func(appData string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), c.controlDeadline())
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	defer func() {
		close(done)
		conn.Close()
		wg.Wait()
	}()

	// Shutdown: send a normal close frame so the read below returns.
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
		}
	}()

	// Client-side keepalive
	go func() {
		defer wg.Done()
		if c.opts.PingInterval <= 0 {
			return
		}
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, c.controlDeadline()); err != nil {
					c.logger.Warn("keepalive ping failed", logger.Status(logger.MarkWarn), zap.Error(err))
					_ = conn.SetReadDeadline(time.Now())
					return
				}
			}
		}
	}()

	// Read loop
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		extend()

		if c.handler != nil {
			if err := c.handler(msg); err != nil {
				return err
			}
		}
	}
}

// controlDeadline bounds control frame writes by PingTimeout; zero means no bound.
func (c *WSClient) controlDeadline() time.Time {
	if c.opts.PingTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.opts.PingTimeout)
}
