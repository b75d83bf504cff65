package p2p

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/notesync/notesync/libs/log"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultMaxMessageSize = 1 << 20
	defaultBufferSize     = 4096
)

// wsConn adapts a gorilla websocket connection to Conn. Frames are text
// messages.
type wsConn struct {
	conn   *websocket.Conn
	remote string

	writeWait time.Duration

	closeOnce sync.Once
	closeErr  error
}

func newWSConn(conn *websocket.Conn, remote string, maxMessageSize int64) *wsConn {
	conn.SetReadLimit(maxMessageSize)
	return &wsConn{
		conn:      conn,
		remote:    remote,
		writeWait: defaultWriteWait,
	}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteMessage(frame []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) RemoteAddr() string { return c.remote }

// Close sends a close frame, best effort, and closes the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// WSDialer dials peers over websocket at ws://<address><path>.
type WSDialer struct {
	Path           string
	MaxMessageSize int64

	dialer *websocket.Dialer
}

// NewWSDialer returns a dialer for the default endpoint path.
func NewWSDialer() *WSDialer {
	return &WSDialer{
		Path:           DefaultEndpointPath,
		MaxMessageSize: defaultMaxMessageSize,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultDialTimeout,
			ReadBufferSize:   defaultBufferSize,
			WriteBufferSize:  defaultBufferSize,
		},
	}
}

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	if address == "" {
		return nil, errors.New("empty peer address")
	}
	u := url.URL{Scheme: "ws", Host: address, Path: d.Path}

	conn, resp, err := d.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s: %s: %w", address, resp.Status, err)
		}
		return nil, err
	}
	return newWSConn(conn, address, d.MaxMessageSize), nil
}

// WebsocketHandler upgrades HTTP requests to peer sessions and hands them to
// the Registry.
type WebsocketHandler struct {
	registry *Registry
	logger   log.Logger
	upgrader websocket.Upgrader

	MaxMessageSize int64
}

// NewWebsocketHandler returns an http.Handler that accepts peer sessions.
func NewWebsocketHandler(registry *Registry, logger log.Logger) *WebsocketHandler {
	return &WebsocketHandler{
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  defaultBufferSize,
			WriteBufferSize: defaultBufferSize,
			// Peers are other nodes, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		MaxMessageSize: defaultMaxMessageSize,
	}
}

func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an error status.
		h.logger.Error("failed to upgrade peer connection", "remote", r.RemoteAddr, "err", err)
		return
	}
	h.registry.Accept(newWSConn(conn, r.RemoteAddr, h.MaxMessageSize))
}
