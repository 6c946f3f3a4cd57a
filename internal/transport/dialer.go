package transport

import (
	"context"
	"fmt"
	"strings"

	"nhooyr.io/websocket"
)

// Conn is a single live push connection. The real implementation wraps a
// websocket; tests substitute a fake.
type Conn interface {
	// Read blocks until the next inbound frame or an error.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one outbound frame.
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer establishes live push connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WSDialer dials the backend's websocket endpoint, deriving the ws URL
// from the HTTP base URL and passing the session token as a query param.
type WSDialer struct {
	BaseURL string
	Token   string
}

func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	wsURL := strings.Replace(d.BaseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws/chat/?token=" + d.Token

	c, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "client disconnect")
}
