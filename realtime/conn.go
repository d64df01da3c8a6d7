package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

var (
	// ErrClosed is returned when sending on a connection that was closed locally.
	ErrClosed = errors.New("realtime connection closed")
	// ErrMalformedEvent is returned when an upstream frame is not a JSON event.
	ErrMalformedEvent = errors.New("malformed realtime event")
)

const closeTimeout = time.Second

// DialConfig describes the upstream endpoint and its credential.
type DialConfig struct {
	URL    string
	Model  string
	APIKey string
}

// Endpoint returns the WebSocket URL with the model query parameter applied.
func (c DialConfig) Endpoint() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("invalid realtime URL: %w", err)
	}
	if c.Model != "" {
		q := u.Query()
		q.Set("model", c.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Header returns the handshake headers: bearer auth plus the beta opt-in.
func (c DialConfig) Header() http.Header {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")
	return header
}

// Conn is one upstream realtime connection. Send is safe for concurrent use;
// Receive must only be called from one goroutine.
type Conn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

// Dial opens the upstream connection. No retry is attempted.
func Dial(ctx context.Context, cfg DialConfig) (*Conn, error) {
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, cfg.Header())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to realtime API (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to realtime API: %w", err)
	}
	return NewConn(ws), nil
}

// NewConn wraps an established WebSocket.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{
		ws:     ws,
		closed: make(chan struct{}),
	}
}

// Send encodes and writes one client event.
func (c *Conn) Send(event ClientEvent) error {
	data, err := sonic.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event.EventType(), err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s: %w", event.EventType(), err)
	}
	return nil
}

// Receive blocks until the next upstream event arrives.
func (c *Conn) Receive() (*ServerEvent, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}

	var event ServerEvent
	if err := sonic.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return &event, nil
}

// Close sends a normal closure frame and releases the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeTimeout),
		)
		err = c.ws.Close()
	})
	return err
}
