// Package wsconn adapts gorilla/websocket to the streaming transport port.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"livescribe/internal/ports"
)

const writeWait = 5 * time.Second

// Config controls websocket dialing.
type Config struct {
	DialTimeout time.Duration
	Header      http.Header
}

// Transport dials websocket connections to the transcription backend.
type Transport struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewTransport(cfg Config) *Transport {
	dialer := *websocket.DefaultDialer
	if cfg.DialTimeout > 0 {
		dialer.HandshakeTimeout = cfg.DialTimeout
	}
	return &Transport{cfg: cfg, dialer: &dialer}
}

func (t *Transport) Dial(ctx context.Context, endpoint string) (ports.Conn, error) {
	if t.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.DialTimeout)
		defer cancel()
	}

	conn, resp, err := t.dialer.DialContext(ctx, endpoint, t.cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	return &Conn{conn: conn}, nil
}

// Conn serializes writes on a gorilla connection. Reads belong to a single
// reader goroutine.
type Conn struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *Conn) ReadMessage() (ports.MessageType, []byte, error) {
	messageType, payload, err := c.conn.ReadMessage()
	if err != nil {
		return 0, nil, translateErr(err)
	}
	return ports.MessageType(messageType), payload, nil
}

func (c *Conn) WriteMessage(messageType ports.MessageType, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(int(messageType), payload); err != nil {
		return translateErr(err)
	}
	return nil
}

// WriteClose sends a close frame with the given code and reason.
func (c *Conn) WriteClose(code int, reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	message := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait)); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return translateErr(err)
	}
	return nil
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func translateErr(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return &ports.CloseError{Code: closeErr.Code, Text: closeErr.Text}
	}
	return err
}
