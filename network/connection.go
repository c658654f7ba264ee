// network/connection.go
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one open realtime connection to a game.
type Transport interface {
	ReadEvent() (Event, error)
	WriteEvent(ev Event) error
	Close() error
}

// Dialer opens a Transport for a game. Implementations must honour ctx for
// the handshake.
type Dialer interface {
	Dial(ctx context.Context, gameID int64, token string) (Transport, error)
}

// Heartbeat bounds how long a silent peer is tolerated. With ReadTimeout set,
// the connection pings at half of it; any frame, ping or pong pushes the read
// deadline forward, and an expired deadline fails the next read.
type Heartbeat struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

const controlWait = time.Second

type WSConnection struct {
	conn      *websocket.Conn
	heartbeat Heartbeat
	sendMutex sync.Mutex
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func NewWSConnection(conn *websocket.Conn, hb Heartbeat) *WSConnection {
	c := &WSConnection{conn: conn, heartbeat: hb, done: make(chan struct{})}
	if hb.ReadTimeout > 0 {
		c.extendReadDeadline()
		conn.SetPongHandler(func(string) error {
			c.extendReadDeadline()
			return nil
		})
		conn.SetPingHandler(func(data string) error {
			c.extendReadDeadline()
			err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(controlWait))
			if err == websocket.ErrCloseSent {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil
			}
			return err
		})
		go c.pingLoop(hb.ReadTimeout / 2)
	}
	return c
}

func (c *WSConnection) extendReadDeadline() {
	_ = c.conn.SetReadDeadline(time.Now().Add(c.heartbeat.ReadTimeout))
}

func (c *WSConnection) pingLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWait)); err != nil {
				return
			}
		}
	}
}

// ReadEvent blocks for the next frame. A frame that cannot be decoded yields
// an error wrapping ErrMalformedFrame; the connection stays usable. A peer
// silent past the read timeout yields a timeout error and the connection is
// done.
func (c *WSConnection) ReadEvent() (Event, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return Event{}, err
	}
	if c.heartbeat.ReadTimeout > 0 {
		c.extendReadDeadline()
	}
	return DecodeEvent(data)
}

func (c *WSConnection) WriteEvent(ev Event) error {
	data, err := EncodeEvent(ev)
	if err != nil {
		return err
	}

	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()
	if c.heartbeat.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.heartbeat.WriteTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal-closure frame and closes the socket. Safe to call twice
// and while a write is blocked.
func (c *WSConnection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(controlWait))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// WSDialer dials the game socket at {BaseURL}/api/v1/ws/games/{id}?token=...
type WSDialer struct {
	BaseURL          string
	HandshakeTimeout time.Duration
	Heartbeat        Heartbeat
}

// GameURL builds the realtime address for a game.
func GameURL(base string, gameID int64, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse ws base url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported ws scheme %q", u.Scheme)
	}
	u.Path += "/api/v1/ws/games/" + strconv.FormatInt(gameID, 10)
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var ErrHandshake = errors.New("websocket handshake failed")

func (d *WSDialer) Dial(ctx context.Context, gameID int64, token string) (Transport, error) {
	target, err := GameURL(d.BaseURL, gameID, token)
	if err != nil {
		return nil, err
	}

	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, resp, err := dialer.DialContext(ctx, target, hdr)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: %s: %s", ErrHandshake, resp.Status, strings.TrimSpace(string(body)))
		}
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	return NewWSConnection(conn, d.Heartbeat), nil
}
