// Package websocket provides WebSocket connection handling.
package websocket

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection errors
var (
	ErrConnectionClosed = errors.New("connection closed")
)

// Config tunes keepalive and limits of a connection.
type Config struct {
	// MaxMessageSize is the largest message accepted from the peer.
	MaxMessageSize int64
	// WriteWait is the time allowed to write a message to the peer.
	WriteWait time.Duration
	// PongWait is the time allowed to read the next pong message from the peer.
	PongWait time.Duration
	// PingPeriod is the time between ping messages. Must be less than PongWait.
	PingPeriod time.Duration
}

// DefaultConfig returns the keepalive settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize: 4096,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
	}
}

// Connection wraps a WebSocket connection with serialized writes and
// idempotent close.
type Connection struct {
	conn   *websocket.Conn
	config Config

	// sendMutex is used to synchronize writes to the connection.
	sendMutex sync.Mutex

	closed     bool
	closeMutex sync.RWMutex
	done       chan struct{}
}

// Upgrade upgrades an HTTP request to a connection.
func Upgrade(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader, config Config) (*Connection, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewConnection(conn, config), nil
}

// NewConnection creates a new connection.
func NewConnection(conn *websocket.Conn, config Config) *Connection {
	if config.PingPeriod <= 0 || config.PongWait <= 0 || config.WriteWait <= 0 {
		config = DefaultConfig()
	}
	return &Connection{
		conn:   conn,
		config: config,
		done:   make(chan struct{}),
	}
}

// WriteJSON writes v as a text message within the write deadline.
func (c *Connection) WriteJSON(v any) error {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	if c.IsClosed() {
		return ErrConnectionClosed
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
		return err
	}
	if err := c.conn.WriteJSON(v); err != nil {
		return c.writeErr(err)
	}
	return nil
}

// ping sends a ping control frame.
func (c *Connection) ping() error {
	c.sendMutex.Lock()
	defer c.sendMutex.Unlock()

	if c.IsClosed() {
		return ErrConnectionClosed
	}
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteWait)); err != nil {
		return c.writeErr(err)
	}
	return nil
}

func (c *Connection) writeErr(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, websocket.ErrCloseSent) {
		c.Close()
		return ErrConnectionClosed
	}
	return err
}

// Keepalive reads and discards peer messages so control frames are handled,
// and pings the peer every PingPeriod. It returns when the peer goes away
// or the connection is closed, and closes the connection on return.
func (c *Connection) Keepalive() {
	defer c.Close()

	go func() {
		ticker := time.NewTicker(c.config.PingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.ping(); err != nil {
					c.Close()
					return
				}
			case <-c.done:
				return
			}
		}
	}()

	if c.config.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.config.MaxMessageSize)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection.
func (c *Connection) Close() error {
	c.closeMutex.Lock()
	defer c.closeMutex.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)
	return c.conn.Close()
}

// IsClosed returns whether the connection is closed.
func (c *Connection) IsClosed() bool {
	c.closeMutex.RLock()
	defer c.closeMutex.RUnlock()
	return c.closed
}

// RemoteAddr returns the remote network address.
func (c *Connection) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
