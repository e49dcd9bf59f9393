package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wayneos/wayned/internal/session"
)

// ErrConnClosed is returned by Send once the connection has been closed.
var ErrConnClosed = errors.New("connection closed")

// Conn is the server side of one client connection. Writes are serialized;
// Send may be called from any goroutine.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	remoteAddr   string

	mu     sync.Mutex
	closed bool
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration, remoteAddr string) *Conn {
	return &Conn{ws: ws, writeTimeout: writeTimeout, remoteAddr: remoteAddr}
}

// RemoteAddr returns the client address as seen by the HTTP server.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Send writes one outbound event.
func (c *Conn) Send(ev session.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteJSON(ev)
}

// Close sends a close frame and releases the socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, c.deadline())
	return c.ws.Close()
}

func (c *Conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, c.deadline())
}

// keepalive pings the client every interval until the returned stop function
// is called or a ping fails.
func (c *Conn) keepalive(interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

func (c *Conn) deadline() time.Time {
	if c.writeTimeout > 0 {
		return time.Now().Add(c.writeTimeout)
	}
	return time.Now().Add(time.Second)
}
