package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wayneos/wayned/internal/distribution"
	"github.com/wayneos/wayned/internal/session"
)

// Client is the caller side of a session connection.
type Client struct {
	ws     *websocket.Conn
	events chan session.Event

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// Dial opens a session. An empty dist selects the server default.
func Dial(ctx context.Context, rawURL, token string, dist distribution.Distribution) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if dist != "" {
		q := u.Query()
		q.Set("distribution", dist.String())
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %s: %w", u.Redacted(), resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", u.Redacted(), err)
	}

	c := &Client{
		ws:     ws,
		events: make(chan session.Event, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()

	return c, nil
}

// Events delivers server events in order. The channel is closed when the
// connection ends; Err then reports why.
func (c *Client) Events() <-chan session.Event {
	return c.events
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// SendCommand submits free-form text.
func (c *Client) SendCommand(text string) error {
	return c.write(session.Inbound{Command: &text})
}

// SendControl submits a lifecycle request.
func (c *Client) SendControl(ctl session.Control) error {
	s := string(ctl)
	return c.write(session.Inbound{Control: &s})
}

// Close ends the session.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

func (c *Client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	return c.ws.WriteJSON(v)
}

func (c *Client) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-c.done:
				default:
					c.errMu.Lock()
					c.err = err
					c.errMu.Unlock()
				}
			}
			return
		}

		var ev session.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
