// Package transport carries session events over WebSocket connections.
//
// Every accepted connection gets its own Handler from the Factory; the read
// loop decodes inbound {"command": ...} and {"control": ...} messages and
// hands them to it. Handler.OnDisconnect always runs when the connection ends.
package transport

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wayneos/wayned/internal/distribution"
	"github.com/wayneos/wayned/internal/session"
)

const (
	maxMessageSize      = 64 * 1024
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
)

// Handler receives the inbound side of one connection.
type Handler interface {
	OnConnect()
	OnCommand(text string)
	OnControl(c session.Control)
	OnDisconnect()
}

// Factory creates the Handler for a freshly accepted connection.
type Factory func(conn *Conn, dist distribution.Distribution, remoteAddr string) Handler

// Options tune a Server.
type Options struct {
	AuthToken    string                    // empty disables authentication
	Distribution distribution.Distribution // used when the client names none
	WriteTimeout time.Duration
	PingInterval time.Duration // negative disables keepalive pings
	Version      string
	Logger       *zap.Logger
}

// Health is the body of the /health endpoint.
type Health struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Sessions  int       `json:"sessions"`
	Timestamp time.Time `json:"timestamp"`
}

// Server accepts session connections.
type Server struct {
	opts     Options
	factory  Factory
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu    sync.Mutex
	conns map[*Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a Server that builds one Handler per connection.
func NewServer(factory Factory, opts Options) *Server {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.PingInterval == 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Distribution == "" {
		opts.Distribution = distribution.Base
	}

	return &Server{
		opts:    opts,
		factory: factory,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients authenticate with the bearer token, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: opts.Logger.Named("transport"),
		conns:  make(map[*Conn]struct{}),
	}
}

// Handler returns the HTTP routes: /ws for sessions and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/health", s.serveHealth)
	return mux
}

// ActiveSessions returns the number of open connections.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown closes every open connection and waits for their handlers to
// finish. Call it after the HTTP server stopped accepting requests.
func (s *Server) Shutdown() {
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Health{
		Status:    "ok",
		Version:   s.opts.Version,
		Sessions:  s.ActiveSessions(),
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	dist := s.opts.Distribution
	if raw := r.URL.Query().Get("distribution"); raw != "" {
		var err error
		if dist, err = distribution.Parse(raw); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.logger.Debug("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	conn := newConn(ws, s.opts.WriteTimeout, r.RemoteAddr)
	s.track(conn)
	defer s.untrack(conn)

	log := s.logger.With(zap.String("remote", r.RemoteAddr), zap.String("distribution", dist.String()))
	log.Info("client connected")

	handler := s.factory(conn, dist, r.RemoteAddr)
	handler.OnConnect()

	stopPing := conn.keepalive(s.opts.PingInterval)
	s.readLoop(conn, handler, log)
	stopPing()

	handler.OnDisconnect()
	_ = conn.Close()
	log.Info("client disconnected")
}

func (s *Server) readLoop(conn *Conn, handler Handler, log *zap.Logger) {
	ws := conn.ws
	ws.SetReadLimit(maxMessageSize)

	if s.opts.PingInterval > 0 {
		wait := 2 * s.opts.PingInterval
		_ = ws.SetReadDeadline(time.Now().Add(wait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("connection read failed", zap.Error(err))
			}
			return
		}

		var in session.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			_ = conn.Send(session.Error("malformed message: " + err.Error()))
			continue
		}

		switch {
		case in.Command != nil:
			handler.OnCommand(*in.Command)
		case in.Control != nil:
			c, err := session.ParseControl(*in.Control)
			if err != nil {
				_ = conn.Send(session.Error(err.Error()))
				continue
			}
			handler.OnControl(c)
		default:
			_ = conn.Send(session.Error(`message must carry a "command" or a "control" field`))
		}
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.opts.AuthToken == "" {
		return true
	}

	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AuthToken)) == 1
}

func (s *Server) track(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}
