package takeover

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Codes surfaced to the remote client in error frames.
const (
	CodeEvicted     = "EVICTED"
	CodeServerBusy  = "SERVER_BUSY"
	CodeIdleTimeout = "IDLE_TIMEOUT"
	CodeSerialError = "SERIAL_ERROR"
	CodeShutdown    = "SHUTDOWN"
)

// Engine is the render-loop coupling: pause before forwarding any client
// bytes, resume once the client is gone.
type Engine interface {
	Pause()
	Resume()
}

// Serial is the write path client bytes are forwarded to, plus the tap
// used to mirror device output back to the client.
type Serial interface {
	Raw(data []byte) error
	SetTap(fn func([]byte))
}

type wsError struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Timestamp  string `json:"timestamp"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	Details    string `json:"details,omitempty"`
}

type client struct {
	conn        *websocket.Conn
	connectedAt time.Time
	idle        *time.Timer

	writeMu sync.Mutex

	msgsIn, bytesIn uint64
}

func (c *client) writeJSON(e wsError) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	b, _ := json.Marshal(e)
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *client) writeBinary(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(200 * time.Millisecond))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Server accepts a single raw-binary WebSocket client on /ws and gives it
// exclusive use of the serial link while local rendering is paused. A
// younger client is rejected with SERVER_BUSY; once the active client's
// age reaches EvictionAge it can be displaced by a newcomer.
type Server struct {
	Addr        string
	EvictionAge time.Duration
	IdleTimeout time.Duration

	engine Engine
	serial Serial

	upgrader websocket.Upgrader

	mu     sync.Mutex
	active *client
}

// NewServer wires the takeover server to the render engine and the serial
// session.
func NewServer(addr string, evictionAge, idleTimeout time.Duration, engine Engine, serial Serial) *Server {
	return &Server{
		Addr:        addr,
		EvictionAge: evictionAge,
		IdleTimeout: idleTimeout,
		engine:      engine,
		serial:      serial,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run binds the listener and serves until ctx is done. A bind failure is
// returned immediately; the caller treats it as fatal.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info().Str("addr", s.Addr).Msg("takeover server listening")

	select {
	case <-ctx.Done():
		s.shutdownActive()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, connectedAt: time.Now()}

	if !s.admit(c) {
		return
	}

	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("takeover session start")

	// Pause (which clears the display) before any client byte can reach
	// the serial link.
	s.engine.Pause()
	s.serial.SetTap(func(data []byte) { _ = c.writeBinary(data) })

	c.idle = time.AfterFunc(s.IdleTimeout, func() {
		c.writeJSON(wsError{
			Error:     "connection idle",
			Code:      CodeIdleTimeout,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		conn.Close()
	})

	s.readLoop(c)
	s.release(c)
}

// admit enforces the at-most-one-client policy under the lock. Returns
// false when the newcomer was rejected (its conn is closed).
func (s *Server) admit(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		age := time.Since(s.active.connectedAt)
		if age < s.EvictionAge {
			retry := int(math.Ceil((s.EvictionAge - age).Seconds()))
			c.writeJSON(wsError{
				Error:      "another client is active",
				Code:       CodeServerBusy,
				Timestamp:  time.Now().UTC().Format(time.RFC3339),
				RetryAfter: retry,
			})
			c.conn.Close()
			return false
		}
		old := s.active
		s.active = nil
		old.writeJSON(wsError{
			Error:     "displaced by a new client",
			Code:      CodeEvicted,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		if old.idle != nil {
			old.idle.Stop()
		}
		old.conn.Close()
		log.Info().Msg("takeover client evicted")
	}
	s.active = c
	return true
}

func (s *Server) readLoop(c *client) {
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		switch typ {
		case websocket.BinaryMessage:
			c.idle.Reset(s.IdleTimeout)
			c.msgsIn++
			c.bytesIn += uint64(len(data))
			if err := s.serial.Raw(data); err != nil {
				c.writeJSON(wsError{
					Error:     "serial write failed",
					Code:      CodeSerialError,
					Timestamp: time.Now().UTC().Format(time.RFC3339),
					Details:   err.Error(),
				})
			}
		case websocket.TextMessage:
			log.Warn().Msg("ignoring text frame on takeover socket")
		}
	}
}

// release tears the session down. When the client was evicted, a newer
// client already holds the slot and the engine stays paused.
func (s *Server) release(c *client) {
	if c.idle != nil {
		c.idle.Stop()
	}
	c.conn.Close()

	s.mu.Lock()
	wasActive := s.active == c
	if wasActive {
		s.active = nil
	}
	s.mu.Unlock()

	if wasActive {
		s.serial.SetTap(nil)
		s.engine.Resume()
	}
	log.Info().
		Uint64("msgs_in", c.msgsIn).
		Uint64("bytes_in", c.bytesIn).
		Dur("duration", time.Since(c.connectedAt)).
		Msg("takeover session end")
}

func (s *Server) shutdownActive() {
	s.mu.Lock()
	c := s.active
	s.mu.Unlock()
	if c == nil {
		return
	}
	c.writeJSON(wsError{
		Error:     "server shutting down",
		Code:      CodeShutdown,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	c.conn.Close()
}
