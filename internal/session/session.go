// Package session manages the bidirectional push channel between a station
// display and the order service: one physical connection per station key,
// reconnect after a fixed delay, outbound buffering while disconnected, and
// a resync hook fired on every successful (re)connection.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"

	"github.com/opentaverna/taverna/internal/protocol"
)

// ReconnectDelay is the fixed pause between connection attempts.
const ReconnectDelay = 1500 * time.Millisecond

// ErrClosed is returned by Send after an explicit Close.
var ErrClosed = errors.New("session closed")

// Conn is one live connection to the order service push endpoint.
type Conn interface {
	// ReadMessage blocks for the next inbound frame.
	ReadMessage() ([]byte, error)
	// WriteMessage sends one outbound frame.
	WriteMessage(data []byte) error
	Close() error
}

// Dialer establishes connections for a station key.
type Dialer interface {
	Dial(ctx context.Context, endpoint, station string) (Conn, error)
}

// Config wires a Session's collaborators.
type Config struct {
	Endpoint string
	Station  string
	Dialer   Dialer
	// OnMessage receives every decoded inbound frame, one at a time, in
	// arrival order, on the session's own goroutine.
	OnMessage func(protocol.Message)
	// OnResync fires asynchronously after every successful connection;
	// initial is true only for the first one. Callers use it to request a
	// full state snapshot instead of trusting unconfirmed local state.
	OnResync func(initial bool)
	Logger   aqm.Logger
	// Delay overrides ReconnectDelay; zero keeps the default.
	Delay time.Duration
}

// Session is the managed channel handle. Connection errors are never
// fatal: they schedule a reconnect, and commands sent while disconnected
// queue up and flush in FIFO order right after the next connection, before
// any further sends go out.
type Session struct {
	cfg    Config
	logger aqm.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conn   Conn
	queue  [][]byte
	closed bool
}

// Open starts the session's connect loop and returns the handle.
func Open(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = aqm.NewNoopLogger()
	}
	if cfg.Delay <= 0 {
		cfg.Delay = ReconnectDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:    cfg,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
	go s.run()
	return s
}

// Send delivers a command to the server, or enqueues it while the channel
// is down. A send that fails on the wire goes back onto the queue rather
// than being lost.
func (s *Session) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	// Nothing may overtake queued commands: while the queue is non-empty
	// new sends append behind it.
	if s.conn == nil || len(s.queue) > 0 {
		s.queue = append(s.queue, data)
		return nil
	}

	if err := s.conn.WriteMessage(data); err != nil {
		s.logger.Info("send failed, queueing command", "station", s.cfg.Station, "error", err)
		s.queue = append(s.queue, data)
		s.dropConnLocked()
	}
	return nil
}

// Close stops the session for good: the connection is released and no
// further reconnect is attempted. In-flight resync work is not cancelled;
// its late result is simply no longer actionable.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		conn.Close()
	}
}

// Alive reports whether the session has not been closed. Resync callers
// check it before applying late results.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *Session) run() {
	initial := true
	for {
		if !s.Alive() {
			return
		}

		conn, err := s.cfg.Dialer.Dial(s.ctx, s.cfg.Endpoint, s.cfg.Station)
		if err != nil {
			if !s.Alive() {
				return
			}
			s.logger.Info("connect failed, retrying", "station", s.cfg.Station, "error", err)
			s.sleep()
			continue
		}

		if !s.attach(conn, initial) {
			s.sleep()
			continue
		}
		initial = false

		s.readLoop(conn)

		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.Close()

		if !s.Alive() {
			return
		}
		s.logger.Info("connection lost, reconnecting", "station", s.cfg.Station)
		s.sleep()
	}
}

// attach flushes the outbound queue in FIFO order, installs the new
// connection and schedules the resync callback. Returns false when the
// flush failed and the connection was abandoned; queued commands stay put
// for the next attempt.
func (s *Session) attach(conn Conn, initial bool) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return false
	}

	for len(s.queue) > 0 {
		if err := conn.WriteMessage(s.queue[0]); err != nil {
			s.mu.Unlock()
			s.logger.Info("queue flush failed", "station", s.cfg.Station, "error", err)
			conn.Close()
			return false
		}
		s.queue = s.queue[1:]
	}
	s.conn = conn
	s.mu.Unlock()

	if s.cfg.OnResync != nil {
		go func() {
			if !s.Alive() {
				return
			}
			s.cfg.OnResync(initial)
		}()
	}
	return true
}

func (s *Session) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			// Malformed frames must never reach the reducer.
			s.logger.Info("dropping malformed frame", "station", s.cfg.Station, "error", err)
			continue
		}

		if s.cfg.OnMessage != nil {
			s.cfg.OnMessage(msg)
		}
	}
}

func (s *Session) dropConnLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) sleep() {
	select {
	case <-s.ctx.Done():
	case <-time.After(s.cfg.Delay):
	}
}
