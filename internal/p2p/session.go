package p2p

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/notesync/notesync/libs/log"
)

// Session is one live duplex connection to a peer. Sessions are created and
// owned by the Registry; other packages only read them and send on them.
type Session struct {
	id       string
	role     Role
	peer     string
	remote   string
	openedAt time.Time

	conn   Conn
	logger log.Logger

	sendQueue chan []byte
	quit      chan struct{}
	closeOnce sync.Once
	closeErr  error
	open      atomic.Bool
}

func newSession(id string, role Role, peer string, conn Conn, queueSize int, logger log.Logger) *Session {
	s := &Session{
		id:        id,
		role:      role,
		peer:      peer,
		remote:    conn.RemoteAddr(),
		openedAt:  time.Now(),
		conn:      conn,
		sendQueue: make(chan []byte, queueSize),
		quit:      make(chan struct{}),
	}
	s.logger = logger.With("session", id, "role", string(role), "peer", peer)
	s.open.Store(true)
	return s
}

// ID returns the session id: a generated id for server sessions and the
// dialed address for client sessions.
func (s *Session) ID() string { return s.id }

// Role returns which side opened the session.
func (s *Session) Role() Role { return s.role }

// Peer returns the address the session is known under. For client sessions
// that is the dialed address; for server sessions the remote address.
func (s *Session) Peer() string { return s.peer }

// RemoteAddr returns the transport-level remote address, if known.
func (s *Session) RemoteAddr() string { return s.remote }

// IsOpen reports whether the session has not been closed yet.
func (s *Session) IsOpen() bool { return s.open.Load() }

// Send queues a frame for delivery. It never blocks: a full queue yields
// ErrSendQueueFull.
func (s *Session) Send(frame []byte) error {
	if !s.IsOpen() {
		return ErrSessionClosed
	}

	select {
	case <-s.quit:
		return ErrSessionClosed
	case s.sendQueue <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close closes the underlying connection. Only the first call has effect.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.open.Store(false)
		close(s.quit)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Session) String() string {
	return fmt.Sprintf("Session{%s %s %s}", s.role, s.id, s.peer)
}

// Info returns a snapshot of the session for display.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:         s.id,
		Role:       s.role,
		Peer:       s.peer,
		RemoteAddr: s.remote,
		Open:       s.IsOpen(),
		OpenedAt:   s.openedAt,
	}
}

// SessionInfo is a point-in-time view of a Session.
type SessionInfo struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Peer       string    `json:"peer"`
	RemoteAddr string    `json:"remote_addr"`
	Open       bool      `json:"open"`
	OpenedAt   time.Time `json:"opened_at"`
}

// writeRoutine is the only writer on the connection. A failed write is
// logged and the frame dropped; the session stays registered until the
// read side observes the transport closing.
func (s *Session) writeRoutine(onError func(error)) error {
	for {
		select {
		case <-s.quit:
			return nil
		case frame := <-s.sendQueue:
			if err := s.conn.WriteMessage(frame); err != nil {
				s.logger.Error("failed to write frame", "err", err)
				onError(err)
			}
		}
	}
}

// readRoutine is the only reader on the connection. It returns when the
// transport fails or closes.
func (s *Session) readRoutine(handle func([]byte)) error {
	for {
		frame, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		handle(frame)
	}
}
