package p2p

import (
	"context"
	"errors"
)

const (
	// DefaultEndpointPath is the well-known path every node serves peer
	// sessions on.
	DefaultEndpointPath = "/p2p"
)

var (
	// ErrSessionNotFound is returned by Close when no open session matches
	// the requested address.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when sending on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrSendQueueFull is returned when a session's outbound queue is full.
	ErrSendQueueFull = errors.New("send queue full")
)

// Role tells which side opened a session.
type Role string

const (
	// RoleServer marks sessions this node accepted.
	RoleServer Role = "server"
	// RoleClient marks sessions this node dialed.
	RoleClient Role = "client"
)

// Conn is a message-oriented duplex connection to a peer. A Conn has at
// most one concurrent reader and one concurrent writer; Close may be called
// from any goroutine.
type Conn interface {
	// ReadMessage blocks until the next frame arrives. It returns an error
	// once the connection is closed by either side.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one frame.
	WriteMessage(frame []byte) error

	// RemoteAddr is the remote host:port as seen by the transport, if known.
	RemoteAddr() string

	Close() error
}

// Dialer opens outbound connections to peer addresses.
type Dialer interface {
	Dial(ctx context.Context, address string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, address string) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, address string) (Conn, error) {
	return f(ctx, address)
}
