package p2p

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/notesync/notesync/internal/protocol"
	"github.com/notesync/notesync/libs/cmap"
	"github.com/notesync/notesync/libs/log"
	"github.com/notesync/notesync/libs/service"
)

const (
	defaultSendQueueSize = 64
	defaultDialTimeout   = 10 * time.Second
)

// MessageHandler receives every decoded inbound message together with the
// session it arrived on. HandleMessage is called from the session's read
// loop and must not block.
type MessageHandler interface {
	HandleMessage(msg protocol.Message, from *Session)
}

// DialOutcome is the successful result of Registry.Dial.
type DialOutcome int

const (
	// DialConnected means a new client session was opened.
	DialConnected DialOutcome = iota
	// DialAlreadyConnected means an open client session already existed.
	DialAlreadyConnected
)

func (o DialOutcome) String() string {
	switch o {
	case DialConnected:
		return "connected"
	case DialAlreadyConnected:
		return "already connected"
	default:
		return fmt.Sprintf("DialOutcome(%d)", int(o))
	}
}

// RegistryOption sets an optional parameter on the Registry.
type RegistryOption func(*Registry)

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithSendQueueSize sets the per-session outbound queue length.
func WithSendQueueSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.sendQueueSize = n
		}
	}
}

// WithDialTimeout bounds how long Dial waits for a connection.
func WithDialTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.dialTimeout = d
		}
	}
}

// Registry owns every live peer session. Sessions this node accepted live in
// the server pool keyed by a generated id; sessions it dialed live in the
// client pool keyed by the dialed address. The two pools are locked
// independently.
type Registry struct {
	service.BaseService

	logger  log.Logger
	metrics *Metrics
	dialer  Dialer

	sendQueueSize int
	dialTimeout   time.Duration

	mtx     sync.RWMutex
	handler MessageHandler

	servers *cmap.CMap[*Session]
	clients *cmap.CMap[*Session]

	tasks *taskgroup.Group
}

// NewRegistry creates a Registry that dials through dialer.
func NewRegistry(logger log.Logger, dialer Dialer, options ...RegistryOption) *Registry {
	r := &Registry{
		logger:        logger,
		metrics:       NopMetrics(),
		dialer:        dialer,
		sendQueueSize: defaultSendQueueSize,
		dialTimeout:   defaultDialTimeout,
		servers:       cmap.NewCMap[*Session](),
		clients:       cmap.NewCMap[*Session](),
		tasks:         taskgroup.New(nil),
	}
	r.BaseService = *service.NewBaseService(logger, "Registry", r)
	for _, option := range options {
		option(r)
	}
	return r
}

// SetHandler sets the receiver of inbound messages. It must be called before
// sessions are opened; messages arriving without a handler are dropped.
func (r *Registry) SetHandler(h MessageHandler) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.handler = h
}

func (r *Registry) getHandler() MessageHandler {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.handler
}

// OnStart implements service.Service.
func (r *Registry) OnStart(context.Context) error { return nil }

// OnStop closes every session and waits for their routines to exit.
func (r *Registry) OnStop() {
	if err := r.CloseAll(); err != nil {
		r.logger.Error("error closing sessions", "err", err)
	}
	if err := r.tasks.Wait(); err != nil {
		r.logger.Error("session routine failed", "err", err)
	}
}

// Accept registers an inbound connection in the server pool under a fresh
// session id and starts its receive loop.
func (r *Registry) Accept(conn Conn) *Session {
	id := uuid.NewString()
	s := newSession(id, RoleServer, conn.RemoteAddr(), conn, r.sendQueueSize, r.logger)
	r.servers.Set(id, s)
	r.updateSessionGauges()

	s.logger.Info("accepted peer session", "remote", s.RemoteAddr())
	r.run(s, r.servers)
	return s
}

// Dial opens a client session to address unless an open one already exists.
// Failures are returned to the caller and never retried.
func (r *Registry) Dial(ctx context.Context, address string) (DialOutcome, error) {
	if s, ok := r.clients.Get(address); ok && s.IsOpen() {
		r.logger.Debug("already connected to peer", "peer", address)
		return DialAlreadyConnected, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.dialTimeout)
	defer cancel()

	conn, err := r.dialer.Dial(ctx, address)
	if err != nil {
		r.clients.DeleteIf(address, func(s *Session) bool { return !s.IsOpen() })
		r.metrics.Dials.With("outcome", "error").Add(1)
		return 0, fmt.Errorf("dial %s: %w", address, err)
	}

	s := newSession(address, RoleClient, address, conn, r.sendQueueSize, r.logger)
	stored := r.clients.SetIf(address, s, func(old *Session, exists bool) bool {
		return !exists || !old.IsOpen()
	})
	if !stored {
		// Another dial to the same address won the race.
		_ = s.Close()
		r.metrics.Dials.With("outcome", "duplicate").Add(1)
		return DialAlreadyConnected, nil
	}
	r.metrics.Dials.With("outcome", "ok").Add(1)
	r.updateSessionGauges()

	s.logger.Info("connected to peer")
	r.run(s, r.clients)
	return DialConnected, nil
}

// Close closes the client session dialed to address or, failing that, the
// first open server session whose remote address matches. Only one session
// is closed.
func (r *Registry) Close(address string) error {
	if s, ok := r.clients.Get(address); ok && s.IsOpen() {
		r.clients.DeleteIf(address, sameSession(s))
		r.updateSessionGauges()
		r.logger.Info("closing client session", "peer", address)
		return s.Close()
	}

	for _, s := range r.servers.Values() {
		if !s.IsOpen() || !remoteMatches(s.RemoteAddr(), address) {
			continue
		}
		r.servers.DeleteIf(s.ID(), sameSession(s))
		r.updateSessionGauges()
		r.logger.Info("closing server session", "peer", address, "session", s.ID())
		return s.Close()
	}

	return fmt.Errorf("%w: %s", ErrSessionNotFound, address)
}

// CloseAll closes every session in both pools.
func (r *Registry) CloseAll() error {
	var g errgroup.Group
	for _, pool := range []*cmap.CMap[*Session]{r.servers, r.clients} {
		for _, s := range pool.Values() {
			s := s
			g.Go(s.Close)
		}
		pool.Clear()
	}
	r.updateSessionGauges()
	return g.Wait()
}

// Broadcast encodes msg once and queues it on every open session in both
// pools. A failure on one session is logged and does not affect the others
// or remove the session. It returns the number of sessions the frame was
// queued on.
func (r *Registry) Broadcast(msg protocol.Message) int {
	frame, err := protocol.Encode(msg)
	if err != nil {
		r.logger.Error("failed to encode broadcast message", "type", typeOf(msg), "err", err)
		return 0
	}
	r.metrics.Broadcasts.Add(1)

	queued := 0
	for _, pool := range []*cmap.CMap[*Session]{r.servers, r.clients} {
		for _, s := range pool.Values() {
			if !s.IsOpen() {
				continue
			}
			if err := s.Send(frame); err != nil {
				r.metrics.SendFailures.Add(1)
				s.logger.Error("failed to queue broadcast", "type", msg.Type(), "err", err)
				continue
			}
			queued++
		}
	}

	r.logger.Debug("broadcast message", "type", msg.Type(), "sessions", queued)
	return queued
}

// ConnectedPeers returns the sorted union of the dialed addresses of open
// client sessions and the remote addresses of open server sessions.
func (r *Registry) ConnectedPeers() []string {
	peers := mapset.NewThreadUnsafeSet[string]()
	for _, s := range r.clients.Values() {
		if s.IsOpen() {
			peers.Add(s.ID())
		}
	}
	for _, s := range r.servers.Values() {
		if s.IsOpen() && s.RemoteAddr() != "" {
			peers.Add(s.RemoteAddr())
		}
	}

	out := peers.ToSlice()
	sort.Strings(out)
	return out
}

// Sessions returns a snapshot of all sessions, server pool first.
func (r *Registry) Sessions() []SessionInfo {
	var out []SessionInfo
	for _, pool := range []*cmap.CMap[*Session]{r.servers, r.clients} {
		for _, s := range pool.Values() {
			out = append(out, s.Info())
		}
	}
	return out
}

// run starts the write and read routines of s. When the read side ends the
// session is closed and removed from pool.
func (r *Registry) run(s *Session, pool *cmap.CMap[*Session]) {
	r.tasks.Go(func() error {
		return s.writeRoutine(func(error) { r.metrics.SendFailures.Add(1) })
	})

	r.tasks.Go(func() error {
		err := s.readRoutine(func(frame []byte) { r.dispatch(s, frame) })

		wasOpen := s.IsOpen()
		_ = s.Close()
		pool.DeleteIf(s.ID(), sameSession(s))
		r.updateSessionGauges()

		if wasOpen {
			s.logger.Info("peer session closed", "reason", err)
		} else {
			s.logger.Debug("peer session closed locally")
		}
		return nil
	})
}

// dispatch decodes one frame and hands it to the handler. Malformed frames
// are dropped; the session stays open.
func (r *Registry) dispatch(s *Session, frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		r.metrics.DecodeErrors.Add(1)
		if errors.Is(err, protocol.ErrUnknownType) {
			s.logger.Debug("dropping message of unknown type", "type", typeOf(msg))
		} else {
			s.logger.Error("dropping malformed frame", "err", err, "size", len(frame))
		}
		return
	}
	r.metrics.MessagesReceived.With("type", string(msg.Type())).Add(1)

	h := r.getHandler()
	if h == nil {
		s.logger.Error("no message handler; dropping message", "type", msg.Type())
		return
	}
	h.HandleMessage(msg, s)
}

func (r *Registry) updateSessionGauges() {
	r.metrics.Sessions.With("role", string(RoleServer)).Set(float64(r.servers.Size()))
	r.metrics.Sessions.With("role", string(RoleClient)).Set(float64(r.clients.Size()))
}

func sameSession(s *Session) func(*Session) bool {
	return func(other *Session) bool { return other == s }
}

// remoteMatches reports whether a server session's remote address refers to
// address, either exactly or, when address has no port, by host.
func remoteMatches(remote, address string) bool {
	if remote == "" {
		return false
	}
	if remote == address {
		return true
	}
	if _, _, err := net.SplitHostPort(address); err == nil {
		return false
	}
	host, _, err := net.SplitHostPort(remote)
	return err == nil && host == address
}

func typeOf(msg protocol.Message) string {
	if msg == nil {
		return ""
	}
	return string(msg.Type())
}
