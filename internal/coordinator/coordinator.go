// Package coordinator turns local repository changes into peer broadcasts
// and applies the notifications peers send back.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/notesync/notesync/internal/p2p"
	"github.com/notesync/notesync/internal/protocol"
	"github.com/notesync/notesync/internal/store"
	"github.com/notesync/notesync/internal/worker"
	"github.com/notesync/notesync/libs/log"
	"github.com/notesync/notesync/libs/service"
)

// DefaultPendingDir holds the local paths of repositories created from peer
// notifications until the operator relocates them.
const DefaultPendingDir = "p2p_pending"

// ConfigStore is the local repository list.
type ConfigStore interface {
	GetByAlias(alias string) (store.Repository, bool)
	FindByURL(url string) (store.Repository, bool)
	Add(repo store.Repository) bool
	Remove(alias string) bool
	Update(oldAlias string, repo store.Repository) bool
}

// SyncTrigger pulls repository content. Failures are reported in the
// returned text.
type SyncTrigger interface {
	Pull(ctx context.Context, repo store.Repository) string
}

// Broadcaster fans a message out to every open peer session.
type Broadcaster interface {
	Broadcast(msg protocol.Message) int
}

// Option sets an optional parameter on the Coordinator.
type Option func(*Coordinator)

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithPendingDir sets the directory new pending repositories are placed in.
func WithPendingDir(dir string) Option {
	return func(c *Coordinator) { c.pendingDir = dir }
}

// WithWorkers sizes the dispatch pool.
func WithWorkers(lanes, depth int) Option {
	return func(c *Coordinator) { c.lanes, c.depth = lanes, depth }
}

// Coordinator is the entry point for both directions of peer traffic.
type Coordinator struct {
	service.BaseService

	logger      log.Logger
	metrics     *Metrics
	store       ConfigStore
	syncer      SyncTrigger
	broadcaster Broadcaster
	pool        *worker.Pool

	pendingDir   string
	lanes, depth int
}

// New creates a Coordinator. Inbound messages are applied on a worker pool
// that runs while the Coordinator is started.
func New(
	logger log.Logger,
	configStore ConfigStore,
	syncer SyncTrigger,
	broadcaster Broadcaster,
	options ...Option,
) *Coordinator {
	c := &Coordinator{
		logger:      logger,
		metrics:     NopMetrics(),
		store:       configStore,
		syncer:      syncer,
		broadcaster: broadcaster,
		pendingDir:  DefaultPendingDir,
	}
	for _, option := range options {
		option(c)
	}
	c.pool = worker.NewPool(logger.With("module", "worker"), c.lanes, c.depth)
	c.BaseService = *service.NewBaseService(logger, "Coordinator", c)
	return c
}

// OnStart starts the dispatch pool.
func (c *Coordinator) OnStart(ctx context.Context) error {
	return c.pool.Start(ctx)
}

// OnStop waits for queued messages to finish.
func (c *Coordinator) OnStop() {
	if err := c.pool.Stop(); err != nil && !errors.Is(err, service.ErrAlreadyStopped) {
		c.logger.Error("failed to stop worker pool", "err", err)
	}
}

// PoolStats reports the dispatch pool counters.
func (c *Coordinator) PoolStats() worker.Stats { return c.pool.Stats() }

// BroadcastAdd announces a new repository. The token is never sent.
func (c *Coordinator) BroadcastAdd(repo store.Repository) int {
	return c.broadcast(&protocol.ConfigNotification{
		Action: protocol.ActionAdd,
		Alias:  repo.Alias,
		URL:    repo.GitURL,
	})
}

// BroadcastRemove announces the removal of alias.
func (c *Coordinator) BroadcastRemove(alias string) int {
	return c.broadcast(&protocol.ConfigNotification{
		Action: protocol.ActionRemove,
		Alias:  alias,
	})
}

// BroadcastUpdate announces that oldAlias is now repo.
func (c *Coordinator) BroadcastUpdate(oldAlias string, repo store.Repository) int {
	return c.broadcast(&protocol.ConfigNotification{
		Action:   protocol.ActionUpdate,
		OldAlias: oldAlias,
		Alias:    repo.Alias,
		URL:      repo.GitURL,
	})
}

// BroadcastSyncRequest asks every peer to pull aliasOrURL.
func (c *Coordinator) BroadcastSyncRequest(aliasOrURL string) int {
	return c.broadcast(&protocol.SyncRequest{AliasOrURL: aliasOrURL})
}

func (c *Coordinator) broadcast(msg protocol.Message) int {
	n := c.broadcaster.Broadcast(msg)
	c.metrics.Broadcasts.With("type", string(msg.Type())).Add(1)
	c.logger.Info("broadcast to peers", "msg", msg, "sessions", n)
	return n
}

// HandleMessage implements p2p.MessageHandler. The message is applied on the
// worker lane of its session so that messages from one session keep their
// order while the read loop moves on.
func (c *Coordinator) HandleMessage(msg protocol.Message, from *p2p.Session) {
	key, peer := "", ""
	if from != nil {
		key, peer = from.ID(), from.Peer()
	}

	err := c.pool.Submit(key, func(ctx context.Context) {
		c.Apply(ctx, msg, peer)
	})
	if err != nil {
		c.metrics.Dropped.Add(1)
		c.logger.Error("dropping peer message", "type", msg.Type(), "peer", peer, "err", err)
	}
}

// Apply applies msg to local state. A failure is logged with the message
// type and originating peer and never propagates.
func (c *Coordinator) Apply(ctx context.Context, msg protocol.Message, peer string) {
	logger := c.logger.With("type", string(msg.Type()), "peer", peer)

	defer func() {
		if r := recover(); r != nil {
			c.metrics.Applied.With("type", string(msg.Type()), "result", "panic").Add(1)
			logger.Error("failed to apply peer message", "err", fmt.Errorf("panic: %v", r))
		}
	}()

	var result string
	switch m := msg.(type) {
	case *protocol.ConfigNotification:
		result = c.applyNotification(logger, m)
	case *protocol.SyncRequest:
		result = c.applySyncRequest(ctx, logger, m)
	default:
		result = "unknown"
		logger.Debug("ignoring message of unknown type")
	}
	c.metrics.Applied.With("type", string(msg.Type()), "result", result).Add(1)
}

func (c *Coordinator) applyNotification(logger log.Logger, n *protocol.ConfigNotification) string {
	if err := n.Validate(); err != nil {
		logger.Error("ignoring invalid notification", "err", err)
		return "invalid"
	}

	switch n.Action {
	case protocol.ActionAdd:
		return c.applyAdd(logger, n.Alias, n.URL)

	case protocol.ActionRemove:
		if !c.store.Remove(n.Alias) {
			logger.Debug("remove for unknown repository", "alias", n.Alias)
			return "noop"
		}
		logger.Info("removed repository on peer request", "alias", n.Alias)
		return "ok"

	case protocol.ActionUpdate:
		if old, ok := c.store.GetByAlias(n.OldAlias); ok {
			return c.applyUpdate(logger, n.OldAlias, old, n)
		}
		if cur, ok := c.store.GetByAlias(n.Alias); ok {
			return c.applyUpdate(logger, cur.Alias, cur, n)
		}
		if n.URL != "" {
			logger.Info("update for unknown repository; adding it", "old_alias", n.OldAlias, "alias", n.Alias)
			return c.applyAdd(logger, n.Alias, n.URL)
		}
		logger.Info("update for unknown repository without url", "old_alias", n.OldAlias, "alias", n.Alias)
		return "noop"
	}
	return "invalid"
}

// applyAdd creates a pending entry for alias unless one already exists.
func (c *Coordinator) applyAdd(logger log.Logger, alias, url string) string {
	if _, ok := c.store.GetByAlias(alias); ok {
		logger.Debug("repository already configured", "alias", alias)
		return "noop"
	}

	repo := store.Repository{
		Alias:     alias,
		GitURL:    url,
		LocalPath: PendingPath(c.pendingDir, alias),
	}
	if !c.store.Add(repo) {
		logger.Error("failed to add repository from peer", "alias", alias)
		return "conflict"
	}
	logger.Info("added pending repository from peer", "alias", alias, "path", repo.LocalPath)
	return "ok"
}

// applyUpdate replaces the entry stored under key. The local path and
// token of the existing entry are kept; the URL only changes when the
// notification carries one.
func (c *Coordinator) applyUpdate(logger log.Logger, key string, cur store.Repository, n *protocol.ConfigNotification) string {
	next := store.Repository{
		Alias:     n.Alias,
		GitURL:    cur.GitURL,
		LocalPath: cur.LocalPath,
		Token:     cur.Token,
	}
	if n.URL != "" {
		next.GitURL = n.URL
	}

	if !c.store.Update(key, next) {
		logger.Error("failed to update repository from peer", "old_alias", key, "alias", n.Alias)
		return "conflict"
	}
	logger.Info("updated repository from peer", "old_alias", key, "alias", n.Alias)
	return "ok"
}

func (c *Coordinator) applySyncRequest(ctx context.Context, logger log.Logger, r *protocol.SyncRequest) string {
	if err := r.Validate(); err != nil {
		logger.Error("ignoring invalid sync request", "err", err)
		return "invalid"
	}

	repo, ok := c.store.GetByAlias(r.AliasOrURL)
	if !ok {
		repo, ok = c.store.FindByURL(r.AliasOrURL)
	}
	if !ok {
		logger.Info("sync request for unknown repository", "ref", r.AliasOrURL)
		return "noop"
	}

	res := c.syncer.Pull(ctx, repo)
	logger.Info("synced repository on peer request", "alias", repo.Alias, "result", res)
	return "ok"
}

// PendingPath returns the placeholder local path for a repository learned
// from a peer. The alias is reduced to a single path element.
func PendingPath(dir, alias string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, alias)
	if name == "" || name == "." || name == ".." {
		name = "_"
	}
	return filepath.Join(dir, name)
}
