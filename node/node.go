package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/notesync/notesync/config"
	"github.com/notesync/notesync/internal/api"
	"github.com/notesync/notesync/internal/coordinator"
	"github.com/notesync/notesync/internal/discovery"
	"github.com/notesync/notesync/internal/gitsync"
	"github.com/notesync/notesync/internal/p2p"
	"github.com/notesync/notesync/internal/peers"
	"github.com/notesync/notesync/internal/store"
	"github.com/notesync/notesync/libs/log"
	"github.com/notesync/notesync/libs/service"
	"github.com/notesync/notesync/version"
)

const shutdownTimeout = 5 * time.Second

// Node is the highest level interface to a full notesync node.
// It includes all configuration information and running services.
type Node struct {
	service.BaseService

	config *config.Config
	logger log.Logger

	registry    *p2p.Registry
	coordinator *coordinator.Coordinator
	discovery   *discovery.Discovery
	manualPeers *peers.ManualSet
	store       *store.FileStore
	syncer      *gitsync.Syncer

	p2pMetrics         *p2p.Metrics
	coordinatorMetrics *coordinator.Metrics
	discoveryMetrics   *discovery.Metrics

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New returns a node configured by cfg. Nothing is started or bound until
// Start is called.
func New(cfg *config.Config, logger log.Logger) (*Node, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}

	repos, err := store.NewFileStore(logger.With("module", "store"), cfg.RepositoryFilePath())
	if err != nil {
		return nil, err
	}

	n := &Node{
		config:      cfg,
		logger:      logger,
		manualPeers: peers.NewManualSet(cfg.P2P.PersistentPeerList()...),
		store:       repos,
		syncer:      gitsync.NewSyncer(logger.With("module", "gitsync"), nil),
	}
	n.setupMetrics()

	dialer := p2p.NewWSDialer()
	dialer.Path = cfg.P2P.EndpointPath
	dialer.MaxMessageSize = cfg.P2P.MaxMessageSize

	n.registry = p2p.NewRegistry(logger.With("module", "p2p"), dialer,
		p2p.WithMetrics(n.p2pMetrics),
		p2p.WithDialTimeout(cfg.P2P.DialTimeout),
		p2p.WithSendQueueSize(cfg.P2P.SendQueueSize),
	)
	n.coordinator = coordinator.New(logger.With("module", "coordinator"), repos, n.syncer, n.registry,
		coordinator.WithMetrics(n.coordinatorMetrics),
		coordinator.WithPendingDir(cfg.PendingDirPath()),
		coordinator.WithWorkers(cfg.Coordinator.Workers, cfg.Coordinator.QueueSize),
	)
	n.registry.SetHandler(n.coordinator)

	n.BaseService = *service.NewBaseService(logger, "Node", n)
	return n, nil
}

func (n *Node) setupMetrics() {
	if n.config.Instrumentation.Prometheus {
		ns := n.config.Instrumentation.Namespace
		n.p2pMetrics = p2p.PrometheusMetrics(ns)
		n.coordinatorMetrics = coordinator.PrometheusMetrics(ns)
		n.discoveryMetrics = discovery.PrometheusMetrics(ns)
		return
	}
	n.p2pMetrics = p2p.NopMetrics()
	n.coordinatorMetrics = coordinator.NopMetrics()
	n.discoveryMetrics = discovery.NopMetrics()
}

// OnStart binds the listener, starts every service and dials the
// persistent peers once.
func (n *Node) OnStart(ctx context.Context) error {
	listener, err := net.Listen("tcp", n.config.P2P.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.config.P2P.ListenAddress, err)
	}
	n.listener = listener

	// services already started are stopped again if a later one fails
	var started []interface{ Stop() error }
	fail := func(err error) error {
		for i := len(started) - 1; i >= 0; i-- {
			if serr := ignoreStopped(started[i].Stop()); serr != nil {
				n.logger.Error("failed to stop service after startup error", "err", serr)
			}
		}
		listener.Close()
		return err
	}

	if err := n.registry.Start(ctx); err != nil {
		return fail(err)
	}
	started = append(started, n.registry)
	if err := n.coordinator.Start(ctx); err != nil {
		return fail(err)
	}
	started = append(started, n.coordinator)

	if n.config.Discovery.Enabled {
		n.discovery = n.newDiscovery()
		if err := n.discovery.Start(ctx); err != nil {
			return fail(err)
		}
	}

	n.server = &http.Server{
		Handler:           api.RecoverAndLogHandler(n.handler(), n.logger.With("module", "http")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.logger.Info("serving peers and API", "addr", listener.Addr().String(), "path", n.config.P2P.EndpointPath)
		if err := n.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("HTTP server stopped", "err", err)
		}
	}()

	dialCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.dialPersistentPeers(dialCtx)
	return nil
}

// OnStop stops the services in reverse order of their dependencies.
func (n *Node) OnStop() {
	n.logger.Info("stopping node")
	if n.cancel != nil {
		n.cancel()
	}

	var g errgroup.Group
	g.Go(func() error {
		if n.discovery == nil {
			return nil
		}
		return ignoreStopped(n.discovery.Stop())
	})
	g.Go(func() error {
		if n.server == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return n.server.Shutdown(ctx)
	})
	if err := g.Wait(); err != nil {
		n.logger.Error("error while stopping node", "err", err)
	}

	if err := ignoreStopped(n.registry.Stop()); err != nil {
		n.logger.Error("failed to stop registry", "err", err)
	}
	if err := ignoreStopped(n.coordinator.Stop()); err != nil {
		n.logger.Error("failed to stop coordinator", "err", err)
	}
	n.wg.Wait()
}

func ignoreStopped(err error) error {
	if errors.Is(err, service.ErrAlreadyStopped) || errors.Is(err, service.ErrNotStarted) {
		return nil
	}
	return err
}

func (n *Node) newDiscovery() *discovery.Discovery {
	cfg := n.config.Discovery
	port := n.listener.Addr().(*net.TCPAddr).Port
	logger := n.logger.With("module", "discovery")

	backend := discovery.NewZeroconfBackend(logger, cfg.ServiceType, cfg.Domain, cfg.BrowseInterval)
	name := discovery.NodeName(cfg.NamePrefix, n.config.Moniker, port)
	return discovery.New(logger, backend, n.registry, name, port, discovery.WithMetrics(n.discoveryMetrics))
}

func (n *Node) handler() http.Handler {
	ws := p2p.NewWebsocketHandler(n.registry, n.logger.With("module", "p2p"))
	ws.MaxMessageSize = n.config.P2P.MaxMessageSize

	env := &api.Environment{
		Registry:     n.registry,
		Discovery:    n,
		ManualPeers:  n.manualPeers,
		Repositories: n.store,
		Broadcaster:  n.coordinator,
		Syncer:       n.syncer,
		SyncStatus:   n.syncer.Status(),
		Node:         n,
		Logger:       n.logger.With("module", "api"),
	}

	mux := http.NewServeMux()
	mux.Handle(n.config.P2P.EndpointPath, ws)
	mux.Handle("/api/", env.Handler(n.config.API))
	if n.config.Instrumentation.Prometheus {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

// dialPersistentPeers dials each configured peer once, in the background.
func (n *Node) dialPersistentPeers(ctx context.Context) {
	for _, addr := range n.config.P2P.PersistentPeerList() {
		addr := addr
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if _, err := n.registry.Dial(ctx, addr); err != nil {
				n.logger.Error("failed to dial persistent peer", "peer", addr, "err", err)
			}
		}()
	}
}

// DiscoveredPeers returns the peers found on the local network, or none when
// discovery is off.
func (n *Node) DiscoveredPeers() []string {
	if n.discovery == nil {
		return nil
	}
	return n.discovery.DiscoveredPeers()
}

// NodeInfo describes the node for the API.
func (n *Node) NodeInfo() api.NodeInfo {
	info := api.NodeInfo{
		ListenAddr:      n.ListenAddr(),
		Version:         version.Version,
		ProtocolVersion: version.ProtocolVersion,
		Dispatch:        n.coordinator.PoolStats(),
	}
	if n.discovery != nil {
		info.Name = n.discovery.Name()
		info.DiscoveryEnabled = n.discovery.Enabled()
	}
	return info
}

// Syncer returns the git syncer.
func (n *Node) Syncer() *gitsync.Syncer { return n.syncer }

// ListenAddr returns the address the node is serving on once started.
func (n *Node) ListenAddr() string {
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Config returns the node's configuration.
func (n *Node) Config() *config.Config { return n.config }

// Registry returns the connection registry.
func (n *Node) Registry() *p2p.Registry { return n.registry }

// Coordinator returns the coordinator.
func (n *Node) Coordinator() *coordinator.Coordinator { return n.coordinator }

// Store returns the repository list.
func (n *Node) Store() *store.FileStore { return n.store }

// ManualPeers returns the operator-curated peer set.
func (n *Node) ManualPeers() *peers.ManualSet { return n.manualPeers }
