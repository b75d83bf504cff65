// Package discovery announces this node on the local network and connects
// to the other nodes it finds there.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/notesync/notesync/internal/p2p"
	"github.com/notesync/notesync/libs/cmap"
	"github.com/notesync/notesync/libs/log"
	"github.com/notesync/notesync/libs/service"
)

const (
	DefaultServiceType = "_p2pnotesync._tcp"
	DefaultDomain      = "local."
	DefaultNamePrefix  = "P2PNotesSyncNode"
)

// Entry is a resolved service instance.
type Entry struct {
	Instance string
	HostName string
	Port     int
	IPv4     []net.IP
	IPv6     []net.IP
}

// Address returns host:port for the entry, preferring an IPv4 address.
// It returns "" when the entry carries no usable host.
func (e Entry) Address() string {
	if e.Port <= 0 {
		return ""
	}
	port := strconv.Itoa(e.Port)
	switch {
	case len(e.IPv4) > 0:
		return net.JoinHostPort(e.IPv4[0].String(), port)
	case len(e.IPv6) > 0:
		return net.JoinHostPort(e.IPv6[0].String(), port)
	case e.HostName != "":
		return net.JoinHostPort(strings.TrimSuffix(e.HostName, "."), port)
	}
	return ""
}

// Event reports that an instance was resolved or went away.
type Event struct {
	Entry
	Removed bool
}

// Backend is a local-network service discovery mechanism.
type Backend interface {
	// Register advertises instance on port until the returned function is
	// called.
	Register(instance string, port int) (shutdown func(), err error)
	// Browse delivers events for other instances of the service until ctx
	// is done. It returns once browsing has started.
	Browse(ctx context.Context, events chan<- Event) error
}

// Connector opens sessions to discovered peers. *p2p.Registry satisfies it.
type Connector interface {
	Dial(ctx context.Context, address string) (p2p.DialOutcome, error)
}

// NodeName returns the instance name a node advertises itself under:
// <prefix>-<short hostname>-<port>. Characters outside [A-Za-z0-9-] become
// '-', since mDNS hands some of them back escaped and the name must compare
// equal to the instance observed on the network.
func NodeName(prefix, hostname string, port int) string {
	if i := strings.IndexByte(hostname, '.'); i > 0 {
		hostname = hostname[:i]
	}
	hostname = sanitizeLabel(hostname)
	if hostname == "" {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%s-%d", sanitizeLabel(prefix), hostname, port)
}

func sanitizeLabel(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}

// Discovery maintains the set of peers found on the local network and dials
// each newly found peer once.
type Discovery struct {
	service.BaseService

	logger    log.Logger
	metrics   *Metrics
	backend   Backend
	connector Connector

	name string
	port int

	peers     mapset.Set[string]
	instances *cmap.CMap[string]

	enabled  atomic.Bool
	shutdown func()
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Option sets an optional parameter on Discovery.
type Option func(*Discovery)

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(d *Discovery) { d.metrics = m }
}

// New creates a Discovery that advertises name on port.
func New(logger log.Logger, backend Backend, connector Connector, name string, port int, options ...Option) *Discovery {
	d := &Discovery{
		logger:    logger,
		metrics:   NopMetrics(),
		backend:   backend,
		connector: connector,
		name:      name,
		port:      port,
		peers:     mapset.NewSet[string](),
		instances: cmap.NewCMap[string](),
	}
	for _, option := range options {
		option(d)
	}
	d.BaseService = *service.NewBaseService(logger, "Discovery", d)
	return d
}

// OnStart registers the advertisement and starts browsing. A failure leaves
// discovery disabled without failing the node.
func (d *Discovery) OnStart(ctx context.Context) error {
	shutdown, err := d.backend.Register(d.name, d.port)
	if err != nil {
		d.logger.Error("failed to register service; discovery disabled", "name", d.name, "err", err)
		return nil
	}
	d.shutdown = shutdown

	ctx, d.cancel = context.WithCancel(ctx)
	events := make(chan Event)
	if err := d.backend.Browse(ctx, events); err != nil {
		d.logger.Error("failed to browse for peers; discovery disabled", "err", err)
		d.cancel()
		d.shutdown()
		d.shutdown = nil
		return nil
	}

	d.enabled.Store(true)
	d.logger.Info("advertising node", "name", d.name, "port", d.port)

	d.wg.Add(1)
	go d.eventRoutine(ctx, events)
	return nil
}

// OnStop withdraws the advertisement and clears the discovered set.
func (d *Discovery) OnStop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	if d.shutdown != nil {
		d.shutdown()
	}
	d.enabled.Store(false)
	d.peers.Clear()
	d.instances.Clear()
	d.metrics.Peers.Set(0)
}

// Enabled reports whether the node is advertising and browsing.
func (d *Discovery) Enabled() bool { return d.enabled.Load() }

// Name returns the instance name this node advertises.
func (d *Discovery) Name() string { return d.name }

// DiscoveredPeers returns a sorted snapshot of the discovered set.
func (d *Discovery) DiscoveredPeers() []string {
	out := d.peers.ToSlice()
	sort.Strings(out)
	return out
}

func (d *Discovery) eventRoutine(ctx context.Context, events <-chan Event) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.Removed {
				d.removed(ev.Entry)
			} else {
				d.resolved(ctx, ev.Entry)
			}
		}
	}
}

func (d *Discovery) resolved(ctx context.Context, e Entry) {
	if e.Instance == d.name {
		return
	}
	addr := e.Address()
	if addr == "" {
		d.logger.Debug("ignoring service without address", "instance", e.Instance)
		return
	}

	d.instances.Set(e.Instance, addr)
	if !d.peers.Add(addr) {
		return
	}
	d.metrics.Peers.Set(float64(d.peers.Cardinality()))
	d.logger.Info("discovered peer", "instance", e.Instance, "peer", addr)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		outcome, err := d.connector.Dial(ctx, addr)
		if err != nil {
			d.metrics.Dials.With("result", "error").Add(1)
			d.logger.Error("failed to connect to discovered peer", "peer", addr, "err", err)
			return
		}
		d.metrics.Dials.With("result", "ok").Add(1)
		d.logger.Debug("dialed discovered peer", "peer", addr, "outcome", outcome)
	}()
}

// removed drops the instance's address from the discovered set. Open
// sessions to it are left alone.
func (d *Discovery) removed(e Entry) {
	addr, ok := d.instances.Get(e.Instance)
	if !ok {
		addr = e.Address()
	}
	d.instances.Delete(e.Instance)
	if addr == "" {
		return
	}

	d.peers.Remove(addr)
	d.metrics.Peers.Set(float64(d.peers.Cardinality()))
	d.logger.Info("peer left", "instance", e.Instance, "peer", addr)
}
