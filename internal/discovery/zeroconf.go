package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/notesync/notesync/libs/log"
	"github.com/notesync/notesync/version"
)

// DefaultBrowseInterval is the length of one mDNS lookup round.
const DefaultBrowseInterval = 30 * time.Second

// ZeroconfBackend implements Backend over multicast DNS.
//
// The resolver reports each instance once per lookup, so browsing runs in
// rounds: an instance seen in one round and missing from the next is
// reported as removed.
type ZeroconfBackend struct {
	Service  string
	Domain   string
	Interval time.Duration

	logger      log.Logger
	newResolver func() (*zeroconf.Resolver, error)
}

func newZeroconfResolver() (*zeroconf.Resolver, error) { return zeroconf.NewResolver(nil) }

// NewZeroconfBackend returns a backend for the given service type and
// domain.
func NewZeroconfBackend(logger log.Logger, service, domain string, interval time.Duration) *ZeroconfBackend {
	if interval <= 0 {
		interval = DefaultBrowseInterval
	}
	return &ZeroconfBackend{
		Service:     service,
		Domain:      domain,
		Interval:    interval,
		logger:      logger,
		newResolver: newZeroconfResolver,
	}
}

// Register implements Backend.
func (b *ZeroconfBackend) Register(instance string, port int) (func(), error) {
	server, err := zeroconf.Register(instance, b.Service, b.Domain, port, []string{"txtv=" + version.ProtocolVersion}, nil)
	if err != nil {
		return nil, err
	}
	return server.Shutdown, nil
}

// Browse implements Backend.
func (b *ZeroconfBackend) Browse(ctx context.Context, events chan<- Event) error {
	// The first resolver doubles as the check that multicast is usable.
	resolver, err := b.newResolver()
	if err != nil {
		return err
	}

	go b.browseRoutine(ctx, resolver, events)
	return nil
}

// browseRoutine runs lookup rounds until ctx is done. A resolver shuts
// itself down when its browse ends, so each round after the first gets a
// new one.
func (b *ZeroconfBackend) browseRoutine(ctx context.Context, resolver *zeroconf.Resolver, events chan<- Event) {
	previous := map[string]Entry{}
	for ctx.Err() == nil {
		if resolver == nil {
			var err error
			if resolver, err = b.newResolver(); err != nil {
				b.logger.Error("failed to create mDNS resolver", "err", err)
				select {
				case <-time.After(b.Interval):
					continue
				case <-ctx.Done():
					return
				}
			}
		}
		current, err := b.lookup(ctx, resolver, events)
		resolver = nil
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			b.logger.Error("mDNS lookup failed", "err", err)
			select {
			case <-time.After(b.Interval):
				continue
			case <-ctx.Done():
				return
			}
		}

		for instance, e := range previous {
			if _, ok := current[instance]; ok {
				continue
			}
			select {
			case events <- Event{Entry: e, Removed: true}:
			case <-ctx.Done():
				return
			}
		}
		previous = current
	}
}

// lookup runs one browse round, forwarding every resolved entry.
func (b *ZeroconfBackend) lookup(ctx context.Context, resolver *zeroconf.Resolver, events chan<- Event) (map[string]Entry, error) {
	roundCtx, cancel := context.WithTimeout(ctx, b.Interval)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(roundCtx, b.Service, b.Domain, entries); err != nil {
		return nil, err
	}

	seen := map[string]Entry{}
	for se := range entries {
		if se.TTL == 0 {
			continue
		}
		e := Entry{
			Instance: se.Instance,
			HostName: se.HostName,
			Port:     se.Port,
			IPv4:     se.AddrIPv4,
			IPv6:     se.AddrIPv6,
		}
		seen[e.Instance] = e

		select {
		case events <- Event{Entry: e}:
		case <-ctx.Done():
			return seen, ctx.Err()
		}
	}

	if err := roundCtx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return seen, err
	}
	return seen, nil
}
