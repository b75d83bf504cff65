package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/require"

	"github.com/notesync/notesync/libs/log"
)

type countingResolvers struct {
	mtx   sync.Mutex
	calls int
	err   error
}

func (c *countingResolvers) newResolver() (*zeroconf.Resolver, error) {
	c.mtx.Lock()
	c.calls++
	c.mtx.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return zeroconf.NewResolver(nil)
}

func (c *countingResolvers) count() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.calls
}

func TestZeroconfBrowseResolverError(t *testing.T) {
	resolvers := &countingResolvers{err: errors.New("no multicast interface")}
	b := NewZeroconfBackend(log.NewNopLogger(), DefaultServiceType, "local.", time.Hour)
	b.newResolver = resolvers.newResolver

	err := b.Browse(context.Background(), make(chan Event))
	require.EqualError(t, err, "no multicast interface")
	require.Equal(t, 1, resolvers.count())
}

func TestZeroconfBrowseUsesFirstResolver(t *testing.T) {
	resolvers := &countingResolvers{}
	b := NewZeroconfBackend(log.NewNopLogger(), DefaultServiceType, "local.", time.Hour)
	b.newResolver = resolvers.newResolver

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Browse(ctx, make(chan Event)); err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}

	// The first round runs on the resolver created by Browse.
	time.Sleep(100 * time.Millisecond)
	cancel()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, resolvers.count())
}
