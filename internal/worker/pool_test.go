package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/notesync/notesync/libs/log"
)

func startPool(t *testing.T, lanes, depth int) *Pool {
	t.Helper()
	p := NewPool(log.NewNopLogger(), lanes, depth)
	require.NoError(t, p.Start(context.Background()))
	return p
}

func TestPoolSameKeyOrdered(t *testing.T) {
	defer leaktest.Check(t)()

	p := startPool(t, 4, 256)

	var (
		mtx sync.Mutex
		got []int
	)
	for i := 0; i < 200; i++ {
		i := i
		require.NoError(t, p.Submit("session-1", func(context.Context) {
			mtx.Lock()
			got = append(got, i)
			mtx.Unlock()
		}))
	}
	require.NoError(t, p.Stop())

	require.Len(t, got, 200)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestPoolPanicRecovery(t *testing.T) {
	defer leaktest.Check(t)()

	p := startPool(t, 1, 8)

	done := make(chan struct{})
	require.NoError(t, p.Submit("k", func(context.Context) { panic("boom") }))
	require.NoError(t, p.Submit("k", func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lane did not survive a panicking job")
	}
	require.NoError(t, p.Stop())

	stats := p.Stats()
	require.EqualValues(t, 1, stats.Panicked)
	require.EqualValues(t, 1, stats.Completed)
}

func TestPoolFullLaneDrops(t *testing.T) {
	defer leaktest.Check(t)()

	p := startPool(t, 1, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit("k", func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	require.NoError(t, p.Submit("k", func(context.Context) {}))
	require.ErrorIs(t, p.Submit("k", func(context.Context) {}), ErrPoolFull)
	require.EqualValues(t, 1, p.Stats().Dropped)

	close(release)
	require.NoError(t, p.Stop())
}

func TestPoolSubmitAfterStop(t *testing.T) {
	defer leaktest.Check(t)()

	p := startPool(t, 2, 2)
	require.NoError(t, p.Stop())
	require.ErrorIs(t, p.Submit("k", func(context.Context) {}), ErrPoolStopped)
}

func TestPoolStopCancelsJobs(t *testing.T) {
	defer leaktest.Check(t)()

	p := startPool(t, 1, 1)
	started := make(chan struct{})
	require.NoError(t, p.Submit("k", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}))
	<-started
	require.NoError(t, p.Stop())
}
