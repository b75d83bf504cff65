package node

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/notesync/notesync/config"
	"github.com/notesync/notesync/internal/api"
	"github.com/notesync/notesync/internal/coordinator"
	"github.com/notesync/notesync/libs/log"
	"github.com/notesync/notesync/version"
)

func newTestNode(t *testing.T, name string, persistentPeers string) *Node {
	t.Helper()

	cfg, err := config.ResetTestRoot(t.TempDir(), name)
	require.NoError(t, err)
	cfg.P2P.PersistentPeers = persistentPeers

	n, err := New(cfg, log.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, n.Start(ctx))
	t.Cleanup(func() {
		cancel()
		n.Wait()
	})
	return n
}

func TestNodeStartStop(t *testing.T) {
	cfg, err := config.ResetTestRoot(t.TempDir(), "node_start_stop")
	require.NoError(t, err)

	n, err := New(cfg, log.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	require.NotEmpty(t, n.ListenAddr())
	require.True(t, n.IsRunning())

	require.NoError(t, n.Stop())
	require.False(t, n.Registry().IsRunning())
	require.False(t, n.Coordinator().IsRunning())
}

func TestNodeStartFailureStopsStartedServices(t *testing.T) {
	cfg, err := config.ResetTestRoot(t.TempDir(), "node_start_failure")
	require.NoError(t, err)

	n, err := New(cfg, log.NewNopLogger())
	require.NoError(t, err)

	// a coordinator that is already running makes the node's start fail
	// after the registry is up
	require.NoError(t, n.Coordinator().Start(context.Background()))
	t.Cleanup(func() { _ = n.Coordinator().Stop() })

	require.Error(t, n.Start(context.Background()))
	require.False(t, n.IsRunning())
	require.False(t, n.Registry().IsRunning())

	// the listener was released
	_, err = net.Dial("tcp", n.ListenAddr())
	require.Error(t, err)
}

func TestNodeInfo(t *testing.T) {
	n := newTestNode(t, "node_info", "")

	resp, err := http.Get("http://" + n.ListenAddr() + "/api/v1/node")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info api.NodeInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Equal(t, n.ListenAddr(), info.ListenAddr)
	require.Equal(t, version.Version, info.Version)
	require.Equal(t, n.Config().Coordinator.Workers, info.Dispatch.Lanes)
	require.False(t, info.DiscoveryEnabled)
}

func TestNodeRejectsInvalidConfig(t *testing.T) {
	cfg := config.TestConfig()
	cfg.LogFormat = "xml"
	_, err := New(cfg, log.NewNopLogger())
	require.Error(t, err)
}

func TestNodesPropagateRepositoryChanges(t *testing.T) {
	a := newTestNode(t, "node_a", "")
	b := newTestNode(t, "node_b", a.ListenAddr())

	require.Eventually(t, func() bool { return len(a.Registry().ConnectedPeers()) == 1 },
		5*time.Second, 20*time.Millisecond)
	require.True(t, b.ManualPeers().Contains(a.ListenAddr()))

	body, err := json.Marshal(api.RepositoryRequest{
		Alias:     "work",
		GitURL:    "https://example.com/work.git",
		LocalPath: "/home/b/work",
		Token:     "b-secret",
	})
	require.NoError(t, err)
	resp, err := http.Post("http://"+b.ListenAddr()+"/api/v1/repositories", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The server side receives the notification without the token and
	// files the repository under its pending dir.
	require.Eventually(t, func() bool {
		_, ok := a.Store().GetByAlias("work")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	got, _ := a.Store().GetByAlias("work")
	require.Equal(t, "https://example.com/work.git", got.GitURL)
	require.Empty(t, got.Token)
	require.Equal(t, coordinator.PendingPath(a.Config().PendingDirPath(), "work"), got.LocalPath)

	// And the other direction: a removal on a reaches b.
	a.Coordinator().BroadcastRemove("work")
	require.Eventually(t, func() bool {
		_, ok := b.Store().GetByAlias("work")
		return !ok
	}, 5*time.Second, 20*time.Millisecond)
}
