package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/notesync/config"
	"github.com/notesync/notesync/internal/gitsync"
	"github.com/notesync/notesync/internal/p2p"
	"github.com/notesync/notesync/internal/peers"
	"github.com/notesync/notesync/internal/store"
	"github.com/notesync/notesync/internal/worker"
	"github.com/notesync/notesync/libs/log"
)

type fakeRegistry struct {
	mtx       sync.Mutex
	connected map[string]bool
	dialErr   error
}

func (r *fakeRegistry) ConnectedPeers() []string {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	var out []string
	for addr := range r.connected {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

func (r *fakeRegistry) Sessions() []p2p.SessionInfo { return nil }

func (r *fakeRegistry) Dial(_ context.Context, addr string) (p2p.DialOutcome, error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if r.dialErr != nil {
		return 0, r.dialErr
	}
	if r.connected[addr] {
		return p2p.DialAlreadyConnected, nil
	}
	r.connected[addr] = true
	return p2p.DialConnected, nil
}

func (r *fakeRegistry) Close(addr string) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if !r.connected[addr] {
		return p2p.ErrSessionNotFound
	}
	delete(r.connected, addr)
	return nil
}

type fakeDiscovery []string

func (d fakeDiscovery) DiscoveredPeers() []string { return d }

type fakeBroadcaster struct {
	calls []string
}

func (b *fakeBroadcaster) BroadcastAdd(repo store.Repository) int {
	b.calls = append(b.calls, "add "+repo.Alias+" "+repo.Token)
	return 1
}

func (b *fakeBroadcaster) BroadcastRemove(alias string) int {
	b.calls = append(b.calls, "remove "+alias)
	return 1
}

func (b *fakeBroadcaster) BroadcastUpdate(oldAlias string, repo store.Repository) int {
	b.calls = append(b.calls, "update "+oldAlias+"->"+repo.Alias)
	return 1
}

func (b *fakeBroadcaster) BroadcastSyncRequest(aliasOrURL string) int {
	b.calls = append(b.calls, "sync "+aliasOrURL)
	return 1
}

type fakeSyncer struct{}

func (fakeSyncer) Pull(_ context.Context, repo store.Repository) string {
	return "Pull successful. " + repo.Alias
}

func (fakeSyncer) Clone(_ context.Context, repo store.Repository) string {
	return "Clone successful. " + repo.Alias
}

func (fakeSyncer) CommitAndPush(_ context.Context, repo store.Repository, opts gitsync.CommitOptions) (string, error) {
	if opts.Message == "fail" {
		return "Commit and push failed at push: rejected", errors.New("exit status 1")
	}
	return "Add, Commit successful. " + repo.Alias + " " + opts.AuthorName, nil
}

type fakeNode struct{}

func (fakeNode) NodeInfo() NodeInfo {
	return NodeInfo{
		Name:             "P2PNotesSyncNode-laptop-8080",
		ListenAddr:       "127.0.0.1:8080",
		Version:          "0.1.0",
		ProtocolVersion:  "1",
		DiscoveryEnabled: true,
		Dispatch:         worker.Stats{Lanes: 4, Completed: 7},
	}
}

type testEnv struct {
	*Environment
	registry    *fakeRegistry
	broadcaster *fakeBroadcaster
	repos       *store.FileStore
	statuses    *gitsync.StatusStore
	server      *httptest.Server
}

func newTestEnv(t *testing.T, repos ...store.Repository) *testEnv {
	t.Helper()

	te := &testEnv{
		registry:    &fakeRegistry{connected: map[string]bool{}},
		broadcaster: &fakeBroadcaster{},
		repos:       store.NewMemStore(repos...),
		statuses:    gitsync.NewStatusStore(0),
	}
	te.Environment = &Environment{
		Registry:     te.registry,
		Discovery:    fakeDiscovery{"10.0.0.2:8080", "10.0.0.3:8080"},
		ManualPeers:  peers.NewManualSet(),
		Repositories: te.repos,
		Broadcaster:  te.broadcaster,
		Syncer:       fakeSyncer{},
		SyncStatus:   te.statuses,
		Node:         fakeNode{},
		Logger:       log.NewNopLogger(),
	}
	te.server = httptest.NewServer(RecoverAndLogHandler(te.Handler(config.DefaultAPIConfig()), log.NewNopLogger()))
	t.Cleanup(te.server.Close)
	return te
}

func (te *testEnv) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		bz, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(bz)
	}
	req, err := http.NewRequest(method, te.server.URL+path, rd)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	bz, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, bz
}

func message(t *testing.T, bz []byte) string {
	t.Helper()
	var res StatusResponse
	require.NoError(t, json.Unmarshal(bz, &res))
	return res.Message
}

func TestPeerRoutes(t *testing.T) {
	te := newTestEnv(t)

	code, bz := te.do(t, http.MethodPost, "/api/v1/peers", PeerRequest{Address: "10.0.0.9:8080"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Peer added: 10.0.0.9:8080", message(t, bz))

	code, _ = te.do(t, http.MethodPost, "/api/v1/peers", PeerRequest{Address: "  "})
	require.Equal(t, http.StatusBadRequest, code)

	code, bz = te.do(t, http.MethodPost, "/api/v1/peers/connect", PeerRequest{Address: "10.0.0.2:8080"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Connected to 10.0.0.2:8080.", message(t, bz))

	_, bz = te.do(t, http.MethodPost, "/api/v1/peers/connect", PeerRequest{Address: "10.0.0.2:8080"})
	assert.Equal(t, "Already connected to 10.0.0.2:8080.", message(t, bz))

	code, bz = te.do(t, http.MethodGet, "/api/v1/peers", nil)
	require.Equal(t, http.StatusOK, code)
	var list []peers.Peer
	require.NoError(t, json.Unmarshal(bz, &list))
	assert.Equal(t, []peers.Peer{
		{Address: "10.0.0.2:8080", Status: peers.StatusConnected},
		{Address: "10.0.0.3:8080", Status: peers.StatusDiscovered},
		{Address: "10.0.0.9:8080", Status: peers.StatusManual},
	}, list)

	_, bz = te.do(t, http.MethodGet, "/api/v1/peers/stats", nil)
	var stats peers.Stats
	require.NoError(t, json.Unmarshal(bz, &stats))
	assert.Equal(t, peers.Stats{Connected: 1, Discovered: 2, Manual: 2, Total: 3}, stats)

	code, _ = te.do(t, http.MethodPost, "/api/v1/peers/disconnect", PeerRequest{Address: "10.0.0.2:8080"})
	require.Equal(t, http.StatusOK, code)
	code, _ = te.do(t, http.MethodPost, "/api/v1/peers/disconnect", PeerRequest{Address: "10.0.0.2:8080"})
	require.Equal(t, http.StatusNotFound, code)

	code, bz = te.do(t, http.MethodDelete, "/api/v1/peers/10.0.0.9:8080", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Peer removed: 10.0.0.9:8080", message(t, bz))
	assert.False(t, te.ManualPeers.Contains("10.0.0.9:8080"))

	code, bz = te.do(t, http.MethodGet, "/api/v1/peers/sessions", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(bz))
}

func TestConnectFailureIsTextual(t *testing.T) {
	te := newTestEnv(t)
	te.registry.dialErr = errors.New("connection refused")

	code, bz := te.do(t, http.MethodPost, "/api/v1/peers/connect", PeerRequest{Address: "10.0.0.5:8080"})
	require.Equal(t, http.StatusBadGateway, code)
	assert.Contains(t, message(t, bz), "connection refused")
	// The address is remembered for a later attempt.
	assert.True(t, te.ManualPeers.Contains("10.0.0.5:8080"))
}

func TestRepositoryRoutes(t *testing.T) {
	te := newTestEnv(t)

	code, bz := te.do(t, http.MethodPost, "/api/v1/repositories",
		RepositoryRequest{Alias: "work", GitURL: "https://example.com/w.git", LocalPath: "/w", Token: "secret"})
	require.Equal(t, http.StatusCreated, code)
	assert.NotContains(t, string(bz), "secret")
	assert.Equal(t, []string{"add work secret"}, te.broadcaster.calls[:1])

	code, _ = te.do(t, http.MethodPost, "/api/v1/repositories",
		RepositoryRequest{Alias: "WORK", GitURL: "https://example.com/x.git"})
	require.Equal(t, http.StatusConflict, code)

	code, _ = te.do(t, http.MethodPost, "/api/v1/repositories", RepositoryRequest{Alias: "nourl"})
	require.Equal(t, http.StatusBadRequest, code)

	code, bz = te.do(t, http.MethodGet, "/api/v1/repositories/work", nil)
	require.Equal(t, http.StatusOK, code)
	var got RepositoryResponse
	require.NoError(t, json.Unmarshal(bz, &got))
	assert.Equal(t, RepositoryResponse{Alias: "work", GitURL: "https://example.com/w.git", LocalPath: "/w", HasToken: true}, got)

	code, bz = te.do(t, http.MethodPut, "/api/v1/repositories/work", RepositoryRequest{Alias: "job"})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(bz, &got))
	assert.Equal(t, "job", got.Alias)
	assert.True(t, got.HasToken)

	repo, ok := te.repos.GetByAlias("job")
	require.True(t, ok)
	assert.Equal(t, "secret", repo.Token)

	code, bz = te.do(t, http.MethodPost, "/api/v1/repositories/job/sync", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Pull successful. job", message(t, bz))

	code, bz = te.do(t, http.MethodPost, "/api/v1/repositories/job/clone", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Clone successful. job", message(t, bz))

	code, _ = te.do(t, http.MethodDelete, "/api/v1/repositories/job", nil)
	require.Equal(t, http.StatusNoContent, code)
	code, bz = te.do(t, http.MethodGet, "/api/v1/repositories/job", nil)
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Repository with alias 'job' not found.", message(t, bz))

	assert.Equal(t, []string{
		"add work secret",
		"update work->job",
		"sync job",
		"remove job",
	}, te.broadcaster.calls)

	code, bz = te.do(t, http.MethodGet, "/api/v1/repositories", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(bz))
}

func TestCommitPushRoute(t *testing.T) {
	te := newTestEnv(t, store.Repository{Alias: "work", GitURL: "u", LocalPath: "/w"})

	code, bz := te.do(t, http.MethodPost, "/api/v1/repositories/work/commit-push",
		CommitPushRequest{CommitMessage: "daily", AuthorName: "Ada"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Add, Commit successful. work Ada", message(t, bz))

	code, _ = te.do(t, http.MethodPost, "/api/v1/repositories/work/commit-push", CommitPushRequest{})
	require.Equal(t, http.StatusBadRequest, code)

	code, bz = te.do(t, http.MethodPost, "/api/v1/repositories/work/commit-push",
		CommitPushRequest{CommitMessage: "fail"})
	require.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, message(t, bz), "rejected")

	code, _ = te.do(t, http.MethodPost, "/api/v1/repositories/ghost/commit-push",
		CommitPushRequest{CommitMessage: "daily"})
	require.Equal(t, http.StatusNotFound, code)
}

func TestSyncStatusRoutes(t *testing.T) {
	te := newTestEnv(t, store.Repository{Alias: "work", GitURL: "u", LocalPath: "/w"})

	code, bz := te.do(t, http.MethodGet, "/api/v1/repositories/work/status", nil)
	require.Equal(t, http.StatusOK, code)
	var st gitsync.Status
	require.NoError(t, json.Unmarshal(bz, &st))
	assert.Equal(t, gitsync.StateIdle, st.State)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	te.statuses.Update(gitsync.Status{Alias: "work", Operation: gitsync.OpPull, State: gitsync.StateFailed,
		Time: base, LastError: "Pull failed"})
	te.statuses.Update(gitsync.Status{Alias: "work", Operation: gitsync.OpPull, State: gitsync.StateSuccess,
		Time: base.Add(time.Hour)})

	_, bz = te.do(t, http.MethodGet, "/api/v1/repositories/WORK/status", nil)
	require.NoError(t, json.Unmarshal(bz, &st))
	assert.Equal(t, gitsync.StateSuccess, st.State)

	_, bz = te.do(t, http.MethodGet, "/api/v1/repositories/work/history", nil)
	var hist []gitsync.Status
	require.NoError(t, json.Unmarshal(bz, &hist))
	require.Len(t, hist, 2)
	assert.Equal(t, "Pull failed", hist[0].LastError)

	code, bz = te.do(t, http.MethodGet, "/api/v1/repositories/work/history?from=2024-05-01T12:30:00Z", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(bz, &hist))
	require.Len(t, hist, 1)
	assert.Equal(t, gitsync.StateSuccess, hist[0].State)

	code, _ = te.do(t, http.MethodGet, "/api/v1/repositories/work/history?to=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = te.do(t, http.MethodGet, "/api/v1/repositories/ghost/status", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestNodeInfoRoute(t *testing.T) {
	te := newTestEnv(t)

	code, bz := te.do(t, http.MethodGet, "/api/v1/node", nil)
	require.Equal(t, http.StatusOK, code)
	var info NodeInfo
	require.NoError(t, json.Unmarshal(bz, &info))
	assert.Equal(t, fakeNode{}.NodeInfo(), info)
}

func TestBroadcastRoutes(t *testing.T) {
	te := newTestEnv(t, store.Repository{Alias: "notes", GitURL: "u"})

	for _, path := range []string{
		"/api/v1/p2p-sync/broadcast/new/notes",
		"/api/v1/p2p-sync/broadcast/update/old?newRepoAlias=notes",
		"/api/v1/p2p-sync/broadcast/remove/gone",
		"/api/v1/p2p-sync/broadcast/sync-request/notes",
	} {
		code, bz := te.do(t, http.MethodPost, path, nil)
		require.Equal(t, http.StatusOK, code, path)
		assert.Equal(t, "Broadcast sent to 1 peer sessions.", message(t, bz))
	}
	assert.Equal(t, []string{"add notes ", "update old->notes", "remove gone", "sync notes"}, te.broadcaster.calls)

	code, _ := te.do(t, http.MethodPost, "/api/v1/p2p-sync/broadcast/new/missing", nil)
	require.Equal(t, http.StatusNotFound, code)
	code, _ = te.do(t, http.MethodPost, "/api/v1/p2p-sync/broadcast/shout/notes", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestCORS(t *testing.T) {
	te := newTestEnv(t)
	cfg := config.DefaultAPIConfig()
	cfg.CORSAllowedOrigins = []string{"http://localhost:3000"}
	srv := httptest.NewServer(te.Handler(cfg))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/peers", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRecoverAndLogHandler(t *testing.T) {
	h := RecoverAndLogHandler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("oh no")
	}), log.NewNopLogger())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "oh no"))
}
