package gitsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/notesync/notesync/internal/store"
	"github.com/notesync/notesync/libs/log"
)

type call struct {
	dir  string
	env  []string
	args []string
}

type fakeRunner struct {
	calls []call
	out   []byte
	err   error
}

func (r *fakeRunner) Run(_ context.Context, dir string, env []string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, call{dir: dir, env: env, args: args})
	return r.out, r.err
}

func TestPullClonesMissingCheckout(t *testing.T) {
	runner := &fakeRunner{}
	s := NewSyncer(log.NewNopLogger(), runner)

	path := filepath.Join(t.TempDir(), "notes")
	res := s.Pull(context.Background(), store.Repository{Alias: "notes", GitURL: "https://example.com/n.git", LocalPath: path})

	require.True(t, strings.HasPrefix(res, "Clone successful"), res)
	require.Len(t, runner.calls, 1)
	require.Equal(t, []string{"clone", "https://example.com/n.git", path}, runner.calls[0].args)
	require.Empty(t, runner.calls[0].env)
}

func TestPullExistingCheckout(t *testing.T) {
	path := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(path, ".git"), 0755))

	runner := &fakeRunner{out: []byte("Already up to date.\n")}
	s := NewSyncer(log.NewNopLogger(), runner)

	res := s.Pull(context.Background(), store.Repository{Alias: "notes", GitURL: "u", LocalPath: path})
	require.Equal(t, "Pull successful. Already up to date.", res)
	require.Equal(t, path, runner.calls[0].dir)
	require.Equal(t, []string{"pull", "--ff-only"}, runner.calls[0].args)
}

func TestTokenNeverOnCommandLineOrInResult(t *testing.T) {
	path := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(path, ".git"), 0755))

	runner := &fakeRunner{
		out: []byte("fatal: could not read from https://s3cr3t@example.com"),
		err: errors.New("exit status 128"),
	}
	s := NewSyncer(log.NewNopLogger(), runner)

	res := s.Pull(context.Background(), store.Repository{Alias: "n", GitURL: "u", LocalPath: path, Token: "s3cr3t"})
	require.True(t, strings.HasPrefix(res, "Pull failed"), res)
	require.NotContains(t, res, "s3cr3t")

	c := runner.calls[0]
	for _, arg := range c.args {
		require.NotContains(t, arg, "s3cr3t")
	}
	require.Contains(t, c.env, "GIT_CONFIG_KEY_0=http.extraHeader")
}

func TestCloneExistingDirectory(t *testing.T) {
	path := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(path, "README.md"), nil, 0644))

	runner := &fakeRunner{}
	res := NewSyncer(log.NewNopLogger(), runner).Clone(context.Background(),
		store.Repository{Alias: "n", GitURL: "u", LocalPath: path})

	require.Equal(t, "Directory already exists. Consider pull.", res)
	require.Empty(t, runner.calls)
}

func TestCloneRequiresURLAndPath(t *testing.T) {
	runner := &fakeRunner{}
	s := NewSyncer(log.NewNopLogger(), runner)

	require.Contains(t, s.Clone(context.Background(), store.Repository{Alias: "n", LocalPath: "/x"}), "required")
	require.Contains(t, s.Pull(context.Background(), store.Repository{Alias: "n", GitURL: "u"}), "no local path")
	require.Empty(t, runner.calls)
}

type response struct {
	out []byte
	err error
}

// scriptedRunner answers by git subcommand.
type scriptedRunner struct {
	calls     []call
	responses map[string]response
}

func (r *scriptedRunner) Run(_ context.Context, dir string, env []string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, call{dir: dir, env: env, args: args})
	resp := r.responses[args[0]]
	return resp.out, resp.err
}

func (r *scriptedRunner) subcommands() []string {
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.args[0])
	}
	return out
}

func newCheckout(t *testing.T) string {
	t.Helper()
	path := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(path, ".git"), 0755))
	return path
}

func TestCommitAndPush(t *testing.T) {
	path := newCheckout(t)
	runner := &scriptedRunner{responses: map[string]response{
		"status": {out: []byte(" M notes.md\n")},
		"push":   {out: []byte("To https://example.com/n.git\n")},
	}}
	s := NewSyncer(log.NewNopLogger(), runner)
	repo := store.Repository{Alias: "notes", GitURL: "u", LocalPath: path, Token: "s3cr3t"}

	res, err := s.CommitAndPush(context.Background(), repo, CommitOptions{
		Message:     "daily notes",
		AuthorName:  "Ada",
		AuthorEmail: "ada@example.com",
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res, "Add, Commit successful."), res)

	require.Equal(t, []string{"status", "add", "commit", "push"}, runner.subcommands())
	commit := runner.calls[2]
	require.Equal(t, []string{"commit", "-m", "daily notes", "--author", "Ada <ada@example.com>"}, commit.args)
	require.Contains(t, commit.env, "GIT_COMMITTER_EMAIL=ada@example.com")
	require.Contains(t, runner.calls[3].env, "GIT_CONFIG_KEY_0=http.extraHeader")
	for _, c := range runner.calls {
		for _, arg := range c.args {
			require.NotContains(t, arg, "s3cr3t")
		}
	}

	require.Equal(t, StateSuccess, s.Status().Current("notes").State)
	require.Equal(t, OpCommitPush, s.Status().Current("NOTES").Operation)
}

func TestCommitAndPushCleanTreeOnlyPushes(t *testing.T) {
	path := newCheckout(t)
	runner := &scriptedRunner{responses: map[string]response{}}
	s := NewSyncer(log.NewNopLogger(), runner)

	_, err := s.CommitAndPush(context.Background(),
		store.Repository{Alias: "notes", LocalPath: path}, CommitOptions{Message: "m"})
	require.NoError(t, err)
	require.Equal(t, []string{"status", "push"}, runner.subcommands())
}

func TestCommitAndPushFailures(t *testing.T) {
	s := NewSyncer(log.NewNopLogger(), &scriptedRunner{})

	_, err := s.CommitAndPush(context.Background(),
		store.Repository{Alias: "notes", LocalPath: newCheckout(t)}, CommitOptions{Message: "  "})
	require.Error(t, err)

	_, err = s.CommitAndPush(context.Background(),
		store.Repository{Alias: "notes", LocalPath: t.TempDir()}, CommitOptions{Message: "m"})
	require.Error(t, err)

	runner := &scriptedRunner{responses: map[string]response{
		"push": {out: []byte("rejected"), err: errors.New("exit status 1")},
	}}
	s = NewSyncer(log.NewNopLogger(), runner)
	res, err := s.CommitAndPush(context.Background(),
		store.Repository{Alias: "notes", LocalPath: newCheckout(t)}, CommitOptions{Message: "m"})
	require.Error(t, err)
	require.Contains(t, res, "push")

	st := s.Status().Current("notes")
	require.Equal(t, StateFailed, st.State)
	require.Equal(t, res, st.LastError)
}

func TestSyncerRecordsStatus(t *testing.T) {
	statuses := NewStatusStore(0)
	runner := &fakeRunner{out: []byte("Already up to date.")}
	s := NewSyncer(log.NewNopLogger(), runner, WithStatusStore(statuses))
	require.Same(t, statuses, s.Status())

	require.Equal(t, StateIdle, statuses.Current("notes").State)

	s.Pull(context.Background(), store.Repository{Alias: "notes", GitURL: "u", LocalPath: newCheckout(t)})
	s.Pull(context.Background(), store.Repository{Alias: "notes", GitURL: "u"})

	hist := statuses.History("notes", time.Time{}, time.Time{})
	require.Len(t, hist, 4)
	require.Equal(t, []State{StateSyncing, StateSuccess, StateSyncing, StateFailed},
		[]State{hist[0].State, hist[1].State, hist[2].State, hist[3].State})
	require.Contains(t, hist[3].LastError, "no local path")
}
