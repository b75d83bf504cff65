// Package gitsync clones, pulls and pushes note repositories with the git
// binary.
//
// Results are human-readable strings. Clone and Pull report failures in the
// result rather than as errors; every outcome is recorded in a StatusStore.
package gitsync

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/notesync/notesync/internal/store"
	"github.com/notesync/notesync/libs/log"
)

// tokenUser is the basic-auth user name sent alongside an access token.
const tokenUser = "PRIVATE-TOKEN"

var (
	errMissingRemote  = errors.New("git URL and local path are required")
	errMissingPath    = errors.New("no git working tree")
	errTargetExists   = errors.New("target directory is not empty")
	errMissingMessage = errors.New("commit message is required")
)

// Runner executes git. env entries are added to the process environment.
type Runner interface {
	Run(ctx context.Context, dir string, env []string, args ...string) ([]byte, error)
}

// ExecRunner runs the git binary found at Path (or on $PATH).
type ExecRunner struct {
	Path string
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, dir string, env []string, args ...string) ([]byte, error) {
	bin := r.Path
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Env = append(cmd.Env, env...)
	return cmd.CombinedOutput()
}

// Syncer implements clone, pull and commit-push for configured
// repositories and records the outcome of each in a StatusStore.
type Syncer struct {
	logger log.Logger
	runner Runner
	status *StatusStore
}

// SyncerOption sets an optional parameter on the Syncer.
type SyncerOption func(*Syncer)

// WithStatusStore makes the Syncer record into st.
func WithStatusStore(st *StatusStore) SyncerOption {
	return func(s *Syncer) { s.status = st }
}

// NewSyncer returns a Syncer. A nil runner selects ExecRunner.
func NewSyncer(logger log.Logger, runner Runner, options ...SyncerOption) *Syncer {
	if runner == nil {
		runner = ExecRunner{}
	}
	s := &Syncer{logger: logger, runner: runner}
	for _, opt := range options {
		opt(s)
	}
	if s.status == nil {
		s.status = NewStatusStore(DefaultHistoryLimit)
	}
	return s
}

// Status returns the store the Syncer records into.
func (s *Syncer) Status() *StatusStore { return s.status }

// CommitOptions describes the commit made by CommitAndPush. The author is
// used only when both name and email are set; otherwise git's own
// configuration applies.
type CommitOptions struct {
	Message     string
	AuthorName  string
	AuthorEmail string
}

// Clone clones repo into its local path. An existing non-empty directory is
// left alone.
func (s *Syncer) Clone(ctx context.Context, repo store.Repository) string {
	res, _ := s.track(repo.Alias, OpClone, func() (string, error) { return s.clone(ctx, repo) })
	return res
}

// Pull fast-forwards the local checkout of repo, cloning it first when the
// local path is not a git working tree.
func (s *Syncer) Pull(ctx context.Context, repo store.Repository) string {
	res, _ := s.track(repo.Alias, OpPull, func() (string, error) { return s.pull(ctx, repo) })
	return res
}

// CommitAndPush stages every change in the checkout of repo, commits it
// when anything changed, and pushes the current branch.
func (s *Syncer) CommitAndPush(ctx context.Context, repo store.Repository, opts CommitOptions) (string, error) {
	return s.track(repo.Alias, OpCommitPush, func() (string, error) { return s.commitAndPush(ctx, repo, opts) })
}

func (s *Syncer) track(alias string, op Operation, fn func() (string, error)) (string, error) {
	s.status.Update(Status{Alias: alias, Operation: op, State: StateSyncing})
	res, err := fn()
	if err != nil {
		s.status.Update(Status{Alias: alias, Operation: op, State: StateFailed, LastError: res})
		return res, err
	}
	s.status.Update(Status{Alias: alias, Operation: op, State: StateSuccess})
	return res, nil
}

func (s *Syncer) clone(ctx context.Context, repo store.Repository) (string, error) {
	if repo.GitURL == "" || repo.LocalPath == "" {
		return fmt.Sprintf("Cannot clone %q: git URL and local path are required.", repo.Alias), errMissingRemote
	}
	if !isEmptyDir(repo.LocalPath) {
		return "Directory already exists. Consider pull.", errTargetExists
	}
	if err := os.MkdirAll(filepath.Dir(repo.LocalPath), 0755); err != nil {
		return fmt.Sprintf("Clone failed: %v", err), err
	}

	logger := s.logger.With("alias", repo.Alias, "url", repo.GitURL)
	out, err := s.runner.Run(ctx, "", authEnv(repo), "clone", repo.GitURL, repo.LocalPath)
	if err != nil {
		logger.Error("git clone failed", "err", err, "output", redact(out, repo.Token))
		return fmt.Sprintf("Clone failed: %v: %s", err, redact(out, repo.Token)), err
	}
	logger.Info("cloned repository", "path", repo.LocalPath)
	return fmt.Sprintf("Clone successful. Repository at: %s", repo.LocalPath), nil
}

func (s *Syncer) pull(ctx context.Context, repo store.Repository) (string, error) {
	if repo.LocalPath == "" {
		return fmt.Sprintf("Cannot pull %q: no local path configured.", repo.Alias), errMissingPath
	}
	if !isDir(filepath.Join(repo.LocalPath, ".git")) {
		return s.clone(ctx, repo)
	}

	logger := s.logger.With("alias", repo.Alias, "path", repo.LocalPath)
	out, err := s.runner.Run(ctx, repo.LocalPath, authEnv(repo), "pull", "--ff-only")
	if err != nil {
		logger.Error("git pull failed", "err", err, "output", redact(out, repo.Token))
		return fmt.Sprintf("Pull failed: %v: %s", err, redact(out, repo.Token)), err
	}
	logger.Info("pulled repository")
	return "Pull successful. " + strings.TrimSpace(redact(out, repo.Token)), nil
}

func (s *Syncer) commitAndPush(ctx context.Context, repo store.Repository, opts CommitOptions) (string, error) {
	if strings.TrimSpace(opts.Message) == "" {
		return "Commit message is required.", errMissingMessage
	}
	if repo.LocalPath == "" || !isDir(filepath.Join(repo.LocalPath, ".git")) {
		return fmt.Sprintf("Cannot commit %q: %s is not a git working tree.", repo.Alias, repo.LocalPath), errMissingPath
	}

	logger := s.logger.With("alias", repo.Alias, "path", repo.LocalPath)
	fail := func(step string, out []byte, err error) (string, error) {
		logger.Error("git "+step+" failed", "err", err, "output", redact(out, repo.Token))
		return fmt.Sprintf("Commit and push failed at %s: %v: %s", step, err, redact(out, repo.Token)), err
	}

	out, err := s.runner.Run(ctx, repo.LocalPath, nil, "status", "--porcelain")
	if err != nil {
		return fail("status", out, err)
	}
	if len(bytes.TrimSpace(out)) == 0 {
		logger.Info("no changes to commit")
	} else {
		if out, err := s.runner.Run(ctx, repo.LocalPath, nil, "add", "--all"); err != nil {
			return fail("add", out, err)
		}
		args := []string{"commit", "-m", opts.Message}
		var env []string
		if opts.AuthorName != "" && opts.AuthorEmail != "" {
			args = append(args, "--author", fmt.Sprintf("%s <%s>", opts.AuthorName, opts.AuthorEmail))
			env = []string{"GIT_COMMITTER_NAME=" + opts.AuthorName, "GIT_COMMITTER_EMAIL=" + opts.AuthorEmail}
		}
		if out, err := s.runner.Run(ctx, repo.LocalPath, env, args...); err != nil {
			return fail("commit", out, err)
		}
		logger.Info("committed changes", "message", opts.Message)
	}

	out, err = s.runner.Run(ctx, repo.LocalPath, authEnv(repo), "push")
	if err != nil {
		return fail("push", out, err)
	}
	logger.Info("pushed repository")
	return "Add, Commit successful. Push results: " + strings.TrimSpace(redact(out, repo.Token)), nil
}

// authEnv passes the token to git as an HTTP header through the
// GIT_CONFIG_* environment, keeping it off the command line.
func authEnv(repo store.Repository) []string {
	if !repo.HasToken() {
		return nil
	}
	cred := base64.StdEncoding.EncodeToString([]byte(tokenUser + ":" + repo.Token))
	return []string{
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=http.extraHeader",
		"GIT_CONFIG_VALUE_0=Authorization: Basic " + cred,
	}
}

func redact(out []byte, token string) string {
	s := string(bytes.TrimSpace(out))
	if token != "" {
		s = strings.ReplaceAll(s, token, "***")
	}
	return s
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func isEmptyDir(path string) bool {
	entries, err := os.ReadDir(path)
	if err != nil {
		return os.IsNotExist(err)
	}
	return len(entries) == 0
}
