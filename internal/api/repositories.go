package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/notesync/notesync/internal/gitsync"
	"github.com/notesync/notesync/internal/store"
)

// RepositoryRequest is the body of the create and update routes.
type RepositoryRequest struct {
	Alias     string `json:"alias"`
	GitURL    string `json:"gitUrl"`
	LocalPath string `json:"localPath"`
	Token     string `json:"token"`
}

// RepositoryResponse is a repository as shown by the API. The token itself
// is never returned.
type RepositoryResponse struct {
	Alias     string `json:"alias"`
	GitURL    string `json:"gitUrl"`
	LocalPath string `json:"localPath"`
	HasToken  bool   `json:"hasToken"`
}

func newRepositoryResponse(r store.Repository) RepositoryResponse {
	return RepositoryResponse{
		Alias:     r.Alias,
		GitURL:    r.GitURL,
		LocalPath: r.LocalPath,
		HasToken:  r.HasToken(),
	}
}

func (env *Environment) lookup(w http.ResponseWriter, r *http.Request) (store.Repository, bool) {
	alias := r.PathValue("alias")
	repo, ok := env.Repositories.GetByAlias(alias)
	if !ok {
		writeStatus(w, http.StatusNotFound, "Repository with alias '%s' not found.", alias)
	}
	return repo, ok
}

// ListRepositories returns every configured repository.
func (env *Environment) ListRepositories(w http.ResponseWriter, r *http.Request) {
	repos := env.Repositories.List()
	out := make([]RepositoryResponse, 0, len(repos))
	for _, repo := range repos {
		out = append(out, newRepositoryResponse(repo))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRepository returns one repository.
func (env *Environment) GetRepository(w http.ResponseWriter, r *http.Request) {
	if repo, ok := env.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, newRepositoryResponse(repo))
	}
}

// CreateRepository adds a repository and announces it to peers.
func (env *Environment) CreateRepository(w http.ResponseWriter, r *http.Request) {
	var req RepositoryRequest
	if err := decodeBody(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, "Invalid request: %v", err)
		return
	}
	repo := store.Repository{
		Alias:     strings.TrimSpace(req.Alias),
		GitURL:    strings.TrimSpace(req.GitURL),
		LocalPath: req.LocalPath,
		Token:     req.Token,
	}
	if repo.Alias == "" || repo.GitURL == "" {
		writeStatus(w, http.StatusBadRequest, "Alias and gitUrl are required.")
		return
	}
	if !env.Repositories.Add(repo) {
		writeStatus(w, http.StatusConflict, "Repository with alias '%s' already exists.", repo.Alias)
		return
	}

	env.Logger.Info("added repository", "alias", repo.Alias)
	env.Broadcaster.BroadcastAdd(repo)
	writeJSON(w, http.StatusCreated, newRepositoryResponse(repo))
}

// UpdateRepository replaces a repository and announces the change. Fields
// left empty keep their current value.
func (env *Environment) UpdateRepository(w http.ResponseWriter, r *http.Request) {
	cur, ok := env.lookup(w, r)
	if !ok {
		return
	}
	var req RepositoryRequest
	if err := decodeBody(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, "Invalid request: %v", err)
		return
	}

	next := cur
	if a := strings.TrimSpace(req.Alias); a != "" {
		next.Alias = a
	}
	if u := strings.TrimSpace(req.GitURL); u != "" {
		next.GitURL = u
	}
	if req.LocalPath != "" {
		next.LocalPath = req.LocalPath
	}
	if req.Token != "" {
		next.Token = req.Token
	}

	if !env.Repositories.Update(cur.Alias, next) {
		writeStatus(w, http.StatusConflict, "Cannot rename '%s' to '%s': alias in use.", cur.Alias, next.Alias)
		return
	}

	env.Logger.Info("updated repository", "old_alias", cur.Alias, "alias", next.Alias)
	env.Broadcaster.BroadcastUpdate(cur.Alias, next)
	writeJSON(w, http.StatusOK, newRepositoryResponse(next))
}

// DeleteRepository removes a repository and announces the removal.
func (env *Environment) DeleteRepository(w http.ResponseWriter, r *http.Request) {
	alias := r.PathValue("alias")
	if !env.Repositories.Remove(alias) {
		writeStatus(w, http.StatusNotFound, "Repository with alias '%s' not found.", alias)
		return
	}

	env.Logger.Info("removed repository", "alias", alias)
	env.Broadcaster.BroadcastRemove(alias)
	w.WriteHeader(http.StatusNoContent)
}

// SyncRepository pulls a repository and then asks peers to do the same.
func (env *Environment) SyncRepository(w http.ResponseWriter, r *http.Request) {
	repo, ok := env.lookup(w, r)
	if !ok {
		return
	}
	res := env.Syncer.Pull(r.Context(), repo)
	env.Broadcaster.BroadcastSyncRequest(repo.Alias)
	writeStatus(w, http.StatusOK, "%s", res)
}

// CloneRepository clones a repository into its local path.
func (env *Environment) CloneRepository(w http.ResponseWriter, r *http.Request) {
	repo, ok := env.lookup(w, r)
	if !ok {
		return
	}
	if repo.GitURL == "" {
		writeStatus(w, http.StatusBadRequest, "Git URL is not configured for repository '%s'.", repo.Alias)
		return
	}
	writeStatus(w, http.StatusOK, "%s", env.Syncer.Clone(r.Context(), repo))
}

// CommitPushRequest is the body of the commit-push route.
type CommitPushRequest struct {
	CommitMessage string `json:"commitMessage"`
	AuthorName    string `json:"authorName"`
	AuthorEmail   string `json:"authorEmail"`
}

// CommitAndPushRepository commits every local change of a repository and
// pushes it.
func (env *Environment) CommitAndPushRepository(w http.ResponseWriter, r *http.Request) {
	repo, ok := env.lookup(w, r)
	if !ok {
		return
	}
	var req CommitPushRequest
	if err := decodeBody(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, "Invalid request: %v", err)
		return
	}
	if strings.TrimSpace(req.CommitMessage) == "" {
		writeStatus(w, http.StatusBadRequest, "Commit message is required.")
		return
	}

	res, err := env.Syncer.CommitAndPush(r.Context(), repo, gitsync.CommitOptions{
		Message:     req.CommitMessage,
		AuthorName:  req.AuthorName,
		AuthorEmail: req.AuthorEmail,
	})
	if err != nil {
		writeStatus(w, http.StatusInternalServerError, "%s", res)
		return
	}
	writeStatus(w, http.StatusOK, "%s", res)
}

// GetSyncStatus returns the latest sync status of a repository.
func (env *Environment) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	if repo, ok := env.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, env.SyncStatus.Current(repo.Alias))
	}
}

// GetSyncHistory returns the sync records of a repository, optionally
// limited to the RFC 3339 bounds given as from and to query parameters.
func (env *Environment) GetSyncHistory(w http.ResponseWriter, r *http.Request) {
	repo, ok := env.lookup(w, r)
	if !ok {
		return
	}
	var bounds [2]time.Time
	for i, key := range []string{"from", "to"} {
		v := r.URL.Query().Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeStatus(w, http.StatusBadRequest, "Invalid %s: %v", key, err)
			return
		}
		bounds[i] = t
	}
	writeJSON(w, http.StatusOK, env.SyncStatus.History(repo.Alias, bounds[0], bounds[1]))
}
