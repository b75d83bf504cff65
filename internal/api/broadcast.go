package api

import (
	"net/http"
)

// Broadcast re-sends a repository notification to every peer. The kind is
// one of new, update, remove or sync-request. For update the alias in the
// path is the old alias and the newRepoAlias query parameter, if given,
// names the current entry.
func (env *Environment) Broadcast(w http.ResponseWriter, r *http.Request) {
	alias := r.PathValue("alias")

	var n int
	switch kind := r.PathValue("kind"); kind {
	case "new":
		repo, ok := env.Repositories.GetByAlias(alias)
		if !ok {
			writeStatus(w, http.StatusNotFound, "Repository with alias '%s' not found.", alias)
			return
		}
		n = env.Broadcaster.BroadcastAdd(repo)

	case "update":
		newAlias := r.URL.Query().Get("newRepoAlias")
		if newAlias == "" {
			newAlias = alias
		}
		repo, ok := env.Repositories.GetByAlias(newAlias)
		if !ok {
			writeStatus(w, http.StatusNotFound, "Repository with alias '%s' not found.", newAlias)
			return
		}
		n = env.Broadcaster.BroadcastUpdate(alias, repo)

	case "remove":
		n = env.Broadcaster.BroadcastRemove(alias)

	case "sync-request":
		n = env.Broadcaster.BroadcastSyncRequest(alias)

	default:
		writeStatus(w, http.StatusNotFound, "Unknown broadcast kind %q.", kind)
		return
	}

	writeStatus(w, http.StatusOK, "Broadcast sent to %d peer sessions.", n)
}
