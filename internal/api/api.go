// Package api serves the administrative HTTP surface of a node: the peer
// lists, the repository list and explicit peer broadcasts.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/notesync/notesync/config"
	"github.com/notesync/notesync/internal/gitsync"
	"github.com/notesync/notesync/internal/p2p"
	"github.com/notesync/notesync/internal/peers"
	"github.com/notesync/notesync/internal/store"
	"github.com/notesync/notesync/libs/log"
)

const maxBodyBytes = 1 << 20

// Registry is the part of the connection registry the API uses.
type Registry interface {
	ConnectedPeers() []string
	Sessions() []p2p.SessionInfo
	Dial(ctx context.Context, address string) (p2p.DialOutcome, error)
	Close(address string) error
}

// Discovery reports the peers found on the local network.
type Discovery interface {
	DiscoveredPeers() []string
}

// Repositories is the local repository list.
type Repositories interface {
	List() []store.Repository
	GetByAlias(alias string) (store.Repository, bool)
	Add(repo store.Repository) bool
	Remove(alias string) bool
	Update(oldAlias string, repo store.Repository) bool
}

// Broadcaster sends repository changes to peers.
type Broadcaster interface {
	BroadcastAdd(repo store.Repository) int
	BroadcastRemove(alias string) int
	BroadcastUpdate(oldAlias string, repo store.Repository) int
	BroadcastSyncRequest(aliasOrURL string) int
}

// Syncer runs git operations on repositories.
type Syncer interface {
	Pull(ctx context.Context, repo store.Repository) string
	Clone(ctx context.Context, repo store.Repository) string
	CommitAndPush(ctx context.Context, repo store.Repository, opts gitsync.CommitOptions) (string, error)
}

// SyncStatus reports the recorded outcome of git operations.
type SyncStatus interface {
	Current(alias string) gitsync.Status
	History(alias string, from, to time.Time) []gitsync.Status
}

// Node describes the running node.
type Node interface {
	NodeInfo() NodeInfo
}

// Environment contains the objects and interfaces the handlers use.
type Environment struct {
	Registry     Registry
	Discovery    Discovery
	ManualPeers  *peers.ManualSet
	Repositories Repositories
	Broadcaster  Broadcaster
	Syncer       Syncer
	SyncStatus   SyncStatus
	Node         Node

	Logger log.Logger
}

// Routes registers every API route on mux.
func (env *Environment) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/node", env.GetNodeInfo)

	mux.HandleFunc("GET /api/v1/peers", env.ListPeers)
	mux.HandleFunc("POST /api/v1/peers", env.AddPeer)
	mux.HandleFunc("DELETE /api/v1/peers/{address}", env.RemovePeer)
	mux.HandleFunc("POST /api/v1/peers/connect", env.ConnectPeer)
	mux.HandleFunc("POST /api/v1/peers/disconnect", env.DisconnectPeer)
	mux.HandleFunc("GET /api/v1/peers/stats", env.PeerStats)
	mux.HandleFunc("GET /api/v1/peers/sessions", env.ListSessions)

	mux.HandleFunc("GET /api/v1/repositories", env.ListRepositories)
	mux.HandleFunc("POST /api/v1/repositories", env.CreateRepository)
	mux.HandleFunc("GET /api/v1/repositories/{alias}", env.GetRepository)
	mux.HandleFunc("PUT /api/v1/repositories/{alias}", env.UpdateRepository)
	mux.HandleFunc("DELETE /api/v1/repositories/{alias}", env.DeleteRepository)
	mux.HandleFunc("POST /api/v1/repositories/{alias}/sync", env.SyncRepository)
	mux.HandleFunc("POST /api/v1/repositories/{alias}/clone", env.CloneRepository)
	mux.HandleFunc("POST /api/v1/repositories/{alias}/commit-push", env.CommitAndPushRepository)
	mux.HandleFunc("GET /api/v1/repositories/{alias}/status", env.GetSyncStatus)
	mux.HandleFunc("GET /api/v1/repositories/{alias}/history", env.GetSyncHistory)

	mux.HandleFunc("POST /api/v1/p2p-sync/broadcast/{kind}/{alias}", env.Broadcast)
}

// Handler returns the API routes wrapped with CORS support when origins are
// configured.
func (env *Environment) Handler(cfg *config.APIConfig) http.Handler {
	mux := http.NewServeMux()
	env.Routes(mux)

	if !cfg.IsCorsEnabled() {
		return mux
	}
	return cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: cfg.CORSAllowedMethods,
		AllowedHeaders: cfg.CORSAllowedHeaders,
	}).Handler(mux)
}

// decodeBody reads a JSON request body into v.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}
