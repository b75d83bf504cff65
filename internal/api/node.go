package api

import (
	"net/http"

	"github.com/notesync/notesync/internal/worker"
)

// NodeInfo is the response of the node route.
type NodeInfo struct {
	Name             string       `json:"name"`
	ListenAddr       string       `json:"listenAddr"`
	Version          string       `json:"version"`
	ProtocolVersion  string       `json:"protocolVersion"`
	DiscoveryEnabled bool         `json:"discoveryEnabled"`
	Dispatch         worker.Stats `json:"dispatch"`
}

// GetNodeInfo returns the node's advertised name, versions and dispatch
// counters.
func (env *Environment) GetNodeInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, env.Node.NodeInfo())
}
