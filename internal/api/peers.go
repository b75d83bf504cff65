package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/notesync/notesync/internal/p2p"
	"github.com/notesync/notesync/internal/peers"
)

// PeerRequest is the body of the peer add, connect and disconnect routes.
type PeerRequest struct {
	Address string `json:"address"`
}

func (env *Environment) peerAddress(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req PeerRequest
	if err := decodeBody(r, &req); err != nil {
		writeStatus(w, http.StatusBadRequest, "Invalid request: %v", err)
		return "", false
	}
	addr := strings.TrimSpace(req.Address)
	if addr == "" {
		writeStatus(w, http.StatusBadRequest, "Peer address must not be empty.")
		return "", false
	}
	return addr, true
}

// ListPeers returns every known peer with its status.
func (env *Environment) ListPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, peers.Merge(
		env.Registry.ConnectedPeers(),
		env.Discovery.DiscoveredPeers(),
		env.ManualPeers.List(),
	))
}

// PeerStats returns per-status peer counts.
func (env *Environment) PeerStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, peers.Count(
		env.Registry.ConnectedPeers(),
		env.Discovery.DiscoveredPeers(),
		env.ManualPeers.List(),
	))
}

// ListSessions returns the open sessions of the registry.
func (env *Environment) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := env.Registry.Sessions()
	if sessions == nil {
		sessions = []p2p.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// AddPeer adds an address to the manual peer list.
func (env *Environment) AddPeer(w http.ResponseWriter, r *http.Request) {
	addr, ok := env.peerAddress(w, r)
	if !ok {
		return
	}
	if !env.ManualPeers.Add(addr) {
		writeStatus(w, http.StatusOK, "Peer %s is already in the list.", addr)
		return
	}
	env.Logger.Info("added manual peer", "peer", addr)
	writeStatus(w, http.StatusOK, "Peer added: %s", addr)
}

// RemovePeer removes an address from the manual peer list. Open sessions
// are not affected.
func (env *Environment) RemovePeer(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	if !env.ManualPeers.Remove(addr) {
		writeStatus(w, http.StatusOK, "Peer %s is not a manually added peer.", addr)
		return
	}
	env.Logger.Info("removed manual peer", "peer", addr)
	writeStatus(w, http.StatusOK, "Peer removed: %s", addr)
}

// ConnectPeer records the address as a manual peer and dials it.
func (env *Environment) ConnectPeer(w http.ResponseWriter, r *http.Request) {
	addr, ok := env.peerAddress(w, r)
	if !ok {
		return
	}
	env.ManualPeers.Add(addr)

	outcome, err := env.Registry.Dial(r.Context(), addr)
	if err != nil {
		env.Logger.Error("failed to connect to peer", "peer", addr, "err", err)
		writeStatus(w, http.StatusBadGateway, "Connection failed: %v", err)
		return
	}
	if outcome == p2p.DialAlreadyConnected {
		writeStatus(w, http.StatusOK, "Already connected to %s.", addr)
		return
	}
	writeStatus(w, http.StatusOK, "Connected to %s.", addr)
}

// DisconnectPeer closes one session to the address.
func (env *Environment) DisconnectPeer(w http.ResponseWriter, r *http.Request) {
	addr, ok := env.peerAddress(w, r)
	if !ok {
		return
	}

	err := env.Registry.Close(addr)
	switch {
	case errors.Is(err, p2p.ErrSessionNotFound):
		writeStatus(w, http.StatusNotFound, "No open session to %s.", addr)
	case err != nil:
		writeStatus(w, http.StatusInternalServerError, "Disconnect failed: %v", err)
	default:
		writeStatus(w, http.StatusOK, "Disconnected from %s.", addr)
	}
}
