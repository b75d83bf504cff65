// Package peers holds the operator-curated peer list and merges it with the
// discovered and connected views for display.
package peers

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Status of a peer in the merged view. A peer with several statuses is
// shown with the first that applies: connected, discovered, manual.
type Status string

const (
	StatusConnected  Status = "connected"
	StatusDiscovered Status = "discovered"
	StatusManual     Status = "manual"
)

// ManualSet is the concurrency-safe set of peers added by the operator.
type ManualSet struct {
	set mapset.Set[string]
}

// NewManualSet returns a set holding addrs.
func NewManualSet(addrs ...string) *ManualSet {
	m := &ManualSet{set: mapset.NewSet[string]()}
	for _, addr := range addrs {
		m.Add(addr)
	}
	return m
}

// Add inserts addr and reports whether it was new. Empty addresses are
// ignored.
func (m *ManualSet) Add(addr string) bool {
	if addr == "" {
		return false
	}
	return m.set.Add(addr)
}

// Remove deletes addr and reports whether it was present.
func (m *ManualSet) Remove(addr string) bool {
	if !m.set.Contains(addr) {
		return false
	}
	m.set.Remove(addr)
	return true
}

// Contains reports whether addr is in the set.
func (m *ManualSet) Contains(addr string) bool { return m.set.Contains(addr) }

// List returns a sorted snapshot.
func (m *ManualSet) List() []string {
	out := m.set.ToSlice()
	sort.Strings(out)
	return out
}

// Peer is one row of the merged view.
type Peer struct {
	Address string `json:"address"`
	Status  Status `json:"status"`
}

// Stats counts peers per category. A peer appears in every category it
// belongs to; Total counts distinct addresses.
type Stats struct {
	Connected  int `json:"connected"`
	Discovered int `json:"discovered"`
	Manual     int `json:"manual"`
	Total      int `json:"total"`
}

// Merge combines the three views into one list sorted by address.
func Merge(connected, discovered, manual []string) []Peer {
	c := mapset.NewThreadUnsafeSet(connected...)
	d := mapset.NewThreadUnsafeSet(discovered...)
	all := c.Union(d).Union(mapset.NewThreadUnsafeSet(manual...))

	out := make([]Peer, 0, all.Cardinality())
	for _, addr := range all.ToSlice() {
		status := StatusManual
		switch {
		case c.Contains(addr):
			status = StatusConnected
		case d.Contains(addr):
			status = StatusDiscovered
		}
		out = append(out, Peer{Address: addr, Status: status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Count returns per-category and distinct totals.
func Count(connected, discovered, manual []string) Stats {
	c := mapset.NewThreadUnsafeSet(connected...)
	d := mapset.NewThreadUnsafeSet(discovered...)
	m := mapset.NewThreadUnsafeSet(manual...)
	return Stats{
		Connected:  c.Cardinality(),
		Discovered: d.Cardinality(),
		Manual:     m.Cardinality(),
		Total:      c.Union(d).Union(m).Cardinality(),
	}
}
