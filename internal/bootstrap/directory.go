// Package bootstrap implements the rendezvous role: a single Serving state
// that maintains a directory of connected peers and their declared
// roles/topics, and answers admin HTTP queries against a snapshot of that
// directory. The bootstrap role itself is ledger-agnostic.
package bootstrap

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Role is a peer's self-declared role, as carried by an AnnounceRole
// message. Unknown until the peer announces.
type Role string

const (
	RoleUnknown Role = "Unknown"
	RoleBoot    Role = "Bootstrap"
	RoleClient  Role = "Client"
	RoleTrainer Role = "Trainer"
)

// PeerRecord holds one peer's identifier, declared role, joined topics, and
// last reachable address.
type PeerRecord struct {
	ID     peer.ID
	Role   Role
	Topics map[string]struct{}
	Addr   string
}

// Directory is the bootstrap's in-memory peer table: single writer (the
// overlay event loop), many readers (admin HTTP handlers).
type Directory struct {
	mu    sync.RWMutex
	peers map[peer.ID]*PeerRecord
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{peers: make(map[peer.ID]*PeerRecord)}
}

// Connect inserts a PeerRecord with role Unknown for a newly connected peer.
func (d *Directory) Connect(id peer.ID, addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.peers[id]; ok {
		return
	}
	d.peers[id] = &PeerRecord{ID: id, Role: RoleUnknown, Topics: make(map[string]struct{}), Addr: addr}
}

// AnnounceRole sets the peer's declared role and topic memberships on
// announcement. Invariant: exactly one role per identifier; a later
// announcement simply overwrites the prior role.
func (d *Directory) AnnounceRole(id peer.ID, role Role, topics []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.peers[id]
	if !ok {
		rec = &PeerRecord{ID: id, Topics: make(map[string]struct{})}
		d.peers[id] = rec
	}
	rec.Role = role
	rec.Topics = make(map[string]struct{}, len(topics))
	for _, t := range topics {
		rec.Topics[t] = struct{}{}
	}
}

// Disconnect removes the peer's record.
func (d *Directory) Disconnect(id peer.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, id)
}

// Snapshot is an immutable copy of the directory for admin HTTP responses.
type Snapshot struct {
	Peers []PeerRecordView `json:"peers"`
}

// PeerRecordView is the JSON-friendly projection of a PeerRecord.
type PeerRecordView struct {
	ID     string   `json:"id"`
	Role   string   `json:"role"`
	Topics []string `json:"topics"`
	Addr   string   `json:"addr"`
}

// Snapshot returns a consistent, independent copy of the current directory.
func (d *Directory) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := Snapshot{Peers: make([]PeerRecordView, 0, len(d.peers))}
	for _, rec := range d.peers {
		topics := make([]string, 0, len(rec.Topics))
		for t := range rec.Topics {
			topics = append(topics, t)
		}
		out.Peers = append(out.Peers, PeerRecordView{
			ID: rec.ID.String(), Role: string(rec.Role), Topics: topics, Addr: rec.Addr,
		})
	}
	return out
}

// MeshFor returns the peer ids currently declared as joined to topic.
func (d *Directory) MeshFor(topic string) []peer.ID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []peer.ID
	for _, rec := range d.peers {
		if _, ok := rec.Topics[topic]; ok {
			out = append(out, rec.ID)
		}
	}
	return out
}
