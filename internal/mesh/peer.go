// Package mesh holds the routing substrate's data model and the route
// decision procedure: peers, routing-table rows, the routing table itself,
// and its two-phase route() algorithm. Grounded on the teacher's Kademlia
// routing table (kernel/core/mesh/dht.go) — bucket slots keyed by distance,
// an RWMutex-free value-copy peer model — generalised from XOR buckets to
// Pastry's per-digit rows and a bidirectional leaf set.
package mesh

import (
	"net"

	"github.com/cactus-mesh/cactus/internal/id"
)

// Info is the peer-metadata record. It currently reserves exactly one
// optional scalar for future proximity/locality work; no maintenance
// protocol populates it (see spec §1 non-goals and §9 open questions).
type Info struct {
	PhysicalDistanceIndex *uint64
}

// Peer binds an identifier to a transport address plus optional metadata.
// Peers are small, value-copyable records — there is no aliasing between
// a peer stored in a routing-table slot and the peer a caller holds.
type Peer struct {
	ID   id.ID
	Addr net.UDPAddr
	Info Info
}

// NewPeer derives a peer's ID deterministically from its address, so two
// peers with the same address always compare equal.
func NewPeer(addr net.UDPAddr) Peer {
	return Peer{ID: id.FromKeyString(addr.String()), Addr: addr}
}

// NewPeerWithID reconstitutes a peer whose ID travelled on the wire
// alongside its address (the applicant's ID in a join packet), or builds
// one explicitly for tests.
func NewPeerWithID(peerID id.ID, addr net.UDPAddr) Peer {
	return Peer{ID: peerID, Addr: addr}
}
