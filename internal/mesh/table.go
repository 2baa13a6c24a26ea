package mesh

import "github.com/cactus-mesh/cactus/internal/id"

// NumRows is the number of prefix-indexed rows tracked per node — one for
// each of the first 8 of the identifier's 16 hex digits.
const NumRows = 8

// LeafSetSize is the total number of leaf slots: half below node_id, half
// above.
const LeafSetSize = 8
const leafHalf = LeafSetSize / 2

// Table is the authoritative routing state of a single node: its own ID,
// NumRows prefix rows, and a bidirectional leaf set. Table itself is not
// safe for concurrent use — the network endpoint that owns a Table
// (internal/mesh/transport) serializes all access behind a single
// sync.RWMutex, per spec §5. This mirrors the teacher's DHT, whose own
// locks (peersMu, storeMu) live one level up from the bucket slice.
type Table struct {
	nodeID id.ID
	rows   [NumRows]Row
	leaves [LeafSetSize]*Peer
}

// Empty constructs a routing table for nodeID with every row and leaf
// slot empty.
func Empty(nodeID id.ID) *Table {
	return &Table{nodeID: nodeID}
}

// NodeID returns the table's own node identifier.
func (t *Table) NodeID() id.ID { return t.nodeID }

// SetRow installs row at index i, then clears the slot that would hold a
// self-entry (the slot at node_id.Digit(i)). Indices >= NumRows are a
// no-op, per spec §4.D.
func (t *Table) SetRow(i int, row Row) {
	if i < 0 || i >= NumRows {
		return
	}
	row.Clear(int(t.nodeID.Digit(i)))
	t.rows[i] = row
}

// Row returns a copy of row i, or an empty row if i is out of range.
func (t *Table) Row(i int) Row {
	if i < 0 || i >= NumRows {
		return Row{}
	}
	return t.rows[i].Clone()
}

// AddLeaves inserts each peer into the less-than half of the leaf set if
// its ID is below node_id, or the greater-than half if above; peers with
// an ID equal to node_id are discarded. Each half is filled in
// first-empty-slot order; a peer offered to a full half is silently
// dropped. No deduplication is performed (spec §4.D, §9).
func (t *Table) AddLeaves(peers []Peer) {
	for _, p := range peers {
		t.addLeaf(p)
	}
}

func (t *Table) addLeaf(p Peer) {
	switch {
	case p.ID.Less(t.nodeID):
		t.insertLeaf(0, leafHalf, p)
	case t.nodeID.Less(p.ID):
		t.insertLeaf(leafHalf, LeafSetSize, p)
	default:
		// p.ID == node_id: discarded.
	}
}

func (t *Table) insertLeaf(lo, hi int, p Peer) {
	for i := lo; i < hi; i++ {
		if t.leaves[i] == nil {
			cp := p
			t.leaves[i] = &cp
			return
		}
	}
	// half is full: silently dropped.
}

// LeavesToVec returns a flat slice of every present leaf, in slot order.
func (t *Table) LeavesToVec() []Peer {
	out := make([]Peer, 0, LeafSetSize)
	for _, p := range t.leaves {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// Route decides the next hop for target. It returns (peer, true) when a
// forward is required, or (Peer{}, false) when this node is already the
// closest known node to target and the message should be delivered
// locally.
//
// Phase 1 ("long jump"): walk the shared prefix with target one digit at
// a time; the first digit where target and node_id disagree is looked up
// in the corresponding row. An occupied slot there is a next hop that
// strictly lengthens the prefix match with target.
//
// Phase 2 ("short jump"): if every row digit agreed (or a row lookup
// missed), fall through to the leaf set and return whichever leaf is
// numerically closest to target, if any leaf beats this node itself.
func (t *Table) Route(target id.ID) (Peer, bool) {
	for i := 0; i < NumRows; i++ {
		td := target.Digit(i)
		nd := t.nodeID.Digit(i)
		if td == nd {
			continue
		}
		if p := t.rows[i].At(int(td)); p != nil {
			return *p, true
		}
		break
	}
	return t.shortJump(target)
}

func (t *Table) shortJump(target id.ID) (Peer, bool) {
	best := t.nodeID.Distance(target)
	var bestPeer *Peer

	for _, p := range t.leaves {
		if p == nil {
			continue
		}
		if d := p.ID.Distance(target); d.Less(best) {
			best = d
			bestPeer = p
		}
	}

	if bestPeer == nil {
		return Peer{}, false
	}
	return *bestPeer, true
}
