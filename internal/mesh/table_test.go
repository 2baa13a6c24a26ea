package mesh_test

import (
	"net"
	"testing"

	"github.com/cactus-mesh/cactus/internal/id"
	"github.com/cactus-mesh/cactus/internal/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustID(t *testing.T, s string) id.ID {
	t.Helper()
	v, err := id.Parse(s)
	require.NoError(t, err)
	return v
}

func peerWithID(t *testing.T, s string) mesh.Peer {
	t.Helper()
	return mesh.NewPeerWithID(mustID(t, s), net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
}

// TestEmptyRoutingTableRoutesNowhere ports the Rust test_empty_routing_table
// scenario (spec §8 scenario 1).
func TestEmptyRoutingTableRoutesNowhere(t *testing.T) {
	table := mesh.Empty(id.FromKeyString("node"))
	_, ok := table.Route(id.FromKeyString("target"))
	assert.False(t, ok)
}

// TestShortJumpSelectsCloserLeaf ports the Rust test_short_jump scenario
// (spec §8 scenario 2).
func TestShortJumpSelectsCloserLeaf(t *testing.T) {
	table := mesh.Empty(mustID(t, "2000000000000000"))

	var row0 mesh.Row
	zeroPeer := peerWithID(t, "0000000000000000")
	row0.Set(0, &zeroPeer)
	table.SetRow(0, row0)

	table.AddLeaves([]mesh.Peer{peerWithID(t, "1000000000000000")})

	got, ok := table.Route(mustID(t, "1200100000000000"))
	require.True(t, ok)
	assert.Equal(t, mustID(t, "1000000000000000"), got.ID)
}

// TestLongJumpOneDigitMatch ports the Rust test_long_jump scenario's first
// assertion (spec §8 scenario 3).
func TestLongJumpOneDigitMatch(t *testing.T) {
	table := mesh.Empty(mustID(t, "2000000000000000"))

	var row0 mesh.Row
	p0 := peerWithID(t, "0000000000000000")
	p1 := peerWithID(t, "1000000000000000")
	row0.Set(0, &p0)
	row0.Set(1, &p1)
	table.SetRow(0, row0)

	got, ok := table.Route(mustID(t, "1200100000000000"))
	require.True(t, ok)
	assert.Equal(t, mustID(t, "1000000000000000"), got.ID)
}

// TestLongJumpPrefixOfTwoMatch ports the Rust test_long_jump scenario's
// row-1 assertions (spec §8 scenario 4).
func TestLongJumpPrefixOfTwoMatch(t *testing.T) {
	table := mesh.Empty(mustID(t, "2000000000000000"))

	var row1 mesh.Row
	p1a := peerWithID(t, "2100000000000000")
	p1b := peerWithID(t, "2200000000000000")
	row1.Set(1, &p1a)
	row1.Set(2, &p1b)
	table.SetRow(1, row1)

	got, ok := table.Route(mustID(t, "2100100000000000"))
	require.True(t, ok)
	assert.Equal(t, mustID(t, "2100000000000000"), got.ID)

	got, ok = table.Route(mustID(t, "2200100000000000"))
	require.True(t, ok)
	assert.Equal(t, mustID(t, "2200000000000000"), got.ID)
}

// TestLongJumpPrefixOfThreeMatch ports the Rust test_long_jump scenario's
// row-2 assertion (spec §8 scenario 5).
func TestLongJumpPrefixOfThreeMatch(t *testing.T) {
	table := mesh.Empty(mustID(t, "2000000000000000"))

	var row2 mesh.Row
	p2 := peerWithID(t, "2020000000000000")
	row2.Set(2, &p2)
	table.SetRow(2, row2)

	got, ok := table.Route(mustID(t, "2020100000000000"))
	require.True(t, ok)
	assert.Equal(t, mustID(t, "2020000000000000"), got.ID)
}

// TestRouteToSelfReturnsNone ports the Rust test_long_jump scenario's
// final assertion (spec §8 scenario 6).
func TestRouteToSelfReturnsNone(t *testing.T) {
	table := mesh.Empty(mustID(t, "2000000000000000"))

	var row0, row1, row2 mesh.Row
	p00 := peerWithID(t, "0000000000000000")
	p01 := peerWithID(t, "1000000000000000")
	row0.Set(0, &p00)
	row0.Set(1, &p01)
	table.SetRow(0, row0)

	p1a := peerWithID(t, "2100000000000000")
	p1b := peerWithID(t, "2200000000000000")
	row1.Set(1, &p1a)
	row1.Set(2, &p1b)
	table.SetRow(1, row1)

	p2 := peerWithID(t, "2020000000000000")
	row2.Set(2, &p2)
	table.SetRow(2, row2)

	_, ok := table.Route(mustID(t, "2000000000000000"))
	assert.False(t, ok)
}

func TestSetRowClearsSelfEntrySlot(t *testing.T) {
	nodeID := mustID(t, "2000000000000000")
	table := mesh.Empty(nodeID)

	var row0 mesh.Row
	self := peerWithID(t, "2000000000000000")
	other := peerWithID(t, "1000000000000000")
	row0.Set(int(nodeID.Digit(0)), &self)
	row0.Set(1, &other)
	table.SetRow(0, row0)

	got := table.Row(0)
	assert.Nil(t, got.At(int(nodeID.Digit(0))))
	require.NotNil(t, got.At(1))
	assert.Equal(t, other.ID, got.At(1).ID)
}

func TestSetRowOutOfRangeIsNoOp(t *testing.T) {
	table := mesh.Empty(id.FromKeyString("node"))
	var row mesh.Row
	p := peerWithID(t, "1000000000000000")
	row.Set(0, &p)
	table.SetRow(8, row) // NumRows == 8, so index 8 is out of range
	assert.Equal(t, mesh.Row{}, table.Row(8))
}

func TestAddLeavesPartitionsByComparisonToNodeID(t *testing.T) {
	nodeID := mustID(t, "8000000000000000")
	table := mesh.Empty(nodeID)

	less := peerWithID(t, "1000000000000000")
	greater := peerWithID(t, "f000000000000000")
	equal := peerWithID(t, "8000000000000000")

	table.AddLeaves([]mesh.Peer{less, greater, equal})

	leaves := table.LeavesToVec()
	require.Len(t, leaves, 2)
	for _, p := range leaves {
		assert.NotEqual(t, nodeID, p.ID)
	}
}

func TestAddLeavesDropsSilentlyWhenHalfFull(t *testing.T) {
	nodeID := mustID(t, "8000000000000000")
	table := mesh.Empty(nodeID)

	var less []mesh.Peer
	for i := 0; i < 5; i++ {
		id := mustID(t, "000000000000000"+string(rune('1'+i)))
		less = append(less, mesh.NewPeerWithID(id, net.UDPAddr{Port: i}))
	}
	table.AddLeaves(less)

	leaves := table.LeavesToVec()
	lessThanCount := 0
	for _, p := range leaves {
		if p.ID.Less(nodeID) {
			lessThanCount++
		}
	}
	assert.Equal(t, 4, lessThanCount) // half capacity is 4; the 5th is dropped
}

func TestRoutingProgressInvariant(t *testing.T) {
	nodeID := mustID(t, "2000000000000000")
	table := mesh.Empty(nodeID)
	table.AddLeaves([]mesh.Peer{peerWithID(t, "1000000000000000")})

	target := mustID(t, "1200100000000000")
	peer, ok := table.Route(target)
	require.True(t, ok)

	nodeDist := nodeID.Distance(target)
	peerDist := peer.ID.Distance(target)
	assert.True(t, peerDist.Less(nodeDist))
}
