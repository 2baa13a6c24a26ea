package mesh_test

import (
	"net"
	"testing"

	"github.com/cactus-mesh/cactus/internal/mesh"
	"github.com/stretchr/testify/assert"
)

func TestNewPeerDerivesIDFromAddress(t *testing.T) {
	addr := net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4848}
	a := mesh.NewPeer(addr)
	b := mesh.NewPeer(addr)
	assert.Equal(t, a.ID, b.ID)

	other := mesh.NewPeer(net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4849})
	assert.NotEqual(t, a.ID, other.ID)
}

func TestNewPeerWithIDKeepsExplicitID(t *testing.T) {
	explicit := mustID(t, "0000000000000042")
	p := mesh.NewPeerWithID(explicit, net.UDPAddr{Port: 1})
	assert.Equal(t, explicit, p.ID)
}

func TestRowClearAndAt(t *testing.T) {
	var row mesh.Row
	p := mesh.NewPeerWithID(mustID(t, "0000000000000001"), net.UDPAddr{Port: 1})
	row.Set(4, &p)
	assert.NotNil(t, row.At(4))

	row.Clear(4)
	assert.Nil(t, row.At(4))
}

func TestRowCloneIsIndependent(t *testing.T) {
	var row mesh.Row
	p := mesh.NewPeerWithID(mustID(t, "0000000000000001"), net.UDPAddr{Port: 1})
	row.Set(0, &p)

	clone := row.Clone()
	row.Clear(0)

	assert.Nil(t, row.At(0))
	assert.NotNil(t, clone.At(0))
}
