// Package codec implements the tagged binary wire format shared by every
// node: the five protocol packet variants, encoded and decoded field by
// field in declaration order. Grounded on davidcoles-bgp's message.go
// (explicit big-endian helpers, no reflection, no schema library) — the
// byte layout in spec §6 is exact enough that a generic serializer would
// need the same hand-written field code anyway.
package codec

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/cactus-mesh/cactus/internal/errs"
	"github.com/cactus-mesh/cactus/internal/id"
	"github.com/cactus-mesh/cactus/internal/mesh"
)

// MTU is the maximum encoded packet size in octets (spec §4.F, §6).
const MTU = 1500

// Tag identifies a packet variant on the wire.
type Tag byte

const (
	TagJoinRequest   Tag = 1
	TagPeerIsJoining Tag = 2
	TagJoinResponse  Tag = 3
	TagPing          Tag = 4
	TagPong          Tag = 5
	TagMessage       Tag = 6
)

const (
	addrTagV4 = 4
	addrTagV6 = 6
)

// Packet is the sum type of the five protocol messages. Exactly one of the
// typed fields is meaningful, selected by Tag.
type Packet struct {
	Tag Tag

	// PeerIsJoining, JoinResponse
	Applicant   mesh.Peer
	ApplicantID id.ID
	HopCount    uint8

	// JoinResponse
	Row    mesh.Row
	Leaves []mesh.Peer

	// Ping, Pong
	Nonce uint64

	// Message
	Key     id.ID
	Payload []byte
}

// JoinRequest builds a JoinRequest packet.
func JoinRequest() Packet { return Packet{Tag: TagJoinRequest} }

// PeerIsJoining builds a PeerIsJoining packet.
func PeerIsJoining(applicant mesh.Peer, hopCount uint8) Packet {
	return Packet{Tag: TagPeerIsJoining, Applicant: applicant, HopCount: hopCount}
}

// JoinResponse builds a JoinResponse packet.
func JoinResponse(applicantID id.ID, row mesh.Row, leaves []mesh.Peer, hopCount uint8) Packet {
	return Packet{Tag: TagJoinResponse, ApplicantID: applicantID, Row: row, Leaves: leaves, HopCount: hopCount}
}

// Ping builds a Ping packet.
func Ping(nonce uint64) Packet { return Packet{Tag: TagPing, Nonce: nonce} }

// Pong builds a Pong packet.
func Pong(nonce uint64) Packet { return Packet{Tag: TagPong, Nonce: nonce} }

// Message builds a Message packet.
func Message(key id.ID, payload []byte) Packet {
	return Packet{Tag: TagMessage, Key: key, Payload: payload}
}

// Encode serializes p in declaration order, tag first. It returns
// ErrEncode if the result would exceed MTU.
func Encode(p Packet) ([]byte, error) {
	var b []byte
	b = append(b, byte(p.Tag))

	switch p.Tag {
	case TagJoinRequest:
		// no payload

	case TagPeerIsJoining:
		b = appendPeer(b, p.Applicant)
		b = append(b, p.HopCount)

	case TagJoinResponse:
		b = appendID(b, p.ApplicantID)
		b = appendRow(b, p.Row)
		b = appendLeaves(b, p.Leaves)
		b = append(b, p.HopCount)

	case TagPing, TagPong:
		b = appendUint64(b, p.Nonce)

	case TagMessage:
		b = appendID(b, p.Key)
		b = appendBytes(b, p.Payload)

	default:
		return nil, errs.Wrap(errs.CodeEncode, fmt.Sprintf("unknown tag %d", p.Tag), nil)
	}

	if len(b) > MTU {
		return nil, errs.Wrap(errs.CodeEncode, fmt.Sprintf("packet of %d octets exceeds MTU %d", len(b), MTU), nil)
	}
	return b, nil
}

// Decode parses a single datagram payload into a Packet.
func Decode(data []byte) (Packet, error) {
	if len(data) < 1 {
		return Packet{}, errs.Wrap(errs.CodeDecode, "empty datagram", nil)
	}
	r := &reader{buf: data[1:]}
	tag := Tag(data[0])

	var p Packet
	p.Tag = tag

	switch tag {
	case TagJoinRequest:
		// no payload

	case TagPeerIsJoining:
		peer, err := r.peer()
		if err != nil {
			return Packet{}, err
		}
		hop, err := r.byte_()
		if err != nil {
			return Packet{}, err
		}
		p.Applicant = peer
		p.HopCount = hop

	case TagJoinResponse:
		aid, err := r.id()
		if err != nil {
			return Packet{}, err
		}
		row, err := r.row()
		if err != nil {
			return Packet{}, err
		}
		leaves, err := r.leaves()
		if err != nil {
			return Packet{}, err
		}
		hop, err := r.byte_()
		if err != nil {
			return Packet{}, err
		}
		p.ApplicantID = aid
		p.Row = row
		p.Leaves = leaves
		p.HopCount = hop

	case TagPing, TagPong:
		nonce, err := r.uint64()
		if err != nil {
			return Packet{}, err
		}
		p.Nonce = nonce

	case TagMessage:
		key, err := r.id()
		if err != nil {
			return Packet{}, err
		}
		payload, err := r.bytes()
		if err != nil {
			return Packet{}, err
		}
		p.Key = key
		p.Payload = payload

	default:
		return Packet{}, errs.Wrap(errs.CodeDecode, fmt.Sprintf("unknown tag %d", tag), nil)
	}

	if !r.exhausted() {
		return Packet{}, errs.Wrap(errs.CodeDecode, "trailing bytes after decoded packet", nil)
	}
	return p, nil
}

func appendID(b []byte, v id.ID) []byte {
	return append(b, v[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendBytes(b []byte, v []byte) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(v)))
	b = append(b, tmp[:]...)
	return append(b, v...)
}

func appendPeer(b []byte, p mesh.Peer) []byte {
	b = appendID(b, p.ID)

	ip4 := p.Addr.IP.To4()
	if ip4 != nil {
		b = append(b, addrTagV4)
		b = append(b, ip4...)
	} else {
		ip6 := p.Addr.IP.To16()
		if ip6 == nil {
			ip6 = make(net.IP, 16)
		}
		b = append(b, addrTagV6)
		b = append(b, ip6...)
	}

	var port [2]byte
	binary.BigEndian.PutUint16(port[:], uint16(p.Addr.Port))
	b = append(b, port[:]...)

	b = appendInfo(b, p.Info)
	return b
}

func appendInfo(b []byte, info mesh.Info) []byte {
	if info.PhysicalDistanceIndex == nil {
		return append(b, 0)
	}
	b = append(b, 1)
	return appendUint64(b, *info.PhysicalDistanceIndex)
}

func appendRow(b []byte, row mesh.Row) []byte {
	for i := 0; i < mesh.RowWidth; i++ {
		p := row.At(i)
		if p == nil {
			b = append(b, 0)
			continue
		}
		b = append(b, 1)
		b = appendPeer(b, *p)
	}
	return b
}

func appendLeaves(b []byte, leaves []mesh.Peer) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(leaves)))
	b = append(b, tmp[:]...)
	for _, p := range leaves {
		b = appendPeer(b, p)
	}
	return b
}

// reader walks a decode buffer left to right, consuming fields in
// declaration order.
type reader struct {
	buf []byte
}

func (r *reader) exhausted() bool { return len(r.buf) == 0 }

func (r *reader) take(n int) ([]byte, error) {
	if len(r.buf) < n {
		return nil, errs.Wrap(errs.CodeDecode, "unexpected end of datagram", nil)
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out, nil
}

func (r *reader) byte_() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) id() (id.ID, error) {
	b, err := r.take(id.Size)
	if err != nil {
		return id.ID{}, err
	}
	var out id.ID
	copy(out[:], b)
	return out, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	b, err := r.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (r *reader) info() (mesh.Info, error) {
	present, err := r.byte_()
	if err != nil {
		return mesh.Info{}, err
	}
	if present == 0 {
		return mesh.Info{}, nil
	}
	v, err := r.uint64()
	if err != nil {
		return mesh.Info{}, err
	}
	return mesh.Info{PhysicalDistanceIndex: &v}, nil
}

func (r *reader) peer() (mesh.Peer, error) {
	peerID, err := r.id()
	if err != nil {
		return mesh.Peer{}, err
	}

	addrTag, err := r.byte_()
	if err != nil {
		return mesh.Peer{}, err
	}

	var ip net.IP
	switch addrTag {
	case addrTagV4:
		b, err := r.take(4)
		if err != nil {
			return mesh.Peer{}, err
		}
		ip = net.IP(append([]byte(nil), b...))
	case addrTagV6:
		b, err := r.take(16)
		if err != nil {
			return mesh.Peer{}, err
		}
		ip = net.IP(append([]byte(nil), b...))
	default:
		return mesh.Peer{}, errs.Wrap(errs.CodeDecode, fmt.Sprintf("unknown address tag %d", addrTag), nil)
	}

	portBytes, err := r.take(2)
	if err != nil {
		return mesh.Peer{}, err
	}
	port := binary.BigEndian.Uint16(portBytes)

	info, err := r.info()
	if err != nil {
		return mesh.Peer{}, err
	}

	peer := mesh.NewPeerWithID(peerID, net.UDPAddr{IP: ip, Port: int(port)})
	peer.Info = info
	return peer, nil
}

func (r *reader) row() (mesh.Row, error) {
	var row mesh.Row
	for i := 0; i < mesh.RowWidth; i++ {
		present, err := r.byte_()
		if err != nil {
			return mesh.Row{}, err
		}
		if present == 0 {
			continue
		}
		p, err := r.peer()
		if err != nil {
			return mesh.Row{}, err
		}
		row.Set(i, &p)
	}
	return row, nil
}

func (r *reader) leaves() ([]mesh.Peer, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	out := make([]mesh.Peer, 0, n)
	for i := uint32(0); i < n; i++ {
		p, err := r.peer()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
