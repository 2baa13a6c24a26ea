// Package transport owns the UDP socket, the node's configuration, and the
// optional routing table. Grounded on network.rs's Network struct (socket
// + routing_table + config, bootstrap/new/send/recv) and generalised from
// the teacher's WebRTCTransport's lock discipline: a single
// sync.RWMutex guards the table (kernel/core/mesh/transport/transport.go).
// The endpoint has no started flag of its own; the engine's atomic.Bool
// running flag plays that role.
package transport

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cactus-mesh/cactus/internal/errs"
	"github.com/cactus-mesh/cactus/internal/id"
	"github.com/cactus-mesh/cactus/internal/mesh"
	"github.com/cactus-mesh/cactus/internal/mesh/codec"
	"github.com/cactus-mesh/cactus/internal/meshlog"
)

// Config bundles the values an Endpoint needs to bind and operate: the
// local socket address, the optional bootstrap entry point, and the
// deadlines applied to every recv/send. Mirrors spec §6's configuration
// record.
type Config struct {
	BindAddr           net.UDPAddr
	EntryAddr          *net.UDPAddr
	SocketReadTimeout  time.Duration
	SocketWriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults, in the style of the teacher's
// DefaultTransportConfig(). EntryAddr is nil: absent means bootstrap as
// root.
func DefaultConfig(bind net.UDPAddr) Config {
	return Config{
		BindAddr:           bind,
		EntryAddr:          nil,
		SocketReadTimeout:  5 * time.Second,
		SocketWriteTimeout: 5 * time.Second,
	}
}

// Endpoint owns the datagram socket, the configuration, and the optional
// routing table (spec §4.F). It is safe for concurrent use: tableMu
// guards the table pointer and every read of its contents.
type Endpoint struct {
	config Config
	conn   *net.UDPConn
	logger *slog.Logger

	tableMu sync.RWMutex
	table   *mesh.Table
}

// New binds the local UDP socket described by config. The routing table
// starts absent; call Bootstrap or let the engine populate it via join.
func New(config Config, logger *slog.Logger) (*Endpoint, error) {
	conn, err := net.ListenUDP("udp", &config.BindAddr)
	if err != nil {
		return nil, errs.Wrap(errs.CodeTransport, "failed to bind socket", err)
	}
	return &Endpoint{
		config: config,
		conn:   conn,
		logger: meshlog.New(logger, "transport", "bind", config.BindAddr.String()),
	}, nil
}

// Bootstrap creates an empty routing table rooted at nodeID, for a node
// that is starting the overlay rather than joining one.
func (e *Endpoint) Bootstrap(nodeID id.ID) {
	e.tableMu.Lock()
	defer e.tableMu.Unlock()
	e.table = mesh.Empty(nodeID)
}

// Close releases the underlying socket.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}

// Send encodes packet and transmits it to addr.
func (e *Endpoint) Send(p codec.Packet, addr net.UDPAddr) error {
	buf, err := codec.Encode(p)
	if err != nil {
		return err
	}
	if e.config.SocketWriteTimeout > 0 {
		_ = e.conn.SetWriteDeadline(time.Now().Add(e.config.SocketWriteTimeout))
	}
	if _, err := e.conn.WriteToUDP(buf, &addr); err != nil {
		return errs.Wrap(errs.CodeTransport, "write failed", err)
	}
	return nil
}

// Recv blocks for at most the configured read timeout, waiting for the
// next datagram, then decodes it.
func (e *Endpoint) Recv() (codec.Packet, net.UDPAddr, error) {
	if e.config.SocketReadTimeout > 0 {
		_ = e.conn.SetReadDeadline(time.Now().Add(e.config.SocketReadTimeout))
	}

	buf := make([]byte, codec.MTU)
	n, addr, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return codec.Packet{}, net.UDPAddr{}, errs.ErrTimeout
		}
		return codec.Packet{}, net.UDPAddr{}, errs.Wrap(errs.CodeTransport, "read failed", err)
	}

	p, err := codec.Decode(buf[:n])
	if err != nil {
		return codec.Packet{}, net.UDPAddr{}, err
	}
	return p, *addr, nil
}

// Route delegates to the routing table, returning ErrTableNotInitialised
// if no table exists yet.
func (e *Endpoint) Route(target id.ID) (mesh.Peer, bool, error) {
	e.tableMu.RLock()
	defer e.tableMu.RUnlock()
	if e.table == nil {
		return mesh.Peer{}, false, errs.ErrTableNotInitialised
	}
	p, ok := e.table.Route(target)
	return p, ok, nil
}

// GetRoutingTable returns a snapshot copy of the current table, taken
// under the read lock, or nil if none exists yet. Later changes to the
// endpoint's table are not reflected in the copy. Used to sample table
// occupancy for metrics.
func (e *Endpoint) GetRoutingTable() *mesh.Table {
	e.tableMu.RLock()
	defer e.tableMu.RUnlock()
	if e.table == nil {
		return nil
	}
	snapshot := *e.table
	return &snapshot
}

// SetRoutingTable installs table as the endpoint's routing table,
// replacing whatever was there.
func (e *Endpoint) SetRoutingTable(table *mesh.Table) {
	e.tableMu.Lock()
	defer e.tableMu.Unlock()
	e.table = table
}

// WithTableWrite runs fn with exclusive access to the table, creating one
// via newTable if none exists yet. Used by the engine's JoinResponse
// handler, which must atomically check-then-create.
func (e *Endpoint) WithTableWrite(newTable func() *mesh.Table, fn func(*mesh.Table)) {
	e.tableMu.Lock()
	defer e.tableMu.Unlock()
	if e.table == nil {
		e.table = newTable()
	}
	fn(e.table)
}

// Row returns a copy of row i of the local table, or an empty row if no
// table exists yet (used when this node is itself the closest node and
// must answer a JoinRequest with its own row 0).
func (e *Endpoint) Row(i int) mesh.Row {
	e.tableMu.RLock()
	defer e.tableMu.RUnlock()
	if e.table == nil {
		return mesh.Row{}
	}
	return e.table.Row(i)
}

// Leaves returns the local table's leaf set, or nil if no table exists.
func (e *Endpoint) Leaves() []mesh.Peer {
	e.tableMu.RLock()
	defer e.tableMu.RUnlock()
	if e.table == nil {
		return nil
	}
	return e.table.LeavesToVec()
}

// NodeID returns the local table's node ID and whether a table exists.
func (e *Endpoint) NodeID() (id.ID, bool) {
	e.tableMu.RLock()
	defer e.tableMu.RUnlock()
	if e.table == nil {
		return id.ID{}, false
	}
	return e.table.NodeID(), true
}

// Logger exposes the endpoint's component logger for the engine to
// derive its own from.
func (e *Endpoint) Logger() *slog.Logger { return e.logger }

// Config returns the endpoint's configuration.
func (e *Endpoint) Config() Config { return e.config }
