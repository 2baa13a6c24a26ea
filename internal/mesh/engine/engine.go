// Package engine implements the protocol engine: the single background
// worker that receives packets off a transport.Endpoint, dispatches on
// variant, and drives the join handshake (spec §4.G). Grounded on
// framework.rs's run/handle_packet loop shape and generalised onto the
// teacher's Start/Stop/atomic.Bool lifecycle idiom
// (kernel/core/mesh/transport/transport.go's WebRTCTransport.started).
package engine

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cactus-mesh/cactus/internal/errs"
	"github.com/cactus-mesh/cactus/internal/id"
	"github.com/cactus-mesh/cactus/internal/mesh"
	"github.com/cactus-mesh/cactus/internal/mesh/codec"
	"github.com/cactus-mesh/cactus/internal/mesh/transport"
	"github.com/cactus-mesh/cactus/internal/meshlog"
)

// DeliveryFunc is the application-level hook invoked when a Message
// packet's key routes to this node. It is out of scope per spec §1; a
// nil hook makes delivery a no-op.
type DeliveryFunc func(key id.ID, payload []byte)

// Engine is the framework handle: new(config) -> framework; start();
// stop() (spec §6 control surface).
type Engine struct {
	endpoint *transport.Endpoint
	logger   *slog.Logger
	deliver  DeliveryFunc
	metrics  Metrics

	running atomic.Bool
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// Metrics is the narrow set of observations the engine reports. A nil
// field is skipped, so callers may wire only what they need; production
// wiring is internal/metrics.Collector.
type Metrics struct {
	PacketHandled func(tag codec.Tag)
	ErrorObserved func(code errs.Code)
	JoinHopSeen   func(hop uint8)
	TableObserved func(table *mesh.Table)
}

// New constructs an engine bound to endpoint. deliver and metrics may be
// left zero-valued.
func New(endpoint *transport.Endpoint, deliver DeliveryFunc, metrics Metrics) *Engine {
	return &Engine{
		endpoint: endpoint,
		logger:   meshlog.New(endpoint.Logger(), "engine"),
		deliver:  deliver,
		metrics:  metrics,
	}
}

// Start launches the receive loop on a background goroutine. It is an
// error to start an already-running engine.
func (e *Engine) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return errs.Wrap(errs.CodeLifecycle, "engine already running", nil)
	}
	e.stopCh = make(chan struct{})
	e.wg.Add(1)
	go e.run()
	return nil
}

// Stop flips the running flag and joins the worker. It is an error to
// stop an already-stopped engine.
func (e *Engine) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return errs.Wrap(errs.CodeLifecycle, "engine not running", nil)
	}
	close(e.stopCh)
	e.wg.Wait()
	return nil
}

// JoinRequest sends a JoinRequest to entry. Called once at startup when
// the engine's configuration names an entry point (spec §6); the
// applicant's table is created later, asynchronously, by the first
// JoinResponse this engine receives.
func (e *Engine) JoinRequest(entry net.UDPAddr) error {
	return e.endpoint.Send(codec.JoinRequest(), entry)
}

func (e *Engine) run() {
	defer e.wg.Done()
	for e.running.Load() {
		select {
		case <-e.stopCh:
			return
		default:
		}

		p, addr, err := e.endpoint.Recv()
		if err != nil {
			if err == errs.ErrTimeout {
				continue
			}
			code := errs.CodeTransport
			var meshErr *errs.Error
			if errors.As(err, &meshErr) {
				code = meshErr.Code
			}
			e.observeError(code)
			e.logger.Warn("recv failed", "error", err)
			continue
		}

		e.observePacket(p.Tag)
		if err := e.handle(p, addr); err != nil {
			e.logger.Warn("handler failed", "tag", p.Tag, "error", err)
		}
	}
}

func (e *Engine) observePacket(tag codec.Tag) {
	if e.metrics.PacketHandled != nil {
		e.metrics.PacketHandled(tag)
	}
}

func (e *Engine) observeError(code errs.Code) {
	if e.metrics.ErrorObserved != nil {
		e.metrics.ErrorObserved(code)
	}
}

func (e *Engine) observeHop(hop uint8) {
	if e.metrics.JoinHopSeen != nil {
		e.metrics.JoinHopSeen(hop)
	}
}

func (e *Engine) observeTable() {
	if e.metrics.TableObserved != nil {
		e.metrics.TableObserved(e.endpoint.GetRoutingTable())
	}
}

func (e *Engine) handle(p codec.Packet, addr net.UDPAddr) error {
	switch p.Tag {
	case codec.TagJoinRequest:
		return e.handleJoinRequest(addr)
	case codec.TagPeerIsJoining:
		return e.handlePeerIsJoining(p, addr)
	case codec.TagJoinResponse:
		return e.handleJoinResponse(p)
	case codec.TagPing:
		return e.handlePing(p, addr)
	case codec.TagPong:
		return nil // consuming Pong is out of scope, spec §9
	case codec.TagMessage:
		return e.handleMessage(p)
	default:
		return errs.Wrap(errs.CodeDecode, "unhandled tag", nil)
	}
}

// handleJoinRequest implements spec §4.G's JoinRequest handler: route the
// sender, either relay PeerIsJoining to the next hop or, if this node is
// already closest, answer directly with row 0 and the full leaf set.
func (e *Engine) handleJoinRequest(addr net.UDPAddr) error {
	sender := mesh.NewPeer(addr)

	hop, forward, err := e.endpoint.Route(sender.ID)
	if err != nil {
		return err
	}
	if forward {
		return e.endpoint.Send(codec.PeerIsJoining(sender, 0), hop.Addr)
	}

	resp := codec.JoinResponse(sender.ID, e.endpoint.Row(0), e.endpoint.Leaves(), 0)
	return e.endpoint.Send(resp, addr)
}

// handlePeerIsJoining implements spec §4.G's PeerIsJoining handler. addr
// is the relaying neighbour, not the applicant — replies always target
// p.Applicant.Addr.
func (e *Engine) handlePeerIsJoining(p codec.Packet, _ net.UDPAddr) error {
	e.observeHop(p.HopCount)

	hop, forward, err := e.endpoint.Route(p.Applicant.ID)
	if err != nil {
		return err
	}

	if forward {
		if p.HopCount == 255 {
			e.observeError(errs.CodeHopCountOverflow)
			return errs.ErrHopCountOverflow
		}
		if err := e.endpoint.Send(codec.PeerIsJoining(p.Applicant, p.HopCount+1), hop.Addr); err != nil {
			return err
		}
	}

	resp := codec.JoinResponse(p.Applicant.ID, e.endpoint.Row(int(p.HopCount)), e.endpoint.Leaves(), p.HopCount)
	return e.endpoint.Send(resp, p.Applicant.Addr)
}

// handleJoinResponse implements spec §4.G's JoinResponse handler and the
// applicant's NoTable/Joining state transitions (spec §4.D "Lifecycle",
// §4.G state table). Responses may arrive in any order; WithTableWrite
// serialises the check-then-create against any other arriving response.
func (e *Engine) handleJoinResponse(p codec.Packet) error {
	e.endpoint.WithTableWrite(
		func() *mesh.Table { return mesh.Empty(p.ApplicantID) },
		func(table *mesh.Table) {
			table.SetRow(int(p.HopCount), p.Row)
			table.AddLeaves(p.Leaves)
		},
	)
	e.observeTable()
	return nil
}

func (e *Engine) handlePing(p codec.Packet, addr net.UDPAddr) error {
	return e.endpoint.Send(codec.Pong(p.Nonce), addr)
}

// handleMessage implements spec §4.G's Message handler: forward unchanged
// if a next hop exists, otherwise deliver locally. The route lookup
// itself is the only endpoint access; deliver runs after it returns, so
// the read lock taken inside Route is already released before the
// re-entrant delivery call (spec §5, §9).
func (e *Engine) handleMessage(p codec.Packet) error {
	hop, forward, err := e.endpoint.Route(p.Key)
	if err != nil {
		return err
	}
	if forward {
		return e.endpoint.Send(p, hop.Addr)
	}
	if e.deliver != nil {
		e.deliver(p.Key, p.Payload)
	}
	return nil
}
