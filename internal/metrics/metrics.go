// Package metrics exposes the node's health over Prometheus, grounded in
// m-lab-tcp-info's metrics package (promauto-style counters/gauges) and
// re-expressing the shape of the teacher's DHTMetrics
// (kernel/core/mesh/dht.go: bucket fill levels, success/failure counts)
// as real collectors instead of a hand-rolled struct. Each Collector owns
// a private registry so multiple nodes in the same process (as in tests)
// never collide on collector names.
package metrics

import (
	"net/http"

	"github.com/cactus-mesh/cactus/internal/errs"
	"github.com/cactus-mesh/cactus/internal/mesh"
	"github.com/cactus-mesh/cactus/internal/mesh/codec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles every gauge/counter the engine and routing table
// report against.
type Collector struct {
	registry *prometheus.Registry

	packetsTotal  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	joinHopGauge  prometheus.Histogram
	rowOccupancy  prometheus.Gauge
	leafOccupancy prometheus.Gauge
}

// New constructs a Collector with its own registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		packetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cactus_packets_total",
			Help: "Packets handled by the protocol engine, by variant.",
		}, []string{"tag"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cactus_errors_total",
			Help: "Errors observed by the protocol engine, by code.",
		}, []string{"code"}),
		joinHopGauge: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cactus_join_hop_count",
			Help:    "hop_count observed on PeerIsJoining packets during a join.",
			Buckets: prometheus.LinearBuckets(0, 8, 16),
		}),
		rowOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cactus_routing_table_row_slots_filled",
			Help: "Total occupied slots across all routing-table rows.",
		}),
		leafOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cactus_leaf_set_slots_filled",
			Help: "Occupied slots in the leaf set.",
		}),
	}

	reg.MustRegister(c.packetsTotal, c.errorsTotal, c.joinHopGauge, c.rowOccupancy, c.leafOccupancy)
	return c
}

// Handler returns an http.Handler serving this collector's registry in
// the Prometheus exposition format, meant to be mounted at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// PacketHandled records one packet of the given tag.
func (c *Collector) PacketHandled(tag codec.Tag) {
	c.packetsTotal.WithLabelValues(tagName(tag)).Inc()
}

// ErrorObserved records one error of the given code.
func (c *Collector) ErrorObserved(code errs.Code) {
	c.errorsTotal.WithLabelValues(string(code)).Inc()
}

// JoinHopSeen records a hop_count value observed in the join handshake.
func (c *Collector) JoinHopSeen(hop uint8) {
	c.joinHopGauge.Observe(float64(hop))
}

// ObserveTable snapshots a routing table's current occupancy into the
// row/leaf occupancy gauges. Callers sample this periodically; the
// collector does not hold a reference to any table.
func (c *Collector) ObserveTable(t *mesh.Table) {
	if t == nil {
		c.rowOccupancy.Set(0)
		c.leafOccupancy.Set(0)
		return
	}

	filled := 0
	for i := 0; i < mesh.NumRows; i++ {
		row := t.Row(i)
		for j := 0; j < mesh.RowWidth; j++ {
			if row.At(j) != nil {
				filled++
			}
		}
	}
	c.rowOccupancy.Set(float64(filled))
	c.leafOccupancy.Set(float64(len(t.LeavesToVec())))
}

func tagName(tag codec.Tag) string {
	switch tag {
	case codec.TagJoinRequest:
		return "join_request"
	case codec.TagPeerIsJoining:
		return "peer_is_joining"
	case codec.TagJoinResponse:
		return "join_response"
	case codec.TagPing:
		return "ping"
	case codec.TagPong:
		return "pong"
	case codec.TagMessage:
		return "message"
	default:
		return "unknown"
	}
}
