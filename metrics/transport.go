// Package metrics instruments the transport engine's own health —
// packet counts, retransmissions, and delivery outcomes — distinct from
// the congestion control and windowing the spec excludes from scope.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Transport bundles the engine's Prometheus counters. A nil Registerer
// passed to NewTransport yields working, unregistered metrics — useful
// in tests and for embedding multiple engines without collector
// collisions.
type Transport struct {
	PacketsSent          prometheus.Counter
	PacketsRetransmitted prometheus.Counter
	DeliveriesComplete   prometheus.Counter
	DeliveriesFailed     prometheus.Counter
	AcksObserved         prometheus.Counter
	PendingSends         prometheus.Gauge
	PendingReceives      prometheus.Gauge
}

// NewTransport builds the counter set and registers it against reg, if
// non-nil.
func NewTransport(reg prometheus.Registerer) *Transport {
	t := &Transport{
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliable_transport_packets_sent_total",
			Help: "Wire packets transmitted for the first time; retransmissions are counted separately.",
		}),
		PacketsRetransmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliable_transport_packets_retransmitted_total",
			Help: "Wire packets resent after a retry-interval timeout.",
		}),
		DeliveriesComplete: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliable_transport_deliveries_complete_total",
			Help: "Application messages fully reassembled and delivered.",
		}),
		DeliveriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliable_transport_deliveries_failed_total",
			Help: "PendingSends that exhausted their retry budget.",
		}),
		AcksObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reliable_transport_acks_observed_total",
			Help: "CONFIRM acks matched against an outstanding PendingSend.",
		}),
		PendingSends: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reliable_transport_pending_sends",
			Help: "Outstanding unacknowledged wire packets.",
		}),
		PendingReceives: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reliable_transport_pending_receives",
			Help: "In-progress multi-fragment reassembly buffers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			t.PacketsSent, t.PacketsRetransmitted, t.DeliveriesComplete,
			t.DeliveriesFailed, t.AcksObserved, t.PendingSends, t.PendingReceives,
		)
	}
	return t
}
