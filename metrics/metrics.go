// Package metrics defines prometheus metric types and convenience
// accounting helpers used across the simulation pipeline.
//
// When adding new instrumentation points, these are the helpful values to
// track, per the teacher's own guidance:
//   - things entering or leaving a subsystem: packets, acks, retransmits.
//   - the success or error status of any of the above.
//   - the distribution of queueing/processing state over time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VOQDepthPackets tracks live VOQ occupancy per (outPort, vl, inPort).
	VOQDepthPackets = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ubsim_voq_depth_packets",
			Help: "Number of packets queued in a VOQ bucket.",
		},
		[]string{"node", "out_port", "vl", "in_port"})

	// QueueBytes tracks per-(port,vl) ingress/egress byte counters.
	QueueBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ubsim_queue_bytes",
			Help: "Ingress or egress byte counter for a (port, vl).",
		},
		[]string{"node", "port", "vl", "direction"})

	// CBFCCreditsFree tracks per-VL transmit credits available.
	CBFCCreditsFree = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ubsim_cbfc_credits_free",
			Help: "CBFC transmit-side free credit count (cells).",
		},
		[]string{"node", "port", "vl"})

	// CBFCCreditsToReturn tracks per-VL credits owed back to the peer.
	CBFCCreditsToReturn = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ubsim_cbfc_credits_to_return",
			Help: "CBFC receive-side credits accumulated for refund.",
		},
		[]string{"node", "port", "vl"})

	// RetransmitTotal counts retransmit-timer fires per TP.
	RetransmitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ubsim_retransmit_total",
			Help: "Retransmit-timer fires, by transport channel.",
		},
		[]string{"node", "tpn"})

	// CAQMCwndBytes tracks the sender congestion window per TP.
	CAQMCwndBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ubsim_caqm_cwnd_bytes",
			Help: "CAQM sender congestion window in bytes.",
		},
		[]string{"node", "tpn"})

	// PacketsDropped counts packet drops by reason.
	PacketsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ubsim_packets_dropped_total",
			Help: "Packets dropped, labeled by reason.",
		},
		[]string{"reason"})

	// SimTimeSeconds is the gauge for the kernel's virtual clock. No code
	// in this repository sets it, so it stays at zero.
	SimTimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ubsim_sim_time_seconds",
			Help: "Simulator virtual clock, in seconds.",
		})
)

// DroppedReason enumerates the labels used with PacketsDropped, so call
// sites don't hand-type label strings.
type DroppedReason string

const (
	ReasonAdmission DroppedReason = "admission_failure"
	ReasonOOOWindow DroppedReason = "out_of_window_psn"
	ReasonFault     DroppedReason = "fault_injected"
	ReasonNoRoute   DroppedReason = "no_route"
	ReasonUnknown   DroppedReason = "unknown_classifier"
)

// Drop increments PacketsDropped for reason. Safe to call even when
// metrics export is disabled; promauto collectors are always registered
// but simply go unscraped.
func Drop(reason DroppedReason) {
	PacketsDropped.WithLabelValues(string(reason)).Inc()
}
