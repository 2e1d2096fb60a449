// Package caqm implements the CAQM end-to-end window congestion control
// loop: sender slow-start/congestion-avoidance state, switch-side credit
// counters, and receiver-side CETPH aggregation, per spec.md §4.7. LDCP
// and DCQCN are reserved Non-goal plug-in slots behind the same
// Controller interface (NoOp satisfies it as their stand-in).
package caqm

import (
	"time"

	"github.com/ubfabric/ubsim/headers"
)

// Controller is the congestion-control capability shared by the sender,
// switch, and receiver roles (spec.md §4.7/§9): a TP channel or switch
// port holds one Controller and calls whichever subset of methods
// applies to its role; the rest are no-ops on that implementation.
type Controller interface {
	// SenderGenNetworkHeader returns the congestion-control field to
	// stamp on an outgoing data packet's network header.
	SenderGenNetworkHeader() headers.CongestionFields
	// SenderUpdateCongestionCtrlData records that a packet at psn of
	// byte size size was just sent, for later RTT measurement.
	SenderUpdateCongestionCtrlData(psn uint32, size int)
	// SenderRecvAck applies a received cumulative ACK for ackedPSN carrying
	// cetph, advancing cwnd state. ackedBytes is a legacy parameter an
	// implementation may ignore in favor of cetph.AckSequence, the peer's
	// running received-byte count, which is the only value callers can
	// rely on being populated.
	SenderRecvAck(ackedPSN uint32, ackedBytes int, cetph headers.CongestionExtTph)
	// GetRestCwnd returns the remaining send window in bytes.
	GetRestCwnd() int

	// RecverRecordPacketData aggregates one received data packet's
	// congestion signal ahead of the next cumulative ACK.
	RecverRecordPacketData(psn uint32, size int, cc headers.CongestionFields)
	// RecverGenAckCeTphHeader builds the CETPH to carry on a cumulative
	// ACK covering [psnStart, psnEnd), resetting aggregators.
	RecverGenAckCeTphHeader(psnStart, psnEnd uint32) headers.CongestionExtTph

	// SwitchForwardPacket applies switch-side marking/credit bookkeeping
	// to a forwarded packet's congestion field, mutating it in place.
	SwitchForwardPacket(inPort, outPort int, cc *headers.CongestionFields, size int)

	// GetTpAckOpcode returns which transport ACK opcode this algorithm
	// expects (CETPH-carrying vs bare).
	GetTpAckOpcode() headers.TPOpcode
}

// Params holds the tunable CAQM coefficients (spec.md §4.7), typically
// sourced from attrs.
type Params struct {
	Alpha           float64
	Beta            float64
	Gamma           float64
	Lambda          float64
	Theta           float64 // state-reset timeout, in units of RTT
	Qt              int     // ideal max queue size, bytes
	CcUnit          int     // bytes per hint unit
	MarkProb        float64
	InitCwndMtus    int
	UpdatePeriod    time.Duration
	MTU             int
}

// DefaultParams returns spec.md's stated default coefficients for a
// given MTU.
func DefaultParams(mtu int) Params {
	return Params{
		Alpha:        0.5,
		Beta:         0.5,
		Gamma:        0.5,
		Lambda:       0.5,
		Theta:        10,
		Qt:           10 * mtu,
		CcUnit:       32,
		MarkProb:     0.1,
		InitCwndMtus: 10,
		UpdatePeriod: 500 * time.Nanosecond,
		MTU:          mtu,
	}
}
