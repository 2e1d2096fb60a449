// Package flowcontrol implements the two alternative link-level flow
// control engines, Credit-Based (CBFC) and Priority Flow Control (PFC),
// behind one shared Engine capability, per spec.md §4.8-4.9.
package flowcontrol

import (
	"github.com/ubfabric/ubsim/headers"
)

// Engine is the flow-control capability driving allocator/port dispatch
// (spec.md §9: isFcLimited, handleSent/ReceivedPacket,
// handleReceivedControlPacket, handleReleaseOccupiedFlowControl).
type Engine interface {
	// IsFcLimited reports whether VL vl currently has no transmit
	// permission (CBFC: insufficient credit for any packet; PFC: the
	// permission bit is clear).
	IsFcLimited(vl uint8) bool
	// CanSend reports whether a packet of byte size s on VL vl may be
	// sent right now. CBFC additionally checks the exact cell count
	// against crdTxfree; PFC ignores size and mirrors IsFcLimited.
	CanSend(vl uint8, size int) bool
	// HandleSentPacket is called after a packet of byte size s on VL vl
	// is handed to the link for transmission.
	HandleSentPacket(vl uint8, size int)
	// HandleReceivedPacket is called when a data packet of byte size s
	// on VL vl is received, and may produce a control/credit frame to
	// send back to the peer.
	HandleReceivedPacket(vl uint8, size int) (headers.DatalinkControlCreditHeader, bool)
	// HandleReceivedControlPacket applies a peer control/credit frame.
	HandleReceivedControlPacket(h headers.DatalinkControlCreditHeader)
	// HandleReleaseOccupiedFlowControl releases any flow-control state
	// held for a packet that was dropped before transmission (so credit
	// accounting doesn't leak).
	HandleReleaseOccupiedFlowControl(vl uint8, size int)
}

var (
	_ Engine = (*CBFC)(nil)
	_ Engine = (*PFC)(nil)
)
