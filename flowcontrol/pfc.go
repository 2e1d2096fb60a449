package flowcontrol

import (
	"github.com/ubfabric/ubsim/headers"
)

// UBCreditMax is the permission value PFC restores a VL to once ingress
// usage drops back below the low watermark (spec.md §4.9).
const UBCreditMax = 0xFF

// PFC is the Priority Flow Control engine: per-port ingress-byte
// watermarks gate a per-VL transmit-permission bit. Unlike CBFC, PFC
// does not account in discrete cells; IngressUsage must be reported by
// the caller (queuemgr) whenever ingress occupancy changes.
type PFC struct {
	vlNum    uint8
	hi, lo   int
	sndCreds []uint8 // local permission to send, keyed by vl
	peerPerm []uint8 // last permission vector received from peer
	changed  bool
}

// NewPFC builds a PFC engine with vlNum VLs, hi/lo byte watermarks on
// ingress usage. All VLs start permitted.
func NewPFC(vlNum uint8, hi, lo int) *PFC {
	p := &PFC{vlNum: vlNum, hi: hi, lo: lo, sndCreds: make([]uint8, vlNum), peerPerm: make([]uint8, vlNum)}
	for i := range p.sndCreds {
		p.sndCreds[i] = UBCreditMax
		p.peerPerm[i] = UBCreditMax
	}
	return p
}

// NotifyIngressUsage updates the local permission bit for vl given the
// current ingress byte occupancy for that VL, crossing hi clears
// permission and crossing back below lo restores it. Returns true if the
// permission vector changed since the last frame was emitted.
func (p *PFC) NotifyIngressUsage(vl uint8, usageBytes int) bool {
	if int(vl) >= len(p.sndCreds) {
		return false
	}
	switch {
	case usageBytes >= p.hi && p.sndCreds[vl] != 0:
		p.sndCreds[vl] = 0
		p.changed = true
	case usageBytes < p.lo && p.sndCreds[vl] == 0:
		p.sndCreds[vl] = UBCreditMax
		p.changed = true
	}
	return p.changed
}

// BuildFrameIfChanged returns a control/credit frame carrying the local
// permission vector if it changed since the last call, clearing the
// dirty flag.
func (p *PFC) BuildFrameIfChanged() (headers.DatalinkControlCreditHeader, bool) {
	if !p.changed {
		return headers.DatalinkControlCreditHeader{}, false
	}
	var h headers.DatalinkControlCreditHeader
	for v := 0; v < len(p.sndCreds) && v < len(h.CreditsVL); v++ {
		h.CreditsVL[v] = p.sndCreds[v] & 0x3F
	}
	p.changed = false
	return h, true
}

func (p *PFC) IsFcLimited(vl uint8) bool {
	if int(vl) >= len(p.peerPerm) {
		return true
	}
	return p.peerPerm[vl] == 0
}

func (p *PFC) CanSend(vl uint8, size int) bool {
	return !p.IsFcLimited(vl)
}

// HandleSentPacket is a no-op for PFC: permission is purely a
// watermark-driven gate, not consumed per packet.
func (p *PFC) HandleSentPacket(vl uint8, size int) {}

// HandleReceivedPacket never produces an unsolicited frame for PFC; the
// permission vector is only emitted when NotifyIngressUsage flips it.
func (p *PFC) HandleReceivedPacket(vl uint8, size int) (headers.DatalinkControlCreditHeader, bool) {
	return headers.DatalinkControlCreditHeader{}, false
}

// HandleReceivedControlPacket applies a peer-sent permission vector.
func (p *PFC) HandleReceivedControlPacket(h headers.DatalinkControlCreditHeader) {
	for v := 0; v < len(h.CreditsVL) && v < len(p.peerPerm); v++ {
		p.peerPerm[v] = h.CreditsVL[v]
	}
}

// HandleReleaseOccupiedFlowControl is a no-op for PFC.
func (p *PFC) HandleReleaseOccupiedFlowControl(vl uint8, size int) {}
