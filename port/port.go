// Package port implements the per-port transmit state machine and the
// duplex Link it rides on, per spec.md §3/§4.4.
package port

import (
	"time"

	"github.com/ubfabric/ubsim/flowcontrol"
	"github.com/ubfabric/ubsim/headers"
	"github.com/ubfabric/ubsim/packet"
	"github.com/ubfabric/ubsim/simkernel"
	"github.com/ubfabric/ubsim/voq"
)

// State is the port's transmit finite state machine.
type State int

const (
	Ready State = iota
	Busy
	Allocating
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case Busy:
		return "BUSY"
	case Allocating:
		return "ALLOCATING"
	default:
		return "UNKNOWN"
	}
}

// Receiver is the handoff target for a packet that finished crossing the
// link: the owning switch's classify-and-forward entry point.
type Receiver interface {
	SwitchHandlePacket(inPort int, p *packet.Packet)
}

// Notifiee is notified when a transmit completes, so the switch can
// release any credit reserved for the just-sent packet.
type Notifiee interface {
	PortTransmitComplete(outPort int, p *packet.Packet)
}

// FaultInjector optionally intercepts a packet immediately before it
// would be transmitted; returning true drops it.
type FaultInjector func(p *packet.Packet) bool

// Link is a duplex wire between exactly two ports with a fixed
// propagation delay. Because the underlying simkernel heap breaks ties
// in schedule order, two sends landing at the same instant still arrive
// in the order they were sent, satisfying the in-order delivery
// guarantee spec.md §3 requires of a Link.
type Link struct {
	kernel *simkernel.Kernel
	delay  time.Duration
	a, b   *Port
	down   bool
}

// NewLink builds a Link between a and b with the given one-way
// propagation delay, and attaches itself to both ports.
func NewLink(k *simkernel.Kernel, delay time.Duration, a, b *Port) *Link {
	l := &Link{kernel: k, delay: delay, a: a, b: b}
	a.link = l
	b.link = l
	return l
}

// SetDown marks the link as down (or restores it), matching spec.md
// §4.4's "if link down -> idle" transmit-suppression path.
func (l *Link) SetDown(down bool) { l.down = down }

func (l *Link) peerOf(p *Port) *Port {
	if p == l.a {
		return l.b
	}
	return l.a
}

func (l *Link) send(from *Port, p *packet.Packet, txTime time.Duration) {
	to := l.peerOf(from)
	l.kernel.ScheduleAt(txTime+l.delay, func() {
		to.Receive(p)
	})
}

// Port is one end of a Link: a transmit state machine that pulls
// packets from an allocator-fed egress queue and serializes them at
// line rate.
type Port struct {
	Node  string
	Index int

	kernel          *simkernel.Kernel
	rateBytesPerSec float64
	interframeGap   time.Duration
	allocationTime  time.Duration

	allocator *voq.Allocator
	fc        flowcontrol.Engine
	link      *Link

	state      State
	egressRefs []voq.IngressQueue
	lastSent   *packet.Packet

	fault    FaultInjector
	receiver Receiver
	notifiee Notifiee
}

// New builds a Port. receiver and notifiee are typically the same
// switchnode.Switch value, split into two interfaces to keep port's
// dependency surface narrow.
func New(node string, index int, k *simkernel.Kernel, rateBytesPerSec float64, interframeGap, allocationTime time.Duration, alloc *voq.Allocator, fc flowcontrol.Engine, receiver Receiver, notifiee Notifiee) *Port {
	return &Port{
		Node:            node,
		Index:           index,
		kernel:          k,
		rateBytesPerSec: rateBytesPerSec,
		interframeGap:   interframeGap,
		allocationTime:  allocationTime,
		allocator:       alloc,
		fc:              fc,
		receiver:        receiver,
		notifiee:        notifiee,
	}
}

// SetFault installs a fault-injection callback (see the fault package).
func (p *Port) SetFault(f FaultInjector) { p.fault = f }

// SetRate changes the port's line rate, e.g. for a LOWER_RATE/CONGESTION
// fault.csv entry; in-flight transmissions already scheduled keep their
// original duration.
func (p *Port) SetRate(bytesPerSec float64) { p.rateBytesPerSec = bytesPerSec }

func (p *Port) State() State { return p.state }

// TriggerTransmit is the port's main pump: it is called whenever
// something might have become sendable (packet enqueued, transmit just
// completed, allocation just finished).
func (p *Port) TriggerTransmit() {
	if p.link == nil || p.link.down {
		return
	}
	if p.state == Busy {
		return
	}
	if len(p.egressRefs) == 0 {
		p.triggerAllocator()
		return
	}

	ref := p.egressRefs[0]
	p.egressRefs = p.egressRefs[1:]
	pkt := ref.GetNextPacket()
	if pkt == nil {
		// The picked queue had nothing ready after all (TP/LDST
		// back-pressure): try again immediately.
		p.TriggerTransmit()
		return
	}

	if p.fault != nil && p.fault(pkt) {
		p.state = Busy
		p.kernel.ScheduleAt(0, p.TransmitComplete)
		return
	}

	txTime := time.Duration(float64(pkt.Bytes) / p.rateBytesPerSec * float64(time.Second))
	p.state = Busy
	p.lastSent = pkt
	p.link.send(p, pkt, txTime)
	p.kernel.ScheduleAt(txTime+p.interframeGap, p.TransmitComplete)
	p.fc.HandleSentPacket(pkt.VL, pkt.Bytes)
}

func (p *Port) triggerAllocator() {
	if p.state == Allocating {
		return
	}
	q, ok := p.allocator.Pick(p.fc)
	if !ok {
		p.state = Ready
		return
	}
	p.state = Allocating
	p.kernel.ScheduleAt(p.allocationTime, func() {
		p.egressRefs = append(p.egressRefs, q)
		p.state = Ready
		p.TriggerTransmit()
	})
}

// TransmitComplete is scheduled by TriggerTransmit once a packet has
// finished serializing onto the wire.
func (p *Port) TransmitComplete() {
	p.state = Ready
	sent := p.lastSent
	p.lastSent = nil
	if p.notifiee != nil {
		p.notifiee.PortTransmitComplete(p.Index, sent)
	}
	p.TriggerTransmit()
}

// controlCreditHeaderBytes is the on-wire size of a credit-return
// frame (headers.DatalinkControlCreditHeader.SerializedSize()).
const controlCreditHeaderBytes = 40

// Receive is called by the Link when a packet finishes propagating in
// from the peer port.
func (p *Port) Receive(pkt *packet.Packet) {
	pkt.InPort = p.Index
	if p.fc != nil && pkt.Kind != packet.KindControlCredit {
		if ctrl, ok := p.fc.HandleReceivedPacket(pkt.VL, pkt.Bytes); ok {
			p.sendControlNow(ctrl)
		}
	}
	if p.receiver != nil {
		p.receiver.SwitchHandlePacket(p.Index, pkt)
	}
}

// sendControlNow ships a link-local credit-return frame back to the
// peer immediately, bypassing the allocator/data-path state machine:
// credit returns are a separate, always-available signaling plane, not
// bulk traffic contending for egress bandwidth.
func (p *Port) sendControlNow(ctrl headers.DatalinkControlCreditHeader) {
	if p.link == nil || p.link.down {
		return
	}
	pkt := &packet.Packet{Kind: packet.KindControlCredit, Control: ctrl, Bytes: controlCreditHeaderBytes}
	txTime := time.Duration(float64(pkt.Bytes) / p.rateBytesPerSec * float64(time.Second))
	p.link.send(p, pkt, txTime)
}
