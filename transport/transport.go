// Package transport implements the Transport Channel (TP), the unit of
// reliable in-order delivery between two nodes: PSN-sequenced send/recv
// state, the retransmit timer, and cumulative-ACK generation, per
// spec.md §4.6. A Channel satisfies voq.IngressQueue so it can register
// with a port's allocator as a pull-model producer alongside plain VOQs.
package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/ubfabric/ubsim/addr"
	"github.com/ubfabric/ubsim/caqm"
	"github.com/ubfabric/ubsim/headers"
	"github.com/ubfabric/ubsim/metrics"
	"github.com/ubfabric/ubsim/packet"
	"github.com/ubfabric/ubsim/simkernel"
	"github.com/ubfabric/ubsim/voq"
)

var _ voq.IngressQueue = (*Channel)(nil)

// PSNOOOThreshold bounds how far a received PSN may run ahead of
// psnRecvNxt before it is dropped as out-of-window.
const PSNOOOThreshold = 2048

const (
	DefaultInitialRto           = 25600 * time.Nanosecond
	DefaultRetransExponentBits  = 1
	DefaultMaxRetransAttempts   = 7
)

// Segment is one outstanding WQE segment queued on a TP channel's send
// side: a contiguous byte range assigned a PSN run.
type Segment struct {
	TaskID     uint64
	JettyID    uint16
	TASSN      uint32
	MSN        uint32 // assigned by the owning TP at scheduling time
	Opcode     headers.TAOpcode
	Order      headers.OrderType
	TotalBytes int
	SentBytes  int // sent-byte cursor
	PSNStart   uint32
	PSNCount   uint32

	// OnComplete, if set, is invoked once psnSndUna has advanced past
	// this segment's entire PSN range.
	OnComplete func()
}

func (s *Segment) finished() bool { return s.SentBytes >= s.TotalBytes }

// Scheduler is notified when a channel has exhausted its queued
// segments and wants more work (the per-TP jetty scheduler).
type Scheduler interface {
	TriggerTransmit(tpn uint32)
}

// Aborter is notified when a channel exhausts its retransmit attempts.
// spec.md §4.6: "Aborted is fatal and bubbles up."
type Aborter interface {
	TPAborted(tpn uint32)
}

// Delivery receives each uniquely-arrived data packet as soon as it is
// seen, independent of the cumulative-ACK ordering logic below. The
// transaction layer uses this to act on a packet's TAOpcode (e.g. a
// READ request needs a response) without the TP itself knowing
// anything about transaction semantics.
type Delivery interface {
	Deliver(p *packet.Packet)
}

// Channel is one TP's full send/recv/retransmit state.
type Channel struct {
	kernel   *simkernel.Kernel
	cc       caqm.Controller
	sched    Scheduler
	aborter  Aborter
	delivery Delivery

	TPN        uint32
	DstTPN     uint32
	SrcNode    int
	DstNode    int
	VL         uint8
	MTU        int
	SrcIP, DstIP net.IP
	SrcPort, DstPort uint16

	UseShortestPaths bool
	UsePacketSpray   bool

	// Send side.
	psnSndNxt     uint32
	psnSndUna     uint32
	psnQueuedEnd  uint32 // sum of PSNs assigned to queued segments
	tpMsnCnt      uint32
	outstanding   []*Segment
	ackQueue      []*packet.Packet

	rto           time.Duration
	attemptsLeft  int
	retransEvent  *simkernel.Event
	aborted       bool

	// Receive side.
	psnRecvNxt    uint32
	recvPsnBitset []bool
}

// New builds a Channel. mtu is the segment packet-size cap; cc may be
// caqm.NoOp{} when congestion control is disabled for this TP.
func New(k *simkernel.Kernel, tpn, dstTPN uint32, srcNode, dstNode int, vl uint8, mtu int, cc caqm.Controller, sched Scheduler, aborter Aborter) *Channel {
	return &Channel{
		kernel:        k,
		cc:            cc,
		sched:         sched,
		aborter:       aborter,
		TPN:           tpn,
		DstTPN:        dstTPN,
		SrcNode:       srcNode,
		DstNode:       dstNode,
		VL:            vl,
		MTU:           mtu,
		SrcIP:         addr.NodeToIPv4(srcNode, 0),
		DstIP:         addr.NodeToIPv4(dstNode, 0),
		attemptsLeft:  DefaultMaxRetransAttempts,
		recvPsnBitset: make([]bool, PSNOOOThreshold),
	}
}

// EnqueueSegment appends a new outstanding segment to the send queue,
// assigning it the next PSN run.
func (c *Channel) EnqueueSegment(s *Segment) {
	s.PSNStart = c.psnQueuedEnd
	s.PSNCount = uint32((s.TotalBytes + c.MTU - 1) / c.MTU)
	if s.PSNCount == 0 {
		s.PSNCount = 1
	}
	s.MSN = c.tpMsnCnt
	c.tpMsnCnt++
	c.psnQueuedEnd += s.PSNCount
	c.outstanding = append(c.outstanding, s)
}

// Aborted reports whether the channel has exhausted its retransmit
// attempts (spec.md: "Aborted is fatal and bubbles up").
func (c *Channel) Aborted() bool { return c.aborted }

// SetDelivery installs the transaction-layer delivery hook.
func (c *Channel) SetDelivery(d Delivery) { c.delivery = d }

// --- voq.IngressQueue ---

func (c *Channel) IsEmpty() bool {
	if len(c.ackQueue) > 0 {
		return false
	}
	return c.firstUnfinished() == nil
}

func (c *Channel) GetNextPacketSize() int {
	if len(c.ackQueue) > 0 {
		return c.ackQueue[0].Bytes
	}
	if s := c.firstUnfinished(); s != nil {
		left := s.TotalBytes - s.SentBytes
		if left > c.MTU {
			return c.MTU
		}
		return left
	}
	return 0
}

func (c *Channel) firstUnfinished() *Segment {
	for _, s := range c.outstanding {
		if !s.finished() {
			return s
		}
	}
	return nil
}

// GetNextPacket implements the TP send path (spec.md §4.6). It may
// return nil: either there is genuinely nothing to send, or CAQM has
// back-pressured the only ready segment.
func (c *Channel) GetNextPacket() *packet.Packet {
	if c.aborted {
		return nil
	}
	if len(c.ackQueue) > 0 {
		p := c.ackQueue[0]
		c.ackQueue = c.ackQueue[1:]
		return p
	}

	seg := c.firstUnfinished()
	if seg == nil {
		return nil
	}
	payload := seg.TotalBytes - seg.SentBytes
	if payload > c.MTU {
		payload = c.MTU
	}
	if rest := c.cc.GetRestCwnd(); rest < payload {
		return nil
	}

	psn := c.psnSndNxt
	last := seg.SentBytes+payload >= seg.TotalBytes

	p := c.buildDataPacket(seg, psn, payload, last)

	c.cc.SenderUpdateCongestionCtrlData(psn, payload)
	seg.SentBytes += payload
	c.psnSndNxt++

	if c.retransEvent == nil {
		c.armRetransmitTimer(DefaultInitialRto)
	}

	if c.psnSndNxt == c.psnQueuedEnd && c.sched != nil {
		c.sched.TriggerTransmit(c.TPN)
	}

	return p
}

func (c *Channel) buildDataPacket(seg *Segment, psn uint32, payload int, last bool) *packet.Packet {
	cf := c.cc.SenderGenNetworkHeader()
	p := &packet.Packet{
		Kind:  packet.KindIPv4URMA,
		VL:    c.VL,
		Bytes: payload + headerOverheadBytes,
		DL:    headers.DatalinkPacketHeader{PacketVL: c.VL},
		Net:   headers.NetworkHeader{CC: cf},
		SrcIP: c.SrcIP,
		DstIP: c.DstIP,
		TP: headers.TransportHeader{
			LastPacket: last,
			Opcode:     headers.TPOpcodeReliableTA,
			SrcTPN:     c.TPN,
			DestTPN:    c.DstTPN,
			PSN:        psn,
			TPMsn:      seg.MSN,
		},
		CompactTA: headers.CompactTransactionHeader{
			Opcode: seg.Opcode,
			Order:  seg.Order,
			TASSN:  uint16(seg.TASSN),
		},
		UseCompactTA: true,
	}
	return p
}

// headerOverheadBytes approximates the fixed on-wire cost of the
// datalink+network+transport+transaction header stack for byte-size
// accounting purposes (the live data path carries parsed structs, not
// serialized bytes, so this is the queueing/line-rate weight only).
const headerOverheadBytes = 4 + 6 + 16 + 4

func (c *Channel) armRetransmitTimer(rto time.Duration) {
	c.rto = rto
	c.retransEvent = c.kernel.ScheduleAt(rto, c.reTxTimeout)
}

func (c *Channel) cancelRetransmitTimer() {
	if c.retransEvent != nil {
		c.kernel.Cancel(c.retransEvent)
		c.retransEvent = nil
	}
}

// reTxTimeout implements spec.md §4.6's ReTxTimeout.
func (c *Channel) reTxTimeout() {
	c.retransEvent = nil
	c.attemptsLeft--
	if c.attemptsLeft <= 0 {
		c.aborted = true
		if c.aborter != nil {
			c.aborter.TPAborted(c.TPN)
		}
		return
	}

	c.rto <<= DefaultRetransExponentBits
	c.psnSndNxt = c.psnSndUna

	for _, s := range c.outstanding {
		segEnd := s.PSNStart + s.PSNCount
		if c.psnSndUna >= s.PSNStart && c.psnSndUna < segEnd {
			s.SentBytes = int(c.psnSndUna-s.PSNStart) * c.MTU
		} else if s.PSNStart > c.psnSndUna {
			s.SentBytes = 0
		}
	}

	c.armRetransmitTimer(c.rto)
	if c.sched != nil {
		c.sched.TriggerTransmit(c.TPN)
	}
}

// RecvDataPacket implements the TP receive path (spec.md §4.6).
func (c *Channel) RecvDataPacket(p *packet.Packet) {
	psn := p.TP.PSN

	if psn < c.psnRecvNxt || (psn-c.psnRecvNxt < uint32(len(c.recvPsnBitset)) && c.recvPsnBitset[psn-c.psnRecvNxt]) {
		// Duplicate: regenerate the most recent cumulative ACK.
		c.ackQueue = append(c.ackQueue, c.buildAck(c.psnRecvNxt))
		return
	}
	if psn >= c.psnRecvNxt+PSNOOOThreshold {
		metrics.Drop(metrics.ReasonOOOWindow)
		return
	}

	c.cc.RecverRecordPacketData(psn, p.Bytes, p.Net.CC)

	if c.delivery != nil {
		c.delivery.Deliver(p)
	}

	idx := psn - c.psnRecvNxt
	c.recvPsnBitset[idx] = true
	if idx != 0 {
		return
	}

	oldRecvNxt := c.psnRecvNxt
	for len(c.recvPsnBitset) > 0 && c.recvPsnBitset[0] {
		c.recvPsnBitset = append(c.recvPsnBitset[1:], false)
		c.psnRecvNxt++
	}

	c.ackQueue = append(c.ackQueue, c.buildAck(oldRecvNxt))
}

func (c *Channel) buildAck(ackFrom uint32) *packet.Packet {
	opcode := c.cc.GetTpAckOpcode()
	cetph := c.cc.RecverGenAckCeTphHeader(ackFrom, c.psnRecvNxt)
	return &packet.Packet{
		Kind:  packet.KindIPv4URMA,
		VL:    c.VL,
		Bytes: ackOverheadBytes,
		DL:    headers.DatalinkPacketHeader{PacketVL: c.VL, ACK: true},
		SrcIP: c.DstIP,
		DstIP: c.SrcIP,
		TP: headers.TransportHeader{
			Opcode:  opcode,
			SrcTPN:  c.TPN,
			DestTPN: c.DstTPN,
			PSN:     c.psnRecvNxt - 1,
		},
		CETPH:    cetph,
		HasCETPH: opcode == headers.TPOpcodeAckCETPH || opcode == headers.TPOpcodeSackCETPH,
	}
}

const ackOverheadBytes = 4 + 6 + 16 + 8

// RecvTPAck implements spec.md §4.6's "ACK receive".
func (c *Channel) RecvTPAck(p *packet.Packet) {
	if p.HasCETPH {
		// ackedBytes is left at 0: a CAQM controller derives in-flight
		// bytes from p.CETPH.AckSequence instead, not a per-ACK byte count.
		c.cc.SenderRecvAck(p.TP.PSN, 0, p.CETPH)
	}

	newUna := p.TP.PSN + 1
	if newUna <= c.psnSndUna {
		return
	}
	oldUna := c.psnSndUna
	c.psnSndUna = newUna

	remaining := c.outstanding[:0]
	for _, s := range c.outstanding {
		if c.psnSndUna >= s.PSNStart+s.PSNCount {
			if s.OnComplete != nil {
				s.OnComplete()
			}
			continue
		}
		remaining = append(remaining, s)
	}
	c.outstanding = remaining

	c.cancelRetransmitTimer()
	if len(c.outstanding) > 0 {
		c.armRetransmitTimer(DefaultInitialRto)
	}
	c.attemptsLeft = DefaultMaxRetransAttempts

	opened := c.psnSndUna > oldUna
	if opened && c.sched != nil {
		c.sched.TriggerTransmit(c.TPN)
	}
}

func (c *Channel) String() string {
	return fmt.Sprintf("tp(%d->%d vl=%d una=%d nxt=%d recvNxt=%d)", c.TPN, c.DstTPN, c.VL, c.psnSndUna, c.psnSndNxt, c.psnRecvNxt)
}
