// Package urma implements the URMA transaction layer: jetties that group
// WQEs toward a peer, WQE segmentation at MTU alignment, per-TP
// round-robin scheduling across local jetties and remote-request
// entries, and ROI ordering enforcement, per spec.md §4.11. A jetty
// never talks to the fabric directly; it only produces transport.Segment
// values that a bound transport.Channel carries end to end.
package urma

import (
	"github.com/ubfabric/ubsim/headers"
	"github.com/ubfabric/ubsim/packet"
	"github.com/ubfabric/ubsim/transport"
)

var _ transport.Delivery = (*Endpoint)(nil)
var _ transport.Scheduler = (*Endpoint)(nil)

// JettyAckWindow bounds how many TASSNs a jetty may have outstanding
// (unacked) at once, mirroring the TP's own PSNOOOThreshold window but
// scoped to one jetty across however many TPs it is bound to.
const JettyAckWindow = 2048

// WQE is one URMA operation: a byte range destined for a jetty's peer,
// with an ordering requirement.
type WQE struct {
	TaskID   uint64
	Bytes    int
	Order    headers.OrderType
	Opcode   headers.TAOpcode
	OnFinish func()
}

// segSource is anything scheduleWqeSegment can pull a ready segment
// from: a local jetty, or the per-TP remote-request queue.
type segSource interface {
	nextSegment() *transport.Segment
}

// Jetty groups WQEs destined to one peer across one or more bound TPs
// (multi-path, unless ROL mode forces a single path). It segments WQEs
// on arrival and enforces ROI ordering among its RELAX/STRONG WQEs.
type Jetty struct {
	ep          *Endpoint
	ID          uint16
	ServiceMode headers.IniRcType
	singlePath  bool

	boundTPs []uint32

	tassnCounter uint32
	pending      []*transport.Segment

	orderFIFO    []uint64
	wqeOrder     map[uint64]headers.OrderType
	started      map[uint64]bool
	wqeRemaining map[uint64]int

	ackNxt    uint32
	ackBitset []bool
}

func newJetty(ep *Endpoint, id uint16, mode headers.IniRcType, singlePath bool) *Jetty {
	return &Jetty{
		ep:           ep,
		ID:           id,
		ServiceMode:  mode,
		singlePath:   singlePath,
		wqeOrder:     make(map[uint64]headers.OrderType),
		started:      make(map[uint64]bool),
		wqeRemaining: make(map[uint64]int),
		ackBitset:    make([]bool, JettyAckWindow),
	}
}

// segment carves wqe into MTU-aligned transport.Segments, assigning each
// one the jetty's next TASSN.
func (j *Jetty) segment(wqe *WQE, mtu int) []*transport.Segment {
	if mtu <= 0 {
		mtu = 1
	}
	n := (wqe.Bytes + mtu - 1) / mtu
	if n == 0 {
		n = 1
	}
	segs := make([]*transport.Segment, 0, n)
	remaining := wqe.Bytes
	for i := 0; i < n; i++ {
		chunk := mtu
		if remaining < mtu {
			chunk = remaining
		}
		tassn := j.tassnCounter
		j.tassnCounter++
		taskID := wqe.TaskID
		seg := &transport.Segment{
			TaskID:     taskID,
			JettyID:    j.ID,
			TASSN:      tassn,
			Opcode:     wqe.Opcode,
			Order:      wqe.Order,
			TotalBytes: chunk,
		}
		seg.OnComplete = func() { j.recordAck(tassn, taskID) }
		segs = append(segs, seg)
		remaining -= chunk
	}
	return segs
}

// nextSegment implements segSource: spec.md §4.11's "picking the first
// segment available" under ROI ordering. A STRONG WQE's first segment
// may only leave once it sits at the head of the jetty's ordering FIFO;
// once that first segment has issued, the rest of the WQE is free to go.
func (j *Jetty) nextSegment() *transport.Segment {
	for i, seg := range j.pending {
		if seg.TASSN >= j.ackNxt+uint32(len(j.ackBitset)) {
			continue // jetty ack window exhausted for this TASSN
		}
		if seg.Order == headers.OrderStrong && !j.started[seg.TaskID] {
			if len(j.orderFIFO) == 0 || j.orderFIFO[0] != seg.TaskID {
				continue
			}
		}
		j.pending = append(j.pending[:i:i], j.pending[i+1:]...)
		if seg.Order == headers.OrderStrong {
			j.started[seg.TaskID] = true
		}
		return seg
	}
	return nil
}

// recordAck advances the jetty's TASSN window, decrements the owning
// WQE's remaining-segment count, pops the ordering FIFO once a
// RELAX/STRONG WQE has no segments left, and tallies task completion.
func (j *Jetty) recordAck(tassn uint32, taskID uint64) {
	if tassn >= j.ackNxt {
		idx := tassn - j.ackNxt
		if idx < uint32(len(j.ackBitset)) {
			j.ackBitset[idx] = true
		}
		if idx == 0 {
			for len(j.ackBitset) > 0 && j.ackBitset[0] {
				j.ackBitset = append(j.ackBitset[1:], false)
				j.ackNxt++
			}
		}
	}

	if n, ok := j.wqeRemaining[taskID]; ok {
		n--
		if n <= 0 {
			delete(j.wqeRemaining, taskID)
			delete(j.started, taskID)
			delete(j.wqeOrder, taskID)
			for len(j.orderFIFO) > 0 {
				if _, stillPending := j.wqeRemaining[j.orderFIFO[0]]; stillPending {
					break
				}
				j.orderFIFO = j.orderFIFO[1:]
			}
		} else {
			j.wqeRemaining[taskID] = n
		}
	}

	j.ep.taskSegmentDone(taskID)
}

// remoteQueue is the per-TP FIFO of response segments built for
// requests initiated by the peer (spec.md §4.11's "remote-request
// entry"); it carries no ordering gate of its own.
type remoteQueue struct {
	segs []*transport.Segment
}

func (r *remoteQueue) nextSegment() *transport.Segment {
	if len(r.segs) == 0 {
		return nil
	}
	s := r.segs[0]
	r.segs = r.segs[1:]
	return s
}

type taskState struct {
	totalSegments     int
	completedSegments int
	onFinish          func()
}

// PortTrigger wakes a port's transmit pump after a segment has been
// handed to its TP, mirroring switchnode.TransmitTrigger.
type PortTrigger interface {
	TriggerTransmit()
}

// Endpoint is one node's URMA transaction layer: the jetties it owns,
// the TPs those jetties are bound to, and the per-TP scheduling state.
type Endpoint struct {
	node int
	mtu  int

	jetties  map[uint16]*Jetty
	channels map[uint32]*transport.Channel
	triggers map[uint32]PortTrigger

	tpJetties     map[uint32][]*Jetty
	remoteQueues  map[uint32]*remoteQueue
	rrCursor      map[uint32]int
	scheduling    map[uint32]bool

	tasks map[uint64]*taskState
}

// New builds an Endpoint. mtu bounds WQE-segment and remote-response
// sizes; it is typically the bound TPs' MTU.
func New(node int, mtu int) *Endpoint {
	return &Endpoint{
		node:         node,
		mtu:          mtu,
		jetties:      make(map[uint16]*Jetty),
		channels:     make(map[uint32]*transport.Channel),
		triggers:     make(map[uint32]PortTrigger),
		tpJetties:    make(map[uint32][]*Jetty),
		remoteQueues: make(map[uint32]*remoteQueue),
		rrCursor:     make(map[uint32]int),
		scheduling:   make(map[uint32]bool),
		tasks:        make(map[uint64]*taskState),
	}
}

// NewJetty creates and registers a jetty. singlePath forces ROL mode:
// BindJettyTP will refuse a second TP binding.
func (e *Endpoint) NewJetty(id uint16, mode headers.IniRcType, singlePath bool) *Jetty {
	j := newJetty(e, id, mode, singlePath)
	e.jetties[id] = j
	return j
}

// RegisterChannel binds a transport.Channel to this endpoint: it becomes
// both a scheduling target and the source of transaction-level delivery
// events.
func (e *Endpoint) RegisterChannel(tpn uint32, ch *transport.Channel) {
	e.channels[tpn] = ch
	ch.SetDelivery(e)
}

// RegisterPortTrigger installs the port wakeup hook for tpn.
func (e *Endpoint) RegisterPortTrigger(tpn uint32, t PortTrigger) {
	e.triggers[tpn] = t
}

// BindJettyTP binds jettyID to tpn. A single-path (ROL) jetty accepts
// only its first binding; later calls are ignored.
func (e *Endpoint) BindJettyTP(jettyID uint16, tpn uint32) {
	j, ok := e.jetties[jettyID]
	if !ok {
		return
	}
	if j.singlePath && len(j.boundTPs) >= 1 {
		return
	}
	j.boundTPs = append(j.boundTPs, tpn)
	e.tpJetties[tpn] = append(e.tpJetties[tpn], j)
}

// PushWqeToJetty implements spec.md §4.11's pushWqeToJetty: segment the
// WQE, record its ordering entry, and kick scheduling on every TP the
// jetty is bound to.
func (e *Endpoint) PushWqeToJetty(jettyID uint16, wqe *WQE) {
	j, ok := e.jetties[jettyID]
	if !ok {
		return
	}
	segs := j.segment(wqe, e.mtu)
	e.tasks[wqe.TaskID] = &taskState{totalSegments: len(segs), onFinish: wqe.OnFinish}
	j.wqeRemaining[wqe.TaskID] = len(segs)
	if wqe.Order == headers.OrderRelax || wqe.Order == headers.OrderStrong {
		j.orderFIFO = append(j.orderFIFO, wqe.TaskID)
		j.wqeOrder[wqe.TaskID] = wqe.Order
	}
	j.pending = append(j.pending, segs...)

	for _, tpn := range j.boundTPs {
		e.scheduleWqeSegment(tpn)
	}
}

// TriggerTransmit implements transport.Scheduler: a bound TP has
// drained its queue or opened its congestion window and wants more
// work.
func (e *Endpoint) TriggerTransmit(tpn uint32) {
	e.scheduleWqeSegment(tpn)
}

// scheduleWqeSegment implements spec.md §4.11: a per-TP round-robin walk
// across the TP's bound jetties and its remote-request queue, handing
// the first available segment to the TP.
func (e *Endpoint) scheduleWqeSegment(tpn uint32) {
	if e.scheduling[tpn] {
		return
	}
	e.scheduling[tpn] = true
	defer func() { e.scheduling[tpn] = false }()

	ch := e.channels[tpn]
	if ch == nil {
		return
	}

	var sources []segSource
	for _, j := range e.tpJetties[tpn] {
		sources = append(sources, j)
	}
	if rq, ok := e.remoteQueues[tpn]; ok && len(rq.segs) > 0 {
		sources = append(sources, rq)
	}
	if len(sources) == 0 {
		return
	}

	cursor := e.rrCursor[tpn]
	for i := 0; i < len(sources); i++ {
		idx := (cursor + i) % len(sources)
		seg := sources[idx].nextSegment()
		if seg == nil {
			continue
		}
		e.rrCursor[tpn] = (idx + 1) % len(sources)
		ch.EnqueueSegment(seg)
		if trig := e.triggers[tpn]; trig != nil {
			trig.TriggerTransmit()
		}
		return
	}
}

func (e *Endpoint) taskSegmentDone(taskID uint64) {
	st, ok := e.tasks[taskID]
	if !ok {
		return
	}
	st.completedSegments++
	if st.completedSegments >= st.totalSegments {
		delete(e.tasks, taskID)
		if st.onFinish != nil {
			st.onFinish()
		}
	}
}

// EnqueueReadResponse queues a response segment on tpn's remote-request
// queue, to be scheduled alongside the TP's local jetties.
func (e *Endpoint) EnqueueReadResponse(tpn uint32, taskID uint64, bytes int) {
	rq, ok := e.remoteQueues[tpn]
	if !ok {
		rq = &remoteQueue{}
		e.remoteQueues[tpn] = rq
	}
	rq.segs = append(rq.segs, &transport.Segment{
		TaskID:     taskID,
		Opcode:     headers.TAOpcodeReadResponse,
		Order:      headers.OrderNO,
		TotalBytes: bytes,
	})
	e.scheduleWqeSegment(tpn)
}

// Deliver implements transport.Delivery: a data packet has arrived on
// one of this endpoint's TPs. A READ request gets a response queued
// back on the same TP; a WRITE or ReadResponse needs no further action
// beyond the TP-level ack already handled by transport.Channel.
func (e *Endpoint) Deliver(p *packet.Packet) {
	var opcode headers.TAOpcode
	var tassn uint32
	if p.UseCompactTA {
		opcode = p.CompactTA.Opcode
		tassn = uint32(p.CompactTA.TASSN)
	} else {
		opcode = p.TA.Opcode
		tassn = p.TA.TASSN
	}

	if opcode == headers.TAOpcodeRead {
		e.EnqueueReadResponse(p.TP.DestTPN, uint64(tassn), p.Bytes)
	}
}
