// Package voq implements the three-dimensional virtual-output-queue
// fabric (outPort x VL x inPort) and the per-outPort round-robin,
// priority-strict allocator described in spec.md §4.3. TP channels and
// LDST threads register as additional "TPCHANNEL" ingress queues
// alongside VOQ slots; both satisfy the same IngressQueue capability.
package voq

import (
	"sync"

	"github.com/ubfabric/ubsim/packet"
)

// IngressQueue is the ingress-queue capability shared by plain VOQ FIFOs
// and pull-model TP-channel / LDST producers (spec.md §9 polymorphism
// note: isEmpty, getNextPacket, getNextPacketSize).
type IngressQueue interface {
	IsEmpty() bool
	GetNextPacketSize() int
	GetNextPacket() *packet.Packet
}

// FIFO is a plain packet queue, the concrete IngressQueue used for
// VOQ[outPort][vl][inPort] slots.
type FIFO struct {
	mu    sync.Mutex
	items []*packet.Packet
	drain func(size int)
}

func NewFIFO() *FIFO { return &FIFO{} }

func (q *FIFO) Push(p *packet.Packet) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
}

func (q *FIFO) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0
}

func (q *FIFO) GetNextPacketSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0
	}
	return q.items[0].Bytes
}

// GetNextPacket pops and returns the head packet, or nil if empty. A VOQ
// FIFO never back-pressures once admitted: unlike a TP channel, a packet
// sitting in a VOQ already passed admission control at enqueue time.
// Draining a slot runs its drain callback, if one was installed by the
// owning Fabric, releasing the ingress-byte reservation taken when the
// packet was first enqueued.
func (q *FIFO) GetNextPacket() *packet.Packet {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil
	}
	p := q.items[0]
	q.items = q.items[1:]
	drain := q.drain
	q.mu.Unlock()
	if drain != nil {
		drain(p.Bytes)
	}
	return p
}

func (q *FIFO) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type slotKey struct {
	outPort int
	vl      uint8
	inPort  int
}

// DrainFunc is invoked once per packet dequeued from any VOQ slot in a
// Fabric, naming the (outPort, vl) the slot feeds and the packet size.
type DrainFunc func(outPort int, vl uint8, size int)

// Fabric owns the VOQ[outPort][vl][inPort] index for one switch. Slots
// are created lazily as packets are first routed to a given
// (outPort, vl, inPort) triple.
type Fabric struct {
	mu    sync.Mutex
	slots map[slotKey]*FIFO
	drain DrainFunc
}

func NewFabric() *Fabric {
	return &Fabric{slots: make(map[slotKey]*FIFO)}
}

// SetDrainFunc installs fn as the callback run whenever a packet leaves a
// VOQ slot via FIFO.GetNextPacket. A switch wires this to its queue
// manager's PopIngress so the (outPort, vl) ingress-byte reservation taken
// at forward time is released exactly once the packet actually leaves the
// fabric, not at enqueue. Must be called before any slot is created.
func (f *Fabric) SetDrainFunc(fn DrainFunc) {
	f.mu.Lock()
	f.drain = fn
	f.mu.Unlock()
}

// Enqueue pushes p into VOQ[outPort][vl][inPort], creating the slot (and
// registering it with alloc) on first use.
func (f *Fabric) Enqueue(alloc *Allocator, outPort int, vl uint8, inPort int, p *packet.Packet) {
	q := f.slot(alloc, outPort, vl, inPort)
	q.Push(p)
}

func (f *Fabric) slot(alloc *Allocator, outPort int, vl uint8, inPort int) *FIFO {
	k := slotKey{outPort, vl, inPort}
	f.mu.Lock()
	q, ok := f.slots[k]
	if !ok {
		q = NewFIFO()
		if f.drain != nil {
			drain := f.drain
			q.drain = func(size int) { drain(outPort, vl, size) }
		}
		f.slots[k] = q
	}
	f.mu.Unlock()
	if !ok {
		alloc.Register(outPort, vl, q)
	}
	return q
}

// FlowControl is the per-VL admissibility check the allocator consults
// before picking a queue, matching the flowcontrol package's isFcLimited
// capability (spec.md §9).
type FlowControl interface {
	IsFcLimited(vl uint8) bool
}

type queueList struct {
	queues []IngressQueue
	cursor int
}

// Allocator performs the priority-strict, round-robin-per-VL queue pick
// described in spec.md §4.3. One Allocator serves one outbound port.
type Allocator struct {
	mu    sync.Mutex
	vlNum uint8
	byVL  map[uint8]*queueList
}

// NewAllocator returns an Allocator walking VLs [0, vlNum).
func NewAllocator(vlNum uint8) *Allocator {
	return &Allocator{vlNum: vlNum, byVL: make(map[uint8]*queueList)}
}

// Register adds q as an eligible ingress queue for (outPort, vl). The
// outPort parameter is accepted for symmetry with Fabric.Enqueue and
// potential multi-port allocators, but a single Allocator instance
// always serves exactly one outPort in this simulator's topology
// assembly (node.BuildFromConfig creates one Allocator per port).
func (a *Allocator) Register(outPort int, vl uint8, q IngressQueue) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.byVL[vl]
	if !ok {
		l = &queueList{}
		a.byVL[vl] = l
	}
	l.queues = append(l.queues, q)
}

// Pick walks VLs from 0 up (priority-strict), and at each non-fc-limited
// VL walks its registered queues starting from the round-robin cursor,
// returning the first non-empty one found. The cursor only advances past
// a queue that was inspected, so fairness is preserved across calls.
func (a *Allocator) Pick(fc FlowControl) (IngressQueue, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for vl := uint8(0); vl < a.vlNum; vl++ {
		l, ok := a.byVL[vl]
		if !ok || len(l.queues) == 0 {
			continue
		}
		if fc != nil && fc.IsFcLimited(vl) {
			continue
		}
		n := len(l.queues)
		for i := 0; i < n; i++ {
			idx := (l.cursor + i) % n
			q := l.queues[idx]
			if !q.IsEmpty() {
				l.cursor = (idx + 1) % n
				return q, true
			}
		}
	}
	return nil, false
}
