// Package ldst implements the memory-semantic Load/Store pipeline:
// task segmentation across a fixed thread pool, per-thread STORE/LOAD
// queues pumped by an outstanding-request window, and UB-MEM packet
// construction, per spec.md §4.10. LDST traffic bypasses the TP layer
// entirely; a Thread registers directly with a port's allocator as a
// pull-model voq.IngressQueue producer, matching spec.md §4.3's "TP
// channel or LDST thread" ingress-queue note.
package ldst

import (
	"github.com/ubfabric/ubsim/addr"
	"github.com/ubfabric/ubsim/hbm"
	"github.com/ubfabric/ubsim/headers"
	"github.com/ubfabric/ubsim/packet"
	"github.com/ubfabric/ubsim/voq"
)

// MemoryBank is the target-side memory model a Write/Read request lands
// on before its response is sent, satisfied by *hbm.Controller. When an
// Instance has none set (the zero value), RecvDataPacket responds
// immediately, matching the case where UB_HBM_ENABLE is off.
type MemoryBank interface {
	SendRequest(req hbm.Request, done func(hbm.Response))
}

// DefaultThreadCount is the number of LDST threads an endpoint owns
// (spec.md §4.10, "default 48").
const DefaultThreadCount = 48

// DefaultReqLength is the exponent in packetSize = 64 * 2^reqLength.
const DefaultReqLength = 6 // 64 * 64 = 4096 B

// DefaultOutstandingWindow caps concurrent unacknowledged requests per
// thread; the window reopens one slot per ack/data-delivery.
const DefaultOutstandingWindow = 4

// TaskType distinguishes a STORE (write) from a LOAD (read) task.
type TaskType int

const (
	Store TaskType = iota
	Load
)

// TaskSegment is one thread's share of a HandleLdstTask dispatch: a
// residual byte range sent in PacketSize-sized chunks.
type TaskSegment struct {
	TaskID     uint64
	Type       TaskType
	SrcNode    int
	DstNode    int
	Address    uint64
	PacketSize int
	Residual   int

	expectedAcks int
	ackedSoFar   int
}

// Router resolves the VL a chunk destined for dstNode should use, binds
// a newly-created Thread to its (outPort, vl) ingress-queue slot, and
// pushes a one-shot response packet onto the fabric toward its
// destination (spec.md §4.5's forward path, reused for LDST replies).
type Router interface {
	RouteVL(dstNode int) uint8
	Register(dstNode int, vl uint8, t *Thread)
	EnqueueResponse(p *packet.Packet)
}

var _ voq.IngressQueue = (*Thread)(nil)

// Thread is one LDST worker: independent STORE and LOAD queues, each
// gated by its own outstanding-request window.
type Thread struct {
	inst *Instance

	storeQueue []*TaskSegment
	loadQueue  []*TaskSegment

	outstandingStore int
	outstandingLoad  int
}

func newThread(inst *Instance, window int) *Thread {
	return &Thread{inst: inst, outstandingStore: window, outstandingLoad: window}
}

func (t *Thread) IsEmpty() bool { return !t.storeReady() && !t.loadReady() }

func (t *Thread) storeReady() bool {
	return t.outstandingStore > 0 && len(t.storeQueue) > 0 && t.storeQueue[0].Residual > 0
}

func (t *Thread) loadReady() bool {
	return t.outstandingLoad > 0 && len(t.loadQueue) > 0 && t.loadQueue[0].Residual > 0
}

func (t *Thread) GetNextPacketSize() int {
	if t.storeReady() {
		return chunkSize(t.storeQueue[0])
	}
	if t.loadReady() {
		return chunkSize(t.loadQueue[0])
	}
	return 0
}

func chunkSize(s *TaskSegment) int {
	if s.Residual < s.PacketSize {
		return s.Residual
	}
	return s.PacketSize
}

// GetNextPacket implements spec.md §4.10's handleStoreTask/handleLoadTask
// pump, preferring STORE work over LOAD when both are ready.
func (t *Thread) GetNextPacket() *packet.Packet {
	if t.storeReady() {
		return t.pump(&t.storeQueue, &t.outstandingStore, Store)
	}
	if t.loadReady() {
		return t.pump(&t.loadQueue, &t.outstandingLoad, Load)
	}
	return nil
}

func (t *Thread) pump(queue *[]*TaskSegment, outstanding *int, kind TaskType) *packet.Packet {
	seg := (*queue)[0]
	size := chunkSize(seg)
	*outstanding--
	seg.Residual -= size
	seg.expectedAcks++
	if seg.Residual == 0 {
		*queue = (*queue)[1:]
	}
	return t.inst.ldstProcess(t, seg, kind, size)
}

// recordAck marks one of seg's outstanding request/response cycles
// complete, reopening one outstanding-window slot and, once every chunk
// sent for the segment has been acknowledged, tallying the owning
// task's completion.
func (t *Thread) recordAck(seg *TaskSegment, kind TaskType) {
	switch kind {
	case Store:
		t.outstandingStore++
	case Load:
		t.outstandingLoad++
	}
	seg.ackedSoFar++
	if seg.Residual == 0 && seg.ackedSoFar >= seg.expectedAcks {
		t.inst.segmentComplete(seg.TaskID)
	}
}

// taskState tracks how many of a task's dispatched segments have
// completed, so the user finish callback fires exactly once.
type taskState struct {
	totalSegments     int
	completedSegments int
	onFinish          func()
}

type pendingRequest struct {
	thread *Thread
	seg    *TaskSegment
	kind   TaskType
}

// Instance is one endpoint's LDST pipeline: a fixed thread pool plus
// outstanding-task bookkeeping. It implements switchnode.LDSTEndpoint.
type Instance struct {
	node    int
	router  Router
	threads []*Thread

	tasks     map[uint64]*taskState
	pending   map[uint64]pendingRequest
	nextReqID uint64

	mem MemoryBank
}

// SetMemoryBank attaches a target-side memory model; every subsequent
// RecvDataPacket request pays its access latency before the response is
// sent, per attrs.KeyHBMEnable.
func (inst *Instance) SetMemoryBank(mem MemoryBank) { inst.mem = mem }

// New builds an Instance with threadCount threads (spec.md default 48).
// No thread is registered with router here: HandleLdstTask calls
// Router.Register for each thread it hands a segment to.
func New(node int, router Router, threadCount int) *Instance {
	if threadCount <= 0 {
		threadCount = DefaultThreadCount
	}
	inst := &Instance{
		node:    node,
		router:  router,
		tasks:   make(map[uint64]*taskState),
		pending: make(map[uint64]pendingRequest),
	}
	for i := 0; i < threadCount; i++ {
		inst.threads = append(inst.threads, newThread(inst, DefaultOutstandingWindow))
	}
	return inst
}

// Threads exposes the thread pool; the node assembler uses its length
// to pick the thread ids for a dispatched task.
func (inst *Instance) Threads() []*Thread { return inst.threads }

// HandleLdstTask implements spec.md §4.10's handleLdstTask: split length
// evenly across threadIDs and push one TaskSegment per thread.
func (inst *Instance) HandleLdstTask(dst int, length int, taskID uint64, kind TaskType, threadIDs []int, address uint64, onFinish func()) {
	if len(threadIDs) == 0 {
		return
	}
	inst.tasks[taskID] = &taskState{totalSegments: len(threadIDs), onFinish: onFinish}

	packetSize := 64 << DefaultReqLength
	per := length / len(threadIDs)
	rem := length % len(threadIDs)

	vl := inst.router.RouteVL(dst)

	for i, tid := range threadIDs {
		if tid < 0 || tid >= len(inst.threads) {
			continue
		}
		share := per
		if i == len(threadIDs)-1 {
			share += rem
		}
		seg := &TaskSegment{
			TaskID:     taskID,
			Type:       kind,
			SrcNode:    inst.node,
			DstNode:    dst,
			Address:    address,
			PacketSize: packetSize,
			Residual:   share,
		}
		th := inst.threads[tid]
		inst.router.Register(dst, vl, th)
		switch kind {
		case Store:
			th.storeQueue = append(th.storeQueue, seg)
		case Load:
			th.loadQueue = append(th.loadQueue, seg)
		}
	}
}

func (inst *Instance) segmentComplete(taskID uint64) {
	st, ok := inst.tasks[taskID]
	if !ok {
		return
	}
	st.completedSegments++
	if st.completedSegments >= st.totalSegments {
		delete(inst.tasks, taskID)
		if st.onFinish != nil {
			st.onFinish()
		}
	}
}

const ldstHeaderOverheadBytes = 4 + 8 + 4 + 12

// ldstProcess builds the UB-MEM data packet for one chunk (spec.md
// §4.10: "DLH, CNA-16, compact TA header, compact MAE header, payload").
func (inst *Instance) ldstProcess(t *Thread, seg *TaskSegment, kind TaskType, size int) *packet.Packet {
	op := headers.TAOpcodeWrite
	if kind == Load {
		op = headers.TAOpcodeRead
	}

	reqID := inst.nextReqID
	inst.nextReqID++
	inst.pending[reqID] = pendingRequest{thread: t, seg: seg, kind: kind}

	return &packet.Packet{
		ID:    reqID,
		Kind:  packet.KindUBMemLDST,
		VL:    inst.router.RouteVL(seg.DstNode),
		Bytes: size + ldstHeaderOverheadBytes,
		Cna: headers.Cna16NetworkHeader{
			SrcCNA: addr.NodeToCNA16(seg.SrcNode, -1),
			DstCNA: addr.NodeToCNA16(seg.DstNode, -1),
		},
		MAE: headers.CompactMAExtTah{
			Opcode:  op,
			Length:  uint16(size),
			Address: seg.Address,
		},
		UseCompactMAE: true,
	}
}

// RecvDataPacket implements switchnode.LDSTEndpoint: a Write/Read
// request has arrived locally. The simulator does not model memory
// contents, only access latency; the responder acknowledges it once its
// memory bank (if any) finishes processing: a plain ack for WRITE, a
// ReadResponse for READ. Both responses are header-only
// (ldstHeaderOverheadBytes); a ReadResponse carries no payload bytes.
func (inst *Instance) RecvDataPacket(p *packet.Packet) {
	respOp := headers.TAOpcodeTransactionAck
	if p.MAE.Opcode == headers.TAOpcodeRead {
		respOp = headers.TAOpcodeReadResponse
	}

	buildResp := func() *packet.Packet {
		return &packet.Packet{
			ID:    p.ID,
			Kind:  packet.KindUBMemLDST,
			VL:    p.VL,
			Bytes: ldstHeaderOverheadBytes,
			Cna: headers.Cna16NetworkHeader{
				SrcCNA: p.Cna.DstCNA,
				DstCNA: p.Cna.SrcCNA,
			},
			MAE: headers.CompactMAExtTah{
				Opcode:  respOp,
				Address: p.MAE.Address,
			},
			UseCompactMAE: true,
		}
	}

	if inst.mem == nil {
		inst.router.EnqueueResponse(buildResp())
		return
	}
	inst.mem.SendRequest(hbm.Request{
		Address:   p.MAE.Address,
		Size:      uint32(p.MAE.Length),
		IsWrite:   p.MAE.Opcode == headers.TAOpcodeWrite,
		RequestID: p.ID,
	}, func(hbm.Response) {
		inst.router.EnqueueResponse(buildResp())
	})
}

// RecvResponse implements switchnode.LDSTEndpoint: an ack or read
// response has arrived for a previously-sent request, identified by the
// request/response pair's shared packet ID.
func (inst *Instance) RecvResponse(p *packet.Packet) {
	entry, ok := inst.pending[p.ID]
	if !ok {
		return
	}
	delete(inst.pending, p.ID)
	entry.thread.recordAck(entry.seg, entry.kind)
}
