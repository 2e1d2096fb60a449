package ldst

import (
	"testing"
	"time"

	"github.com/ubfabric/ubsim/hbm"
	"github.com/ubfabric/ubsim/headers"
	"github.com/ubfabric/ubsim/packet"
	"github.com/ubfabric/ubsim/simkernel"
)

type fakeRouter struct {
	registered []*Thread
	responses  []*packet.Packet
}

func (r *fakeRouter) RouteVL(dstNode int) uint8 { return 0 }
func (r *fakeRouter) Register(dstNode int, vl uint8, t *Thread) {
	r.registered = append(r.registered, t)
}
func (r *fakeRouter) EnqueueResponse(p *packet.Packet) { r.responses = append(r.responses, p) }

func TestHandleLdstTaskSplitsEvenlyAcrossThreads(t *testing.T) {
	r := &fakeRouter{}
	inst := New(0, r, 4)
	inst.HandleLdstTask(1, 1000, 42, Store, []int{0, 1, 2}, 0x1000, nil)

	total := 0
	for _, tid := range []int{0, 1, 2} {
		total += inst.threads[tid].storeQueue[0].Residual
	}
	if total != 1000 {
		t.Fatalf("segment residuals sum to %d, want 1000", total)
	}
	if inst.threads[3].storeQueue != nil {
		t.Fatalf("expected thread 3 to receive no work")
	}
}

func TestThreadPumpsChunksUntilWindowExhausted(t *testing.T) {
	r := &fakeRouter{}
	inst := New(0, r, 1)
	inst.HandleLdstTask(1, 4096*6, 1, Store, []int{0}, 0, nil)
	th := inst.threads[0]

	sent := 0
	for th.GetNextPacket() != nil {
		sent++
		if sent > DefaultOutstandingWindow+1 {
			break
		}
	}
	if sent != DefaultOutstandingWindow {
		t.Fatalf("sent %d packets before window exhaustion, want %d", sent, DefaultOutstandingWindow)
	}
	if th.GetNextPacket() != nil {
		t.Fatalf("expected thread to stop producing once its window is exhausted")
	}
}

func TestAckReopensWindowAndCompletesTask(t *testing.T) {
	r := &fakeRouter{}
	inst := New(0, r, 1)
	finished := false
	inst.HandleLdstTask(1, 4096, 7, Store, []int{0}, 0, func() { finished = true })

	p := inst.threads[0].GetNextPacket()
	if p == nil {
		t.Fatalf("expected a packet for the single 4096-byte segment")
	}

	inst.RecvResponse(&packet.Packet{ID: p.ID})
	if !finished {
		t.Fatalf("expected the task finish callback to fire once its only segment is acked")
	}
}

func TestRecvDataPacketEnqueuesAck(t *testing.T) {
	r := &fakeRouter{}
	inst := New(0, r, 1)

	req := &packet.Packet{
		Cna: headers.Cna16NetworkHeader{SrcCNA: 0x10, DstCNA: 0x20},
		MAE: headers.CompactMAExtTah{Opcode: headers.TAOpcodeWrite, Address: 0x500},
	}
	inst.RecvDataPacket(req)

	if len(r.responses) != 1 {
		t.Fatalf("expected one response enqueued, got %d", len(r.responses))
	}
	resp := r.responses[0]
	if resp.MAE.Opcode != headers.TAOpcodeTransactionAck {
		t.Fatalf("expected a transaction ack for a WRITE, got opcode %v", resp.MAE.Opcode)
	}
	if resp.Cna.SrcCNA != 0x20 || resp.Cna.DstCNA != 0x10 {
		t.Fatalf("expected the response CNA pair to be swapped, got %+v", resp.Cna)
	}
}

func TestRecvDataPacketEchoesReadResponse(t *testing.T) {
	r := &fakeRouter{}
	inst := New(0, r, 1)

	req := &packet.Packet{
		MAE: headers.CompactMAExtTah{Opcode: headers.TAOpcodeRead},
	}
	inst.RecvDataPacket(req)

	if r.responses[0].MAE.Opcode != headers.TAOpcodeReadResponse {
		t.Fatalf("expected a read-response ack for a READ, got opcode %v", r.responses[0].MAE.Opcode)
	}
}

func TestRecvDataPacketWaitsOnMemoryBankBeforeResponding(t *testing.T) {
	r := &fakeRouter{}
	inst := New(0, r, 1)
	k := simkernel.New(1)
	inst.SetMemoryBank(hbm.NewController(k, 1, 10*time.Nanosecond))

	req := &packet.Packet{
		ID:  5,
		MAE: headers.CompactMAExtTah{Opcode: headers.TAOpcodeWrite, Address: 0x100},
	}
	inst.RecvDataPacket(req)
	if len(r.responses) != 0 {
		t.Fatalf("expected no response before the memory bank finishes processing")
	}

	k.RunToCompletion()
	if len(r.responses) != 1 {
		t.Fatalf("expected one response once the memory bank finishes, got %d", len(r.responses))
	}
}
