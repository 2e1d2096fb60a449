package urma

import (
	"testing"

	"github.com/ubfabric/ubsim/caqm"
	"github.com/ubfabric/ubsim/headers"
	"github.com/ubfabric/ubsim/packet"
	"github.com/ubfabric/ubsim/simkernel"
	"github.com/ubfabric/ubsim/transport"
)

func newTestEndpoint(t *testing.T, tpn uint32, mtu int) (*Endpoint, *transport.Channel) {
	t.Helper()
	e := New(0, mtu)
	k := simkernel.New(1)
	ch := transport.New(k, tpn, tpn+100, 0, 1, 0, mtu, caqm.NoOp{}, e, nil)
	e.RegisterChannel(tpn, ch)
	return e, ch
}

func TestPushWqeSegmentsAtMtuAlignment(t *testing.T) {
	e, ch := newTestEndpoint(t, 1, 256)
	j := e.NewJetty(0, headers.RequesterContext, false)
	e.BindJettyTP(0, 1)

	e.PushWqeToJetty(0, &WQE{TaskID: 1, Bytes: 500, Order: headers.OrderNO, Opcode: headers.TAOpcodeWrite})

	if len(j.pending)+1 != 2 {
		// one segment already handed to the TP by the scheduling pass PushWqeToJetty triggers
		t.Fatalf("expected 2 total segments (256+244 bytes) for 500 bytes at mtu 256, got %d pending + 1 scheduled", len(j.pending))
	}

	sent := 0
	for ch.GetNextPacket() != nil {
		sent++
		if sent > 10 {
			break
		}
	}
	if sent != 2 {
		t.Fatalf("expected 2 packets sent across the 500-byte WQE, got %d", sent)
	}
}

func TestRoundRobinAcrossTwoJetties(t *testing.T) {
	e, ch := newTestEndpoint(t, 1, 1000)
	e.NewJetty(0, headers.RequesterContext, false)
	e.NewJetty(1, headers.RequesterContext, false)
	e.BindJettyTP(0, 1)
	e.BindJettyTP(1, 1)

	e.PushWqeToJetty(0, &WQE{TaskID: 10, Bytes: 1000, Order: headers.OrderNO})
	e.PushWqeToJetty(1, &WQE{TaskID: 20, Bytes: 1000, Order: headers.OrderNO})

	first := ch.GetNextPacket()
	if first == nil {
		t.Fatalf("expected a packet from the first jetty scheduled")
	}
	second := ch.GetNextPacket()
	if second == nil {
		t.Fatalf("expected the second jetty's segment to have been scheduled too")
	}
}

func TestStrongWqeGatedBehindEarlierRelax(t *testing.T) {
	e, ch := newTestEndpoint(t, 1, 1000)
	j := e.NewJetty(0, headers.RequesterContext, false)
	e.BindJettyTP(0, 1)

	finished1, finished2 := false, false
	e.PushWqeToJetty(0, &WQE{TaskID: 1, Bytes: 100, Order: headers.OrderRelax, OnFinish: func() { finished1 = true }})
	e.PushWqeToJetty(0, &WQE{TaskID: 2, Bytes: 100, Order: headers.OrderStrong, OnFinish: func() { finished2 = true }})

	// The RELAX WQE's segment was already handed off to the TP; the
	// STRONG WQE's segment must still be sitting in pending behind it.
	foundStrong := false
	for _, s := range j.pending {
		if s.TaskID == 2 {
			foundStrong = true
		}
	}
	if !foundStrong {
		t.Fatalf("expected the STRONG WQE's segment to remain blocked in pending")
	}

	// Transmit and ack the RELAX WQE's only segment (PSN 0): this pops
	// it off the ordering FIFO and fires its finish callback.
	if ch.GetNextPacket() == nil {
		t.Fatalf("expected the RELAX segment's packet to be ready to send")
	}
	ch.RecvTPAck(&packet.Packet{TP: headers.TransportHeader{PSN: 0}})
	if !finished1 {
		t.Fatalf("expected the RELAX WQE to finish once its only segment acks")
	}
	if len(j.orderFIFO) != 1 || j.orderFIFO[0] != 2 {
		t.Fatalf("expected the STRONG WQE to now be at the FIFO head, got %v", j.orderFIFO)
	}

	// Acking the RELAX WQE should have also let the scheduler hand the
	// now-unblocked STRONG segment to the TP.
	if ch.GetNextPacket() == nil {
		t.Fatalf("expected the STRONG WQE's segment to now be schedulable")
	}
	ch.RecvTPAck(&packet.Packet{TP: headers.TransportHeader{PSN: 1}})
	if !finished2 {
		t.Fatalf("expected the STRONG WQE to finish once its only segment acks")
	}
}

func TestSinglePathJettyRefusesSecondBinding(t *testing.T) {
	e := New(0, 1000)
	j := e.NewJetty(0, headers.RequesterContext, true)
	e.BindJettyTP(0, 1)
	e.BindJettyTP(0, 2)

	if len(j.boundTPs) != 1 {
		t.Fatalf("expected a single-path jetty to reject a second TP binding, got %v", j.boundTPs)
	}
}

func TestDeliverQueuesReadResponse(t *testing.T) {
	e, ch := newTestEndpoint(t, 1, 1000)

	req := &packet.Packet{
		TP: headers.TransportHeader{DestTPN: 1},
		CompactTA: headers.CompactTransactionHeader{
			Opcode: headers.TAOpcodeRead,
			TASSN:  7,
		},
		UseCompactTA: true,
		Bytes:        64,
	}
	e.Deliver(req)

	// EnqueueReadResponse schedules at once, so with tpn 1's channel
	// registered the response leaves the remote queue for the TP.
	rq, ok := e.remoteQueues[1]
	if !ok || len(rq.segs) != 0 {
		t.Fatalf("expected a read response queued on tpn 1 and handed to its TP")
	}
	if p := ch.GetNextPacket(); p == nil || p.CompactTA.Opcode != headers.TAOpcodeReadResponse {
		t.Fatalf("expected the TP's next packet to carry ReadResponse opcode")
	}
}
