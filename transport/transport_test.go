package transport

import (
	"testing"

	"github.com/ubfabric/ubsim/caqm"
	"github.com/ubfabric/ubsim/headers"
	"github.com/ubfabric/ubsim/packet"
	"github.com/ubfabric/ubsim/simkernel"
)

func TestSendPathSegmentsIntoMTUPackets(t *testing.T) {
	k := simkernel.New(1)
	c := New(k, 1, 2, 0, 1, 0, 256, caqm.NoOp{}, nil, nil)
	c.EnqueueSegment(&Segment{TotalBytes: 500})

	var got []int
	for i := 0; i < 3; i++ {
		p := c.GetNextPacket()
		if p == nil {
			break
		}
		got = append(got, int(p.TP.PSN))
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 packets (256+244 bytes), got %d: %v", len(got), got)
	}
	if got[0] != 0 || got[1] != 1 {
		t.Fatalf("expected sequential PSNs 0,1, got %v", got)
	}
	if !c.IsEmpty() {
		t.Fatalf("expected channel to be empty after draining the only segment")
	}
}

func TestBackPressureFromCongestionControl(t *testing.T) {
	k := simkernel.New(1)
	p := caqm.DefaultParams(64)
	e := caqm.NewEndpoint("n0", 1, p, k)
	c := New(k, 1, 2, 0, 1, 0, 256, e, nil, nil)
	c.EnqueueSegment(&Segment{TotalBytes: 256})

	// Exhaust the small initial window by recording data as in-flight.
	for i := 0; i < 20; i++ {
		e.SenderUpdateCongestionCtrlData(uint32(i), 64)
	}
	if pkt := c.GetNextPacket(); pkt != nil {
		t.Fatalf("expected nil packet once cwnd is exhausted, got %+v", pkt)
	}
}

func TestDuplicateDataPacketRegeneratesAck(t *testing.T) {
	k := simkernel.New(1)
	c := New(k, 1, 2, 0, 1, 0, 256, caqm.NoOp{}, nil, nil)

	c.RecvDataPacket(packetAt(0))
	if len(c.ackQueue) != 1 {
		t.Fatalf("expected first in-order packet to enqueue an ack")
	}
	c.ackQueue = nil

	c.RecvDataPacket(packetAt(0)) // duplicate
	if len(c.ackQueue) != 1 {
		t.Fatalf("expected duplicate to regenerate an ack")
	}
}

func TestOutOfOrderThenInOrderAdvancesRecvNxt(t *testing.T) {
	k := simkernel.New(1)
	c := New(k, 1, 2, 0, 1, 0, 256, caqm.NoOp{}, nil, nil)

	c.RecvDataPacket(packetAt(1)) // out of order, no ack
	if len(c.ackQueue) != 0 {
		t.Fatalf("expected no ack for an out-of-order arrival")
	}
	c.RecvDataPacket(packetAt(0)) // fills the gap
	if c.psnRecvNxt != 2 {
		t.Fatalf("psnRecvNxt = %d, want 2 after contiguous fill", c.psnRecvNxt)
	}
	if len(c.ackQueue) != 1 {
		t.Fatalf("expected exactly one cumulative ack after the gap closes")
	}
}

func TestAckAdvancesUnaAndPurgesCompletedSegment(t *testing.T) {
	k := simkernel.New(1)
	c := New(k, 1, 2, 0, 1, 0, 256, caqm.NoOp{}, nil, nil)
	completed := false
	c.EnqueueSegment(&Segment{TotalBytes: 100, OnComplete: func() { completed = true }})
	c.GetNextPacket() // sends PSN 0, the segment's only packet

	c.RecvTPAck(&packet.Packet{TP: headers.TransportHeader{PSN: 0}})
	if c.psnSndUna != 1 {
		t.Fatalf("psnSndUna = %d, want 1", c.psnSndUna)
	}
	if !completed {
		t.Fatalf("expected OnComplete to fire once the segment is fully acked")
	}
	if len(c.outstanding) != 0 {
		t.Fatalf("expected the completed segment to be purged")
	}
}

func TestRetransmitTimeoutRewindsAndDoublesRto(t *testing.T) {
	k := simkernel.New(1)
	c := New(k, 1, 2, 0, 1, 0, 256, caqm.NoOp{}, nil, nil)
	c.EnqueueSegment(&Segment{TotalBytes: 256})
	c.GetNextPacket()
	startRto := c.rto

	c.reTxTimeout()

	if c.rto != startRto<<DefaultRetransExponentBits {
		t.Fatalf("rto = %v, want %v", c.rto, startRto<<DefaultRetransExponentBits)
	}
	if c.psnSndNxt != c.psnSndUna {
		t.Fatalf("expected psnSndNxt rewound to psnSndUna")
	}
	if c.attemptsLeft != DefaultMaxRetransAttempts-1 {
		t.Fatalf("attemptsLeft = %d, want %d", c.attemptsLeft, DefaultMaxRetransAttempts-1)
	}
}

func TestChannelAbortsAfterMaxAttempts(t *testing.T) {
	k := simkernel.New(1)
	aborted := false
	c := New(k, 1, 2, 0, 1, 0, 256, caqm.NoOp{}, nil, abortRecorder(func(uint32) { aborted = true }))
	c.EnqueueSegment(&Segment{TotalBytes: 256})
	c.GetNextPacket()

	for i := 0; i < DefaultMaxRetransAttempts; i++ {
		c.reTxTimeout()
	}
	if !c.aborted || !aborted {
		t.Fatalf("expected the channel to abort after exhausting retransmit attempts")
	}
}

type abortRecorder func(uint32)

func (f abortRecorder) TPAborted(tpn uint32) { f(tpn) }

func packetAt(psn uint32) *packet.Packet {
	return &packet.Packet{
		Kind:  packet.KindIPv4URMA,
		Bytes: 64,
		TP:    headers.TransportHeader{PSN: psn},
	}
}
