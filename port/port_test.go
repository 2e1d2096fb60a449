package port

import (
	"testing"
	"time"

	"github.com/ubfabric/ubsim/headers"
	"github.com/ubfabric/ubsim/packet"
	"github.com/ubfabric/ubsim/simkernel"
	"github.com/ubfabric/ubsim/voq"
)

// alwaysOpenFC is a minimal flowcontrol.Engine stand-in that never
// limits or reacts; it exists so port tests don't need a real CBFC/PFC
// engine to exercise the transmit pump.
type alwaysOpenFC struct{}

func (alwaysOpenFC) IsFcLimited(vl uint8) bool      { return false }
func (alwaysOpenFC) CanSend(vl uint8, size int) bool { return true }
func (alwaysOpenFC) HandleSentPacket(vl uint8, size int) {}
func (alwaysOpenFC) HandleReceivedPacket(vl uint8, size int) (headers.DatalinkControlCreditHeader, bool) {
	return headers.DatalinkControlCreditHeader{}, false
}
func (alwaysOpenFC) HandleReceivedControlPacket(h headers.DatalinkControlCreditHeader) {}
func (alwaysOpenFC) HandleReleaseOccupiedFlowControl(vl uint8, size int)               {}

type recvRecorder struct {
	got []*packet.Packet
}

func (r *recvRecorder) SwitchHandlePacket(inPort int, p *packet.Packet) {
	r.got = append(r.got, p)
}

type completeRecorder struct {
	completions int
}

func (c *completeRecorder) PortTransmitComplete(outPort int, p *packet.Packet) {
	c.completions++
}

func TestPortTransmitToPeerAndComplete(t *testing.T) {
	k := simkernel.New(1)

	alloc := voq.NewAllocator(1)
	fabric := voq.NewFabric()
	fabric.Enqueue(alloc, 0, 0, 5, &packet.Packet{ID: 1, Bytes: 100, VL: 0})

	recvB := &recvRecorder{}
	completeA := &completeRecorder{}

	portA := New("n0", 0, k, 1e9, time.Nanosecond, time.Nanosecond, alloc, alwaysOpenFC{}, nil, completeA)
	portB := New("n1", 0, k, 1e9, time.Nanosecond, time.Nanosecond, voq.NewAllocator(1), alwaysOpenFC{}, recvB, nil)
	NewLink(k, 10*time.Nanosecond, portA, portB)

	portA.TriggerTransmit() // triggers allocator
	k.RunToCompletion()

	if len(recvB.got) != 1 {
		t.Fatalf("expected peer to receive exactly one packet, got %d", len(recvB.got))
	}
	if recvB.got[0].ID != 1 {
		t.Fatalf("unexpected packet delivered: %+v", recvB.got[0])
	}
	if completeA.completions == 0 {
		t.Fatalf("expected at least one TransmitComplete notification on the sender")
	}
}

// creditReturningFC returns a credit frame the first time it sees a
// received packet, then stays quiet.
type creditReturningFC struct {
	alwaysOpenFC
	fired bool
}

func (c *creditReturningFC) HandleReceivedPacket(vl uint8, size int) (headers.DatalinkControlCreditHeader, bool) {
	if c.fired {
		return headers.DatalinkControlCreditHeader{}, false
	}
	c.fired = true
	return headers.DatalinkControlCreditHeader{CreditTargetVL: vl}, true
}

func TestPortReturnsCreditFrameOnDataReceipt(t *testing.T) {
	k := simkernel.New(1)

	allocA := voq.NewAllocator(1)
	allocB := voq.NewAllocator(1)
	fabric := voq.NewFabric()
	fabric.Enqueue(allocA, 0, 0, 5, &packet.Packet{ID: 1, Bytes: 100, VL: 0, Kind: packet.KindIPv4URMA})

	recvA := &recvRecorder{}
	recvB := &recvRecorder{}
	fc := &creditReturningFC{}

	portA := New("n0", 0, k, 1e9, time.Nanosecond, time.Nanosecond, allocA, alwaysOpenFC{}, recvA, nil)
	portB := New("n1", 0, k, 1e9, time.Nanosecond, time.Nanosecond, allocB, fc, recvB, nil)
	NewLink(k, 10*time.Nanosecond, portA, portB)

	portA.TriggerTransmit()
	k.RunToCompletion()

	if len(recvB.got) != 1 {
		t.Fatalf("expected the peer to receive the data packet, got %d", len(recvB.got))
	}
	if len(recvA.got) != 1 || recvA.got[0].Kind != packet.KindControlCredit {
		t.Fatalf("expected a control-credit frame to come back to the sender, got %+v", recvA.got)
	}
}

func TestPortIdleWhenLinkDown(t *testing.T) {
	k := simkernel.New(1)
	alloc := voq.NewAllocator(1)
	fabric := voq.NewFabric()
	fabric.Enqueue(alloc, 0, 0, 0, &packet.Packet{ID: 9, Bytes: 10, VL: 0})

	recvB := &recvRecorder{}
	portA := New("n0", 0, k, 1e9, time.Nanosecond, time.Nanosecond, alloc, alwaysOpenFC{}, nil, nil)
	portB := New("n1", 0, k, 1e9, time.Nanosecond, time.Nanosecond, voq.NewAllocator(1), alwaysOpenFC{}, recvB, nil)
	link := NewLink(k, time.Nanosecond, portA, portB)
	link.SetDown(true)

	portA.TriggerTransmit()
	k.RunToCompletion()

	if len(recvB.got) != 0 {
		t.Fatalf("expected no delivery while link is down")
	}
}

func TestPortFaultInjectionDropsPacket(t *testing.T) {
	k := simkernel.New(1)
	alloc := voq.NewAllocator(1)
	fabric := voq.NewFabric()
	fabric.Enqueue(alloc, 0, 0, 0, &packet.Packet{ID: 3, Bytes: 10, VL: 0})

	recvB := &recvRecorder{}
	portA := New("n0", 0, k, 1e9, time.Nanosecond, time.Nanosecond, alloc, alwaysOpenFC{}, nil, nil)
	portA.SetFault(func(p *packet.Packet) bool { return true })
	portB := New("n1", 0, k, 1e9, time.Nanosecond, time.Nanosecond, voq.NewAllocator(1), alwaysOpenFC{}, recvB, nil)
	NewLink(k, time.Nanosecond, portA, portB)

	portA.TriggerTransmit()
	k.RunToCompletion()

	if len(recvB.got) != 0 {
		t.Fatalf("expected the fault-injected packet to never arrive")
	}
	if portA.State() != Ready {
		t.Fatalf("expected port to return to READY after dropping, got %v", portA.State())
	}
}
