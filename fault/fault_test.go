package fault

import (
	"testing"

	"github.com/ubfabric/ubsim/packet"
)

func TestDropFaultDropsAtRequestedRate(t *testing.T) {
	inj := New(Spec{Kind: Drop, DropPct: 1.0}, 1)
	p := &packet.Packet{}
	if !inj.Callback()(p) {
		t.Fatalf("expected a 100%% drop-rate fault to drop every packet")
	}
}

func TestDropFaultNeverFiresAtZeroPct(t *testing.T) {
	inj := New(Spec{Kind: Drop, DropPct: 0}, 1)
	p := &packet.Packet{}
	for i := 0; i < 100; i++ {
		if inj.Callback()(p) {
			t.Fatalf("expected a 0%% drop-rate fault to never drop")
		}
	}
}

func TestShutdownFaultDropsOnlyWhileActive(t *testing.T) {
	inj := New(Spec{Kind: Shutdown}, 1)
	p := &packet.Packet{}
	if inj.Callback()(p) {
		t.Fatalf("expected no drop before SetActive(true)")
	}
	inj.SetActive(true)
	if !inj.Callback()(p) {
		t.Fatalf("expected a drop once the shutdown window is active")
	}
	inj.SetActive(false)
	if inj.Callback()(p) {
		t.Fatalf("expected no drop once the shutdown window ends")
	}
}

func TestErrorFaultNeverDropsPacket(t *testing.T) {
	inj := New(Spec{Kind: Error, ErrorPct: 1.0}, 1)
	p := &packet.Packet{Payload: []byte{0x00}}
	if inj.Callback()(p) {
		t.Fatalf("an ERROR fault must not drop the packet, only corrupt it")
	}
	if p.Payload[0] != 0xFF {
		t.Fatalf("expected the payload byte to be corrupted, got %#x", p.Payload[0])
	}
}
