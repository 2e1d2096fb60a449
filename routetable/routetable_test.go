package routetable

import "testing"

func TestGetOutPortExcludesInPort(t *testing.T) {
	tbl := New()
	tbl.AddRoute(100, 1, true)
	tbl.AddRoute(100, 2, true)

	for i := 0; i < 50; i++ {
		res, err := tbl.GetOutPort(Key{Dst: 100, Priority: uint8(i)}, 1, true)
		if err != nil {
			t.Fatalf("GetOutPort: %v", err)
		}
		if res.OutPort == 1 {
			t.Fatalf("GetOutPort returned excluded inPort 1")
		}
		if !res.Shortest {
			t.Fatalf("expected Shortest=true for a shortest-only lookup")
		}
	}
}

func TestGetOutPortNoRoute(t *testing.T) {
	tbl := New()
	if _, err := tbl.GetOutPort(Key{Dst: 999}, 0, true); err == nil {
		t.Fatalf("expected error for unknown destination")
	}
}

func TestGetOutPortAllPortsExcluded(t *testing.T) {
	tbl := New()
	tbl.AddRoute(5, 0, true)
	if _, err := tbl.GetOutPort(Key{Dst: 5}, 0, true); err == nil {
		t.Fatalf("expected error when the only candidate is the in-port")
	}
}

func TestGetOutPortCombinesBothSetsWhenNotShortestOnly(t *testing.T) {
	tbl := New()
	tbl.AddRoute(7, 1, true)
	tbl.AddRoute(7, 2, false)

	sawNonShortest := false
	for i := 0; i < 50; i++ {
		res, err := tbl.GetOutPort(Key{Dst: 7, SrcPort: uint16(i)}, 0, false)
		if err != nil {
			t.Fatalf("GetOutPort: %v", err)
		}
		if !res.Shortest {
			sawNonShortest = true
		}
	}
	if !sawNonShortest {
		t.Fatalf("expected the non-shortest port to be reachable when useShortestPath=false")
	}
}

func TestKeyHashDeterministic(t *testing.T) {
	k := Key{Src: 1, Dst: 2, SrcPort: 3, DstPort: 4, Priority: 5}
	if k.Hash() != k.Hash() {
		t.Fatalf("Hash must be deterministic for identical keys")
	}
}

func TestPerFlowVsPerPacketSalting(t *testing.T) {
	base := Key{Src: 10, Dst: 20, Priority: 1}
	perFlow1 := base
	perFlow2 := base
	if perFlow1.Hash() != perFlow2.Hash() {
		t.Fatalf("per-flow keys (zeroed ports) for the same flow must hash identically")
	}
	perPacket := base
	perPacket.SrcPort = 4321
	if perPacket.Hash() == perFlow1.Hash() {
		t.Fatalf("per-packet key with distinct SrcPort should not collide with the per-flow key in this fixture")
	}
}
