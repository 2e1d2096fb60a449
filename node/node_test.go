package node

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ubfabric/ubsim/addr"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

// twoDeviceConfig lays out a minimal two-DEVICE, direct-link topology: node
// 0 writes to node 1 over a single transport channel at VL 0.
func twoDeviceConfig(t *testing.T, dir string) {
	t.Helper()

	writeFile(t, dir, "node.csv",
		"nodeId,nodeIdEnd,type,portCount,forwardDelayNs\n"+
			"0,0,DEVICE,1,0\n"+
			"1,0,DEVICE,1,0\n")

	writeFile(t, dir, "topology.csv",
		"nodeA,portA,nodeB,portB,bandwidthBytesPerSec,delayNs\n"+
			"0,0,1,0,1000000000,100\n")

	dst0 := ipToUint32Test(t, addr.NodeToIPv4(0, 0))
	dst1 := ipToUint32Test(t, addr.NodeToIPv4(1, 0))
	writeFile(t, dir, "routing_table.csv",
		"nodeId,destIpAsInt,destPort,outPorts,metrics\n"+
			fmt.Sprintf("0,%d,0,0,1\n", dst1)+
			fmt.Sprintf("1,%d,0,0,1\n", dst0))

	writeFile(t, dir, "transport_channel.csv",
		"node1,port1,tpn1,node2,port2,tpn2,priority,metric\n"+
			"0,0,1,1,0,2,0,1\n")

	writeFile(t, dir, "traffic.csv",
		"taskId,srcNode,dstNode,dataSize,opType,priority,delayNs,phaseId,deps\n"+
			"1,0,1,4096,URMA_WRITE,0,0,0,\n")
}

// ipToUint32Test mirrors switchnode's own IPv4-to-routing-key conversion so
// routing_table.csv's destIpAsInt column matches what a DEVICE node's
// outbound packets actually carry.
func ipToUint32Test(t *testing.T, ip []byte) uint32 {
	t.Helper()
	if len(ip) == 16 {
		ip = ip[12:]
	}
	if len(ip) != 4 {
		t.Fatalf("expected a 4-byte IPv4 address, got %d bytes", len(ip))
	}
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func TestBuildFromConfigTwoDeviceTopology(t *testing.T) {
	dir := t.TempDir()
	twoDeviceConfig(t, dir)

	sim, err := BuildFromConfig(dir)
	if err != nil {
		t.Fatalf("BuildFromConfig: %v", err)
	}

	if len(sim.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(sim.Nodes))
	}
	for _, id := range []int{0, 1} {
		n, ok := sim.Nodes[id]
		if !ok {
			t.Fatalf("missing node %d", id)
		}
		if n.URMA == nil {
			t.Fatalf("node %d: expected a URMA endpoint on a DEVICE node", id)
		}
		if n.LDST == nil {
			t.Fatalf("node %d: expected an LDST endpoint on a DEVICE node", id)
		}
		if _, ok := n.Ports[0]; !ok {
			t.Fatalf("node %d: expected port 0 to be wired", id)
		}
	}
}

func TestRunDeliversURMAWriteAndRetiresTask(t *testing.T) {
	dir := t.TempDir()
	twoDeviceConfig(t, dir)

	sim, err := BuildFromConfig(dir)
	if err != nil {
		t.Fatalf("BuildFromConfig: %v", err)
	}

	sim.Run()

	if sim.K.Pending() != 0 {
		t.Fatalf("expected no pending events after RunToCompletion, got %d", sim.K.Pending())
	}
	if sim.K.EventsRun() == 0 {
		t.Fatalf("expected at least one event to have run")
	}
}

func TestPrepareTrafficGatesOnPhaseDependency(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, dir, "node.csv",
		"nodeId,nodeIdEnd,type,portCount,forwardDelayNs\n"+
			"0,0,DEVICE,1,0\n"+
			"1,0,DEVICE,1,0\n")
	writeFile(t, dir, "topology.csv",
		"nodeA,portA,nodeB,portB,bandwidthBytesPerSec,delayNs\n"+
			"0,0,1,0,1000000000,100\n")

	dst0 := ipToUint32Test(t, addr.NodeToIPv4(0, 0))
	dst1 := ipToUint32Test(t, addr.NodeToIPv4(1, 0))
	writeFile(t, dir, "routing_table.csv",
		"nodeId,destIpAsInt,destPort,outPorts,metrics\n"+
			fmt.Sprintf("0,%d,0,0,1\n", dst1)+
			fmt.Sprintf("1,%d,0,0,1\n", dst0))
	writeFile(t, dir, "transport_channel.csv",
		"node1,port1,tpn1,node2,port2,tpn2,priority,metric\n"+
			"0,0,1,1,0,2,0,1\n")

	// Task 2 (phase 1) depends on phase 0, which task 1 alone retires.
	writeFile(t, dir, "traffic.csv",
		"taskId,srcNode,dstNode,dataSize,opType,priority,delayNs,phaseId,deps\n"+
			"1,0,1,1024,URMA_WRITE,0,0,0,\n"+
			"2,0,1,1024,URMA_WRITE,0,0,1,0\n")

	sim, err := BuildFromConfig(dir)
	if err != nil {
		t.Fatalf("BuildFromConfig: %v", err)
	}

	if _, scheduled := sim.dispatchFn[2]; !scheduled {
		t.Fatalf("expected task 2's dispatch func to be registered")
	}
	if _, waiting := sim.pendingDeps[2]; !waiting {
		t.Fatalf("expected task 2 to start out gated on phase 0")
	}

	sim.Run()

	if sim.K.Pending() != 0 {
		t.Fatalf("expected the dependent task to eventually run and drain the kernel")
	}
	if len(sim.pendingDeps) != 0 {
		t.Fatalf("expected every phase dependency to resolve by end of run, got %v", sim.pendingDeps)
	}
}

func TestBuildFromConfigRejectsUnknownTopologyNode(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "node.csv",
		"nodeId,nodeIdEnd,type,portCount,forwardDelayNs\n0,0,DEVICE,1,0\n")
	writeFile(t, dir, "topology.csv",
		"nodeA,portA,nodeB,portB,bandwidthBytesPerSec,delayNs\n0,0,99,0,1000000000,100\n")
	writeFile(t, dir, "routing_table.csv", "nodeId,destIpAsInt,destPort,outPorts,metrics\n")
	writeFile(t, dir, "transport_channel.csv", "node1,port1,tpn1,node2,port2,tpn2,priority,metric\n")
	writeFile(t, dir, "traffic.csv", "taskId,srcNode,dstNode,dataSize,opType,priority,delayNs,phaseId,deps\n")

	if _, err := BuildFromConfig(dir); err == nil {
		t.Fatalf("expected an error for topology.csv referencing an unknown node")
	}
}

func TestBuildFromConfigMissingRequiredFileFailsFast(t *testing.T) {
	dir := t.TempDir()
	if _, err := BuildFromConfig(dir); err == nil {
		t.Fatalf("expected BuildFromConfig to fail fast with no CSVs present")
	}
}

func TestParseNodePortRate(t *testing.T) {
	n, p, rate, ok := parseNodePortRate("2 1 500000")
	if !ok || n != 2 || p != 1 || rate != 500000 {
		t.Fatalf("unexpected parse: n=%d p=%d rate=%v ok=%v", n, p, rate, ok)
	}

	if _, _, _, ok := parseNodePortRate("garbled"); ok {
		t.Fatalf("expected malformed nodePortRate to fail to parse")
	}
}

func TestFaultKindRoundTrips(t *testing.T) {
	cases := map[string]bool{
		"DROP": true, "DELAY": true, "CONGESTION": true,
		"SHUTDOWN": true, "LOWER_RATE": true, "ERROR": true,
		"NONSENSE": false,
	}
	for s, want := range cases {
		if _, ok := faultKind(s); ok != want {
			t.Fatalf("faultKind(%q): expected ok=%v", s, want)
		}
	}
}
