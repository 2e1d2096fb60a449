// Package csvconfig loads the simulator's CSV configuration inputs:
// node.csv, topology.csv, routing_table.csv, transport_channel.csv,
// traffic.csv and the optional fault.csv, each parsed with gocsv the
// same way the teacher's cmd/csvtool marshals snapshot records, and
// each failing fast via rtx.Must-style wrapped errors per spec.md §7's
// "Configuration: missing files, malformed rows: fail fast at startup."
package csvconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
)

// NodeRow is one node.csv entry. NodeID may be a single id or, when
// NodeIDEnd is non-zero, an inclusive range [NodeID, NodeIDEnd] of
// identically-shaped nodes (node.csv's "nodeId|nodeRange" column).
type NodeRow struct {
	NodeID       int    `csv:"nodeId"`
	NodeIDEnd    int    `csv:"nodeIdEnd"`
	Type         string `csv:"type"` // DEVICE or SWITCH
	PortCount    int    `csv:"portCount"`
	ForwardDelay int64  `csv:"forwardDelayNs"`
}

// Expand returns every concrete node id this row describes.
func (r NodeRow) Expand() []int {
	if r.NodeIDEnd <= r.NodeID {
		return []int{r.NodeID}
	}
	ids := make([]int, 0, r.NodeIDEnd-r.NodeID+1)
	for id := r.NodeID; id <= r.NodeIDEnd; id++ {
		ids = append(ids, id)
	}
	return ids
}

// TopologyRow is one topology.csv entry: a bidirectional link joining
// (nodeA, portA) to (nodeB, portB).
type TopologyRow struct {
	NodeA     int   `csv:"nodeA"`
	PortA     int   `csv:"portA"`
	NodeB     int   `csv:"nodeB"`
	PortB     int   `csv:"portB"`
	Bandwidth int64 `csv:"bandwidthBytesPerSec"`
	DelayNs   int64 `csv:"delayNs"`
}

// RouteRow is one routing_table.csv entry. OutPorts and Metrics are
// parallel space-separated lists; entries sharing the smallest metric
// form the shortest-path set, the rest the non-shortest set.
type RouteRow struct {
	NodeID      int    `csv:"nodeId"`
	DestIP      uint32 `csv:"destIpAsInt"`
	DestPort    uint16 `csv:"destPort"`
	OutPortsRaw string `csv:"outPorts"`
	MetricsRaw  string `csv:"metrics"`
}

// OutPorts parses the space-separated out-port list.
func (r RouteRow) OutPorts() ([]int, error) { return parseIntList(r.OutPortsRaw) }

// Metrics parses the space-separated metric list.
func (r RouteRow) Metrics() ([]int, error) { return parseIntList(r.MetricsRaw) }

// ChannelRow is one transport_channel.csv entry: one TP per endpoint
// of a node pair.
type ChannelRow struct {
	Node1    int `csv:"node1"`
	Port1    int `csv:"port1"`
	TPN1     int `csv:"tpn1"`
	Node2    int `csv:"node2"`
	Port2    int `csv:"port2"`
	TPN2     int `csv:"tpn2"`
	Priority int `csv:"priority"`
	Metric   int `csv:"metric"`
}

// TrafficRow is one traffic.csv entry.
type TrafficRow struct {
	TaskID   uint64 `csv:"taskId"`
	SrcNode  int    `csv:"srcNode"`
	DstNode  int    `csv:"dstNode"`
	DataSize int    `csv:"dataSize"`
	OpType   string `csv:"opType"` // URMA_WRITE, MEM_STORE, MEM_LOAD
	Priority int    `csv:"priority"`
	DelayNs  int64  `csv:"delayNs"`
	PhaseID  int    `csv:"phaseId"`
	DepsRaw  string `csv:"deps"` // space-separated phase ids
}

// Deps parses the space-separated phase-id dependency list. The
// caller is responsible for translating phase ids to task ids once
// all rows have been loaded.
func (r TrafficRow) Deps() ([]int, error) { return parseIntList(r.DepsRaw) }

// FaultRow is one fault.csv entry.
type FaultRow struct {
	TaskID        uint64  `csv:"taskId"`
	FaultType     string  `csv:"faultType"` // DROP, DELAY, CONGESTION, SHUTDOWN, LOWER_RATE, ERROR
	DropPct       float64 `csv:"dropPct"`
	DelayNs       int64   `csv:"delayNs"`
	NodePortRate  string  `csv:"nodePortRate"` // "node port [rate]": node/port for every kind, rate for CONGESTION/LOWER_RATE
	ShutdownRange string  `csv:"shutdownRange"`
	ErrorPct      float64 `csv:"errorPct"`
}

func parseIntList(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	fields := strings.Fields(raw)
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("csvconfig: malformed integer list %q: %w", raw, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func load[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csvconfig: opening %s: %w", path, err)
	}
	defer f.Close()

	var rows []T
	if err := gocsv.Unmarshal(f, &rows); err != nil {
		return nil, fmt.Errorf("csvconfig: parsing %s: %w", path, err)
	}
	return rows, nil
}

// LoadNodes reads node.csv.
func LoadNodes(path string) ([]NodeRow, error) { return load[NodeRow](path) }

// LoadTopology reads topology.csv.
func LoadTopology(path string) ([]TopologyRow, error) { return load[TopologyRow](path) }

// LoadRoutes reads routing_table.csv.
func LoadRoutes(path string) ([]RouteRow, error) { return load[RouteRow](path) }

// LoadChannels reads transport_channel.csv.
func LoadChannels(path string) ([]ChannelRow, error) { return load[ChannelRow](path) }

// LoadTraffic reads traffic.csv.
func LoadTraffic(path string) ([]TrafficRow, error) { return load[TrafficRow](path) }

// LoadFaults reads fault.csv. Missing files are not an error: fault
// injection is optional, per spec.md's "(optional)" annotation.
func LoadFaults(path string) ([]FaultRow, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return load[FaultRow](path)
}
