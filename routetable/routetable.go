// Package routetable maps a destination to shortest and non-shortest
// next-hop port sets, and resolves one concrete output port per packet
// via a salted hash of the packet's flow tuple, per spec.md §3/§4.5.
package routetable

import (
	"fmt"
	"hash/fnv"
)

// Key is the flow tuple used for output-port hashing: (src, dst, srcPort,
// dstPort, priority). Per-flow salting zeroes SrcPort/DstPort so every
// packet of one flow lands on the same port; per-packet salting keeps
// them, spraying packets of one flow across equal-cost ports.
type Key struct {
	Src      uint32
	Dst      uint32
	SrcPort  uint16
	DstPort  uint16
	Priority uint8
}

// Hash returns the FNV-1a 64-bit hash of the tuple, big-endian packed.
func (k Key) Hash() uint64 {
	h := fnv.New64a()
	var buf [13]byte
	buf[0] = byte(k.Src >> 24)
	buf[1] = byte(k.Src >> 16)
	buf[2] = byte(k.Src >> 8)
	buf[3] = byte(k.Src)
	buf[4] = byte(k.Dst >> 24)
	buf[5] = byte(k.Dst >> 16)
	buf[6] = byte(k.Dst >> 8)
	buf[7] = byte(k.Dst)
	buf[8] = byte(k.SrcPort >> 8)
	buf[9] = byte(k.SrcPort)
	buf[10] = byte(k.DstPort >> 8)
	buf[11] = byte(k.DstPort)
	buf[12] = k.Priority
	h.Write(buf[:])
	return h.Sum64()
}

// entry holds the shortest and non-shortest port sets for one destination.
type entry struct {
	shortest    []int
	nonShortest []int
}

// Table is one node's per-destination routing table.
type Table struct {
	dests map[uint32]*entry
}

// New returns an empty Table.
func New() *Table {
	return &Table{dests: make(map[uint32]*entry)}
}

// AddRoute registers outPort as a next hop toward dst, classified as
// shortest or not. Safe to call repeatedly to build up multipath sets.
func (t *Table) AddRoute(dst uint32, outPort int, shortest bool) {
	e, ok := t.dests[dst]
	if !ok {
		e = &entry{}
		t.dests[dst] = e
	}
	if shortest {
		e.shortest = appendUnique(e.shortest, outPort)
	} else {
		e.nonShortest = appendUnique(e.nonShortest, outPort)
	}
}

func appendUnique(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

// Result is the outcome of a GetOutPort lookup.
type Result struct {
	OutPort  int
	Shortest bool
}

// GetOutPort resolves the next-hop port for key toward dst, excluding
// inPort from the candidate set (spec.md's "exclude the input port to
// prevent trivial reflection"). useShortestPath restricts candidates to
// the shortest-path set only; otherwise both sets are combined and
// Result.Shortest records whether the winner happened to be a shortest
// hop. Returns an error if no eligible port exists.
func (t *Table) GetOutPort(key Key, inPort int, useShortestPath bool) (Result, error) {
	e, ok := t.dests[key.Dst]
	if !ok {
		return Result{}, fmt.Errorf("routetable: no route to destination %d", key.Dst)
	}

	var candidates []int
	shortestSet := make(map[int]bool, len(e.shortest))
	for _, p := range e.shortest {
		shortestSet[p] = true
	}

	if useShortestPath {
		candidates = filterExcluding(e.shortest, inPort)
	} else {
		candidates = filterExcluding(append(append([]int{}, e.shortest...), e.nonShortest...), inPort)
	}
	if len(candidates) == 0 {
		return Result{}, fmt.Errorf("routetable: no eligible port to destination %d excluding in-port %d", key.Dst, inPort)
	}

	idx := int(key.Hash() % uint64(len(candidates)))
	chosen := candidates[idx]
	return Result{OutPort: chosen, Shortest: shortestSet[chosen]}, nil
}

func filterExcluding(ports []int, exclude int) []int {
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if p != exclude {
			out = append(out, p)
		}
	}
	return out
}
