// Package switchnode implements packet classification and forwarding:
// the switch consults the datalink config nibble to either hand a
// packet to flow control (credit frames), the local TP/LDST endpoints
// (data destined here), or the routing table and VOQ fabric (forward),
// per spec.md §4.5.
package switchnode

import (
	"log"

	"github.com/ubfabric/ubsim/addr"
	"github.com/ubfabric/ubsim/caqm"
	"github.com/ubfabric/ubsim/flowcontrol"
	"github.com/ubfabric/ubsim/headers"
	"github.com/ubfabric/ubsim/metrics"
	"github.com/ubfabric/ubsim/packet"
	"github.com/ubfabric/ubsim/queuemgr"
	"github.com/ubfabric/ubsim/routetable"
	"github.com/ubfabric/ubsim/voq"
)

// TPEndpoint is the local transport-channel demux target for IPv4/URMA
// packets destined at this node.
type TPEndpoint interface {
	RecvDataPacket(p *packet.Packet)
	RecvTPAck(p *packet.Packet)
}

// LDSTEndpoint is the local demux target for UB-MEM/LDST packets
// destined at this node.
type LDSTEndpoint interface {
	RecvDataPacket(p *packet.Packet)
	RecvResponse(p *packet.Packet)
}

// TransmitTrigger lets the switch re-trigger an outbound port's pump
// after enqueueing a forwarded or locally-generated packet.
type TransmitTrigger interface {
	TriggerTransmit()
}

// Switch is one node's classifier/forwarder. It owns the VOQ fabric and
// per-port allocators/flow-control for this node, and knows how to reach
// the node's local TP and LDST endpoints.
type Switch struct {
	NodeID int

	routes *routetable.Table
	qmgrs  map[int]*queuemgr.Manager
	fcs    map[int]flowcontrol.Engine
	ccs    map[int]caqm.Controller
	ports  map[int]TransmitTrigger
	alloc  map[int]*voq.Allocator
	fabric *voq.Fabric

	usePacketSpray   bool
	useShortestPaths bool

	tps  map[uint32]TPEndpoint
	ldst LDSTEndpoint
}

// New builds an empty Switch for node nodeID. Per-port state (queue
// manager, flow control, congestion control, allocator) is registered
// with RegisterPort as the node's topology is assembled.
func New(nodeID int, routes *routetable.Table, usePacketSpray, useShortestPaths bool) *Switch {
	s := &Switch{
		NodeID:           nodeID,
		routes:           routes,
		qmgrs:            make(map[int]*queuemgr.Manager),
		fcs:              make(map[int]flowcontrol.Engine),
		ccs:              make(map[int]caqm.Controller),
		ports:            make(map[int]TransmitTrigger),
		alloc:            make(map[int]*voq.Allocator),
		fabric:           voq.NewFabric(),
		usePacketSpray:   usePacketSpray,
		useShortestPaths: useShortestPaths,
		tps:              make(map[uint32]TPEndpoint),
	}
	// A forwarded packet's ingress reservation (taken in forward, below)
	// is only released once it actually leaves its VOQ slot, not at
	// enqueue time: wire the fabric's drain callback back to the same
	// port's queue manager.
	s.fabric.SetDrainFunc(func(outPort int, vl uint8, size int) {
		if qm, ok := s.qmgrs[outPort]; ok {
			qm.PopIngress(outPort, vl, size)
		}
	})
	return s
}

// RegisterPort attaches the per-port collaborators for outPort.
func (s *Switch) RegisterPort(idx int, qm *queuemgr.Manager, fc flowcontrol.Engine, cc caqm.Controller, alloc *voq.Allocator, tx TransmitTrigger) {
	s.qmgrs[idx] = qm
	s.fcs[idx] = fc
	s.ccs[idx] = cc
	s.alloc[idx] = alloc
	s.ports[idx] = tx
}

// Allocator exposes outPort's allocator so a local producer (an LDST
// thread, a TP channel) can register itself as a pull-model egress
// source, bypassing the VOQ fabric used for forwarded traffic.
func (s *Switch) Allocator(outPort int) *voq.Allocator { return s.alloc[outPort] }

// Routes exposes the node's routing table so the assembler can populate
// it from routing_table.csv and an LDST router can resolve an egress
// port for a locally-originated response.
func (s *Switch) Routes() *routetable.Table { return s.routes }

// RegisterTP makes tpn reachable as a local delivery target.
func (s *Switch) RegisterTP(tpn uint32, ep TPEndpoint) { s.tps[tpn] = ep }

// SetLDST installs the node's local LDST endpoint.
func (s *Switch) SetLDST(ep LDSTEndpoint) { s.ldst = ep }

// PortTransmitComplete implements port.Notifiee: once a packet finishes
// transmitting, its egress byte reservation is released.
func (s *Switch) PortTransmitComplete(outPort int, p *packet.Packet) {
	if p == nil {
		return
	}
	if qm, ok := s.qmgrs[outPort]; ok {
		qm.PopEgress(outPort, p.VL, p.Bytes)
	}
}

// SwitchHandlePacket is the entry point a Port calls once a packet has
// finished crossing the link (spec.md §4.4's "handed directly to
// switch.SwitchHandlePacket").
func (s *Switch) SwitchHandlePacket(inPort int, p *packet.Packet) {
	switch p.Kind {
	case packet.KindControlCredit:
		if fc, ok := s.fcs[inPort]; ok {
			fc.HandleReceivedControlPacket(p.Control)
		}
	case packet.KindIPv4URMA:
		s.handleIPv4(inPort, p)
	case packet.KindUBMemLDST:
		s.handleUBMem(inPort, p)
	default:
		metrics.Drop(metrics.ReasonUnknown)
		log.Printf("switchnode: node %d: unknown packet kind on port %d", s.NodeID, inPort)
	}
}

func (s *Switch) handleIPv4(inPort int, p *packet.Packet) {
	dstNode, _, err := addr.IPv4ToNode(p.DstIP)
	if err != nil {
		metrics.Drop(metrics.ReasonNoRoute)
		log.Printf("switchnode: node %d: unroutable dst IP %v: %v", s.NodeID, p.DstIP, err)
		return
	}
	if dstNode == s.NodeID {
		ep, ok := s.tps[uint32(p.TP.DestTPN)]
		if !ok {
			metrics.Drop(metrics.ReasonNoRoute)
			log.Printf("switchnode: node %d: no local TP for tpn %d", s.NodeID, p.TP.DestTPN)
			return
		}
		if p.Ack() {
			ep.RecvTPAck(p)
		} else {
			ep.RecvDataPacket(p)
		}
		return
	}
	s.forward(inPort, p, routetable.Key{
		Src:      ipToUint32(p.SrcIP),
		Dst:      ipToUint32(p.DstIP),
		SrcPort:  p.SrcPort,
		DstPort:  p.DstPort,
		Priority: p.VL,
	})
}

func (s *Switch) handleUBMem(inPort int, p *packet.Packet) {
	dstNode, _ := addr.CNA16ToNode(p.Cna.DstCNA)
	if dstNode == s.NodeID {
		if s.ldst == nil {
			metrics.Drop(metrics.ReasonNoRoute)
			log.Printf("switchnode: node %d: no local LDST endpoint", s.NodeID)
			return
		}
		switch p.MAE.Opcode {
		case headers.TAOpcodeWrite, headers.TAOpcodeRead:
			s.ldst.RecvDataPacket(p)
		default:
			s.ldst.RecvResponse(p)
		}
		return
	}
	s.forward(inPort, p, routetable.Key{
		Src:      uint32(p.Cna.SrcCNA),
		Dst:      uint32(p.Cna.DstCNA),
		Priority: p.VL,
	})
}

func (s *Switch) forward(inPort int, p *packet.Packet, key routetable.Key) {
	if !s.usePacketSpray {
		key.SrcPort = 0
		key.DstPort = 0
	}
	res, err := s.routes.GetOutPort(key, inPort, s.useShortestPaths)
	if err != nil {
		metrics.Drop(metrics.ReasonNoRoute)
		log.Printf("switchnode: node %d: %v", s.NodeID, err)
		return
	}
	if !res.Shortest {
		p.DL.RoutingPolicy = true
	}

	qm, ok := s.qmgrs[res.OutPort]
	if !ok {
		metrics.Drop(metrics.ReasonNoRoute)
		log.Printf("switchnode: node %d: no queue manager for port %d", s.NodeID, res.OutPort)
		return
	}
	if !qm.CheckIngress(res.OutPort, p.VL, p.Bytes) {
		metrics.Drop(metrics.ReasonAdmission)
		log.Printf("switchnode: node %d: admission failure on port %d vl %d", s.NodeID, res.OutPort, p.VL)
		return
	}

	if cc, ok := s.ccs[res.OutPort]; ok && p.Kind == packet.KindIPv4URMA {
		cc.SwitchForwardPacket(inPort, res.OutPort, &p.Net.CC, p.Bytes)
	}

	qm.PushIngress(res.OutPort, p.VL, p.Bytes)
	qm.PushEgress(res.OutPort, p.VL, p.Bytes)
	s.fabric.Enqueue(s.alloc[res.OutPort], res.OutPort, p.VL, inPort, p)
	if tx, ok := s.ports[res.OutPort]; ok {
		tx.TriggerTransmit()
	}
}

// Originate pushes a packet this node generated itself (an LDST
// write/read-ack, a read-response echo) into the outbound fabric toward
// its destination, exactly as a forwarded packet would enter it. There
// is no originating inPort, so the "came in on this port" exclusion
// doesn't apply; forward is called with inPort -1, a value no real port
// ever holds. Port-spray salting is applied as for forwarded packets.
func (s *Switch) Originate(p *packet.Packet) {
	switch p.Kind {
	case packet.KindIPv4URMA:
		s.forward(-1, p, routetable.Key{
			Src:      ipToUint32(p.SrcIP),
			Dst:      ipToUint32(p.DstIP),
			SrcPort:  p.SrcPort,
			DstPort:  p.DstPort,
			Priority: p.VL,
		})
	case packet.KindUBMemLDST:
		s.forward(-1, p, routetable.Key{
			Src:      uint32(p.Cna.SrcCNA),
			Dst:      uint32(p.Cna.DstCNA),
			Priority: p.VL,
		})
	default:
		metrics.Drop(metrics.ReasonUnknown)
		log.Printf("switchnode: node %d: cannot originate packet kind %v", s.NodeID, p.Kind)
	}
}

func ipToUint32(ip []byte) uint32 {
	if len(ip) == 16 {
		ip = ip[12:]
	}
	if len(ip) != 4 {
		return 0
	}
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}
