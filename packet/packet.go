// Package packet defines the in-flight packet representation shared by
// voq, port, switchnode, transport, ldst and urma. Packets carry parsed
// header structs directly (the simulator never serializes a packet to a
// real byte buffer on the data path); headers.Serialize/Deserialize is
// exercised only where spec.md calls for bit-exact on-wire round-trips
// (tracing, header unit tests).
package packet

import (
	"net"

	"github.com/ubfabric/ubsim/headers"
)

// Kind classifies a packet's payload layer, mirroring the datalink
// header's 4-bit config dispatch discriminator (spec.md §4.5).
type Kind int

const (
	KindControlCredit Kind = iota
	KindIPv4URMA
	KindUBMemLDST
)

// Packet is one simulated frame moving through the fabric. Only the
// fields relevant to Kind are populated; others are zero.
type Packet struct {
	ID   uint64
	Kind Kind

	// VL is the packet's virtual lane / priority class, VL_NUM <= 16.
	VL uint8

	// Bytes is the on-wire size used for queue accounting, credit
	// consumption, and transmit-time computation (bytes / line rate).
	Bytes int

	DL headers.DatalinkPacketHeader

	// IPv4 URMA stack (Kind == KindIPv4URMA).
	Net              headers.NetworkHeader
	SrcIP, DstIP     net.IP
	SrcPort, DstPort uint16 // UDP ports, used only for routing-key hashing
	TP               headers.TransportHeader
	CETPH            headers.CongestionExtTph
	HasCETPH         bool
	TA               headers.TransactionHeader
	CompactTA        headers.CompactTransactionHeader
	UseCompactTA     bool

	// UB-MEM LDST stack (Kind == KindUBMemLDST).
	Cna          headers.Cna16NetworkHeader
	MAE          headers.CompactMAExtTah
	UseCompactMAE bool

	// Control/credit frame (Kind == KindControlCredit).
	Control headers.DatalinkControlCreditHeader

	Payload []byte

	// InPort is set by the receiving port before handing the packet to
	// the switch classifier; it never travels on the wire.
	InPort int
}

// Ack reports whether this is a transport-level ACK/SACK/CNP frame
// rather than a reliable-data packet, per TransportHeader.IsAckOpcode.
func (p *Packet) Ack() bool {
	return p.Kind == KindIPv4URMA && p.TP.IsAckOpcode()
}
