package headers

import "fmt"

// DatalinkPacketHeader is the 4-byte (32-bit) datalink packet header
// carried on every data-plane frame, bit layout from
// original_source/.../ub-header.h (UbDatalinkPacketHeader):
//
//	byte0: [Credit:1][ACK:1][CreditTargetVL:4][Reserve:1][PacketVL hi:1]
//	byte1: [PacketVL lo:3][Reserve:1][Config:4]
//	byte2: [LoadBalanceMode:1][RoutingPolicy:1][tail:6 reserved]
//	byte3: [tail:8 reserved]
type DatalinkPacketHeader struct {
	Credit          bool
	ACK             bool
	CreditTargetVL  uint8 // 4 bits
	PacketVL        uint8 // 4 bits
	LoadBalanceMode bool  // false=per-flow, true=per-packet
	RoutingPolicy   bool  // false=all-paths, true=shortest-paths

	// Tail carries the 14 reserved bits (packet-length-in-block,
	// last-block-length, tail-payload-length) that the original treats
	// as always-zero filler; preserved verbatim on round-trip per
	// spec.md's "unknown but reserved bits" invariant.
	Tail uint16
}

const datalinkPacketHeaderSize = 4

func (h DatalinkPacketHeader) SerializedSize() int { return datalinkPacketHeaderSize }

func (h DatalinkPacketHeader) Serialize(buf []byte) int {
	w := newBitWriter(datalinkPacketHeaderSize)
	w.writeBool(h.Credit)
	w.writeBool(h.ACK)
	w.writeBits(uint64(h.CreditTargetVL&0xF), 4)
	w.writeBits(0, 1) // reserved
	w.writeBits(uint64((h.PacketVL>>3)&0x1), 1)
	w.writeBits(uint64(h.PacketVL&0x7), 3)
	w.writeBits(0, 1) // reserved
	w.writeBits(uint64(ConfigIPv4), 4)
	w.writeBool(h.LoadBalanceMode)
	w.writeBool(h.RoutingPolicy)
	w.writeBits(uint64(h.Tail&0x3FFF), 14)
	n := copy(buf, w.bytes())
	return n
}

func (h *DatalinkPacketHeader) Deserialize(buf []byte) (int, error) {
	if len(buf) < datalinkPacketHeaderSize {
		return 0, fmt.Errorf("headers: DatalinkPacketHeader needs %d bytes, got %d", datalinkPacketHeaderSize, len(buf))
	}
	r := newBitReader(buf)
	var err error
	if h.Credit, err = r.readBool(); err != nil {
		return 0, err
	}
	if h.ACK, err = r.readBool(); err != nil {
		return 0, err
	}
	vlTarget, err := r.readBits(4)
	if err != nil {
		return 0, err
	}
	h.CreditTargetVL = uint8(vlTarget)
	if _, err = r.readBits(1); err != nil {
		return 0, err
	}
	vlHi, err := r.readBits(1)
	if err != nil {
		return 0, err
	}
	vlLo, err := r.readBits(3)
	if err != nil {
		return 0, err
	}
	h.PacketVL = uint8(vlHi<<3 | vlLo)
	if _, err = r.readBits(1); err != nil {
		return 0, err
	}
	if _, err = r.readBits(4); err != nil { // config, dispatch already done by caller
		return 0, err
	}
	if h.LoadBalanceMode, err = r.readBool(); err != nil {
		return 0, err
	}
	if h.RoutingPolicy, err = r.readBool(); err != nil {
		return 0, err
	}
	tail, err := r.readBits(14)
	if err != nil {
		return 0, err
	}
	h.Tail = uint16(tail)
	return datalinkPacketHeaderSize, nil
}

// GetConfig always returns ConfigIPv4: this header kind is only used for
// URMA/IPv4-carrying frames; UB-MEM frames use Cna16NetworkHeader instead
// and control/credit frames use DatalinkControlCreditHeader.
func (h DatalinkPacketHeader) GetConfig() DatalinkConfig { return ConfigIPv4 }

// DatalinkControlCreditHeader is the 40-byte link control/credit frame
// (LCH), used both for CBFC credit grants and PFC permission updates.
// Layout from ub-header.h (UbDatalinkControlCreditHeader), with the
// 16 per-VL credit values packed as spec.md §6 resolves it: "16 six-bit
// credit counters packed as four groups of 24 bits each, big-endian."
type DatalinkControlCreditHeader struct {
	SD         bool // true: credit-initiation handshake in progress
	Type       bool // when SD, true means initiation completed
	AckNumber  uint16
	CreditsVL  [UBPriorityNumDefault]uint8 // 6-bit values, 0-63
}

const (
	datalinkControlCreditHeaderSize = 40
	datalinkControlCreditUsedBytes  = 18
)

func (h DatalinkControlCreditHeader) SerializedSize() int { return datalinkControlCreditHeaderSize }

func (h DatalinkControlCreditHeader) Serialize(buf []byte) int {
	w := newBitWriter(datalinkControlCreditHeaderSize)
	w.writeBits(0, 1)       // first bit, fixed 0
	w.writeBits(0x01, 5)    // length, fixed 00001
	w.writeBits(0x20>>4, 2) // top 2 bits of fixed pattern 100000
	w.writeBits(0x20&0xF, 4)
	w.writeBits(0, 4) // config, fixed 0000
	w.writeBits(0x2, 4)
	w.writeBits(0x4, 4)
	w.writeBool(h.SD)
	w.writeBits(0, 6) // reserved
	w.writeBool(h.Type)
	w.writeBits(uint64(h.AckNumber), 16)
	for i := 0; i < UBPriorityNumDefault; i++ {
		w.writeBits(uint64(h.CreditsVL[i]&0x3F), 6)
	}
	// Reserved tail, filled with zero.
	w.writeBits(0, (datalinkControlCreditHeaderSize-datalinkControlCreditUsedBytes)*8)
	n := copy(buf, w.bytes())
	return n
}

func (h *DatalinkControlCreditHeader) Deserialize(buf []byte) (int, error) {
	if len(buf) < datalinkControlCreditHeaderSize {
		return 0, fmt.Errorf("headers: DatalinkControlCreditHeader needs %d bytes, got %d", datalinkControlCreditHeaderSize, len(buf))
	}
	r := newBitReader(buf)
	if _, err := r.readBits(1+5+6+4+4+4); err != nil { // fixed preamble + control/subcontrol + config
		return 0, err
	}
	var err error
	if h.SD, err = r.readBool(); err != nil {
		return 0, err
	}
	if _, err = r.readBits(6); err != nil {
		return 0, err
	}
	if h.Type, err = r.readBool(); err != nil {
		return 0, err
	}
	ack, err := r.readBits(16)
	if err != nil {
		return 0, err
	}
	h.AckNumber = uint16(ack)
	for i := 0; i < UBPriorityNumDefault; i++ {
		v, err := r.readBits(6)
		if err != nil {
			return 0, err
		}
		h.CreditsVL[i] = uint8(v)
	}
	return datalinkControlCreditHeaderSize, nil
}
