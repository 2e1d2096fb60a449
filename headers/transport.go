package headers

import "fmt"

// TransportHeader (RTPH) is the 16-byte reliable-transport header that
// carries PSN/MSN sequencing for a TP channel. Layout from ub-header.h
// (UbTransportHeader):
//
//	qword0: [LastPacket:1][TPOpcode:7][TPVer:2][Pad:2][NLP:4][SrcTpn:24][DestTpn:24]
//	qword1: [AckRequest:1][ErrorFlag:1][Reserved:6][PSN:24]
//	qword2: [RspSt:3][RspInfo:5][TPMsn:24]
type TransportHeader struct {
	LastPacket bool
	Opcode     TPOpcode
	NLP        NextLayerProtocol
	SrcTPN     uint32 // 24 bits
	DestTPN    uint32 // 24 bits
	AckRequest bool
	ErrorFlag  bool
	PSN        uint32 // 24 bits
	RspSt      uint8  // 3 bits, reserved for responder status
	RspInfo    uint8  // 5 bits, reserved for responder info
	TPMsn      uint32 // 24 bits
}

const transportHeaderSize = 16

func (h TransportHeader) SerializedSize() int { return transportHeaderSize }

func (h TransportHeader) Serialize(buf []byte) int {
	w := newBitWriter(transportHeaderSize)
	w.writeBool(h.LastPacket)
	w.writeBits(uint64(h.Opcode&0x7F), 7)
	w.writeBits(0, 2) // TP version, fixed 0
	w.writeBits(0, 2) // padding
	w.writeBits(uint64(h.NLP&0xF), 4)
	w.writeBits(uint64(h.SrcTPN&0xFFFFFF), 24)
	w.writeBits(uint64(h.DestTPN&0xFFFFFF), 24)
	w.writeBool(h.AckRequest)
	w.writeBool(h.ErrorFlag)
	w.writeBits(0, 6)
	w.writeBits(uint64(h.PSN&0xFFFFFF), 24)
	w.writeBits(uint64(h.RspSt&0x7), 3)
	w.writeBits(uint64(h.RspInfo&0x1F), 5)
	w.writeBits(uint64(h.TPMsn&0xFFFFFF), 24)
	n := copy(buf, w.bytes())
	return n
}

func (h *TransportHeader) Deserialize(buf []byte) (int, error) {
	if len(buf) < transportHeaderSize {
		return 0, fmt.Errorf("headers: TransportHeader needs %d bytes, got %d", transportHeaderSize, len(buf))
	}
	r := newBitReader(buf)
	var err error
	if h.LastPacket, err = r.readBool(); err != nil {
		return 0, err
	}
	op, err := r.readBits(7)
	if err != nil {
		return 0, err
	}
	h.Opcode = TPOpcode(op)
	if _, err = r.readBits(4); err != nil { // ver + pad
		return 0, err
	}
	nlp, err := r.readBits(4)
	if err != nil {
		return 0, err
	}
	h.NLP = NextLayerProtocol(nlp)
	src, err := r.readBits(24)
	if err != nil {
		return 0, err
	}
	h.SrcTPN = uint32(src)
	dst, err := r.readBits(24)
	if err != nil {
		return 0, err
	}
	h.DestTPN = uint32(dst)
	if h.AckRequest, err = r.readBool(); err != nil {
		return 0, err
	}
	if h.ErrorFlag, err = r.readBool(); err != nil {
		return 0, err
	}
	if _, err = r.readBits(6); err != nil {
		return 0, err
	}
	psn, err := r.readBits(24)
	if err != nil {
		return 0, err
	}
	h.PSN = uint32(psn)
	rspSt, err := r.readBits(3)
	if err != nil {
		return 0, err
	}
	h.RspSt = uint8(rspSt)
	rspInfo, err := r.readBits(5)
	if err != nil {
		return 0, err
	}
	h.RspInfo = uint8(rspInfo)
	msn, err := r.readBits(24)
	if err != nil {
		return 0, err
	}
	h.TPMsn = uint32(msn)
	return transportHeaderSize, nil
}

// IsAckOpcode reports whether Opcode is one of the ACK/SACK variants.
func (h TransportHeader) IsAckOpcode() bool {
	switch h.Opcode {
	case TPOpcodeAckNoCETPH, TPOpcodeAckCETPH, TPOpcodeSackNoCETPH, TPOpcodeSackCETPH:
		return true
	default:
		return false
	}
}

// CarriesCETPH reports whether the opcode implies a CongestionExtTph
// immediately follows the transport header.
func (h TransportHeader) CarriesCETPH() bool {
	return h.Opcode == TPOpcodeAckCETPH || h.Opcode == TPOpcodeSackCETPH
}

// CongestionExtTph (CETPH) is the 8-byte congestion-extended transport
// header CAQM rides on ACK packets, per spec.md §4.7.
type CongestionExtTph struct {
	AckSequence uint32
	Location    bool
	I           bool
	C           uint8  // 8 bits
	Hint        uint16 // 16 bits
}

const congestionExtTphSize = 8

func (h CongestionExtTph) SerializedSize() int { return congestionExtTphSize }

func (h CongestionExtTph) Serialize(buf []byte) int {
	w := newBitWriter(congestionExtTphSize)
	w.writeBits(uint64(h.AckSequence), 32)
	w.writeBits(0, 6) // reserved
	w.writeBool(h.Location)
	w.writeBool(h.I)
	w.writeBits(uint64(h.C), 8)
	w.writeBits(uint64(h.Hint), 16)
	n := copy(buf, w.bytes())
	return n
}

func (h *CongestionExtTph) Deserialize(buf []byte) (int, error) {
	if len(buf) < congestionExtTphSize {
		return 0, fmt.Errorf("headers: CongestionExtTph needs %d bytes, got %d", congestionExtTphSize, len(buf))
	}
	r := newBitReader(buf)
	seq, err := r.readBits(32)
	if err != nil {
		return 0, err
	}
	h.AckSequence = uint32(seq)
	if _, err = r.readBits(6); err != nil {
		return 0, err
	}
	if h.Location, err = r.readBool(); err != nil {
		return 0, err
	}
	if h.I, err = r.readBool(); err != nil {
		return 0, err
	}
	c, err := r.readBits(8)
	if err != nil {
		return 0, err
	}
	h.C = uint8(c)
	hint, err := r.readBits(16)
	if err != nil {
		return 0, err
	}
	h.Hint = uint16(hint)
	return congestionExtTphSize, nil
}
