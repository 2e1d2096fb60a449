package headers

import "fmt"

// TransactionHeader (TAH) is the 8-byte full transaction header carried on
// Write/Read/ReadResponse packets, bit layout from ub-header.h
// (UbTransactionHeader):
//
//	[TAOpcode:8][OrderType:3][IniRcType:2][AckReq:1][Reserved:2]
//	[JettyID:16][TASSN:24][Reserved:8]
type TransactionHeader struct {
	Opcode   TAOpcode
	Order    OrderType
	IniRc    IniRcType
	AckReq   bool
	JettyID  uint16
	TASSN    uint32 // 24 bits: transaction segment sequence number
}

const transactionHeaderSize = 8

func (h TransactionHeader) SerializedSize() int { return transactionHeaderSize }

func (h TransactionHeader) Serialize(buf []byte) int {
	w := newBitWriter(transactionHeaderSize)
	w.writeBits(uint64(h.Opcode), 8)
	w.writeBits(uint64(h.Order&0x7), 3)
	w.writeBits(uint64(h.IniRc&0x3), 2)
	w.writeBool(h.AckReq)
	w.writeBits(0, 2) // reserved
	w.writeBits(uint64(h.JettyID), 16)
	w.writeBits(uint64(h.TASSN&0xFFFFFF), 24)
	w.writeBits(0, 8) // reserved
	n := copy(buf, w.bytes())
	return n
}

func (h *TransactionHeader) Deserialize(buf []byte) (int, error) {
	if len(buf) < transactionHeaderSize {
		return 0, fmt.Errorf("headers: TransactionHeader needs %d bytes, got %d", transactionHeaderSize, len(buf))
	}
	r := newBitReader(buf)
	op, err := r.readBits(8)
	if err != nil {
		return 0, err
	}
	h.Opcode = TAOpcode(op)
	order, err := r.readBits(3)
	if err != nil {
		return 0, err
	}
	h.Order = OrderType(order)
	iniRc, err := r.readBits(2)
	if err != nil {
		return 0, err
	}
	h.IniRc = IniRcType(iniRc)
	if h.AckReq, err = r.readBool(); err != nil {
		return 0, err
	}
	if _, err = r.readBits(2); err != nil {
		return 0, err
	}
	jetty, err := r.readBits(16)
	if err != nil {
		return 0, err
	}
	h.JettyID = uint16(jetty)
	tassn, err := r.readBits(24)
	if err != nil {
		return 0, err
	}
	h.TASSN = uint32(tassn)
	if _, err = r.readBits(8); err != nil {
		return 0, err
	}
	return transactionHeaderSize, nil
}

// CompactTransactionHeader is the 4-byte abbreviated transaction header
// used when the jetty context is implied by the TP channel (spec.md
// §4.4's ROI single-jetty-per-TP mode).
type CompactTransactionHeader struct {
	Opcode TAOpcode
	Order  OrderType
	IniRc  IniRcType
	AckReq bool
	TASSN  uint16
}

const compactTransactionHeaderSize = 4

func (h CompactTransactionHeader) SerializedSize() int { return compactTransactionHeaderSize }

func (h CompactTransactionHeader) Serialize(buf []byte) int {
	w := newBitWriter(compactTransactionHeaderSize)
	w.writeBits(uint64(h.Opcode), 8)
	w.writeBits(uint64(h.Order&0x7), 3)
	w.writeBits(uint64(h.IniRc&0x3), 2)
	w.writeBool(h.AckReq)
	w.writeBits(0, 2) // reserved
	w.writeBits(uint64(h.TASSN), 16)
	n := copy(buf, w.bytes())
	return n
}

func (h *CompactTransactionHeader) Deserialize(buf []byte) (int, error) {
	if len(buf) < compactTransactionHeaderSize {
		return 0, fmt.Errorf("headers: CompactTransactionHeader needs %d bytes, got %d", compactTransactionHeaderSize, len(buf))
	}
	r := newBitReader(buf)
	op, err := r.readBits(8)
	if err != nil {
		return 0, err
	}
	h.Opcode = TAOpcode(op)
	order, err := r.readBits(3)
	if err != nil {
		return 0, err
	}
	h.Order = OrderType(order)
	iniRc, err := r.readBits(2)
	if err != nil {
		return 0, err
	}
	h.IniRc = IniRcType(iniRc)
	if h.AckReq, err = r.readBool(); err != nil {
		return 0, err
	}
	if _, err = r.readBits(2); err != nil {
		return 0, err
	}
	tassn, err := r.readBits(16)
	if err != nil {
		return 0, err
	}
	h.TASSN = uint16(tassn)
	return compactTransactionHeaderSize, nil
}

// AckTransactionHeader is the 8-byte transaction-level acknowledgement
// header, distinct from the transport-level TransportHeader ACK opcode:
// this one acknowledges a WQE/transaction, not a packet.
type AckTransactionHeader struct {
	JettyID uint16
	TASSN   uint32 // 24 bits
}

const ackTransactionHeaderSize = 8

func (h AckTransactionHeader) SerializedSize() int { return ackTransactionHeaderSize }

func (h AckTransactionHeader) Serialize(buf []byte) int {
	w := newBitWriter(ackTransactionHeaderSize)
	w.writeBits(uint64(TAOpcodeTransactionAck), 8)
	w.writeBits(0, 8) // reserved
	w.writeBits(uint64(h.JettyID), 16)
	w.writeBits(uint64(h.TASSN&0xFFFFFF), 24)
	w.writeBits(0, 8) // reserved
	n := copy(buf, w.bytes())
	return n
}

func (h *AckTransactionHeader) Deserialize(buf []byte) (int, error) {
	if len(buf) < ackTransactionHeaderSize {
		return 0, fmt.Errorf("headers: AckTransactionHeader needs %d bytes, got %d", ackTransactionHeaderSize, len(buf))
	}
	r := newBitReader(buf)
	if _, err := r.readBits(16); err != nil { // opcode + reserved
		return 0, err
	}
	jetty, err := r.readBits(16)
	if err != nil {
		return 0, err
	}
	h.JettyID = uint16(jetty)
	tassn, err := r.readBits(24)
	if err != nil {
		return 0, err
	}
	h.TASSN = uint32(tassn)
	if _, err = r.readBits(8); err != nil {
		return 0, err
	}
	return ackTransactionHeaderSize, nil
}

// CompactAckTransactionHeader is the 4-byte abbreviated transaction ack.
type CompactAckTransactionHeader struct {
	TASSN uint16
}

const compactAckTransactionHeaderSize = 4

func (h CompactAckTransactionHeader) SerializedSize() int { return compactAckTransactionHeaderSize }

func (h CompactAckTransactionHeader) Serialize(buf []byte) int {
	w := newBitWriter(compactAckTransactionHeaderSize)
	w.writeBits(uint64(TAOpcodeTransactionAck), 8)
	w.writeBits(0, 8) // reserved
	w.writeBits(uint64(h.TASSN), 16)
	n := copy(buf, w.bytes())
	return n
}

func (h *CompactAckTransactionHeader) Deserialize(buf []byte) (int, error) {
	if len(buf) < compactAckTransactionHeaderSize {
		return 0, fmt.Errorf("headers: CompactAckTransactionHeader needs %d bytes, got %d", compactAckTransactionHeaderSize, len(buf))
	}
	r := newBitReader(buf)
	if _, err := r.readBits(16); err != nil {
		return 0, err
	}
	tassn, err := r.readBits(16)
	if err != nil {
		return 0, err
	}
	h.TASSN = uint16(tassn)
	return compactAckTransactionHeaderSize, nil
}

// DummyTransactionHeader is the 1-byte placeholder transaction header
// carried on bare transport-ACK/control frames that have no transaction
// payload of their own but still need a uniform TAOpcode byte for the
// demultiplexer.
type DummyTransactionHeader struct {
	Opcode TAOpcode
}

const dummyTransactionHeaderSize = 1

func (h DummyTransactionHeader) SerializedSize() int { return dummyTransactionHeaderSize }

func (h DummyTransactionHeader) Serialize(buf []byte) int {
	if len(buf) < dummyTransactionHeaderSize {
		return 0
	}
	buf[0] = byte(h.Opcode)
	return dummyTransactionHeaderSize
}

func (h *DummyTransactionHeader) Deserialize(buf []byte) (int, error) {
	if len(buf) < dummyTransactionHeaderSize {
		return 0, fmt.Errorf("headers: DummyTransactionHeader needs %d bytes, got %d", dummyTransactionHeaderSize, len(buf))
	}
	h.Opcode = TAOpcode(buf[0])
	return dummyTransactionHeaderSize, nil
}
