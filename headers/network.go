package headers

import "fmt"

// CongestionFields is the mode-tagged union carried in the 16-bit
// congestion-control field of both UbNetworkHeader and
// UbCna16NetworkHeader. Only the fields relevant to Mode are meaningful;
// the others are preserved as zero. CAQM (§4.7) is the only algorithm
// implemented; LDCP/DCQCN reserve ModeFecnRtt/ModeFecn as plug-in slots
// per spec.md's Non-goals.
type CongestionFields struct {
	Mode NetworkHeaderMode

	// Mode == ModeCAQM
	Location bool
	Enable   bool
	C        bool
	I        bool
	Hint     uint8 // 8 bits

	// Mode == ModeFecnRtt or ModeFecn
	Timestamp uint16 // 10 bits, ModeFecnRtt only
	Fecn      uint8  // 2 bits
}

func (c CongestionFields) write(w *bitWriter) {
	w.writeBits(uint64(c.Mode), 3)
	switch c.Mode {
	case ModeFecnRtt:
		w.writeBool(c.Location)
		w.writeBits(uint64(c.Timestamp&0x3FF), 10)
		w.writeBits(uint64(c.Fecn&0x3), 2)
	case ModeFecn:
		w.writeBool(c.Location)
		w.writeBits(0, 10)
		w.writeBits(uint64(c.Fecn&0x3), 2)
	default: // ModeCAQM
		w.writeBool(c.Location)
		w.writeBits(0, 1) // reserved
		w.writeBool(c.Enable)
		w.writeBool(c.C)
		w.writeBool(c.I)
		w.writeBits(uint64(c.Hint), 8)
	}
}

func readCongestionFields(r *bitReader) (CongestionFields, error) {
	var c CongestionFields
	mode, err := r.readBits(3)
	if err != nil {
		return c, err
	}
	c.Mode = NetworkHeaderMode(mode)
	switch c.Mode {
	case ModeFecnRtt:
		if c.Location, err = r.readBool(); err != nil {
			return c, err
		}
		ts, err := r.readBits(10)
		if err != nil {
			return c, err
		}
		c.Timestamp = uint16(ts)
		fecn, err := r.readBits(2)
		if err != nil {
			return c, err
		}
		c.Fecn = uint8(fecn)
	case ModeFecn:
		if c.Location, err = r.readBool(); err != nil {
			return c, err
		}
		if _, err = r.readBits(10); err != nil {
			return c, err
		}
		fecn, err := r.readBits(2)
		if err != nil {
			return c, err
		}
		c.Fecn = uint8(fecn)
	default:
		if c.Location, err = r.readBool(); err != nil {
			return c, err
		}
		if _, err = r.readBits(1); err != nil {
			return c, err
		}
		if c.Enable, err = r.readBool(); err != nil {
			return c, err
		}
		if c.C, err = r.readBool(); err != nil {
			return c, err
		}
		if c.I, err = r.readBool(); err != nil {
			return c, err
		}
		hint, err := r.readBits(8)
		if err != nil {
			return c, err
		}
		c.Hint = uint8(hint)
	}
	return c, nil
}

// NetworkHeader is the 6-byte UB network header (an extension of the IP
// header) carried between the datalink and IPv4/UDP layers of a URMA
// packet.
type NetworkHeader struct {
	CC  CongestionFields
	NPI uint32 // 25 bits: Network Partition Identifier
}

const networkHeaderSize = 6

func (h NetworkHeader) SerializedSize() int { return networkHeaderSize }

func (h NetworkHeader) Serialize(buf []byte) int {
	w := newBitWriter(networkHeaderSize)
	h.CC.write(w)
	w.writeBits(0, 7) // reserved
	w.writeBits(uint64(h.NPI&0x1FFFFFF), 25)
	n := copy(buf, w.bytes())
	return n
}

func (h *NetworkHeader) Deserialize(buf []byte) (int, error) {
	if len(buf) < networkHeaderSize {
		return 0, fmt.Errorf("headers: NetworkHeader needs %d bytes, got %d", networkHeaderSize, len(buf))
	}
	r := newBitReader(buf)
	cc, err := readCongestionFields(r)
	if err != nil {
		return 0, err
	}
	h.CC = cc
	if _, err = r.readBits(7); err != nil {
		return 0, err
	}
	npi, err := r.readBits(25)
	if err != nil {
		return 0, err
	}
	h.NPI = uint32(npi)
	return networkHeaderSize, nil
}

// Cna16NetworkHeader is the 8-byte compact network header used for
// UB-MEM (LDST) packets, addressed by 16-bit compact network addresses
// (addr.NodeToCNA16) rather than IPv4.
type Cna16NetworkHeader struct {
	SrcCNA       uint16
	DstCNA       uint16
	CC           CongestionFields
	LB           uint8 // load-balance hash input
	ServiceLevel uint8 // 4 bits
	NLP          uint8 // 3 bits
}

const cna16NetworkHeaderSize = 8

func (h Cna16NetworkHeader) SerializedSize() int { return cna16NetworkHeaderSize }

func (h Cna16NetworkHeader) Serialize(buf []byte) int {
	w := newBitWriter(cna16NetworkHeaderSize)
	w.writeBits(uint64(h.SrcCNA), 16)
	w.writeBits(uint64(h.DstCNA), 16)
	h.CC.write(w)
	w.writeBits(uint64(h.LB), 8)
	w.writeBits(uint64(h.ServiceLevel&0xF), 4)
	w.writeBits(0, 1) // management, not used
	w.writeBits(uint64(h.NLP&0x7), 3)
	n := copy(buf, w.bytes())
	return n
}

func (h *Cna16NetworkHeader) Deserialize(buf []byte) (int, error) {
	if len(buf) < cna16NetworkHeaderSize {
		return 0, fmt.Errorf("headers: Cna16NetworkHeader needs %d bytes, got %d", cna16NetworkHeaderSize, len(buf))
	}
	r := newBitReader(buf)
	scna, err := r.readBits(16)
	if err != nil {
		return 0, err
	}
	h.SrcCNA = uint16(scna)
	dcna, err := r.readBits(16)
	if err != nil {
		return 0, err
	}
	h.DstCNA = uint16(dcna)
	cc, err := readCongestionFields(r)
	if err != nil {
		return 0, err
	}
	h.CC = cc
	lb, err := r.readBits(8)
	if err != nil {
		return 0, err
	}
	h.LB = uint8(lb)
	sl, err := r.readBits(4)
	if err != nil {
		return 0, err
	}
	h.ServiceLevel = uint8(sl)
	if _, err = r.readBits(1); err != nil {
		return 0, err
	}
	nlp, err := r.readBits(3)
	if err != nil {
		return 0, err
	}
	h.NLP = uint8(nlp)
	return cna16NetworkHeaderSize, nil
}
