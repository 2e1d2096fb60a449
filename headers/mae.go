package headers

import "fmt"

// MAExtTah is the 16-byte full memory-access extended transaction header
// (MAE) that rides LDST Read/Write packets, carrying the target real
// address and remote-access key. Layout from ub-header.h
// (UbMAExtTah):
//
//	[Opcode:8][Length:16][Address:64][RKey:32][Reserved:8]
//
// SPEC_FULL.md §4.x resolves that the simulator's receive path only ever
// inspects the compact form (CompactMAExtTah). This full variant is kept
// for the codec and its round-trip tests; no simulated packet carries it.
type MAExtTah struct {
	Opcode  TAOpcode
	Length  uint16
	Address uint64
	RKey    uint32
}

const maExtTahSize = 16

func (h MAExtTah) SerializedSize() int { return maExtTahSize }

func (h MAExtTah) Serialize(buf []byte) int {
	w := newBitWriter(maExtTahSize)
	w.writeBits(uint64(h.Opcode), 8)
	w.writeBits(uint64(h.Length), 16)
	w.writeBits(h.Address, 64)
	w.writeBits(uint64(h.RKey), 32)
	w.writeBits(0, 8) // reserved
	n := copy(buf, w.bytes())
	return n
}

func (h *MAExtTah) Deserialize(buf []byte) (int, error) {
	if len(buf) < maExtTahSize {
		return 0, fmt.Errorf("headers: MAExtTah needs %d bytes, got %d", maExtTahSize, len(buf))
	}
	r := newBitReader(buf)
	op, err := r.readBits(8)
	if err != nil {
		return 0, err
	}
	h.Opcode = TAOpcode(op)
	length, err := r.readBits(16)
	if err != nil {
		return 0, err
	}
	h.Length = uint16(length)
	addr, err := r.readBits(64)
	if err != nil {
		return 0, err
	}
	h.Address = addr
	rkey, err := r.readBits(32)
	if err != nil {
		return 0, err
	}
	h.RKey = uint32(rkey)
	if _, err = r.readBits(8); err != nil {
		return 0, err
	}
	return maExtTahSize, nil
}

// CompactMAExtTah is the 12-byte compact memory-access extended header
// used for LDST requests targeting a pre-established window, where RKey
// is implied by the jetty/window context rather than carried on-wire.
// This is the only MAE variant the LDST receive path (ldst package)
// inspects; see SPEC_FULL.md's UseCompactMAE disambiguation.
type CompactMAExtTah struct {
	Opcode  TAOpcode
	Length  uint16
	Address uint64
}

const compactMAExtTahSize = 12

func (h CompactMAExtTah) SerializedSize() int { return compactMAExtTahSize }

func (h CompactMAExtTah) Serialize(buf []byte) int {
	w := newBitWriter(compactMAExtTahSize)
	w.writeBits(uint64(h.Opcode), 8)
	w.writeBits(uint64(h.Length), 16)
	w.writeBits(h.Address, 64)
	w.writeBits(0, 8) // reserved
	n := copy(buf, w.bytes())
	return n
}

func (h *CompactMAExtTah) Deserialize(buf []byte) (int, error) {
	if len(buf) < compactMAExtTahSize {
		return 0, fmt.Errorf("headers: CompactMAExtTah needs %d bytes, got %d", compactMAExtTahSize, len(buf))
	}
	r := newBitReader(buf)
	op, err := r.readBits(8)
	if err != nil {
		return 0, err
	}
	h.Opcode = TAOpcode(op)
	length, err := r.readBits(16)
	if err != nil {
		return 0, err
	}
	h.Length = uint16(length)
	addr, err := r.readBits(64)
	if err != nil {
		return 0, err
	}
	h.Address = addr
	if _, err = r.readBits(8); err != nil {
		return 0, err
	}
	return compactMAExtTahSize, nil
}
