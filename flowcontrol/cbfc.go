package flowcontrol

import (
	"github.com/ubfabric/ubsim/headers"
	"github.com/ubfabric/ubsim/metrics"
)

// FlitLengthBytes is the fixed flit size CBFC cell accounting is based
// on (spec.md §4.8).
const FlitLengthBytes = 20

// CBFC is the Credit-Based Flow Control engine: one instance per port,
// tracking per-VL transmit credit (in cells) and credit owed back to the
// peer.
type CBFC struct {
	node          string
	port          int
	vlNum         uint8
	flitsPerCell  int
	dataGrain     int
	controlGrain  int
	crdTxfree     []int
	crdToReturn   []int
}

// NewCBFC builds a CBFC engine with vlNum VLs, each seeded with
// initCredit cells, flitsPerCell flits per cell (a power of two), and
// grain sizes for data/control credit refund batching.
func NewCBFC(node string, port int, vlNum uint8, initCredit, flitsPerCell, dataGrain, controlGrain int) *CBFC {
	c := &CBFC{
		node:         node,
		port:         port,
		vlNum:        vlNum,
		flitsPerCell: flitsPerCell,
		dataGrain:    dataGrain,
		controlGrain: controlGrain,
		crdTxfree:    make([]int, vlNum),
		crdToReturn:  make([]int, vlNum),
	}
	for i := range c.crdTxfree {
		c.crdTxfree[i] = initCredit
	}
	c.publish()
	return c
}

func (c *CBFC) cellsNeeded(size int) int {
	cellBytes := FlitLengthBytes * c.flitsPerCell
	return (size + cellBytes - 1) / cellBytes
}

func (c *CBFC) IsFcLimited(vl uint8) bool {
	if int(vl) >= len(c.crdTxfree) {
		return true
	}
	return c.crdTxfree[vl] <= 0
}

func (c *CBFC) CanSend(vl uint8, size int) bool {
	if int(vl) >= len(c.crdTxfree) {
		return false
	}
	return c.crdTxfree[vl] >= c.cellsNeeded(size)
}

func (c *CBFC) HandleSentPacket(vl uint8, size int) {
	if int(vl) >= len(c.crdTxfree) {
		return
	}
	c.crdTxfree[vl] -= c.cellsNeeded(size)
	if c.crdTxfree[vl] < 0 {
		c.crdTxfree[vl] = 0
	}
	c.publish()
}

// HandleReceivedPacket accumulates the cell cost of a just-received data
// packet into crdToReturn, and once the accumulated amount reaches the
// data grain, emits a control/credit frame refunding whole grains.
func (c *CBFC) HandleReceivedPacket(vl uint8, size int) (headers.DatalinkControlCreditHeader, bool) {
	if int(vl) >= len(c.crdToReturn) {
		return headers.DatalinkControlCreditHeader{}, false
	}
	c.crdToReturn[vl] += c.cellsNeeded(size)
	c.publish()
	if c.crdToReturn[vl] < c.dataGrain {
		return headers.DatalinkControlCreditHeader{}, false
	}
	return c.drainCreditFrame(), true
}

func (c *CBFC) drainCreditFrame() headers.DatalinkControlCreditHeader {
	var h headers.DatalinkControlCreditHeader
	for v := uint8(0); int(v) < len(c.crdToReturn); v++ {
		grains := c.crdToReturn[v] / c.dataGrain
		if grains == 0 {
			continue
		}
		if int(v) < len(h.CreditsVL) {
			h.CreditsVL[v] = uint8(grains)
		}
		c.crdToReturn[v] -= grains * c.dataGrain
	}
	c.publish()
	return h
}

// HandleReceivedControlPacket applies a peer-sent credit frame,
// multiplying each VL's carried grain count by dataGrain and crediting
// it back to crdTxfree.
func (c *CBFC) HandleReceivedControlPacket(h headers.DatalinkControlCreditHeader) {
	for v := 0; v < len(h.CreditsVL) && v < len(c.crdTxfree); v++ {
		if h.CreditsVL[v] == 0 {
			continue
		}
		c.crdTxfree[v] += int(h.CreditsVL[v]) * c.dataGrain
	}
	c.publish()
}

// HandleReleaseOccupiedFlowControl refunds credit reserved for a packet
// that was dropped before transmission, so dropped traffic never leaks
// permanently consumed credit.
func (c *CBFC) HandleReleaseOccupiedFlowControl(vl uint8, size int) {
	if int(vl) >= len(c.crdTxfree) {
		return
	}
	c.crdTxfree[vl] += c.cellsNeeded(size)
	c.publish()
}

func (c *CBFC) publish() {
	for v := range c.crdTxfree {
		metrics.CBFCCreditsFree.WithLabelValues(c.node, portLabel(c.port), vlLabel(uint8(v))).Set(float64(c.crdTxfree[v]))
		metrics.CBFCCreditsToReturn.WithLabelValues(c.node, portLabel(c.port), vlLabel(uint8(v))).Set(float64(c.crdToReturn[v]))
	}
}
