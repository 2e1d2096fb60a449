package caqm

import "github.com/ubfabric/ubsim/headers"

// NoOp is the Controller implementation used when UB_CC_ENABLED is
// false, or as the placeholder for the LDCP/DCQCN plug-in slots spec.md
// reserves without implementing (Non-goals). GetRestCwnd returns an
// effectively unbounded window so the transport layer never
// back-pressures on congestion control alone.
type NoOp struct{}

func (NoOp) SenderGenNetworkHeader() headers.CongestionFields {
	return headers.CongestionFields{Mode: headers.ModeCAQM}
}
func (NoOp) SenderUpdateCongestionCtrlData(psn uint32, size int)                        {}
func (NoOp) SenderRecvAck(ackedPSN uint32, ackedBytes int, cetph headers.CongestionExtTph) {}
func (NoOp) GetRestCwnd() int                                                           { return int(^uint(0) >> 1) }
func (NoOp) RecverRecordPacketData(psn uint32, size int, cc headers.CongestionFields)   {}
func (NoOp) RecverGenAckCeTphHeader(psnStart, psnEnd uint32) headers.CongestionExtTph {
	return headers.CongestionExtTph{}
}
func (NoOp) SwitchForwardPacket(inPort, outPort int, cc *headers.CongestionFields, size int) {}
func (NoOp) GetTpAckOpcode() headers.TPOpcode                                                { return headers.TPOpcodeAckNoCETPH }

var (
	_ Controller = (*Endpoint)(nil)
	_ Controller = (*Switch)(nil)
	_ Controller = NoOp{}
)
