package caqm

import (
	"math/rand"

	"github.com/ubfabric/ubsim/headers"
	"github.com/ubfabric/ubsim/simkernel"
)

// Switch is the per-outbound-port CAQM switch role: it tracks a credit
// counter against the port's configured rate and ideal queue depth, and
// marks forwarded packets' congestion fields accordingly (spec.md
// §4.7's switch bookkeeping).
type Switch struct {
	params          Params
	kernel          *simkernel.Kernel
	rng             *rand.Rand
	egressBytes     func() int
	rateBytesPerSec float64

	cc              float64
	txSize          float64
	dc              float64
	creditAllocated float64
}

// NewSwitch builds a Switch congestion-control role for one outbound
// port. egressBytes reports the port's current egress-queue occupancy
// in bytes (queuemgr.Manager.EgressBytes summed across VLs), consulted
// on every periodic update.
func NewSwitch(p Params, k *simkernel.Kernel, rateBytesPerSec float64, egressBytes func() int) *Switch {
	s := &Switch{
		params:          p,
		kernel:          k,
		rng:             k.Rand(),
		egressBytes:     egressBytes,
		rateBytesPerSec: rateBytesPerSec,
	}
	s.scheduleUpdate()
	return s
}

func (s *Switch) scheduleUpdate() {
	s.kernel.ScheduleAt(s.params.UpdatePeriod, func() {
		periodSec := s.params.UpdatePeriod.Seconds()
		s.cc = s.params.Lambda * (periodSec*s.rateBytesPerSec - s.txSize + float64(s.params.Qt) - float64(s.egressBytes()) - s.creditAllocated)
		s.txSize = 0
		s.dc = 0
		s.creditAllocated = 0
		s.scheduleUpdate()
	})
}

func (s *Switch) SwitchForwardPacket(inPort, outPort int, cc *headers.CongestionFields, size int) {
	s.txSize += float64(size)
	mtu := float64(s.params.MTU)
	beta := s.params.Beta

	var hint float64
	if cc.Enable && cc.I {
		hint = float64(cc.Hint)
	}

	if cc.C {
		s.cc += beta * mtu
		s.creditAllocated -= beta * mtu
		return
	}
	if s.cc >= hint {
		s.cc -= hint
		s.creditAllocated += hint
		return
	}
	if s.cc >= 0 {
		if s.rng.Float64() < s.params.MarkProb {
			cc.C = true
			cc.I = false
			s.dc += beta * mtu
			return
		}
		if s.dc >= hint {
			s.dc -= hint
		} else {
			cc.I = false
		}
		return
	}
	cc.C = true
	cc.I = false
	s.cc += beta * mtu
}

// The remaining Controller methods are no-ops: a Switch never sends or
// receives WQE-level data, only forwards.
func (s *Switch) SenderGenNetworkHeader() headers.CongestionFields { return headers.CongestionFields{} }
func (s *Switch) SenderUpdateCongestionCtrlData(psn uint32, size int) {}
func (s *Switch) SenderRecvAck(ackedPSN uint32, ackedBytes int, cetph headers.CongestionExtTph) {}
func (s *Switch) GetRestCwnd() int                                              { return int(^uint(0) >> 1) }
func (s *Switch) RecverRecordPacketData(psn uint32, size int, cc headers.CongestionFields) {}
func (s *Switch) RecverGenAckCeTphHeader(psnStart, psnEnd uint32) headers.CongestionExtTph {
	return headers.CongestionExtTph{}
}
func (s *Switch) GetTpAckOpcode() headers.TPOpcode { return headers.TPOpcodeAckCETPH }
