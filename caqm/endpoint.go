package caqm

import (
	"fmt"
	"math"
	"time"

	"github.com/ubfabric/ubsim/headers"
	"github.com/ubfabric/ubsim/metrics"
	"github.com/ubfabric/ubsim/simkernel"
)

type senderMode int

const (
	slowStart senderMode = iota
	congestionAvoidance
)

type sentInfo struct {
	at   time.Duration
	size int
}

type recvInfo struct {
	size int
	c    bool
	i    bool
	hint uint8
}

// Endpoint combines the sender and receiver CAQM roles bound to one TP
// channel direction pair.
type Endpoint struct {
	node   string
	tpn    int
	params Params
	kernel *simkernel.Kernel

	mode         senderMode
	cwnd         float64
	carry        float64
	outstanding  int
	dataByteSent uint32
	sent         map[uint32]sentInfo
	resetTimer   *simkernel.Event

	recv          map[uint32]recvInfo
	dataByteRecvd uint32
}

// NewEndpoint builds a CAQM sender+receiver pair for one TP channel.
func NewEndpoint(node string, tpn int, p Params, k *simkernel.Kernel) *Endpoint {
	e := &Endpoint{
		node:   node,
		tpn:    tpn,
		params: p,
		kernel: k,
		mode:   slowStart,
		cwnd:   float64(p.InitCwndMtus * p.MTU),
		sent:   make(map[uint32]sentInfo),
		recv:   make(map[uint32]recvInfo),
	}
	e.publishCwnd()
	return e
}

func (e *Endpoint) publishCwnd() {
	metrics.CAQMCwndBytes.WithLabelValues(e.node, tpnLabel(e.tpn)).Set(e.cwnd)
}

func (e *Endpoint) SenderGenNetworkHeader() headers.CongestionFields {
	cf := headers.CongestionFields{Mode: headers.ModeCAQM, Enable: true}
	mtu := float64(e.params.MTU)
	if e.mode == slowStart || e.cwnd < mtu {
		cf.I = true
		cf.C = false
		hint := mtu / float64(e.params.CcUnit)
		cf.Hint = clampHint(hint)
		return cf
	}
	e.carry += e.params.Alpha / e.cwnd * mtu
	if e.carry >= 1 {
		whole := math.Floor(e.carry)
		e.carry -= whole
		cf.I = true
		cf.Hint = clampHint(whole)
	}
	return cf
}

func clampHint(v float64) uint8 {
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}

func (e *Endpoint) SenderUpdateCongestionCtrlData(psn uint32, size int) {
	e.sent[psn] = sentInfo{at: e.kernel.Now(), size: size}
	e.dataByteSent += uint32(size)
}

// SenderRecvAck advances cwnd state from a received cumulative ACK.
// ackedBytes is unused: in-flight is derived directly from
// cetph.AckSequence, the peer's running dataByteRecvd echoed back on
// every ACK, matching original_source's ub-caqm.cc SenderRecvAck
// (m_inFlight = m_dataByteSent - sequence).
func (e *Endpoint) SenderRecvAck(ackedPSN uint32, ackedBytes int, cetph headers.CongestionExtTph) {
	var rtt time.Duration
	if s, ok := e.sent[ackedPSN]; ok {
		rtt = e.kernel.Now() - s.at
		delete(e.sent, ackedPSN)
	}
	inFlight := int64(e.dataByteSent) - int64(cetph.AckSequence)
	if inFlight < 0 {
		inFlight = 0
	}
	e.outstanding = int(inFlight)

	ce := int(cetph.C)
	ie := cetph.I
	mtu := float64(e.params.MTU)

	if ce > 0 || !ie {
		e.mode = congestionAvoidance
		if e.resetTimer != nil {
			e.kernel.Cancel(e.resetTimer)
		}
		if rtt > 0 {
			delay := time.Duration(float64(rtt) * e.params.Theta)
			e.resetTimer = e.kernel.ScheduleAt(delay, func() {
				e.mode = slowStart
			})
		}
	}
	if ie {
		e.cwnd += float64(cetph.Hint)
	}
	if ce >= 1 {
		if e.cwnd > mtu {
			e.cwnd = math.Max(e.cwnd-float64(ce)*e.params.Beta*mtu, mtu/2)
		} else {
			e.cwnd = math.Max(e.cwnd/2, e.params.Gamma*mtu)
		}
	}
	if e.cwnd < mtu {
		e.cwnd = mtu
	}
	e.publishCwnd()
}

func (e *Endpoint) GetRestCwnd() int {
	rest := int(e.cwnd) - e.outstanding
	if rest < 0 {
		return 0
	}
	return rest
}

func (e *Endpoint) RecverRecordPacketData(psn uint32, size int, cc headers.CongestionFields) {
	e.recv[psn] = recvInfo{size: size, c: cc.C, i: cc.Enable && cc.I, hint: cc.Hint}
	e.dataByteRecvd += uint32(size)
	if e.dataByteRecvd > uint32(0.9*math.MaxUint32) {
		e.dataByteRecvd -= 1 << 31
	}
}

func (e *Endpoint) RecverGenAckCeTphHeader(psnStart, psnEnd uint32) headers.CongestionExtTph {
	var ce uint8
	var hintE int
	var ie bool
	for psn := psnStart; psn != psnEnd; psn++ {
		r, ok := e.recv[psn]
		if !ok {
			continue
		}
		if r.c {
			if ce < 255 {
				ce++
			}
		} else if r.i {
			ie = true
			hintE += int(r.hint)
		}
		delete(e.recv, psn)
	}
	return headers.CongestionExtTph{
		AckSequence: e.dataByteRecvd,
		I:           ie,
		C:           ce,
		Hint:        uint16(hintE),
	}
}

// SwitchForwardPacket is a no-op on an endpoint: switch-side marking is
// the role of caqm.Switch.
func (e *Endpoint) SwitchForwardPacket(inPort, outPort int, cc *headers.CongestionFields, size int) {}

func (e *Endpoint) GetTpAckOpcode() headers.TPOpcode { return headers.TPOpcodeAckCETPH }

func tpnLabel(tpn int) string {
	return fmt.Sprintf("%d", tpn)
}
