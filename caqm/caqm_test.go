package caqm

import (
	"testing"
	"time"

	"github.com/ubfabric/ubsim/headers"
	"github.com/ubfabric/ubsim/simkernel"
)

func TestSlowStartHint(t *testing.T) {
	k := simkernel.New(1)
	p := DefaultParams(1024)
	e := NewEndpoint("n0", 1, p, k)

	cf := e.SenderGenNetworkHeader()
	if !cf.I || cf.C {
		t.Fatalf("expected slow-start to set I=true, C=false, got %+v", cf)
	}
	wantHint := uint8(1024 / p.CcUnit)
	if cf.Hint != wantHint {
		t.Fatalf("Hint = %d, want %d", cf.Hint, wantHint)
	}
}

func TestSenderRecvAckGrowsCwndOnPureIncrease(t *testing.T) {
	k := simkernel.New(1)
	p := DefaultParams(1024)
	e := NewEndpoint("n0", 1, p, k)
	startCwnd := e.GetRestCwnd()

	e.SenderUpdateCongestionCtrlData(0, 512)
	e.SenderRecvAck(0, 512, headers.CongestionExtTph{AckSequence: 512, I: true, C: 0, Hint: 50})

	if e.GetRestCwnd() <= startCwnd {
		t.Fatalf("expected cwnd to grow on a clean ack with I=1, got rest=%d start=%d", e.GetRestCwnd(), startCwnd)
	}
}

func TestSenderRecvAckShrinksCwndOnCongestionSignal(t *testing.T) {
	k := simkernel.New(1)
	p := DefaultParams(1024)
	e := NewEndpoint("n0", 1, p, k)
	e.cwnd = 4096 // well above MTU so the "cwnd > MTU" branch applies

	e.SenderUpdateCongestionCtrlData(0, 512)
	before := e.cwnd
	e.SenderRecvAck(0, 512, headers.CongestionExtTph{AckSequence: 512, I: false, C: 2, Hint: 0})

	if e.cwnd >= before {
		t.Fatalf("expected cwnd to shrink on a marked ack, got %v (was %v)", e.cwnd, before)
	}
	if e.mode != congestionAvoidance {
		t.Fatalf("expected a congestion signal to switch to congestion-avoidance mode")
	}
}

func TestCwndNeverFallsBelowMTU(t *testing.T) {
	k := simkernel.New(1)
	p := DefaultParams(1024)
	e := NewEndpoint("n0", 1, p, k)
	e.cwnd = 100 // below MTU

	e.SenderUpdateCongestionCtrlData(0, 50)
	e.SenderRecvAck(0, 50, headers.CongestionExtTph{AckSequence: 50, I: false, C: 3, Hint: 0})

	if e.cwnd < float64(p.MTU) {
		t.Fatalf("cwnd = %v, want >= MTU (%d)", e.cwnd, p.MTU)
	}
}

func TestInFlightTracksAckSequenceNotAckedBytesArg(t *testing.T) {
	k := simkernel.New(1)
	p := DefaultParams(1024)
	e := NewEndpoint("n0", 1, p, k)

	// Two segments in flight; ackedBytes passed to SenderRecvAck is 0,
	// matching how transport.Channel actually calls it (the cumulative
	// ACK's CETPH.AckSequence is the only source of truth for bytes
	// acked, not a per-call byte count).
	e.SenderUpdateCongestionCtrlData(0, 1024)
	e.SenderUpdateCongestionCtrlData(1, 1024)
	if e.outstanding != 0 {
		t.Fatalf("outstanding should only update on a received ack, got %d", e.outstanding)
	}

	e.SenderRecvAck(0, 0, headers.CongestionExtTph{AckSequence: 1024, I: true, Hint: 1})
	if e.outstanding != 1024 {
		t.Fatalf("outstanding = %d, want 1024 (one segment still unacked)", e.outstanding)
	}

	e.SenderRecvAck(1, 0, headers.CongestionExtTph{AckSequence: 2048, I: true, Hint: 1})
	if e.outstanding != 0 {
		t.Fatalf("outstanding = %d, want 0 once every sent byte is acked", e.outstanding)
	}
	if e.GetRestCwnd() <= 0 {
		t.Fatalf("expected cwnd to free up once in-flight drains to 0, got rest=%d", e.GetRestCwnd())
	}
}

func TestReceiverAggregatesCumulativeAck(t *testing.T) {
	k := simkernel.New(1)
	p := DefaultParams(1024)
	e := NewEndpoint("n0", 1, p, k)

	e.RecverRecordPacketData(10, 100, headers.CongestionFields{Mode: headers.ModeCAQM, Enable: true, I: true, Hint: 20})
	e.RecverRecordPacketData(11, 100, headers.CongestionFields{Mode: headers.ModeCAQM, Enable: true, C: true})
	e.RecverRecordPacketData(12, 100, headers.CongestionFields{Mode: headers.ModeCAQM, Enable: true, I: true, Hint: 5})

	cetph := e.RecverGenAckCeTphHeader(10, 13)
	if cetph.C != 1 {
		t.Fatalf("C = %d, want 1 (one marked packet)", cetph.C)
	}
	if !cetph.I {
		t.Fatalf("expected I=true since at least one unmarked packet had I set")
	}
	if cetph.Hint != 25 {
		t.Fatalf("Hint = %d, want 25 (20+5)", cetph.Hint)
	}

	// Aggregators reset: a second ACK over the same range sees nothing.
	cetph2 := e.RecverGenAckCeTphHeader(10, 13)
	if cetph2.C != 0 || cetph2.I || cetph2.Hint != 0 {
		t.Fatalf("expected aggregators to reset after being consumed, got %+v", cetph2)
	}
}

func TestSwitchCreditMarking(t *testing.T) {
	k := simkernel.New(1)
	p := DefaultParams(1024)
	p.UpdatePeriod = time.Microsecond
	sw := NewSwitch(p, k, 1e9, func() int { return 0 })

	cf := headers.CongestionFields{Mode: headers.ModeCAQM, Enable: true, I: true, Hint: 10}
	sw.cc = 100 // plenty of credit: should deduct without marking
	sw.SwitchForwardPacket(0, 1, &cf, 512)
	if cf.C {
		t.Fatalf("expected no mark while credit is available")
	}

	cf2 := headers.CongestionFields{Mode: headers.ModeCAQM, Enable: true, I: true, Hint: 10}
	sw.cc = -50 // negative credit: must mark
	sw.SwitchForwardPacket(0, 1, &cf2, 512)
	if !cf2.C || cf2.I {
		t.Fatalf("expected a mark (C=1, I=0) when credit is negative, got %+v", cf2)
	}
}

func TestNoOpControllerIsUnbounded(t *testing.T) {
	var c Controller = NoOp{}
	if c.GetRestCwnd() <= 0 {
		t.Fatalf("expected NoOp to report an unbounded positive window")
	}
}
