// Package hbm models the target-side memory bank a MEM_LOAD/MEM_STORE
// LDST operation ultimately lands on, gated by attrs.KeyHBMEnable. A
// Bank serializes requests with a fixed processing delay, grounded on
// original_source's hbm-bank.{h,cc}; a Controller fans a request out to
// one of N banks by address interleave, grounded on
// hbm-controller.{h,cc}.
package hbm

import (
	"time"

	"github.com/ubfabric/ubsim/simkernel"
)

// Request is one memory access destined for a bank.
type Request struct {
	Address   uint64
	Size      uint32
	IsWrite   bool
	RequestID uint64
}

// Response completes a Request once the bank has processed it.
type Response struct {
	RequestID uint64
}

// Bank is a single HBM bank: one request processed at a time, with a
// fixed ProcessDelay, queueing the rest FIFO exactly as
// HBMBank::ReceiveRequest/FinishProcessing do.
type Bank struct {
	k            *simkernel.Kernel
	processDelay time.Duration

	busy  bool
	queue []queuedRequest
}

type queuedRequest struct {
	req  Request
	done func(Response)
}

// DefaultProcessDelay mirrors HBMBank's "ProcessDelay" attribute
// default of 50 ns.
const DefaultProcessDelay = 50 * time.Nanosecond

// NewBank returns a Bank with the given per-request processing delay.
func NewBank(k *simkernel.Kernel, processDelay time.Duration) *Bank {
	return &Bank{k: k, processDelay: processDelay}
}

// Submit enqueues req, invoking done once it has been processed. If
// the bank is idle the request starts immediately; otherwise it waits
// behind whatever is already queued.
func (b *Bank) Submit(req Request, done func(Response)) {
	if !b.busy {
		b.busy = true
		b.k.ScheduleAt(b.processDelay, func() { b.finish(req, done) })
		return
	}
	b.queue = append(b.queue, queuedRequest{req: req, done: done})
}

func (b *Bank) finish(req Request, done func(Response)) {
	b.busy = false
	done(Response{RequestID: req.RequestID})
	if len(b.queue) > 0 {
		next := b.queue[0]
		b.queue = b.queue[1:]
		b.busy = true
		b.k.ScheduleAt(b.processDelay, func() { b.finish(next.req, next.done) })
	}
}

// Controller fans requests out across a fixed number of banks by
// address interleave, the Go counterpart of
// HBMController::InitializeBanks/SendRequest.
type Controller struct {
	banks []*Bank
}

// NewController builds a Controller with numBanks banks, each using
// processDelay for its per-request processing time.
func NewController(k *simkernel.Kernel, numBanks int, processDelay time.Duration) *Controller {
	c := &Controller{banks: make([]*Bank, numBanks)}
	for i := range c.banks {
		c.banks[i] = NewBank(k, processDelay)
	}
	return c
}

// NumBanks reports how many banks the controller was built with.
func (c *Controller) NumBanks() int { return len(c.banks) }

// bankFor picks the bank owning address by straight interleave on the
// atomic access granule, the controller-side counterpart of
// spec.md's HBM_BANK_ATOMIC_SIZE constant.
const bankAtomicSize = 64

func (c *Controller) bankFor(address uint64) int {
	return int((address / bankAtomicSize) % uint64(len(c.banks)))
}

// SendRequest routes req to the bank address interleaves to, invoking
// done once processed. It is a no-op (matching the original's
// NS_LOG_ERROR-and-return behavior) if no banks are configured.
func (c *Controller) SendRequest(req Request, done func(Response)) {
	if len(c.banks) == 0 {
		return
	}
	bank := c.banks[c.bankFor(req.Address)]
	bank.Submit(req, done)
}
