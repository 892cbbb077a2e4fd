package groupcast

import (
	"sync"
	"time"

	"github.com/banyan-group/groupcast/membership"
)

// responseCollector is the per-request bookkeeping described in spec §3/§4.3:
// it tracks expected responders, records arriving responses, decides
// completion per mode, and wakes waiters exactly once.
//
// Its shape is the group generalization of chirp's "pending" channel plus
// the bookkeeping chirp's Peer keeps in p.ocall: there, one outstanding
// call has exactly one expected responder; here it has N.
type responseCollector struct {
	id       uint64
	mode     ResponseMode
	filter   ResponseFilter
	deadline time.Time // zero means no deadline

	mu        sync.Mutex
	expected  []membership.Address
	responses map[membership.Address]Response
	initialN  int
	done      bool
	doneCh    chan struct{}
}

// newResponseCollector builds a collector expecting exactly dests, in send
// order.
func newResponseCollector(id uint64, dests []membership.Address, opts RequestOptions) *responseCollector {
	c := &responseCollector{
		id:        id,
		mode:      opts.Mode(),
		filter:    opts.Filter(),
		expected:  append([]membership.Address(nil), dests...),
		responses: make(map[membership.Address]Response, len(dests)),
		initialN:  len(dests),
		doneCh:    make(chan struct{}),
	}
	if opts.Timeout() > 0 {
		c.deadline = time.Now().Add(opts.Timeout())
	}
	for _, a := range dests {
		c.responses[a] = Response{Kind: NotReceived}
	}
	return c
}

// record applies a response from "from" and reports whether the collector
// transitioned to complete as a result. A response for an address not in
// the expected set, or arriving after completion, is discarded (spec §5
// "late responder").
func (c *responseCollector) record(from membership.Address, rsp Response) (justCompleted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return false
	}
	if _, expected := c.responses[from]; !expected {
		return false
	}

	if c.filter != nil {
		accept, forceComplete := c.filter.Accept(from, rsp)
		if accept {
			rsp.received = true
			c.responses[from] = rsp
		}
		if forceComplete {
			return c.completeLocked()
		}
		if !accept {
			return false
		}
	} else {
		c.responses[from] = rsp
	}

	if c.satisfiedLocked() {
		return c.completeLocked()
	}
	return false
}

// suspect marks addr Suspected if it is expected and still NotReceived, and
// reports whether the collector completed as a result (spec §4.3 "View &
// suspect handling").
func (c *responseCollector) suspect(addr membership.Address) (justCompleted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return false
	}
	cur, expected := c.responses[addr]
	if !expected || cur.Kind != NotReceived {
		return false
	}
	c.responses[addr] = Response{Kind: Suspected, received: true}
	if c.satisfiedLocked() {
		return c.completeLocked()
	}
	return false
}

// applyView marks every expected address missing from v Suspected
// (idempotent: only addresses still NotReceived are touched), and reports
// whether the collector completed as a result (spec §3 invariants, §4.3).
func (c *responseCollector) applyView(v membership.View) (justCompleted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return false
	}
	changed := false
	for _, a := range c.expected {
		if v.Contains(a) {
			continue
		}
		if cur := c.responses[a]; cur.Kind == NotReceived {
			c.responses[a] = Response{Kind: Suspected, received: true}
			changed = true
		}
	}
	if changed && c.satisfiedLocked() {
		return c.completeLocked()
	}
	return false
}

// expire forces completion on deadline, leaving any still-NotReceived slots
// untouched (spec §5 "Cancellation & timeouts").
func (c *responseCollector) expire() (justCompleted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return false
	}
	return c.completeLocked()
}

// cancel is the explicit done(id) path: complete with whatever has arrived
// so far, idempotently.
func (c *responseCollector) cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.completeLocked()
}

// satisfiedLocked evaluates the completion predicate table in spec §4.3.
// Callers must hold c.mu.
func (c *responseCollector) satisfiedLocked() bool {
	switch c.mode {
	case GetNone:
		return true
	case GetFirst:
		for _, a := range c.expected {
			if r := c.responses[a]; r.Kind == Value || r.Kind == Exception {
				return true
			}
		}
		return false
	case GetMajority:
		need := c.initialN/2 + 1
		n := 0
		for _, a := range c.expected {
			if c.responses[a].Received() {
				n++
			}
		}
		return n >= need
	case GetAll:
		for _, a := range c.expected {
			if !c.responses[a].Received() {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// completeLocked transitions the collector to done and wakes waiters.
// Callers must hold c.mu. It is safe to call more than once; only the first
// call has any effect (spec §4.3 "Complete is entered exactly once").
func (c *responseCollector) completeLocked() bool {
	if c.done {
		return false
	}
	c.done = true
	close(c.doneCh)
	return true
}

// isDone reports whether the collector has completed.
func (c *responseCollector) isDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// wait returns a channel that is closed when the collector completes. It
// does not block and does not watch the deadline; see deadlineTimer.
func (c *responseCollector) wait() <-chan struct{} { return c.doneCh }

// deadlineTimer returns a channel that fires at c's deadline, or nil if no
// deadline was set.
func (c *responseCollector) deadlineTimer() (<-chan time.Time, func()) {
	if c.deadline.IsZero() {
		return nil, func() {}
	}
	t := time.NewTimer(time.Until(c.deadline))
	return t.C, func() { t.Stop() }
}

// toRspList renders the collector's current state as an RspList, in send
// order.
func (c *responseCollector) toRspList() RspList {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := NewRspList(c.expected)
	for _, a := range c.expected {
		r.set(a, c.responses[a])
	}
	return r
}
