package groupcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/banyan-group/groupcast/membership"
	"github.com/creachadair/taskgroup"
	"go.uber.org/zap"
)

// Request is what a [Handler] or [AsyncHandler] sees for one inbound call.
type Request struct {
	From membership.Address
	Data []byte
}

// Handler processes an inbound request and returns its result in one step.
// It is the group-call analogue of chirp's Handler type.
type Handler func(ctx context.Context, req *Request) ([]byte, error)

// AsyncHandler processes an inbound request and reports its result later,
// on any goroutine, by invoking reply exactly once (spec §4.3 "Dispatch may
// be ... asynchronous"). Calling reply more than once has no effect after
// the first call.
type AsyncHandler func(ctx context.Context, req *Request, reply func(data []byte, err error))

// outstandingTable is the request-id -> responseCollector mapping named in
// spec §3. A collector is present iff it has not yet completed (spec
// invariant).
type outstandingTable struct {
	mu  sync.Mutex
	m   map[uint64]*responseCollector
}

func newOutstandingTable() *outstandingTable {
	return &outstandingTable{m: make(map[uint64]*responseCollector)}
}

func (t *outstandingTable) put(id uint64, c *responseCollector) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[id] = c
}

func (t *outstandingTable) get(id uint64) (*responseCollector, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.m[id]
	return c, ok
}

func (t *outstandingTable) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, id)
}

// snapshot returns every currently outstanding collector, for fan-out of
// view/suspect events.
func (t *outstandingTable) snapshot() []*responseCollector {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*responseCollector, 0, len(t.m))
	for _, c := range t.m {
		out = append(out, c)
	}
	return out
}

// correlator is the RequestCorrelator of spec §4.3: it assigns request ids,
// routes outgoing sends, dispatches incoming requests to the user handler,
// and routes incoming responses and view/suspect events to collectors.
//
// Its outgoing half generalizes chirp's Peer.sendReq (one id, one pending
// channel) to N expected responders per id; its incoming half generalizes
// chirp's Peer.dispatchPacket/dispatchRequestLocked.
type correlator struct {
	corrID  uint16
	tracker *membership.Tracker
	channel Channel
	stats   *RpcStats
	log     atomic.Pointer[zap.Logger]
	tasks   *taskgroup.Group

	nextID atomic.Uint64

	outstanding *outstandingTable

	mu             sync.Mutex
	handler        Handler
	asyncHandler   AsyncHandler
	wrapExceptions bool
}

func newCorrelator(ch Channel, tracker *membership.Tracker, stats *RpcStats, log *zap.Logger) *correlator {
	c := &correlator{
		channel:        ch,
		tracker:        tracker,
		stats:          stats,
		tasks:          taskgroup.New(nil),
		outstanding:    newOutstandingTable(),
		wrapExceptions: true,
	}
	c.log.Store(log)
	return c
}

func (c *correlator) setLogger(l *zap.Logger) { c.log.Store(l) }

func (c *correlator) logger() *zap.Logger { return c.log.Load() }

func (c *correlator) setHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
	c.asyncHandler = nil
}

func (c *correlator) setAsyncHandler(h AsyncHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asyncHandler = h
	c.handler = nil
}

func (c *correlator) setWrapExceptions(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wrapExceptions = v
}

func (c *correlator) stop() { c.tasks.Wait() }

// newID assigns the next request id. Ids are assigned in a single total
// order per correlator (spec §5) and are never reused. The table starts at
// 1 so 0 can serve as a "no id" sentinel.
func (c *correlator) newID() uint64 { return c.nextID.Add(1) }

// dispatchOutgoing sends a request for dests/payload/opts, optionally
// registering a collector (nil for GetNone), and reports the request id
// that was assigned, the collector, and any synchronous send failure.
//
// See DESIGN.md "Send-failure propagation granularity" for the send-failure
// propagation rules this implements.
func (c *correlator) dispatchOutgoing(dests []membership.Address, payload []byte, opts RequestOptions, wantCollector bool) (uint64, *responseCollector, error) {
	id := c.newID()

	var collector *responseCollector
	if wantCollector {
		collector = newResponseCollector(id, dests, opts)
		c.outstanding.put(id, collector)
	}

	hdr := Header{RequestID: id, Kind: KindReq, RspExpected: opts.Mode() != GetNone, CorrID: c.corrID}
	anycast := opts.Anycasting()

	switch {
	case anycast && opts.UseAnycastAddresses():
		msg := &Message{
			Payload:        EncodeMessage(hdr, payload),
			Flags:          opts.Flags(),
			TransientFlags: opts.TransientFlags(),
		}
		msg.Dest = membership.Address{}
		if err := c.sendAnycastAddresses(msg, dests); err != nil {
			c.abortAll(id, collector, dests, err)
			return id, nil, &SendFailure{Dests: dests, Err: err}
		}

	case anycast:
		c.sendPerDestination(id, hdr, payload, opts, dests, collector)

	case len(dests) > 1 && c.channel.SupportsMulticast():
		msg := &Message{
			Dest:           membership.Address{},
			Payload:        EncodeMessage(hdr, payload),
			Flags:          opts.Flags(),
			TransientFlags: opts.TransientFlags(),
		}
		if err := c.channel.Send(msg); err != nil {
			c.abortAll(id, collector, dests, err)
			return id, nil, &SendFailure{Dests: dests, Err: err}
		}

	default:
		c.sendPerDestination(id, hdr, payload, opts, dests, collector)
	}

	return id, collector, nil
}

// sendAnycastAddresses is a hook point for channels that support a single
// message carrying a compact destination list (spec §3 "AnycastAddress").
// The default [Channel] contract delivers it by sending to each address in
// turn, via the channel's own Send.
func (c *correlator) sendAnycastAddresses(msg *Message, dests []membership.Address) error {
	msg.AnycastDests = append([]membership.Address(nil), dests...)
	return c.channel.Send(msg)
}

// sendPerDestination issues one unicast per destination. A send failure on
// one leg is recorded as an Exception for that destination only; sending
// continues to the rest (spec §7: remote/local failures on one responder do
// not abort the others).
func (c *correlator) sendPerDestination(id uint64, hdr Header, payload []byte, opts RequestOptions, dests []membership.Address, collector *responseCollector) {
	for _, d := range dests {
		msg := &Message{
			Dest:           d,
			Payload:        EncodeMessage(hdr, payload),
			Flags:          opts.Flags(),
			TransientFlags: opts.TransientFlags(),
		}
		if err := c.channel.Send(msg); err != nil {
			c.logger().Warn("send failed for destination", zap.Uint64("request_id", id), zap.Stringer("address", d), zap.Error(err))
			if collector != nil {
				if collector.record(d, Response{Kind: Exception, Err: err}) {
					c.outstanding.remove(id)
				}
			}
		}
	}
}

// abortAll completes collector (if any) with Exception for every expected
// destination and removes it from the table — used when a single combined
// send (multicast, or anycast-as-one-message) fails outright.
func (c *correlator) abortAll(id uint64, collector *responseCollector, dests []membership.Address, err error) {
	c.outstanding.remove(id)
	if collector == nil {
		return
	}
	collector.mu.Lock()
	defer collector.mu.Unlock()
	for _, d := range dests {
		if cur, ok := collector.responses[d]; ok && cur.Kind == NotReceived {
			collector.responses[d] = Response{Kind: Exception, Err: err, received: true}
		}
	}
	collector.completeLocked()
}

// done implements the explicit cancel path (spec §4.3 state machine).
func (c *correlator) done(id uint64) {
	collector, ok := c.outstanding.get(id)
	if !ok {
		return // idempotent: already completed/removed
	}
	c.outstanding.remove(id)
	collector.cancel()
}

// Up implements the incoming half of the correlator against the [Channel]
// up-handler contract (spec §6). It reports whether the event was fully
// consumed (a recognized REQ/RSP/EXCEPTION_RSP message) — view and suspect
// events are always reported as not consumed so the owning Dispatcher can
// still forward them to application listeners, matching JGroups'
// MessageDispatcher.handleUpEvent being invoked alongside the correlator's
// own bookkeeping.
func (c *correlator) Up(evt Event) (consumed bool, err error) {
	switch evt.Type {
	case EventMsg:
		hdr, body, derr := DecodeHeader(evt.Msg.Payload)
		if derr != nil {
			return false, nil // not one of ours; let the app see the raw message
		}
		if hdr.CorrID != c.corrID {
			return false, nil
		}
		return true, c.handleMessage(evt.Msg.Src, hdr, body)

	case EventViewChange:
		c.tracker.SetView(evt.View)
		c.applyViewToCollectors(evt.View)
		return false, nil

	case EventSuspect:
		c.applySuspectToCollectors(evt.Suspect)
		return false, nil

	case EventSetLocalAddress:
		c.tracker.SetLocal(evt.Local)
		return false, nil

	default:
		return false, nil
	}
}

// UpBatch dispatches every correlator message in a batch through the same
// path as Up. Messages that are not correlator messages for this corr_id
// are skipped and not reported back to the caller.
func (c *correlator) UpBatch(batch *MessageBatch) error {
	for _, m := range batch.Messages {
		hdr, body, derr := DecodeHeader(m.Payload)
		if derr != nil || hdr.CorrID != c.corrID {
			continue
		}
		if err := c.handleMessage(m.Src, hdr, body); err != nil {
			return err
		}
	}
	return nil
}

func (c *correlator) applyViewToCollectors(v membership.View) {
	for _, col := range c.outstanding.snapshot() {
		if col.applyView(v) {
			c.outstanding.remove(col.id)
		}
	}
}

func (c *correlator) applySuspectToCollectors(addr membership.Address) {
	for _, col := range c.outstanding.snapshot() {
		if col.suspect(addr) {
			c.outstanding.remove(col.id)
		}
	}
}

// handleMessage routes one decoded REQ/RSP/EXCEPTION_RSP message.
func (c *correlator) handleMessage(from membership.Address, hdr Header, body []byte) error {
	switch hdr.Kind {
	case KindReq:
		c.dispatchRequest(from, hdr, body)
		return nil

	case KindRsp, KindExceptionRsp:
		collector, ok := c.outstanding.get(hdr.RequestID)
		if !ok {
			c.stats.lateResponses.Add(1)
			return nil // spec §5: late responder, discarded silently
		}
		rsp := Response{Kind: Value, Data: body}
		if hdr.Kind == KindExceptionRsp {
			rsp = Response{Kind: Exception, Err: &RemoteError{From: from, Err: decodeRemoteError(body)}}
		}
		if collector.record(from, rsp) {
			c.outstanding.remove(hdr.RequestID)
		}
		return nil

	default:
		return nil
	}
}

// dispatchRequest runs the user handler for one inbound REQ, on a pooled
// goroutine so the channel's delivery path is never blocked by handler
// work (chirp does the same with p.tasks.Go for every inbound call).
func (c *correlator) dispatchRequest(from membership.Address, hdr Header, body []byte) {
	c.mu.Lock()
	h, ah := c.handler, c.asyncHandler
	wrap := c.wrapExceptions
	c.mu.Unlock()

	req := &Request{From: from, Data: body}
	ctx := context.Background()

	reply := func(data []byte, err error) {
		if !hdr.RspExpected {
			return
		}
		rh := hdr
		rh.Kind = KindRsp
		payload := data
		if err != nil {
			rh.Kind = KindExceptionRsp
			payload = encodeRemoteError(err, wrap)
		}
		msg := &Message{Dest: from, Payload: EncodeMessage(rh, payload)}
		if serr := c.channel.Send(msg); serr != nil {
			c.logger().Warn("failed to send response", zap.Uint64("request_id", hdr.RequestID), zap.Error(serr))
		}
	}

	switch {
	case ah != nil:
		var once sync.Once
		replyOnce := func(data []byte, err error) { once.Do(func() { reply(data, err) }) }
		c.tasks.Go(func() error {
			runHandlerAsync(ctx, ah, req, replyOnce)
			return nil
		})
	case h != nil:
		c.tasks.Go(func() error {
			data, err := runHandlerSync(ctx, h, req)
			reply(data, err)
			return nil
		})
	default:
		reply(nil, ErrInvalidArgument)
	}
}

// runHandlerSync recovers a handler panic into an error so it cannot take
// down the correlator's goroutine pool (chirp does the same in
// dispatchRequestLocked).
func runHandlerSync(ctx context.Context, h Handler, req *Request) (data []byte, err error) {
	defer func() {
		if x := recover(); x != nil && err == nil {
			err = panicError(x)
		}
	}()
	return h(ctx, req)
}

func runHandlerAsync(ctx context.Context, h AsyncHandler, req *Request, reply func([]byte, error)) {
	defer func() {
		if x := recover(); x != nil {
			reply(nil, panicError(x))
		}
	}()
	h(ctx, req, reply)
}
