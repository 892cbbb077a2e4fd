package groupcast

import (
	"context"

	"github.com/banyan-group/groupcast/membership"
)

// GroupRequest is a handle to one outstanding group call, returned by the
// asynchronous ("WithFuture") facade methods. It generalizes chirp's
// Peer.Call blocking pattern from a single *Response channel to a
// [responseCollector] with N expected responders.
type GroupRequest struct {
	id        uint64
	collector *responseCollector // nil for a GetNone call: there is nothing to wait for
	corr      *correlator
}

// Execute blocks until the request completes — every expected responder has
// answered (or been suspected), the mode's predicate is otherwise satisfied,
// the deadline elapses, or ctx is done — and returns the accumulated
// [RspList]. A GetNone request returns [EmptyRspList] immediately.
//
// If ctx ends before the request otherwise completes, Execute cancels the
// request (as if Done had been called) and returns whatever had been
// collected up to that point, exactly like a deadline expiring.
func (r *GroupRequest) Execute(ctx context.Context) RspList {
	if r.collector == nil {
		return EmptyRspList
	}
	deadline, stop := r.collector.deadlineTimer()
	defer stop()

	select {
	case <-r.collector.wait():
	case <-deadline:
		r.collector.expire()
		r.corr.outstanding.remove(r.id)
	case <-ctx.Done():
		r.corr.done(r.id)
	}
	return r.collector.toRspList()
}

// GetNow returns the request's current accumulated state without blocking.
func (r *GroupRequest) GetNow() RspList {
	if r.collector == nil {
		return EmptyRspList
	}
	return r.collector.toRspList()
}

// IsDone reports whether the request has completed.
func (r *GroupRequest) IsDone() bool {
	return r.collector == nil || r.collector.isDone()
}

// Done cancels the request: the collector completes immediately with
// whatever responses have arrived so far. Calling Done more than once, or
// after the request has already completed on its own, has no effect.
func (r *GroupRequest) Done() {
	if r.collector != nil {
		r.corr.done(r.id)
	}
}

// UnicastRequest is the single-destination specialization of [GroupRequest]
// returned by the unicast facade methods. Unlike a group call, it reports
// its single destination's outcome as a plain (data, error) pair rather
// than an RspList (spec §4.4 "unicast result shape").
type UnicastRequest struct {
	dest  membership.Address
	group *GroupRequest
}

// Execute blocks as [GroupRequest.Execute] does, then unpacks the sole
// destination's slot into a (data, error) result.
func (r *UnicastRequest) Execute(ctx context.Context) ([]byte, error) {
	rsp := r.group.Execute(ctx)
	return unicastResult(rsp, r.dest)
}

// GetNow is the non-blocking counterpart of Execute.
func (r *UnicastRequest) GetNow() ([]byte, error) {
	rsp := r.group.GetNow()
	return unicastResult(rsp, r.dest)
}

// Done cancels the underlying request.
func (r *UnicastRequest) Done() { r.group.Done() }

func unicastResult(rsp RspList, dest membership.Address) ([]byte, error) {
	v, ok := rsp.Get(dest)
	if !ok {
		return nil, ErrInvalidArgument
	}
	switch v.Kind {
	case Value:
		return v.Data, nil
	case Exception:
		return nil, v.Err
	case Suspected:
		return nil, ErrSuspected
	case Unreachable:
		return nil, v.Err
	default: // NotReceived: the deadline elapsed first
		return nil, ErrTimeout
	}
}
