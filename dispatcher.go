package groupcast

import (
	"context"
	"sync"

	"github.com/banyan-group/groupcast/membership"
	"go.uber.org/zap"
)

// Dispatcher is the public facade of this package (spec §4.1): it sits on
// top of a [Channel], applies the destination filter to every call, owns
// the [correlator] and [RpcStats], and forwards view/suspect/channel
// lifecycle events to registered listeners. It plays the same role chirp's
// Peer plays for point-to-point calls, generalized to group calls.
//
// A zero Dispatcher is not ready for use; construct one with NewDispatcher.
type Dispatcher struct {
	channel Channel
	tracker *membership.Tracker
	corr    *correlator
	stats   *RpcStats

	mu  sync.Mutex
	log *zap.Logger

	channelListeners *listenerSet[ChannelEventListener]
	viewListeners    *listenerSet[func(membership.View)]
	suspectListeners *listenerSet[func(membership.Address)]
	msgListeners     *listenerSet[MessageListener]
}

// NewDispatcher constructs a Dispatcher over ch and installs itself as ch's
// up-handler. name is used to label the Dispatcher's exported stats.
func NewDispatcher(ch Channel, name string) *Dispatcher {
	tracker := &membership.Tracker{}
	tracker.SetView(ch.View())
	tracker.SetLocal(ch.LocalAddress())

	stats := NewRpcStats(name)
	d := &Dispatcher{
		channel:          ch,
		tracker:          tracker,
		stats:            stats,
		log:              nopLogger,
		channelListeners: newListenerSet[ChannelEventListener](),
		viewListeners:    newListenerSet[func(membership.View)](),
		suspectListeners: newListenerSet[func(membership.Address)](),
		msgListeners:     newListenerSet[MessageListener](),
	}
	d.corr = newCorrelator(ch, tracker, stats, nopLogger)
	ch.SetUpHandler(d)
	return d
}

// --- configuration (spec §2.3 "chainable With* config") ---

// WithLogger installs l as the Dispatcher's logger, replacing the default
// no-op logger. It returns d for chaining.
func (d *Dispatcher) WithLogger(l *zap.Logger) *Dispatcher {
	d.mu.Lock()
	d.log = l
	d.mu.Unlock()
	d.corr.setLogger(l)
	return d
}

// WithHandler installs h as the synchronous request handler, replacing any
// previously installed handler (sync or async).
func (d *Dispatcher) WithHandler(h Handler) *Dispatcher {
	d.corr.setHandler(h)
	return d
}

// WithAsyncHandler installs h as the asynchronous request handler,
// replacing any previously installed handler.
func (d *Dispatcher) WithAsyncHandler(h AsyncHandler) *Dispatcher {
	d.corr.setAsyncHandler(h)
	return d
}

// WithExtendedStats turns the per-destination call-count and average
// round-trip table of the Dispatcher's [RpcStats] on or off. The table is
// filled only through [RpcStats.RecordRoundTrip]; the Dispatcher's own
// calls do not record round trips into it.
func (d *Dispatcher) WithExtendedStats(enable bool) *Dispatcher {
	d.stats.EnableExtendedStats(enable)
	return d
}

// WithCorrID sets the corr_id this Dispatcher stamps on outgoing requests
// and matches on incoming messages, for multiplexing several Dispatchers
// over one shared Channel (see the registry package). The default is 0.
func (d *Dispatcher) WithCorrID(id uint16) *Dispatcher {
	d.corr.corrID = id
	return d
}

// WithWrapExceptions controls whether a handler error's message text is
// sent back to the caller (true, the default) or replaced with a generic
// marker (false) — mirrors JGroups' wrapExceptions(boolean), supplemented
// per spec §4 item 7.
func (d *Dispatcher) WithWrapExceptions(wrap bool) *Dispatcher {
	d.corr.setWrapExceptions(wrap)
	return d
}

func (d *Dispatcher) logger() *zap.Logger {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.log
}

// --- listeners (spec §4 item 5 "OnChannelEvent") ---

// OnChannelEvent registers fn to be called on channel lifecycle
// transitions. The returned function unregisters it.
func (d *Dispatcher) OnChannelEvent(fn ChannelEventListener) (unregister func()) {
	return d.channelListeners.add(fn)
}

// OnViewChange registers fn to be called whenever the channel reports a new
// [membership.View].
func (d *Dispatcher) OnViewChange(fn func(membership.View)) (unregister func()) {
	return d.viewListeners.add(fn)
}

// OnSuspect registers fn to be called whenever the channel reports a
// suspected member.
func (d *Dispatcher) OnSuspect(fn func(membership.Address)) (unregister func()) {
	return d.suspectListeners.add(fn)
}

// OnMessage registers fn to be called for inbound messages the correlator
// did not recognize as one of its own REQ/RSP/EXCEPTION_RSP packets.
func (d *Dispatcher) OnMessage(fn MessageListener) (unregister func()) {
	return d.msgListeners.add(fn)
}

// Stats returns the Dispatcher's RpcStats, for mounting under expvar or a
// Prometheus registry.
func (d *Dispatcher) Stats() *RpcStats { return d.stats }

// LocalAddress reports this node's own address.
func (d *Dispatcher) LocalAddress() membership.Address { return d.tracker.Local() }

// View reports the most recently observed membership snapshot.
func (d *Dispatcher) View() membership.View { return d.tracker.View() }

// Close stops accepting new handler dispatch work and waits for any
// in-flight handler goroutines to finish.
func (d *Dispatcher) Close() error {
	d.channel.SetUpHandler(nil)
	d.corr.stop()
	return nil
}

// --- destination filter (spec §4.2) ---

// filterDestinations applies the ordered rule sequence from spec §4.2: keep
// site addresses and current members (deduplicated) when dests is
// non-nil; otherwise take a full snapshot of the current view; then
// strip the local address if loopback is suppressed; then strip the
// exclusion list.
func (d *Dispatcher) filterDestinations(dests []membership.Address, opts RequestOptions) []membership.Address {
	view := d.tracker.View()

	var real []membership.Address
	if dests == nil {
		real = append(real, view.Members...)
	} else {
		seen := make(map[membership.Address]bool, len(dests))
		for _, a := range dests {
			if !a.IsSite() && !view.Contains(a) {
				continue
			}
			if seen[a] {
				continue
			}
			seen[a] = true
			real = append(real, a)
		}
	}

	if d.channel.DiscardOwnMessages() || opts.TransientFlags()&TransientDontLoopback != 0 {
		real = removeAddress(real, d.tracker.Local())
	}

	for _, ex := range opts.ExclusionList() {
		real = removeAddress(real, ex)
	}
	return real
}

func removeAddress(addrs []membership.Address, target membership.Address) []membership.Address {
	if target.IsZero() {
		return addrs
	}
	out := addrs[:0]
	for _, a := range addrs {
		if a != target {
			out = append(out, a)
		}
	}
	return out
}

func callShape(dests []membership.Address, opts RequestOptions) CallShape {
	switch {
	case len(dests) <= 1:
		return ShapeUnicast
	case opts.Anycasting():
		return ShapeAnycast
	default:
		return ShapeMulticast
	}
}

// --- group calls ---

// CastMessageWithFuture filters dests, sends payload to the result, and
// returns a handle the caller can use to wait for (or poll) the result
// later. If the filtered destination set is empty, the returned request is
// already complete with [EmptyRspList]. A non-nil error means the send
// itself failed synchronously; no collector was left outstanding.
func (d *Dispatcher) CastMessageWithFuture(dests []membership.Address, payload []byte, opts RequestOptions) (*GroupRequest, error) {
	real := d.filterDestinations(dests, opts)
	d.stats.RecordCall(opts.Mode() != GetNone, callShape(real, opts))

	if len(real) == 0 {
		return &GroupRequest{corr: d.corr}, nil
	}

	wantCollector := opts.Mode() != GetNone
	id, collector, err := d.corr.dispatchOutgoing(real, payload, opts, wantCollector)
	if err != nil {
		return nil, err
	}
	return &GroupRequest{id: id, collector: collector, corr: d.corr}, nil
}

// CastMessage is the blocking form of CastMessageWithFuture: it sends and
// waits for ctx to end or the request to complete, whichever comes first.
func (d *Dispatcher) CastMessage(ctx context.Context, dests []membership.Address, payload []byte, opts RequestOptions) (RspList, error) {
	req, err := d.CastMessageWithFuture(dests, payload, opts)
	if err != nil {
		return EmptyRspList, err
	}
	return req.Execute(ctx), nil
}

// --- unicast calls ---

// SendMessageWithFuture is the single-destination specialization of
// CastMessageWithFuture.
func (d *Dispatcher) SendMessageWithFuture(dest membership.Address, payload []byte, opts RequestOptions) (*UnicastRequest, error) {
	if dest.IsZero() {
		return nil, ErrInvalidArgument
	}
	group, err := d.CastMessageWithFuture([]membership.Address{dest}, payload, opts)
	if err != nil {
		return nil, err
	}
	return &UnicastRequest{dest: dest, group: group}, nil
}

// SendMessage is the blocking form of SendMessageWithFuture.
func (d *Dispatcher) SendMessage(ctx context.Context, dest membership.Address, payload []byte, opts RequestOptions) ([]byte, error) {
	req, err := d.SendMessageWithFuture(dest, payload, opts)
	if err != nil {
		return nil, err
	}
	return req.Execute(ctx)
}

// --- UpHandler ---

// Up implements [UpHandler]. It hands recognized correlator messages to the
// correlator, applies view/suspect updates to the tracker, and fans out to
// registered listeners.
func (d *Dispatcher) Up(evt Event) error {
	consumed, err := d.corr.Up(evt)
	if err != nil {
		d.logger().Warn("error handling event", zap.Stringer("type", evt.Type), zap.Error(err))
	}
	if consumed {
		return nil
	}

	defer func() {
		if x := recover(); x != nil {
			d.logger().Warn("listener callback panicked", zap.Stringer("type", evt.Type), zap.Any("panic", x))
		}
	}()

	switch evt.Type {
	case EventMsg:
		for _, fn := range d.msgListeners.snapshot() {
			fn(evt.Msg)
		}
	case EventViewChange:
		for _, fn := range d.viewListeners.snapshot() {
			fn(evt.View)
		}
	case EventSuspect:
		for _, fn := range d.suspectListeners.snapshot() {
			fn(evt.Suspect)
		}
	case EventBlock:
		d.fireChannelEvent(ChannelDisconnected)
	case EventUnblock:
		d.fireChannelEvent(ChannelConnected)
	}
	return nil
}

// UpBatch implements [UpHandler]. Each message in the batch is handled as
// Up handles a single EventMsg.
func (d *Dispatcher) UpBatch(batch *MessageBatch) error {
	for _, m := range batch.Messages {
		if err := d.Up(Event{Type: EventMsg, Msg: m}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) fireChannelEvent(e ChannelEvent) {
	for _, fn := range d.channelListeners.snapshot() {
		fn(e)
	}
}
