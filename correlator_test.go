package groupcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/banyan-group/groupcast/membership"
	"go.uber.org/zap"
)

// recordingChannel is a fake Channel that records every Send and lets the
// test script deliver events directly, without any real network or
// goroutine involved.
type recordingChannel struct {
	mu        sync.Mutex
	local     membership.Address
	view      membership.View
	sent      []*Message
	sendErr   error
	multicast bool
}

func (c *recordingChannel) Send(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingChannel) LocalAddress() membership.Address { return c.local }
func (c *recordingChannel) View() membership.View             { return c.view }
func (c *recordingChannel) DiscardOwnMessages() bool          { return true }
func (c *recordingChannel) SupportsMulticast() bool           { return c.multicast }
func (c *recordingChannel) IsConnected() bool                 { return true }
func (c *recordingChannel) SetUpHandler(UpHandler)            {}

func (c *recordingChannel) sentMessages() []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Message(nil), c.sent...)
}

// failingNthChannel fails the send whose zero-based index among all Send
// calls equals failOn, and records every message (including the failed
// one) for inspection.
type failingNthChannel struct {
	mu     sync.Mutex
	failOn int
	n      int
	sent   []*Message
}

func (c *failingNthChannel) Send(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.n
	c.n++
	c.sent = append(c.sent, msg)
	if idx == c.failOn {
		return errSendBoom
	}
	return nil
}

func (c *failingNthChannel) LocalAddress() membership.Address { return membership.Address{} }
func (c *failingNthChannel) View() membership.View             { return membership.View{} }
func (c *failingNthChannel) DiscardOwnMessages() bool          { return true }
func (c *failingNthChannel) SupportsMulticast() bool           { return false }
func (c *failingNthChannel) IsConnected() bool                 { return true }
func (c *failingNthChannel) SetUpHandler(UpHandler)            {}

var errSendBoom = errors.New("boom")

func newTestCorrelator(ch Channel) *correlator {
	tracker := &membership.Tracker{}
	return newCorrelator(ch, tracker, NewRpcStats("test"), zap.NewNop())
}

func TestCorrelatorMulticastSendsOneMessage(t *testing.T) {
	ch := &recordingChannel{multicast: true}
	c := newTestCorrelator(ch)
	defer c.stop()

	dests := addrs("a", "b", "c")
	id, col, err := c.dispatchOutgoing(dests, []byte("payload"), Sync().WithMode(GetAll), true)
	if err != nil {
		t.Fatalf("dispatchOutgoing: %v", err)
	}
	if col == nil {
		t.Fatal("expected a collector for GetAll")
	}
	sent := ch.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1 (single multicast)", len(sent))
	}
	if !sent[0].Dest.IsZero() {
		t.Errorf("multicast message Dest = %v, want zero", sent[0].Dest)
	}
	hdr, _, err := DecodeHeader(sent[0].Payload)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if hdr.RequestID != id {
		t.Errorf("header request id = %d, want %d", hdr.RequestID, id)
	}
}

func TestCorrelatorAnycastWithoutAddressesSendsPerDestination(t *testing.T) {
	ch := &recordingChannel{multicast: true}
	c := newTestCorrelator(ch)
	defer c.stop()

	dests := addrs("a", "b")
	_, _, err := c.dispatchOutgoing(dests, []byte("x"), Sync().WithAnycasting(true), true)
	if err != nil {
		t.Fatalf("dispatchOutgoing: %v", err)
	}
	sent := ch.sentMessages()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2 (one per anycast destination)", len(sent))
	}
	for i, m := range sent {
		if m.Dest != dests[i] {
			t.Errorf("sent[%d].Dest = %v, want %v", i, m.Dest, dests[i])
		}
	}
}

func TestCorrelatorAnycastWithAddressesSendsOneMessage(t *testing.T) {
	ch := &recordingChannel{multicast: true}
	c := newTestCorrelator(ch)
	defer c.stop()

	dests := addrs("a", "b")
	opts := Sync().WithAnycasting(true).WithAnycastAddresses(true)
	_, _, err := c.dispatchOutgoing(dests, []byte("x"), opts, true)
	if err != nil {
		t.Fatalf("dispatchOutgoing: %v", err)
	}
	sent := ch.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1 (one message carrying AnycastDests)", len(sent))
	}
	if len(sent[0].AnycastDests) != 2 {
		t.Errorf("AnycastDests = %v, want 2 entries", sent[0].AnycastDests)
	}
}

func TestCorrelatorMulticastSendFailureAbortsAll(t *testing.T) {
	ch := &recordingChannel{multicast: true, sendErr: errSendBoom}
	c := newTestCorrelator(ch)
	defer c.stop()

	dests := addrs("a", "b")
	id, _, err := c.dispatchOutgoing(dests, []byte("x"), Sync().WithMode(GetAll), true)
	if err == nil {
		t.Fatal("expected a SendFailure")
	}
	if _, ok := c.outstanding.get(id); ok {
		t.Error("collector should have been removed from the outstanding table on abort")
	}
}

func TestCorrelatorPerDestinationSendFailureRecordsExceptionAndContinues(t *testing.T) {
	ch := &failingNthChannel{failOn: 0}
	c := newTestCorrelator(ch)
	defer c.stop()

	dests := addrs("a", "b")
	id, col, err := c.dispatchOutgoing(dests, []byte("x"), Sync().WithMode(GetAll), true)
	if err != nil {
		t.Fatalf("dispatchOutgoing: %v", err)
	}
	// The failed leg (dests[0]) records an Exception immediately; the
	// collector remains outstanding waiting on dests[1].
	if _, ok := c.outstanding.get(id); !ok {
		t.Fatal("collector should remain outstanding after only one of two legs failed")
	}
	got, ok := col.toRspList().Get(dests[0])
	if !ok || got.Kind != Exception {
		t.Errorf("dests[0] slot = %+v (ok=%v), want Exception", got, ok)
	}
	other, ok := col.toRspList().Get(dests[1])
	if !ok || other.Kind != NotReceived {
		t.Errorf("dests[1] slot = %+v (ok=%v), want NotReceived", other, ok)
	}
}

func TestCorrelatorIncomingRequestDispatchesToHandlerAndReplies(t *testing.T) {
	ch := &recordingChannel{}
	c := newTestCorrelator(ch)
	defer c.stop()

	from := membership.New("caller")
	received := make(chan *Request, 1)
	c.setHandler(func(_ context.Context, req *Request) ([]byte, error) {
		received <- req
		return []byte("reply-data"), nil
	})

	hdr := Header{RequestID: 7, Kind: KindReq, RspExpected: true, CorrID: c.corrID}
	consumed, err := c.Up(Event{Type: EventMsg, Msg: &Message{Src: from, Payload: EncodeMessage(hdr, []byte("hi"))}})
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if !consumed {
		t.Fatal("Up should report a recognized REQ message as consumed")
	}

	select {
	case req := <-received:
		if req.From != from || string(req.Data) != "hi" {
			t.Errorf("handler saw %+v, want From=%v Data=%q", req, from, "hi")
		}
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	c.stop() // wait for the pooled reply goroutine before inspecting sent messages
	sent := ch.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d reply messages, want 1", len(sent))
	}
	rh, body, err := DecodeHeader(sent[0].Payload)
	if err != nil {
		t.Fatalf("DecodeHeader(reply): %v", err)
	}
	if rh.Kind != KindRsp || string(body) != "reply-data" {
		t.Errorf("reply = %+v %q, want KindRsp %q", rh, body, "reply-data")
	}
}

func TestCorrelatorIncomingRequestWithNoHandlerRepliesInvalidArgument(t *testing.T) {
	ch := &recordingChannel{}
	c := newTestCorrelator(ch)
	defer c.stop()

	hdr := Header{RequestID: 1, Kind: KindReq, RspExpected: true, CorrID: c.corrID}
	if _, err := c.Up(Event{Type: EventMsg, Msg: &Message{Src: membership.New("x"), Payload: EncodeMessage(hdr, nil)}}); err != nil {
		t.Fatalf("Up: %v", err)
	}

	sent := ch.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	rh, _, err := DecodeHeader(sent[0].Payload)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if rh.Kind != KindExceptionRsp {
		t.Errorf("reply kind = %v, want KindExceptionRsp", rh.Kind)
	}
}

func TestCorrelatorResponseCompletesCollector(t *testing.T) {
	ch := &recordingChannel{multicast: true}
	c := newTestCorrelator(ch)
	defer c.stop()

	dests := addrs("a", "b")
	id, col, err := c.dispatchOutgoing(dests, []byte("x"), Sync().WithMode(GetAll), true)
	if err != nil {
		t.Fatalf("dispatchOutgoing: %v", err)
	}

	respHdr := Header{RequestID: id, Kind: KindRsp, CorrID: c.corrID}
	for _, d := range dests {
		if _, err := c.Up(Event{Type: EventMsg, Msg: &Message{Src: d, Payload: EncodeMessage(respHdr, []byte("ok"))}}); err != nil {
			t.Fatalf("Up: %v", err)
		}
	}
	if !col.isDone() {
		t.Error("collector should be complete once every destination has responded")
	}
	if _, ok := c.outstanding.get(id); ok {
		t.Error("completed collector should have been removed from the outstanding table")
	}
}

func TestCorrelatorLateResponseIsCounted(t *testing.T) {
	ch := &recordingChannel{}
	c := newTestCorrelator(ch)
	defer c.stop()

	hdr := Header{RequestID: 999, Kind: KindRsp, CorrID: c.corrID}
	if _, err := c.Up(Event{Type: EventMsg, Msg: &Message{Src: membership.New("a"), Payload: EncodeMessage(hdr, nil)}}); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if got := c.stats.LateResponses(); got != 1 {
		t.Errorf("LateResponses() = %d, want 1", got)
	}
}

func TestCorrelatorMessageWithWrongCorrIDIsNotConsumed(t *testing.T) {
	ch := &recordingChannel{}
	c := newTestCorrelator(ch)
	c.corrID = 5
	defer c.stop()

	hdr := Header{RequestID: 1, Kind: KindReq, CorrID: 6}
	consumed, err := c.Up(Event{Type: EventMsg, Msg: &Message{Payload: EncodeMessage(hdr, nil)}})
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if consumed {
		t.Error("a message for a different corr_id should not be consumed")
	}
}

func TestCorrelatorViewChangeCompletesGetAll(t *testing.T) {
	ch := &recordingChannel{multicast: true}
	c := newTestCorrelator(ch)
	defer c.stop()

	dests := addrs("a", "b")
	id, col, err := c.dispatchOutgoing(dests, []byte("x"), Sync().WithMode(GetAll), true)
	if err != nil {
		t.Fatalf("dispatchOutgoing: %v", err)
	}

	// dests[0] answers first, so the collector is left waiting only on dests[1].
	rspHdr := Header{RequestID: id, Kind: KindRsp, CorrID: c.corrID}
	if _, err := c.Up(Event{Type: EventMsg, Msg: &Message{Src: dests[0], Payload: EncodeMessage(rspHdr, []byte("ok"))}}); err != nil {
		t.Fatalf("Up: %v", err)
	}

	newView := membership.View{ID: 2, Members: []membership.Address{dests[0]}}
	if _, err := c.Up(Event{Type: EventViewChange, View: newView}); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if !col.isDone() {
		t.Error("removing dests[1] from the view should complete a GetAll collector waiting on it")
	}
	if _, ok := c.outstanding.get(id); ok {
		t.Error("completed collector should have been removed")
	}
}
