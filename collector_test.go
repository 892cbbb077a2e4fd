package groupcast

import (
	"testing"
	"time"

	"github.com/banyan-group/groupcast/membership"
)

func addrs(names ...string) []membership.Address {
	out := make([]membership.Address, len(names))
	for i, n := range names {
		out[i] = membership.New(n)
	}
	return out
}

func TestCollectorGetFirst(t *testing.T) {
	dests := addrs("a", "b", "c")
	c := newResponseCollector(1, dests, Sync().WithMode(GetFirst))

	if c.record(dests[1], Response{Kind: NotReceived}) {
		t.Fatalf("record(NotReceived) completed the collector")
	}
	if !c.record(dests[0], Response{Kind: Value, Data: []byte("x")}) {
		t.Fatalf("record(Value) did not complete a GetFirst collector")
	}
	if !c.isDone() {
		t.Fatalf("collector not marked done after completion")
	}

	rsp := c.toRspList()
	if rsp.NumReceived() != 1 {
		t.Errorf("NumReceived = %d, want 1", rsp.NumReceived())
	}
}

func TestCollectorGetMajority(t *testing.T) {
	dests := addrs("a", "b", "c", "d", "e")
	c := newResponseCollector(1, dests, Sync().WithMode(GetMajority))

	for i := 0; i < 2; i++ {
		if c.record(dests[i], Response{Kind: Value}) {
			t.Fatalf("completed early after %d responses", i+1)
		}
	}
	if !c.record(dests[2], Response{Kind: Value}) {
		t.Fatalf("3rd of 5 responses should satisfy GetMajority")
	}
}

func TestCollectorGetAllWithSuspect(t *testing.T) {
	dests := addrs("a", "b", "c")
	c := newResponseCollector(1, dests, Sync().WithMode(GetAll))

	if c.record(dests[0], Response{Kind: Value}) {
		t.Fatalf("completed after 1 of 3")
	}
	if c.suspect(dests[1]) {
		t.Fatalf("completed after 2 of 3 (1 value, 1 suspect)")
	}
	if !c.suspect(dests[2]) {
		t.Fatalf("did not complete once every destination resolved")
	}

	rsp := c.toRspList()
	v, _ := rsp.Get(dests[1])
	if v.Kind != Suspected {
		t.Errorf("dests[1] kind = %v, want Suspected", v.Kind)
	}
}

func TestCollectorLateAndUnexpectedResponsesAreDiscarded(t *testing.T) {
	dests := addrs("a", "b")
	c := newResponseCollector(1, dests, Sync().WithMode(GetAll))

	if c.record(membership.New("stranger"), Response{Kind: Value}) {
		t.Fatalf("response from unexpected address should not complete")
	}
	c.record(dests[0], Response{Kind: Value})
	if !c.record(dests[1], Response{Kind: Value}) {
		t.Fatalf("should have completed")
	}
	if c.record(dests[0], Response{Kind: Exception}) {
		t.Fatalf("late response after completion should not re-trigger completion")
	}
}

func TestCollectorApplyViewIsIdempotent(t *testing.T) {
	dests := addrs("a", "b")
	c := newResponseCollector(1, dests, Sync().WithMode(GetAll))

	empty := membership.View{ID: 1}
	if !c.applyView(empty) {
		t.Fatalf("removing every destination from the view should complete a GetAll collector")
	}
	// A second apply after completion must not panic or double-close doneCh.
	if c.applyView(empty) {
		t.Fatalf("applyView after completion should report no further transition")
	}
}

func TestCollectorFilterCanForceComplete(t *testing.T) {
	dests := addrs("a", "b", "c")
	filter := ResponseFilterFunc(func(from membership.Address, rsp Response) (accept, complete bool) {
		return true, from == membership.New("a")
	})
	c := newResponseCollector(1, dests, Sync().WithMode(GetAll).WithFilter(filter))

	if !c.record(dests[0], Response{Kind: Value}) {
		t.Fatalf("filter should have forced completion on the first response")
	}
}

func TestCollectorDeadlineTimer(t *testing.T) {
	dests := addrs("a")
	c := newResponseCollector(1, dests, Sync().WithTimeout(10*time.Millisecond))
	timer, stop := c.deadlineTimer()
	defer stop()
	select {
	case <-timer:
	case <-time.After(time.Second):
		t.Fatal("deadline timer never fired")
	}
	if !c.expire() {
		t.Fatalf("expire() should complete an undelivered collector")
	}
}
