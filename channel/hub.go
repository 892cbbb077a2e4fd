// Package channel provides in-memory implementations of the
// groupcast.Channel interface, for testing and for small deployments that
// run every member of a group in one process.
//
// Hub generalizes chirp's channel.Direct (an unencoded point-to-point pair)
// to an arbitrary number of members sharing one broadcast domain, the way
// peers.Local generalizes chirp's Peer pairing to a reusable test fixture.
package channel

import (
	"sort"
	"sync"

	"github.com/banyan-group/groupcast"
	"github.com/banyan-group/groupcast/membership"
)

// Hub is a virtual-synchrony messaging domain shared by every member that
// has joined it. Sends are delivered in-memory, without encoding; Join and
// Leave drive view changes, and Suspect injects a SUSPECT event without
// altering membership, matching the usual JGroups ordering of "suspected,
// then later excluded by a view change".
type Hub struct {
	mu       sync.Mutex
	members  map[membership.Address]*member
	view     membership.View
	viewSeq  int64
}

// NewHub returns an empty Hub with no members and an empty initial view.
func NewHub() *Hub {
	return &Hub{members: make(map[membership.Address]*member)}
}

// Join adds addr to h, delivers an updated view to every member that has an
// up-handler installed, and returns a [groupcast.Channel] bound to addr. The
// new member has no up-handler yet, so it does not receive this view event;
// its Channel's View method reports the new view.
func (h *Hub) Join(addr membership.Address) groupcast.Channel {
	h.mu.Lock()
	m := &member{hub: h, addr: addr, connected: true}
	h.members[addr] = m
	view := h.nextViewLocked()
	recipients := h.handlersLocked()
	h.mu.Unlock()

	h.deliverViewChange(recipients, view)
	return m
}

// Leave removes addr from h and delivers an updated view to the remaining
// members.
func (h *Hub) Leave(addr membership.Address) {
	h.mu.Lock()
	delete(h.members, addr)
	view := h.nextViewLocked()
	recipients := h.handlersLocked()
	h.mu.Unlock()

	h.deliverViewChange(recipients, view)
}

// Suspect delivers a SUSPECT event for addr to every other member, without
// removing addr from the view.
func (h *Hub) Suspect(addr membership.Address) {
	h.mu.Lock()
	recipients := h.handlersLocked()
	h.mu.Unlock()

	for _, r := range recipients {
		if r.addr == addr {
			continue
		}
		if r.handler != nil {
			r.handler.Up(groupcast.Event{Type: groupcast.EventSuspect, Suspect: addr})
		}
	}
}

// CurrentView reports h's current membership snapshot.
func (h *Hub) CurrentView() membership.View {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view
}

// nextViewLocked computes and installs the next view. Callers must hold
// h.mu.
func (h *Hub) nextViewLocked() membership.View {
	h.viewSeq++
	addrs := make([]membership.Address, 0, len(h.members))
	for a := range h.members {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].String() < addrs[j].String() })
	h.view = membership.View{ID: h.viewSeq, Members: addrs}
	return h.view
}

// handlersLocked returns a snapshot of every member. Callers must hold h.mu.
func (h *Hub) handlersLocked() []*member {
	out := make([]*member, 0, len(h.members))
	for _, m := range h.members {
		out = append(out, m)
	}
	return out
}

func (h *Hub) deliverViewChange(recipients []*member, view membership.View) {
	for _, r := range recipients {
		r.mu.Lock()
		handler := r.handler
		r.mu.Unlock()
		if handler != nil {
			handler.Up(groupcast.Event{Type: groupcast.EventViewChange, View: view})
		}
	}
}

func (h *Hub) memberHandler(addr membership.Address) groupcast.UpHandler {
	h.mu.Lock()
	m, ok := h.members[addr]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

// deliverTo hands msg to the single named destination, if it is a current
// member.
func (h *Hub) deliverTo(dest membership.Address, msg *groupcast.Message) error {
	handler := h.memberHandler(dest)
	if handler == nil {
		return groupcast.ErrChannelNotConnected
	}
	cp := *msg
	cp.Dest = dest
	return handler.Up(groupcast.Event{Type: groupcast.EventMsg, Msg: &cp})
}

// broadcast hands msg to every current member, skipping from (Hub members
// never receive their own multicast sends back).
func (h *Hub) broadcast(from membership.Address, msg *groupcast.Message) {
	h.mu.Lock()
	recipients := h.handlersLocked()
	h.mu.Unlock()

	for _, r := range recipients {
		if r.addr == from {
			continue
		}
		r.mu.Lock()
		handler := r.handler
		r.mu.Unlock()
		if handler == nil {
			continue
		}
		cp := *msg
		cp.Dest = membership.Address{}
		handler.Up(groupcast.Event{Type: groupcast.EventMsg, Msg: &cp})
	}
}

// member is the groupcast.Channel handle a single Hub participant holds.
type member struct {
	hub       *Hub
	addr      membership.Address
	connected bool

	mu      sync.Mutex
	handler groupcast.UpHandler
}

// Send implements [groupcast.Channel].
func (m *member) Send(msg *groupcast.Message) error {
	if !m.connected {
		return groupcast.ErrChannelNotConnected
	}
	msg.Src = m.addr

	switch {
	case len(msg.AnycastDests) > 0:
		for _, d := range msg.AnycastDests {
			if err := m.hub.deliverTo(d, msg); err != nil {
				return err
			}
		}
		return nil
	case msg.Dest.IsZero():
		m.hub.broadcast(m.addr, msg)
		return nil
	default:
		return m.hub.deliverTo(msg.Dest, msg)
	}
}

// LocalAddress implements [groupcast.Channel].
func (m *member) LocalAddress() membership.Address { return m.addr }

// View implements [groupcast.Channel].
func (m *member) View() membership.View { return m.hub.CurrentView() }

// DiscardOwnMessages implements [groupcast.Channel]. A Hub never loops a
// member's own broadcast back to itself.
func (m *member) DiscardOwnMessages() bool { return true }

// SupportsMulticast implements [groupcast.Channel].
func (m *member) SupportsMulticast() bool { return true }

// IsConnected implements [groupcast.Channel].
func (m *member) IsConnected() bool { return m.connected }

// SetUpHandler implements [groupcast.Channel].
func (m *member) SetUpHandler(h groupcast.UpHandler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}
