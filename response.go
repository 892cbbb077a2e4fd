package groupcast

import (
	"fmt"

	"github.com/banyan-group/groupcast/membership"
)

// ResponseKind tags the state of one expected responder's slot in a
// [RspList] (spec §3).
type ResponseKind byte

const (
	// NotReceived is the initial state of every expected responder.
	NotReceived ResponseKind = iota
	// Value holds a successful response payload.
	Value
	// Exception holds a failure reported by the remote handler.
	Exception
	// Suspected marks a responder removed by a view change or SUSPECT
	// event before it replied.
	Suspected
	// Unreachable marks a responder the transport could not send to.
	Unreachable
)

func (k ResponseKind) String() string {
	switch k {
	case NotReceived:
		return "NotReceived"
	case Value:
		return "Value"
	case Exception:
		return "Exception"
	case Suspected:
		return "Suspected"
	case Unreachable:
		return "Unreachable"
	default:
		return fmt.Sprintf("ResponseKind(%d)", byte(k))
	}
}

// Response is the state of one expected responder's slot. Exactly one of
// Data (for Value) or Err (for Exception/Unreachable) is meaningful,
// depending on Kind.
type Response struct {
	Kind     ResponseKind
	Data     []byte
	Err      error
	received bool // counted toward completion accounting even if Kind == NotReceived via a filter override
}

// Received reports whether this slot should count toward a completion
// predicate's "non-NotReceived" tally. By default this mirrors Kind !=
// NotReceived; a [ResponseFilter] may reject a response and leave both
// false.
func (r Response) Received() bool { return r.received || r.Kind != NotReceived }

func (r Response) String() string {
	switch r.Kind {
	case Value:
		if len(r.Data) > 16 {
			return fmt.Sprintf("Value(%d bytes, %q...)", len(r.Data), r.Data[:16])
		}
		return fmt.Sprintf("Value(%q)", r.Data)
	case Exception:
		return fmt.Sprintf("Exception(%v)", r.Err)
	default:
		return r.Kind.String()
	}
}

// RspList is an ordered mapping from expected Address to Response,
// constructed in the order destinations were sent to (spec §4.4).
type RspList struct {
	order []membership.Address
	slots map[membership.Address]Response
}

// EmptyRspList is the sentinel, already-complete, zero-destination result
// returned when the destination filter yields no one to call (spec §4.1,
// §4.2).
var EmptyRspList = RspList{}

// NewRspList constructs an RspList expecting exactly the given addresses,
// each initially NotReceived, in the given order.
func NewRspList(expected []membership.Address) RspList {
	r := RspList{
		order: append([]membership.Address(nil), expected...),
		slots: make(map[membership.Address]Response, len(expected)),
	}
	for _, a := range expected {
		r.slots[a] = Response{Kind: NotReceived}
	}
	return r
}

// Get returns the response recorded for a, and whether a was an expected
// destination at all.
func (r RspList) Get(a membership.Address) (Response, bool) {
	v, ok := r.slots[a]
	return v, ok
}

// Addresses returns the expected destinations in send order.
func (r RspList) Addresses() []membership.Address {
	return append([]membership.Address(nil), r.order...)
}

// Len reports the number of expected destinations.
func (r RspList) Len() int { return len(r.order) }

// NumReceived reports how many slots are non-NotReceived.
func (r RspList) NumReceived() int {
	var n int
	for _, a := range r.order {
		if r.slots[a].Received() {
			n++
		}
	}
	return n
}

// Values returns the payloads of every Value slot, in send order.
func (r RspList) Values() [][]byte {
	var out [][]byte
	for _, a := range r.order {
		if v := r.slots[a]; v.Kind == Value {
			out = append(out, v.Data)
		}
	}
	return out
}

func (r RspList) String() string {
	s := "RspList{"
	for i, a := range r.order {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%v: %v", a, r.slots[a])
	}
	return s + "}"
}

// set records rsp for address a. It is used only by collector.go while
// building up a result; RspList itself is otherwise immutable to callers.
func (r *RspList) set(a membership.Address, rsp Response) {
	if r.slots == nil {
		r.slots = make(map[membership.Address]Response)
	}
	if _, existed := r.slots[a]; !existed {
		r.order = append(r.order, a)
	}
	r.slots[a] = rsp
}
