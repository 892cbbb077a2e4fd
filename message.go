package groupcast

import (
	"fmt"
	"io"

	"github.com/banyan-group/groupcast/membership"
)

// Flag is a bit-set of per-message options, mirrored into the message sent
// on the wire. The concrete meaning of each flag is up to the [Channel]
// implementation; the dispatcher only ORs them onto outgoing messages and
// never interprets them itself.
type Flag uint16

// Flags recognized by the protocols in this package's domain (spec §3).
// A Channel is free to ignore flags it does not understand.
const (
	FlagOOB        Flag = 1 << iota // out-of-band delivery
	FlagDontBundle                  // bypass any send-side batching
	FlagNoFC                        // bypass flow control
	FlagRSVP                        // request a delivery acknowledgement
)

// TransientFlag is a bit-set of per-send options that do not propagate with
// the message itself (they govern only how this node treats its own send).
type TransientFlag uint16

// TransientDontLoopback suppresses delivery of a multicast message back to its own
// sender, independent of whatever the Channel's own loopback policy is.
const TransientDontLoopback TransientFlag = 1 << iota

// Message is an immutable unit of transport. Dest is the zero Address for a
// multicast send; Src is filled in by the Channel on delivery, never by the
// sender.
type Message struct {
	Dest           membership.Address
	Src            membership.Address
	Payload        []byte
	Flags          Flag
	TransientFlags TransientFlag

	// AnycastDests, when non-empty, names a compact set of destinations for
	// a single message that a Channel should deliver to each of them
	// without a full-view broadcast (spec §4.3 "UseAnycastAddresses"; JGroups'
	// AnycastAddress). Dest is the zero Address whenever this is set.
	AnycastDests []membership.Address
}

func (m *Message) String() string {
	return fmt.Sprintf("Message(dest=%v, src=%v, %d bytes)", m.Dest, m.Src, len(m.Payload))
}

// MessageBatch groups messages delivered together by the channel, e.g.
// several requests that arrived in one network read.
type MessageBatch struct {
	Dest     membership.Address
	Messages []*Message
}

// EventType identifies the kind of an up-handler [Event].
type EventType int

// Event types the channel may deliver to the up-handler (spec §6).
const (
	EventMsg EventType = iota
	EventViewChange
	EventSuspect
	EventSetLocalAddress
	EventGetApplState
	EventGetStateOK
	EventStateTransferInputStream
	EventStateTransferOutputStream
	EventBlock
	EventUnblock
)

func (t EventType) String() string {
	switch t {
	case EventMsg:
		return "MSG"
	case EventViewChange:
		return "VIEW_CHANGE"
	case EventSuspect:
		return "SUSPECT"
	case EventSetLocalAddress:
		return "SET_LOCAL_ADDRESS"
	case EventGetApplState:
		return "GET_APPLSTATE"
	case EventGetStateOK:
		return "GET_STATE_OK"
	case EventStateTransferInputStream:
		return "STATE_TRANSFER_INPUTSTREAM"
	case EventStateTransferOutputStream:
		return "STATE_TRANSFER_OUTPUTSTREAM"
	case EventBlock:
		return "BLOCK"
	case EventUnblock:
		return "UNBLOCK"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is a notification delivered by a [Channel] to the installed
// [UpHandler]. Only the fields relevant to Type are populated.
type Event struct {
	Type EventType

	Msg     *Message           // EventMsg
	View    membership.View    // EventViewChange
	Suspect membership.Address // EventSuspect
	Local   membership.Address // EventSetLocalAddress

	StateWriter io.Writer // EventGetApplState / EventStateTransferOutputStream
	StateReader io.Reader // EventStateTransferInputStream
	StateOK     bool      // EventGetStateOK
}

// UpHandler receives events and message batches from a [Channel]. A
// [Dispatcher] is a UpHandler; exactly one may be installed on a Channel at
// a time.
type UpHandler interface {
	Up(Event) error
	UpBatch(*MessageBatch) error
}

// Channel is the virtual-synchrony messaging channel the dispatcher sits on
// top of. It is an external collaborator (spec §1): this package only
// depends on the interface, never on a concrete transport.
//
// Implementations must be safe for concurrent Send calls from many
// goroutines. They may deliver to the installed UpHandler from many
// goroutines at once; a [Dispatcher] is safe for concurrent Up/UpBatch calls.
type Channel interface {
	// Send transmits msg. If msg.Dest is the zero Address, the message is
	// multicast to the current view.
	Send(msg *Message) error

	// LocalAddress reports this node's own address.
	LocalAddress() membership.Address

	// View reports the current membership snapshot.
	View() membership.View

	// DiscardOwnMessages reports whether the channel itself suppresses
	// delivery of a node's own multicast messages back to itself.
	DiscardOwnMessages() bool

	// SupportsMulticast reports whether Send can deliver a single message
	// to more than one destination in one transmission. When false, the
	// correlator must fall back to one unicast per destination even for
	// plain (non-anycast) group calls.
	SupportsMulticast() bool

	// IsConnected reports whether the channel can currently accept sends.
	IsConnected() bool

	// SetUpHandler installs the handler that receives events and message
	// batches. Passing nil uninstalls the current handler.
	SetUpHandler(UpHandler)
}
