package groupcast

import (
	"fmt"
	"strings"
	"time"

	"github.com/banyan-group/groupcast/membership"
)

// ResponseMode governs how many responses a request must collect before a
// [ResponseCollector] considers itself complete (spec §3, §4.3).
type ResponseMode byte

const (
	// GetNone fires the request without waiting for any response at all.
	GetNone ResponseMode = iota
	// GetFirst completes as soon as any one expected address answers.
	GetFirst
	// GetMajority completes once more than half of the initially expected
	// addresses have answered.
	GetMajority
	// GetAll completes only once every expected address has answered (with
	// a value, an exception, or a suspicion).
	GetAll
)

func (m ResponseMode) String() string {
	switch m {
	case GetNone:
		return "GET_NONE"
	case GetFirst:
		return "GET_FIRST"
	case GetMajority:
		return "GET_MAJORITY"
	case GetAll:
		return "GET_ALL"
	default:
		return fmt.Sprintf("ResponseMode(%d)", byte(m))
	}
}

// ResponseFilter lets a caller narrow or shortcut response collection. See
// spec §4.3 "Completion predicates".
type ResponseFilter interface {
	// Accept is invoked once for each response as it arrives. accept
	// reports whether the response should be recorded at all (a false
	// value leaves the slot NotReceived); complete reports whether the
	// collector should be considered done immediately, regardless of mode.
	Accept(from membership.Address, rsp Response) (accept, complete bool)
}

// ResponseFilterFunc adapts a function to a [ResponseFilter].
type ResponseFilterFunc func(from membership.Address, rsp Response) (accept, complete bool)

// Accept implements [ResponseFilter].
func (f ResponseFilterFunc) Accept(from membership.Address, rsp Response) (bool, bool) {
	return f(from, rsp)
}

// RequestOptions captures the options governing one call: completion mode,
// deadline, anycast behavior, response filtering, message flags, and an
// exclusion list. The zero value is not generally useful; start from [Sync]
// or [Async] and chain the builder methods.
//
// RequestOptions is a plain value type, copied by assignment like JGroups'
// RequestOptions and chirp's PacketInfo; the builder methods return a
// (possibly) modified copy so callers can chain calls without aliasing a
// shared instance.
type RequestOptions struct {
	mode           ResponseMode
	timeout        time.Duration
	anycast        bool
	useAnycastAddr bool
	filter         ResponseFilter
	flags          Flag
	transientFlags TransientFlag
	exclusions     []membership.Address
}

// Sync returns the default synchronous options: GetAll with a 10s deadline,
// matching JGroups' RequestOptions.SYNC().
func Sync() RequestOptions {
	return RequestOptions{mode: GetAll, timeout: 10 * time.Second}
}

// Async returns options for a fire-and-forget call: GetNone. The timeout
// value is kept for parity with JGroups' RequestOptions.ASYNC() but has no
// effect, since a GetNone call never waits.
func Async() RequestOptions {
	return RequestOptions{mode: GetNone, timeout: 10 * time.Second}
}

// Mode returns the configured completion mode.
func (o RequestOptions) Mode() ResponseMode { return o.mode }

// WithMode returns a copy of o with the completion mode set.
func (o RequestOptions) WithMode(m ResponseMode) RequestOptions { o.mode = m; return o }

// Timeout returns the configured deadline; zero means wait indefinitely.
func (o RequestOptions) Timeout() time.Duration { return o.timeout }

// WithTimeout returns a copy of o with the deadline set.
func (o RequestOptions) WithTimeout(d time.Duration) RequestOptions { o.timeout = d; return o }

// Anycasting reports whether group calls should be sent as one unicast per
// destination instead of a single multicast.
func (o RequestOptions) Anycasting() bool { return o.anycast }

// WithAnycasting returns a copy of o with anycasting toggled.
func (o RequestOptions) WithAnycasting(v bool) RequestOptions { o.anycast = v; return o }

// UseAnycastAddresses reports whether an anycast send should be expressed
// as a single message carrying a compact address list, rather than as N
// separate unicasts. Only meaningful when Anycasting() is true.
func (o RequestOptions) UseAnycastAddresses() bool { return o.useAnycastAddr }

// WithAnycastAddresses returns a copy of o with that flag toggled.
func (o RequestOptions) WithAnycastAddresses(v bool) RequestOptions {
	o.useAnycastAddr = v
	return o
}

// Filter returns the configured response filter, or nil.
func (o RequestOptions) Filter() ResponseFilter { return o.filter }

// WithFilter returns a copy of o with the response filter set.
func (o RequestOptions) WithFilter(f ResponseFilter) RequestOptions { o.filter = f; return o }

// Flags returns the message flags to stamp on outgoing messages.
func (o RequestOptions) Flags() Flag { return o.flags }

// WithFlags returns a copy of o with additional flags OR'd in.
func (o RequestOptions) WithFlags(f Flag) RequestOptions { o.flags |= f; return o }

// TransientFlags returns the transient flags governing this send only.
func (o RequestOptions) TransientFlags() TransientFlag { return o.transientFlags }

// WithTransientFlags returns a copy of o with additional transient flags
// OR'd in.
func (o RequestOptions) WithTransientFlags(f TransientFlag) RequestOptions {
	o.transientFlags |= f
	return o
}

// HasExclusionList reports whether an exclusion list was set.
func (o RequestOptions) HasExclusionList() bool { return o.exclusions != nil }

// ExclusionList returns the configured exclusion list, or nil.
func (o RequestOptions) ExclusionList() []membership.Address { return o.exclusions }

// WithExclusionList returns a copy of o excluding the given addresses from
// the eventual destination set. Passing no addresses leaves o unchanged.
func (o RequestOptions) WithExclusionList(addrs ...membership.Address) RequestOptions {
	if len(addrs) == 0 {
		return o
	}
	o.exclusions = addrs
	return o
}

func (o RequestOptions) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mode=%v, timeout=%v", o.mode, o.timeout)
	if o.anycast {
		b.WriteString(", anycasting=true")
		if o.useAnycastAddr {
			b.WriteString(" (using anycast address)")
		}
	}
	if o.flags != 0 {
		fmt.Fprintf(&b, ", flags=%#x", uint16(o.flags))
	}
	if o.transientFlags != 0 {
		fmt.Fprintf(&b, ", transient_flags=%#x", uint16(o.transientFlags))
	}
	if o.exclusions != nil {
		fmt.Fprintf(&b, ", exclusion list=%v", o.exclusions)
	}
	return b.String()
}
