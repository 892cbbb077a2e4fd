// Package membership defines the address and view types shared by a
// group-communication channel and the dispatcher that sits on top of it.
//
// An [Address] is an opaque, comparable identifier for a cluster member. A
// [View] is the ordered member list a channel reports at any moment; it is
// replaced wholesale on every membership change, never mutated in place.
package membership

import (
	"fmt"
	"sync/atomic"
)

// Address identifies a member of a cluster. The zero Address is reserved to
// mean "no specific destination" (used for multicast sends); real members
// must never be assigned the zero value.
//
// A SiteAddress (constructed with [NewSite]) denotes a cross-site member
// that callers should always keep in a destination list regardless of the
// current local view — see [View.Contains].
type Address struct {
	id   string
	site bool
}

// New returns an ordinary, view-scoped address.
func New(id string) Address { return Address{id: id} }

// NewSite returns a cross-site address. Site addresses are exempt from the
// local-membership filtering a [View] would otherwise apply.
func NewSite(id string) Address { return Address{id: id, site: true} }

// IsZero reports whether a is the reserved "no destination" value.
func (a Address) IsZero() bool { return a == Address{} }

// IsSite reports whether a is a cross-site address.
func (a Address) IsSite() bool { return a.site }

// String returns a's identifier.
func (a Address) String() string {
	if a.site {
		return a.id + "@site"
	}
	return a.id
}

// View is an ordered, monotone snapshot of a cluster's membership.
//
// Members preserves insertion order, which callers may rely on for
// deterministic anycast iteration order (spec §3: "set-of-Address with
// insertion order preserved").
type View struct {
	ID      int64
	Members []Address
}

// Contains reports whether a is a member of v, or is a site address (which
// is always considered reachable regardless of view membership).
func (v View) Contains(a Address) bool {
	if a.site {
		return true
	}
	for _, m := range v.Members {
		if m == a {
			return true
		}
	}
	return false
}

// Len reports the number of members in v.
func (v View) Len() int { return len(v.Members) }

// String renders v for logs and diagnostics.
func (v View) String() string {
	return fmt.Sprintf("View(id=%d, members=%v)", v.ID, v.Members)
}

// Tracker holds the current [View] and local [Address], atomically
// replaced wholesale on each update so concurrent readers always observe a
// complete snapshot, never a torn one.
//
// A zero Tracker is ready for use and reports an empty view.
type Tracker struct {
	view  atomic.Pointer[View]
	local atomic.Pointer[Address]
}

// SetView replaces the tracked view.
func (t *Tracker) SetView(v View) { t.view.Store(&v) }

// View returns the most recently stored view, or the zero View if none has
// been stored yet.
func (t *Tracker) View() View {
	if p := t.view.Load(); p != nil {
		return *p
	}
	return View{}
}

// SetLocal replaces the tracked local address.
func (t *Tracker) SetLocal(a Address) { t.local.Store(&a) }

// Local returns the most recently stored local address, or the zero Address
// if none has been stored yet.
func (t *Tracker) Local() Address {
	if p := t.local.Load(); p != nil {
		return *p
	}
	return Address{}
}
