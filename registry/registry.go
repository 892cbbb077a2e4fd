// Package registry defines a mapping from mnemonic protocol names to
// correlator ids (corr_id) for use with a groupcast.Dispatcher, letting
// several independent Dispatchers multiplex their requests and responses
// over one shared [groupcast.Channel] (spec §4 supplemented feature
// "corr_id multiplexing"; JGroups' RequestCorrelator is likewise identified
// by a short protocol id/name on a shared stack).
//
// Every request and response header carries its corr_id, but the
// name-to-corr_id mapping itself is not negotiated between nodes; a
// Registry is a purely local convention each node must agree on independently (e.g. by
// assigning the same names in the same order on every node), the same way
// chirp's catalog package assigns method ids.
package registry

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/banyan-group/groupcast"
)

// A Registry associates a Dispatcher with a static mapping from protocol
// names to corr_ids for use with that Dispatcher.
type Registry struct {
	dispatcher *groupcast.Dispatcher
	ids        map[string]uint16
}

// New creates a new empty, unbound registry. It is safe to copy the
// resulting value; all copies share a reference to the same name-to-id
// mapping.
func New() Registry { return Registry{ids: make(map[string]uint16)} }

// Add assigns the specified names fresh positive ids in r, and returns r to
// permit chaining.
func (r Registry) Add(names ...string) Registry {
	for _, name := range names {
		r.Set(name, r.pickUnusedID())
	}
	return r
}

// Set maps name to id in r, and returns r to permit chaining. If name was
// already mapped, the existing mapping is replaced.
func (r Registry) Set(name string, id uint16) Registry {
	r.ids[name] = id
	return r
}

func (r Registry) pickUnusedID() uint16 {
	var max uint16
	for _, id := range r.ids {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// Lookup returns the corr_id assigned to name, or 0 if name is unmapped.
func (r Registry) Lookup(name string) uint16 { return r.ids[name] }

// Bind returns a copy of r bound to d.
func (r Registry) Bind(d *groupcast.Dispatcher) Registry {
	return Registry{dispatcher: d, ids: r.ids}
}

// Dispatcher returns the Dispatcher associated with r, or nil if unbound.
func (r Registry) Dispatcher() *groupcast.Dispatcher { return r.dispatcher }

// Assign installs the corr_id registered for name onto r's bound
// Dispatcher, and returns r to permit chaining. Assign panics if r is
// unbound, or if name is not a registered protocol name.
func (r Registry) Assign(name string) Registry {
	id, ok := r.ids[name]
	if !ok {
		panic(fmt.Sprintf("protocol %q not known", name))
	}
	r.dispatcher.WithCorrID(id)
	return r
}

// Encode renders r's name-to-id mapping in binary form: the names in
// lexicographic order, each as a big-endian uint16 length followed by that
// many bytes, followed by the corresponding ids in the reverse order of the
// names, each as a big-endian uint16.
func (r Registry) Encode() []byte {
	if len(r.ids) == 0 {
		return nil
	}
	var nlen int
	names := make([]string, 0, len(r.ids))
	for name := range r.ids {
		names = append(names, name)
		nlen += 2 + len(name)
	}
	sort.Strings(names)
	buf := make([]byte, nlen+2*len(r.ids))
	npos, mpos := 0, len(buf)
	putName := func(s string) {
		binary.BigEndian.PutUint16(buf[npos:], uint16(len(s)))
		npos += 2
		npos += copy(buf[npos:], s)
	}
	putID := func(id uint16) {
		mpos -= 2
		binary.BigEndian.PutUint16(buf[mpos:], id)
	}
	for _, name := range names {
		putName(name)
		putID(r.ids[name])
	}
	return buf
}

// Decode decodes data as a Registry payload, replacing r's current mapping.
func (r *Registry) Decode(data []byte) error {
	if r.ids == nil {
		r.ids = make(map[string]uint16)
	} else {
		clear(r.ids)
	}
	npos, mpos := 0, len(data)
	for {
		if npos+2 > len(data) || npos > mpos {
			return fmt.Errorf("truncated registry at offset %d", npos)
		} else if npos == mpos {
			break
		}
		nlen := int(binary.BigEndian.Uint16(data[npos:]))
		npos += 2
		if npos+nlen > len(data) {
			return fmt.Errorf("truncated name at offset %d", npos)
		}
		mpos -= 2
		if mpos < npos+nlen {
			return fmt.Errorf("truncated id at offset %d", mpos)
		}
		id := binary.BigEndian.Uint16(data[mpos:])
		r.ids[string(data[npos:npos+nlen])] = id
		npos += nlen
	}
	return nil
}
