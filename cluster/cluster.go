// Package cluster provides support code for building and testing groups of
// dispatchers, the group-call analogue of chirp's peers package.
package cluster

import (
	"fmt"

	"github.com/banyan-group/groupcast"
	"github.com/banyan-group/groupcast/channel"
	"github.com/banyan-group/groupcast/membership"
)

// Local is a set of in-memory connected Dispatchers sharing one [channel.Hub],
// suitable for tests (spec's Testable Properties scenarios S1-S6) and for
// small single-process deployments.
type Local struct {
	Hub     *channel.Hub
	Members []*groupcast.Dispatcher
}

// NewLocal builds a Local cluster of n members named "member-0".."member-(n-1)".
func NewLocal(n int) *Local {
	hub := channel.NewHub()
	c := &Local{Hub: hub}
	for i := range n {
		addr := membership.New(fmt.Sprintf("member-%d", i))
		ch := hub.Join(addr)
		c.Members = append(c.Members, groupcast.NewDispatcher(ch, addr.String()))
	}
	return c
}

// Addresses returns the local address of every member, in join order.
func (c *Local) Addresses() []membership.Address {
	out := make([]membership.Address, len(c.Members))
	for i, d := range c.Members {
		out[i] = d.LocalAddress()
	}
	return out
}

// Stop closes every member dispatcher, waiting for in-flight handler work
// to finish on each.
func (c *Local) Stop() error {
	var first error
	for _, d := range c.Members {
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
