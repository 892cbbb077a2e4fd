package groupcast

import "github.com/banyan-group/groupcast/membership"

// noopChannel is a minimal Channel fake for tests that only need a
// Dispatcher to exist (e.g. to exercise RpcStats/DiagnosticsProbe), with no
// interest in any actual message delivery.
type noopChannel struct {
	local membership.Address
	view  membership.View
}

func (c *noopChannel) Send(*Message) error                { return nil }
func (c *noopChannel) LocalAddress() membership.Address   { return c.local }
func (c *noopChannel) View() membership.View               { return c.view }
func (c *noopChannel) DiscardOwnMessages() bool             { return true }
func (c *noopChannel) SupportsMulticast() bool              { return true }
func (c *noopChannel) IsConnected() bool                    { return true }
func (c *noopChannel) SetUpHandler(UpHandler)                {}
