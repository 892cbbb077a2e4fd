package groupcast

// DiagnosticsProbe answers textual probe queries about a Dispatcher's
// [RpcStats], in the handleProbe(keys...)/supportedKeys() shape of
// JGroups' JChannelProbeHandler, narrowed from that type's full
// protocol-stack/JMX surface to just the RPC counters this package owns.
type DiagnosticsProbe struct {
	dispatcher *Dispatcher
}

// NewDiagnosticsProbe returns a probe handler over d's stats.
func NewDiagnosticsProbe(d *Dispatcher) *DiagnosticsProbe {
	return &DiagnosticsProbe{dispatcher: d}
}

// SupportedKeys lists the probe keys this handler recognizes, matching
// MessageDispatcher.ProbeHandler.supportedKeys().
func (p *DiagnosticsProbe) SupportedKeys() []string {
	return []string{"rpcs", "rpcs-reset", "rpcs-enable-details", "rpcs-disable-details", "rpcs-details"}
}

// HandleProbe answers the "rpcs" and "rpcs-details" keys with a value in the
// returned map; "rpcs-reset", "rpcs-enable-details" and
// "rpcs-disable-details" perform their action and add no entry. Keys
// this handler does not recognize are silently omitted, exactly as
// JChannelProbeHandler.handleProbe ignores keys meant for some other
// handler sharing the same diagnostics channel.
func (p *DiagnosticsProbe) HandleProbe(keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	stats := p.dispatcher.stats
	for _, key := range keys {
		switch key {
		case "rpcs":
			out["rpcs"] = stats.Var().String()

		case "rpcs-reset":
			stats.Reset()

		case "rpcs-enable-details":
			stats.EnableExtendedStats(true)

		case "rpcs-disable-details":
			stats.EnableExtendedStats(false)

		case "rpcs-details":
			if s := stats.printOrderByDest(); s != "" {
				out[key] = s
			} else {
				out[key] = "<details not enabled: use rpcs-enable-details to enable>"
			}
		}
	}
	return out
}
