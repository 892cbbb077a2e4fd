package groupcast

import (
	"expvar"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/banyan-group/groupcast/membership"
	"github.com/prometheus/client_golang/prometheus"
)

// RpcStats accumulates call counters for a Dispatcher (spec §4.5). Counts
// are split by blocking mode (sync vs. async, i.e. whether the caller
// waited for a result) and by send shape (unicast/multicast/anycast),
// following chirp's metrics.go convention of building on expvar for the
// basic counters and layering a Prometheus collector on top for anything
// that needs to be scraped.
type RpcStats struct {
	name string

	syncUnicasts    expvar.Int
	asyncUnicasts   expvar.Int
	syncMulticasts  expvar.Int
	asyncMulticasts expvar.Int
	syncAnycasts    expvar.Int
	asyncAnycasts   expvar.Int

	lateResponses expvar.Int

	mu              sync.Mutex
	extendedEnabled bool
	perDest         map[membership.Address]*destStats
}

type destStats struct {
	calls expvar.Int
	total time.Duration
}

// NewRpcStats constructs a fresh, zeroed RpcStats named name. The name is
// used only as a label/prefix for the exported views below.
func NewRpcStats(name string) *RpcStats {
	return &RpcStats{name: name, perDest: make(map[membership.Address]*destStats)}
}

// RecordCall updates the appropriate counter for one outgoing call.
func (s *RpcStats) RecordCall(blocking bool, shape CallShape) {
	switch shape {
	case ShapeUnicast:
		if blocking {
			s.syncUnicasts.Add(1)
		} else {
			s.asyncUnicasts.Add(1)
		}
	case ShapeMulticast:
		if blocking {
			s.syncMulticasts.Add(1)
		} else {
			s.asyncMulticasts.Add(1)
		}
	case ShapeAnycast:
		if blocking {
			s.syncAnycasts.Add(1)
		} else {
			s.asyncAnycasts.Add(1)
		}
	}
}

// CallShape classifies the destination pattern of one call, for stats
// purposes only; it has no bearing on how the correlator actually routes
// the send.
type CallShape byte

const (
	ShapeUnicast CallShape = iota
	ShapeMulticast
	ShapeAnycast
)

// LateResponses reports the number of RSP/EXCEPTION_RSP messages that
// arrived for a request id no longer in the outstanding table.
func (s *RpcStats) LateResponses() int64 { return s.lateResponses.Value() }

// EnableExtendedStats turns on per-destination call counts and average
// round-trip time (spec §4.5 "extended_stats").
func (s *RpcStats) EnableExtendedStats(enable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extendedEnabled = enable
	if !enable {
		s.perDest = make(map[membership.Address]*destStats)
	}
}

// ExtendedStatsEnabled reports the current setting.
func (s *RpcStats) ExtendedStatsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extendedEnabled
}

// RecordRoundTrip records one observed round-trip time to dest, if
// extended stats are enabled; otherwise it is a no-op.
func (s *RpcStats) RecordRoundTrip(dest membership.Address, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.extendedEnabled {
		return
	}
	ds, ok := s.perDest[dest]
	if !ok {
		ds = &destStats{}
		s.perDest[dest] = ds
	}
	ds.calls.Add(1)
	ds.total += d
}

// Reset clears every counter, including per-destination detail.
func (s *RpcStats) Reset() {
	s.syncUnicasts.Set(0)
	s.asyncUnicasts.Set(0)
	s.syncMulticasts.Set(0)
	s.asyncMulticasts.Set(0)
	s.syncAnycasts.Set(0)
	s.asyncAnycasts.Set(0)
	s.lateResponses.Set(0)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perDest = make(map[membership.Address]*destStats)
}

// Var returns an expvar.Var snapshot of the counters, suitable for mounting
// under expvar.Publish (chirp exposes its own metrics.go counters the same
// way).
func (s *RpcStats) Var() expvar.Var {
	m := &expvar.Map{}
	m.Init()
	m.Set("sync-unicasts", &s.syncUnicasts)
	m.Set("async-unicasts", &s.asyncUnicasts)
	m.Set("sync-multicasts", &s.syncMulticasts)
	m.Set("async-multicasts", &s.asyncMulticasts)
	m.Set("sync-anycasts", &s.syncAnycasts)
	m.Set("async-anycasts", &s.asyncAnycasts)
	m.Set("late-responses", &s.lateResponses)
	return m
}

// printOrderByDest renders the per-destination extended-stats table sorted
// by address string, matching JGroups' RpcStats.printStatsByDest ordering.
func (s *RpcStats) printOrderByDest() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.extendedEnabled || len(s.perDest) == 0 {
		return ""
	}
	addrs := make([]membership.Address, 0, len(s.perDest))
	for a := range s.perDest {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].String() < addrs[j].String() })

	var b strings.Builder
	for _, a := range addrs {
		ds := s.perDest[a]
		n := ds.calls.Value()
		var avg time.Duration
		if n > 0 {
			avg = ds.total / time.Duration(n)
		}
		fmt.Fprintf(&b, "%v: calls=%d avg-rtt=%v\n", a, n, avg)
	}
	return b.String()
}

// PrometheusCollector adapts RpcStats to prometheus.Collector, so the same
// counters backing the expvar view above can also be scraped (grounded on
// zephyrcache's telemetry/metrics.go wiring of client_golang).
type PrometheusCollector struct {
	stats *RpcStats

	calls *prometheus.Desc
	late  *prometheus.Desc
}

// NewPrometheusCollector builds a collector over stats.
func NewPrometheusCollector(stats *RpcStats) *PrometheusCollector {
	return &PrometheusCollector{
		stats: stats,
		calls: prometheus.NewDesc(
			"groupcast_rpc_calls_total",
			"Total RPC calls issued, by blocking mode and destination shape.",
			[]string{"blocking", "shape"}, prometheus.Labels{"dispatcher": stats.name},
		),
		late: prometheus.NewDesc(
			"groupcast_rpc_late_responses_total",
			"Responses received for a request id no longer outstanding.",
			nil, prometheus.Labels{"dispatcher": stats.name},
		),
	}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.calls
	ch <- c.late
}

// Collect implements prometheus.Collector.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats
	emit := func(blocking, shape string, v int64) {
		ch <- prometheus.MustNewConstMetric(c.calls, prometheus.CounterValue, float64(v), blocking, shape)
	}
	emit("sync", "unicast", s.syncUnicasts.Value())
	emit("async", "unicast", s.asyncUnicasts.Value())
	emit("sync", "multicast", s.syncMulticasts.Value())
	emit("async", "multicast", s.asyncMulticasts.Value())
	emit("sync", "anycast", s.syncAnycasts.Value())
	emit("async", "anycast", s.asyncAnycasts.Value())
	ch <- prometheus.MustNewConstMetric(c.late, prometheus.CounterValue, float64(s.lateResponses.Value()))
}
