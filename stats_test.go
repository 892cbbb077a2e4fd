package groupcast

import (
	"strings"
	"testing"
	"time"

	"github.com/banyan-group/groupcast/membership"
	"github.com/prometheus/client_golang/prometheus"
)

func TestRpcStatsRecordCall(t *testing.T) {
	s := NewRpcStats("test")
	s.RecordCall(true, ShapeUnicast)
	s.RecordCall(false, ShapeMulticast)
	s.RecordCall(false, ShapeMulticast)
	s.RecordCall(true, ShapeAnycast)

	out := s.Var().String()
	for _, want := range []string{`"sync-unicasts": 1`, `"async-multicasts": 2`, `"sync-anycasts": 1`} {
		if !strings.Contains(out, want) {
			t.Errorf("Var().String() = %s, missing %s", out, want)
		}
	}
}

func TestRpcStatsLateResponses(t *testing.T) {
	s := NewRpcStats("test")
	if got := s.LateResponses(); got != 0 {
		t.Fatalf("initial LateResponses() = %d, want 0", got)
	}
	s.lateResponses.Add(1)
	if got := s.LateResponses(); got != 1 {
		t.Errorf("LateResponses() = %d, want 1", got)
	}
}

func TestRpcStatsExtendedStatsToggle(t *testing.T) {
	s := NewRpcStats("test")
	if s.ExtendedStatsEnabled() {
		t.Fatal("extended stats should start disabled")
	}

	dest := membership.New("a")
	s.RecordRoundTrip(dest, 10*time.Millisecond)
	if s.printOrderByDest() != "" {
		t.Error("printOrderByDest() should be empty while extended stats are disabled")
	}

	s.EnableExtendedStats(true)
	s.RecordRoundTrip(dest, 20*time.Millisecond)
	s.RecordRoundTrip(dest, 30*time.Millisecond)

	out := s.printOrderByDest()
	if !strings.Contains(out, "calls=2") {
		t.Errorf("printOrderByDest() = %q, want a calls=2 entry", out)
	}

	s.EnableExtendedStats(false)
	if s.printOrderByDest() != "" {
		t.Error("disabling extended stats should clear per-destination detail")
	}
}

func TestRpcStatsReset(t *testing.T) {
	s := NewRpcStats("test")
	s.RecordCall(true, ShapeUnicast)
	s.lateResponses.Add(5)
	s.EnableExtendedStats(true)
	s.RecordRoundTrip(membership.New("a"), time.Millisecond)

	s.Reset()
	if got := s.LateResponses(); got != 0 {
		t.Errorf("LateResponses() after Reset = %d, want 0", got)
	}
	if s.syncUnicasts.Value() != 0 {
		t.Errorf("syncUnicasts after Reset = %d, want 0", s.syncUnicasts.Value())
	}
}

func TestPrometheusCollectorDescribeAndCollect(t *testing.T) {
	s := NewRpcStats("test")
	s.RecordCall(true, ShapeUnicast)
	s.RecordCall(false, ShapeAnycast)
	c := NewPrometheusCollector(s)

	descCh := make(chan *prometheus.Desc, 4)
	c.Describe(descCh)
	close(descCh)
	var ndesc int
	for range descCh {
		ndesc++
	}
	if ndesc != 2 {
		t.Errorf("Describe emitted %d descriptors, want 2", ndesc)
	}

	metricCh := make(chan prometheus.Metric, 16)
	c.Collect(metricCh)
	close(metricCh)
	var nmetric int
	for range metricCh {
		nmetric++
	}
	// 6 call-shape/blocking combinations plus the late-responses counter.
	if want := 7; nmetric != want {
		t.Errorf("Collect emitted %d metrics, want %d", nmetric, want)
	}
}
