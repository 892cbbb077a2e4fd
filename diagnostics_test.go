package groupcast

import "testing"

func TestDiagnosticsProbeSupportedKeys(t *testing.T) {
	d := NewDispatcher(&noopChannel{}, "test")
	p := NewDiagnosticsProbe(d)

	want := map[string]bool{
		"rpcs": true, "rpcs-reset": true, "rpcs-enable-details": true,
		"rpcs-disable-details": true, "rpcs-details": true,
	}
	for _, k := range p.SupportedKeys() {
		if !want[k] {
			t.Errorf("SupportedKeys() returned unexpected key %q", k)
		}
		delete(want, k)
	}
	if len(want) != 0 {
		t.Errorf("SupportedKeys() missing keys: %v", want)
	}
}

func TestDiagnosticsProbeIgnoresUnknownKeys(t *testing.T) {
	d := NewDispatcher(&noopChannel{}, "test")
	p := NewDiagnosticsProbe(d)

	out := p.HandleProbe("not-a-real-key")
	if len(out) != 0 {
		t.Errorf("HandleProbe(unknown) = %v, want empty", out)
	}
}

func TestDiagnosticsProbeDetailsFallbackMessage(t *testing.T) {
	d := NewDispatcher(&noopChannel{}, "test")
	p := NewDiagnosticsProbe(d)

	out := p.HandleProbe("rpcs-details")
	want := "<details not enabled: use rpcs-enable-details to enable>"
	if out["rpcs-details"] != want {
		t.Errorf("rpcs-details = %q, want %q", out["rpcs-details"], want)
	}
}

func TestDiagnosticsProbeResetStats(t *testing.T) {
	d := NewDispatcher(&noopChannel{}, "test")
	p := NewDiagnosticsProbe(d)

	d.stats.RecordCall(true, ShapeUnicast)
	p.HandleProbe("rpcs-reset")
	if d.stats.syncUnicasts.Value() != 0 {
		t.Errorf("syncUnicasts after rpcs-reset probe = %d, want 0", d.stats.syncUnicasts.Value())
	}
}
