package registry_test

import (
	"testing"

	"github.com/banyan-group/groupcast/cluster"
	"github.com/banyan-group/groupcast/registry"
)

func TestRegistryAddLookup(t *testing.T) {
	r := registry.New().Add("control", "data", "heartbeat")

	ids := map[string]uint16{
		"control":   r.Lookup("control"),
		"data":      r.Lookup("data"),
		"heartbeat": r.Lookup("heartbeat"),
	}
	seen := make(map[uint16]bool)
	for name, id := range ids {
		if id == 0 {
			t.Errorf("Lookup(%q) = 0, want a nonzero id", name)
		}
		if seen[id] {
			t.Errorf("id %d assigned to more than one name", id)
		}
		seen[id] = true
	}
	if got := r.Lookup("unknown"); got != 0 {
		t.Errorf("Lookup of an unregistered name = %d, want 0", got)
	}
}

func TestRegistrySetOverridesExistingMapping(t *testing.T) {
	r := registry.New().Add("control")
	r = r.Set("control", 99)
	if got, want := r.Lookup("control"), uint16(99); got != want {
		t.Errorf("Lookup(\"control\") = %d, want %d", got, want)
	}
}

func TestRegistryEncodeDecodeRoundTrip(t *testing.T) {
	r := registry.New().Add("alpha", "beta", "gamma")

	var decoded registry.Registry
	if err := decoded.Decode(r.Encode()); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for _, name := range []string{"alpha", "beta", "gamma"} {
		if got, want := decoded.Lookup(name), r.Lookup(name); got != want {
			t.Errorf("decoded Lookup(%q) = %d, want %d", name, got, want)
		}
	}
}

func TestRegistryEncodeEmpty(t *testing.T) {
	r := registry.New()
	if enc := r.Encode(); enc != nil {
		t.Errorf("Encode() of an empty registry = %v, want nil", enc)
	}
}

func TestRegistryDecodeTruncatedInput(t *testing.T) {
	r := registry.New().Add("alpha", "beta")
	enc := r.Encode()

	var decoded registry.Registry
	for n := 1; n < len(enc); n++ {
		if err := decoded.Decode(enc[:n]); err == nil {
			t.Errorf("Decode(%d of %d bytes) = nil error, want a truncation error", n, len(enc))
		}
	}
}

func TestRegistryAssignKeepsBoundDispatcher(t *testing.T) {
	c := cluster.NewLocal(1)
	defer c.Stop()

	r := registry.New().Add("control", "data").Bind(c.Members[0])
	r.Assign("data")

	if got, want := r.Dispatcher(), c.Members[0]; got != want {
		t.Errorf("Dispatcher() = %v, want %v", got, want)
	}
}

func TestRegistryAssignPanicsOnUnknownName(t *testing.T) {
	c := cluster.NewLocal(1)
	defer c.Stop()

	r := registry.New().Add("control").Bind(c.Members[0])
	defer func() {
		if recover() == nil {
			t.Error("Assign of an unknown name should panic")
		}
	}()
	r.Assign("nonexistent")
}

func TestRegistryAssignPanicsWhenUnbound(t *testing.T) {
	r := registry.New().Add("control")
	defer func() {
		if recover() == nil {
			t.Error("Assign on an unbound registry should panic")
		}
	}()
	r.Assign("control")
}
