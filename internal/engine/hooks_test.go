package engine

import (
	"testing"

	"github.com/kpiwatch/kpiwatch-engine/internal/models"
)

func TestHooksApplyInRegistrationOrder(t *testing.T) {
	r := NewHookRegistry()
	if err := r.Register("double", func(_ models.AlertsTable, _ string, p, lo, hi float64) (float64, float64, float64) {
		return p * 2, lo * 2, hi * 2
	}); err != nil {
		t.Fatalf("register double: %v", err)
	}
	if err := r.Register("plus-one", func(_ models.AlertsTable, _ string, p, lo, hi float64) (float64, float64, float64) {
		return p + 1, lo + 1, hi + 1
	}); err != nil {
		t.Fatalf("register plus-one: %v", err)
	}

	p, lo, hi := r.Apply(nil, "m", 10, 5, 15)
	if p != 21 || lo != 11 || hi != 31 {
		t.Fatalf("expected double then plus-one, got %v %v %v", p, lo, hi)
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "double" || names[1] != "plus-one" {
		t.Fatalf("unexpected order: %v", names)
	}
}

func TestHooksDuplicateNameRejected(t *testing.T) {
	r := NewHookRegistry()
	identity := func(_ models.AlertsTable, _ string, p, lo, hi float64) (float64, float64, float64) {
		return p, lo, hi
	}
	if err := r.Register("x", identity); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register("x", identity); err == nil {
		t.Fatal("duplicate name should be rejected")
	}
}

func TestDefaultHooksIdentity(t *testing.T) {
	r := DefaultHooks()
	names := r.Names()
	if len(names) != 1 || names[0] != "identity" {
		t.Fatalf("unexpected default registry: %v", names)
	}
	p, lo, hi := r.Apply(nil, "m", 1.5, 0.5, 2.5)
	if p != 1.5 || lo != 0.5 || hi != 2.5 {
		t.Fatalf("identity changed the band: %v %v %v", p, lo, hi)
	}
}

func TestNilRegistryIsIdentity(t *testing.T) {
	var r *HookRegistry
	p, lo, hi := r.Apply(nil, "m", 3, 2, 4)
	if p != 3 || lo != 2 || hi != 4 {
		t.Fatalf("nil registry changed the band: %v %v %v", p, lo, hi)
	}
}

func TestHookSeesDecidedRecords(t *testing.T) {
	r := NewHookRegistry()
	var seen models.AlertsTable
	_ = r.Register("capture", func(decided models.AlertsTable, _ string, p, lo, hi float64) (float64, float64, float64) {
		seen = decided
		return p, lo, hi
	})

	decided := models.AlertsTable{{Metric: "earlier", State: models.StateAlert}}
	r.Apply(decided, "later", 1, 0, 2)
	if len(seen) != 1 || seen[0].Metric != "earlier" {
		t.Fatalf("hook did not receive decided table: %+v", seen)
	}
}
