package engine

import (
	"fmt"

	"github.com/kpiwatch/kpiwatch-engine/internal/models"
)

// HookFunc adjusts a related metric's prediction band before the decision is
// taken. It receives the records decided so far (metric iteration order), so
// a hook can derive one metric's expectation from another's outcome.
type HookFunc func(decided models.AlertsTable, metric string, prediction, lower, upper float64) (float64, float64, float64)

type hookEntry struct {
	name string
	fn   HookFunc
}

// HookRegistry is the statically registered list of band transforms. They are
// applied in registration order, which is the declared order and nothing else.
type HookRegistry struct {
	entries []hookEntry
}

// NewHookRegistry returns an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{}
}

// DefaultHooks returns the registry shipped by default: only the identity
// transform, leaving related metrics untouched until a deployment registers
// its own transforms.
func DefaultHooks() *HookRegistry {
	r := NewHookRegistry()
	_ = r.Register("identity", func(_ models.AlertsTable, _ string, prediction, lower, upper float64) (float64, float64, float64) {
		return prediction, lower, upper
	})
	return r
}

// Register appends a named transform. Names must be unique.
func (r *HookRegistry) Register(name string, fn HookFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("hooks: name and function are required")
	}
	for _, e := range r.entries {
		if e.name == name {
			return fmt.Errorf("hooks: %q already registered", name)
		}
	}
	r.entries = append(r.entries, hookEntry{name: name, fn: fn})
	return nil
}

// Names lists the registered transforms in application order.
func (r *HookRegistry) Names() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.name
	}
	return names
}

// Apply chains every registered transform over the band.
func (r *HookRegistry) Apply(decided models.AlertsTable, metric string, prediction, lower, upper float64) (float64, float64, float64) {
	if r == nil {
		return prediction, lower, upper
	}
	for _, e := range r.entries {
		prediction, lower, upper = e.fn(decided, metric, prediction, lower, upper)
	}
	return prediction, lower, upper
}
