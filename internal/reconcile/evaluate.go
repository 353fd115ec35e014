// Package reconcile computes the desired record state from active contexts,
// persisted overrides and the user's auto-record preference, and drives the
// recorder toward it.
package reconcile

import (
	"sort"

	"github.com/ssandri/blackbox/internal/override"
	"github.com/ssandri/blackbox/internal/trigger"
)

// Decision is the reconciliation output.
type Decision struct {
	ShouldRecord bool                 `json:"should_record"`
	ContextKeys  []trigger.ContextKey `json:"context_keys"`
}

// Evaluate is a pure, deterministic function of its inputs.
//
// The candidate set intentionally treats the two pins asymmetrically:
// force_on counts globally while force_off only counts for manual:global
// or a currently-active key. force_off dominates force_on whenever both
// appear among the candidates, so an explicit opt-out is never recorded
// over.
func Evaluate(active []trigger.ContextKey, overrides map[trigger.ContextKey]override.Force, autoDefault bool) Decision {
	activeSet := make(map[trigger.ContextKey]bool, len(active))
	for _, key := range active {
		activeSet[key] = true
	}

	candidates := make(map[trigger.ContextKey]bool, len(active)+len(overrides))
	for key := range activeSet {
		candidates[key] = true
	}
	for key, force := range overrides {
		switch force {
		case override.ForceOn:
			candidates[key] = true
		case override.ForceOff:
			if key == trigger.ManualGlobal || activeSet[key] {
				candidates[key] = true
			}
		}
	}

	keys := make([]trigger.ContextKey, 0, len(candidates))
	for key := range candidates {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	if len(keys) == 0 {
		return Decision{ShouldRecord: false, ContextKeys: []trigger.ContextKey{}}
	}
	for _, key := range keys {
		if overrides[key] == override.ForceOff {
			return Decision{ShouldRecord: false, ContextKeys: keys}
		}
	}
	for _, key := range keys {
		if overrides[key] == override.ForceOn {
			return Decision{ShouldRecord: true, ContextKeys: keys}
		}
	}
	return Decision{ShouldRecord: autoDefault && len(activeSet) > 0, ContextKeys: keys}
}
