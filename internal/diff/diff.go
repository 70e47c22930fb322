// Package diff computes the minimal delta between the compiled desired
// filter set and the currently installed one. Both sides are keyed by
// filter key, so semantically identical filters never churn and the
// plan size is proportional to what actually changed.
package diff

import (
	"github.com/rampart-fw/rampart/internal/compile"
	"github.com/rampart-fw/rampart/internal/nft"
)

// Plan is the add/remove partition produced by Compute. Filters present
// on both sides are left untouched; reapplying an unchanged policy
// yields an empty plan and therefore zero native calls.
type Plan struct {
	ToAdd    []compile.CompiledFilter
	ToRemove []nft.InstalledFilter
	// Unchanged counts the filters present on both sides.
	Unchanged int
}

// Empty reports whether applying the plan would be a no-op.
func (p *Plan) Empty() bool {
	return len(p.ToAdd) == 0 && len(p.ToRemove) == 0
}

// Compute partitions desired and installed by key. Any change to a
// filter's semantic content yields a new key and is realized as a
// remove-then-add pair; the native layer has no update primitive.
// Duplicate desired keys (distinct rules compiling to identical
// filters) collapse to a single native object.
func Compute(desired []compile.CompiledFilter, installed []nft.InstalledFilter) *Plan {
	desiredKeys := make(map[string]bool, len(desired))
	installedKeys := make(map[string]bool, len(installed))
	for _, f := range installed {
		installedKeys[f.Key] = true
	}

	plan := &Plan{}
	for _, f := range desired {
		if desiredKeys[f.Key] {
			continue
		}
		desiredKeys[f.Key] = true
		if installedKeys[f.Key] {
			plan.Unchanged++
		} else {
			plan.ToAdd = append(plan.ToAdd, f)
		}
	}

	// Every installed copy of a key absent from desired is removed,
	// duplicates included.
	for _, f := range installed {
		if !desiredKeys[f.Key] {
			plan.ToRemove = append(plan.ToRemove, f)
		}
	}

	return plan
}
