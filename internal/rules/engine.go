package rules

import (
	"fmt"
	"sort"

	"github.com/agentx-labs/stackforge/internal/faults"
	"github.com/agentx-labs/stackforge/internal/signal"
)

// ForcedRulePrefix prefixes the rule id recorded for features the caller forces.
const ForcedRulePrefix = "user:"

// Rule maps a predicate over signals to one feature. Priority only orders
// evaluation for reporting; it never changes the outcome.
type Rule struct {
	ID          string
	Produces    Feature
	Priority    int
	Description string
	Predicate   Predicate
}

// Exclusion names a slot whose features are mutually exclusive, such as
// the test runner or the package manager.
type Exclusion struct {
	Slot     string
	Features []Feature
}

// Options carries caller disambiguation.
type Options struct {
	// Suppress drops features before the exclusion check.
	Suppress []Feature
	// Force adds features as if a rule named "user:<feature>" had fired.
	Force []Feature
}

// Evaluation is the outcome of one pass of the detection matrix.
type Evaluation struct {
	Features FeatureSet
	// Provenance maps each feature to the sorted ids of the rules that produced it.
	Provenance map[Feature][]string
	// Suppressed maps suppressed features to the rules that would have produced them.
	Suppressed map[Feature][]string
}

// RuleIDs returns the sorted ids of rules that produced f.
func (e *Evaluation) RuleIDs(f Feature) []string {
	return e.Provenance[f]
}

// Evaluate runs every rule exactly once against signals and applies the
// exclusion table. Conflicting features yield a *faults.ConflictError.
func Evaluate(signals *signal.Set, rules []Rule, exclusions []Exclusion, opts Options) (*Evaluation, error) {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	suppress := NewFeatureSet(opts.Suppress...)
	eval := &Evaluation{
		Features:   make(FeatureSet),
		Provenance: make(map[Feature][]string),
		Suppressed: make(map[Feature][]string),
	}

	for _, r := range ordered {
		if r.Predicate == nil || !r.Predicate(signals) {
			continue
		}
		if suppress.Has(r.Produces) {
			eval.Suppressed[r.Produces] = append(eval.Suppressed[r.Produces], r.ID)
			continue
		}
		eval.Features[r.Produces] = struct{}{}
		eval.Provenance[r.Produces] = append(eval.Provenance[r.Produces], r.ID)
	}
	for _, f := range opts.Force {
		if suppress.Has(f) {
			continue
		}
		eval.Features[f] = struct{}{}
		eval.Provenance[f] = append(eval.Provenance[f], ForcedRulePrefix+string(f))
	}
	for f := range eval.Provenance {
		sort.Strings(eval.Provenance[f])
	}
	for f := range eval.Suppressed {
		sort.Strings(eval.Suppressed[f])
	}

	if err := checkExclusions(eval, exclusions); err != nil {
		return eval, err
	}
	return eval, nil
}

func checkExclusions(eval *Evaluation, exclusions []Exclusion) error {
	sorted := make([]Exclusion, len(exclusions))
	copy(sorted, exclusions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Slot < sorted[j].Slot })

	for _, ex := range sorted {
		var present []Feature
		for _, f := range ex.Features {
			if eval.Features.Has(f) {
				present = append(present, f)
			}
		}
		if len(present) < 2 {
			continue
		}
		sort.Slice(present, func(i, j int) bool { return present[i] < present[j] })
		err := &faults.ConflictError{Slot: ex.Slot}
		for _, f := range present {
			err.Contributors = append(err.Contributors, faults.Contributor{
				Feature: string(f),
				RuleIDs: eval.Provenance[f],
			})
		}
		return err
	}
	return nil
}

// Validate checks a rule table for duplicate ids and exclusion slots that
// name features no rule produces.
func Validate(rules []Rule, exclusions []Exclusion) error {
	seen := make(map[string]bool, len(rules))
	produced := make(FeatureSet)
	for _, r := range rules {
		if r.ID == "" {
			return fmt.Errorf("rule producing %q has no id", r.Produces)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		produced[r.Produces] = struct{}{}
	}
	slots := make(map[string]bool, len(exclusions))
	for _, ex := range exclusions {
		if slots[ex.Slot] {
			return fmt.Errorf("duplicate exclusion slot %q", ex.Slot)
		}
		slots[ex.Slot] = true
		if len(ex.Features) < 2 {
			return fmt.Errorf("exclusion slot %q needs at least two features", ex.Slot)
		}
		for _, f := range ex.Features {
			if !produced.Has(f) {
				return fmt.Errorf("exclusion slot %q names feature %q that no rule produces", ex.Slot, f)
			}
		}
	}
	return nil
}
