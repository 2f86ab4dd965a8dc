package resolver

import (
	"fmt"
	"sort"

	"github.com/agentx-labs/stackforge/internal/faults"
	"github.com/agentx-labs/stackforge/internal/rules"
)

// Plugin is a toolchain package requested by the features that trigger it.
type Plugin struct {
	Ecosystem  string
	Package    string
	Constraint string
	Triggers   []rules.Feature
}

// Resolved is one package after deduplication.
type Resolved struct {
	Ecosystem  string
	Package    string
	Constraint string
	// Features lists the active features that requested the package, sorted.
	Features []rules.Feature
}

// Spec returns "package@constraint" (or just the package for wildcards).
func (r Resolved) Spec() string {
	if isWildcard(r.Constraint) {
		return r.Package
	}
	return r.Package + "@" + r.Constraint
}

// PluginSet is the resolved package list partitioned by ecosystem.
type PluginSet struct {
	byEcosystem map[string][]Resolved
}

// Ecosystems returns the ecosystems with at least one package, sorted.
func (p *PluginSet) Ecosystems() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.byEcosystem))
	for eco := range p.byEcosystem {
		out = append(out, eco)
	}
	sort.Strings(out)
	return out
}

// Packages returns the packages resolved for ecosystem, sorted by name.
func (p *PluginSet) Packages(ecosystem string) []Resolved {
	if p == nil {
		return nil
	}
	return p.byEcosystem[ecosystem]
}

// Names returns the package names for ecosystem.
func (p *PluginSet) Names(ecosystem string) []string {
	pkgs := p.Packages(ecosystem)
	out := make([]string, len(pkgs))
	for i, r := range pkgs {
		out[i] = r.Package
	}
	return out
}

// Has reports whether pkg was resolved for ecosystem.
func (p *PluginSet) Has(ecosystem, pkg string) bool {
	for _, r := range p.Packages(ecosystem) {
		if r.Package == pkg {
			return true
		}
	}
	return false
}

// Len returns the total number of packages.
func (p *PluginSet) Len() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, pkgs := range p.byEcosystem {
		n += len(pkgs)
	}
	return n
}

type claim struct {
	constraint string
	features   []rules.Feature
}

// Resolve selects the plugins whose triggers intersect features and merges
// duplicate (ecosystem, package) requests. Incompatible constraints yield a
// *faults.ResolutionError.
func Resolve(features rules.FeatureSet, plugins []Plugin) (*PluginSet, error) {
	type key struct{ eco, pkg string }
	claims := make(map[key][]claim)
	var order []key

	for _, p := range plugins {
		var active []rules.Feature
		for _, f := range p.Triggers {
			if features.Has(f) {
				active = append(active, f)
			}
		}
		if len(active) == 0 {
			continue
		}
		k := key{p.Ecosystem, p.Package}
		if _, ok := claims[k]; !ok {
			order = append(order, k)
		}
		claims[k] = append(claims[k], claim{constraint: p.Constraint, features: active})
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].eco != order[j].eco {
			return order[i].eco < order[j].eco
		}
		return order[i].pkg < order[j].pkg
	})

	set := &PluginSet{byEcosystem: make(map[string][]Resolved)}
	for _, k := range order {
		cs := claims[k]
		// Merge in a fixed order so the merged constraint is reproducible.
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].constraint < cs[j].constraint })

		merged := cs[0].constraint
		featureSet := rules.NewFeatureSet(cs[0].features...)
		for i := 1; i < len(cs); i++ {
			next, ok, err := Compatible(merged, cs[i].constraint)
			if err != nil {
				return nil, fmt.Errorf("resolving %s package %s: %w", k.eco, k.pkg, err)
			}
			if !ok {
				return nil, resolutionError(k.eco, k.pkg, firstClash(cs[:i], cs[i]), cs[i])
			}
			merged = next
			for _, f := range cs[i].features {
				featureSet[f] = struct{}{}
			}
		}
		set.byEcosystem[k.eco] = append(set.byEcosystem[k.eco], Resolved{
			Ecosystem:  k.eco,
			Package:    k.pkg,
			Constraint: merged,
			Features:   featureSet.Sorted(),
		})
	}
	return set, nil
}

// firstClash returns the earliest claim that cannot coexist with c on its
// own, or the last claim when only the combination fails.
func firstClash(earlier []claim, c claim) claim {
	for _, e := range earlier {
		if _, ok, _ := Compatible(e.constraint, c.constraint); !ok {
			return e
		}
	}
	return earlier[len(earlier)-1]
}

func resolutionError(eco, pkg string, a, b claim) *faults.ResolutionError {
	toStrings := func(fs []rules.Feature) []string {
		out := make([]string, len(fs))
		for i, f := range fs {
			out[i] = string(f)
		}
		sort.Strings(out)
		return out
	}
	return &faults.ResolutionError{
		Ecosystem: eco,
		Package:   pkg,
		Claims: []faults.Claim{
			{Constraint: a.constraint, Features: toStrings(a.features)},
			{Constraint: b.constraint, Features: toStrings(b.features)},
		},
	}
}
