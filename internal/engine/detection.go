package engine

import (
	"github.com/agentx-labs/stackforge/internal/resolver"
	"github.com/agentx-labs/stackforge/internal/signal"
)

// Detection is the machine-readable form of a detect run.
type Detection struct {
	Root       string               `json:"root"`
	Features   []DetectedFeature    `json:"features"`
	Plugins    map[string][]Package `json:"plugins"`
	Signals    []signal.Signal      `json:"signals"`
	Gaps       []Gap                `json:"gaps,omitempty"`
	Suppressed map[string][]string  `json:"suppressed,omitempty"`
}

// DetectedFeature is a feature and the rules that produced it.
type DetectedFeature struct {
	Name  string   `json:"name"`
	Rules []string `json:"rules"`
}

// Package is one resolved plugin.
type Package struct {
	Name       string   `json:"name"`
	Constraint string   `json:"constraint,omitempty"`
	Features   []string `json:"features"`
}

// Gap is a file the collector skipped.
type Gap struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Detection summarises the detect stages of o.
func (o *Outcome) Detection(root string) *Detection {
	d := &Detection{Root: root, Plugins: map[string][]Package{}}
	if o.Signals != nil {
		d.Signals = o.Signals.All()
		for _, g := range o.Signals.Gaps {
			d.Gaps = append(d.Gaps, Gap{Path: g.Path, Reason: g.Reason})
		}
	}
	if o.Evaluation != nil {
		for _, f := range o.Evaluation.Features.Sorted() {
			d.Features = append(d.Features, DetectedFeature{Name: string(f), Rules: o.Evaluation.RuleIDs(f)})
		}
		if len(o.Evaluation.Suppressed) > 0 {
			d.Suppressed = make(map[string][]string, len(o.Evaluation.Suppressed))
			for f, ids := range o.Evaluation.Suppressed {
				d.Suppressed[string(f)] = ids
			}
		}
	}
	if o.Plugins != nil {
		for _, eco := range o.Plugins.Ecosystems() {
			for _, p := range o.Plugins.Packages(eco) {
				d.Plugins[eco] = append(d.Plugins[eco], Package{
					Name:       p.Package,
					Constraint: p.Constraint,
					Features:   featureNames(p),
				})
			}
		}
	}
	return d
}

func featureNames(p resolver.Resolved) []string {
	out := make([]string, len(p.Features))
	for i, f := range p.Features {
		out[i] = string(f)
	}
	return out
}
