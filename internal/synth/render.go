package synth

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/agentx-labs/stackforge/internal/faults"
	"github.com/agentx-labs/stackforge/internal/resolver"
	"github.com/agentx-labs/stackforge/internal/rules"
)

// RenderContext is the input every template is rendered against.
type RenderContext struct {
	Features rules.FeatureSet
	Plugins  *resolver.PluginSet
}

// templateData is what templates see as ".".
type templateData struct {
	ctx RenderContext
}

// Has reports whether a feature is active: {{if .Has "react"}}.
func (d templateData) Has(name string) bool { return d.ctx.Features.Has(rules.Feature(name)) }

// HasAny reports whether any of the features is active.
func (d templateData) HasAny(names ...string) bool {
	for _, n := range names {
		if d.Has(n) {
			return true
		}
	}
	return false
}

// Features returns the sorted active feature names.
func (d templateData) Features() []string { return d.ctx.Features.Strings() }

// Plugins returns the package names resolved for an ecosystem.
func (d templateData) Plugins(ecosystem string) []string { return d.ctx.Plugins.Names(ecosystem) }

// HasPlugin reports whether a package was resolved for an ecosystem.
func (d templateData) HasPlugin(ecosystem, pkg string) bool { return d.ctx.Plugins.Has(ecosystem, pkg) }

// FuncMap returns the helper functions available to artifact templates.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"join":  strings.Join,
		"quote": func(s string) string { return fmt.Sprintf("%q", s) },
		"sorted": func(in []string) []string {
			out := append([]string(nil), in...)
			sort.Strings(out)
			return out
		},
	}
}

// Render executes the artifact template. The output always ends with a
// newline unless it is empty.
func Render(a Artifact, rc RenderContext) ([]byte, error) {
	if a.Template == nil {
		return nil, &faults.SynthesisConflict{ArtifactID: a.ID, Path: a.Path, Reason: "artifact has no template"}
	}
	var buf bytes.Buffer
	if err := a.Template.Execute(&buf, templateData{ctx: rc}); err != nil {
		return nil, &faults.SynthesisConflict{ArtifactID: a.ID, Path: a.Path, Reason: "rendering template failed", Cause: err}
	}
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out, nil
}
