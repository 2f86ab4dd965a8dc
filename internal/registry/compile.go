package registry

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/Masterminds/semver/v3"

	"github.com/agentx-labs/stackforge/internal/resolver"
	"github.com/agentx-labs/stackforge/internal/rules"
	"github.com/agentx-labs/stackforge/internal/signal"
	"github.com/agentx-labs/stackforge/internal/synth"
)

// Compiled is a registry turned into the types the pipeline consumes.
type Compiled struct {
	Rules      []rules.Rule
	Exclusions []rules.Exclusion
	Plugins    []resolver.Plugin
	Ecosystems map[string]resolver.Ecosystem
	Artifacts  []synth.Artifact
	// Probes are the globs named by file:exists conditions, sorted.
	Probes []string
	// Versions lists "<file>@<version>" for every versioned document.
	Versions []string
}

// Compile builds every table and cross-checks them.
func (r *Registry) Compile() (*Compiled, error) {
	c := &Compiled{
		Ecosystems: make(map[string]resolver.Ecosystem, len(r.ecosystems)),
		Versions:   append([]string(nil), r.versions...),
	}
	probes := make(map[string]bool)

	for _, e := range r.ecosystems {
		if _, dup := c.Ecosystems[e.spec.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate ecosystem %q", e.file, e.spec.Name)
		}
		c.Ecosystems[e.spec.Name] = compileEcosystem(e.spec)
	}

	for _, e := range r.rules {
		rule, err := compileRule(e.spec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.file, err)
		}
		c.Rules = append(c.Rules, rule)
		for _, key := range e.spec.When.keys() {
			if glob, ok := strings.CutPrefix(key, signal.PrefixFileExists); ok {
				probes[glob] = true
			}
		}
	}

	for _, e := range r.exclusions {
		c.Exclusions = append(c.Exclusions, rules.Exclusion{Slot: e.spec.Slot, Features: features(e.spec.Features)})
	}
	if err := rules.Validate(c.Rules, c.Exclusions); err != nil {
		return nil, err
	}

	produced := make(rules.FeatureSet)
	for _, rule := range c.Rules {
		produced[rule.Produces] = struct{}{}
	}

	for _, e := range r.plugins {
		if _, ok := c.Ecosystems[e.spec.Ecosystem]; !ok {
			return nil, fmt.Errorf("%s: plugin %s names unknown ecosystem %q", e.file, e.spec.Package, e.spec.Ecosystem)
		}
		if err := checkTriggers(produced, e.spec.Triggers); err != nil {
			return nil, fmt.Errorf("%s: plugin %s: %w", e.file, e.spec.Package, err)
		}
		c.Plugins = append(c.Plugins, resolver.Plugin{
			Ecosystem:  e.spec.Ecosystem,
			Package:    e.spec.Package,
			Constraint: e.spec.Version,
			Triggers:   features(e.spec.Triggers),
		})
	}

	ids := make(map[string]bool, len(r.artifacts))
	paths := make(map[string]string, len(r.artifacts))
	hooks := make(map[string]string)
	for _, e := range r.artifacts {
		a, err := compileArtifact(e)
		if err != nil {
			return nil, fmt.Errorf("%s: artifact %s: %w", e.file, e.spec.ID, err)
		}
		if ids[a.ID] {
			return nil, fmt.Errorf("%s: duplicate artifact id %q", e.file, a.ID)
		}
		ids[a.ID] = true
		if owner, ok := paths[a.Path]; ok {
			return nil, fmt.Errorf("%s: artifacts %s and %s both write %s", e.file, owner, a.ID, a.Path)
		}
		paths[a.Path] = a.ID
		if a.Hook != "" {
			if owner, ok := hooks[a.Hook]; ok {
				return nil, fmt.Errorf("%s: artifacts %s and %s both register git hook %s", e.file, owner, a.ID, a.Hook)
			}
			hooks[a.Hook] = a.ID
		}
		if a.Ecosystem != "" {
			if _, ok := c.Ecosystems[a.Ecosystem]; !ok {
				return nil, fmt.Errorf("%s: artifact %s names unknown ecosystem %q", e.file, a.ID, a.Ecosystem)
			}
		}
		if err := checkTriggers(produced, e.spec.Triggers); err != nil {
			return nil, fmt.Errorf("%s: artifact %s: %w", e.file, a.ID, err)
		}
		c.Artifacts = append(c.Artifacts, a)
	}

	for glob := range probes {
		c.Probes = append(c.Probes, glob)
	}
	sort.Strings(c.Probes)
	sort.Slice(c.Artifacts, func(i, j int) bool { return c.Artifacts[i].Path < c.Artifacts[j].Path })
	return c, nil
}

// Features returns every feature some rule can produce, sorted.
func (c *Compiled) Features() []rules.Feature {
	set := make(rules.FeatureSet)
	for _, r := range c.Rules {
		set[r.Produces] = struct{}{}
	}
	return set.Sorted()
}

func (w WhenSpec) keys() []string {
	keys := make([]string, 0, len(w.All)+len(w.Any)+len(w.None)+len(w.Versions))
	keys = append(keys, w.All...)
	keys = append(keys, w.Any...)
	keys = append(keys, w.None...)
	for _, v := range w.Versions {
		keys = append(keys, v.Key)
	}
	return keys
}

func compileRule(spec RuleSpec) (rules.Rule, error) {
	var preds []rules.Predicate
	if len(spec.When.All) > 0 {
		preds = append(preds, rules.All(spec.When.All...))
	}
	if len(spec.When.Any) > 0 {
		preds = append(preds, rules.Any(spec.When.Any...))
	}
	if len(spec.When.None) > 0 {
		preds = append(preds, rules.None(spec.When.None...))
	}
	for _, v := range spec.When.Versions {
		c, err := semver.NewConstraint(v.Constraint)
		if err != nil {
			return rules.Rule{}, fmt.Errorf("rule %s: version constraint %q for %s: %w", spec.ID, v.Constraint, v.Key, err)
		}
		preds = append(preds, rules.VersionSatisfies(v.Key, c))
	}
	if len(preds) == 0 {
		return rules.Rule{}, fmt.Errorf("rule %s has an empty condition", spec.ID)
	}
	return rules.Rule{
		ID:          spec.ID,
		Produces:    rules.Feature(spec.Produces),
		Priority:    spec.Priority,
		Description: spec.Description,
		Predicate:   rules.And(preds...),
	}, nil
}

func compileEcosystem(spec EcosystemSpec) resolver.Ecosystem {
	eco := resolver.Ecosystem{
		Name:          spec.Name,
		Install:       spec.Install,
		Manifests:     spec.Manifests,
		PackageFormat: spec.PackageFormat,
		ConstraintAnd: spec.ConstraintAnd,
		PerPackage:    spec.PerPackage,
	}
	for _, v := range spec.Variants {
		eco.Variants = append(eco.Variants, resolver.Variant{
			When:      rules.Feature(v.When),
			Install:   v.Install,
			Manifests: v.Manifests,
		})
	}
	return eco
}

func compileArtifact(e entry[ArtifactSpec]) (synth.Artifact, error) {
	spec := e.spec
	a := synth.Artifact{
		ID:        spec.ID,
		Path:      path.Clean(spec.Path),
		Format:    synth.Format(spec.Format),
		Strategy:  synth.Strategy(spec.Merge),
		Ecosystem: spec.Ecosystem,
		Triggers:  features(spec.Triggers),
		Mode:      0o644,
		Comment:   spec.Comment,
		Hook:      spec.Hook,
	}
	if strings.HasPrefix(a.Path, "../") || a.Path == ".." {
		return a, fmt.Errorf("path %q escapes the project root", spec.Path)
	}
	if err := synth.CheckStrategy(a.Format, a.Strategy); err != nil {
		return a, err
	}
	if spec.Mode != "" {
		mode, err := strconv.ParseUint(spec.Mode, 8, 32)
		if err != nil {
			return a, fmt.Errorf("mode %q: %w", spec.Mode, err)
		}
		a.Mode = fs.FileMode(mode)
	}
	if a.Hook != "" && a.Format != synth.FormatScript {
		return a, fmt.Errorf("hook %s requires format script, got %s", a.Hook, a.Format)
	}

	text := spec.Template
	if spec.TemplateFile != "" {
		data, err := fs.ReadFile(e.source.FS, spec.TemplateFile)
		if err != nil {
			return a, fmt.Errorf("reading template %s: %w", spec.TemplateFile, err)
		}
		text = string(data)
	}
	tmpl, err := template.New(spec.ID).Funcs(synth.FuncMap()).Option("missingkey=error").Parse(text)
	if err != nil {
		return a, fmt.Errorf("parsing template: %w", err)
	}
	a.Template = tmpl
	return a, nil
}

func checkTriggers(produced rules.FeatureSet, triggers []string) error {
	for _, t := range triggers {
		if !produced.Has(rules.Feature(t)) {
			return fmt.Errorf("trigger %q is not produced by any rule", t)
		}
	}
	return nil
}

func features(names []string) []rules.Feature {
	out := make([]rules.Feature, len(names))
	for i, n := range names {
		out[i] = rules.Feature(n)
	}
	return out
}
