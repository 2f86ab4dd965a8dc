package resolver

import (
	"fmt"
	"strings"

	"github.com/agentx-labs/stackforge/internal/rules"
	shellquote "github.com/kballard/go-shellquote"
)

// Placeholders recognised in install commands and package formats.
const (
	tokenPackages   = "{{packages}}"
	tokenName       = "{{name}}"
	tokenConstraint = "{{constraint}}"
	tokenVersion    = "{{version}}"
)

// Ecosystem describes how one ecosystem installs packages.
type Ecosystem struct {
	Name string
	// Install is a command line. "{{packages}}" expands to one argument per
	// package; with PerPackage the command runs once per package and may use
	// "{{name}}", "{{version}}" and "{{constraint}}".
	Install string
	// Manifests are the root-relative files the installer modifies.
	Manifests []string
	// PackageFormat renders one package argument, default "{{name}}@{{constraint}}".
	PackageFormat string
	// ConstraintAnd joins merged constraints in the installer's syntax, default ", ".
	ConstraintAnd string
	PerPackage    bool
	Variants      []Variant
}

// Variant overrides the install command when a feature is active, e.g.
// pnpm or yarn for the node ecosystem.
type Variant struct {
	When      rules.Feature
	Install   string
	Manifests []string
}

// Installer is a concrete installer invocation plan.
type Installer struct {
	Ecosystem string
	Commands  [][]string
	Manifests []string
}

// Binary returns the executable the installer runs.
func (i Installer) Binary() string {
	if len(i.Commands) == 0 || len(i.Commands[0]) == 0 {
		return ""
	}
	return i.Commands[0][0]
}

// String renders the commands for display.
func (i Installer) String() string {
	lines := make([]string, len(i.Commands))
	for n, argv := range i.Commands {
		lines[n] = shellquote.Join(argv...)
	}
	return strings.Join(lines, " && ")
}

// Installer builds the commands installing pkgs, choosing the first variant
// whose feature is active.
func (e Ecosystem) Installer(features rules.FeatureSet, pkgs []Resolved) (Installer, error) {
	command, manifests := e.Install, e.Manifests
	for _, v := range e.Variants {
		if features.Has(v.When) {
			command = v.Install
			if len(v.Manifests) > 0 {
				manifests = v.Manifests
			}
			break
		}
	}
	if strings.TrimSpace(command) == "" {
		return Installer{}, fmt.Errorf("ecosystem %s has no install command", e.Name)
	}
	template, err := shellquote.Split(command)
	if err != nil {
		return Installer{}, fmt.Errorf("parsing install command for %s: %w", e.Name, err)
	}

	inst := Installer{Ecosystem: e.Name, Manifests: manifests}
	if e.PerPackage {
		for _, p := range pkgs {
			argv := make([]string, 0, len(template))
			for _, arg := range template {
				argv = append(argv, e.expand(arg, p))
			}
			inst.Commands = append(inst.Commands, argv)
		}
		return inst, nil
	}

	argv := make([]string, 0, len(template)+len(pkgs))
	for _, arg := range template {
		if arg == tokenPackages {
			for _, p := range pkgs {
				argv = append(argv, e.FormatPackage(p))
			}
			continue
		}
		argv = append(argv, arg)
	}
	inst.Commands = [][]string{argv}
	return inst, nil
}

// FormatPackage renders one package argument.
func (e Ecosystem) FormatPackage(p Resolved) string {
	if isWildcard(p.Constraint) {
		return p.Package
	}
	format := e.PackageFormat
	if format == "" {
		format = tokenName + "@" + tokenConstraint
	}
	return e.expand(format, p)
}

func (e Ecosystem) expand(s string, p Resolved) string {
	constraint := p.Constraint
	if e.ConstraintAnd != "" {
		constraint = strings.ReplaceAll(constraint, ", ", e.ConstraintAnd)
	}
	return strings.NewReplacer(
		tokenName, p.Package,
		tokenConstraint, constraint,
		tokenVersion, PinnedVersion(p.Constraint),
	).Replace(s)
}
