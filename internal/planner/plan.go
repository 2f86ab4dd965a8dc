package planner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/agentx-labs/stackforge/internal/faults"
	"github.com/agentx-labs/stackforge/internal/fsutil"
	"github.com/agentx-labs/stackforge/internal/logging"
	"github.com/agentx-labs/stackforge/internal/resolver"
	"github.com/agentx-labs/stackforge/internal/rules"
	"github.com/agentx-labs/stackforge/internal/signal"
	"github.com/agentx-labs/stackforge/internal/synth"
)

// GitFeature gates hook registration.
const GitFeature rules.Feature = "git"

// Input is everything a plan is computed from.
type Input struct {
	Features   rules.FeatureSet
	Plugins    *resolver.PluginSet
	Signals    *signal.Set
	Ecosystems map[string]resolver.Ecosystem
	Artifacts  []synth.Artifact
}

// Options configures a Planner.
type Options struct {
	Runner Runner
	Logger *zap.Logger
	// MarkerTag is written into managed-region markers.
	MarkerTag string
	// InstallTimeout bounds each installer command; zero means no limit.
	InstallTimeout time.Duration
}

// Planner builds and applies plans.
type Planner struct {
	runner         Runner
	logger         *zap.Logger
	synth          *synth.Synthesizer
	installTimeout time.Duration

	// writeMu serialises file commits across ecosystem lanes.
	writeMu sync.Mutex
}

// New creates a Planner. A nil Runner runs real subprocesses.
func New(opts Options) *Planner {
	logger := logging.OrNop(opts.Logger)
	runner := opts.Runner
	if runner == nil {
		runner = &ExecRunner{}
	}
	return &Planner{
		runner:         runner,
		logger:         logger,
		synth:          synth.New(opts.MarkerTag, logger),
		installTimeout: opts.InstallTimeout,
	}
}

// Plan is an ordered list of steps for one project root.
type Plan struct {
	Root     string
	Features rules.FeatureSet
	Plugins  *resolver.PluginSet
	Steps    []*Step
}

// Pending returns the steps that would change something.
func (p *Plan) Pending() []*Step {
	var out []*Step
	for _, s := range p.Steps {
		if s.Status == StatusPending {
			out = append(out, s)
		}
	}
	return out
}

// Conflicts returns the synthesis conflicts found while planning.
func (p *Plan) Conflicts() []error {
	var out []error
	for _, s := range p.Steps {
		if s.Status == StatusConflict && s.Err != nil {
			out = append(out, s.Err)
		}
	}
	return out
}

// Clean reports whether every step is a no-op.
func (p *Plan) Clean() bool {
	for _, s := range p.Steps {
		if s.Status != StatusNoop {
			return false
		}
	}
	return true
}

// Fingerprint identifies the plan's steps, statuses and keys. Planning the
// same project twice without changes yields the same fingerprint.
func (p *Plan) Fingerprint() string {
	parts := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		parts = append(parts, strings.Join([]string{s.ID, string(s.Status), s.IdempotencyKey, s.CurrentKey}, "\t"))
	}
	return hashKey(domainPlan, parts...)
}

// Plan computes the steps for root. It reads the file system but never
// writes to it. Synthesis conflicts become conflict steps rather than
// errors so the rest of the plan stays visible.
func (p *Planner) Plan(ctx context.Context, root string, in Input) (*Plan, error) {
	if in.Features == nil {
		in.Features = rules.NewFeatureSet()
	}
	if in.Plugins == nil {
		in.Plugins = &resolver.PluginSet{}
	}
	plan := &Plan{Root: root, Features: in.Features, Plugins: in.Plugins}
	rc := synth.RenderContext{Features: in.Features, Plugins: in.Plugins}

	for _, eco := range in.Plugins.Ecosystems() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		spec, ok := in.Ecosystems[eco]
		if !ok {
			return nil, fmt.Errorf("plugins need ecosystem %q, which the registry does not declare", eco)
		}
		step, err := p.installStep(root, spec, in)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, step)
	}

	gitDir := isDir(root, ".git")
	for _, a := range in.Artifacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !a.Active(in.Features) {
			continue
		}
		step, err := p.writeStep(root, a, rc)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, step)

		if a.Hook == "" || !in.Features.Has(GitFeature) || !gitDir {
			continue
		}
		hook, err := p.hookStep(root, a, rc)
		if err != nil {
			return nil, err
		}
		if step.Status == StatusConflict && hook.Status == StatusPending {
			hook.Status = StatusSkipped
			hook.Reason = fmt.Sprintf("hook script %s conflicts", a.Path)
		}
		plan.Steps = append(plan.Steps, hook)
	}

	sortSteps(plan.Steps)
	skipSiblings(plan.Steps)

	p.logger.Debug("plan built",
		zap.String("root", root),
		zap.Int("steps", len(plan.Steps)),
		zap.Int("pending", len(plan.Pending())),
		zap.String("fingerprint", plan.Fingerprint()),
	)
	return plan, nil
}

func (p *Planner) installStep(root string, eco resolver.Ecosystem, in Input) (*Step, error) {
	pkgs := in.Plugins.Packages(eco.Name)
	var satisfied, missing []resolver.Resolved
	for _, pkg := range pkgs {
		if installed(in.Signals, pkg) {
			satisfied = append(satisfied, pkg)
		} else {
			missing = append(missing, pkg)
		}
	}

	step := &Step{
		ID:             stepID(KindInstall, eco.Name),
		Kind:           KindInstall,
		Ecosystem:      eco.Name,
		Packages:       pkgs,
		Missing:        missing,
		IdempotencyKey: installKey(eco.Name, pkgs),
		CurrentKey:     installKey(eco.Name, satisfied),
		Status:         StatusPending,
	}
	if step.IdempotencyKey == step.CurrentKey {
		step.Status = StatusNoop
		step.Summary = "all packages present"
		return step, nil
	}

	inst, err := eco.Installer(in.Features, missing)
	if err != nil {
		return nil, err
	}
	step.Installer = &inst
	step.Summary = fmt.Sprintf("install %d package(s)", len(missing))

	var snapshots []*fsutil.Snapshot
	step.apply = func(ctx context.Context) error {
		snapshots = snapshots[:0]
		for _, m := range inst.Manifests {
			abs, err := fsutil.Join(root, m)
			if err != nil {
				return err
			}
			snap, err := fsutil.TakeSnapshot(abs)
			if err != nil {
				return err
			}
			snapshots = append(snapshots, snap)
		}
		return p.runInstaller(ctx, root, inst)
	}
	step.rollback = func(context.Context) error {
		var errs []error
		for i := len(snapshots) - 1; i >= 0; i-- {
			if err := snapshots[i].Restore(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	return step, nil
}

func (p *Planner) runInstaller(ctx context.Context, root string, inst resolver.Installer) error {
	if p.installTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.installTimeout)
		defer cancel()
	}
	for _, argv := range inst.Commands {
		p.logger.Info("running installer", zap.String("ecosystem", inst.Ecosystem), zap.Strings("argv", argv))
		out, err := p.runner.Run(ctx, root, argv)
		if err != nil {
			return err
		}
		if out.ExitCode != 0 {
			return fmt.Errorf("%s exited with status %d: %s", argv[0], out.ExitCode, tail(out.Stderr, 20))
		}
	}
	return nil
}

// installed reports whether some manifest declares pkg at a version that
// satisfies its constraint.
func installed(signals *signal.Set, pkg resolver.Resolved) bool {
	if signals == nil {
		return false
	}
	for _, declared := range signals.Values(signal.Dependency(pkg.Package)) {
		if resolver.Satisfies(declared, pkg.Constraint) {
			return true
		}
	}
	return false
}

func (p *Planner) writeStep(root string, a synth.Artifact, rc synth.RenderContext) (*Step, error) {
	step := &Step{
		ID:         stepID(KindWrite, a.Path),
		Kind:       KindWrite,
		Ecosystem:  a.Ecosystem,
		Path:       a.Path,
		ArtifactID: a.ID,
	}
	if err := p.synthesize(root, a, rc, step); err != nil {
		return nil, err
	}
	return step, nil
}

// hookStep plans the shim in .git/hooks that delegates to the managed hook
// script. The shim is itself a managed region, so a foreign hook is
// reported as a conflict instead of being replaced.
func (p *Planner) hookStep(root string, script synth.Artifact, rc synth.RenderContext) (*Step, error) {
	depth := strings.Count(path.Clean(".git/hooks/"+script.Hook), "/")
	text := fmt.Sprintf("#!/bin/sh\nexec \"$(dirname \"$0\")/%s%s\" \"$@\"\n", strings.Repeat("../", depth), script.Path)
	tmpl, err := template.New(script.ID + "-shim").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("building hook shim for %s: %w", script.ID, err)
	}
	shim := synth.Artifact{
		ID:        "hook-" + script.Hook,
		Path:      ".git/hooks/" + script.Hook,
		Format:    synth.FormatScript,
		Strategy:  synth.FailIfConflicting,
		Ecosystem: script.Ecosystem,
		Triggers:  []rules.Feature{GitFeature},
		Mode:      0o755,
		Template:  tmpl,
	}
	step := &Step{
		ID:         stepID(KindHook, script.Hook),
		Kind:       KindHook,
		Ecosystem:  script.Ecosystem,
		Path:       shim.Path,
		ArtifactID: script.ID,
	}
	if err := p.synthesize(root, shim, rc, step); err != nil {
		return nil, err
	}
	return step, nil
}

// synthesize fills step from the artifact's merge result and wires the
// staged write.
func (p *Planner) synthesize(root string, a synth.Artifact, rc synth.RenderContext, step *Step) error {
	abs, err := fsutil.Join(root, a.Path)
	if err != nil {
		return err
	}
	existing, exists, err := fsutil.ReadIfExists(abs)
	if err != nil {
		p.conflict(step, &faults.SynthesisConflict{ArtifactID: a.ID, Path: a.Path, Reason: "existing target cannot be read", Cause: err})
		step.IdempotencyKey, step.CurrentKey = absentKey(a.Path), absentKey(a.Path)
		return nil
	}
	if exists {
		step.Before = existing
		step.BeforeMode = fsutil.FileMode(abs)
		step.CurrentKey = writeKey(a.Path, existing, step.BeforeMode)
	} else {
		step.CurrentKey = absentKey(a.Path)
	}

	res, err := p.synth.Synthesize(a, rc, step.Before)
	if err != nil {
		var conflict *faults.SynthesisConflict
		if !errors.As(err, &conflict) {
			return err
		}
		p.conflict(step, conflict)
		step.IdempotencyKey = step.CurrentKey
		return nil
	}
	if res.Degraded {
		p.logger.Warn("merge strategy degraded to overwrite-if-absent", zap.String("artifact", a.ID), zap.String("path", a.Path))
	}

	step.After = res.Final
	step.Change = res.Change
	step.Summary = res.Summary
	step.Degraded = res.Degraded
	step.Mode = targetMode(a.Mode, step.BeforeMode, exists)
	step.IdempotencyKey = writeKey(a.Path, step.After, step.Mode)
	if step.IdempotencyKey == step.CurrentKey {
		step.Status = StatusNoop
		return nil
	}
	step.Status = StatusPending

	var snap *fsutil.Snapshot
	step.apply = func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.writeMu.Lock()
		defer p.writeMu.Unlock()

		current, ok, err := fsutil.ReadIfExists(abs)
		if err != nil {
			return err
		}
		key := absentKey(a.Path)
		if ok {
			key = writeKey(a.Path, current, fsutil.FileMode(abs))
		}
		if key != step.CurrentKey {
			return fmt.Errorf("%s changed since the plan was built", a.Path)
		}

		snap, err = fsutil.TakeSnapshot(abs)
		if err != nil {
			return err
		}
		created, err := fsutil.WriteAtomic(abs, step.After, step.Mode)
		snap.CreatedDirs = created
		return err
	}
	step.rollback = func(context.Context) error {
		if snap == nil {
			return nil
		}
		p.writeMu.Lock()
		defer p.writeMu.Unlock()
		return snap.Restore()
	}
	return nil
}

// conflict marks step as blocked by sc. Conflicting steps never apply.
func (p *Planner) conflict(step *Step, sc *faults.SynthesisConflict) {
	step.Status = StatusConflict
	step.Err = sc
	step.Summary = sc.Reason
	p.logger.Warn("artifact conflicts with existing file", zap.String("artifact", sc.ArtifactID), zap.String("path", sc.Path), zap.String("reason", sc.Reason))
}

// targetMode keeps the permissions of an existing file and adds the
// executable bits the artifact asks for.
func targetMode(want, existing fs.FileMode, exists bool) fs.FileMode {
	if want == 0 {
		want = 0o644
	}
	if !exists {
		return want.Perm()
	}
	return (existing | want&0o111).Perm()
}

// skipSiblings marks the other steps of an ecosystem as skipped when one of
// its artifacts conflicts and its install step would change something.
func skipSiblings(steps []*Step) {
	blocked := make(map[string]string)
	for _, s := range steps {
		if s.Status == StatusConflict && s.Ecosystem != "" {
			if _, ok := blocked[s.Ecosystem]; !ok {
				blocked[s.Ecosystem] = s.Path
			}
		}
	}
	if len(blocked) == 0 {
		return
	}
	installing := make(map[string]bool)
	for _, s := range steps {
		if s.Kind == KindInstall && s.Status == StatusPending {
			installing[s.Ecosystem] = true
		}
	}
	for _, s := range steps {
		conflictPath, ok := blocked[s.Ecosystem]
		if !ok || !installing[s.Ecosystem] || s.Status != StatusPending {
			continue
		}
		s.Status = StatusSkipped
		s.Reason = fmt.Sprintf("%s conflicts", conflictPath)
	}
}

func isDir(root, rel string) bool {
	abs, err := fsutil.Join(root, rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.IsDir()
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
