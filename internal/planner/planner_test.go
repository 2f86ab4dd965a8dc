package planner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"text/template"
	"time"

	"go.uber.org/goleak"

	"github.com/agentx-labs/stackforge/internal/faults"
	"github.com/agentx-labs/stackforge/internal/resolver"
	"github.com/agentx-labs/stackforge/internal/rules"
	"github.com/agentx-labs/stackforge/internal/signal"
	"github.com/agentx-labs/stackforge/internal/synth"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	exitCode int
	err      error
	effect   func(dir string) error
}

func (f *fakeRunner) Run(_ context.Context, dir string, argv []string) (*Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, argv)
	f.mu.Unlock()
	if f.effect != nil {
		if err := f.effect(dir); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Output{ExitCode: f.exitCode, Stderr: "boom"}, nil
}

// runnerFunc adapts a function to the Runner interface.
type runnerFunc func(ctx context.Context, dir string, argv []string) (*Output, error)

func (f runnerFunc) Run(ctx context.Context, dir string, argv []string) (*Output, error) {
	return f(ctx, dir, argv)
}

func artifact(id, path, eco string, format synth.Format, strategy synth.Strategy, text string, triggers ...rules.Feature) synth.Artifact {
	return synth.Artifact{
		ID:        id,
		Path:      path,
		Format:    format,
		Strategy:  strategy,
		Ecosystem: eco,
		Triggers:  triggers,
		Mode:      0o644,
		Template:  template.Must(template.New(id).Funcs(synth.FuncMap()).Parse(text)),
	}
}

var nodeEcosystem = resolver.Ecosystem{
	Name:      "node",
	Install:   "npm install --save-dev {{packages}}",
	Manifests: []string{"package.json"},
}

func resolve(t *testing.T, features rules.FeatureSet, plugins ...resolver.Plugin) *resolver.PluginSet {
	t.Helper()
	set, err := resolver.Resolve(features, plugins)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	return set
}

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("reading %s: %v", rel, err)
	}
	return string(data)
}

func stepByID(t *testing.T, plan *Plan, id string) *Step {
	t.Helper()
	for _, s := range plan.Steps {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("plan has no step %s", id)
	return nil
}

func TestPlanApply_SecondRunIsNoop(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "secrets.env\n")

	features := rules.NewFeatureSet("node")
	in := Input{
		Features: features,
		Artifacts: []synth.Artifact{
			artifact("gitignore", ".gitignore", "", synth.FormatIgnore, synth.AppendUniqueLines, "node_modules/\n", "node"),
			artifact("prettier", ".prettierrc.json", "node", synth.FormatJSON, synth.DeepMergeSections, `{"semi": true}`, "node"),
			artifact("nested", "config/tool.yml", "node", synth.FormatYAML, synth.OverwriteIfAbsent, "a: 1\n", "node"),
		},
	}
	p := New(Options{Runner: &fakeRunner{}})

	plan, err := p.Plan(context.Background(), root, in)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	if got := len(plan.Pending()); got != 3 {
		t.Fatalf("pending steps = %d, want 3", got)
	}
	again, err := p.Plan(context.Background(), root, in)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	if plan.Fingerprint() != again.Fingerprint() {
		t.Error("fingerprint differs between two plans of the same project")
	}

	res := p.Apply(context.Background(), plan, ApplyOptions{})
	if res.Err != nil {
		t.Fatalf("Apply() error: %v", res.Err)
	}
	if got := res.Count(OutcomeApplied); got != 3 {
		t.Errorf("applied = %d, want 3", got)
	}
	if got, want := readFile(t, root, ".gitignore"), "secrets.env\nnode_modules/\n"; got != want {
		t.Errorf(".gitignore = %q, want %q", got, want)
	}
	if got := readFile(t, root, "config/tool.yml"); got != "a: 1\n" {
		t.Errorf("config/tool.yml = %q", got)
	}

	second, err := p.Plan(context.Background(), root, in)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	if !second.Clean() {
		for _, s := range second.Pending() {
			t.Errorf("step %s still pending after apply", s.ID)
		}
	}
}

func TestPlan_Ordering(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	features := rules.NewFeatureSet("node", "go", "git")
	plugins := resolve(t, features,
		resolver.Plugin{Ecosystem: "node", Package: "eslint", Constraint: "^9.0.0", Triggers: []rules.Feature{"node"}},
		resolver.Plugin{Ecosystem: "go", Package: "mvdan.cc/gofumpt", Constraint: "^0.8.0", Triggers: []rules.Feature{"go"}},
	)
	hook := artifact("pre-commit", ".githooks/pre-commit", "", synth.FormatScript, synth.FailIfConflicting, "#!/bin/sh\necho ok\n", "git")
	hook.Hook = "pre-commit"
	hook.Mode = 0o755
	in := Input{
		Features: features,
		Plugins:  plugins,
		Ecosystems: map[string]resolver.Ecosystem{
			"node": nodeEcosystem,
			"go":   {Name: "go", Install: "go get -tool {{packages}}", PackageFormat: "{{name}}@v{{version}}"},
		},
		Artifacts: []synth.Artifact{
			artifact("z", "z.txt", "node", synth.FormatText, synth.OverwriteIfAbsent, "z", "node"),
			artifact("golangci", ".golangci.yml", "go", synth.FormatYAML, synth.DeepMergeSections, "version: \"2\"\n", "go"),
			artifact("a", "a.txt", "node", synth.FormatText, synth.OverwriteIfAbsent, "a", "node"),
			hook,
		},
	}
	plan, err := New(Options{}).Plan(context.Background(), root, in)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}

	var got []string
	for _, s := range plan.Steps {
		got = append(got, s.ID)
	}
	want := []string{
		"install:go",
		"install:node",
		"write:.githooks/pre-commit",
		"write:.golangci.yml",
		"write:a.txt",
		"write:z.txt",
		"hook-register:pre-commit",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("step order = %v, want %v", got, want)
	}

	goInstall := stepByID(t, plan, "install:go")
	if goInstall.Installer == nil || goInstall.Installer.String() != "go get -tool mvdan.cc/gofumpt@v0.8.0" {
		t.Errorf("go installer = %v", goInstall.Installer)
	}
}

func TestPlan_InstallKeys(t *testing.T) {
	features := rules.NewFeatureSet("node")
	plugins := resolve(t, features,
		resolver.Plugin{Ecosystem: "node", Package: "eslint", Constraint: "^9.0.0", Triggers: []rules.Feature{"node"}},
		resolver.Plugin{Ecosystem: "node", Package: "prettier", Constraint: "^3.0.0", Triggers: []rules.Feature{"node"}},
	)
	tests := []struct {
		name        string
		deps        map[string]string
		wantStatus  Status
		wantMissing []string
	}{
		{"nothing installed", nil, StatusPending, []string{"eslint", "prettier"}},
		{"one outdated", map[string]string{"eslint": "^8.57.0", "prettier": "^3.3.3"}, StatusPending, []string{"eslint"}},
		{"all satisfied", map[string]string{"eslint": "^9.10.0", "prettier": "3.3.3"}, StatusNoop, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sigs []signal.Signal
			for name, v := range tt.deps {
				sigs = append(sigs, signal.Signal{Key: signal.Dependency(name), Value: v, SourcePath: "package.json"})
			}
			in := Input{
				Features:   features,
				Plugins:    plugins,
				Signals:    signal.NewSet(sigs),
				Ecosystems: map[string]resolver.Ecosystem{"node": nodeEcosystem},
			}
			plan, err := New(Options{}).Plan(context.Background(), t.TempDir(), in)
			if err != nil {
				t.Fatalf("Plan() error: %v", err)
			}
			step := stepByID(t, plan, "install:node")
			if step.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", step.Status, tt.wantStatus)
			}
			var missing []string
			for _, m := range step.Missing {
				missing = append(missing, m.Package)
			}
			if strings.Join(missing, ",") != strings.Join(tt.wantMissing, ",") {
				t.Errorf("Missing = %v, want %v", missing, tt.wantMissing)
			}
		})
	}
}

func TestPlan_UnknownEcosystem(t *testing.T) {
	features := rules.NewFeatureSet("node")
	plugins := resolve(t, features, resolver.Plugin{Ecosystem: "node", Package: "eslint", Triggers: []rules.Feature{"node"}})
	_, err := New(Options{}).Plan(context.Background(), t.TempDir(), Input{Features: features, Plugins: plugins})
	if err == nil || !strings.Contains(err.Error(), `"node"`) {
		t.Fatalf("Plan() error = %v, want unknown ecosystem", err)
	}
}

func TestPlan_SiblingSkip(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "eslint.config.mjs", "export default [];\n")

	features := rules.NewFeatureSet("node")
	plugins := resolve(t, features, resolver.Plugin{Ecosystem: "node", Package: "eslint", Constraint: "^9.0.0", Triggers: []rules.Feature{"node"}})
	eslint := artifact("eslint", "eslint.config.mjs", "node", synth.FormatText, synth.FailIfConflicting, "export default [js];\n", "node")
	eslint.Comment = "//"
	in := Input{
		Features:   features,
		Plugins:    plugins,
		Ecosystems: map[string]resolver.Ecosystem{"node": nodeEcosystem},
		Artifacts: []synth.Artifact{
			eslint,
			artifact("prettier", ".prettierrc.json", "node", synth.FormatJSON, synth.DeepMergeSections, `{"semi": true}`, "node"),
			artifact("editorconfig", ".editorconfig", "", synth.FormatINI, synth.DeepMergeSections, "root = true\n", "node"),
		},
	}
	runner := &fakeRunner{}
	p := New(Options{Runner: runner})
	plan, err := p.Plan(context.Background(), root, in)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}

	wants := map[string]Status{
		"install:node":            StatusSkipped,
		"write:eslint.config.mjs": StatusConflict,
		"write:.prettierrc.json":  StatusSkipped,
		"write:.editorconfig":     StatusPending,
	}
	for id, want := range wants {
		if got := stepByID(t, plan, id).Status; got != want {
			t.Errorf("%s status = %s, want %s", id, got, want)
		}
	}
	conflicts := plan.Conflicts()
	if len(conflicts) != 1 {
		t.Fatalf("Conflicts() = %v, want one", conflicts)
	}
	var sc *faults.SynthesisConflict
	if !errors.As(conflicts[0], &sc) || sc.ArtifactID != "eslint" {
		t.Errorf("conflict = %v, want eslint synthesis conflict", conflicts[0])
	}

	res := p.Apply(context.Background(), plan, ApplyOptions{})
	if res.Err != nil {
		t.Fatalf("Apply() error: %v", res.Err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("installer ran %d time(s) for a skipped ecosystem", len(runner.calls))
	}
	if got := readFile(t, root, "eslint.config.mjs"); got != "export default [];\n" {
		t.Errorf("conflicting file was modified: %q", got)
	}
	if got := readFile(t, root, ".editorconfig"); got != "root = true\n" {
		t.Errorf(".editorconfig = %q", got)
	}
}

func TestPlan_UnreadableTargetConflicts(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, ".prettierrc.json"), 0o755); err != nil {
		t.Fatal(err)
	}
	in := Input{
		Features: rules.NewFeatureSet("node"),
		Artifacts: []synth.Artifact{
			artifact("prettier", ".prettierrc.json", "", synth.FormatJSON, synth.DeepMergeSections, `{"semi": true}`, "node"),
			artifact("a", "a.txt", "", synth.FormatText, synth.OverwriteIfAbsent, "a\n", "node"),
		},
	}
	plan, err := New(Options{}).Plan(context.Background(), root, in)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	if got := stepByID(t, plan, "write:.prettierrc.json").Status; got != StatusConflict {
		t.Errorf("directory target status = %s, want %s", got, StatusConflict)
	}
	if got := stepByID(t, plan, "write:a.txt").Status; got != StatusPending {
		t.Errorf("write:a.txt status = %s, want %s", got, StatusPending)
	}
	conflicts := plan.Conflicts()
	var sc *faults.SynthesisConflict
	if len(conflicts) != 1 || !errors.As(conflicts[0], &sc) || sc.ArtifactID != "prettier" {
		t.Fatalf("Conflicts() = %v, want one prettier conflict", conflicts)
	}
	if sc.Cause == nil {
		t.Error("conflict carries no read error")
	}
}

func TestApply_RollbackOnFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{"name":"app"}`)
	writeFile(t, root, "b.txt", "original\n")

	features := rules.NewFeatureSet("node")
	plugins := resolve(t, features, resolver.Plugin{Ecosystem: "node", Package: "eslint", Constraint: "^9.0.0", Triggers: []rules.Feature{"node"}})
	runner := &fakeRunner{effect: func(dir string) error {
		return os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"app","devDependencies":{"eslint":"^9.0.0"}}`), 0o644)
	}}
	in := Input{
		Features:   features,
		Plugins:    plugins,
		Ecosystems: map[string]resolver.Ecosystem{"node": nodeEcosystem},
		Artifacts: []synth.Artifact{
			artifact("a", "dir/a.txt", "node", synth.FormatText, synth.OverwriteIfAbsent, "a\n", "node"),
			artifact("b", "z/b.txt", "node", synth.FormatIgnore, synth.AppendUniqueLines, "added\n", "node"),
		},
	}
	writeFile(t, root, "z/b.txt", "original\n")

	p := New(Options{Runner: runner})
	plan, err := p.Plan(context.Background(), root, in)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	// A concurrent edit after planning makes the last write stale.
	writeFile(t, root, "z/b.txt", "edited by someone else\n")

	res := p.Apply(context.Background(), plan, ApplyOptions{})
	if res.Failure == nil {
		t.Fatalf("Apply() succeeded, want failure")
	}
	if res.Failure.StepID != "write:z/b.txt" {
		t.Errorf("failing step = %s, want write:z/b.txt", res.Failure.StepID)
	}
	if got := len(res.Failure.Rollback); got != 3 {
		t.Errorf("rollback outcomes = %d, want 3", got)
	}
	for _, r := range res.Failure.Rollback {
		if r.Err != nil {
			t.Errorf("rollback of %s failed: %v", r.StepID, r.Err)
		}
	}
	if faults.ExitCode(res.Err) != faults.ExitChanges {
		t.Errorf("ExitCode = %d, want %d", faults.ExitCode(res.Err), faults.ExitChanges)
	}

	if got := readFile(t, root, "package.json"); got != `{"name":"app"}` {
		t.Errorf("package.json not restored: %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "dir")); !os.IsNotExist(err) {
		t.Errorf("created directory survived rollback: %v", err)
	}
	if got := readFile(t, root, "z/b.txt"); got != "edited by someone else\n" {
		t.Errorf("z/b.txt = %q, want the concurrent edit kept", got)
	}
	if got := stepByID(t, plan, "install:node"); res.Steps[0].Step != got || res.Steps[0].Outcome != OutcomeRolledBack {
		t.Errorf("install outcome = %s, want %s", res.Steps[0].Outcome, OutcomeRolledBack)
	}
}

func TestApply_InstallerFailure(t *testing.T) {
	root := t.TempDir()
	features := rules.NewFeatureSet("node")
	plugins := resolve(t, features, resolver.Plugin{Ecosystem: "node", Package: "eslint", Triggers: []rules.Feature{"node"}})
	in := Input{
		Features:   features,
		Plugins:    plugins,
		Ecosystems: map[string]resolver.Ecosystem{"node": nodeEcosystem},
		Artifacts: []synth.Artifact{
			artifact("a", "a.txt", "node", synth.FormatText, synth.OverwriteIfAbsent, "a\n", "node"),
		},
	}
	p := New(Options{Runner: &fakeRunner{exitCode: 1}})
	plan, err := p.Plan(context.Background(), root, in)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	res := p.Apply(context.Background(), plan, ApplyOptions{})
	if res.Failure == nil || res.Failure.StepID != "install:node" {
		t.Fatalf("Failure = %v, want install:node", res.Failure)
	}
	if !strings.Contains(res.Err.Error(), "exited with status 1") {
		t.Errorf("error = %q", res.Err)
	}
	if _, err := os.Stat(filepath.Join(root, "a.txt")); !os.IsNotExist(err) {
		t.Error("write step ran after its ecosystem's install failed")
	}
	if got := res.Count(OutcomeNotStarted); got != 1 {
		t.Errorf("not-started = %d, want 1", got)
	}
}

func TestApply_OnlyDefersInstalls(t *testing.T) {
	root := t.TempDir()
	features := rules.NewFeatureSet("node")
	plugins := resolve(t, features, resolver.Plugin{Ecosystem: "node", Package: "eslint", Triggers: []rules.Feature{"node"}})
	runner := &fakeRunner{}
	in := Input{
		Features:   features,
		Plugins:    plugins,
		Ecosystems: map[string]resolver.Ecosystem{"node": nodeEcosystem},
		Artifacts: []synth.Artifact{
			artifact("a", "a.txt", "node", synth.FormatText, synth.OverwriteIfAbsent, "a\n", "node"),
		},
	}
	p := New(Options{Runner: runner})
	plan, err := p.Plan(context.Background(), root, in)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	res := p.Apply(context.Background(), plan, ApplyOptions{Only: []Kind{KindWrite, KindHook}})
	if res.Err != nil {
		t.Fatalf("Apply() error: %v", res.Err)
	}
	if len(runner.calls) != 0 {
		t.Errorf("installer ran with installs filtered out")
	}
	if res.Count(OutcomeDeferred) != 1 || res.Count(OutcomeApplied) != 1 {
		t.Errorf("deferred = %d, applied = %d, want 1 and 1", res.Count(OutcomeDeferred), res.Count(OutcomeApplied))
	}
}

func TestApply_CancelledBeforeStart(t *testing.T) {
	root := t.TempDir()
	in := Input{
		Features: rules.NewFeatureSet("node"),
		Artifacts: []synth.Artifact{
			artifact("a", "a.txt", "", synth.FormatText, synth.OverwriteIfAbsent, "a\n", "node"),
		},
	}
	p := New(Options{})
	plan, err := p.Plan(context.Background(), root, in)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.Apply(ctx, plan, ApplyOptions{})
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("Apply() error = %v, want context.Canceled", res.Err)
	}
	if _, err := os.Stat(filepath.Join(root, "a.txt")); !os.IsNotExist(err) {
		t.Error("file written by a cancelled apply")
	}
}

func TestApply_CancelledDuringInstall(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{"name":"app"}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &fakeRunner{effect: func(dir string) error {
		cancel()
		return os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"app","devDependencies":{"eslint":"^9.0.0"}}`), 0o644)
	}}

	features := rules.NewFeatureSet("node")
	in := Input{
		Features:   features,
		Plugins:    resolve(t, features, resolver.Plugin{Ecosystem: "node", Package: "eslint", Constraint: "^9.0.0", Triggers: []rules.Feature{"node"}}),
		Ecosystems: map[string]resolver.Ecosystem{"node": nodeEcosystem},
		Artifacts: []synth.Artifact{
			artifact("a", "a.txt", "node", synth.FormatText, synth.OverwriteIfAbsent, "a\n", "node"),
			artifact("b", "b.txt", "node", synth.FormatText, synth.OverwriteIfAbsent, "b\n", "node"),
		},
	}
	p := New(Options{Runner: runner})
	plan, err := p.Plan(context.Background(), root, in)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}

	res := p.Apply(ctx, plan, ApplyOptions{})
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("Apply() error = %v, want context.Canceled", res.Err)
	}
	if res.Failure != nil {
		t.Errorf("Failure = %v, want nil for a cancelled run", res.Failure)
	}

	wants := map[string]Outcome{
		"install:node": OutcomeRolledBack,
		"write:a.txt":  OutcomeNotStarted,
		"write:b.txt":  OutcomeNotStarted,
	}
	for _, sr := range res.Steps {
		if want := wants[sr.Step.ID]; sr.Outcome != want {
			t.Errorf("%s outcome = %s, want %s", sr.Step.ID, sr.Outcome, want)
		}
	}
	if got := readFile(t, root, "package.json"); got != `{"name":"app"}` {
		t.Errorf("package.json not restored: %q", got)
	}
	for _, rel := range []string{"a.txt", "b.txt"} {
		if _, err := os.Stat(filepath.Join(root, rel)); !os.IsNotExist(err) {
			t.Errorf("%s written after cancellation", rel)
		}
	}
}

func TestApply_FailureRollsBackOtherLanes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", `{"name":"app"}`)
	writeFile(t, root, "go.mod", "module example.com/app\n")

	// The go installer fails only once the node lane has written its file,
	// so the node lane is complete when the failure lands.
	runner := runnerFunc(func(ctx context.Context, dir string, argv []string) (*Output, error) {
		switch argv[0] {
		case "npm":
			err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"app","devDependencies":{"eslint":"^9.0.0"}}`), 0o644)
			return &Output{}, err
		case "go":
			deadline := time.Now().Add(10 * time.Second)
			for {
				if _, err := os.Stat(filepath.Join(dir, "a.txt")); err == nil {
					break
				}
				if time.Now().After(deadline) {
					return nil, errors.New("node lane never wrote a.txt")
				}
				time.Sleep(5 * time.Millisecond)
			}
			if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/app\n\ntool mvdan.cc/gofumpt\n"), 0o644); err != nil {
				return nil, err
			}
			return &Output{ExitCode: 1, Stderr: "go: no network"}, nil
		}
		return nil, errors.New("unexpected command " + argv[0])
	})

	features := rules.NewFeatureSet("node", "go")
	in := Input{
		Features: features,
		Plugins: resolve(t, features,
			resolver.Plugin{Ecosystem: "node", Package: "eslint", Constraint: "^9.0.0", Triggers: []rules.Feature{"node"}},
			resolver.Plugin{Ecosystem: "go", Package: "mvdan.cc/gofumpt", Constraint: "^0.8.0", Triggers: []rules.Feature{"go"}},
		),
		Ecosystems: map[string]resolver.Ecosystem{
			"node": nodeEcosystem,
			"go":   {Name: "go", Install: "go get -tool {{packages}}", PackageFormat: "{{name}}@v{{version}}", Manifests: []string{"go.mod"}},
		},
		Artifacts: []synth.Artifact{
			artifact("a", "a.txt", "node", synth.FormatText, synth.OverwriteIfAbsent, "a\n", "node"),
		},
	}
	p := New(Options{Runner: runner})
	plan, err := p.Plan(context.Background(), root, in)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}

	res := p.Apply(context.Background(), plan, ApplyOptions{})
	if res.Failure == nil || res.Failure.StepID != "install:go" {
		t.Fatalf("Failure = %v, want install:go", res.Failure)
	}
	wants := map[string]Outcome{
		"install:go":   OutcomeFailed,
		"install:node": OutcomeRolledBack,
		"write:a.txt":  OutcomeRolledBack,
	}
	for _, sr := range res.Steps {
		if want := wants[sr.Step.ID]; sr.Outcome != want {
			t.Errorf("%s outcome = %s, want %s", sr.Step.ID, sr.Outcome, want)
		}
	}
	if got := len(res.Failure.Rollback); got != 3 {
		t.Errorf("rollback outcomes = %d, want 3", got)
	}
	if got := readFile(t, root, "package.json"); got != `{"name":"app"}` {
		t.Errorf("package.json not restored: %q", got)
	}
	if got := readFile(t, root, "go.mod"); got != "module example.com/app\n" {
		t.Errorf("go.mod not restored: %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "a.txt")); !os.IsNotExist(err) {
		t.Error("a.txt from the node lane survived rollback")
	}
}

func TestHookRegistration(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("hook shims are shell scripts")
	}
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git", "hooks"), 0o755); err != nil {
		t.Fatal(err)
	}
	hook := artifact("pre-commit", ".githooks/pre-commit", "", synth.FormatScript, synth.FailIfConflicting, "#!/bin/sh\necho lint\n", "git")
	hook.Hook = "pre-commit"
	hook.Mode = 0o755
	in := Input{Features: rules.NewFeatureSet("git"), Artifacts: []synth.Artifact{hook}}

	p := New(Options{})
	plan, err := p.Plan(context.Background(), root, in)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	if res := p.Apply(context.Background(), plan, ApplyOptions{}); res.Err != nil {
		t.Fatalf("Apply() error: %v", res.Err)
	}

	shim := readFile(t, root, ".git/hooks/pre-commit")
	if !strings.HasPrefix(shim, "#!/bin/sh\n") {
		t.Errorf("shim does not start with a shebang: %q", shim)
	}
	if !strings.Contains(shim, `exec "$(dirname "$0")/../../.githooks/pre-commit" "$@"`) {
		t.Errorf("shim does not delegate to the managed script:\n%s", shim)
	}
	info, err := os.Stat(filepath.Join(root, ".git", "hooks", "pre-commit"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("shim mode = %v, want executable", info.Mode())
	}

	again, err := p.Plan(context.Background(), root, in)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	if !again.Clean() {
		t.Error("second plan is not clean after hook registration")
	}
}

func TestHookRegistration_ForeignHookConflicts(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".git/hooks/pre-commit", "#!/bin/sh\nhusky run\n")
	hook := artifact("pre-commit", ".githooks/pre-commit", "", synth.FormatScript, synth.FailIfConflicting, "#!/bin/sh\necho lint\n", "git")
	hook.Hook = "pre-commit"
	in := Input{Features: rules.NewFeatureSet("git"), Artifacts: []synth.Artifact{hook}}

	plan, err := New(Options{}).Plan(context.Background(), root, in)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	if got := stepByID(t, plan, "hook-register:pre-commit").Status; got != StatusConflict {
		t.Errorf("hook status = %s, want %s", got, StatusConflict)
	}
}

func TestHookRegistration_NoGitDir(t *testing.T) {
	hook := artifact("pre-commit", ".githooks/pre-commit", "", synth.FormatScript, synth.FailIfConflicting, "#!/bin/sh\n", "git")
	hook.Hook = "pre-commit"
	in := Input{Features: rules.NewFeatureSet("git"), Artifacts: []synth.Artifact{hook}}
	plan, err := New(Options{}).Plan(context.Background(), t.TempDir(), in)
	if err != nil {
		t.Fatalf("Plan() error: %v", err)
	}
	for _, s := range plan.Steps {
		if s.Kind == KindHook {
			t.Errorf("hook step planned without a .git directory")
		}
	}
}

func TestExecRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	r := &ExecRunner{}
	out, err := r.Run(context.Background(), t.TempDir(), []string{"sh", "-c", "echo hi; echo err >&2; exit 3"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.ExitCode != 3 || out.Stdout != "hi\n" || out.Stderr != "err\n" {
		t.Errorf("Run() = %+v", out)
	}
	if _, err := r.Run(context.Background(), t.TempDir(), []string{"definitely-not-a-binary-xyz"}); err == nil {
		t.Error("expected error for missing binary")
	}
}
