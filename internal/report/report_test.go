package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/agentx-labs/stackforge/internal/faults"
	"github.com/agentx-labs/stackforge/internal/planner"
	"github.com/agentx-labs/stackforge/internal/resolver"
	"github.com/agentx-labs/stackforge/internal/rules"
	"github.com/agentx-labs/stackforge/internal/synth"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func samplePlan(t *testing.T) *planner.Plan {
	t.Helper()
	features := rules.NewFeatureSet("git", "node")
	plugins, err := resolver.Resolve(features, []resolver.Plugin{
		{Ecosystem: "node", Package: "prettier", Constraint: "^3.0.0", Triggers: []rules.Feature{"node"}},
		{Ecosystem: "node", Package: "eslint", Constraint: "^9.0.0", Triggers: []rules.Feature{"node"}},
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	return &planner.Plan{
		Root:     "/work/app",
		Features: features,
		Plugins:  plugins,
		Steps: []*planner.Step{
			{
				ID: "install:node", Kind: planner.KindInstall, Ecosystem: "node", Status: planner.StatusPending,
				Installer: &resolver.Installer{Ecosystem: "node", Commands: [][]string{{"npm", "install", "--save-dev", "eslint", "prettier"}}},
			},
			{
				ID: "write:.gitignore", Kind: planner.KindWrite, Path: ".gitignore", Status: planner.StatusPending,
				Before: []byte("dist/\n"), After: []byte("dist/\nnode_modules/\n"),
				BeforeMode: 0o644, Mode: 0o644, Change: synth.Updated, Summary: "append 1 line(s)",
			},
			{
				ID: "write:.prettierrc.json", Kind: planner.KindWrite, Ecosystem: "node", Path: ".prettierrc.json", Status: planner.StatusPending,
				After: []byte("{\n  \"semi\": true\n}\n"), Mode: 0o644, Change: synth.Created, Summary: "create", Degraded: true,
			},
			{
				ID: "write:eslint.config.mjs", Kind: planner.KindWrite, Ecosystem: "node", Path: "eslint.config.mjs", Status: planner.StatusConflict,
				Summary: "existing file has no managed region",
			},
			{
				ID: "write:.editorconfig", Kind: planner.KindWrite, Path: ".editorconfig", Status: planner.StatusNoop,
			},
			{
				ID: "write:z.json", Kind: planner.KindWrite, Ecosystem: "node", Path: "z.json", Status: planner.StatusSkipped,
				Reason: "eslint.config.mjs conflicts",
			},
		},
	}
}

func TestPreview_Golden(t *testing.T) {
	var buf bytes.Buffer
	Preview(&buf, samplePlan(t), Options{})
	newGoldie(t).Assert(t, "preview", buf.Bytes())
}

func TestPreview_Deterministic(t *testing.T) {
	var a, b bytes.Buffer
	Preview(&a, samplePlan(t), Options{})
	Preview(&b, samplePlan(t), Options{})
	if a.String() != b.String() {
		t.Error("two previews of the same plan differ")
	}
}

func TestPreview_VerboseListsNoops(t *testing.T) {
	var buf bytes.Buffer
	Preview(&buf, samplePlan(t), Options{Verbose: true, NoDiff: true})
	out := buf.String()
	if !strings.Contains(out, "write:.editorconfig") {
		t.Errorf("verbose preview does not list the no-op step:\n%s", out)
	}
	if strings.Contains(out, "@@") {
		t.Errorf("NoDiff preview contains a diff:\n%s", out)
	}
}

func TestPreview_Color(t *testing.T) {
	var buf bytes.Buffer
	Preview(&buf, samplePlan(t), Options{Color: true})
	if !strings.Contains(buf.String(), "node_modules/") {
		t.Errorf("coloured preview lost content:\n%s", buf.String())
	}
}

func TestSummary_Golden(t *testing.T) {
	plan := samplePlan(t)
	install, gitignore, editorconfig := plan.Steps[0], plan.Steps[1], plan.Steps[4]

	t.Run("summary_fix", func(t *testing.T) {
		res := &planner.ApplyResult{
			RunID: "run-1",
			Steps: []planner.StepResult{
				{Step: install, Outcome: planner.OutcomeDeferred},
				{Step: gitignore, Outcome: planner.OutcomeApplied},
				{Step: editorconfig, Outcome: planner.OutcomeNoop},
			},
		}
		var buf bytes.Buffer
		Summary(&buf, res, Options{})
		newGoldie(t).Assert(t, "summary_fix", buf.Bytes())
	})

	t.Run("summary_failure", func(t *testing.T) {
		stale := errors.New("z/b.txt changed since the plan was built")
		failure := &faults.StepFailure{StepID: "write:z/b.txt", Kind: "write", Cause: stale}
		res := &planner.ApplyResult{
			RunID: "run-2",
			Steps: []planner.StepResult{
				{Step: install, Outcome: planner.OutcomeRolledBack},
				{Step: &planner.Step{ID: "write:a.txt"}, Outcome: planner.OutcomeRolledBack},
				{Step: &planner.Step{ID: "write:z/b.txt"}, Outcome: planner.OutcomeFailed, Err: stale},
				{Step: editorconfig, Outcome: planner.OutcomeNotStarted},
				{Step: plan.Steps[2], Outcome: planner.OutcomeSkipped},
			},
			Failure: failure,
			Err:     failure,
		}
		res.Steps[4].Step = &planner.Step{ID: "write:.prettierrc.json", Reason: "eslint.config.mjs conflicts"}
		var buf bytes.Buffer
		Summary(&buf, res, Options{})
		newGoldie(t).Assert(t, "summary_failure", buf.Bytes())
	})
}

func TestSummary_VerboseShowsRunID(t *testing.T) {
	res := &planner.ApplyResult{RunID: "abc-123"}
	var buf bytes.Buffer
	Summary(&buf, res, Options{Verbose: true})
	if got, want := buf.String(), "Applied: none (run abc-123)\n"; got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}

func TestUnifiedDiff(t *testing.T) {
	tests := []struct {
		name   string
		before string
		after  string
		exists bool
		want   string
	}{
		{
			name:   "unchanged",
			before: "a\nb\n",
			after:  "a\nb\n",
			exists: true,
			want:   "",
		},
		{
			name:   "replace middle line",
			before: "a\nb\nc\n",
			after:  "a\nx\nc\n",
			exists: true,
			want:   "--- a/f\n+++ b/f\n@@ -1,3 +1,3 @@\n a\n-b\n+x\n c\n",
		},
		{
			name:   "separate hunks",
			before: "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\n12\n",
			after:  "one\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\ntwelve\n",
			exists: true,
			want: "--- a/f\n+++ b/f\n" +
				"@@ -1,4 +1,4 @@\n-1\n+one\n 2\n 3\n 4\n" +
				"@@ -9,4 +9,4 @@\n 9\n 10\n 11\n-12\n+twelve\n",
		},
		{
			name:   "new file",
			before: "",
			after:  "x\n",
			exists: false,
			want:   "--- /dev/null\n+++ b/f\n@@ -0,0 +1 @@\n+x\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := unifiedDiff(newStyles(false), "f", []byte(tt.before), []byte(tt.after), tt.exists)
			if got != tt.want {
				t.Errorf("unifiedDiff() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}
