package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/agentx-labs/stackforge/internal/planner"
	"github.com/agentx-labs/stackforge/internal/synth"
)

// Options controls rendering.
type Options struct {
	Color bool
	// Verbose lists no-op steps individually and prints the run id.
	Verbose bool
	// NoDiff omits unified diffs from the preview.
	NoDiff bool
}

// Preview prints what applying plan would do.
func Preview(w io.Writer, plan *planner.Plan, opts Options) {
	st := newStyles(opts.Color)

	fmt.Fprintf(w, "%s %s\n", st.title("Features:"), orNone(plan.Features.Strings()))
	if plan.Plugins != nil && plan.Plugins.Len() > 0 {
		fmt.Fprintln(w, st.title("Toolchain:"))
		for _, eco := range plan.Plugins.Ecosystems() {
			var specs []string
			for _, p := range plan.Plugins.Packages(eco) {
				specs = append(specs, p.Spec())
			}
			fmt.Fprintf(w, "  %s: %s\n", eco, strings.Join(specs, ", "))
		}
	}
	fmt.Fprintln(w)

	pending := len(plan.Pending())
	fmt.Fprintf(w, "%s %d step(s), %d to apply\n", st.title("Plan:"), len(plan.Steps), pending)

	width := 0
	for _, s := range plan.Steps {
		if s.Status != planner.StatusNoop || opts.Verbose {
			width = max(width, len(s.ID))
		}
	}
	noops := 0
	var degraded []*planner.Step
	for _, s := range plan.Steps {
		if s.Degraded && s.Status != planner.StatusNoop {
			degraded = append(degraded, s)
		}
		switch s.Status {
		case planner.StatusNoop:
			noops++
			if opts.Verbose {
				fmt.Fprintf(w, "  %s %-*s  %s\n", st.muted("="), width, s.ID, st.muted("up to date"))
			}
		case planner.StatusPending:
			fmt.Fprintf(w, "  %s %-*s  %s\n", st.ok("+"), width, s.ID, describe(s))
		case planner.StatusConflict:
			fmt.Fprintf(w, "  %s %-*s  %s\n", st.bad("!"), width, s.ID, st.bad("conflict: "+s.Summary))
		case planner.StatusSkipped:
			fmt.Fprintf(w, "  %s %-*s  %s\n", st.warn("~"), width, s.ID, st.warn(fmt.Sprintf("%s (%s)", s.Status, s.Reason)))
		}
	}
	if noops > 0 && !opts.Verbose {
		fmt.Fprintf(w, "  %s\n", st.muted(fmt.Sprintf("= %d step(s) up to date", noops)))
	}
	for _, s := range degraded {
		fmt.Fprintf(w, "  %s\n", st.warn(fmt.Sprintf("warning: %s cannot carry managed-region markers; written only when absent", s.Path)))
	}

	if opts.NoDiff {
		return
	}
	for _, s := range plan.Steps {
		if s.Status != planner.StatusPending || s.Kind == planner.KindInstall {
			continue
		}
		if d := unifiedDiff(st, s.Path, s.Before, s.After, s.Before != nil); d != "" {
			fmt.Fprintln(w)
			fmt.Fprint(w, d)
		} else if s.Mode != s.BeforeMode {
			fmt.Fprintln(w)
			fmt.Fprintf(w, "mode %s: %04o -> %04o\n", s.Path, s.BeforeMode.Perm(), s.Mode.Perm())
		}
	}
}

// describe is the one-line action of a pending step.
func describe(s *planner.Step) string {
	switch s.Kind {
	case planner.KindInstall:
		if s.Installer != nil {
			return s.Installer.String()
		}
		return s.Summary
	case planner.KindHook:
		return fmt.Sprintf("%s (delegates to %s)", verb(s.Change), hookTarget(s))
	}
	if s.Change == synth.Created {
		return "create"
	}
	return s.Summary
}

func verb(c synth.Change) string {
	if c == synth.Created {
		return "install shim"
	}
	return "update shim"
}

func hookTarget(s *planner.Step) string {
	if s.ArtifactID != "" {
		return s.ArtifactID
	}
	return s.Path
}

// Summary prints the outcome of an apply run.
func Summary(w io.Writer, result *planner.ApplyResult, opts Options) {
	st := newStyles(opts.Color)

	counts := []struct {
		outcome planner.Outcome
		label   string
	}{
		{planner.OutcomeApplied, "applied"},
		{planner.OutcomeNoop, "up to date"},
		{planner.OutcomeDeferred, "deferred"},
		{planner.OutcomeSkipped, "skipped"},
		{planner.OutcomeConflict, "conflicting"},
		{planner.OutcomeFailed, "failed"},
		{planner.OutcomeRolledBack, "rolled back"},
		{planner.OutcomeRollbackFailed, "rollback failed"},
		{planner.OutcomeNotStarted, "not started"},
	}
	var parts []string
	for _, c := range counts {
		if n := result.Count(c.outcome); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, c.label))
		}
	}
	heading := "Applied:"
	if result.Err != nil {
		heading = "Apply failed:"
	}
	line := orNone(parts)
	if opts.Verbose {
		line += fmt.Sprintf(" (run %s)", result.RunID)
	}
	fmt.Fprintf(w, "%s %s\n", st.title(heading), line)

	for _, sr := range result.Steps {
		if sr.Outcome == planner.OutcomeNoop && !opts.Verbose {
			continue
		}
		glyph, style := outcomeGlyph(st, sr.Outcome)
		text := fmt.Sprintf("  %s %s  %s", glyph, sr.Step.ID, sr.Outcome)
		if sr.Outcome == planner.OutcomeSkipped && sr.Step.Reason != "" {
			text += " (" + sr.Step.Reason + ")"
		}
		if sr.Err != nil {
			text += ": " + sr.Err.Error()
		}
		fmt.Fprintln(w, style(text))
	}
	if result.Count(planner.OutcomeDeferred) > 0 {
		fmt.Fprintln(w, st.muted("  deferred installs run with setup"))
	}
}

func outcomeGlyph(st styles, o planner.Outcome) (string, paint) {
	switch o {
	case planner.OutcomeApplied:
		return "✓", st.ok
	case planner.OutcomeNoop, planner.OutcomeDeferred, planner.OutcomeNotStarted:
		return "-", st.muted
	case planner.OutcomeRolledBack, planner.OutcomeSkipped:
		return "~", st.warn
	default:
		return "✗", st.bad
	}
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}
