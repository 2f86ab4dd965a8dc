package faults

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Exit codes for stackforge.
const (
	ExitClean        = 0
	ExitChanges      = 1
	ExitDisambiguate = 2
)

// ExitStatus carries an exit code without a user-facing message. The check
// command returns it when the plan contains pending changes.
type ExitStatus struct {
	Code int
}

func (e *ExitStatus) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// EvidenceGap records a file the collector could not use. It is never fatal.
type EvidenceGap struct {
	Path   string
	Reason string
	Cause  error
}

func (e *EvidenceGap) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("evidence gap at %s: %s: %v", e.Path, e.Reason, e.Cause)
	}
	return fmt.Sprintf("evidence gap at %s: %s", e.Path, e.Reason)
}

func (e *EvidenceGap) Unwrap() error { return e.Cause }

// Contributor is one side of a feature conflict.
type Contributor struct {
	Feature string
	RuleIDs []string
}

// ConflictError reports mutually exclusive features detected together.
type ConflictError struct {
	Slot         string
	Contributors []Contributor
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Contributors))
	for _, c := range e.Contributors {
		parts = append(parts, fmt.Sprintf("%q (rules: %s)", c.Feature, strings.Join(c.RuleIDs, ", ")))
	}
	return fmt.Sprintf("conflicting features in slot %q: %s; pass --without <feature> to choose",
		e.Slot, strings.Join(parts, " vs "))
}

// Features returns the conflicting feature names in sorted order.
func (e *ConflictError) Features() []string {
	out := make([]string, 0, len(e.Contributors))
	for _, c := range e.Contributors {
		out = append(out, c.Feature)
	}
	sort.Strings(out)
	return out
}

// Claim is one plugin's demand on a package.
type Claim struct {
	Constraint string
	Features   []string
}

// ResolutionError reports a package requested with incompatible constraints.
type ResolutionError struct {
	Ecosystem string
	Package   string
	Claims    []Claim
}

func (e *ResolutionError) Error() string {
	parts := make([]string, 0, len(e.Claims))
	for _, c := range e.Claims {
		parts = append(parts, fmt.Sprintf("%q (features: %s)", c.Constraint, strings.Join(c.Features, ", ")))
	}
	return fmt.Sprintf("cannot resolve %s package %s: incompatible constraints %s",
		e.Ecosystem, e.Package, strings.Join(parts, " and "))
}

// SynthesisConflict reports an artifact that cannot be written without
// overwriting content the engine does not own.
type SynthesisConflict struct {
	ArtifactID string
	Path       string
	Reason     string
	Cause      error
}

func (e *SynthesisConflict) Error() string {
	msg := fmt.Sprintf("artifact %s (%s): %s", e.ArtifactID, e.Path, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *SynthesisConflict) Unwrap() error { return e.Cause }

// RollbackOutcome is the result of undoing one applied step.
type RollbackOutcome struct {
	StepID string
	Err    error
}

// StepFailure reports the first step that failed during apply together with
// the rollback of everything applied before it.
type StepFailure struct {
	StepID   string
	Kind     string
	Cause    error
	Rollback []RollbackOutcome
}

func (e *StepFailure) Error() string {
	msg := fmt.Sprintf("step %s (%s) failed: %v", e.StepID, e.Kind, e.Cause)
	var failed []string
	for _, r := range e.Rollback {
		if r.Err != nil {
			failed = append(failed, r.StepID)
		}
	}
	switch {
	case len(e.Rollback) == 0:
	case len(failed) == 0:
		msg += fmt.Sprintf("; rolled back %d step(s)", len(e.Rollback))
	default:
		msg += fmt.Sprintf("; rollback failed for %s", strings.Join(failed, ", "))
	}
	return msg
}

func (e *StepFailure) Unwrap() error { return e.Cause }

// ExitCode extracts the exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitClean
	}
	var status *ExitStatus
	if errors.As(err, &status) {
		return status.Code
	}
	var stepErr *StepFailure
	if errors.As(err, &stepErr) {
		return ExitChanges
	}
	if NeedsDisambiguation(err) {
		return ExitDisambiguate
	}
	return ExitChanges
}

// NeedsDisambiguation reports whether err requires a caller decision
// (conflicting features, unresolvable constraints or a synthesis conflict).
func NeedsDisambiguation(err error) bool {
	var conflict *ConflictError
	var resolution *ResolutionError
	var synthesis *SynthesisConflict
	return errors.As(err, &conflict) || errors.As(err, &resolution) || errors.As(err, &synthesis)
}

// IsSilent reports whether err only carries an exit status.
func IsSilent(err error) bool {
	var status *ExitStatus
	return errors.As(err, &status)
}
