package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"

	"github.com/agentx-labs/stackforge/internal/resolver"
	"github.com/agentx-labs/stackforge/internal/synth"
)

// Kind is the kind of work a step does.
type Kind string

const (
	KindInstall Kind = "install"
	KindWrite   Kind = "write"
	KindHook    Kind = "hook-register"
)

// Kinds lists every kind in execution order.
var Kinds = []Kind{KindInstall, KindWrite, KindHook}

func (k Kind) rank() int {
	for i, kind := range Kinds {
		if kind == k {
			return i
		}
	}
	return len(Kinds)
}

// Status is what a step will do, decided at plan time.
type Status string

const (
	StatusPending  Status = "pending"
	StatusNoop     Status = "no-op"
	StatusConflict Status = "conflict"
	StatusSkipped  Status = "skipped-due-to-sibling-failure"
)

// Key domains. The version suffix changes whenever the hashed layout does.
const (
	domainInstall = "stackforge/install/v1"
	domainWrite   = "stackforge/write/v1"
	domainAbsent  = "stackforge/absent/v1"
	domainPlan    = "stackforge/plan/v1"
)

// hashKey is SHA-256 over the domain and parts, each followed by a NUL byte.
func hashKey(domain string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0})
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func installKey(ecosystem string, pkgs []resolver.Resolved) string {
	specs := make([]string, len(pkgs))
	for i, p := range pkgs {
		specs[i] = p.Package + "@" + p.Constraint
	}
	sort.Strings(specs)
	return hashKey(domainInstall, append([]string{ecosystem}, specs...)...)
}

func writeKey(path string, data []byte, mode fs.FileMode) string {
	return hashKey(domainWrite, path, fmt.Sprintf("%04o", mode.Perm()), string(data))
}

func absentKey(path string) string {
	return hashKey(domainAbsent, path)
}

// Step is one unit of work in a plan.
type Step struct {
	ID        string
	Kind      Kind
	Ecosystem string // empty for project-wide steps
	Path      string // root-relative target of write and hook steps
	Status    Status
	Reason    string

	// IdempotencyKey identifies the state the step produces; CurrentKey
	// identifies the state found while planning.
	IdempotencyKey string
	CurrentKey     string

	// Write and hook steps.
	ArtifactID string
	Before     []byte // nil when the file does not exist
	After      []byte
	BeforeMode fs.FileMode
	Mode       fs.FileMode
	Change     synth.Change
	Summary    string
	Degraded   bool

	// Install steps.
	Packages  []resolver.Resolved
	Missing   []resolver.Resolved
	Installer *resolver.Installer

	// Err is the synthesis conflict of a conflicting step.
	Err error

	apply    func(ctx context.Context) error
	rollback func(ctx context.Context) error
}

// Noop reports whether the step's post-condition already holds.
func (s *Step) Noop() bool { return s.Status == StatusNoop }

// Apply performs the step.
func (s *Step) Apply(ctx context.Context) error {
	if s.apply == nil {
		return fmt.Errorf("step %s cannot be applied", s.ID)
	}
	return s.apply(ctx)
}

// Rollback undoes a started step. It is safe to call on a step whose Apply
// failed part way.
func (s *Step) Rollback(ctx context.Context) error {
	if s.rollback == nil {
		return nil
	}
	return s.rollback(ctx)
}

func stepID(kind Kind, target string) string {
	return string(kind) + ":" + target
}

func sortSteps(steps []*Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		a, b := steps[i], steps[j]
		if a.Kind != b.Kind {
			return a.Kind.rank() < b.Kind.rank()
		}
		if a.Ecosystem != b.Ecosystem {
			return a.Ecosystem < b.Ecosystem
		}
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return a.ID < b.ID
	})
}
