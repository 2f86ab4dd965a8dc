package rules

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/agentx-labs/stackforge/internal/signal"
)

// Predicate is a pure test over a signal set.
type Predicate func(*signal.Set) bool

// All fires when every key is present.
func All(keys ...string) Predicate {
	return func(s *signal.Set) bool {
		for _, k := range keys {
			if !s.Has(k) {
				return false
			}
		}
		return true
	}
}

// Any fires when at least one key is present.
func Any(keys ...string) Predicate {
	return func(s *signal.Set) bool {
		for _, k := range keys {
			if s.Has(k) {
				return true
			}
		}
		return false
	}
}

// None fires when no key is present.
func None(keys ...string) Predicate {
	return func(s *signal.Set) bool {
		for _, k := range keys {
			if s.Has(k) {
				return false
			}
		}
		return true
	}
}

// And fires when every predicate fires.
func And(preds ...Predicate) Predicate {
	return func(s *signal.Set) bool {
		for _, p := range preds {
			if !p(s) {
				return false
			}
		}
		return true
	}
}

// VersionSatisfies fires when some signal for key carries a version that
// satisfies constraint.
func VersionSatisfies(key string, constraint *semver.Constraints) Predicate {
	return func(s *signal.Set) bool {
		for _, v := range s.Values(key) {
			if ver, ok := LowerBound(v); ok && constraint.Check(ver) {
				return true
			}
		}
		return false
	}
}

var versionPattern = regexp.MustCompile(`\d+(\.\d+){0,2}(-[0-9A-Za-z.-]+)?`)

// LowerBound extracts the first version mentioned in a declared range such
// as "^18.2.0", "~=1.4" or "v1.8.0". Workspace and URL specifiers yield false.
func LowerBound(declared string) (*semver.Version, bool) {
	declared = strings.TrimSpace(declared)
	if declared == "" || strings.Contains(declared, ":") || strings.Contains(declared, "/") {
		return nil, false
	}
	m := versionPattern.FindString(declared)
	if m == "" {
		return nil, false
	}
	v, err := semver.NewVersion(m)
	if err != nil {
		return nil, false
	}
	return v, true
}
