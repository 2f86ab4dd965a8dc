package signal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentx-labs/stackforge/internal/faults"
)

// Key prefixes.
const (
	PrefixFileExists   = "file:exists:"
	PrefixDependency   = "manifest:dependency:"
	PrefixScript       = "manifest:script:"
	PrefixManifestFile = "manifest:file:"
	PrefixLockfile     = "lockfile:"
)

// FileExists returns the key for a probe glob.
func FileExists(glob string) string { return PrefixFileExists + glob }

// Dependency returns the key for a declared dependency.
func Dependency(name string) string { return PrefixDependency + name }

// Script returns the key for a package.json script.
func Script(name string) string { return PrefixScript + name }

// ManifestFile returns the key recording that a manifest exists.
func ManifestFile(name string) string { return PrefixManifestFile + name }

// Lockfile returns the key for a package manager's lockfile.
func Lockfile(manager string) string { return PrefixLockfile + manager }

// Signal is one observation about the project. Value is a string or a bool.
type Signal struct {
	Key        string `json:"key"`
	Value      any    `json:"value"`
	SourcePath string `json:"source"`
}

// Str returns the value as a string; bool values yield "".
func (s Signal) Str() string {
	if v, ok := s.Value.(string); ok {
		return v
	}
	return ""
}

func (s Signal) valueKey() string {
	switch v := s.Value.(type) {
	case string:
		return "s:" + v
	case bool:
		return fmt.Sprintf("b:%t", v)
	default:
		return fmt.Sprintf("x:%v", v)
	}
}

func (s Signal) String() string {
	switch v := s.Value.(type) {
	case string:
		if v == "" {
			return fmt.Sprintf("%s (%s)", s.Key, s.SourcePath)
		}
		return fmt.Sprintf("%s=%s (%s)", s.Key, v, s.SourcePath)
	default:
		return fmt.Sprintf("%s (%s)", s.Key, s.SourcePath)
	}
}

// Set is a normalized collection of signals: sorted by source path, key and
// value, with exact duplicates removed.
type Set struct {
	signals []Signal
	byKey   map[string][]int

	// Gaps lists files that were skipped. They do not take part in equality.
	Gaps []*faults.EvidenceGap
}

// NewSet normalizes signals into a Set.
func NewSet(signals []Signal) *Set {
	sorted := make([]Signal, len(signals))
	copy(sorted, signals)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.SourcePath != b.SourcePath {
			return a.SourcePath < b.SourcePath
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.valueKey() < b.valueKey()
	})

	s := &Set{byKey: make(map[string][]int)}
	for i, sig := range sorted {
		if i > 0 {
			prev := sorted[i-1]
			if prev.SourcePath == sig.SourcePath && prev.Key == sig.Key && prev.valueKey() == sig.valueKey() {
				continue
			}
		}
		s.byKey[sig.Key] = append(s.byKey[sig.Key], len(s.signals))
		s.signals = append(s.signals, sig)
	}
	return s
}

// Has reports whether at least one signal carries key.
func (s *Set) Has(key string) bool {
	if s == nil {
		return false
	}
	return len(s.byKey[key]) > 0
}

// Get returns all signals with key, in set order.
func (s *Set) Get(key string) []Signal {
	if s == nil {
		return nil
	}
	idx := s.byKey[key]
	out := make([]Signal, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.signals[i])
	}
	return out
}

// Values returns the string values recorded for key.
func (s *Set) Values(key string) []string {
	var out []string
	for _, sig := range s.Get(key) {
		out = append(out, sig.Str())
	}
	return out
}

// Keys returns the distinct keys, sorted.
func (s *Set) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeysWithPrefix returns the distinct keys starting with prefix, sorted.
func (s *Set) KeysWithPrefix(prefix string) []string {
	var out []string
	for _, k := range s.Keys() {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

// All returns a copy of the signals in set order.
func (s *Set) All() []Signal {
	if s == nil {
		return nil
	}
	out := make([]Signal, len(s.signals))
	copy(out, s.signals)
	return out
}

// Len returns the number of signals.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.signals)
}

// Equal reports whether both sets hold the same signals.
func (s *Set) Equal(other *Set) bool {
	if s.Len() != other.Len() {
		return false
	}
	for i := range s.signals {
		a, b := s.signals[i], other.signals[i]
		if a.Key != b.Key || a.SourcePath != b.SourcePath || a.valueKey() != b.valueKey() {
			return false
		}
	}
	return true
}
