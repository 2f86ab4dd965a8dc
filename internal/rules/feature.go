package rules

import (
	"sort"
	"strings"
)

// Feature is an opaque capability tag such as "react" or "vitest".
type Feature string

// FeatureSet is an unordered set of features.
type FeatureSet map[Feature]struct{}

// NewFeatureSet builds a set from names.
func NewFeatureSet(features ...Feature) FeatureSet {
	fs := make(FeatureSet, len(features))
	for _, f := range features {
		fs[f] = struct{}{}
	}
	return fs
}

// Has reports whether f is in the set.
func (fs FeatureSet) Has(f Feature) bool {
	_, ok := fs[f]
	return ok
}

// HasAny reports whether any of features is in the set.
func (fs FeatureSet) HasAny(features ...Feature) bool {
	for _, f := range features {
		if fs.Has(f) {
			return true
		}
	}
	return false
}

// Sorted returns the features in lexical order.
func (fs FeatureSet) Sorted() []Feature {
	out := make([]Feature, 0, len(fs))
	for f := range fs {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted feature names.
func (fs FeatureSet) Strings() []string {
	sorted := fs.Sorted()
	out := make([]string, len(sorted))
	for i, f := range sorted {
		out[i] = string(f)
	}
	return out
}

// Equal reports whether both sets contain the same features.
func (fs FeatureSet) Equal(other FeatureSet) bool {
	if len(fs) != len(other) {
		return false
	}
	for f := range fs {
		if !other.Has(f) {
			return false
		}
	}
	return true
}

func (fs FeatureSet) String() string {
	return strings.Join(fs.Strings(), ", ")
}
