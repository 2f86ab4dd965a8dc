package resolver

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var versionPattern = regexp.MustCompile(`v?\d+(\.\d+){0,2}(-[0-9A-Za-z.-]+)?`)

// parseSemver strips a leading "v" and parses the version string.
func parseSemver(version string) (*semver.Version, error) {
	version = strings.TrimPrefix(version, "v")
	return semver.NewVersion(version)
}

// isWildcard reports constraints that accept any version.
func isWildcard(c string) bool {
	switch strings.TrimSpace(c) {
	case "", "*", "latest", "x":
		return true
	}
	return false
}

// normalizeConstraint rewrites ecosystem spellings Masterminds does not
// accept: pip's "==" and "~=".
func normalizeConstraint(c string) string {
	c = strings.ReplaceAll(c, "==", "=")
	return strings.ReplaceAll(c, "~=", "~")
}

// candidates returns versions worth probing when intersecting constraints:
// every version mentioned in either constraint plus its next patch, minor
// and major release.
func candidates(constraints ...string) []*semver.Version {
	seen := make(map[string]bool)
	var out []*semver.Version
	add := func(v semver.Version) {
		key := v.String()
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, &v)
	}
	for _, c := range constraints {
		for _, m := range versionPattern.FindAllString(c, -1) {
			v, err := parseSemver(m)
			if err != nil {
				continue
			}
			add(*v)
			add(v.IncPatch())
			add(v.IncMinor())
			add(v.IncMajor())
		}
	}
	sort.Sort(semver.Collection(out))
	return out
}

// Compatible reports whether some version satisfies both constraints and
// returns the merged constraint. Identical or wildcard constraints merge
// trivially; otherwise the constraints are joined with ", " (logical AND),
// or, when either side uses "||", narrowed to the lowest common version.
func Compatible(a, b string) (string, bool, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == b:
		return a, true, nil
	case isWildcard(a):
		return b, true, nil
	case isWildcard(b):
		return a, true, nil
	}

	ca, err := semver.NewConstraint(normalizeConstraint(a))
	if err != nil {
		return "", false, fmt.Errorf("parsing constraint %q: %w", a, err)
	}
	cb, err := semver.NewConstraint(normalizeConstraint(b))
	if err != nil {
		return "", false, fmt.Errorf("parsing constraint %q: %w", b, err)
	}

	var best *semver.Version
	for _, v := range candidates(a, b) {
		if ca.Check(v) && cb.Check(v) {
			best = v
			break
		}
	}
	if best == nil {
		return "", false, nil
	}
	if strings.Contains(a, "||") || strings.Contains(b, "||") {
		return best.String(), true, nil
	}
	return a + ", " + b, true, nil
}

// Satisfies reports whether a declared dependency version satisfies
// constraint. Declared ranges are reduced to their lower bound; an
// unparseable declaration counts as satisfied, since the package is present.
func Satisfies(declared, constraint string) bool {
	if isWildcard(constraint) {
		return true
	}
	c, err := semver.NewConstraint(normalizeConstraint(constraint))
	if err != nil {
		return false
	}
	m := versionPattern.FindString(declared)
	if m == "" {
		return true
	}
	v, err := parseSemver(m)
	if err != nil {
		return true
	}
	return c.Check(v)
}

// PinnedVersion returns the first version mentioned in a constraint without
// a leading "v", or "" when there is none.
func PinnedVersion(constraint string) string {
	m := versionPattern.FindString(constraint)
	return strings.TrimPrefix(m, "v")
}
