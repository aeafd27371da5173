// Package versionset wraps semver parsing and range satisfaction for a
// single package's known versions.
package versionset

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// VersionSet is an ordered set of semver versions for one package,
// partitioned into listed (visible to range/latest resolution) and
// unlisted (resolvable only by exact version) members.
type VersionSet struct {
	listed   []*semver.Version
	unlisted map[string]*semver.Version
}

// New builds a VersionSet from raw version strings. Strings that fail to
// parse as semver are skipped; callers that need to surface a parse
// failure should validate with ParseVersion first.
func New(versions []string) *VersionSet {
	vs := &VersionSet{unlisted: make(map[string]*semver.Version)}
	for _, raw := range versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		vs.listed = append(vs.listed, v)
	}
	sort.Sort(semver.Collection(vs.listed))
	return vs
}

// MarkUnlisted moves a version (by its original string) out of the listed
// set. It is still resolvable by exact version but excluded from Latest
// and range resolution.
func (vs *VersionSet) MarkUnlisted(raw string) {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return
	}
	for i, l := range vs.listed {
		if l.Equal(v) {
			vs.listed = append(vs.listed[:i], vs.listed[i+1:]...)
			vs.unlisted[v.Original()] = v
			return
		}
	}
}

// ParseVersion parses a single semver string, surfacing malformed input.
func ParseVersion(raw string) (*semver.Version, error) {
	return semver.NewVersion(raw)
}

// Len returns the number of listed (non-unlisted) versions.
func (vs *VersionSet) Len() int {
	return len(vs.listed)
}

// Latest returns the greatest listed version. When stable is true,
// prerelease versions are excluded. Returns nil when no member qualifies.
func (vs *VersionSet) Latest(stable bool) *semver.Version {
	var best *semver.Version
	for _, v := range vs.listed {
		if stable && v.Prerelease() != "" {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
		}
	}
	return best
}

// Resolve returns the greatest listed version satisfying rangeStr (and,
// when stable is true, excluding prereleases), or nil if none qualify.
// An empty rangeStr or the literal "latest" is equivalent to Latest(stable).
func (vs *VersionSet) Resolve(rangeStr string, stable bool) *semver.Version {
	if rangeStr == "" || rangeStr == "latest" {
		return vs.Latest(stable)
	}

	// An exact unlisted version is resolvable even though unlisted
	// versions never take part in range resolution below.
	if v, ok := vs.unlisted[rangeStr]; ok {
		return v
	}

	constraint, err := semver.NewConstraint(rangeStr)
	if err != nil {
		// Not a range: maybe an exact listed version.
		if v, err := semver.NewVersion(rangeStr); err == nil {
			for _, l := range vs.listed {
				if l.Equal(v) {
					return l
				}
			}
		}
		return nil
	}

	var best *semver.Version
	for _, v := range vs.listed {
		if stable && v.Prerelease() != "" {
			continue
		}
		if !constraint.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
		}
	}
	return best
}

// Has reports whether raw is a known version, listed or unlisted.
func (vs *VersionSet) Has(raw string) bool {
	if _, ok := vs.unlisted[raw]; ok {
		return true
	}
	for _, l := range vs.listed {
		if l.Original() == raw {
			return true
		}
	}
	return false
}
