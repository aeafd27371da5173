package resolver

import (
	"github.com/Masterminds/semver/v3"

	"github.com/fhir-pkgs/igpkg/internal/versionset"
)

// bestSatisfying resolves rangeStr against raw version strings, the same
// way a ServerBackend resolves against its own listing, so cache
// fallback uses identical semantics to every other source.
func bestSatisfying(raw []string, rangeStr string, stable bool) string {
	vs := versionset.New(raw)
	best := vs.Resolve(rangeStr, stable)
	if best == nil {
		return ""
	}
	return best.Original()
}

// versionGreater reports whether a is strictly greater than b under
// semver ordering. Non-semver strings never compare greater.
func versionGreater(a, b string) bool {
	av, aErr := semver.NewVersion(a)
	bv, bErr := semver.NewVersion(b)
	if aErr != nil || bErr != nil {
		return false
	}
	return av.GreaterThan(bv)
}
