// Package closure implements PackageClosure, the accumulator for a
// restore operation: the currently-chosen reference per package name,
// plus the set of dependencies nothing could resolve.
package closure

import (
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/fhir-pkgs/igpkg/internal/core"
)

// Closure accumulates resolved references for one restore operation,
// enforcing the highest-semver-wins conflict policy and tracking
// dependencies nobody could satisfy. Every method is safe for concurrent
// use: the restorer's sibling-resolution goroutines call Add and
// AddMissing directly, and the mutex serializes those mutations. Results
// are not merged on a single owning goroutine.
type Closure struct {
	mu       sync.Mutex
	accepted map[string]core.PackageReference
	missing  map[string]core.PackageDependency
}

// New returns an empty Closure.
func New() *Closure {
	return &Closure{
		accepted: make(map[string]core.PackageReference),
		missing:  make(map[string]core.PackageDependency),
	}
}

// Add offers ref to the closure. It returns true iff ref was newly
// accepted -- absent before, or present at a strictly lower version --
// meaning the caller must walk ref's own manifest. A duplicate at an
// equal-or-higher version is a no-op and returns false. Ties keep the
// incumbent, making Add commutative and associative for same-name refs.
func (c *Closure) Add(ref core.PackageReference) bool {
	if ref.NotFound() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := foldName(ref.Name())
	incumbent, ok := c.accepted[key]
	if !ok {
		c.accepted[key] = ref
		delete(c.missing, key)
		return true
	}

	if !versionGreater(ref.Version(), incumbent.Version()) {
		return false
	}

	c.accepted[key] = ref
	delete(c.missing, key)
	return true
}

// AddMissing records an unresolved requirement without touching any
// accepted reference already present for the same name.
func (c *Closure) AddMissing(dep core.PackageDependency) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := foldName(dep.Name)
	if _, ok := c.accepted[key]; ok {
		return
	}
	c.missing[key] = dep
}

// Get returns the accepted reference for name, if any.
func (c *Closure) Get(name string) (core.PackageReference, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := foldName(name)
	ref, ok := c.accepted[key]
	return ref, ok
}

// Accepted returns a snapshot of every accepted reference.
func (c *Closure) Accepted() []core.PackageReference {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]core.PackageReference, 0, len(c.accepted))
	for _, ref := range c.accepted {
		out = append(out, ref)
	}
	return out
}

// Missing returns a snapshot of every unresolved dependency.
func (c *Closure) Missing() []core.PackageDependency {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]core.PackageDependency, 0, len(c.missing))
	for _, dep := range c.missing {
		out = append(out, dep)
	}
	return out
}

// versionGreater reports whether a is strictly greater than b under
// semver ordering, including prerelease rules. It is false whenever
// either side fails to parse as semver, so a bare tag (e.g. "current")
// never displaces, and is never displaced by, anything through this
// comparison alone -- Add's incumbent-wins-on-tie fallback is what
// actually keeps the first-seen reference for a non-semver pair.
func versionGreater(a, b string) bool {
	av, aErr := semver.NewVersion(a)
	bv, bErr := semver.NewVersion(b)
	if aErr == nil && bErr == nil {
		return av.GreaterThan(bv)
	}
	return false
}

// foldName is the case-insensitive key the closure indexes by: spec's
// accepted mapping is keyed by package name alone, not by scope, since
// the same logical package is never resolved through two different
// scopes within one restore.
func foldName(name string) string {
	return strings.ToLower(name)
}
