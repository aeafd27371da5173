// Package core holds the shared data model consumed by every server
// backend, the resolver, and the restorer: package references,
// dependencies, manifests, and listings.
package core

import (
	"strings"
)

// CiScope is the sentinel scope that routes a PackageReference to the
// CI build server backend instead of a registry.
const CiScope = "build.fhir.org"

// PackageReference identifies a concrete package artifact: an optional
// namespacing scope, a case-insensitively compared name, and a version
// that may be a concrete semver string, a tag (current, current$branch,
// latest), or absent entirely. It is immutable once constructed.
type PackageReference struct {
	scope   string
	name    string
	version string
	found   bool
}

// NewPackageReference constructs a resolved reference.
func NewPackageReference(scope, name, version string) PackageReference {
	return PackageReference{scope: scope, name: name, version: version, found: name != ""}
}

// NonePackageReference is the sentinel value signalling "unresolved".
var NonePackageReference = PackageReference{}

// Scope returns the namespacing qualifier, or "" if none.
func (r PackageReference) Scope() string { return r.scope }

// Name returns the package identifier as originally cased.
func (r PackageReference) Name() string { return r.name }

// Version returns the concrete version or tag string, or "" if absent.
func (r PackageReference) Version() string { return r.version }

// Found reports whether this reference identifies a real package.
func (r PackageReference) Found() bool { return r.found }

// NotFound reports the complement of Found.
func (r PackageReference) NotFound() bool { return !r.found }

// Moniker is the stable identity used for logging and closure keys:
// "name@version", prefixed with "scope/" when a scope is present.
func (r PackageReference) Moniker() string {
	if !r.found {
		return ""
	}
	name := r.name
	if r.scope != "" {
		name = r.scope + "/" + name
	}
	if r.version == "" {
		return name
	}
	return name + "@" + r.version
}

// EqualName reports whether two references name the same package,
// comparing scope and name case-insensitively.
func (r PackageReference) EqualName(other PackageReference) bool {
	return strings.EqualFold(r.scope, other.scope) && strings.EqualFold(r.name, other.name)
}

// PackageDependency is a requirement: a package name plus a semver range
// expression. An empty range or the literal "latest" both mean "the
// latest stable release".
type PackageDependency struct {
	Name  string
	Range string
}

// IsLatest reports whether the dependency's range means "latest stable".
func (d PackageDependency) IsLatest() bool {
	return d.Range == "" || d.Range == "latest"
}

// PackageManifest is the contents of package.json inside a tarball.
type PackageManifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
	FhirVersions []string          `json:"fhirVersions"`
	Canonical    string            `json:"canonical"`
}

// GetDependencies converts the manifest's raw dependency map into
// PackageDependency values.
func (m *PackageManifest) GetDependencies() []PackageDependency {
	deps := make([]PackageDependency, 0, len(m.Dependencies))
	for name, rng := range m.Dependencies {
		deps = append(deps, PackageDependency{Name: name, Range: rng})
	}
	return deps
}

// GetPackageReference returns the manifest's own identity as a reference.
func (m *PackageManifest) GetPackageReference() PackageReference {
	return NewPackageReference("", m.Name, m.Version)
}
