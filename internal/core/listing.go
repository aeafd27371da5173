package core

import (
	"fmt"

	"github.com/fhir-pkgs/igpkg/internal/versionset"
)

// DistInfo carries the tarball location for one release.
type DistInfo struct {
	Tarball string `json:"tarball"`
}

// ReleaseRecord is one version's entry inside a PackageListing.
type ReleaseRecord struct {
	Dist        DistInfo `json:"dist"`
	FhirVersion string   `json:"fhirVersion,omitempty"`
	URL         string   `json:"url,omitempty"`
	Unlisted    bool     `json:"unlisted,omitempty"`
}

// PackageListing mirrors an NPM-style listing document: the per-package
// metadata a registry returns, independent of which backend produced it.
type PackageListing struct {
	ID          string                   `json:"_id"`
	Name        string                   `json:"name"`
	Description string                   `json:"description,omitempty"`
	Versions    map[string]ReleaseRecord `json:"versions"`
	DistTags    map[string]string        `json:"dist-tags"`
}

// Validate enforces the listing invariant: every dist-tag value must be
// a key in Versions.
func (l *PackageListing) Validate() error {
	for tag, version := range l.DistTags {
		if _, ok := l.Versions[version]; !ok {
			return &ProtocolError{
				Backend: "listing",
				Name:    l.Name,
				Reason:  fmt.Sprintf("dist-tag %q points at unlisted version %q", tag, version),
			}
		}
	}
	return nil
}

// ToVersionSet builds a VersionSet from the listing's version keys.
// Entries marked Unlisted are excluded from Latest/range resolution but
// remain resolvable by exact version.
func (l *PackageListing) ToVersionSet() *versionset.VersionSet {
	raw := make([]string, 0, len(l.Versions))
	for v := range l.Versions {
		raw = append(raw, v)
	}
	vs := versionset.New(raw)
	for v, rec := range l.Versions {
		if rec.Unlisted {
			vs.MarkUnlisted(v)
		}
	}
	return vs
}
