package ci

import (
	"strings"

	"github.com/fhir-pkgs/igpkg/internal/core"
)

// versionStringOf synthesizes a semver-compliant version string for a
// single CI QA record: the declared packageVersion, a "-cibuild"
// prerelease marker unless the declared version already carries one, and
// a build-metadata suffix derived from the build timestamp or, failing
// that, the repository path.
func versionStringOf(r qaRecord) string {
	prerelease := "-cibuild"
	if strings.Contains(r.PackageVersion, "-") {
		prerelease = ""
	}

	meta := r.BuildDateIso
	if meta == "" {
		meta = r.BuildDate
	}
	if meta == "" {
		branch, present, isDefault := branchFromRepo(r.RepositoryURL)
		if present && !isDefault {
			prerelease += ".b-" + sanitize(branch)
		}
		meta = firstTwoSlashComponents(r.RepositoryURL)
	}

	pkgVersion := r.PackageVersion
	if pkgVersion == "" {
		pkgVersion = "0.0.0"
	}

	return pkgVersion + prerelease + "+" + sanitize(meta)
}

// branchFromRepo scans repositoryUrl for a "branches/" or "tree/" marker
// and extracts the branch name following it, up to the next slash. When
// no marker is present, present is false and isDefault is true — callers
// treat the absence of a branch as equivalent to the default branch.
func branchFromRepo(repositoryURL string) (branch string, present bool, isDefault bool) {
	for _, marker := range []string{"branches/", "tree/"} {
		idx := strings.Index(repositoryURL, marker)
		if idx == -1 {
			continue
		}
		rest := repositoryURL[idx+len(marker):]
		if slash := strings.Index(rest, "/"); slash != -1 {
			rest = rest[:slash]
		}
		return rest, true, rest == "main" || rest == "master"
	}
	return "", false, true
}

// sanitize replaces every non-alphanumeric byte with '-', preserving
// length.
func sanitize(s string) string {
	b := []byte(s)
	for i, c := range b {
		alnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !alnum {
			b[i] = '-'
		}
	}
	return string(b)
}

// firstTwoSlashComponents joins the first two non-empty slash-separated
// components of a repository path with '.', the build-metadata fallback
// when no build timestamp is available. Falls back to "ci" when fewer
// than two components exist.
func firstTwoSlashComponents(repositoryURL string) string {
	var parts []string
	for _, p := range strings.Split(repositoryURL, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return "ci"
	}
	return parts[0] + "." + parts[1]
}

// stripImplementationGuideSuffix removes a trailing "/ImplementationGuide/..."
// path segment from a site URL, leaving the IG's build root.
func stripImplementationGuideSuffix(u string) string {
	if idx := strings.Index(u, "/ImplementationGuide/"); idx != -1 {
		return u[:idx]
	}
	return u
}

// tarballURLForRecord computes the package tarball URL for one record:
// the build root plus "/package.tgz", or "/branches/{branch}/package.tgz"
// when the record belongs to a non-default branch.
func tarballURLForRecord(r *qaRecord) string {
	root := stripImplementationGuideSuffix(r.URL)
	branch, present, isDefault := branchFromRepo(r.RepositoryURL)
	if present && !isDefault {
		return root + "/branches/" + branch + "/package.tgz"
	}
	return root + "/package.tgz"
}

// qaRecordFromVersion recovers the originating record for a version
// discriminator: a dist-tag name, a bare branch name, or a fully
// synthesized version string (containing '+'). Tag-style discriminators
// resolve to a concrete version via distTags first; the concrete
// version's build-metadata suffix then identifies the record by matching
// buildDateIso or buildDate.
func qaRecordFromVersion(records []qaRecord, distTags map[string]string, discriminator string) (*qaRecord, error) {
	if discriminator == "" {
		discriminator = "current"
	}

	version := discriminator
	if !strings.Contains(discriminator, "+") {
		v, ok := distTags[discriminator]
		if !ok {
			v, ok = distTags["current$"+discriminator]
		}
		if !ok {
			return nil, &core.NotFoundError{Backend: backendName, Version: discriminator}
		}
		version = v
	}

	idx := strings.LastIndex(version, "+")
	if idx == -1 {
		return nil, &core.ProtocolError{Backend: backendName, Reason: "version has no build-metadata suffix: " + version}
	}
	meta := version[idx+1:]

	for i := range records {
		if records[i].BuildDateIso == meta || records[i].BuildDate == meta {
			return &records[i], nil
		}
	}
	return nil, &core.NotFoundError{Backend: backendName, Version: version}
}
