// Package npm implements the NPM-protocol ServerBackend: the canonical
// registry at registry.npmjs.org and NPM-protocol mirrors such as
// packages.simplifier.net.
package npm

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/fhir-pkgs/igpkg/internal/core"
	"github.com/fhir-pkgs/igpkg/internal/httpx"
)

const name = "npm"

// Backend is a ServerBackend talking the NPM registry protocol.
type Backend struct {
	root   string
	client *httpx.Client
}

// New builds an NPM backend rooted at root (e.g.
// "https://registry.npmjs.org"). Trailing slashes are stripped.
func New(root string, client *httpx.Client) *Backend {
	if client == nil {
		client = httpx.DefaultClient()
	}
	return &Backend{root: strings.TrimSuffix(root, "/"), client: client}
}

func (b *Backend) Name() string { return name }

// packageResponse mirrors the NPM registry's listing document shape.
type packageResponse struct {
	ID       string                 `json:"_id"`
	Name     string                 `json:"name"`
	DistTags map[string]string      `json:"dist-tags"`
	Versions map[string]versionInfo `json:"versions"`
}

type versionInfo struct {
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
	Dist         distInfo          `json:"dist"`
	FhirVersion  string            `json:"fhirVersion"`
}

type distInfo struct {
	Tarball string `json:"tarball"`
}

func (b *Backend) List(ctx context.Context, pkgName string) (*core.PackageListing, error) {
	var resp packageResponse
	if err := b.client.GetJSON(ctx, b.listingURL(pkgName), &resp); err != nil {
		return nil, asBackendError(name, pkgName, "", err)
	}

	listing := &core.PackageListing{
		ID:       resp.ID,
		Name:     resp.Name,
		DistTags: resp.DistTags,
		Versions: make(map[string]core.ReleaseRecord, len(resp.Versions)),
	}
	for version, v := range resp.Versions {
		listing.Versions[version] = core.ReleaseRecord{
			Dist:        core.DistInfo{Tarball: v.Dist.Tarball},
			FhirVersion: v.FhirVersion,
		}
	}

	if err := listing.Validate(); err != nil {
		return nil, &core.ProtocolError{Backend: name, Name: pkgName, Reason: err.Error()}
	}
	return listing, nil
}

func (b *Backend) Resolve(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
	listing, err := b.List(ctx, dep.Name)
	if err != nil {
		return core.NonePackageReference, err
	}

	if tag, ok := listing.DistTags[dep.Range]; ok {
		return core.NewPackageReference("", dep.Name, tag), nil
	}

	best := listing.ToVersionSet().Resolve(dep.Range, true)
	if best == nil {
		return core.NonePackageReference, &core.NotFoundError{Backend: name, Name: dep.Name, Version: dep.Range}
	}
	return core.NewPackageReference("", dep.Name, best.Original()), nil
}

func (b *Backend) Fetch(ctx context.Context, ref core.PackageReference) ([]byte, error) {
	body, err := b.client.GetBody(ctx, b.tarballURL(ref))
	if err != nil {
		return nil, asBackendError(name, ref.Name(), ref.Version(), err)
	}
	return body, nil
}

func (b *Backend) listingURL(pkgName string) string {
	return fmt.Sprintf("%s/%s", b.root, escapeName(pkgName))
}

func (b *Backend) tarballURL(ref core.PackageReference) string {
	scope, short := splitScope(ref.Name())
	if scope == "" {
		return fmt.Sprintf("%s/%s/-/%s-%s.tgz", b.root, ref.Name(), short, ref.Version())
	}
	return fmt.Sprintf("%s/@%s/%s/-/%s-%s.tgz", b.root, scope, short, short, ref.Version())
}

// escapeName URL-encodes the scope separator in a scoped package name,
// per NPM registry convention: "@scope/name" -> "@scope%2Fname".
func escapeName(pkgName string) string {
	if !strings.HasPrefix(pkgName, "@") {
		return url.PathEscape(pkgName)
	}
	scope, short := splitScope(pkgName)
	return "@" + url.PathEscape(scope) + "%2F" + url.PathEscape(short)
}

func splitScope(pkgName string) (scope, short string) {
	if !strings.HasPrefix(pkgName, "@") || !strings.Contains(pkgName, "/") {
		return "", pkgName
	}
	parts := strings.SplitN(strings.TrimPrefix(pkgName, "@"), "/", 2)
	return parts[0], parts[1]
}

// asBackendError re-labels a raw httpx error with this backend's name and
// the package identity being requested, so callers see "npm: package
// hl7.fhir.us.core not found" rather than the bare listing URL.
func asBackendError(backend, pkgName, version string, err error) error {
	if _, ok := err.(*core.NotFoundError); ok {
		return &core.NotFoundError{Backend: backend, Name: pkgName, Version: version}
	}
	return err
}
