// Package fhirflat implements the FHIR-flat ServerBackend: registries
// with a simpler URL scheme than NPM's, sharing the same listing
// document shape.
package fhirflat

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/fhir-pkgs/igpkg/internal/core"
	"github.com/fhir-pkgs/igpkg/internal/httpx"
)

const name = "fhir-flat"

// Backend is a ServerBackend talking the FHIR-flat registry protocol:
// "{root}/{name}" for listing, "{root}/{name}/{version}" for tarball.
type Backend struct {
	root   string
	client *httpx.Client
}

// New builds a FHIR-flat backend rooted at root. Trailing slashes are
// stripped.
func New(root string, client *httpx.Client) *Backend {
	if client == nil {
		client = httpx.DefaultClient()
	}
	return &Backend{root: strings.TrimSuffix(root, "/"), client: client}
}

func (b *Backend) Name() string { return name }

type listingResponse struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	DistTags    map[string]string          `json:"distTags"`
	Versions    map[string]releaseResponse `json:"versions"`
}

type releaseResponse struct {
	FhirVersion string `json:"fhirVersion"`
	URL         string `json:"url"`
	Unlisted    bool   `json:"unlisted"`
}

func (b *Backend) List(ctx context.Context, pkgName string) (*core.PackageListing, error) {
	var resp listingResponse
	if err := b.client.GetJSON(ctx, b.listingURL(pkgName), &resp); err != nil {
		return nil, asBackendError(pkgName, "", err)
	}

	listing := &core.PackageListing{
		ID:          resp.ID,
		Name:        resp.Name,
		Description: resp.Description,
		DistTags:    resp.DistTags,
		Versions:    make(map[string]core.ReleaseRecord, len(resp.Versions)),
	}
	for version, v := range resp.Versions {
		listing.Versions[version] = core.ReleaseRecord{
			Dist:        core.DistInfo{Tarball: b.tarballURL(pkgName, version)},
			FhirVersion: v.FhirVersion,
			URL:         v.URL,
			Unlisted:    v.Unlisted,
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
	body, err := b.client.GetBody(ctx, b.tarballURL(ref.Name(), ref.Version()))
	if err != nil {
		return nil, asBackendError(ref.Name(), ref.Version(), err)
	}
	return body, nil
}

func (b *Backend) listingURL(pkgName string) string {
	return fmt.Sprintf("%s/%s", b.root, url.PathEscape(pkgName))
}

func (b *Backend) tarballURL(pkgName, version string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, url.PathEscape(pkgName), url.PathEscape(version))
}

func asBackendError(pkgName, version string, err error) error {
	if _, ok := err.(*core.NotFoundError); ok {
		return &core.NotFoundError{Backend: name, Name: pkgName, Version: version}
	}
	return err
}
