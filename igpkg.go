// Package igpkg resolves and restores FHIR Implementation Guide
// dependency graphs against a prioritized chain of package sources: NPM-
// protocol registries, FHIR-flat registries, and the FHIR CI build
// server at build.fhir.org.
//
// Basic usage:
//
//	client := igpkg.DefaultClient()
//	servers := []igpkg.ServerBackend{
//		igpkg.NewNpmBackend("https://fs.get-ig.org/pkgs", client),
//		igpkg.NewCiBackend(client),
//	}
//	var cache igpkg.CacheBackend = myCache // any CacheBackend implementation
//	restorer := igpkg.NewRestorer(servers, cache)
//	c, err := restorer.Restore(ctx, manifest)
package igpkg

import (
	"context"

	"github.com/fhir-pkgs/igpkg/internal/ci"
	"github.com/fhir-pkgs/igpkg/internal/closure"
	"github.com/fhir-pkgs/igpkg/internal/core"
	"github.com/fhir-pkgs/igpkg/internal/fhirflat"
	"github.com/fhir-pkgs/igpkg/internal/httpx"
	"github.com/fhir-pkgs/igpkg/internal/npm"
	"github.com/fhir-pkgs/igpkg/internal/resolver"
	"github.com/fhir-pkgs/igpkg/internal/restorer"
)

// Re-export types from internal/core.
type (
	// ServerBackend is the uniform resolve/fetch interface every
	// package source implements.
	ServerBackend = core.ServerBackend

	// CacheBackend is the local store of installed packages.
	CacheBackend = core.CacheBackend

	// PackageReference identifies a concrete package artifact.
	PackageReference = core.PackageReference

	// PackageDependency is a name plus a semver range requirement.
	PackageDependency = core.PackageDependency

	// PackageManifest is the contents of a package's package.json.
	PackageManifest = core.PackageManifest

	// PackageListing mirrors an NPM-style registry listing document.
	PackageListing = core.PackageListing

	// ReleaseRecord is one version's entry inside a PackageListing.
	ReleaseRecord = core.ReleaseRecord

	// DistInfo carries the tarball location for one release.
	DistInfo = core.DistInfo
)

// Re-export error types from internal/core.
type (
	NotFoundError        = core.NotFoundError
	MisroutedError       = core.MisroutedError
	ProtocolError        = core.ProtocolError
	TransportError       = core.TransportError
	VersionMismatchError = core.VersionMismatchError
)

// ErrNotFound is the sentinel a dependency resolves to when no server or
// cache can supply it.
var ErrNotFound = core.ErrNotFound

// NonePackageReference is the sentinel value signalling "unresolved".
var NonePackageReference = core.NonePackageReference

// NewPackageReference constructs a resolved reference.
func NewPackageReference(scope, name, version string) PackageReference {
	return core.NewPackageReference(scope, name, version)
}

// CiScope is the sentinel scope routing a reference to the CI backend.
const CiScope = core.CiScope

// ParsePURL is not provided directly; PackageReference.PURL() returns
// the Package URL string for a resolved reference.

// Re-export the HTTP client from internal/httpx.
type (
	Client = httpx.Client
	Option = httpx.Option
)

// DefaultClient returns a Client with sensible defaults: a 30s timeout,
// 5 retries with exponential backoff, retrying on 429 and 5xx responses,
// DNS caching via a 5-minute refresh ticker.
func DefaultClient() *Client {
	return httpx.DefaultClient()
}

// NewClient builds a Client with the given options.
func NewClient(opts ...Option) *Client {
	return httpx.NewClient(opts...)
}

// WithTimeout sets the HTTP client timeout.
var WithTimeout = httpx.WithTimeout

// WithMaxRetries sets the maximum number of retries on transient errors.
var WithMaxRetries = httpx.WithMaxRetries

// WithUserAgent overrides the default User-Agent header.
var WithUserAgent = httpx.WithUserAgent

// WithInsecureTLS configures the client to accept invalid TLS
// certificates. Testing only.
var WithInsecureTLS = httpx.WithInsecureTLS

// WithCircuitBreaker trips a per-host circuit breaker after repeated
// transport failures instead of retrying a server that is already down.
var WithCircuitBreaker = httpx.WithCircuitBreaker

// NewNpmBackend builds a ServerBackend talking the NPM registry
// protocol, rooted at root (e.g. "https://fs.get-ig.org/pkgs").
func NewNpmBackend(root string, client *Client) ServerBackend {
	return npm.New(root, client)
}

// NewFhirFlatBackend builds a ServerBackend talking the simpler
// FHIR-flat registry protocol.
func NewFhirFlatBackend(root string, client *Client) ServerBackend {
	return fhirflat.New(root, client)
}

// CiOption configures a CI backend.
type CiOption = ci.Option

// WithListingInvalidationSeconds sets the CI backend's qas.json cache
// TTL: -1 never refreshes once loaded (the default), 0 never caches, a
// positive value refreshes once the cache exceeds that age in seconds.
var WithListingInvalidationSeconds = ci.WithListingInvalidationSeconds

// WithQasURL overrides the CI backend's qas.json endpoint, for tests.
var WithQasURL = ci.WithQasURL

// CiBackend is the FHIR CI build server backend, with additional named
// operations beyond the ServerBackend interface: catalog search and
// forced cache refresh.
type CiBackend = ci.Backend

// CatalogFilter narrows CiBackend.CatalogPackages to matching records.
type CatalogFilter = ci.CatalogFilter

// CatalogEntry is one deduplicated row of the CI build catalog.
type CatalogEntry = ci.CatalogEntry

// NewCiBackend builds a ServerBackend talking to the FHIR CI build
// server at build.fhir.org.
func NewCiBackend(client *Client, opts ...CiOption) *CiBackend {
	return ci.New(client, opts...)
}

// Re-export the dependency-graph accumulator from internal/closure.
type Closure = closure.Closure

// Re-export the resolver and restorer.
type (
	Resolver = resolver.Resolver
	Restorer = restorer.Restorer
)

// RestorerOption configures a Restorer.
type RestorerOption = restorer.Option

// OnInstalled is invoked once per successful fresh install during a
// restore.
type OnInstalled = restorer.OnInstalled

// WithOnInstalled registers a callback fired after each fresh install.
var WithOnInstalled = restorer.WithOnInstalled

// WithSiblingFanout bounds how many of one manifest's dependencies are
// resolved concurrently during a restore.
var WithSiblingFanout = restorer.WithSiblingFanout

// NewResolver builds a Resolver consulting backends in priority order,
// falling back to cache's installed versions when every backend answers
// NotFound. cache may be nil to skip the fallback step.
func NewResolver(backends []ServerBackend, cache CacheBackend) *Resolver {
	return resolver.New(backends, cache)
}

// NewRestorer builds a Restorer wiring backends and cache together
// through a Resolver, ready to walk a manifest's transitive dependency
// graph.
func NewRestorer(backends []ServerBackend, cache CacheBackend, opts ...RestorerOption) *Restorer {
	return restorer.New(restorer.NewBackendResolver(backends, cache), cache, opts...)
}

// GetLatest queries every server for name with an empty (latest) range
// concurrently and returns the result with the numerically greatest
// version.
func GetLatest(ctx context.Context, servers []ServerBackend, name string) (PackageReference, error) {
	return resolver.GetLatest(ctx, servers, name)
}
