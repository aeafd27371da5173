package core

import "context"

// ServerBackend is the uniform resolve/fetch interface implemented by
// every concrete package source: NPM-protocol registries, FHIR-flat
// registries, and the FHIR CI build server.
type ServerBackend interface {
	// Name identifies the backend for error context and logging
	// (e.g. "npm", "fhir-flat", "ci").
	Name() string

	// List fetches the full listing document for a package.
	// A NotFoundError is returned when the package is unknown to this
	// backend; it participates in Resolver fallback, not a fatal error.
	List(ctx context.Context, name string) (*PackageListing, error)

	// Resolve resolves a dependency against this backend's listing and
	// returns a concrete PackageReference, or NonePackageReference
	// (with a NotFoundError) when nothing satisfies it here.
	Resolve(ctx context.Context, dep PackageDependency) (PackageReference, error)

	// Fetch downloads the tarball bytes for a resolved reference.
	Fetch(ctx context.Context, ref PackageReference) ([]byte, error)
}

// CacheBackend is the local store of installed packages, consulted by
// the Resolver as a last resort and written to by the Restorer. Its
// on-disk layout and extraction routine are out of scope for this
// module; only this contract is.
type CacheBackend interface {
	// IsInstalled reports whether ref is already present in the cache.
	IsInstalled(ctx context.Context, ref PackageReference) (bool, error)

	// ReadManifest reads the installed package's manifest.
	ReadManifest(ctx context.Context, ref PackageReference) (*PackageManifest, error)

	// Install extracts tarball bytes into the cache and records ref as
	// installed. Implementations must make this atomic from the
	// caller's perspective: either fully installed, or unchanged.
	Install(ctx context.Context, ref PackageReference, tarball []byte) error

	// GetInstalledVersions returns every installed reference for name,
	// used by the Resolver when every server returns NotFound.
	GetInstalledVersions(ctx context.Context, name string) ([]PackageReference, error)
}
