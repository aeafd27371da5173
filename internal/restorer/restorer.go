// Package restorer orchestrates transitive dependency restoration: given
// a root manifest, it walks the dependency graph, resolving and
// installing each package, and accumulates the result into a closure.
package restorer

import (
	"context"
	"errors"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"

	"github.com/fhir-pkgs/igpkg/internal/closure"
	"github.com/fhir-pkgs/igpkg/internal/core"
	"github.com/fhir-pkgs/igpkg/internal/resolver"
)

const defaultSiblingFanout = 15

// Resolver is the subset of resolver.Resolver the restorer depends on.
type Resolver interface {
	Resolve(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error)
}

// OnInstalled is invoked once per successful fresh install during a
// restore, after Install completes and before recursion into the
// installed manifest begins. The restorer awaits it, so it must not
// block for long.
type OnInstalled func(ctx context.Context, ref core.PackageReference) error

// Fetcher downloads tarball bytes for a resolved reference. Each server
// backend satisfies this; the restorer is handed whichever backend
// actually resolved the reference so fetches stay consistent.
type Fetcher interface {
	Fetch(ctx context.Context, ref core.PackageReference) ([]byte, error)
}

// BackendResolver resolves a dependency and also reports which backend
// answered, so the restorer can fetch from the same source. This is the
// shape the Restorer actually needs; resolver.Resolver does not satisfy
// it directly, so NewBackendResolver below wraps it in resolverAdapter.
type BackendResolver interface {
	ResolveWithSource(ctx context.Context, dep core.PackageDependency) (core.PackageReference, Fetcher, error)
}

// Restorer orchestrates transitive restoration of a manifest's
// dependency graph into the local cache.
type Restorer struct {
	resolver    BackendResolver
	cache       core.CacheBackend
	onInstalled OnInstalled
	fanout      int
}

// Option configures a Restorer.
type Option func(*Restorer)

// WithOnInstalled registers a callback fired after each fresh install.
func WithOnInstalled(fn OnInstalled) Option {
	return func(r *Restorer) { r.onInstalled = fn }
}

// WithSiblingFanout bounds how many of one manifest's dependencies are
// resolved concurrently.
func WithSiblingFanout(n int) Option {
	return func(r *Restorer) {
		if n > 0 {
			r.fanout = n
		}
	}
}

// New builds a Restorer.
func New(res BackendResolver, cache core.CacheBackend, opts ...Option) *Restorer {
	r := &Restorer{resolver: res, cache: cache, fanout: defaultSiblingFanout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Restore walks manifest's transitive dependency graph, installing each
// newly accepted package into the cache, and returns the resulting
// closure. A transport or protocol error resolving any dependency aborts
// the restore entirely; an unresolved dependency that is also not
// already installed is recorded as missing rather than failing the
// restore.
func (r *Restorer) Restore(ctx context.Context, manifest *core.PackageManifest) (*closure.Closure, error) {
	c := closure.New()
	if err := r.walk(ctx, c, manifest); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *Restorer) walk(ctx context.Context, c *closure.Closure, manifest *core.PackageManifest) error {
	deps := manifest.GetDependencies()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.fanout)

	for _, dep := range deps {
		dep := dep
		g.Go(func() error {
			return r.resolveAndWalk(gctx, c, dep)
		})
	}

	return g.Wait()
}

func (r *Restorer) resolveAndWalk(ctx context.Context, c *closure.Closure, dep core.PackageDependency) error {
	ref, fetcher, err := r.resolver.ResolveWithSource(ctx, dep)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}

	if ref.NotFound() {
		already, installedErr := r.alreadyInstalled(ctx, dep.Name)
		if installedErr != nil {
			return installedErr
		}
		if !already.Found() {
			c.AddMissing(dep)
			return nil
		}
		// Bootstrapping case: unresolved upstream, but already on disk.
		c.Add(already)
		return nil
	}

	if !c.Add(ref) {
		return nil // already accepted at an equal-or-higher version; cycle-safe stop.
	}

	subManifest, err := r.install(ctx, ref, fetcher)
	if err != nil {
		return err
	}

	return r.walk(ctx, c, subManifest)
}

func (r *Restorer) install(ctx context.Context, ref core.PackageReference, fetcher Fetcher) (*core.PackageManifest, error) {
	installed, err := r.cache.IsInstalled(ctx, ref)
	if err != nil {
		return nil, err
	}

	if !installed {
		tarball, err := fetcher.Fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		if err := r.cache.Install(ctx, ref, tarball); err != nil {
			return nil, err
		}
		if r.onInstalled != nil {
			if err := r.onInstalled(ctx, ref); err != nil {
				return nil, err
			}
		}
	}

	return r.cache.ReadManifest(ctx, ref)
}

func (r *Restorer) alreadyInstalled(ctx context.Context, name string) (core.PackageReference, error) {
	versions, err := r.cache.GetInstalledVersions(ctx, name)
	if err != nil {
		return core.NonePackageReference, err
	}
	if len(versions) == 0 {
		return core.NonePackageReference, nil
	}
	best := versions[0]
	for _, v := range versions[1:] {
		bestVer, bestErr := semver.NewVersion(best.Version())
		vVer, vErr := semver.NewVersion(v.Version())
		if bestErr == nil && vErr == nil && vVer.GreaterThan(bestVer) {
			best = v
		}
	}
	return best, nil
}

// resolverAdapter adapts resolver.Resolver's (ref, backend, err) result
// into the Fetcher-shaped BackendResolver the Restorer consumes.
type resolverAdapter struct {
	res *resolver.Resolver
}

// NewBackendResolver builds the BackendResolver the Restorer needs from
// a plain backend chain and cache, reusing resolver.Resolver for the
// actual resolution policy.
func NewBackendResolver(backends []core.ServerBackend, cache core.CacheBackend) BackendResolver {
	return &resolverAdapter{res: resolver.New(backends, cache)}
}

func (a *resolverAdapter) ResolveWithSource(ctx context.Context, dep core.PackageDependency) (core.PackageReference, Fetcher, error) {
	ref, backend, err := a.res.ResolveWithSource(ctx, dep)
	if err != nil || ref.NotFound() {
		return ref, nil, err
	}
	if backend == nil {
		// Resolved via cache fallback: the cache already has it, so
		// install() below will see IsInstalled and never call Fetch.
		return ref, cacheOnlyFetcher{}, nil
	}
	return ref, backend, nil
}

// cacheOnlyFetcher satisfies Fetcher for references resolved purely from
// the cache fallback; Fetch is never actually called for them because
// install() checks IsInstalled first.
type cacheOnlyFetcher struct{}

func (cacheOnlyFetcher) Fetch(ctx context.Context, ref core.PackageReference) ([]byte, error) {
	return nil, &core.NotFoundError{Backend: "cache", Name: ref.Name(), Version: ref.Version()}
}
