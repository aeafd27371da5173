// Package resolver implements dependency resolution against a prioritized
// chain of server backends, falling back to the local cache.
package resolver

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/fhir-pkgs/igpkg/internal/core"
)

const defaultFanoutLimit = 15

// Resolver consults a prioritized chain of ServerBackends for each
// dependency, falling back to the cache's installed versions when every
// server answers NotFound.
type Resolver struct {
	backends    []core.ServerBackend
	cache       core.CacheBackend
	fanoutLimit int
}

// New builds a Resolver. backends are tried in the given order; cache
// may be nil, in which case the cache fallback step is skipped.
func New(backends []core.ServerBackend, cache core.CacheBackend) *Resolver {
	return &Resolver{backends: backends, cache: cache, fanoutLimit: defaultFanoutLimit}
}

// Resolve resolves dep against each backend in priority order, returning
// the first Found result. If every backend answers NotFound (or there
// are no backends), the cache's installed versions are consulted.
// Returns core.NonePackageReference only if no source can satisfy dep.
// A TransportError from a backend other than the last is swallowed
// (that backend simply "cannot answer" right now; the same error from
// the last backend is surfaced to the caller). Any other error --
// ProtocolError foremost -- is fatal to the resolve and surfaced
// immediately, regardless of which backend in the chain produced it.
func (r *Resolver) Resolve(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
	ref, _, err := r.ResolveWithSource(ctx, dep)
	return ref, err
}

// ResolveWithSource behaves like Resolve but also reports which backend
// actually answered, so a caller that needs to fetch the tarball (the
// Restorer) doesn't have to guess or re-query. source is nil when ref
// came from the cache fallback rather than a live backend.
func (r *Resolver) ResolveWithSource(ctx context.Context, dep core.PackageDependency) (core.PackageReference, core.ServerBackend, error) {
	var lastSourceErr error

	for i, backend := range r.backends {
		ref, err := backend.Resolve(ctx, dep)
		if err == nil && ref.Found() {
			return ref, backend, nil
		}
		if err != nil && !isNotFound(err) {
			if !isTransport(err) {
				// Not a "this server cannot answer" condition -- a
				// malformed listing or other protocol-level failure is
				// fatal to the resolve and must not be masked by a
				// later backend's answer.
				return core.NonePackageReference, nil, err
			}
			// Only the last source's transport error is a candidate to
			// surface; every earlier transport failure just means that
			// source "cannot answer" and the chain falls through to the
			// next one.
			if i == len(r.backends)-1 {
				lastSourceErr = err
			}
			continue
		}
	}

	if r.cache != nil {
		ref, err := r.resolveFromCache(ctx, dep)
		if err != nil {
			return core.NonePackageReference, nil, err
		}
		if ref.Found() {
			return ref, nil, nil
		}
	}

	if lastSourceErr != nil {
		return core.NonePackageReference, nil, lastSourceErr
	}
	return core.NonePackageReference, nil, &core.NotFoundError{Backend: "resolver", Name: dep.Name, Version: dep.Range}
}

func (r *Resolver) resolveFromCache(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
	installed, err := r.cache.GetInstalledVersions(ctx, dep.Name)
	if err != nil {
		return core.NonePackageReference, err
	}
	if len(installed) == 0 {
		return core.NonePackageReference, nil
	}

	raw := make([]string, 0, len(installed))
	byVersion := make(map[string]core.PackageReference, len(installed))
	for _, ref := range installed {
		raw = append(raw, ref.Version())
		byVersion[ref.Version()] = ref
	}

	best := bestSatisfying(raw, dep.Range, true)
	if best == "" {
		return core.NonePackageReference, nil
	}
	return byVersion[best], nil
}

// GetLatest queries every server for name with an empty (latest) range
// and returns the Found result with the numerically greatest version,
// ties broken by enumeration order. Servers are queried concurrently,
// bounded by defaultFanoutLimit; the final selection is made
// on the calling goroutine so it stays deterministic regardless of
// completion order.
func GetLatest(ctx context.Context, servers []core.ServerBackend, name string) (core.PackageReference, error) {
	results := make([]core.PackageReference, len(servers))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultFanoutLimit)

	for i, backend := range servers {
		i, backend := i, backend
		g.Go(func() error {
			ref, err := backend.Resolve(ctx, core.PackageDependency{Name: name})
			if err != nil && !isNotFound(err) {
				return err
			}
			results[i] = ref
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return core.NonePackageReference, err
	}

	var best core.PackageReference
	var bestVersion string
	for _, ref := range results {
		if ref.NotFound() {
			continue
		}
		if best.NotFound() || versionGreater(ref.Version(), bestVersion) {
			best = ref
			bestVersion = ref.Version()
		}
	}
	return best, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, core.ErrNotFound)
}

// isTransport reports whether err is a core.TransportError -- the only
// error kind the resolver treats as "this source cannot answer right
// now" and falls through to the next backend for.
func isTransport(err error) bool {
	_, ok := err.(*core.TransportError)
	return ok
}
