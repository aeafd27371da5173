// Package memcache is a minimal in-memory core.CacheBackend, the way the
// teacher's core.BaseURLs is a trivial conforming URLBuilder: it exists
// so the Resolver and Restorer are exercisable end-to-end without a real
// on-disk cache, which is out of scope for this module.
package memcache

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/fhir-pkgs/igpkg/internal/core"
)

// entry holds one installed package's manifest alongside the raw tarball
// bytes, keyed by moniker.
type entry struct {
	manifest *core.PackageManifest
	tarball  []byte
}

// Cache is a concurrency-safe, process-local CacheBackend. Nothing is
// persisted to disk; it exists purely as test and wiring scaffolding.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]entry
	decodeFn func([]byte) (*core.PackageManifest, error)
}

// New builds an empty Cache using the default package.json-from-tgz
// decoder.
func New() *Cache {
	return &Cache{
		entries:  make(map[string]entry),
		decodeFn: DecodeManifest,
	}
}

// WithDecoder overrides how Install derives a manifest from tarball
// bytes, for tests that hand in synthetic, non-gzip payloads.
func (c *Cache) WithDecoder(fn func([]byte) (*core.PackageManifest, error)) *Cache {
	c.decodeFn = fn
	return c
}

// Seed installs ref with a known manifest directly, bypassing tarball
// decoding, for tests that want to bootstrap a populated cache.
func (c *Cache) Seed(ref core.PackageReference, manifest *core.PackageManifest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ref.Moniker()] = entry{manifest: manifest}
}

func (c *Cache) IsInstalled(ctx context.Context, ref core.PackageReference) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[ref.Moniker()]
	return ok, nil
}

func (c *Cache) ReadManifest(ctx context.Context, ref core.PackageReference) (*core.PackageManifest, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[ref.Moniker()]
	if !ok {
		return nil, &core.NotFoundError{Backend: "memcache", Name: ref.Name(), Version: ref.Version()}
	}
	return e.manifest, nil
}

func (c *Cache) Install(ctx context.Context, ref core.PackageReference, tarball []byte) error {
	manifest, err := c.decodeFn(tarball)
	if err != nil {
		return &core.ProtocolError{Backend: "memcache", Name: ref.Name(), Reason: err.Error()}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[ref.Moniker()] = entry{manifest: manifest, tarball: tarball}
	return nil
}

func (c *Cache) GetInstalledVersions(ctx context.Context, name string) ([]core.PackageReference, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []core.PackageReference
	for _, e := range c.entries {
		if e.manifest != nil && e.manifest.Name == name {
			out = append(out, e.manifest.GetPackageReference())
		}
	}
	return out, nil
}

// DecodeManifest reads package.json out of a gzipped tar archive, the
// shape every backend in this module fetches. It is the default decoder;
// callers that want the real on-disk cache's extraction routine instead
// of this in-memory one supply their own CacheBackend entirely.
func DecodeManifest(tarball []byte) (*core.PackageManifest, error) {
	gz, err := gzip.NewReader(bytes.NewReader(tarball))
	if err != nil {
		return nil, fmt.Errorf("not a gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if hdr.Name != "package/package.json" && hdr.Name != "package.json" {
			continue
		}
		var manifest core.PackageManifest
		if err := json.NewDecoder(tr).Decode(&manifest); err != nil {
			return nil, fmt.Errorf("decoding package.json: %w", err)
		}
		return &manifest, nil
	}
	return nil, fmt.Errorf("package.json not found in tarball")
}
