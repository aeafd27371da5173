package restorer

import (
	"context"
	"testing"
	"time"

	"github.com/fhir-pkgs/igpkg/internal/closure"
	"github.com/fhir-pkgs/igpkg/internal/core"
)

// fakeResolver is an in-memory BackendResolver driven by a fixed table
// of dependency -> reference mappings, for deterministic restorer tests.
type fakeResolver struct {
	table map[string]core.PackageReference
}

func (f *fakeResolver) ResolveWithSource(ctx context.Context, dep core.PackageDependency) (core.PackageReference, Fetcher, error) {
	ref, ok := f.table[dep.Name]
	if !ok {
		return core.NonePackageReference, nil, &core.NotFoundError{Backend: "fake", Name: dep.Name}
	}
	return ref, fakeFetcher{}, nil
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(ctx context.Context, ref core.PackageReference) ([]byte, error) {
	return []byte("tarball:" + ref.Moniker()), nil
}

// fakeCache is an in-memory core.CacheBackend backed by a manifest
// table, so installs recurse into known sub-manifests.
type fakeCache struct {
	manifests map[string]*core.PackageManifest
	installed map[string]bool
	byName    map[string][]core.PackageReference
}

func newFakeCache(manifests map[string]*core.PackageManifest) *fakeCache {
	return &fakeCache{
		manifests: manifests,
		installed: make(map[string]bool),
		byName:    make(map[string][]core.PackageReference),
	}
}

func (c *fakeCache) IsInstalled(ctx context.Context, ref core.PackageReference) (bool, error) {
	return c.installed[ref.Moniker()], nil
}

func (c *fakeCache) ReadManifest(ctx context.Context, ref core.PackageReference) (*core.PackageManifest, error) {
	m, ok := c.manifests[ref.Name()]
	if !ok {
		return &core.PackageManifest{Name: ref.Name(), Version: ref.Version()}, nil
	}
	return m, nil
}

func (c *fakeCache) Install(ctx context.Context, ref core.PackageReference, tarball []byte) error {
	c.installed[ref.Moniker()] = true
	c.byName[ref.Name()] = append(c.byName[ref.Name()], ref)
	return nil
}

func (c *fakeCache) GetInstalledVersions(ctx context.Context, name string) ([]core.PackageReference, error) {
	return c.byName[name], nil
}

func TestRestoreWalksTransitiveDependencies(t *testing.T) {
	root := &core.PackageManifest{
		Name:    "root.ig",
		Version: "1.0.0",
		Dependencies: map[string]string{
			"hl7.fhir.us.core": "^6.0.0",
		},
	}
	usCore := &core.PackageManifest{
		Name:    "hl7.fhir.us.core",
		Version: "6.1.0",
		Dependencies: map[string]string{
			"hl7.fhir.r4.core": "4.0.1",
		},
	}
	r4Core := &core.PackageManifest{Name: "hl7.fhir.r4.core", Version: "4.0.1"}

	resolver := &fakeResolver{table: map[string]core.PackageReference{
		"hl7.fhir.us.core": core.NewPackageReference("", "hl7.fhir.us.core", "6.1.0"),
		"hl7.fhir.r4.core": core.NewPackageReference("", "hl7.fhir.r4.core", "4.0.1"),
	}}
	cache := newFakeCache(map[string]*core.PackageManifest{
		"hl7.fhir.us.core": usCore,
		"hl7.fhir.r4.core": r4Core,
	})

	restorer := New(resolver, cache)
	c, err := restorer.Restore(context.Background(), root)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	accepted := c.Accepted()
	if len(accepted) != 2 {
		t.Fatalf("Accepted() = %+v, want 2 entries", accepted)
	}
	if ref, ok := c.Get("hl7.fhir.us.core"); !ok || ref.Version() != "6.1.0" {
		t.Errorf("hl7.fhir.us.core = %+v, %v", ref, ok)
	}
	if ref, ok := c.Get("hl7.fhir.r4.core"); !ok || ref.Version() != "4.0.1" {
		t.Errorf("hl7.fhir.r4.core = %+v, %v", ref, ok)
	}
	if !cache.installed["hl7.fhir.us.core@6.1.0"] {
		t.Errorf("expected hl7.fhir.us.core to be installed")
	}
}

func TestRestoreBreaksCycles(t *testing.T) {
	a := &core.PackageManifest{
		Name:         "a.ig",
		Version:      "1.0.0",
		Dependencies: map[string]string{"b.ig": "1.0.0"},
	}
	b := &core.PackageManifest{
		Name:         "b.ig",
		Version:      "1.0.0",
		Dependencies: map[string]string{"a.ig": "1.0.0"},
	}

	resolver := &fakeResolver{table: map[string]core.PackageReference{
		"a.ig": core.NewPackageReference("", "a.ig", "1.0.0"),
		"b.ig": core.NewPackageReference("", "b.ig", "1.0.0"),
	}}
	cache := newFakeCache(map[string]*core.PackageManifest{"a.ig": a, "b.ig": b})

	restorer := New(resolver, cache)

	done := make(chan struct{})
	var c *closure.Closure
	var restoreErr error
	go func() {
		result, err := restorer.Restore(context.Background(), a)
		c = result
		restoreErr = err
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Restore did not terminate on a dependency cycle")
	}

	if restoreErr != nil {
		t.Fatalf("Restore: %v", restoreErr)
	}
	// a.ig is the root and is never added to the closure itself; b.ig is
	// accepted first, then b.ig's dependency back on a.ig is resolved and
	// installed once, and the cycle closes because a.ig's manifest offers
	// b.ig again and that second Add(b.ig) is a no-op.
	if len(c.Accepted()) != 2 {
		t.Fatalf("Accepted() = %+v, want 2 (a.ig and b.ig, cycle broken on the second Add)", c.Accepted())
	}
}

func TestRestoreRecordsMissingDependency(t *testing.T) {
	root := &core.PackageManifest{
		Name:         "root.ig",
		Version:      "1.0.0",
		Dependencies: map[string]string{"nowhere.ig": "1.0.0"},
	}

	resolver := &fakeResolver{table: map[string]core.PackageReference{}}
	cache := newFakeCache(nil)

	restorer := New(resolver, cache)
	c, err := restorer.Restore(context.Background(), root)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	missing := c.Missing()
	if len(missing) != 1 || missing[0].Name != "nowhere.ig" {
		t.Fatalf("Missing() = %+v", missing)
	}
}

func TestRestoreFiresOnInstalledAfterInstall(t *testing.T) {
	root := &core.PackageManifest{
		Name:         "root.ig",
		Version:      "1.0.0",
		Dependencies: map[string]string{"child.ig": "1.0.0"},
	}
	child := &core.PackageManifest{Name: "child.ig", Version: "1.0.0"}

	resolver := &fakeResolver{table: map[string]core.PackageReference{
		"child.ig": core.NewPackageReference("", "child.ig", "1.0.0"),
	}}
	cache := newFakeCache(map[string]*core.PackageManifest{"child.ig": child})

	var installedRef core.PackageReference
	restorer := New(resolver, cache, WithOnInstalled(func(ctx context.Context, ref core.PackageReference) error {
		installedRef = ref
		if !cache.installed[ref.Moniker()] {
			t.Errorf("onInstalled fired before Install completed")
		}
		return nil
	}))

	if _, err := restorer.Restore(context.Background(), root); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if installedRef.Name() != "child.ig" {
		t.Errorf("onInstalled did not fire for child.ig, got %+v", installedRef)
	}
}
