package resolver

import (
	"context"
	"testing"

	"github.com/fhir-pkgs/igpkg/internal/core"
)

// fakeBackend is a minimal core.ServerBackend for resolver tests.
type fakeBackend struct {
	name       string
	resolveFn  func(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error)
	listFn     func(ctx context.Context, name string) (*core.PackageListing, error)
	fetchCalls int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) List(ctx context.Context, name string) (*core.PackageListing, error) {
	if f.listFn != nil {
		return f.listFn(ctx, name)
	}
	return nil, &core.NotFoundError{Backend: f.name, Name: name}
}

func (f *fakeBackend) Resolve(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
	return f.resolveFn(ctx, dep)
}

func (f *fakeBackend) Fetch(ctx context.Context, ref core.PackageReference) ([]byte, error) {
	f.fetchCalls++
	return []byte("tarball"), nil
}

func notFound(backend string, dep core.PackageDependency) (core.PackageReference, error) {
	return core.NonePackageReference, &core.NotFoundError{Backend: backend, Name: dep.Name, Version: dep.Range}
}

// fakeCache is a minimal core.CacheBackend for resolver tests.
type fakeCache struct {
	installed map[string][]core.PackageReference
}

func (c *fakeCache) IsInstalled(ctx context.Context, ref core.PackageReference) (bool, error) {
	for _, r := range c.installed[ref.Name()] {
		if r.Version() == ref.Version() {
			return true, nil
		}
	}
	return false, nil
}

func (c *fakeCache) ReadManifest(ctx context.Context, ref core.PackageReference) (*core.PackageManifest, error) {
	return &core.PackageManifest{Name: ref.Name(), Version: ref.Version()}, nil
}

func (c *fakeCache) Install(ctx context.Context, ref core.PackageReference, tarball []byte) error {
	if c.installed == nil {
		c.installed = make(map[string][]core.PackageReference)
	}
	c.installed[ref.Name()] = append(c.installed[ref.Name()], ref)
	return nil
}

func (c *fakeCache) GetInstalledVersions(ctx context.Context, name string) ([]core.PackageReference, error) {
	return c.installed[name], nil
}

func TestResolveFirstFoundWins(t *testing.T) {
	first := &fakeBackend{name: "npm", resolveFn: func(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
		return core.NewPackageReference("", dep.Name, "1.0.0"), nil
	}}
	second := &fakeBackend{name: "fhir-flat", resolveFn: func(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
		t.Fatalf("second backend should not be consulted once the first resolves")
		return core.NonePackageReference, nil
	}}

	r := New([]core.ServerBackend{first, second}, nil)
	ref, err := r.Resolve(context.Background(), core.PackageDependency{Name: "hl7.fhir.us.core"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.Version() != "1.0.0" {
		t.Errorf("Version() = %q, want 1.0.0", ref.Version())
	}
}

func TestResolveFallsThroughOnNotFound(t *testing.T) {
	first := &fakeBackend{name: "npm", resolveFn: func(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
		return notFound("npm", dep)
	}}
	second := &fakeBackend{name: "ci", resolveFn: func(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
		return core.NewPackageReference("build.fhir.org", dep.Name, "current"), nil
	}}

	r := New([]core.ServerBackend{first, second}, nil)
	ref, err := r.Resolve(context.Background(), core.PackageDependency{Name: "cinc.fhir.ig"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.Version() != "current" {
		t.Errorf("Version() = %q, want current", ref.Version())
	}
}

func TestResolveFallsBackToCacheWhenAllServersFail(t *testing.T) {
	backend := &fakeBackend{name: "npm", resolveFn: func(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
		return notFound("npm", dep)
	}}
	cache := &fakeCache{installed: map[string][]core.PackageReference{
		"hl7.fhir.us.core": {core.NewPackageReference("", "hl7.fhir.us.core", "3.0.0")},
	}}

	r := New([]core.ServerBackend{backend}, cache)
	ref, err := r.Resolve(context.Background(), core.PackageDependency{Name: "hl7.fhir.us.core"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.Version() != "3.0.0" {
		t.Errorf("Version() = %q, want 3.0.0 from cache", ref.Version())
	}
}

func TestResolveReturnsNoneWhenNothingSatisfies(t *testing.T) {
	backend := &fakeBackend{name: "npm", resolveFn: func(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
		return notFound("npm", dep)
	}}
	cache := &fakeCache{}

	r := New([]core.ServerBackend{backend}, cache)
	ref, err := r.Resolve(context.Background(), core.PackageDependency{Name: "nowhere.ig"})
	if err == nil {
		t.Fatalf("expected an error when nothing can satisfy the dependency")
	}
	if ref.Found() {
		t.Errorf("expected NonePackageReference, got %+v", ref)
	}
}

func TestResolveSurfacesLastSourceTransportError(t *testing.T) {
	first := &fakeBackend{name: "npm", resolveFn: func(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
		return notFound("npm", dep)
	}}
	last := &fakeBackend{name: "fhir-flat", resolveFn: func(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
		return core.NonePackageReference, &core.TransportError{Backend: "fhir-flat", StatusCode: 503}
	}}

	r := New([]core.ServerBackend{first, last}, nil)
	_, err := r.Resolve(context.Background(), core.PackageDependency{Name: "x"})
	if err == nil {
		t.Fatalf("expected the last source's transport error to surface")
	}
	if _, ok := err.(*core.TransportError); !ok {
		t.Errorf("err = %T, want *core.TransportError", err)
	}
}

func TestResolveSurfacesProtocolErrorFromNonLastBackend(t *testing.T) {
	first := &fakeBackend{name: "npm", resolveFn: func(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
		return core.NonePackageReference, &core.ProtocolError{Backend: "npm", Name: dep.Name, Reason: "malformed listing"}
	}}
	second := &fakeBackend{name: "fhir-flat", resolveFn: func(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
		return core.NewPackageReference("", dep.Name, "1.0.0"), nil
	}}

	r := New([]core.ServerBackend{first, second}, nil)
	_, err := r.Resolve(context.Background(), core.PackageDependency{Name: "x"})
	if err == nil {
		t.Fatalf("expected the first backend's ProtocolError to surface, not be masked by the second backend's answer")
	}
	if _, ok := err.(*core.ProtocolError); !ok {
		t.Fatalf("err = %T, want *core.ProtocolError", err)
	}
}

func TestGetLatestAcrossServers(t *testing.T) {
	servers := []core.ServerBackend{
		&fakeBackend{name: "npm", resolveFn: func(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
			return core.NewPackageReference("", dep.Name, "1.2.0"), nil
		}},
		&fakeBackend{name: "fhir-flat", resolveFn: func(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
			return core.NewPackageReference("", dep.Name, "1.5.0"), nil
		}},
		&fakeBackend{name: "ci", resolveFn: func(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
			return notFound("ci", dep)
		}},
	}

	ref, err := GetLatest(context.Background(), servers, "hl7.fhir.us.core")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if ref.Version() != "1.5.0" {
		t.Errorf("Version() = %q, want 1.5.0", ref.Version())
	}
}
