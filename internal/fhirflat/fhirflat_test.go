package fhirflat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fhir-pkgs/igpkg/internal/core"
	"github.com/fhir-pkgs/igpkg/internal/httpx"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Backend) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, New(srv.URL, httpx.DefaultClient())
}

const fixture = `{
	"id": "hl7.fhir.us.core",
	"name": "hl7.fhir.us.core",
	"distTags": {"latest": "6.1.0"},
	"versions": {
		"5.0.1": {"fhirVersion": "4.0.1"},
		"6.1.0": {"fhirVersion": "4.0.1"}
	}
}`

func TestListDecodesListing(t *testing.T) {
	var gotPath string
	srv, backend := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(fixture))
	})
	_ = srv

	listing, err := backend.List(context.Background(), "hl7.fhir.us.core")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if gotPath != "/hl7.fhir.us.core" {
		t.Errorf("path = %q", gotPath)
	}
	if len(listing.Versions) != 2 {
		t.Errorf("Versions = %+v", listing.Versions)
	}
	wantTarball := srv.URL + "/hl7.fhir.us.core/6.1.0"
	if listing.Versions["6.1.0"].Dist.Tarball != wantTarball {
		t.Errorf("Tarball = %q, want %q", listing.Versions["6.1.0"].Dist.Tarball, wantTarball)
	}
}

func TestResolveByTag(t *testing.T) {
	_, backend := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fixture))
	})

	ref, err := backend.Resolve(context.Background(), core.PackageDependency{Name: "hl7.fhir.us.core", Range: "latest"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.Version() != "6.1.0" {
		t.Errorf("Version() = %q, want 6.1.0", ref.Version())
	}
}

func TestResolveByRange(t *testing.T) {
	_, backend := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fixture))
	})

	ref, err := backend.Resolve(context.Background(), core.PackageDependency{Name: "hl7.fhir.us.core", Range: "^5.0.0"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.Version() != "5.0.1" {
		t.Errorf("Version() = %q, want 5.0.1", ref.Version())
	}
}

func TestListUnknownPackageIsNotFound(t *testing.T) {
	_, backend := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := backend.List(context.Background(), "nowhere.ig")
	if _, ok := err.(*core.NotFoundError); !ok {
		t.Fatalf("err = %T, want *core.NotFoundError", err)
	}
}

func TestFetchTarballURLHasNoExtension(t *testing.T) {
	var gotPath string
	srv, backend := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("tarball-bytes"))
	})
	_ = srv

	ref := core.NewPackageReference("", "hl7.fhir.us.core", "6.1.0")
	body, err := backend.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != "tarball-bytes" {
		t.Errorf("body = %q", body)
	}
	if gotPath != "/hl7.fhir.us.core/6.1.0" {
		t.Errorf("path = %q, want no .tgz suffix", gotPath)
	}
}

func TestUnlistedVersionExcludedFromLatest(t *testing.T) {
	_, backend := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"id": "hl7.fhir.us.core",
			"name": "hl7.fhir.us.core",
			"distTags": {"latest": "6.1.0"},
			"versions": {
				"6.1.0": {"fhirVersion": "4.0.1"},
				"7.0.0-experimental": {"fhirVersion": "4.0.1", "unlisted": true}
			}
		}`))
	})

	ref, err := backend.Resolve(context.Background(), core.PackageDependency{Name: "hl7.fhir.us.core", Range: ""})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.Version() != "6.1.0" {
		t.Errorf("Version() = %q, want 6.1.0 (unlisted version must not win latest)", ref.Version())
	}
}
