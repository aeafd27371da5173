// Package ci implements the ServerBackend for the FHIR CI build server,
// build.fhir.org: not a registry API but a single JSON listing
// (qas.json) of current CI builds per Implementation Guide, from which
// NPM-style listings are synthesized on the fly.
package ci

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fhir-pkgs/igpkg/internal/core"
	"github.com/fhir-pkgs/igpkg/internal/httpx"
)

const (
	backendName   = "ci"
	defaultQasURL = "https://build.fhir.org/ig/qas.json"
)

// Backend is the ServerBackend talking to the FHIR CI build server.
// Every PackageReference it resolves or fetches carries core.CiScope.
type Backend struct {
	qasURL              string
	client              *httpx.Client
	invalidationSeconds int

	mu       sync.RWMutex
	snapshot *snapshot

	refreshMu sync.Mutex
}

// snapshot is the qas.json download grouped by packageId, replaced
// atomically on refresh so concurrent readers never observe a partially
// built map.
type snapshot struct {
	records     []qaRecord
	byPackageID map[string][]qaRecord
	fetchedAt   time.Time
}

// Option configures a Backend.
type Option func(*Backend)

// WithListingInvalidationSeconds sets the cache TTL: -1 never refreshes
// once loaded (the default), 0 never caches (every call re-downloads),
// and a positive value refreshes once the cache exceeds that age.
func WithListingInvalidationSeconds(n int) Option {
	return func(b *Backend) { b.invalidationSeconds = n }
}

// WithQasURL overrides the qas.json endpoint, for tests.
func WithQasURL(u string) Option {
	return func(b *Backend) { b.qasURL = u }
}

// New builds a CI backend. client should already be configured with any
// TLS/timeout options the caller needs (the spec's "insecure" option is
// satisfied by passing a client built with httpx.WithInsecureTLS()).
func New(client *httpx.Client, opts ...Option) *Backend {
	if client == nil {
		client = httpx.DefaultClient()
	}
	b := &Backend{qasURL: defaultQasURL, client: client, invalidationSeconds: -1}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return backendName }

func (b *Backend) List(ctx context.Context, pkgName string) (*core.PackageListing, error) {
	snap, err := b.currentSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	records := snap.byPackageID[pkgName]
	if len(records) == 0 {
		return nil, &core.NotFoundError{Backend: backendName, Name: pkgName}
	}

	listing := synthesizeListing(pkgName, records)
	if err := checkVersionCount(pkgName, listing); err != nil {
		return nil, err
	}
	return listing, nil
}

func (b *Backend) Resolve(ctx context.Context, dep core.PackageDependency) (core.PackageReference, error) {
	listing, err := b.List(ctx, dep.Name)
	if err != nil {
		return core.NonePackageReference, err
	}

	disc := dep.Range
	if disc == "" {
		disc = "current"
	}

	if disc != "latest" && !strings.Contains(disc, "+") {
		if v, ok := listing.DistTags[disc]; ok {
			return core.NewPackageReference(core.CiScope, dep.Name, v), nil
		}
		if v, ok := listing.DistTags["current$"+disc]; ok {
			return core.NewPackageReference(core.CiScope, dep.Name, v), nil
		}
	}

	if _, ok := listing.Versions[disc]; ok {
		return core.NewPackageReference(core.CiScope, dep.Name, disc), nil
	}

	best := listing.ToVersionSet().Resolve(disc, true)
	if best == nil {
		return core.NonePackageReference, &core.NotFoundError{Backend: backendName, Name: dep.Name, Version: dep.Range}
	}
	return core.NewPackageReference(core.CiScope, dep.Name, best.Original()), nil
}

func (b *Backend) Fetch(ctx context.Context, ref core.PackageReference) ([]byte, error) {
	if ref.Scope() != core.CiScope {
		return nil, &core.MisroutedError{Backend: backendName, Scope: ref.Scope()}
	}

	snap, err := b.currentSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	records := snap.byPackageID[ref.Name()]
	if len(records) == 0 {
		return nil, &core.NotFoundError{Backend: backendName, Name: ref.Name()}
	}

	listing := synthesizeListing(ref.Name(), records)
	rec, err := qaRecordFromVersion(records, listing.DistTags, ref.Version())
	if err != nil {
		return nil, err
	}
	return b.client.GetBody(ctx, tarballURLForRecord(rec))
}

// DownloadListing is GetPackage's listing counterpart in the original
// terminology; equivalent to List.
func (b *Backend) DownloadListing(ctx context.Context, pkgName string) (*core.PackageListing, error) {
	return b.List(ctx, pkgName)
}

// GetReferences resolves a package + version discriminator (tag, branch
// name, or concrete version) to a PackageReference.
func (b *Backend) GetReferences(ctx context.Context, pkgName, discriminator string) (core.PackageReference, error) {
	return b.Resolve(ctx, core.PackageDependency{Name: pkgName, Range: discriminator})
}

// GetPackage fetches the tarball for a resolved reference.
func (b *Backend) GetPackage(ctx context.Context, ref core.PackageReference) ([]byte, error) {
	return b.Fetch(ctx, ref)
}

// GetVersions returns every synthesized version string for pkgName,
// verifying that the VersionSet derived from them has the same
// cardinality as the underlying listing — a VersionMismatchError
// signals a synthesis bug that produced an unparseable version string.
func (b *Backend) GetVersions(ctx context.Context, pkgName string) ([]string, error) {
	listing, err := b.List(ctx, pkgName)
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(listing.Versions))
	for v := range listing.Versions {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

// UpdateCiListingCache forces a refresh of the qas.json snapshot
// regardless of the configured TTL.
func (b *Backend) UpdateCiListingCache(ctx context.Context) error {
	_, err := b.refresh(ctx)
	return err
}

// CatalogFilter narrows CatalogPackages to matching records. Every
// non-empty field is AND-ed together.
type CatalogFilter struct {
	PackageID        string
	FhirVersion      string
	URL              string
	RepositoryPrefix string // matched after stripping a github.com host
	Branch           string // matched as a "/branches/{branch}/qa.json" suffix
}

// CatalogEntry is one deduplicated row of the CI build catalog.
type CatalogEntry struct {
	PackageID     string
	Name          string
	FhirVersion   string
	URL           string
	RepositoryURL string
}

// CatalogPackages filters the full qas.json record set by filter,
// deduplicating by packageId (first match wins).
func (b *Backend) CatalogPackages(ctx context.Context, filter CatalogFilter) ([]CatalogEntry, error) {
	snap, err := b.currentSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []CatalogEntry
	for _, r := range snap.records {
		if filter.PackageID != "" && r.PackageID != filter.PackageID {
			continue
		}
		if filter.FhirVersion != "" && r.FhirVersion != filter.FhirVersion {
			continue
		}
		if filter.URL != "" && r.URL != filter.URL {
			continue
		}
		if filter.RepositoryPrefix != "" && !strings.HasPrefix(stripGithubHost(r.RepositoryURL), filter.RepositoryPrefix) {
			continue
		}
		if filter.Branch != "" && !strings.HasSuffix(r.RepositoryURL, "/branches/"+filter.Branch+"/qa.json") {
			continue
		}
		if seen[r.PackageID] {
			continue
		}
		seen[r.PackageID] = true
		out = append(out, CatalogEntry{
			PackageID:     r.PackageID,
			Name:          r.Name,
			FhirVersion:   r.FhirVersion,
			URL:           r.URL,
			RepositoryURL: r.RepositoryURL,
		})
	}
	return out, nil
}

func stripGithubHost(u string) string {
	for _, prefix := range []string{"https://github.com/", "http://github.com/", "github.com/"} {
		if strings.HasPrefix(u, prefix) {
			return strings.TrimPrefix(u, prefix)
		}
	}
	return u
}

// currentSnapshot returns a fresh-enough snapshot, refreshing under the
// write lock when the TTL has elapsed (or none has ever been loaded).
// invalidationSeconds == -1 means "never refresh once loaded".
func (b *Backend) currentSnapshot(ctx context.Context) (*snapshot, error) {
	b.mu.RLock()
	snap := b.snapshot
	b.mu.RUnlock()

	if snap != nil {
		switch {
		case b.invalidationSeconds < 0:
			return snap, nil
		case b.invalidationSeconds == 0:
			// never cache: fall through to refresh below.
		case time.Since(snap.fetchedAt) < time.Duration(b.invalidationSeconds)*time.Second:
			return snap, nil
		}
	}
	return b.refresh(ctx)
}

// refresh downloads qas.json and atomically publishes a new snapshot.
// refreshMu serializes concurrent refreshes (single-writer); readers of
// the published snapshot via currentSnapshot never take this lock, so
// they see either the old or the new snapshot, never a partial one.
func (b *Backend) refresh(ctx context.Context) (*snapshot, error) {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	var records []qaRecord
	if err := b.client.GetJSON(ctx, b.qasURL, &records); err != nil {
		return nil, err
	}

	grouped := make(map[string][]qaRecord, len(records))
	for _, r := range records {
		grouped[r.PackageID] = append(grouped[r.PackageID], r)
	}

	newSnap := &snapshot{records: records, byPackageID: grouped, fetchedAt: time.Now()}

	b.mu.Lock()
	b.snapshot = newSnap
	b.mu.Unlock()

	return newSnap, nil
}

// synthesizeListing builds an NPM-style PackageListing from one
// packageId's grouped QA records.
func synthesizeListing(pkgName string, records []qaRecord) *core.PackageListing {
	byStatus := append([]qaRecord(nil), records...)
	sort.SliceStable(byStatus, func(i, j int) bool { return byStatus[i].Status < byStatus[j].Status })

	versions := make(map[string]core.ReleaseRecord)
	for _, r := range byStatus {
		v := versionStringOf(r)
		if _, exists := versions[v]; exists {
			continue // earliest status wins
		}
		versions[v] = core.ReleaseRecord{
			Dist:        core.DistInfo{Tarball: tarballURLForRecord(&r)},
			FhirVersion: r.FhirVersion,
			URL:         stripImplementationGuideSuffix(r.URL),
		}
	}

	byDate := append([]qaRecord(nil), records...)
	sort.SliceStable(byDate, func(i, j int) bool { return byDate[i].buildDateKey() < byDate[j].buildDateKey() })

	distTags := make(map[string]string)
	for _, r := range byDate {
		v := versionStringOf(r)
		branch, present, isDefault := branchFromRepo(r.RepositoryURL)

		tagName := "current"
		if present {
			tagName = "current$" + branch
		}
		distTags[tagName] = v // last write wins

		if !present || isDefault {
			if _, ok := distTags["current"]; !ok {
				distTags["current"] = v // first write wins for "current" specifically
			}
		}
	}

	return &core.PackageListing{ID: pkgName, Name: pkgName, Versions: versions, DistTags: distTags}
}

func checkVersionCount(pkgName string, listing *core.PackageListing) error {
	got := listing.ToVersionSet().Len()
	want := len(listing.Versions)
	if got != want {
		return &core.VersionMismatchError{PackageID: pkgName, Got: got, Want: want}
	}
	return nil
}
