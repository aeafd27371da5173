package core

import (
	packageurl "github.com/package-url/packageurl-go"
)

// purlType is the PURL type used for every reference this module
// produces. FHIR IG packages have no registered PURL type, so "generic"
// is used with the scope carried as a qualifier, the same fallback the
// teacher's BaseURLs.PURL uses for ecosystems it doesn't special-case.
const purlType = "generic"

// PURL returns a Package URL string identifying ref. The PURL namespace
// is always empty; a scope, when present, is carried as the "scope"
// qualifier.
func (r PackageReference) PURL() string {
	if !r.found {
		return ""
	}
	var qualifiers packageurl.Qualifiers
	if r.scope != "" {
		qualifiers = packageurl.Qualifiers{
			{Key: "scope", Value: r.scope},
		}
	}
	p := packageurl.NewPackageURL(purlType, "", r.name, r.version, qualifiers, "")
	return p.ToString()
}
