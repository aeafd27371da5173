package ci

// qaRecord is one row of https://build.fhir.org/ig/qas.json: the build
// server's per-build status blob, aggregated across every tracked
// Implementation Guide and branch.
type qaRecord struct {
	PackageID      string `json:"packageId"`
	PackageVersion string `json:"packageVersion"`
	Name           string `json:"name"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Status         string `json:"status"`
	FhirVersion    string `json:"fhirVersion"`
	URL            string `json:"url"`
	RepositoryURL  string `json:"repositoryUrl"`
	BuildDate      string `json:"buildDate"`
	BuildDateIso   string `json:"buildDateIso"`
}

// buildDateKey is the field used to order records chronologically:
// buildDateIso when present, else buildDate. Both are already in the
// "yyyyMMdd-HHmmssZ" grammar, so lexicographic comparison is
// chronological comparison.
func (r qaRecord) buildDateKey() string {
	if r.BuildDateIso != "" {
		return r.BuildDateIso
	}
	return r.BuildDate
}
