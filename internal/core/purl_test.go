package core

import "testing"

func TestPURLUnscoped(t *testing.T) {
	ref := NewPackageReference("", "hl7.fhir.us.core", "6.1.0")
	want := "pkg:generic/hl7.fhir.us.core@6.1.0"
	if got := ref.PURL(); got != want {
		t.Errorf("PURL() = %q, want %q", got, want)
	}
}

func TestPURLNoneIsEmpty(t *testing.T) {
	if got := NonePackageReference.PURL(); got != "" {
		t.Errorf("PURL() on None = %q, want \"\"", got)
	}
}
