package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is the sentinel a dependency resolves to when no server or
// cache can supply it. It is recovered locally by the closure and never
// surfaced as a fatal error on its own.
var ErrNotFound = errors.New("not found")

// NotFoundError wraps ErrNotFound with enough context to log or report.
type NotFoundError struct {
	Backend string
	Name    string
	Version string
}

func (e *NotFoundError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("%s: package %s version %s not found", e.Backend, e.Name, e.Version)
	}
	return fmt.Sprintf("%s: package %s not found", e.Backend, e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// MisroutedError is raised when a reference is handed to a backend that
// cannot possibly serve it, e.g. a non-CI-scoped reference given to
// CiBackend.GetPackage.
type MisroutedError struct {
	Backend string
	Scope   string
}

func (e *MisroutedError) Error() string {
	return fmt.Sprintf("%s: reference scope %q cannot be routed to this backend", e.Backend, e.Scope)
}

// ProtocolError represents malformed listing/manifest JSON, a missing
// required field, or an unparseable version string from a server.
type ProtocolError struct {
	Backend string
	Name    string
	Reason  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: protocol error for %s: %s", e.Backend, e.Name, e.Reason)
}

// TransportError wraps a network failure or non-2xx response. The
// Resolver treats it as "this server cannot answer" and falls through to
// the next source; only the last source's TransportError is surfaced.
type TransportError struct {
	Backend    string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d fetching %s", e.Backend, e.StatusCode, e.URL)
	}
	return fmt.Sprintf("%s: fetching %s: %v", e.Backend, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// VersionMismatchError indicates CiBackend.GetVersions found a different
// number of versions than its own synthesized listing produced -- a bug
// in listing synthesis, not a transient condition.
type VersionMismatchError struct {
	PackageID string
	Got       int
	Want      int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("ci: version count mismatch for %s: got %d, synthesized listing has %d", e.PackageID, e.Got, e.Want)
}
