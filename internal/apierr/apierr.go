// Package apierr implements the daemon's error taxonomy, modeled on
// the typed-error/errors.As pattern cmd/git-sg/catfile.go uses for its
// missingError: a small set of error kinds that are allowed to cross
// the HTTP boundary with a specific status code and logging behavior,
// versus everything else, which is logged with a full stack trace and
// returned as a generic handler failure.
package apierr

import "fmt"

// NotFound means a route matched but the target entity (a directory
// id, an ignore pattern) does not exist. Surfaced as HTTP 404 with an
// empty body.
type NotFound struct {
	Kind string
	ID   string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Silent is an expected, recoverable condition - e.g. Unignore of a
// pattern that was never ignored. Surfaced as HTTP 500 but never
// logged with a stack trace.
type Silent struct {
	Msg string
}

func (e *Silent) Error() string { return e.Msg }

// Integrity marks an invariant violation inside the search engine
// (e.g. a basename with an embedded newline reaching the matcher). It
// is fatal to the request but not to the process: the router reports
// it exactly like an unclassified handler failure.
type Integrity struct {
	Err error
}

func (e *Integrity) Error() string { return "integrity violation: " + e.Err.Error() }
func (e *Integrity) Unwrap() error { return e.Err }
