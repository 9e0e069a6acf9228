package gocd

import (
	"errors"
	"fmt"
)

// ErrLookup is the root of every revision lookup failure.
var ErrLookup = errors.New("revision lookup failed")

// Lookup errors.
var (
	ErrBuildNotFound  = fmt.Errorf("%w: build not found in pipeline history", ErrLookup)
	ErrNoRevisionData = fmt.Errorf("%w: build has no revision data", ErrLookup)
)

// TransportError wraps a failure to fetch or decode pipeline history.
type TransportError struct {
	Pipeline string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("gocd history for %s: %v", e.Pipeline, e.Err)
}

// Unwrap exposes both ErrLookup and the underlying cause.
func (e *TransportError) Unwrap() []error {
	return []error{ErrLookup, e.Err}
}

// StatusError is returned for non-2xx responses from the GoCD API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// transient reports whether the status should count against the breaker.
func (e *StatusError) transient() bool {
	return e.Code >= 500 || e.Code == 429
}
