// Package huberrors defines the typed errors that cross layers: handlers map them to
// status codes, services wrap causes in them.
package huberrors

import "fmt"

// ErrValidation matches any *ValidationError via errors.Is.
var ErrValidation = &ValidationError{}

// ValidationError reports bad client input, usually a change event or search request field.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field != "" && e.Message != "":
		return e.Field + ": " + e.Message
	case e.Message != "":
		return e.Message
	case e.Field != "":
		return "invalid " + e.Field
	default:
		return "validation error"
	}
}

func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)

	return ok
}

// ErrUnavailable matches any *UnavailableError. Unavailable is never the same as empty:
// a search that could not run must not be reported as zero results.
var ErrUnavailable = &UnavailableError{}

// UnavailableError reports that the embedding provider or the vector store could not serve a call.
type UnavailableError struct {
	Dependency string
	Err        error
}

func NewUnavailableError(dependency string, err error) *UnavailableError {
	return &UnavailableError{Dependency: dependency, Err: err}
}

func (e *UnavailableError) Error() string {
	dep := e.Dependency
	if dep == "" {
		dep = "dependency"
	}

	if e.Err == nil {
		return dep + " unavailable"
	}

	return fmt.Sprintf("%s unavailable: %v", dep, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool {
	_, ok := target.(*UnavailableError)

	return ok
}

// ErrTenantIsolation matches any *IsolationError.
var ErrTenantIsolation = &IsolationError{}

// IsolationError means a store returned a row owned by a tenant other than the caller's.
// The result set is discarded.
type IsolationError struct {
	Backend  string
	TenantID string
}

func NewIsolationError(backend, tenantID string) *IsolationError {
	return &IsolationError{Backend: backend, TenantID: tenantID}
}

func (e *IsolationError) Error() string {
	if e.Backend == "" {
		return "tenant isolation violation"
	}

	return fmt.Sprintf("tenant isolation violation: %s search for %q", e.Backend, e.TenantID)
}

func (e *IsolationError) Is(target error) bool {
	_, ok := target.(*IsolationError)

	return ok
}
