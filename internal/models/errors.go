// Package models contains the data structures used throughout the application.
package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types for domain-specific errors
var (
	// Load errors
	ErrCannotParse         = errors.New("provider source cannot be parsed")
	ErrVersionIncompatible = errors.New("provider is incompatible with this host version")

	// Install errors
	ErrAlreadyInstalled    = errors.New("provider already installed")
	ErrNewerVersionPresent = errors.New("newer version already installed")
	ErrSourceUnavailable   = errors.New("provider source could not be fetched")

	// Registry errors
	ErrProviderNotFound = errors.New("provider not found")
	ErrBuiltinProvider  = errors.New("built-in provider cannot be removed")
	ErrStorageFailed    = errors.New("provider storage failed")

	// Config errors
	ErrPersistFailed = errors.New("provider config could not be persisted")
)

// LoadErrorReason is the terminal reason a load ended in the Error state.
type LoadErrorReason string

const (
	ReasonCannotParse         LoadErrorReason = "CannotParse"
	ReasonVersionIncompatible LoadErrorReason = "VersionIncompatible"
)

// LoadError describes why provider source did not mount.
type LoadError struct {
	Reason LoadErrorReason
	Path   string
	Err    error
}

// Error returns the error message
func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("load %s: %s", e.Path, e.Reason)
}

// Unwrap maps the reason onto its sentinel so errors.Is works on either.
func (e *LoadError) Unwrap() []error {
	var sentinel error
	switch e.Reason {
	case ReasonCannotParse:
		sentinel = ErrCannotParse
	case ReasonVersionIncompatible:
		sentinel = ErrVersionIncompatible
	}
	return []error{sentinel, e.Err}
}

// ProviderCallError wraps any failure raised inside a provider method.
type ProviderCallError struct {
	Platform string
	Method   string
	Err      error
}

// Error returns the error message
func (e *ProviderCallError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Platform, e.Method, e.Err)
}

// Unwrap returns the underlying error
func (e *ProviderCallError) Unwrap() error {
	return e.Err
}

// MapErrorToHTTPStatus maps domain errors to HTTP status codes
func MapErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrProviderNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBuiltinProvider):
		return http.StatusForbidden
	case errors.Is(err, ErrNewerVersionPresent):
		return http.StatusConflict
	case errors.Is(err, ErrCannotParse),
		errors.Is(err, ErrVersionIncompatible):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrSourceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
