package faults

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel faults shared across the REST surface, the websocket gateway
// and the client transport. Callers wrap these with fmt.Errorf("...: %w")
// and boundaries classify with errors.Is.
var (
	// ErrAuth means the credential is bad or expired. Fatal to the
	// connection carrying it; the user is asked to log in again.
	ErrAuth = errors.New("authentication failed")

	// ErrAuthorization means an authenticated caller attempted an
	// operation on a resource it does not participate in. Local to the
	// operation; the connection stays alive.
	ErrAuthorization = errors.New("not authorized")

	// ErrTimeout covers connect and ack timeouts. Subject to the
	// transport's bounded retry policy.
	ErrTimeout = errors.New("timed out")

	// ErrNotFound covers operations on deleted or unknown records.
	// Surfaced, never retried.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a duplicate-identity write. The original record
	// stands; the duplicate is rejected idempotently.
	ErrConflict = errors.New("duplicate identity")
)

// Authf wraps ErrAuth with context.
func Authf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrAuth)...)
}

// Authorizationf wraps ErrAuthorization with context.
func Authorizationf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrAuthorization)...)
}

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Conflictf wraps ErrConflict with context.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

// Timeoutf wraps ErrTimeout with context.
func Timeoutf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrTimeout)...)
}

// HTTPStatus maps a fault to the status code the REST surface reports.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
