// Package apperror defines the error taxonomy shared by every layer.
//
// HOW IT FITS TOGETHER:
// Each AppError carries a sentinel (Err) that callers match with errors.Is,
// and a Message that is safe to show to a client. The HTTP layer maps the
// sentinel to a status code; nothing below the handler knows about HTTP.
//
//	service returns: apperror.InvalidCredentials()
//	handler checks:  errors.Is(err, apperror.ErrInvalidCredentials) → 401
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrDuplicateUsername     = errors.New("duplicate username")
	ErrDuplicateEmail        = errors.New("duplicate email")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrMissingEmail          = errors.New("missing email")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

type AppError struct {
	Err     error  // sentinel the error belongs to
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying failure, never shown to clients
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause, so errors.Is matches
// either one.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// invalidCredentials is shared so that "no such user" and "wrong password"
// are the very same value.
var invalidCredentials = &AppError{
	Err:     ErrInvalidCredentials,
	Message: "Invalid credentials",
}

// InvalidCredentials returns the single error value used for every failed
// password login.
func InvalidCredentials() *AppError {
	return invalidCredentials
}

func DuplicateUsername() *AppError {
	return &AppError{
		Err:     ErrDuplicateUsername,
		Message: "Username already exists",
		Field:   "username",
	}
}

func DuplicateEmail() *AppError {
	return &AppError{
		Err:     ErrDuplicateEmail,
		Message: "Email already registered",
		Field:   "email",
	}
}

func InvalidOrExpiredToken() *AppError {
	return &AppError{
		Err:     ErrInvalidOrExpiredToken,
		Message: "Password reset token is invalid or has expired",
	}
}

func MissingEmail() *AppError {
	return &AppError{
		Err:     ErrMissingEmail,
		Message: "Identity provider did not supply a verified email",
	}
}

func Unauthorized() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: "Unauthorized",
	}
}

// Unavailable wraps a transport or storage failure. The message names the
// dependency only; the cause stays reachable through errors.Is/As for logs.
func Unavailable(dependency string, cause error) *AppError {
	return &AppError{
		Err:     ErrDependencyUnavailable,
		Message: dependency + " unavailable",
		Cause:   cause,
	}
}

// IsDomain reports whether err belongs to the domain taxonomy, as opposed
// to an infrastructure failure.
func IsDomain(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrValidation, ErrConflict, ErrForbidden,
		ErrInvalidCredentials, ErrDuplicateUsername, ErrDuplicateEmail,
		ErrInvalidOrExpiredToken, ErrMissingEmail, ErrUnauthorized,
		ErrDependencyUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
