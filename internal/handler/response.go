package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// With helpers, handlers stay short and consistent:
//   writeJSON(w, http.StatusOK, data)
//   writeError(w, r, logger, err)
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "invalid_credentials", "message": "Invalid credentials"}
//
// The frontend always knows what fields to expect, regardless of whether
// it's a 400, 401, 409 or 503.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/authcore/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "duplicate_username")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Offending input field, for validation errors
}

// MessageResponse is the body of endpoints that only acknowledge.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and the status code must be set BEFORE the body is written.
// Once Encode calls w.Write(), the headers are on the wire and later
// changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// The headers are already sent; all we can do is log it.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorMapping is one row of the domain error → HTTP table. Rows are
// checked in order, so the specific sentinels come before the generic ones.
type errorMapping struct {
	target    error
	status    int
	errorType string
}

var errorMappings = []errorMapping{
	{apperror.ErrDependencyUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
	{apperror.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{apperror.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{apperror.ErrDuplicateUsername, http.StatusConflict, "duplicate_username"},
	{apperror.ErrDuplicateEmail, http.StatusConflict, "duplicate_email"},
	{apperror.ErrInvalidOrExpiredToken, http.StatusBadRequest, "invalid_or_expired_token"},
	{apperror.ErrMissingEmail, http.StatusBadRequest, "missing_email"},
	{apperror.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperror.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperror.ErrForbidden, http.StatusForbidden, "forbidden"},
	{apperror.ErrConflict, http.StatusConflict, "conflict"},
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
// This is where domain errors (from the service layer) get translated to
// HTTP. The service layer never knows about status codes.
//
// errors.Is() walks the whole chain, including AppError's Unwrap() []error,
// so apperror.Unavailable(dep, cause) matches ErrDependencyUnavailable even
// though it also carries the adapter's cause.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		for _, m := range errorMappings {
			if !errors.Is(err, m.target) {
				continue
			}
			if m.status >= http.StatusInternalServerError {
				logger.ErrorContext(r.Context(), "dependency failure",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
			}
			writeJSON(w, m.status, ErrorResponse{
				Error:   m.errorType,
				Message: appErr.Message,
				Field:   appErr.Field,
			})
			return
		}
	}

	// Unknown error: log the details, return a generic 500.
	// NEVER expose internal error details to the client. The raw message
	// might contain SQL, file paths or other sensitive info.
	logger.ErrorContext(r.Context(), "unhandled error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}
