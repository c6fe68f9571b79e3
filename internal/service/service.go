// Package service holds the authentication business rules.
//
// It sits between the HTTP handlers and the storage adapters:
//
//	handler (HTTP) → Authenticator / ResetCoordinator / FederatedBridge
//	               → repository.UserDirectory, repository.SessionStore, notify.Notifier
//
// WHAT THIS PACKAGE DOES NOT DO:
//   - It does NOT set cookies or read requests (HTTP concerns)
//   - It does NOT know which database is behind the interfaces
//
// ERRORS:
// Every error leaving a service is either a domain *apperror.AppError or
// apperror.Unavailable wrapping the dependency failure. Handlers only ever
// switch on apperror sentinels.
package service

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sakif/authcore/internal/apperror"
	"github.com/sakif/authcore/internal/model"
)

var tracer = otel.Tracer("github.com/sakif/authcore/internal/service")

// Dependency names used in apperror.Unavailable messages.
const (
	depDirectory = "user directory"
	depSessions  = "session store"
)

// AuthResult is returned by every operation that logs a user in. It bundles
// the public user record and the opaque session token so the handler can
// set the cookie and respond in one step.
type AuthResult struct {
	User         *model.PublicUser
	SessionToken string
	ExpiresAt    time.Time
}

// dependencyErr passes domain errors through unchanged and wraps anything
// else as a dependency failure.
func dependencyErr(dependency string, err error) error {
	if apperror.IsDomain(err) {
		return err
	}
	return apperror.Unavailable(dependency, err)
}

// endSpan records err on span (if any) and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
