package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sakif/authcore/internal/apperror"
	"github.com/sakif/authcore/internal/auth"
	"github.com/sakif/authcore/internal/metrics"
	"github.com/sakif/authcore/internal/model"
	"github.com/sakif/authcore/internal/repository"
)

// dummyPassword is hashed once and verified against when a login names a
// user that does not exist, so both failure paths cost one KDF run.
const dummyPassword = "authcore-timing-equaliser"

// Authenticator registers users, checks passwords and manages sessions.
//
// DEPENDENCIES (injected via NewAuthenticator):
//   - users     repository.UserDirectory → read/write user records
//   - sessions  repository.SessionStore  → opaque session tokens
//   - hasher    auth.Hasher              → password digests
//   - metrics   *metrics.Metrics         → may be nil
//   - logger    *slog.Logger             → structured logging
type Authenticator struct {
	users    repository.UserDirectory
	sessions repository.SessionStore
	hasher   auth.Hasher
	metrics  *metrics.Metrics
	logger   *slog.Logger

	dummyOnce   sync.Once
	dummyDigest string
}

// NewAuthenticator creates an Authenticator with all required dependencies.
func NewAuthenticator(
	users repository.UserDirectory,
	sessions repository.SessionStore,
	hasher auth.Hasher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Authenticator {
	return &Authenticator{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		metrics:  m,
		logger:   logger,
	}
}

// RegisterInput is the data a new local account is created from. Email,
// FirstName and LastName are optional; "" is stored as NULL.
type RegisterInput struct {
	Username  string
	Password  string
	Email     string
	FirstName string
	LastName  string
}

// Register creates a local account and logs it in.
//
// There is no "does this username exist?" read first: the directory's
// Create is the uniqueness check, so two concurrent registrations of the
// same name cannot both succeed.
func (a *Authenticator) Register(ctx context.Context, in RegisterInput) (res *AuthResult, err error) {
	ctx, span := tracer.Start(ctx, "Authenticator.Register")
	defer func() { endSpan(span, err) }()
	defer func() { a.metrics.AuthAttempt("register", outcome(err)) }()

	if in.Username == "" {
		return nil, apperror.ValidationFailed("username", "username is required")
	}
	if in.Password == "" {
		return nil, apperror.ValidationFailed("password", "password is required")
	}

	digest, err := a.hasher.Hash(in.Password)
	if err != nil {
		if apperror.IsDomain(err) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Username:       in.Username,
		Email:          model.StringPtr(in.Email),
		PasswordDigest: digest,
		FirstName:      model.StringPtr(in.FirstName),
		LastName:       model.StringPtr(in.LastName),
	}
	if err := a.users.Create(ctx, user); err != nil {
		return nil, dependencyErr(depDirectory, err)
	}

	span.SetAttributes(attribute.Int64("user.id", user.ID))
	a.logger.InfoContext(ctx, "user registered",
		slog.Int64("userID", user.ID),
		slog.String("username", user.Username),
	)

	return a.EstablishSession(ctx, user)
}

// Login checks a username/password pair.
//
// Every failure (no such user, wrong password, federated-only account)
// returns the very same apperror.InvalidCredentials value, and every
// failure path runs exactly one KDF verification.
func (a *Authenticator) Login(ctx context.Context, username, password string) (res *AuthResult, err error) {
	ctx, span := tracer.Start(ctx, "Authenticator.Login")
	defer func() { endSpan(span, err) }()
	defer func() { a.metrics.AuthAttempt("login", outcome(err)) }()

	user, err := a.users.GetByUsername(ctx, username)
	if errors.Is(err, apperror.ErrNotFound) {
		a.hasher.Verify(password, a.dummy())
		return nil, apperror.InvalidCredentials()
	}
	if err != nil {
		return nil, dependencyErr(depDirectory, err)
	}

	if auth.IsFederatedDigest(user.PasswordDigest) {
		a.hasher.Verify(password, a.dummy())
		return nil, apperror.InvalidCredentials()
	}
	if !a.hasher.Verify(password, user.PasswordDigest) {
		return nil, apperror.InvalidCredentials()
	}

	if a.hasher.NeedsRehash(user.PasswordDigest) {
		a.rehash(ctx, user, password)
	}

	return a.EstablishSession(ctx, user)
}

// rehash replaces an outdated digest. Failures are logged, never returned:
// the user already proved the password.
func (a *Authenticator) rehash(ctx context.Context, user *model.User, password string) {
	digest, err := a.hasher.Hash(password)
	if err == nil {
		err = a.users.SetPasswordDigest(ctx, user.ID, digest)
	}
	if err != nil {
		a.logger.WarnContext(ctx, "password rehash failed",
			slog.Int64("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.InfoContext(ctx, "password digest upgraded", slog.Int64("userID", user.ID))
}

func (a *Authenticator) dummy() string {
	a.dummyOnce.Do(func() {
		// On failure dummyDigest stays "", which Verify rejects quickly.
		a.dummyDigest, _ = a.hasher.Hash(dummyPassword)
	})
	return a.dummyDigest
}

// Logout destroys the session. An empty or unknown token is not an error.
func (a *Authenticator) Logout(ctx context.Context, sessionToken string) (err error) {
	ctx, span := tracer.Start(ctx, "Authenticator.Logout")
	defer func() { endSpan(span, err) }()

	if sessionToken == "" {
		return nil
	}
	if err := a.sessions.Destroy(ctx, sessionToken); err != nil {
		return dependencyErr(depSessions, err)
	}
	return nil
}

// CurrentUser resolves a session token to its user.
//
// A missing or expired session is ErrUnauthorized. So is a session whose
// user has since been deleted; that orphaned session is destroyed.
func (a *Authenticator) CurrentUser(ctx context.Context, sessionToken string) (_ *model.PublicUser, err error) {
	ctx, span := tracer.Start(ctx, "Authenticator.CurrentUser")
	defer func() { endSpan(span, err) }()

	if sessionToken == "" {
		return nil, apperror.Unauthorized()
	}

	sess, err := a.sessions.Resolve(ctx, sessionToken)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.Unauthorized()
	}
	if err != nil {
		return nil, dependencyErr(depSessions, err)
	}

	user, err := a.users.GetByID(ctx, sess.UserID)
	if errors.Is(err, apperror.ErrNotFound) {
		if derr := a.sessions.Destroy(ctx, sessionToken); derr != nil {
			a.logger.WarnContext(ctx, "destroying orphaned session failed",
				slog.Int64("userID", sess.UserID),
				slog.String("error", derr.Error()),
			)
		}
		return nil, apperror.Unauthorized()
	}
	if err != nil {
		return nil, dependencyErr(depDirectory, err)
	}

	return user.Public(), nil
}

// EstablishSession opens a session for an already-authenticated user.
// The FederatedBridge uses it after an external login.
func (a *Authenticator) EstablishSession(ctx context.Context, user *model.User) (*AuthResult, error) {
	sess, token, err := a.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, dependencyErr(depSessions, err)
	}
	return &AuthResult{
		User:         user.Public(),
		SessionToken: token,
		ExpiresAt:    sess.ExpiresAt,
	}, nil
}

// outcome maps an operation's error to a metrics label.
func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, apperror.ErrDependencyUnavailable), !apperror.IsDomain(err):
		return metrics.OutcomeError
	default:
		return metrics.OutcomeFailure
	}
}
