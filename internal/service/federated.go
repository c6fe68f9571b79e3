package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/sakif/authcore/internal/apperror"
	"github.com/sakif/authcore/internal/auth"
	"github.com/sakif/authcore/internal/metrics"
	"github.com/sakif/authcore/internal/model"
	"github.com/sakif/authcore/internal/repository"
)

// usernameRetries is how many suffixed usernames are tried after the bare
// email local-part is taken.
const usernameRetries = 20

// FederatedIdentity is a verified assertion from an external identity
// provider.
type FederatedIdentity struct {
	Provider    string
	Email       string
	DisplayName string
	ExternalUID string
	AvatarURL   string
}

// FederatedBridge maps external identities onto local accounts, keyed by
// email.
//
// ACCOUNT LINKING:
// The first external login with a given email creates a local user whose
// password digest is auth.FederatedDigest, so the account can never log in
// with a password. Later logins (from any provider) with the same email
// reuse that user.
type FederatedBridge struct {
	users   repository.UserDirectory
	authn   *Authenticator
	metrics *metrics.Metrics
	logger  *slog.Logger
	intn    func(n int) int
}

// NewFederatedBridge creates a FederatedBridge that opens sessions through authn.
func NewFederatedBridge(users repository.UserDirectory, authn *Authenticator, m *metrics.Metrics, logger *slog.Logger) *FederatedBridge {
	return &FederatedBridge{
		users:   users,
		authn:   authn,
		metrics: m,
		logger:  logger,
		intn:    rand.IntN,
	}
}

// AuthenticateFederated logs in (creating if needed) the user for id.
//
// A new account is named after the email local-part. When that username is
// taken, up to usernameRetries names with a random numeric suffix are
// tried; if all of them are taken too, it fails with apperror.ErrConflict
// (HTTP 409).
func (b *FederatedBridge) AuthenticateFederated(ctx context.Context, id FederatedIdentity) (res *AuthResult, err error) {
	ctx, span := tracer.Start(ctx, "FederatedBridge.AuthenticateFederated")
	defer func() { endSpan(span, err) }()
	defer func() { b.metrics.AuthAttempt("federated", outcome(err)) }()

	if id.Email == "" {
		return nil, apperror.MissingEmail()
	}

	b.logger.DebugContext(ctx, "federated login",
		slog.String("provider", id.Provider),
		slog.String("externalUID", id.ExternalUID),
	)

	user, err := b.users.GetByEmail(ctx, id.Email)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		user, err = b.create(ctx, id)
		if err != nil {
			return nil, err
		}
	default:
		return nil, dependencyErr(depDirectory, err)
	}

	return b.authn.EstablishSession(ctx, user)
}

// create inserts a federated user. If another request creates a user with
// the same email first, that user is returned instead.
func (b *FederatedBridge) create(ctx context.Context, id FederatedIdentity) (*model.User, error) {
	local, _, _ := strings.Cut(id.Email, "@")
	if local == "" {
		local = "user"
	}
	first, last := splitDisplayName(id.DisplayName)

	for attempt := 0; attempt <= usernameRetries; attempt++ {
		username := local
		if attempt > 0 {
			username = local + strconv.Itoa(b.intn(10000))
		}

		user := &model.User{
			Username:       username,
			Email:          model.StringPtr(id.Email),
			PasswordDigest: auth.FederatedDigest,
			FirstName:      first,
			LastName:       last,
			AvatarURL:      model.StringPtr(id.AvatarURL),
		}

		err := b.users.Create(ctx, user)
		switch {
		case err == nil:
			b.logger.InfoContext(ctx, "federated user created",
				slog.Int64("userID", user.ID),
				slog.String("provider", id.Provider),
			)
			return user, nil
		case errors.Is(err, apperror.ErrDuplicateUsername):
			continue
		case errors.Is(err, apperror.ErrDuplicateEmail):
			existing, gerr := b.users.GetByEmail(ctx, id.Email)
			if gerr != nil {
				return nil, dependencyErr(depDirectory, gerr)
			}
			return existing, nil
		default:
			return nil, dependencyErr(depDirectory, err)
		}
	}

	return nil, apperror.Conflict("username", local)
}

// splitDisplayName splits "Ada King Lovelace" into "Ada" and "King Lovelace".
// Missing parts come back nil.
func splitDisplayName(name string) (first, last *string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return nil, nil
	}
	return model.StringPtr(fields[0]), model.StringPtr(strings.Join(fields[1:], " "))
}
