// Package repository declares the storage capabilities the services depend
// on. Adapters live in the sub-packages (sqlite, postgres, redis, memory);
// services only ever see these interfaces.
package repository

import (
	"context"
	"time"

	"github.com/sakif/authcore/internal/model"
)

// UserDirectory persists user records and their reset tokens.
//
// Lookups return an error matching apperror.ErrNotFound when nothing matches.
// Reset tokens are passed in already hashed (auth.HashToken).
type UserDirectory interface {
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)

	// Create inserts u and fills in ID, CreatedAt and UpdatedAt. It fails
	// with apperror.ErrDuplicateUsername or apperror.ErrDuplicateEmail; the
	// check and the insert are one atomic step.
	Create(ctx context.Context, u *model.User) error

	SetPasswordDigest(ctx context.Context, id int64, digest string) error

	// SetResetToken replaces any token the user already holds.
	SetResetToken(ctx context.Context, id int64, tokenHash string, expiry time.Time) error
	ClearResetToken(ctx context.Context, id int64) error
	GetByResetToken(ctx context.Context, tokenHash string) (*model.User, error)

	// RedeemResetToken sets the digest, clears the token and its expiry and
	// bumps updated_at, but only while tokenHash is held by a user and
	// expires after now. Otherwise it fails with
	// apperror.ErrInvalidOrExpiredToken. Of two concurrent calls with the
	// same token at most one succeeds.
	RedeemResetToken(ctx context.Context, tokenHash, digest string, now time.Time) (*model.User, error)
}

// SessionStore maps opaque session tokens to user ids.
type SessionStore interface {
	// Create opens a session for userID and returns the record together
	// with the opaque token to hand to the client.
	Create(ctx context.Context, userID int64) (*model.Session, string, error)

	// Resolve returns the live session for token. Missing and expired
	// sessions both fail with apperror.ErrNotFound.
	Resolve(ctx context.Context, token string) (*model.Session, error)

	// Destroy removes the session. Destroying an absent session is not an error.
	Destroy(ctx context.Context, token string) error

	// DestroyForUser removes every session of userID and returns how many
	// were removed.
	DestroyForUser(ctx context.Context, userID int64) (int64, error)

	// Prune removes expired sessions and returns how many were removed.
	Prune(ctx context.Context) (int64, error)
}

// Pinger is implemented by stores that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}
