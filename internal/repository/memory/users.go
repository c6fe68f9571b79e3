// Package memory provides in-process implementations of the repository
// interfaces.
//
// The user directory here is a test double: it cannot be selected in
// configuration, and nothing falls back to it when a real database is
// unreachable. The session store may be used in single-process deployments.
//
// LAYOUT:
// Records live in an id-indexed map; username, email and reset-token hash
// are secondary indexes pointing at ids. One sync.RWMutex guards all of
// them, so every read-then-write (uniqueness check + insert, token check +
// clear) happens under a single write lock.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sakif/authcore/internal/apperror"
	"github.com/sakif/authcore/internal/model"
	"github.com/sakif/authcore/internal/repository"
)

var _ repository.UserDirectory = (*UserDirectory)(nil)

// UserDirectory is a mutex-guarded, id-indexed user store.
type UserDirectory struct {
	mu         sync.RWMutex
	nextID     int64
	users      map[int64]*model.User
	byUsername map[string]int64
	byEmail    map[string]int64
	byToken    map[string]int64
	now        func() time.Time
}

// NewUserDirectory returns an empty directory.
func NewUserDirectory() *UserDirectory {
	return &UserDirectory{
		nextID:     1,
		users:      make(map[int64]*model.User),
		byUsername: make(map[string]int64),
		byEmail:    make(map[string]int64),
		byToken:    make(map[string]int64),
		now:        time.Now,
	}
}

// get returns a copy of the user under id. Callers hold mu.
func (d *UserDirectory) get(id int64, ok bool, resource, key string) (*model.User, error) {
	if !ok {
		return nil, apperror.NotFound(resource, key)
	}
	return d.users[id].Clone(), nil
}

func (d *UserDirectory) GetByUsername(_ context.Context, username string) (*model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byUsername[username]
	return d.get(id, ok, "user", username)
}

func (d *UserDirectory) GetByEmail(_ context.Context, email string) (*model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byEmail[email]
	return d.get(id, ok, "user", email)
}

func (d *UserDirectory) GetByID(_ context.Context, id int64) (*model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.users[id]
	return d.get(id, ok, "user", strconv.FormatInt(id, 10))
}

func (d *UserDirectory) GetByResetToken(_ context.Context, tokenHash string) (*model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byToken[tokenHash]
	return d.get(id, ok, "reset token", "<redacted>")
}

// Create checks both unique keys and inserts under one write lock.
func (d *UserDirectory) Create(_ context.Context, u *model.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.byUsername[u.Username]; taken {
		return apperror.DuplicateUsername()
	}
	if u.Email != nil {
		if _, taken := d.byEmail[*u.Email]; taken {
			return apperror.DuplicateEmail()
		}
	}

	now := d.now()
	u.ID = d.nextID
	u.CreatedAt = now
	u.UpdatedAt = now
	d.nextID++

	stored := u.Clone()
	d.users[stored.ID] = stored
	d.byUsername[stored.Username] = stored.ID
	if stored.Email != nil {
		d.byEmail[*stored.Email] = stored.ID
	}
	if stored.ResetTokenHash != nil {
		d.byToken[*stored.ResetTokenHash] = stored.ID
	}
	return nil
}

// update applies fn to the stored user with id under the write lock.
func (d *UserDirectory) update(id int64, fn func(u *model.User)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[id]
	if !ok {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	fn(u)
	u.UpdatedAt = d.now()
	return nil
}

func (d *UserDirectory) SetPasswordDigest(_ context.Context, id int64, digest string) error {
	return d.update(id, func(u *model.User) {
		u.PasswordDigest = digest
	})
}

func (d *UserDirectory) SetResetToken(_ context.Context, id int64, tokenHash string, expiry time.Time) error {
	return d.update(id, func(u *model.User) {
		d.dropToken(u)
		u.ResetTokenHash = &tokenHash
		u.ResetTokenExpiry = &expiry
		d.byToken[tokenHash] = u.ID
	})
}

func (d *UserDirectory) ClearResetToken(_ context.Context, id int64) error {
	return d.update(id, d.dropToken)
}

// dropToken removes u's token and its index entry. Callers hold mu.
func (d *UserDirectory) dropToken(u *model.User) {
	if u.ResetTokenHash != nil {
		delete(d.byToken, *u.ResetTokenHash)
	}
	u.ResetTokenHash = nil
	u.ResetTokenExpiry = nil
}

// RedeemResetToken checks liveness and clears the token under one write
// lock, so the second of two concurrent redemptions sees no token.
func (d *UserDirectory) RedeemResetToken(_ context.Context, tokenHash, digest string, now time.Time) (*model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id, ok := d.byToken[tokenHash]
	if !ok {
		return nil, apperror.InvalidOrExpiredToken()
	}
	u := d.users[id]
	if !u.ResetTokenLive(now) {
		return nil, apperror.InvalidOrExpiredToken()
	}

	d.dropToken(u)
	u.PasswordDigest = digest
	u.UpdatedAt = now
	return u.Clone(), nil
}

// Len returns the number of stored users.
func (d *UserDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}
