// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents an account in the user directory.
//
// WHY int64 IDs?
// The directory assigns numeric, monotonically increasing IDs (AUTOINCREMENT
// in SQLite, BIGSERIAL in Postgres). Session tokens are never derived from
// them, so exposing the ID in API responses leaks nothing useful.
//
// SECRET FIELDS:
// PasswordDigest and the reset-token fields are tagged json:"-" so that an
// accidental writeJSON(w, 200, user) can never put them on the wire. Handlers
// still return PublicUser, never User.
type User struct {
	ID               int64      `json:"id"        db:"id"`
	Username         string     `json:"username"  db:"username"`
	Email            *string    `json:"email"     db:"email"`
	PasswordDigest   string     `json:"-"         db:"password_digest"`
	FirstName        *string    `json:"firstName" db:"first_name"`
	LastName         *string    `json:"lastName"  db:"last_name"`
	AvatarURL        *string    `json:"avatarUrl" db:"avatar_url"`
	ResetTokenHash   *string    `json:"-"         db:"reset_token_hash"`
	ResetTokenExpiry *time.Time `json:"-"         db:"reset_token_expiry"`
	CreatedAt        time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time  `json:"updatedAt" db:"updated_at"`
}

// PublicUser is the password-stripped view of a User returned to callers.
type PublicUser struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     *string   `json:"email,omitempty"`
	FirstName *string   `json:"firstName,omitempty"`
	LastName  *string   `json:"lastName,omitempty"`
	AvatarURL *string   `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Public returns the client-safe view of u.
func (u *User) Public() *PublicUser {
	return &PublicUser{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarURL: u.AvatarURL,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// ResetTokenLive reports whether u holds a reset token that has not expired
// at now. A token expiring exactly at now is already dead.
func (u *User) ResetTokenLive(now time.Time) bool {
	return u.ResetTokenHash != nil && u.ResetTokenExpiry != nil && u.ResetTokenExpiry.After(now)
}

// Clone returns a deep copy, so stores can hand out records without sharing
// pointers to their own state.
func (u *User) Clone() *User {
	c := *u
	c.Email = cloneString(u.Email)
	c.FirstName = cloneString(u.FirstName)
	c.LastName = cloneString(u.LastName)
	c.AvatarURL = cloneString(u.AvatarURL)
	c.ResetTokenHash = cloneString(u.ResetTokenHash)
	if u.ResetTokenExpiry != nil {
		t := *u.ResetTokenExpiry
		c.ResetTokenExpiry = &t
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr returns nil for an empty string, otherwise a pointer to s.
// Optional profile columns are stored as NULL rather than "".
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
