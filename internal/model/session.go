package model

import "time"

// Session binds an opaque client token to exactly one user.
//
// The store keeps TokenHash (SHA-256 of the token), never the token itself;
// the client only ever sees the token. ID is a ulid used as the row key.
type Session struct {
	ID        string    `json:"id"        db:"id"`
	UserID    int64     `json:"userId"    db:"user_id"`
	TokenHash string    `json:"-"         db:"token_hash"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
}

// Expired reports whether the session is dead at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
