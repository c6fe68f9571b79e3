package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// TokenBytes is the entropy of every opaque token we hand out: 256 bits.
const TokenBytes = 32

// NewResetToken returns a random password-reset token, hex-encoded
// (64 characters) so it can sit in a URL path without escaping.
func NewResetToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating reset token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewSessionToken returns a random session token, base64url-encoded without
// padding (43 characters).
func NewSessionToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the hex SHA-256 of token. Stores persist this, never
// the token itself.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
