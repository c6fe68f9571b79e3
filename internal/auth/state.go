// Package auth provides the credential primitives of the service: password
// hashing, opaque token generation, OAuth providers and the signed state
// used during federated login.
//
// FEDERATED LOGIN FLOW OVERVIEW:
//  1. User visits /auth/{provider}/login → we mint a nonce, keep it in the
//     cookie session, and redirect with a signed state JWT
//  2. The provider calls back /auth/{provider}/callback with code + state
//  3. We verify the state signature, its expiry, its provider and its nonce
//  4. We exchange the code for the user's verified identity
//  5. The federated bridge maps it onto a directory user and opens a session
//
// STATE FORMAT:
// The state is an HS256 JWT: sub = provider name, jti = nonce, exp = issue
// time + StateTTL. A callback whose state is foreign, expired or issued for
// another provider is rejected before any call to the provider.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const stateIssuer = "authcore"

// StateTTL bounds how long a user may take on the provider's consent screen.
const StateTTL = 10 * time.Minute

// StateSigner issues and validates OAuth state values.
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

// NewStateSigner creates a StateSigner with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: AUTHCORE_AUTH_STATE_SECRET=$(openssl rand -hex 32)
func NewStateSigner(secret string) (*StateSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: state secret must be at least 16 characters")
	}
	return &StateSigner{secret: []byte(secret), now: time.Now}, nil
}

// stateClaims is the JWT payload. Subject carries the provider name and ID
// (jti) carries the nonce that must also be present in the cookie session.
type stateClaims struct {
	jwt.RegisteredClaims
}

// Issue signs a state value for provider bound to nonce.
func (s *StateSigner) Issue(provider, nonce string) (string, error) {
	return s.issue(provider, nonce, StateTTL)
}

func (s *StateSigner) issue(provider, nonce string, ttl time.Duration) (string, error) {
	now := s.now()

	c := stateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   provider,
			ID:        nonce,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    stateIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing state: %w", err)
	}
	return signed, nil
}

// Validate parses a state value and returns its nonce.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid (wasn't tampered with)
//   - Token is not expired
//   - Issuer matches (prevents tokens from other apps)
//   - Algorithm is HS256 (prevents algorithm confusion attacks)
//
// and then by us: the subject must name the provider handling the callback.
func (s *StateSigner) Validate(state, provider string) (string, error) {
	token, err := jwt.ParseWithClaims(
		state,
		&stateClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("auth: state expired")
		}
		return "", fmt.Errorf("auth: invalid state: %w", err)
	}

	c, ok := token.Claims.(*stateClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid state claims")
	}
	if c.Subject != provider {
		return "", fmt.Errorf("auth: state issued for %q, not %q", c.Subject, provider)
	}
	if c.ID == "" {
		return "", fmt.Errorf("auth: state has no nonce")
	}
	return c.ID, nil
}
