package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/sakif/authcore/internal/model"
)

// SessionCookieName is the cookie holding the opaque session token.
const SessionCookieName = "sid"

// contextKey is an unexported type used for context keys in this package.
// Only this package can create a key of type contextKey, so only this
// package can read or write the values stored under it.
type contextKey string

const (
	userKey         contextKey = "user"
	sessionTokenKey contextKey = "sessionToken"
)

// SessionResolver turns a session token into the user it belongs to.
// It returns an error for a missing, expired or orphaned session.
type SessionResolver interface {
	CurrentUser(ctx context.Context, sessionToken string) (*model.PublicUser, error)
}

// RequireSession is a middleware that enforces an active session on
// protected routes.
//
// It reads the opaque token from the "sid" HttpOnly cookie, resolves it via
// the session store, and stores the user in the request context. If the
// cookie is missing or the session does not resolve, it returns
// 401 Unauthorized and stops the request chain.
//
// COOKIE-BASED TOKEN STORAGE:
// The token lives in an HttpOnly cookie rather than localStorage or a
// header, so JavaScript on the page cannot read it.
func RequireSession(resolver SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionTokenFromRequest(r)
			if token == "" {
				writeUnauthorized(w)
				return
			}
			user, err := resolver.CurrentUser(r.Context(), token)
			if err != nil {
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(withSession(r.Context(), user, token)))
		})
	}
}

// OptionalSession extracts the user if a valid session is present, but does
// NOT block the request if it's missing or invalid.
func OptionalSession(resolver SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token := SessionTokenFromRequest(r); token != "" {
				if user, err := resolver.CurrentUser(r.Context(), token); err == nil {
					r = r.WithContext(withSession(r.Context(), user, token))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withSession(ctx context.Context, user *model.PublicUser, token string) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	return context.WithValue(ctx, sessionTokenKey, token)
}

// UserFromContext retrieves the authenticated user from the request context.
//
// Returns (nil, false) if the request is anonymous.
func UserFromContext(ctx context.Context) (*model.PublicUser, bool) {
	u, ok := ctx.Value(userKey).(*model.PublicUser)
	return u, ok && u != nil
}

// SessionTokenFromRequest returns the session token cookie value, or "".
func SessionTokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		// http.ErrNoCookie means the cookie isn't present. Not an error, just anonymous
		return ""
	}
	return cookie.Value
}

// SetSessionCookie writes the session cookie.
// Secure should be true in production (HTTPS only).
func SetSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie tells the browser to delete the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"Unauthorized"}` + "\n"))
}
