package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/authcore/internal/apperror"
	"github.com/sakif/authcore/internal/auth"
	"github.com/sakif/authcore/internal/model"
	"github.com/sakif/authcore/internal/service"
)

// Authenticator is the part of service.Authenticator the HTTP layer uses.
type Authenticator interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error)
	Login(ctx context.Context, username, password string) (*service.AuthResult, error)
	Logout(ctx context.Context, sessionToken string) error
	CurrentUser(ctx context.Context, sessionToken string) (*model.PublicUser, error)
}

// AuthHandler serves the password login endpoints.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister  → create an account and log it in
//   - HandleLogin     → check credentials, set the session cookie
//   - HandleLogout    → destroy the session, clear the cookie
//   - HandleUser      → return the currently logged-in user
//   - HandleProtected → sample resource behind RequireSession
//
// The session token only ever travels in the HttpOnly "sid" cookie; it is
// never part of a JSON body.
type AuthHandler struct {
	authn        Authenticator
	cookieSecure bool
	logger       *slog.Logger
}

// NewAuthHandler creates an AuthHandler. cookieSecure sets the Secure flag
// on the session cookie and should be true whenever the service is behind
// HTTPS.
func NewAuthHandler(authn Authenticator, cookieSecure bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authn:        authn,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

// HandleRegister creates a local account.
//
// HTTP: POST /api/register
// REQUEST BODY: {"username":"bob","password":"secret1","email":"bob@example.com"}
// RESPONSE: 201 with the public user, session cookie set.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.authn.Register(r.Context(), service.RegisterInput{
		Username:  req.Username,
		Password:  req.Password,
		Email:     strings.TrimSpace(req.Email),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	auth.SetSessionCookie(w, res.SessionToken, res.ExpiresAt, h.cookieSecure)
	writeJSON(w, http.StatusCreated, res.User)
}

// HandleLogin checks a username/password pair.
//
// HTTP: POST /api/login
// RESPONSE: 200 with the public user, or 401 {"message":"Invalid credentials"}.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		// A missing field is reported the same way as a wrong password.
		if apperror.IsDomain(err) {
			err = apperror.InvalidCredentials()
		}
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.authn.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	auth.SetSessionCookie(w, res.SessionToken, res.ExpiresAt, h.cookieSecure)
	writeJSON(w, http.StatusOK, res.User)
}

// HandleLogout destroys the session and clears the cookie.
//
// HTTP: POST /api/logout
//
// WHY POST AND NOT GET?
// Logout is a state-changing operation. A GET could be triggered by a
// browser prefetch or an <img> tag on another site.
//
// Logging out without a session is not an error.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.authn.Logout(r.Context(), auth.SessionTokenFromRequest(r)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	auth.ClearSessionCookie(w, h.cookieSecure)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}

// HandleUser returns the currently authenticated user's profile.
//
// HTTP: GET /api/user
// Auth: Required (RequireSession puts the user in the context)
func (h *AuthHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, h.logger, apperror.Unauthorized())
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// protectedUser is the user summary embedded in the protected sample.
type protectedUser struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Email    *string `json:"email"`
	Name     *string `json:"name"`
}

type protectedResponse struct {
	Message string        `json:"message"`
	User    protectedUser `json:"user"`
}

// HandleProtected is an example resource that requires a session.
//
// HTTP: GET /api/protected
func (h *AuthHandler) HandleProtected(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, r, h.logger, apperror.Unauthorized())
		return
	}

	writeJSON(w, http.StatusOK, protectedResponse{
		Message: "This is protected data",
		User: protectedUser{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			Name:     fullName(user),
		},
	})
}

// fullName joins first and last name, or returns nil without a first name.
func fullName(u *model.PublicUser) *string {
	if u.FirstName == nil {
		return nil
	}
	name := *u.FirstName
	if u.LastName != nil {
		name = strings.TrimSpace(name + " " + *u.LastName)
	}
	return &name
}
