package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/authcore/internal/apperror"
)

// forgotPasswordMessage is returned for every forgot-password request,
// known address or not.
const forgotPasswordMessage = "If an account with that email exists, a password reset link has been sent"

// PasswordResetter is the part of service.ResetCoordinator the HTTP layer uses.
type PasswordResetter interface {
	RequestReset(ctx context.Context, email string) error
	VerifyResetToken(ctx context.Context, token string) (bool, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// ResetHandler serves the forgot-password flow.
type ResetHandler struct {
	reset  PasswordResetter
	logger *slog.Logger
}

func NewResetHandler(reset PasswordResetter, logger *slog.Logger) *ResetHandler {
	return &ResetHandler{reset: reset, logger: logger}
}

// HandleForgotPassword issues a reset link.
//
// HTTP: POST /api/forgot-password
// REQUEST BODY: {"email":"bob@example.com"}
//
// ACCOUNT ENUMERATION:
// The response is the same 200 whether or not the address belongs to an
// account. Only a directory outage (503) or a malformed body (400) differ,
// and neither depends on the address.
func (h *ResetHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.reset.RequestReset(r.Context(), strings.TrimSpace(req.Email)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: forgotPasswordMessage})
}

type verifyTokenResponse struct {
	Valid bool `json:"valid"`
}

// HandleVerifyToken reports whether a reset link is still usable.
//
// HTTP: GET /api/reset-password/{token}
// RESPONSE: 200 {"valid":true}, or 400 {"valid":false} so that a client
// can treat any non-2xx as "show the expired-link page".
func (h *ResetHandler) HandleVerifyToken(w http.ResponseWriter, r *http.Request) {
	valid, err := h.reset.VerifyResetToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusOK
	if !valid {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, verifyTokenResponse{Valid: valid})
}

// HandleResetPassword redeems a reset link.
//
// HTTP: POST /api/reset-password/{token}
// REQUEST BODY: {"password":"newpass1"}
func (h *ResetHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		writeError(w, r, h.logger, apperror.InvalidOrExpiredToken())
		return
	}

	var req resetPasswordRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	if err := h.reset.ResetPassword(r.Context(), token, req.Password); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password has been reset"})
}
