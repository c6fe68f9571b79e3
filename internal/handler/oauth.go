package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/rs/xid"

	"github.com/sakif/authcore/internal/apperror"
	"github.com/sakif/authcore/internal/auth"
	"github.com/sakif/authcore/internal/service"
)

const (
	// oauthSessionName is the gorilla cookie session holding the login nonce.
	oauthSessionName = "authcore_oauth"
	nonceKey         = "nonce"
)

// FederatedAuthenticator is the part of service.FederatedBridge the HTTP
// layer uses.
type FederatedAuthenticator interface {
	AuthenticateFederated(ctx context.Context, id service.FederatedIdentity) (*service.AuthResult, error)
}

// OAuthConfig wires the OAuthHandler.
type OAuthConfig struct {
	Providers    []auth.Provider
	Signer       *auth.StateSigner
	Store        sessions.Store
	CookieSecure bool

	// SuccessRedirect and FailureRedirect are where the browser lands after
	// the callback. They default to "/" and "/auth?error=oauth".
	SuccessRedirect string
	FailureRedirect string
}

// OAuthHandler runs the server-side Authorization Code flow for every
// configured provider and hands the verified identity to the federated
// bridge.
//
// CSRF PROTECTION VIA STATE:
// The login step stores a random nonce in a short-lived cookie session and
// sends the provider a signed state carrying the same nonce. The callback
// only proceeds when the state signature is valid, the state names this
// provider, and its nonce matches the cookie. A forged callback fails on
// at least one of those.
type OAuthHandler struct {
	providers map[string]auth.Provider
	signer    *auth.StateSigner
	store     sessions.Store
	bridge    FederatedAuthenticator
	cfg       OAuthConfig
	logger    *slog.Logger
}

// NewOAuthHandler creates an OAuthHandler.
func NewOAuthHandler(cfg OAuthConfig, bridge FederatedAuthenticator, logger *slog.Logger) *OAuthHandler {
	if cfg.SuccessRedirect == "" {
		cfg.SuccessRedirect = "/"
	}
	if cfg.FailureRedirect == "" {
		cfg.FailureRedirect = "/auth?error=oauth"
	}

	providers := make(map[string]auth.Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.Name()] = p
	}

	return &OAuthHandler{
		providers: providers,
		signer:    cfg.Signer,
		store:     cfg.Store,
		bridge:    bridge,
		cfg:       cfg,
		logger:    logger,
	}
}

// provider resolves the {provider} URL parameter.
func (h *OAuthHandler) provider(r *http.Request) (auth.Provider, error) {
	name := chi.URLParam(r, "provider")
	p, ok := h.providers[name]
	if !ok {
		return nil, apperror.NotFound("provider", name)
	}
	return p, nil
}

// HandleLogin redirects the browser to the provider's consent page.
//
// HTTP: GET /auth/{provider}/login
func (h *OAuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	p, err := h.provider(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	nonce := xid.New().String()

	// A tampered or stale cookie only means a fresh session; Get still
	// returns a usable one.
	sess, _ := h.store.Get(r, oauthSessionName)
	sess.Values[nonceKey] = nonce
	sess.Options = h.cookieOptions(int(auth.StateTTL.Seconds()))
	if err := sess.Save(r, w); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	state, err := h.signer.Issue(p.Name(), nonce)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	http.Redirect(w, r, p.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleCallback completes the flow.
//
// HTTP: GET /auth/{provider}/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state and the nonce (CSRF check)
//  2. Exchange the code for the user's verified identity
//  3. Let the federated bridge find or create the user and open a session
//  4. Set the session cookie and redirect into the app
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	p, err := h.provider(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	// --- Step 1: Validate CSRF state ---
	sess, _ := h.store.Get(r, oauthSessionName)
	expected, _ := sess.Values[nonceKey].(string)

	// The nonce is single-use whatever happens next.
	delete(sess.Values, nonceKey)
	sess.Options = h.cookieOptions(-1)
	if err := sess.Save(r, w); err != nil {
		h.logger.WarnContext(r.Context(), "oauth callback: clearing nonce failed", slog.String("error", err.Error()))
	}

	nonce, err := h.signer.Validate(r.URL.Query().Get("state"), p.Name())
	if err != nil || expected == "" || nonce != expected {
		h.logger.WarnContext(r.Context(), "oauth callback: state rejected",
			slog.String("provider", p.Name()),
			slog.Bool("cookiePresent", expected != ""),
		)
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// The user pressed "cancel" on the consent screen.
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.InfoContext(r.Context(), "oauth callback: authorization denied",
			slog.String("provider", p.Name()),
			slog.String("error", errParam),
		)
		http.Redirect(w, r, h.cfg.FailureRedirect, http.StatusSeeOther)
		return
	}

	// --- Step 2: Exchange code for identity ---
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	identity, err := p.Exchange(r.Context(), code)
	if err != nil {
		writeError(w, r, h.logger, apperror.Unavailable(p.Name(), err))
		return
	}

	// --- Step 3: Map onto a local user ---
	res, err := h.bridge.AuthenticateFederated(r.Context(), service.FederatedIdentity{
		Provider:    identity.Provider,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		ExternalUID: identity.ExternalUID,
		AvatarURL:   identity.AvatarURL,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	// --- Step 4: Session cookie and redirect ---
	auth.SetSessionCookie(w, res.SessionToken, res.ExpiresAt, h.cfg.CookieSecure)
	http.Redirect(w, r, h.cfg.SuccessRedirect, http.StatusSeeOther)
}

func (h *OAuthHandler) cookieOptions(maxAge int) *sessions.Options {
	return &sessions.Options{
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
