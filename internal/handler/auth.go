package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/sakif/pskb/internal/apperror"
	"github.com/sakif/pskb/internal/auth"
	"github.com/sakif/pskb/internal/model"
	"github.com/sakif/pskb/internal/session"
)

// IdentityProvider is the slice of auth.GitHubProvider the handlers use.
// Tests substitute a fake.
type IdentityProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Profile(ctx context.Context, accessToken string) (*model.User, error)
}

// AuthHandler manages the GitHub OAuth login flow, logout and the profile
// page.
//
// HANDLER RESPONSIBILITIES:
//   - HandleGitHubLogin  → redirect the browser to GitHub's authorization page
//   - HandleAuthorized   → check state, exchange the code, fill the session
//   - HandleLogout       → drop the credential from the session
//   - HandleProfile      → show (and refresh) the signed-in user's profile
type AuthHandler struct {
	provider IdentityProvider
	states   *auth.StateSigner
	sessions *session.Manager
	render   *Renderer
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(
	provider IdentityProvider,
	states *auth.StateSigner,
	sessions *session.Manager,
	render *Renderer,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		provider: provider,
		states:   states,
		sessions: sessions,
		render:   render,
		logger:   logger,
	}
}

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /github_login
//
// CSRF PROTECTION VIA STATE:
// A fresh nonce goes into the session and, signed, into the state
// parameter. The callback accepts only a state that verifies AND carries
// the nonce this browser's session holds.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	nonce := auth.NewNonce()
	state, err := h.states.Issue(nonce)
	if err != nil {
		h.logger.Error("issuing oauth state failed", slog.String("error", err.Error()))
		h.render.errorPage(w, r, http.StatusInternalServerError, "Could not start the login, please try again.")
		return
	}

	h.sessions.From(r).PutOAuthState(nonce)
	http.Redirect(w, r, h.provider.AuthURL(state), http.StatusFound)
}

// HandleAuthorized completes the OAuth login flow.
//
// HTTP: GET /github/authorized?code=xxx&state=yyy
//
// FLOW:
//  1. Provider refused (error param) → show its reason verbatim
//  2. Validate the state (signature, expiry, session nonce)
//  3. Exchange the code for an access token and store it
//  4. Fetch the profile to record login and display name
//  5. Redirect to the remembered page, else the profile page
func (h *AuthHandler) HandleAuthorized(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sess := h.sessions.From(r)

	// --- Step 1: the user (or GitHub) said no ---
	if reason := q.Get("error"); reason != "" {
		denied := apperror.Denied(fmt.Sprintf("Access denied: reason=%s error=%s", reason, q.Get("error_description")))
		h.logger.Info("oauth authorization denied", slog.String("reason", reason))
		h.render.errorPage(w, r, http.StatusForbidden, denied.Message)
		return
	}

	// --- Step 2: state ---
	expected := sess.PopOAuthState()
	nonce, err := h.states.Verify(q.Get("state"))
	if err != nil || expected == "" || nonce != expected {
		h.logger.Warn("oauth callback with invalid state", slog.Any("error", err))
		h.render.errorPage(w, r, http.StatusBadRequest, "Invalid login state, please log in again.")
		return
	}

	code := q.Get("code")
	if code == "" {
		h.render.errorPage(w, r, http.StatusBadRequest, "Missing OAuth code, please log in again.")
		return
	}

	// --- Step 3: token ---
	token, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth exchange failed", slog.String("error", err.Error()))
		sess.Flash("Failed logging in with github")
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	if err := sess.SetToken(token.AccessToken); err != nil {
		h.logger.Error("storing token failed", slog.String("error", err.Error()))
		h.render.errorPage(w, r, http.StatusInternalServerError, "Could not complete the login, please try again.")
		return
	}

	// --- Step 4: identity ---
	// A failure here is not fatal: the profile page fills it in later.
	if user, err := h.provider.Profile(r.Context(), token.AccessToken); err == nil {
		sess.SetIdentity(user.Login, user.Name)
		h.logger.Info("user authenticated", slog.String("login", user.Login))
	} else {
		h.logger.Warn("fetching profile after login failed", slog.String("error", err.Error()))
	}

	// --- Step 5: redirect ---
	next := sess.PopRememberedPage()
	if !safeRedirect(next) {
		next = "/user/"
	}
	http.Redirect(w, r, next, http.StatusFound)
}

// HandleLogout drops the token, login and name from the session.
//
// HTTP: GET /logout (login required)
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireLogin(h.sessions, w, r); !ok {
		return
	}

	if err := h.sessions.From(r).Logout(); err != nil {
		h.logger.Error("logout failed", slog.String("error", err.Error()))
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// HandleProfile shows the signed-in user and refreshes the session's copy
// of their login and name.
//
// HTTP: GET /user/ (login required)
func (h *AuthHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := requireLogin(h.sessions, w, r)
	if !ok {
		return
	}
	sess := h.sessions.From(r)

	user, err := h.provider.Profile(r.Context(), id.Token)
	switch {
	case err == nil:
		sess.SetIdentity(user.Login, user.Name)
	case errors.Is(err, apperror.ErrUnauthenticated):
		// The token was revoked on GitHub's side.
		if err := sess.Logout(); err != nil {
			h.logger.Error("logout failed", slog.String("error", err.Error()))
		}
		sess.RememberPage(r.URL.RequestURI())
		sess.Flash("Your GitHub login has expired, please log in again")
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	default:
		h.logger.Warn("fetching profile failed", slog.String("error", err.Error()))
		sess.Flash("Failed reading profile from github")
		user = &model.User{Login: id.Login, Name: id.Name}
	}

	h.render.page(w, r, http.StatusOK, pageProfile, View{
		Title:  user.DisplayName(),
		Active: "profile",
		Data:   map[string]any{"User": user},
	})
}

// requireLogin is the explicit guard each identity-requiring handler calls
// first. Unauthenticated GET requests are remembered so the login can come
// back to them; the caller must return when ok is false.
func requireLogin(sessions *session.Manager, w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	sess := sessions.From(r)
	id, ok := auth.Check(sess).Identity()
	if ok {
		return id, true
	}

	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		sess.RememberPage(r.URL.RequestURI())
	}
	http.Redirect(w, r, "/login", http.StatusFound)
	return auth.Identity{}, false
}
