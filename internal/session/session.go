// Package session holds the per-browser state of the workspace: the GitHub
// access token and identity, the page to return to after login, pending
// flash messages and the OAuth state nonce.
//
// Storage and cookies are handled by alexedwards/scs. The Store behind it
// is pluggable (memory, SQLite, Redis) and chosen in cmd/server.
//
// Handlers never touch scs keys directly; they go through Session, which
// keeps the key names and their types in one place.
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
)

const (
	keyToken      = "github_token"
	keyLogin      = "github_login"
	keyName       = "github_name"
	keyRemembered = "remembered_page"
	keyFlashes    = "flashes"
	keyOAuthState = "oauth_state"
)

// CookieName is the session cookie's name.
const CookieName = "pskb_session"

// Options configure the session cookie.
type Options struct {
	Lifetime time.Duration
	Secure   bool
}

// Manager wraps the scs session manager.
type Manager struct {
	scs *scs.SessionManager
}

// NewManager creates a Manager persisting sessions in store.
func NewManager(store scs.Store, opts Options) *Manager {
	sm := scs.New()
	sm.Store = store
	sm.Cookie.Name = CookieName
	sm.Cookie.HttpOnly = true
	sm.Cookie.Path = "/"
	sm.Cookie.SameSite = http.SameSiteLaxMode // the OAuth callback is a top-level GET
	sm.Cookie.Secure = opts.Secure
	if opts.Lifetime > 0 {
		sm.Lifetime = opts.Lifetime
	}
	return &Manager{scs: sm}
}

// LoadAndSave is the middleware that loads the session for each request
// and writes it back (and sets the cookie) before the response goes out.
func (m *Manager) LoadAndSave(next http.Handler) http.Handler {
	return m.scs.LoadAndSave(next)
}

// From returns the session of a request that went through LoadAndSave.
func (m *Manager) From(r *http.Request) *Session {
	return &Session{ctx: r.Context(), scs: m.scs}
}

// Session is a typed view over one request's session data.
type Session struct {
	ctx context.Context
	scs *scs.SessionManager
}

// Token is the GitHub access token, or "" when nobody is signed in.
func (s *Session) Token() string { return s.scs.GetString(s.ctx, keyToken) }

// Login is the GitHub login of the signed-in user.
func (s *Session) Login() string { return s.scs.GetString(s.ctx, keyLogin) }

// Name is the display name of the signed-in user.
func (s *Session) Name() string { return s.scs.GetString(s.ctx, keyName) }

// SetToken stores a freshly exchanged access token. The session token is
// renewed first, so a session id seen before login is worthless after it.
func (s *Session) SetToken(token string) error {
	if err := s.scs.RenewToken(s.ctx); err != nil {
		return err
	}
	s.scs.Put(s.ctx, keyToken, token)
	return nil
}

// SetIdentity records who the token belongs to.
func (s *Session) SetIdentity(login, name string) {
	if name == "" {
		name = login
	}
	s.scs.Put(s.ctx, keyLogin, login)
	s.scs.Put(s.ctx, keyName, name)
}

// Logout drops the credential and identity. Remembered pages, flashes and
// anything else in the session survive.
func (s *Session) Logout() error {
	s.scs.Remove(s.ctx, keyToken)
	s.scs.Remove(s.ctx, keyLogin)
	s.scs.Remove(s.ctx, keyName)
	return s.scs.RenewToken(s.ctx)
}

// RememberPage stores where to send the user once they have signed in.
func (s *Session) RememberPage(uri string) { s.scs.Put(s.ctx, keyRemembered, uri) }

// PopRememberedPage returns and clears the remembered page.
func (s *Session) PopRememberedPage() string { return s.scs.PopString(s.ctx, keyRemembered) }

// Flash queues a message for the next rendered page.
func (s *Session) Flash(msg string) {
	flashes, _ := s.scs.Get(s.ctx, keyFlashes).([]string)
	s.scs.Put(s.ctx, keyFlashes, append(flashes, msg))
}

// PopFlashes returns and clears the queued messages.
func (s *Session) PopFlashes() []string {
	flashes, _ := s.scs.Pop(s.ctx, keyFlashes).([]string)
	return flashes
}

// PutOAuthState stores the nonce of an in-flight login.
func (s *Session) PutOAuthState(nonce string) { s.scs.Put(s.ctx, keyOAuthState, nonce) }

// PopOAuthState returns and clears the login nonce. Each nonce is good
// for one callback.
func (s *Session) PopOAuthState() string { return s.scs.PopString(s.ctx, keyOAuthState) }
