package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alexedwards/scs/v2/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// browser replays the session cookie across requests like a real client.
type browser struct {
	t      *testing.T
	mgr    *Manager
	cookie *http.Cookie
}

func newBrowser(t *testing.T) *browser {
	return &browser{t: t, mgr: NewManager(memstore.New(), Options{})}
}

func (b *browser) do(fn func(s *Session)) {
	b.t.Helper()
	h := b.mgr.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fn(b.mgr.From(r))
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(b.t, http.StatusOK, rec.Code)

	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			b.cookie = c
		}
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	b := newBrowser(t)

	b.do(func(s *Session) {
		assert.Empty(t, s.Token())
		require.NoError(t, s.SetToken("tok"))
		s.SetIdentity("alice", "Alice Liddell")
	})
	b.do(func(s *Session) {
		assert.Equal(t, "tok", s.Token())
		assert.Equal(t, "alice", s.Login())
		assert.Equal(t, "Alice Liddell", s.Name())
	})
}

func TestSetIdentity_NameFallsBackToLogin(t *testing.T) {
	b := newBrowser(t)
	b.do(func(s *Session) { s.SetIdentity("alice", "") })
	b.do(func(s *Session) { assert.Equal(t, "alice", s.Name()) })
}

func TestSetToken_RenewsSessionID(t *testing.T) {
	b := newBrowser(t)
	b.do(func(s *Session) { s.RememberPage("/write/") })
	before := b.cookie.Value

	b.do(func(s *Session) { require.NoError(t, s.SetToken("tok")) })
	assert.NotEqual(t, before, b.cookie.Value)

	b.do(func(s *Session) {
		assert.Equal(t, "/write/", s.PopRememberedPage(), "renewal keeps data")
	})
}

func TestLogout_RemovesOnlyCredentials(t *testing.T) {
	b := newBrowser(t)
	b.do(func(s *Session) {
		require.NoError(t, s.SetToken("tok"))
		s.SetIdentity("alice", "Alice")
		s.RememberPage("/review/intro.md")
		s.Flash("hello")
	})

	b.do(func(s *Session) { require.NoError(t, s.Logout()) })

	b.do(func(s *Session) {
		assert.Empty(t, s.Token())
		assert.Empty(t, s.Login())
		assert.Empty(t, s.Name())
		assert.Equal(t, "/review/intro.md", s.PopRememberedPage())
		assert.Equal(t, []string{"hello"}, s.PopFlashes())
	})
}

func TestRememberedPageIsPoppedOnce(t *testing.T) {
	b := newBrowser(t)
	b.do(func(s *Session) { s.RememberPage("/user/") })
	b.do(func(s *Session) { assert.Equal(t, "/user/", s.PopRememberedPage()) })
	b.do(func(s *Session) { assert.Empty(t, s.PopRememberedPage()) })
}

func TestFlashes(t *testing.T) {
	b := newBrowser(t)
	b.do(func(s *Session) {
		s.Flash("first")
		s.Flash("second")
	})
	b.do(func(s *Session) { assert.Equal(t, []string{"first", "second"}, s.PopFlashes()) })
	b.do(func(s *Session) { assert.Empty(t, s.PopFlashes()) })
}

func TestOAuthStateIsSingleUse(t *testing.T) {
	b := newBrowser(t)
	b.do(func(s *Session) { s.PutOAuthState("nonce") })
	b.do(func(s *Session) { assert.Equal(t, "nonce", s.PopOAuthState()) })
	b.do(func(s *Session) { assert.Empty(t, s.PopOAuthState()) })
}

func TestCookieAttributes(t *testing.T) {
	mgr := NewManager(memstore.New(), Options{Secure: true})
	h := mgr.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mgr.From(r).Flash("x")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
}
