package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/alexedwards/scs/v2/memstore"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/sakif/pskb/internal/apperror"
	"github.com/sakif/pskb/internal/auth"
	"github.com/sakif/pskb/internal/content"
	"github.com/sakif/pskb/internal/content/gitstore"
	"github.com/sakif/pskb/internal/model"
	"github.com/sakif/pskb/internal/service"
	"github.com/sakif/pskb/internal/session"
)

const templateDir = "../../web/templates"

// fakeProvider stands in for GitHub. Code "<login>-code" exchanges for
// token "<login>-token"; tokens of unknown users are rejected.
type fakeProvider struct {
	users map[string]model.User // by token
}

func newFakeProvider(users ...model.User) *fakeProvider {
	p := &fakeProvider{users: map[string]model.User{}}
	for _, u := range users {
		p.users[u.Login+"-token"] = u
	}
	return p
}

func (p *fakeProvider) AuthURL(state string) string {
	return "https://github.test/login/oauth/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	login, ok := strings.CutSuffix(code, "-code")
	if !ok {
		return nil, apperror.Upstream("oauth exchange", "bad_verification_code")
	}
	return &oauth2.Token{AccessToken: login + "-token"}, nil
}

func (p *fakeProvider) Profile(_ context.Context, token string) (*model.User, error) {
	u, ok := p.users[token]
	if !ok {
		return nil, apperror.Unauthenticated("Bad credentials")
	}
	return &u, nil
}

type testApp struct {
	handler  http.Handler
	store    *gitstore.Store
	provider *fakeProvider
}

// newTestApp wires the handlers over a fresh git repository and an
// in-memory session store.
func newTestApp(t *testing.T, users ...model.User) *testApp {
	t.Helper()
	return newTestAppWith(t, memstore.New(), slog.New(slog.NewTextHandler(io.Discard, nil)), users...)
}

func newTestAppWith(t *testing.T, sessionStore scs.Store, logger *slog.Logger, users ...model.User) *testApp {
	t.Helper()

	store, err := gitstore.Open(t.TempDir())
	require.NoError(t, err)

	sessions := session.NewManager(sessionStore, session.Options{})
	render, err := NewRenderer(templateDir, sessions, logger)
	require.NoError(t, err)

	states, err := auth.NewStateSigner("test-secret-at-least-16")
	require.NoError(t, err)

	provider := newFakeProvider(users...)
	articles := service.NewArticleService(store, logger)

	pages := NewPageHandler(render, articles, 10, logger)
	authH := NewAuthHandler(provider, states, sessions, render, logger)
	articleH := NewArticleHandler(articles, provider, sessions, render, logger)

	r := chi.NewRouter()
	r.Get("/", pages.HandleIndex)
	r.Get("/login", pages.HandleLogin)
	r.Get("/faq", pages.HandleFAQ)
	r.Get("/healthz", pages.HandleHealth)
	r.Get("/github_login", authH.HandleGitHubLogin)
	r.Get("/github/authorized", authH.HandleAuthorized)
	r.Get("/logout", authH.HandleLogout)
	r.Get("/user/", authH.HandleProfile)
	r.Get("/write/*", articleH.HandleWrite)
	r.Get("/review/*", articleH.HandleReview)
	r.Post("/save/", articleH.HandleSave)
	r.Get("/api/articles/*", articleH.HandleAPIArticle)

	return &testApp{handler: sessions.LoadAndSave(r), store: store, provider: provider}
}

// client replays the session cookie across requests.
type client struct {
	t      *testing.T
	app    *testApp
	cookie *http.Cookie
}

func (a *testApp) client(t *testing.T) *client {
	return &client{t: t, app: a}
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	c.t.Helper()
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	c.app.handler.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == session.CookieName {
			c.cookie = ck
		}
	}
	return rec
}

func (c *client) get(target string) *httptest.ResponseRecorder {
	return c.do(httptest.NewRequest(http.MethodGet, target, nil))
}

func (c *client) postForm(target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

// login runs the OAuth round trip for login and returns the callback
// response.
func (c *client) login(login string) *httptest.ResponseRecorder {
	c.t.Helper()
	rec := c.get("/github_login")
	require.Equal(c.t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(c.t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(c.t, state)

	return c.get("/github/authorized?code=" + login + "-code&state=" + url.QueryEscape(state))
}

// publish stores an article on master as if author had written it.
func (a *testApp) publish(t *testing.T, path, title, author, body string) *model.Article {
	t.Helper()
	ctx := context.Background()
	_, err := a.store.Write(ctx, content.WriteRequest{
		Article:   model.Article{Path: path, Branch: model.MasterBranch, Title: title, Content: body, AuthorName: author},
		Message:   "New article " + title,
		Committer: model.User{Login: author},
	})
	require.NoError(t, err)
	art, err := a.store.Read(ctx, path, model.MasterBranch)
	require.NoError(t, err)
	return art
}

func envelope(body string) string {
	b, _ := json.Marshal(map[string]string{"content": body})
	return string(b)
}

// flakyStore is a session store whose Delete can be made to fail.
type flakyStore struct {
	scs.Store
	failDelete bool
}

func (s *flakyStore) Delete(token string) error {
	if s.failDelete {
		return errors.New("session store unavailable")
	}
	return s.Store.Delete(token)
}
