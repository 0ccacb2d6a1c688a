package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/pskb/internal/apperror"
	"github.com/sakif/pskb/internal/auth"
	"github.com/sakif/pskb/internal/model"
	"github.com/sakif/pskb/internal/service"
	"github.com/sakif/pskb/internal/session"
	"github.com/sakif/pskb/internal/workflow"
)

// Flash messages shown after an article operation.
const (
	flashReadFailed   = "Failing reading article"
	flashSaveFailed   = "Failed creating article on github"
	flashNeedsLogin   = "Cannot save unless logged in"
	flashForkReplaced = "Your earlier copy of this article on your branch was replaced"
)

// ArticleHandler serves the editor, the review page, the save endpoint and
// the read-only JSON API.
type ArticleHandler struct {
	articles *service.ArticleService
	provider IdentityProvider
	sessions *session.Manager
	render   *Renderer
	logger   *slog.Logger
}

// NewArticleHandler creates an ArticleHandler.
func NewArticleHandler(
	articles *service.ArticleService,
	provider IdentityProvider,
	sessions *session.Manager,
	render *Renderer,
	logger *slog.Logger,
) *ArticleHandler {
	return &ArticleHandler{
		articles: articles,
		provider: provider,
		sessions: sessions,
		render:   render,
		logger:   logger,
	}
}

// HandleWrite shows the editor, blank or loaded with an existing article.
//
// HTTP: GET /write/ and GET /write/{path}?branch=name (login required)
//
// When the viewer may not edit the article in place, the page is told so
// (BranchArticle) and saving will fork it onto the viewer's branch.
func (h *ArticleHandler) HandleWrite(w http.ResponseWriter, r *http.Request) {
	id, ok := requireLogin(h.sessions, w, r)
	if !ok {
		return
	}
	sess := h.sessions.From(r)

	path := strings.TrimSuffix(chi.URLParam(r, "*"), "/")
	branch := r.URL.Query().Get("branch")

	login := id.Login
	if path != "" && login == "" {
		user, err := h.currentUser(r, id)
		if err != nil {
			h.needsLogin(w, r, err)
			return
		}
		login = user.Login
	}

	view, err := h.articles.OpenForEdit(r.Context(), id.Token, workflow.Viewer{Login: login}, path, branch)
	if err != nil {
		h.logger.Warn("opening editor failed", slog.String("path", path), slog.String("error", err.Error()))
		sess.Flash(flashReadFailed)
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	title := "New article"
	if view.Article != nil {
		title = "Edit " + view.Article.Title
	}
	h.render.page(w, r, http.StatusOK, pageEditor, View{
		Title:  title,
		Active: "write",
		Data: map[string]any{
			"Article":       view.Article,
			"BranchArticle": view.BranchArticle,
			"Branch":        workflow.ReviewBranch(branch),
		},
	})
}

// HandleReview renders one article.
//
// HTTP: GET /review/{path}?branch=name
//
// Anyone may read. AllowEdits follows workflow.CanEdit for the viewer and
// the article's branch.
func (h *ArticleHandler) HandleReview(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions.From(r)
	path := chi.URLParam(r, "*")

	res := h.articles.Read(r.Context(), sess.Token(), path, r.URL.Query().Get("branch"))
	if res.Status != service.ReadFound {
		sess.Flash(flashReadFailed)
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	var viewer workflow.Viewer
	if id, ok := auth.Check(sess).Identity(); ok {
		viewer.Login = id.Login
		// The login is missing when the profile fetch after the OAuth
		// callback failed.
		if viewer.Login == "" {
			if user, err := h.currentUser(r, id); err == nil {
				viewer.Login = user.Login
			} else {
				h.logger.Warn("refreshing identity failed", slog.String("error", err.Error()))
			}
		}
	}

	h.render.page(w, r, http.StatusOK, pageArticle, View{
		Title: res.Article.Title,
		Data: map[string]any{
			"Article":    res.Article,
			"HTML":       h.articles.Render(res.Article),
			"AllowEdits": workflow.CanEdit(viewer, res.Article.Branch),
		},
	})
}

// contentEnvelope is the shape of the editor's "content" form field.
type contentEnvelope struct {
	Content *string `json:"content"`
}

// parseEnvelope unwraps {"content": "..."}. A missing field, a non-string
// value or invalid JSON is a Malformed error.
func parseEnvelope(raw string) (string, error) {
	var env contentEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return "", apperror.Malformed("content", "must be a JSON object with a string \"content\" field")
	}
	if env.Content == nil {
		return "", apperror.Malformed("content", "missing \"content\" field")
	}
	return *env.Content, nil
}

// HandleSave creates, updates or forks an article, then redirects to the
// review page of what was written.
//
// HTTP: POST /save/ (login required)
//
// FORM FIELDS:
//
//	content  JSON object {"content": "<markdown>"}
//	path     existing article path, empty for a new article
//	title    article title
//	sha      version the editor started from
//	branch   branch the editor was opened on, default master
func (h *ArticleHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	id, ok := requireLogin(h.sessions, w, r)
	if !ok {
		return
	}
	sess := h.sessions.From(r)

	user, err := h.currentUser(r, id)
	if err != nil {
		h.needsLogin(w, r, err)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.render.errorPage(w, r, http.StatusBadRequest, "Could not read the submitted form.")
		return
	}

	body, err := parseEnvelope(r.PostForm.Get("content"))
	if err != nil {
		h.render.errorPage(w, r, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := h.articles.Save(r.Context(), id.Token, *user, service.SaveForm{
		Path:    r.PostForm.Get("path"),
		Branch:  r.PostForm.Get("branch"),
		Title:   r.PostForm.Get("title"),
		Content: body,
		SHA:     r.PostForm.Get("sha"),
	})
	switch {
	case err == nil:
		if saved.ReplacedFork {
			sess.Flash(flashForkReplaced)
		}
		http.Redirect(w, r, reviewURL(saved.Path, saved.Branch), http.StatusSeeOther)
	case errors.Is(err, apperror.ErrMalformed), errors.Is(err, apperror.ErrValidation):
		status, _ := statusFor(err)
		h.render.errorPage(w, r, status, err.Error())
	default:
		sess.Flash(flashSaveFailed)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

// HandleAPIArticle returns one article as JSON.
//
// HTTP: GET /api/articles/{path}?branch=name
func (h *ArticleHandler) HandleAPIArticle(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	branch := r.URL.Query().Get("branch")

	res := h.articles.Read(r.Context(), h.sessions.From(r).Token(), path, branch)
	switch res.Status {
	case service.ReadFound:
		writeJSON(w, http.StatusOK, res.Article)
	case service.ReadNotFound:
		writeError(w, apperror.NotFound("article", path+"@"+workflow.ReviewBranch(branch)))
	default:
		writeError(w, apperror.Upstream("article read", res.Detail))
	}
}

// currentUser fetches the signed-in user's profile, which supplies the
// commit identity. The session's copy of login and name is refreshed.
func (h *ArticleHandler) currentUser(r *http.Request, id auth.Identity) (*model.User, error) {
	user, err := h.provider.Profile(r.Context(), id.Token)
	if err != nil {
		return nil, err
	}
	h.sessions.From(r).SetIdentity(user.Login, user.Name)
	return user, nil
}

// needsLogin answers a request whose token no longer yields a profile.
func (h *ArticleHandler) needsLogin(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("fetching profile failed", slog.String("error", err.Error()))
	h.sessions.From(r).Flash(flashNeedsLogin)
	h.render.page(w, r, http.StatusNotFound, pageIndex, View{
		Active: "index",
		Data:   map[string]any{"Articles": []model.Article(nil)},
	})
}
