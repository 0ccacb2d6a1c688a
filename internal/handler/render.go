package handler

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/sakif/pskb/internal/auth"
	"github.com/sakif/pskb/internal/session"
)

// Page names, one template file each under the template directory.
const (
	pageIndex   = "index"
	pageLogin   = "login"
	pageFAQ     = "faq"
	pageProfile = "profile"
	pageEditor  = "editor"
	pageArticle = "article"
	pageError   = "error"
)

var pageNames = []string{pageIndex, pageLogin, pageFAQ, pageProfile, pageEditor, pageArticle, pageError}

// View is the data every page template receives. Page-specific values go
// in Data.
type View struct {
	Title    string
	Active   string // nav entry to highlight: index, faq, profile or write
	LoggedIn bool
	Login    string
	Name     string
	Flashes  []string
	Data     any
}

// Renderer holds the parsed page templates.
//
// TEMPLATE PARSING:
// Each page is parsed together with base.html, so base.html can pull in
// {{template "content" .}} and every page defines its own "content".
// Parsing happens once at startup; a missing or broken template fails
// server construction instead of the first request.
type Renderer struct {
	pages    map[string]*template.Template
	sessions *session.Manager
	logger   *slog.Logger
}

// NewRenderer parses base.html plus one file per page from templateDir.
func NewRenderer(templateDir string, sessions *session.Manager, logger *slog.Logger) (*Renderer, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.ParseFiles(
			filepath.Join(templateDir, "base.html"),
			filepath.Join(templateDir, name+".html"),
		)
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &Renderer{pages: pages, sessions: sessions, logger: logger}, nil
}

// page renders a full HTML page. Pending flashes are consumed here, so a
// flash set before a redirect shows on the page the redirect lands on.
func (rn *Renderer) page(w http.ResponseWriter, r *http.Request, status int, name string, view View) {
	sess := rn.sessions.From(r)
	if id, ok := auth.Check(sess).Identity(); ok {
		view.LoggedIn = true
		view.Login = id.Login
		view.Name = id.Name
	}
	view.Flashes = append(view.Flashes, sess.PopFlashes()...)
	if view.Title == "" {
		view.Title = "pskb"
	}

	tmpl, ok := rn.pages[name]
	if !ok {
		rn.logger.Error("unknown page template", slog.String("page", name))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// Render into a buffer first so a template error can still become a
	// clean 500 instead of half a page.
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", view); err != nil {
		rn.logger.Error("failed to render template",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// errorPage renders a standalone failure page with a message.
func (rn *Renderer) errorPage(w http.ResponseWriter, r *http.Request, status int, message string) {
	rn.page(w, r, status, pageError, View{
		Title: http.StatusText(status),
		Data:  map[string]any{"Status": status, "Message": message},
	})
}
