// Package handler contains the HTTP request handlers of the workspace.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming request (path, query, form)
//  2. Check the session explicitly (auth.Check) where an identity is needed
//  3. Call the service layer
//  4. Render a page, redirect, or write JSON
//
// Failures never produce blank pages: they become a flash message plus a
// redirect to a safe page, or a rendered error page.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/pskb/internal/model"
	"github.com/sakif/pskb/internal/service"
)

// PageHandler serves the pages that need no identity: home, login, FAQ
// and the health check.
type PageHandler struct {
	render     *Renderer
	articles   *service.ArticleService
	indexLimit int
	logger     *slog.Logger
}

// NewPageHandler creates a PageHandler. indexLimit caps the home listing.
func NewPageHandler(render *Renderer, articles *service.ArticleService, indexLimit int, logger *slog.Logger) *PageHandler {
	return &PageHandler{
		render:     render,
		articles:   articles,
		indexLimit: indexLimit,
		logger:     logger,
	}
}

// HandleIndex lists articles on master.
//
// HTTP: GET /
//
// A listing failure still renders the page, just without articles.
func (h *PageHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	token := h.render.sessions.From(r).Token()

	articles, err := h.articles.List(r.Context(), token, model.MasterBranch, h.indexLimit)
	if err != nil {
		h.logger.Warn("listing articles failed", slog.String("error", err.Error()))
		articles = nil
	}

	h.render.page(w, r, http.StatusOK, pageIndex, View{
		Active: "index",
		Data:   map[string]any{"Articles": articles},
	})
}

// HandleLogin shows the sign-in page.
//
// HTTP: GET /login
func (h *PageHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	h.render.page(w, r, http.StatusOK, pageLogin, View{Title: "Log in"})
}

// HandleFAQ shows the FAQ.
//
// HTTP: GET /faq
func (h *PageHandler) HandleFAQ(w http.ResponseWriter, r *http.Request) {
	h.render.page(w, r, http.StatusOK, pageFAQ, View{Title: "FAQ", Active: "faq"})
}

// HandleHealth reports liveness.
//
// HTTP: GET /healthz
func (h *PageHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
