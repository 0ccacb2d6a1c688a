// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses forms, renders pages
//	Service (business layer) → decides create/update/fork, orchestrates
//	Content (data layer)     → reads/writes files on repository branches
//
// The decisions themselves live in internal/workflow as pure functions.
// ArticleService feeds them what the repository holds and carries out the
// write they ask for. It knows nothing about HTTP or sessions: the access
// token and the author arrive as plain parameters.
package service

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"strings"

	"gitlab.com/golang-commonmark/markdown"

	"github.com/sakif/pskb/internal/apperror"
	"github.com/sakif/pskb/internal/content"
	"github.com/sakif/pskb/internal/model"
	"github.com/sakif/pskb/internal/workflow"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ReadStatus tags a ReadResult.
type ReadStatus int

const (
	ReadFound ReadStatus = iota + 1
	ReadNotFound
	ReadUpstreamFailure
)

// ReadResult is the outcome of Read. Article is set only for ReadFound;
// Detail carries the cause of a ReadUpstreamFailure for logging.
type ReadResult struct {
	Status  ReadStatus
	Article *model.Article
	Detail  string
}

// EditView is what the editor page needs.
//
// Article is nil when writing a new article. BranchArticle is set when
// saving will fork the article onto the editor's own branch.
type EditView struct {
	Article       *model.Article
	BranchArticle bool
}

// SaveForm is a submitted editor form after the JSON envelope around the
// content has been unwrapped.
type SaveForm struct {
	Path    string
	Branch  string // branch the editor was opened on; empty means master
	Title   string
	Content string
	SHA     string
}

// Saved is an article as written by Save. ReplacedFork reports that a fork
// overwrote a copy the author already had on their own branch.
type Saved struct {
	model.Article
	ReplacedFork bool
}

// ArticleService handles reading, rendering and saving articles.
type ArticleService struct {
	source content.Source
	md     *markdown.Markdown
	logger *slog.Logger
}

// NewArticleService creates an ArticleService over a content source.
func NewArticleService(source content.Source, logger *slog.Logger) *ArticleService {
	return &ArticleService{
		source: source,
		// Raw HTML in articles is escaped, not passed through.
		md:     markdown.New(markdown.HTML(false), markdown.Linkify(true), markdown.Typographer(true), markdown.MaxNesting(10)),
		logger: logger,
	}
}

// Read fetches one article. It never returns an error: callers branch on
// the result's Status.
func (s *ArticleService) Read(ctx context.Context, token, path, branch string) ReadResult {
	clean, err := content.CleanPath(path)
	if err != nil {
		return ReadResult{Status: ReadNotFound}
	}
	branch = workflow.ReviewBranch(branch)

	article, err := s.source.Repository(token).Read(ctx, clean, branch)
	switch {
	case err == nil:
		return ReadResult{Status: ReadFound, Article: article}
	case errors.Is(err, apperror.ErrNotFound):
		return ReadResult{Status: ReadNotFound}
	default:
		s.logger.Warn("article read failed", "path", clean, "branch", branch, "error", err)
		return ReadResult{Status: ReadUpstreamFailure, Detail: err.Error()}
	}
}

// Render turns an article's markdown into HTML.
func (s *ArticleService) Render(a *model.Article) template.HTML {
	return template.HTML(s.md.RenderToString([]byte(a.Content)))
}

// OpenForEdit loads the editor view. An empty path opens a blank editor.
func (s *ArticleService) OpenForEdit(ctx context.Context, token string, v workflow.Viewer, path, branch string) (*EditView, error) {
	if strings.TrimSpace(path) == "" {
		return &EditView{}, nil
	}

	res := s.Read(ctx, token, path, branch)
	switch res.Status {
	case ReadFound:
		return &EditView{
			Article:       res.Article,
			BranchArticle: workflow.NeedsFork(v, res.Article),
		}, nil
	case ReadNotFound:
		return nil, apperror.NotFound("article", path+"@"+workflow.ReviewBranch(branch))
	default:
		return nil, apperror.Upstream("article read", res.Detail)
	}
}

// Save carries out a submitted edit as exactly one commit and returns the
// article as written, so the caller can show it at (Path, Branch).
func (s *ArticleService) Save(ctx context.Context, token string, author model.User, form SaveForm) (*Saved, error) {
	viewer := workflow.Viewer{Login: author.Login}
	repo := s.source.Repository(token)

	var existing *model.Article
	if strings.TrimSpace(form.Path) != "" {
		clean, err := content.CleanPath(form.Path)
		if err != nil {
			return nil, err
		}
		form.Path = clean

		existing, err = repo.Read(ctx, clean, workflow.ReviewBranch(form.Branch))
		if err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
	}

	plan, err := workflow.PlanSave(viewer, workflow.SaveRequest{
		Title:   form.Title,
		Path:    form.Path,
		Content: form.Content,
		SHA:     form.SHA,
	}, existing)
	if err != nil {
		return nil, err
	}

	article := model.Article{
		Path:       plan.Path,
		Branch:     plan.Branch,
		Title:      strings.TrimSpace(form.Title),
		Content:    form.Content,
		AuthorName: author.Login,
	}
	expected := plan.ExpectedSHA
	replaced := false

	switch plan.Op {
	case workflow.OpCreate:
		if err := repo.EnsureBranch(ctx, plan.Branch, model.MasterBranch); err != nil {
			return nil, err
		}
		article.Path, err = workflow.DedupPath(plan.Path, func(p string) (bool, error) {
			return repo.Exists(ctx, p, plan.Branch)
		})
		if err != nil {
			return nil, err
		}

	case workflow.OpUpdate:
		article.AuthorName = existing.AuthorName

	case workflow.OpFork:
		if err := repo.EnsureBranch(ctx, plan.Branch, plan.SourceBranch); err != nil {
			return nil, err
		}
		// The fork replaces whatever the viewer's branch holds at this path.
		current, err := repo.Read(ctx, plan.Path, plan.Branch)
		switch {
		case err == nil:
			expected = current.SHA
			replaced = true
		case errors.Is(err, apperror.ErrNotFound):
			expected = ""
		default:
			return nil, err
		}
	}

	sha, err := repo.Write(ctx, content.WriteRequest{
		Article:     article,
		Message:     plan.Message,
		ExpectedSHA: expected,
		Committer:   author,
	})
	if err != nil {
		s.logger.Warn("article save failed",
			"op", plan.Op.String(), "ref", article.Ref(), "user", author.Login, "error", err)
		return nil, err
	}
	article.SHA = sha

	s.logger.Info("article saved",
		"op", plan.Op.String(), "ref", article.Ref(), "user", author.Login, "replaced_fork", replaced)
	return &Saved{Article: article, ReplacedFork: replaced}, nil
}

// List returns up to limit articles from branch for the home page.
// limit is clamped to [1, MaxListLimit]; zero means DefaultListLimit.
func (s *ArticleService) List(ctx context.Context, token, branch string, limit int) ([]model.Article, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	return s.source.Repository(token).List(ctx, workflow.ReviewBranch(branch), limit)
}
