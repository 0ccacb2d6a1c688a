package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pskb/internal/apperror"
	"github.com/sakif/pskb/internal/content"
	"github.com/sakif/pskb/internal/content/gitstore"
	"github.com/sakif/pskb/internal/model"
	"github.com/sakif/pskb/internal/workflow"
)

var (
	alice = model.User{Login: "alice", Name: "Alice", Email: "alice@example.com"}
	bob   = model.User{Login: "bob", Name: "Bob"}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestService returns a service over a fresh on-disk git repository.
func newTestService(t *testing.T) (*ArticleService, *gitstore.Store) {
	t.Helper()
	store, err := gitstore.Open(t.TempDir())
	require.NoError(t, err)
	return NewArticleService(store, discardLogger()), store
}

// publish puts an article authored by author on master.
func publish(t *testing.T, store *gitstore.Store, path, author, body string) *model.Article {
	t.Helper()
	ctx := context.Background()
	_, err := store.Write(ctx, content.WriteRequest{
		Article:   model.Article{Path: path, Branch: model.MasterBranch, Title: "Intro", Content: body, AuthorName: author},
		Message:   "New article Intro",
		Committer: model.User{Login: author},
	})
	require.NoError(t, err)
	a, err := store.Read(ctx, path, model.MasterBranch)
	require.NoError(t, err)
	return a
}

// failingSource hands out a repository whose every call fails upstream.
type failingSource struct{}

func (failingSource) Repository(string) content.Repository { return failingRepo{} }

type failingRepo struct{}

var errDown = apperror.Upstream("test", "host unreachable")

func (failingRepo) Read(context.Context, string, string) (*model.Article, error) { return nil, errDown }
func (failingRepo) Write(context.Context, content.WriteRequest) (string, error) { return "", errDown }
func (failingRepo) Exists(context.Context, string, string) (bool, error)        { return false, errDown }
func (failingRepo) EnsureBranch(context.Context, string, string) error          { return errDown }
func (failingRepo) List(context.Context, string, int) ([]model.Article, error)  { return nil, errDown }

// =========================================================================
// READ
// =========================================================================

func TestRead_Found(t *testing.T) {
	svc, store := newTestService(t)
	publish(t, store, "intro.md", "alice", "hello")

	res := svc.Read(context.Background(), "", "intro.md", "")
	require.Equal(t, ReadFound, res.Status)
	assert.Equal(t, "hello", res.Article.Content)
	assert.Equal(t, model.MasterBranch, res.Article.Branch)
}

func TestRead_IsIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	publish(t, store, "intro.md", "alice", "hello")

	first := svc.Read(context.Background(), "", "intro.md", "master")
	second := svc.Read(context.Background(), "", "intro.md", "master")

	require.Equal(t, ReadFound, first.Status)
	assert.Equal(t, first.Article.Content, second.Article.Content)
	assert.Equal(t, first.Article.SHA, second.Article.SHA)
}

func TestRead_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	assert.Equal(t, ReadNotFound, svc.Read(context.Background(), "", "missing.md", "").Status)
	assert.Equal(t, ReadNotFound, svc.Read(context.Background(), "", "missing.md", "nobody").Status)
	assert.Equal(t, ReadNotFound, svc.Read(context.Background(), "", "../etc/passwd", "").Status)
}

func TestRead_UpstreamFailure(t *testing.T) {
	svc := NewArticleService(failingSource{}, discardLogger())

	res := svc.Read(context.Background(), "", "intro.md", "")
	assert.Equal(t, ReadUpstreamFailure, res.Status)
	assert.Nil(t, res.Article)
	assert.Contains(t, res.Detail, "host unreachable")
}

// =========================================================================
// RENDER
// =========================================================================

func TestRender(t *testing.T) {
	svc, _ := newTestService(t)

	html := string(svc.Render(&model.Article{Content: "# Title\n\nSome *text*."}))
	assert.Contains(t, html, "<h1>Title</h1>")
	assert.Contains(t, html, "<em>text</em>")
}

func TestRender_EscapesRawHTML(t *testing.T) {
	svc, _ := newTestService(t)

	html := string(svc.Render(&model.Article{Content: "<script>alert(1)</script>"}))
	assert.NotContains(t, html, "<script>")
}

// =========================================================================
// OPEN FOR EDIT
// =========================================================================

func TestOpenForEdit_New(t *testing.T) {
	svc, _ := newTestService(t)

	view, err := svc.OpenForEdit(context.Background(), "", workflow.Viewer{Login: "alice"}, "", "")
	require.NoError(t, err)
	assert.Nil(t, view.Article)
	assert.False(t, view.BranchArticle)
}

func TestOpenForEdit_OwnArticle(t *testing.T) {
	svc, store := newTestService(t)
	published := publish(t, store, "intro.md", "alice", "hello")

	view, err := svc.OpenForEdit(context.Background(), "", workflow.Viewer{Login: "alice"}, "intro.md", "")
	require.NoError(t, err)
	assert.False(t, view.BranchArticle)
	assert.Equal(t, published.SHA, view.Article.SHA)
}

func TestOpenForEdit_ForeignArticleSignalsFork(t *testing.T) {
	svc, store := newTestService(t)
	publish(t, store, "intro.md", "alice", "hello")

	view, err := svc.OpenForEdit(context.Background(), "", workflow.Viewer{Login: "bob"}, "intro.md", "master")
	require.NoError(t, err)
	assert.True(t, view.BranchArticle)
}

func TestOpenForEdit_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.OpenForEdit(context.Background(), "", workflow.Viewer{Login: "bob"}, "missing.md", "")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	down := NewArticleService(failingSource{}, discardLogger())
	_, err = down.OpenForEdit(context.Background(), "", workflow.Viewer{Login: "bob"}, "intro.md", "")
	assert.True(t, errors.Is(err, apperror.ErrUpstream))
}

// =========================================================================
// SAVE
// =========================================================================

// A brand-new article lands on the author's branch, which is created
// from master when missing.
func TestSave_NewArticle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	saved, err := svc.Save(ctx, "tok", alice, SaveForm{Title: "Intro", Content: "hello"})
	require.NoError(t, err)

	assert.Equal(t, "intro.md", saved.Path)
	assert.Equal(t, "alice", saved.Branch)
	assert.NotEmpty(t, saved.SHA)

	got, err := store.Read(ctx, "intro.md", "alice")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "alice", got.AuthorName)

	onMaster, err := store.Exists(ctx, "intro.md", model.MasterBranch)
	require.NoError(t, err)
	assert.False(t, onMaster)
}

func TestSave_NewArticleDedupsPath(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Save(ctx, "tok", alice, SaveForm{Title: "Intro", Content: "one"})
	require.NoError(t, err)
	second, err := svc.Save(ctx, "tok", alice, SaveForm{Title: "Intro", Content: "two"})
	require.NoError(t, err)

	assert.Equal(t, "intro.md", first.Path)
	assert.Equal(t, "intro-2.md", second.Path)
}

func TestSave_UpdateOwnArticle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	published := publish(t, store, "intro.md", "alice", "v1")

	saved, err := svc.Save(ctx, "tok", alice, SaveForm{
		Path: "intro.md", Title: "Intro", Content: "v2", SHA: published.SHA,
	})
	require.NoError(t, err)
	assert.Equal(t, model.MasterBranch, saved.Branch)

	got, err := store.Read(ctx, "intro.md", model.MasterBranch)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)
	assert.Equal(t, saved.SHA, got.SHA)
}

// A stale sha is rejected and upstream state is left alone.
func TestSave_StaleSHAConflicts(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	published := publish(t, store, "intro.md", "alice", "v1")

	_, err := svc.Save(ctx, "tok", alice, SaveForm{Path: "intro.md", Title: "Intro", Content: "v2", SHA: published.SHA})
	require.NoError(t, err)

	_, err = svc.Save(ctx, "tok", alice, SaveForm{Path: "intro.md", Title: "Intro", Content: "v3", SHA: published.SHA})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrConflict))

	got, err := store.Read(ctx, "intro.md", model.MasterBranch)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)
}

// Editing someone else's article forks it onto the editor's branch and
// leaves the original untouched.
func TestSave_ForeignEditForks(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	original := publish(t, store, "intro.md", "alice", "alice's words")

	saved, err := svc.Save(ctx, "tok", bob, SaveForm{
		Path: "intro.md", Branch: "master", Title: "Intro", Content: "bob's words", SHA: original.SHA,
	})
	require.NoError(t, err)
	assert.Equal(t, "bob", saved.Branch)
	assert.Equal(t, "intro.md", saved.Path)

	onMaster, err := store.Read(ctx, "intro.md", model.MasterBranch)
	require.NoError(t, err)
	assert.Equal(t, original.SHA, onMaster.SHA)
	assert.Equal(t, "alice's words", onMaster.Content)
	assert.Equal(t, "alice", onMaster.AuthorName)

	onBob, err := store.Read(ctx, "intro.md", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob's words", onBob.Content)
	assert.Equal(t, "bob", onBob.AuthorName)
}

// Once forked, bob owns the copy on his branch and further saves update it.
func TestSave_ForkThenUpdate(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	publish(t, store, "intro.md", "alice", "v1")

	forked, err := svc.Save(ctx, "tok", bob, SaveForm{Path: "intro.md", Title: "Intro", Content: "fork"})
	require.NoError(t, err)

	again, err := svc.Save(ctx, "tok", bob, SaveForm{
		Path: "intro.md", Branch: "bob", Title: "Intro", Content: "fork 2", SHA: forked.SHA,
	})
	require.NoError(t, err)
	assert.Equal(t, "bob", again.Branch)
	assert.False(t, again.ReplacedFork, "an update is not a fork")

	got, err := store.Read(ctx, "intro.md", "bob")
	require.NoError(t, err)
	assert.Equal(t, "fork 2", got.Content)
}

// Forking twice from master replaces bob's earlier fork rather than
// conflicting with it.
func TestSave_RepeatedForkReplacesFork(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	publish(t, store, "intro.md", "alice", "v1")

	first, err := svc.Save(ctx, "tok", bob, SaveForm{Path: "intro.md", Title: "Intro", Content: "first"})
	require.NoError(t, err)
	assert.False(t, first.ReplacedFork)

	second, err := svc.Save(ctx, "tok", bob, SaveForm{Path: "intro.md", Title: "Intro", Content: "second"})
	require.NoError(t, err)
	assert.True(t, second.ReplacedFork)

	got, err := store.Read(ctx, "intro.md", "bob")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Content)
}

func TestSave_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		author model.User
		form   SaveForm
		target error
	}{
		{"anonymous", model.User{}, SaveForm{Title: "Intro"}, apperror.ErrUnauthenticated},
		{"missing title", alice, SaveForm{Title: " "}, apperror.ErrValidation},
		{"unknown path", alice, SaveForm{Path: "missing.md", Title: "Intro"}, apperror.ErrNotFound},
		{"bad path", alice, SaveForm{Path: "../x.md", Title: "Intro"}, apperror.ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Save(ctx, "tok", tt.author, tt.form)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestSave_UpstreamFailure(t *testing.T) {
	svc := NewArticleService(failingSource{}, discardLogger())

	_, err := svc.Save(context.Background(), "tok", alice, SaveForm{Title: "Intro", Content: "x"})
	assert.True(t, errors.Is(err, apperror.ErrUpstream))

	_, err = svc.Save(context.Background(), "tok", alice, SaveForm{Path: "intro.md", Title: "Intro"})
	assert.True(t, errors.Is(err, apperror.ErrUpstream))
}

// =========================================================================
// LIST
// =========================================================================

func TestList(t *testing.T) {
	svc, store := newTestService(t)
	for _, p := range []string{"a.md", "b.md", "c.md"} {
		publish(t, store, p, "alice", strings.ToUpper(p))
	}

	all, err := svc.List(context.Background(), "", "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	one, err := svc.List(context.Background(), "", "master", 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}
