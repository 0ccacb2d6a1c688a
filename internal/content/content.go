// Package content defines the content repository the articles live in:
// a version-controlled tree of markdown files, addressed by (path, branch).
//
// Two backends implement Repository:
//   - content/githubrepo: the GitHub REST API, acting with the user's token
//   - content/gitstore:   a local go-git repository, for development and tests
//
// CONTRACT SHARED BY ALL BACKENDS:
//   - Read returns apperror.ErrNotFound when the path or branch is missing.
//   - Write is atomic: either a commit lands and its new file sha is
//     returned, or nothing changes.
//   - Write compares ExpectedSHA to the file's current sha and fails with
//     apperror.ErrConflict on mismatch. An empty ExpectedSHA means "the file
//     must not exist yet".
//   - Unreachable hosts and unexpected responses surface as
//     apperror.ErrUpstream, never as panics.
package content

import (
	"context"
	"path"
	"strings"

	"github.com/sakif/pskb/internal/apperror"
	"github.com/sakif/pskb/internal/model"
)

// WriteRequest is one commit of one article file.
type WriteRequest struct {
	Article     model.Article // Path, Branch, Title, Content and AuthorName are written
	Message     string
	ExpectedSHA string
	Committer   model.User
}

// Repository reads and writes article files.
type Repository interface {
	Read(ctx context.Context, path, branch string) (*model.Article, error)
	Write(ctx context.Context, req WriteRequest) (string, error)
	Exists(ctx context.Context, path, branch string) (bool, error)
	EnsureBranch(ctx context.Context, branch, from string) error
	List(ctx context.Context, branch string, limit int) ([]model.Article, error)
}

// Source hands out a Repository acting on behalf of an access token.
// An empty token yields a read-mostly anonymous view.
type Source interface {
	Repository(token string) Repository
}

// CleanPath validates a user-supplied article path and returns it in
// canonical form. Paths are relative, slash-separated and may not climb
// out of the repository.
func CleanPath(p string) (string, error) {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return "", apperror.Malformed("path", "article path is empty")
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return "", apperror.Malformed("path", "article path "+p+" is not canonical")
		}
		if strings.HasPrefix(seg, ".git") {
			return "", apperror.Malformed("path", "article path "+p+" is reserved")
		}
	}
	return path.Clean(p), nil
}

// IsArticlePath reports whether a repository file is an article.
func IsArticlePath(p string) bool {
	return strings.HasSuffix(p, ".md") && !strings.HasPrefix(path.Base(p), ".")
}
