// Package gitstore keeps articles in a local git repository through go-git.
// Branches are plain refs/heads/* references; every Write is one commit
// made from a force-checked-out worktree. A single mutex serializes access,
// since a go-git worktree cannot be shared between concurrent checkouts.
package gitstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/sakif/pskb/internal/apperror"
	"github.com/sakif/pskb/internal/content"
	"github.com/sakif/pskb/internal/model"
)

const readme = "README"

// Store is a content.Repository and content.Source backed by one
// repository on disk. The access token is ignored.
type Store struct {
	mu   sync.Mutex
	dir  string
	repo *git.Repository
}

var (
	_ content.Repository = (*Store)(nil)
	_ content.Source     = (*Store)(nil)
)

// Open opens the repository at dir, initialising it with a master branch
// when the directory holds no repository yet.
func Open(dir string) (*Store, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = initRepo(dir)
	}
	if err != nil {
		return nil, fmt.Errorf("gitstore: open %s: %w", dir, err)
	}
	return &Store{dir: dir, repo: repo}, nil
}

func initRepo(dir string) (*git.Repository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, readme), []byte("Articles live on the branches of this repository.\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", readme, err)
	}
	if _, err := worktree.Add(readme); err != nil {
		return nil, fmt.Errorf("git add %s: %w", readme, err)
	}
	hash, err := worktree.Commit("Initial commit", &git.CommitOptions{
		Author: &object.Signature{Name: "pskb", Email: "pskb@localhost", When: time.Now()},
	})
	if err != nil {
		return nil, fmt.Errorf("initial commit: %w", err)
	}

	master := plumbing.NewBranchReferenceName(model.MasterBranch)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(master, hash)); err != nil {
		return nil, fmt.Errorf("set master ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, master)); err != nil {
		return nil, fmt.Errorf("set HEAD to master: %w", err)
	}
	return repo, nil
}

// Repository implements content.Source.
func (s *Store) Repository(string) content.Repository { return s }

func (s *Store) Read(ctx context.Context, path, branch string) (*model.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	commit, err := s.head(branch)
	if err != nil {
		return nil, err
	}
	file, err := commit.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, apperror.NotFound("article", path+"@"+branch)
	}
	if err != nil {
		return nil, fmt.Errorf("gitstore: load %s@%s: %w", path, branch, err)
	}
	return decodeFile(file, branch)
}

func (s *Store) Exists(ctx context.Context, path, branch string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	commit, err := s.head(branch)
	if errors.Is(err, apperror.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = commit.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gitstore: stat %s@%s: %w", path, branch, err)
	}
	return true, nil
}

func (s *Store) EnsureBranch(ctx context.Context, branch, from string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	name := plumbing.NewBranchReferenceName(branch)
	if _, err := s.repo.Reference(name, true); err == nil {
		return nil
	}

	source, err := s.repo.Reference(plumbing.NewBranchReferenceName(from), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return apperror.NotFound("branch", from)
	}
	if err != nil {
		return fmt.Errorf("gitstore: read branch %s: %w", from, err)
	}
	if err := s.repo.Storer.SetReference(plumbing.NewHashReference(name, source.Hash())); err != nil {
		return fmt.Errorf("gitstore: create branch %s: %w", branch, err)
	}
	return nil
}

func (s *Store) Write(ctx context.Context, req content.WriteRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a := req.Article
	commit, err := s.head(a.Branch)
	if err != nil {
		return "", err
	}

	current := ""
	if file, err := commit.File(a.Path); err == nil {
		current = file.Hash.String()
	} else if !errors.Is(err, object.ErrFileNotFound) {
		return "", fmt.Errorf("gitstore: stat %s@%s: %w", a.Path, a.Branch, err)
	}
	if current != req.ExpectedSHA {
		return "", apperror.Conflict("article", a.Ref())
	}

	payload, err := content.Encode(a)
	if err != nil {
		return "", err
	}

	worktree, err := s.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("gitstore: open worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(a.Branch),
		Force:  true,
	}); err != nil {
		return "", fmt.Errorf("gitstore: checkout %s: %w", a.Branch, err)
	}

	target := filepath.Join(s.dir, filepath.FromSlash(a.Path))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("gitstore: create dir for %s: %w", a.Path, err)
	}
	if err := os.WriteFile(target, payload, 0o644); err != nil {
		return "", fmt.Errorf("gitstore: write %s: %w", a.Path, err)
	}
	if _, err := worktree.Add(a.Path); err != nil {
		return "", fmt.Errorf("gitstore: git add %s: %w", a.Path, err)
	}

	hash, err := worktree.Commit(req.Message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  req.Committer.DisplayName(),
			Email: req.Committer.CommitEmail(),
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("gitstore: commit %s: %w", a.Ref(), err)
	}

	written, err := s.repo.CommitObject(hash)
	if err != nil {
		return "", fmt.Errorf("gitstore: read commit %s: %w", hash, err)
	}
	file, err := written.File(a.Path)
	if err != nil {
		return "", fmt.Errorf("gitstore: load written %s: %w", a.Ref(), err)
	}
	return file.Hash.String(), nil
}

func (s *Store) List(ctx context.Context, branch string, limit int) ([]model.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	commit, err := s.head(branch)
	if err != nil {
		return nil, err
	}
	files, err := commit.Files()
	if err != nil {
		return nil, fmt.Errorf("gitstore: list %s: %w", branch, err)
	}
	defer files.Close()

	var articles []model.Article
	err = files.ForEach(func(f *object.File) error {
		if !content.IsArticlePath(f.Name) {
			return nil
		}
		a, err := decodeFile(f, branch)
		if err != nil {
			return err
		}
		articles = append(articles, *a)
		if limit > 0 && len(articles) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("gitstore: iterate %s: %w", branch, err)
	}
	return articles, nil
}

// head resolves the tip commit of a branch. Callers hold s.mu.
func (s *Store) head(branch string) (*object.Commit, error) {
	ref, err := s.repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, apperror.NotFound("branch", branch)
	}
	if err != nil {
		return nil, fmt.Errorf("gitstore: resolve branch %s: %w", branch, err)
	}
	commit, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("gitstore: load commit on %s: %w", branch, err)
	}
	return commit, nil
}

func decodeFile(f *object.File, branch string) (*model.Article, error) {
	raw, err := f.Contents()
	if err != nil {
		return nil, fmt.Errorf("gitstore: read %s@%s: %w", f.Name, branch, err)
	}
	return content.Decode([]byte(raw), f.Name, branch, f.Hash.String())
}
