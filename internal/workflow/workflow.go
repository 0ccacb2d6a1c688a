// Package workflow holds the branch-aware decision logic for articles:
// who may see an edit affordance, who owns which copy, and whether a save
// creates, updates or forks.
//
// Everything here is a pure function of its inputs. No I/O happens in
// this package; the service layer performs the reads and writes that a
// Plan describes.
//
// BRANCH MODEL:
//
//	master      canonical line, any logged-in user may branch off it
//	<login>     a user's own working line, only that user edits it
//
// A user who edits something they do not own never writes in place.
// The edit is redirected onto their own branch (a "fork"), so one user's
// changes are never committed onto another user's line.
package workflow

import (
	"fmt"
	"strings"

	"github.com/sakif/pskb/internal/apperror"
	"github.com/sakif/pskb/internal/model"
)

// Operation is the kind of repository write a save turns into.
type Operation int

const (
	OpCreate Operation = iota + 1
	OpUpdate
	OpFork
)

func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpFork:
		return "fork"
	default:
		return fmt.Sprintf("Operation(%d)", int(o))
	}
}

// Viewer is the requesting user as far as the workflow cares.
// The zero value is an anonymous viewer.
type Viewer struct {
	Login string
}

func (v Viewer) Authenticated() bool {
	return v.Login != ""
}

// ReviewBranch returns the branch to read from, defaulting to master.
func ReviewBranch(requested string) string {
	if b := strings.TrimSpace(requested); b != "" {
		return b
	}
	return model.MasterBranch
}

// CanEdit reports whether an edit affordance should be offered to v for an
// article living on branch.
//
// Edits are offered iff the viewer is logged in AND the branch is either
// master (anyone may branch from it) or the viewer's own branch. It never
// authorizes a write by itself; PlanSave is the write-time authority and
// agrees with it: an in-place write only ever happens where CanEdit holds.
func CanEdit(v Viewer, branch string) bool {
	if !v.Authenticated() {
		return false
	}
	return branch == model.MasterBranch || branch == v.Login
}

// Owns reports whether v is the owning identity of a.
func Owns(v Viewer, a *model.Article) bool {
	return v.Authenticated() && a != nil && a.AuthorName == v.Login
}

// NeedsFork reports whether an edit of a by v must go to v's own branch
// instead of being written in place. The write view signals this to the
// editor as "branch_article".
func NeedsFork(v Viewer, a *model.Article) bool {
	return !(Owns(v, a) && CanEdit(v, a.Branch))
}

// SaveRequest is a submitted edit, already unwrapped from the HTTP form.
type SaveRequest struct {
	Title   string
	Path    string // empty for a brand-new article
	Content string
	SHA     string // version the editor started from
}

// Plan describes the single repository write that carries out a save.
type Plan struct {
	Op           Operation
	Path         string
	Branch       string // branch the write lands on
	SourceBranch string // branch a fork is taken from; empty otherwise
	ExpectedSHA  string // current version the write must replace; empty for new files
	Message      string // commit message
}

// PlanSave decides how a save is carried out.
//
//	path empty                          → OpCreate on the viewer's branch
//	path given, viewer owns + may edit  → OpUpdate in place, guarded by req.SHA
//	path given, otherwise               → OpFork onto the viewer's branch
//
// existing is the article currently stored at (req.Path, branch) and must
// be non-nil whenever req.Path is set. For OpCreate the returned Path is
// the undeduplicated slug path; for OpFork ExpectedSHA is left empty
// because it depends on what the viewer's branch already holds.
func PlanSave(v Viewer, req SaveRequest, existing *model.Article) (Plan, error) {
	if !v.Authenticated() {
		return Plan{}, apperror.Unauthenticated("saving requires a logged in user")
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return Plan{}, apperror.ValidationFailed("title", "article title is required")
	}

	if strings.TrimSpace(req.Path) == "" {
		return Plan{
			Op:      OpCreate,
			Path:    SlugPath(title),
			Branch:  v.Login,
			Message: "New article " + title,
		}, nil
	}

	if existing == nil {
		return Plan{}, apperror.NotFound("article", req.Path)
	}

	message := "Updates to " + title

	if !NeedsFork(v, existing) {
		return Plan{
			Op:          OpUpdate,
			Path:        existing.Path,
			Branch:      existing.Branch,
			ExpectedSHA: req.SHA,
			Message:     message,
		}, nil
	}

	return Plan{
		Op:           OpFork,
		Path:         existing.Path,
		Branch:       v.Login,
		SourceBranch: existing.Branch,
		Message:      message,
	}, nil
}
