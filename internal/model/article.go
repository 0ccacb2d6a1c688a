// Package model defines the data structures used throughout the application.
package model

// MasterBranch is the canonical, published line of the article corpus.
// Every other branch is a user's working line named after their login.
const MasterBranch = "master"

// Article is a markdown document stored as a file in the content
// repository. It is identified by (Path, Branch) and is never cached:
// every read reconstructs it from the repository.
//
// SHA is the content-addressed version of the stored file. It doubles as
// the optimistic-concurrency token for writes; it is empty for articles
// that have not been stored yet.
type Article struct {
	Path       string `json:"path"`
	Branch     string `json:"branch"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	AuthorName string `json:"author_name"` // login owning this copy of the article
	SHA        string `json:"sha"`
}

// Ref returns "path@branch", used in log lines and error ids.
func (a *Article) Ref() string {
	return a.Path + "@" + a.Branch
}
