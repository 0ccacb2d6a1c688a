// Package githubrepo keeps articles in a GitHub repository, talking to the
// REST API with the signed-in user's OAuth token. Commits therefore land as
// that user.
//
// ENDPOINTS USED:
//   - GET  /repos/{owner}/{repo}/contents/{path}?ref={branch}  read one file
//   - PUT  /repos/{owner}/{repo}/contents/{path}               commit one file
//   - GET  /repos/{owner}/{repo}/git/ref/heads/{branch}        branch lookup
//   - POST /repos/{owner}/{repo}/git/refs                      branch creation
//   - GET  /repos/{owner}/{repo}/git/trees/{branch}?recursive=1  listing
//
// GitHub docs: https://docs.github.com/en/rest/repos/contents
package githubrepo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/pskb/internal/apperror"
	"github.com/sakif/pskb/internal/content"
	"github.com/sakif/pskb/internal/model"
)

// DefaultAPIBase is the public GitHub REST endpoint.
const DefaultAPIBase = "https://api.github.com"

const requestTimeout = 15 * time.Second

// Client is a content.Source for one owner/repo pair.
type Client struct {
	apiBase string
	owner   string
	repo    string
	base    *http.Client
}

var _ content.Source = (*Client)(nil)

// New creates a Client. An empty apiBase means DefaultAPIBase.
func New(apiBase, owner, repo string) *Client {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Client{
		apiBase: strings.TrimRight(apiBase, "/"),
		owner:   owner,
		repo:    repo,
		base:    &http.Client{Timeout: requestTimeout},
	}
}

// Repository returns a view of the repository acting as the token's owner.
// Without a token requests go out anonymously, which is enough for reading
// public repositories.
func (c *Client) Repository(token string) content.Repository {
	if token == "" {
		return &repository{Client: c, http: c.base}
	}
	// oauth2.NewClient reuses the transport of the client stored under
	// oauth2.HTTPClient and adds the Authorization header.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.base)
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	hc.Timeout = requestTimeout
	return &repository{Client: c, http: hc}
}

type repository struct {
	*Client
	http *http.Client
}

// =========================================================================
// WIRE TYPES
// =========================================================================

type fileResponse struct {
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type committer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type putRequest struct {
	Message   string     `json:"message"`
	Content   string     `json:"content"`
	SHA       string     `json:"sha,omitempty"`
	Branch    string     `json:"branch"`
	Committer *committer `json:"committer,omitempty"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

type refResponse struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type createRefRequest struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

type treeResponse struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

// apiError is a non-2xx answer from GitHub.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("github returned %d: %s", e.Status, e.Message)
}

func statusOf(err error) int {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

// =========================================================================
// content.Repository
// =========================================================================

func (r *repository) Read(ctx context.Context, path, branch string) (*model.Article, error) {
	var file fileResponse
	err := r.do(ctx, http.MethodGet, r.contentsURL(path, branch), nil, &file)
	switch statusOf(err) {
	case 0:
		if err != nil {
			return nil, apperror.Upstream("github read", err.Error())
		}
	case http.StatusNotFound:
		return nil, apperror.NotFound("article", path+"@"+branch)
	default:
		return nil, apperror.Upstream("github read", err.Error())
	}

	raw, err := decodeContent(file)
	if err != nil {
		return nil, apperror.Upstream("github read", err.Error())
	}
	return content.Decode(raw, path, branch, file.SHA)
}

func (r *repository) Exists(ctx context.Context, path, branch string) (bool, error) {
	err := r.do(ctx, http.MethodGet, r.contentsURL(path, branch), nil, nil)
	switch statusOf(err) {
	case 0:
		if err != nil {
			return false, apperror.Upstream("github stat", err.Error())
		}
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, apperror.Upstream("github stat", err.Error())
	}
}

func (r *repository) Write(ctx context.Context, req content.WriteRequest) (string, error) {
	a := req.Article
	payload, err := content.Encode(a)
	if err != nil {
		return "", err
	}

	body := putRequest{
		Message: req.Message,
		Content: base64.StdEncoding.EncodeToString(payload),
		SHA:     req.ExpectedSHA,
		Branch:  a.Branch,
	}
	if req.Committer.Login != "" {
		body.Committer = &committer{Name: req.Committer.DisplayName(), Email: req.Committer.CommitEmail()}
	}

	var out putResponse
	err = r.do(ctx, http.MethodPut, r.contentsURL(a.Path, ""), body, &out)
	switch statusOf(err) {
	case 0:
		if err != nil {
			return "", apperror.Upstream("github write", err.Error())
		}
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// 409: sha does not match; 422: sha missing for an existing file.
		return "", apperror.Conflict("article", a.Ref())
	case http.StatusNotFound:
		return "", apperror.NotFound("branch", a.Branch)
	case http.StatusUnauthorized:
		return "", apperror.Unauthenticated("github rejected the access token")
	default:
		return "", apperror.Upstream("github write", err.Error())
	}
	if out.Content.SHA == "" {
		return "", apperror.Upstream("github write", "response carried no content sha")
	}
	return out.Content.SHA, nil
}

func (r *repository) EnsureBranch(ctx context.Context, branch, from string) error {
	_, err := r.refSHA(ctx, branch)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return err
	}

	sha, err := r.refSHA(ctx, from)
	if err != nil {
		return err
	}

	err = r.do(ctx, http.MethodPost, r.repoURL("git/refs"),
		createRefRequest{Ref: "refs/heads/" + branch, SHA: sha}, nil)
	switch statusOf(err) {
	case 0:
		if err != nil {
			return apperror.Upstream("github create branch", err.Error())
		}
		return nil
	case http.StatusUnprocessableEntity:
		// "Reference already exists": another request created it first.
		return nil
	default:
		return apperror.Upstream("github create branch", err.Error())
	}
}

func (r *repository) List(ctx context.Context, branch string, limit int) ([]model.Article, error) {
	var tree treeResponse
	u := r.repoURL("git/trees/"+url.PathEscape(branch)) + "?recursive=1"
	err := r.do(ctx, http.MethodGet, u, nil, &tree)
	switch statusOf(err) {
	case 0:
		if err != nil {
			return nil, apperror.Upstream("github list", err.Error())
		}
	case http.StatusNotFound:
		return nil, apperror.NotFound("branch", branch)
	default:
		return nil, apperror.Upstream("github list", err.Error())
	}

	var articles []model.Article
	for _, entry := range tree.Tree {
		if entry.Type != "blob" || !content.IsArticlePath(entry.Path) {
			continue
		}
		a, err := r.Read(ctx, entry.Path, branch)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
		if limit > 0 && len(articles) >= limit {
			break
		}
	}
	return articles, nil
}

// =========================================================================
// HELPERS
// =========================================================================

func (r *repository) refSHA(ctx context.Context, branch string) (string, error) {
	var ref refResponse
	err := r.do(ctx, http.MethodGet, r.repoURL("git/ref/heads/"+url.PathEscape(branch)), nil, &ref)
	switch statusOf(err) {
	case 0:
		if err != nil {
			return "", apperror.Upstream("github ref", err.Error())
		}
		return ref.Object.SHA, nil
	case http.StatusNotFound:
		return "", apperror.NotFound("branch", branch)
	default:
		return "", apperror.Upstream("github ref", err.Error())
	}
}

func (c *Client) repoURL(suffix string) string {
	return fmt.Sprintf("%s/repos/%s/%s/%s", c.apiBase, url.PathEscape(c.owner), url.PathEscape(c.repo), suffix)
}

// contentsURL escapes each path segment so "notes/a b.md" keeps its slash.
func (c *Client) contentsURL(path, ref string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	u := c.repoURL("contents/" + strings.Join(segments, "/"))
	if ref != "" {
		u += "?ref=" + url.QueryEscape(ref)
	}
	return u
}

// do sends one API request. A non-2xx answer becomes *apiError; a 2xx
// body is decoded into out when out is non-nil.
func (r *repository) do(ctx context.Context, method, u string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&msg)
		return &apiError{Status: resp.StatusCode, Message: msg.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}

// decodeContent unpacks the base64 payload GitHub wraps at 60 columns.
func decodeContent(f fileResponse) ([]byte, error) {
	if f.Encoding != "" && f.Encoding != "base64" {
		return nil, fmt.Errorf("unsupported content encoding %q for %s", f.Encoding, f.Path)
	}
	clean := strings.NewReplacer("\n", "", "\r", "").Replace(f.Content)
	raw, err := base64.StdEncoding.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("decoding content of %s: %w", f.Path, err)
	}
	return raw, nil
}
