package content

import (
	"bytes"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sakif/pskb/internal/model"
)

// Articles are stored as markdown with a YAML front matter block:
//
//	---
//	title: Intro
//	author_name: alice
//	---
//	hello
//
// Files without front matter are still readable; they get a title from
// their file name and no author, so every editor forks them.

const fence = "---\n"

type frontMatter struct {
	Title      string `yaml:"title"`
	AuthorName string `yaml:"author_name"`
}

// Encode renders an article into the stored file format.
func Encode(a model.Article) ([]byte, error) {
	header, err := yaml.Marshal(frontMatter{Title: a.Title, AuthorName: a.AuthorName})
	if err != nil {
		return nil, fmt.Errorf("content: encoding front matter for %s: %w", a.Path, err)
	}

	var buf bytes.Buffer
	buf.WriteString(fence)
	buf.Write(header)
	buf.WriteString(fence)
	buf.WriteString(a.Content)
	return buf.Bytes(), nil
}

// Decode parses a stored file. path, branch and sha come from the
// repository, not from the file.
func Decode(raw []byte, filePath, branch, sha string) (*model.Article, error) {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")

	article := &model.Article{
		Path:    filePath,
		Branch:  branch,
		SHA:     sha,
		Content: text,
		Title:   titleFromPath(filePath),
	}

	if !strings.HasPrefix(text, fence) {
		return article, nil
	}
	rest := text[len(fence):]

	var header, body string
	switch {
	case strings.HasPrefix(rest, fence):
		body = rest[len(fence):]
	default:
		end := strings.Index(rest, "\n"+fence)
		if end < 0 {
			// An unterminated fence is body text, not metadata.
			return article, nil
		}
		header = rest[:end+1]
		body = rest[end+1+len(fence):]
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return nil, fmt.Errorf("content: decoding front matter of %s@%s: %w", filePath, branch, err)
	}

	article.Content = body
	article.AuthorName = fm.AuthorName
	if fm.Title != "" {
		article.Title = fm.Title
	}
	return article, nil
}

// titleFromPath turns "notes/getting-started.md" into "getting started".
func titleFromPath(p string) string {
	name := strings.TrimSuffix(path.Base(p), path.Ext(p))
	return strings.ReplaceAll(name, "-", " ")
}
