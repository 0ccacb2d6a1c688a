package workflow

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	maxSlugLength  = 64
	articleExt     = ".md"
	fallbackSlug   = "article"
	maxDedupSuffix = 100
)

// Slugify turns a title into a path-safe slug.
//
// Rule: decompose (NFKD) and drop combining marks so "Café" becomes
// "cafe", lowercase ASCII letters and digits are kept, every run of
// anything else becomes a single "-", leading/trailing "-" are trimmed,
// and the result is cut to 64 bytes. An empty result becomes "article".
func Slugify(title string) string {
	var b strings.Builder
	pendingDash := false

	for _, r := range norm.NFKD.String(title) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(unicode.ToLower(r))
		default:
			pendingDash = true
		}
	}

	slug := b.String()
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	if slug == "" {
		return fallbackSlug
	}
	return slug
}

// SlugPath is the file path a new article with this title is stored at,
// before collision handling.
func SlugPath(title string) string {
	return Slugify(title) + articleExt
}

// DedupPath returns the first of base, base-2, base-3, ... that taken
// reports as free. The suffix goes before the extension:
// "intro.md" → "intro-2.md".
func DedupPath(base string, taken func(path string) (bool, error)) (string, error) {
	stem := strings.TrimSuffix(base, articleExt)

	for n := 1; n <= maxDedupSuffix; n++ {
		candidate := base
		if n > 1 {
			candidate = fmt.Sprintf("%s-%d%s", stem, n, articleExt)
		}
		used, err := taken(candidate)
		if err != nil {
			return "", fmt.Errorf("checking path %s: %w", candidate, err)
		}
		if !used {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free path for %s after %d attempts", base, maxDedupSuffix)
}
