package models

import (
	"regexp"
	"strings"
)

// MaxSlugLength matches organizations.slug VARCHAR(90).
const MaxSlugLength = 90

// slugSpace is every rune treated as whitespace. RE2's \s covers only
// ASCII, so the Unicode spaces and BOM are listed explicitly.
const slugSpace = `\s\v\x{00A0}\x{1680}\x{2000}-\x{200A}\x{2028}\x{2029}\x{202F}\x{205F}\x{3000}\x{FEFF}`

var (
	slugStrip    = regexp.MustCompile(`[^\w` + slugSpace + `-]`)
	slugCollapse = regexp.MustCompile(`[` + slugSpace + `_-]+`)
)

// Slugify derives the URL-safe organization slug: lower-cased, characters
// other than ASCII letters, digits, underscore, whitespace and hyphen removed,
// runs of whitespace/underscore/hyphen collapsed to one hyphen, outer hyphens
// trimmed, then cut to MaxSlugLength bytes.
//
// Non-ASCII letters are stripped, so "São Paulo" becomes "so-paulo", while
// Unicode spaces such as NBSP separate words like an ASCII space.
func Slugify(name string) string {
	s := strings.ToLower(name)
	s = slugStrip.ReplaceAllString(s, "")
	s = slugCollapse.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > MaxSlugLength {
		s = s[:MaxSlugLength]
	}
	return s
}
